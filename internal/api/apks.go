package api

import (
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
	"github.com/kyaraben/kyaraben/internal/proc"
	"github.com/kyaraben/kyaraben/internal/store"
	"github.com/kyaraben/kyaraben/internal/worker"
)

var badgingPackageRE = regexp.MustCompile(`^package:.* name='(?P<package>.*?)'`)

// apkPackageName extracts the Android package name from an apk file via
// aapt. A file aapt cannot read is not an apk.
func apkPackageName(r *http.Request, tmppath string) (string, error) {
	result, err := proc.Run(r.Context(), []string{"aapt", "dump", "badging", tmppath}, nil)
	if err != nil {
		return "", err
	}
	for _, line := range result.OutLines() {
		if m := badgingPackageRE.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
	}
	return "", nil
}

func (h *Handler) apkUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	project, err := h.Store.ProjectGet(ctx, user, chi.URLParam(r, "project_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	filename, tmppath, err := h.saveUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pkg, err := apkPackageName(r, tmppath)
	if err != nil {
		http.Error(w, "file is not a valid apk", http.StatusBadRequest)
		return
	}

	apkID := newEntityID()
	if err := h.Store.APKInsert(ctx, apkID, project.ProjectID, filename, domain.StatusQueued); err != nil {
		storeError(w, err)
		return
	}
	if pkg != "" {
		if err := h.Store.APKSetPackage(ctx, apkID, pkg); err != nil {
			storeError(w, err)
			return
		}
	}

	err = h.Broker.Publish(ctx, worker.TaskAPKUpload, worker.APKUploadPayload{
		UserID:    user,
		ProjectID: project.ProjectID,
		APKID:     apkID,
		Filename:  filename,
		TmpPath:   tmppath,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"apk_id": apkID})
}

func (h *Handler) apkDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	project, err := h.Store.ProjectGet(ctx, user, chi.URLParam(r, "project_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	apk, err := h.Store.APKGet(ctx, user, chi.URLParam(r, "apk_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	err = h.Broker.Publish(ctx, worker.TaskAPKDelete, worker.APKDeletePayload{
		UserID:    user,
		ProjectID: project.ProjectID,
		APKID:     apk.APKID,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	if err := h.Store.SetStatus(ctx, store.RefAPK, apk.APKID, domain.StatusDeleting, ""); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apkList(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	apks, err := h.Store.APKList(r.Context(), user, chi.URLParam(r, "project_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	if apks == nil {
		apks = []domain.APK{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"apks": apks})
}

func (h *Handler) apkShow(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	apk, err := h.Store.APKGet(r.Context(), user, chi.URLParam(r, "apk_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"apk": apk})
}
