package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
	"github.com/kyaraben/kyaraben/internal/store"
	"github.com/kyaraben/kyaraben/internal/worker"
)

// readSourceUpload reads the multipart "file" field as UTF-8 text. Test
// sources are stored in the database, not on a volume.
func readSourceUpload(r *http.Request) (filename, content string, err error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", errors.New(`missing form field "file"`)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", "", err
	}
	if !utf8.Valid(data) {
		return "", "", errors.New("not utf8 or binary file")
	}
	return header.Filename, string(data), nil
}

func (h *Handler) testsourceUpload(w http.ResponseWriter, r *http.Request) {
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

	filename, content, err := readSourceUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	testsourceID := newEntityID()
	if err := h.Store.TestsourceInsert(ctx, testsourceID, project.ProjectID, filename, content); err != nil {
		storeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"testsource_id": testsourceID})
}

func (h *Handler) testsourceUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	testsource, err := h.Store.TestsourceGet(ctx, user, chi.URLParam(r, "testsource_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	filename, content, err := readSourceUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Store.TestsourceUpdate(ctx, testsource.TestsourceID, filename, content); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) testsourceDelete(w http.ResponseWriter, r *http.Request) {
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
	testsource, err := h.Store.TestsourceGet(ctx, user, chi.URLParam(r, "testsource_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	// A compiled apk goes down with its source.
	if testsource.APKID != "" {
		if err := h.Store.SetStatus(ctx, store.RefAPK, testsource.APKID, domain.StatusDeleting, ""); err == nil {
			err = h.Broker.Publish(ctx, worker.TaskAPKDelete, worker.APKDeletePayload{
				UserID:    user,
				ProjectID: project.ProjectID,
				APKID:     testsource.APKID,
			}, 0)
			if err != nil {
				storeError(w, err)
				return
			}
		}
	}

	if err := h.Store.TestsourceDelete(ctx, user, testsource.TestsourceID); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) testsourceList(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	testsources, err := h.Store.TestsourceList(r.Context(), user, chi.URLParam(r, "project_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	if testsources == nil {
		testsources = []domain.Testsource{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"testsources": testsources})
}

func (h *Handler) testsourceDownload(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	testsource, err := h.Store.TestsourceGet(ctx, user, chi.URLParam(r, "testsource_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	content, err := h.Store.TestsourceContent(ctx, testsource.TestsourceID)
	if err != nil {
		storeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, content)
}

func (h *Handler) testsourceMetadata(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	testsource, err := h.Store.TestsourceGet(r.Context(), user, chi.URLParam(r, "testsource_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"testsource": testsource})
}

func (h *Handler) testsourceCompile(w http.ResponseWriter, r *http.Request) {
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
	testsource, err := h.Store.TestsourceGet(ctx, user, chi.URLParam(r, "testsource_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	// Recompiles reuse the existing apk slot.
	apkID := testsource.APKID
	if apkID == "" {
		apkID = newEntityID()
		basename := strings.TrimSuffix(testsource.Filename, ".dsl")
		err = h.Store.APKInsert(ctx, apkID, project.ProjectID,
			basename+".apk", domain.StatusQueued)
		if err != nil {
			storeError(w, err)
			return
		}
		if err := h.Store.TestsourceSetAPK(ctx, testsource.TestsourceID, apkID); err != nil {
			storeError(w, err)
			return
		}
	} else {
		if err := h.Store.SetStatus(ctx, store.RefAPK, apkID, domain.StatusQueued, ""); err != nil {
			storeError(w, err)
			return
		}
	}

	err = h.Broker.Publish(ctx, worker.TaskTestsourceCompile, worker.TestsourceCompilePayload{
		UserID:       user,
		ProjectID:    project.ProjectID,
		TestsourceID: testsource.TestsourceID,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"apk_id": apkID})
}
