package api

import (
	"net/http"
	"path/filepath"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
	"github.com/kyaraben/kyaraben/internal/store"
	"github.com/kyaraben/kyaraben/internal/worker"
)

// The filename reaches a shell script inside the project container; only
// plain extensions are allowed through.
var filenameExtRE = regexp.MustCompile(`^\.[a-zA-Z0-9_-]+$`)

func (h *Handler) cameraUpload(w http.ResponseWriter, r *http.Request) {
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

	if !filenameExtRE.MatchString(filepath.Ext(filename)) {
		http.Error(w, "file extension not supported: "+filename, http.StatusBadRequest)
		return
	}

	cameraID := newEntityID()
	if err := h.Store.CameraInsert(ctx, cameraID, project.ProjectID, filename); err != nil {
		storeError(w, err)
		return
	}

	err = h.Broker.Publish(ctx, worker.TaskCameraUpload, worker.CameraUploadPayload{
		UserID:    user,
		ProjectID: project.ProjectID,
		CameraID:  cameraID,
		Filename:  filename,
		TmpPath:   tmppath,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"camera_file_id": cameraID})
}

func (h *Handler) cameraDelete(w http.ResponseWriter, r *http.Request) {
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
	camera, err := h.Store.CameraGet(ctx, user, chi.URLParam(r, "camera_file_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	err = h.Broker.Publish(ctx, worker.TaskCameraDelete, worker.CameraDeletePayload{
		UserID:    user,
		ProjectID: project.ProjectID,
		CameraID:  camera.CameraID,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	if err := h.Store.SetStatus(ctx, store.RefCamera, camera.CameraID, domain.StatusDeleting, ""); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cameraList(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	cameras, err := h.Store.CameraList(r.Context(), user, chi.URLParam(r, "project_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	if cameras == nil {
		cameras = []domain.Camera{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"camera_files": cameras})
}
