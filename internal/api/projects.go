package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
	"github.com/kyaraben/kyaraben/internal/store"
	"github.com/kyaraben/kyaraben/internal/worker"
)

func (h *Handler) projectList(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	projects, err := h.Store.ProjectList(r.Context(), user)
	if err != nil {
		storeError(w, err)
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (h *Handler) projectShow(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	project, err := h.Store.ProjectGet(r.Context(), user, chi.URLParam(r, "project_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (h *Handler) projectCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	var req struct {
		ProjectName string `json:"project_name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.ProjectName == "" {
		http.Error(w, "project_name is required", http.StatusBadRequest)
		return
	}

	projectID := newEntityID()
	err := h.Store.ProjectInsert(r.Context(), domain.Project{
		ProjectID:   projectID,
		ProjectName: req.ProjectName,
		UIDOwner:    user,
	})
	if err != nil {
		storeError(w, err)
		return
	}

	err = h.Broker.Publish(r.Context(), worker.TaskProjectContainerCreate,
		worker.ProjectContainerCreatePayload{
			UserID:    user,
			ProjectID: projectID,
		}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"project_id": projectID})
}

func (h *Handler) projectUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	var req struct {
		ProjectName string `json:"project_name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.ProjectName == "" {
		http.Error(w, "project_name is required", http.StatusBadRequest)
		return
	}

	err := h.Store.ProjectRename(r.Context(), user, chi.URLParam(r, "project_id"), req.ProjectName)
	if err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) projectDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}
	projectID := chi.URLParam(r, "project_id")
	ctx := r.Context()

	if _, err := h.Store.ProjectGet(ctx, user, projectID); err != nil {
		storeError(w, err)
		return
	}

	deletable, reason, err := h.Store.ProjectDeletable(ctx, projectID)
	if err != nil {
		storeError(w, err)
		return
	}
	if !deletable {
		http.Error(w, reason, http.StatusConflict)
		return
	}

	err = h.Broker.Publish(ctx, worker.TaskProjectContainerDelete,
		worker.ProjectContainerDeletePayload{
			UserID:    user,
			ProjectID: projectID,
		}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	if err := h.Store.SetStatus(ctx, store.RefProject, projectID, domain.StatusDeleting, ""); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
