package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
	"github.com/kyaraben/kyaraben/internal/worker"
)

const campaignNameMax = 50

func (h *Handler) campaignList(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	campaigns, err := h.Store.CampaignList(r.Context(), user, chi.URLParam(r, "project_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
}

func (h *Handler) campaignRun(w http.ResponseWriter, r *http.Request) {
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

	var req struct {
		CampaignName string                `json:"campaign_name"`
		Tests        []domain.CampaignTest `json:"tests"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.Tests) == 0 {
		http.Error(w, "tests is required", http.StatusBadRequest)
		return
	}

	campaignName := req.CampaignName
	if campaignName == "" {
		campaignName = generateName()
	}
	if len(campaignName) > campaignNameMax {
		http.Error(w, "campaign_name too long (max 50)", http.StatusBadRequest)
		return
	}

	// Validate every referenced apk up front; failing inside the worker
	// would leave a half-run campaign.
	for _, test := range req.Tests {
		for _, apkID := range test.APKs {
			if _, err := h.Store.APKGet(ctx, user, apkID); err != nil {
				storeError(w, err)
				return
			}
		}
	}

	campaignID := newEntityID()
	runs := make([]domain.Testrun, 0, len(req.Tests))
	for _, test := range req.Tests {
		hwconfig := domain.DefaultHWConfig()
		if test.HWConfig != nil {
			hwconfig = *test.HWConfig
		}
		runs = append(runs, domain.Testrun{
			TestrunID:  newEntityID(),
			CampaignID: campaignID,
			Image:      test.Image,
			HWConfig:   hwconfig,
			APKIDs:     test.APKs,
			Packages:   test.Packages,
		})
	}

	err = h.Store.CampaignInsert(ctx, domain.Campaign{
		CampaignID:   campaignID,
		ProjectID:    project.ProjectID,
		CampaignName: campaignName,
	}, runs)
	if err != nil {
		storeError(w, err)
		return
	}

	err = h.Broker.Publish(ctx, worker.TaskCampaignRun, worker.CampaignRunPayload{
		UserID:     user,
		ProjectID:  project.ProjectID,
		CampaignID: campaignID,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"campaign_id": campaignID})
}

func (h *Handler) campaignShow(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	results, err := h.Store.CampaignResults(r.Context(), user, chi.URLParam(r, "campaign_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaign": results})
}

func (h *Handler) campaignDelete(w http.ResponseWriter, r *http.Request) {
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
	campaign, err := h.Store.CampaignGet(ctx, user, chi.URLParam(r, "campaign_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	err = h.Broker.Publish(ctx, worker.TaskCampaignDelete, worker.CampaignDeletePayload{
		UserID:     user,
		ProjectID:  project.ProjectID,
		CampaignID: campaign.CampaignID,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	if err := h.Store.CampaignSetStatus(ctx, campaign.CampaignID, domain.StatusDeleting); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
