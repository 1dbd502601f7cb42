package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kyaraben/kyaraben/internal/novnc"
)

func (h *Handler) imageList(w http.ResponseWriter, r *http.Request) {
	images, err := h.Store.ImageList(r.Context())
	if err != nil {
		storeError(w, err)
		return
	}

	// Only the user-facing catalog fields; glance image names stay private.
	type image struct {
		Image          string `json:"image"`
		AndroidVersion string `json:"android_version"`
	}
	out := make([]image, 0, len(images))
	for _, img := range images {
		out = append(out, image{Image: img.Image, AndroidVersion: img.AndroidVersion})
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": out})
}

func (h *Handler) userQuota(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	live, async, err := h.Store.QuotaUsage(r.Context(), user)
	if err != nil {
		storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"quota": map[string]int{
			"vm_live_max":      h.Cfg.Quota.VMLiveMax,
			"vm_live_current":  live,
			"vm_async_max":     h.Cfg.Quota.VMAsyncMax,
			"vm_async_current": async,
		},
	})
}

func (h *Handler) userWhoami(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{"userid": user},
	})
}

// gatewayPorts reports where the console streams of an AVM are published.
// The xorg container carries the VNC screen, ffserver the audio.
func (h *Handler) gatewayPorts(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	avm, err := h.Store.AVMGet(ctx, user, chi.URLParam(r, "avm_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	screenPort, err := h.Docker.InspectPort(ctx, avm.AVMID+"_xorg", "5900/tcp")
	if err != nil {
		storeError(w, err)
		return
	}
	soundPort, err := h.Docker.InspectPort(ctx, avm.AVMID+"_ffserver", "8090/tcp")
	if err != nil {
		storeError(w, err)
		return
	}

	console := novnc.Console{
		Host:       h.Cfg.Orchestration.NoVNCHost,
		ScreenPort: screenPort,
		SoundPort:  soundPort,
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"avm": map[string]string{
			"avm_id":      avm.AVMID,
			"host":        console.Host,
			"screen_port": console.ScreenPort,
			"sound_port":  console.SoundPort,
			"url":         console.URL(),
		},
	})
}
