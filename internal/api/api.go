// Package api is the HTTP surface of the orchestrator. Handlers stay thin:
// validate, check permissions through the store, record the entity, publish
// the task, answer 201/202. The worker does the rest.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kyaraben/kyaraben/internal/broker"
	"github.com/kyaraben/kyaraben/internal/config"
	"github.com/kyaraben/kyaraben/internal/docker"
	"github.com/kyaraben/kyaraben/internal/logging"
	"github.com/kyaraben/kyaraben/internal/store"
)

// HeaderUser carries the authenticated user id, set by the fronting proxy.
const HeaderUser = "X-Kyaraben-User"

// Handler holds the collaborators of the HTTP layer.
type Handler struct {
	Cfg    *config.Config
	Store  *store.Store
	Broker *broker.Broker
	Docker *docker.Client
}

// Router builds the route table.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/images", h.imageList)
	r.Get("/user/quota", h.userQuota)
	r.Get("/user/whoami", h.userWhoami)
	r.Get("/gateway/android/{avm_id}/ports", h.gatewayPorts)

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.projectList)
		r.Post("/", h.projectCreate)
		r.Get("/{project_id}", h.projectShow)
		r.Put("/{project_id}", h.projectUpdate)
		r.Delete("/{project_id}", h.projectDelete)

		r.Route("/{project_id}/apk", func(r chi.Router) {
			r.Get("/", h.apkList)
			r.Post("/", h.apkUpload)
			r.Get("/{apk_id}", h.apkShow)
			r.Delete("/{apk_id}", h.apkDelete)
		})

		r.Route("/{project_id}/camera", func(r chi.Router) {
			r.Get("/", h.cameraList)
			r.Post("/", h.cameraUpload)
			r.Delete("/{camera_file_id}", h.cameraDelete)
		})

		r.Route("/{project_id}/testsources", func(r chi.Router) {
			r.Get("/", h.testsourceList)
			r.Post("/", h.testsourceUpload)
			r.Get("/{testsource_id}", h.testsourceDownload)
			r.Put("/{testsource_id}", h.testsourceUpdate)
			r.Delete("/{testsource_id}", h.testsourceDelete)
			r.Get("/{testsource_id}/metadata", h.testsourceMetadata)
			r.Post("/{testsource_id}/apk", h.testsourceCompile)
		})

		r.Route("/{project_id}/campaigns", func(r chi.Router) {
			r.Get("/", h.campaignList)
			r.Post("/", h.campaignRun)
			r.Get("/{campaign_id}", h.campaignShow)
			r.Delete("/{campaign_id}", h.campaignDelete)
		})
	})

	r.Route("/android", func(r chi.Router) {
		r.Get("/", h.avmList)
		r.Post("/", h.avmCreate)
		r.Get("/{avm_id}", h.avmShow)
		r.Put("/{avm_id}", h.avmUpdate)
		r.Delete("/{avm_id}", h.avmDelete)
		r.Get("/{avm_id}/properties", h.avmProperties)
		r.Get("/{avm_id}/totp", h.avmTOTP)
		r.Post("/{avm_id}/monkey", h.avmMonkey)
		r.Get("/{avm_id}/command/{command_id}", h.avmCommandStatus)
		r.Post("/{avm_id}/testrun", h.avmTestRun)
		r.Get("/{avm_id}/testrun", h.avmTestList)
		r.Get("/{avm_id}/apk", h.avmPackageList)
		r.Post("/{avm_id}/apk/{apk_id}", h.avmAPKInstall)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Op().Debug("http request",
			"method", r.Method, "path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// userid extracts the authenticated user. An empty header is a 401; the
// handlers never run without one.
func userid(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := r.Header.Get(HeaderUser)
	if user == "" {
		http.Error(w, "missing "+HeaderUser+" header", http.StatusUnauthorized)
		return "", false
	}
	return user, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Op().Error("encode response", "error", err)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// storeError maps store failures onto status codes. Permission denial reads
// as not-found on purpose.
func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	logging.Op().Error("store error", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// saveUpload stages the multipart "file" field into the media tempdir and
// returns its filename and temp path. The worker removes the staged file.
func (h *Handler) saveUpload(r *http.Request) (filename, tmppath string, err error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", fmt.Errorf(`missing form field "file"`)
	}
	defer file.Close()

	tmp, err := os.CreateTemp(h.Cfg.Media.Tempdir, "upload")
	if err != nil {
		return "", "", fmt.Errorf("stage upload: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		os.Remove(tmp.Name())
		return "", "", fmt.Errorf("stage upload: %w", err)
	}
	return header.Filename, tmp.Name(), nil
}
