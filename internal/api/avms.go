package api

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kyaraben/kyaraben/internal/docker"
	"github.com/kyaraben/kyaraben/internal/domain"
	"github.com/kyaraben/kyaraben/internal/pkg/crypto"
	"github.com/kyaraben/kyaraben/internal/store"
	"github.com/kyaraben/kyaraben/internal/worker"
)

func (h *Handler) avmList(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	avms, err := h.Store.AVMList(r.Context(), user, r.URL.Query().Get("project_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	if avms == nil {
		avms = []domain.AVM{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"avms": avms})
}

func (h *Handler) avmShow(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	avm, err := h.Store.AVMGet(r.Context(), user, chi.URLParam(r, "avm_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"avm": avm})
}

func (h *Handler) avmCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req struct {
		ProjectID string           `json:"project_id"`
		Image     string           `json:"image"`
		AVMName   string           `json:"avm_name"`
		HWConfig  *domain.HWConfig `json:"hwconfig"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.ProjectID == "" || req.Image == "" {
		http.Error(w, "project_id and image are required", http.StatusBadRequest)
		return
	}

	hwconfig := domain.DefaultHWConfig()
	if req.HWConfig != nil {
		hwconfig = *req.HWConfig
	}

	project, err := h.Store.ProjectGet(ctx, user, req.ProjectID)
	if err != nil {
		storeError(w, err)
		return
	}

	live, _, err := h.Store.QuotaUsage(ctx, user)
	if err != nil {
		storeError(w, err)
		return
	}
	if max := h.Cfg.Quota.VMLiveMax; max > 0 && live >= max {
		http.Error(w, "too many vms, max allowed is "+strconv.Itoa(max), http.StatusBadRequest)
		return
	}

	if _, err := h.Store.ImageGet(ctx, req.Image); err != nil {
		storeError(w, err)
		return
	}

	avmID := newEntityID()
	avmName := req.AVMName
	if avmName == "" {
		avmName = generateName()
	}
	vncSecret := crypto.GeneratePassword(128, crypto.HexChars)

	err = h.Store.AVMInsert(ctx, domain.AVM{
		AVMID:     avmID,
		AVMName:   avmName,
		UIDOwner:  user,
		ProjectID: project.ProjectID,
		Image:     req.Image,
		HWConfig:  hwconfig,
	}, vncSecret)
	if err != nil {
		storeError(w, err)
		return
	}

	err = h.Broker.Publish(ctx, worker.TaskAVMCreate, worker.AVMCreatePayload{
		UserID:    user,
		ProjectID: project.ProjectID,
		AVMID:     avmID,
		Image:     req.Image,
		HWConfig:  hwconfig,
		VNCSecret: vncSecret,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"avm_id": avmID})
}

func (h *Handler) avmUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	var req struct {
		AVMName string `json:"avm_name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.AVMName == "" {
		http.Error(w, "avm_name is required", http.StatusBadRequest)
		return
	}

	err := h.Store.AVMRename(r.Context(), user, chi.URLParam(r, "avm_id"), req.AVMName)
	if err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) avmDelete(w http.ResponseWriter, r *http.Request) {
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
	if avm.StackName == "" {
		http.Error(w, "vm has no stack yet", http.StatusNotFound)
		return
	}

	err = h.Broker.Publish(ctx, worker.TaskAVMDelete, worker.AVMDeletePayload{
		UserID:    user,
		AVMID:     avm.AVMID,
		StackName: avm.StackName,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	if err := h.Store.SetStatus(ctx, store.RefAVM, avm.AVMID, domain.StatusDeleting, ""); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) avmTOTP(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	secret, err := h.Store.AVMVNCSecret(r.Context(), user, chi.URLParam(r, "avm_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	code, err := crypto.TOTP(secret, time.Now())
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"totp": code})
}

var propertyRE = regexp.MustCompile(`\[(?P<key>[a-zA-Z0-9\-._]+)\]\s*:\s+\[(?P<value>.*)\]`)

func parseProperties(lines []string) map[string]string {
	out := map[string]string{}
	for _, line := range lines {
		m := propertyRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out[m[1]] = m[2]
	}
	return out
}

func (h *Handler) avmProperties(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	avm, err := h.Store.AVMGet(r.Context(), user, chi.URLParam(r, "avm_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	properties := map[string]string{}
	result, err := h.Docker.Exec(r.Context(), docker.AdbContainer(avm.AVMID),
		"adb", "shell", "getprop")
	if err == nil {
		properties = parseProperties(result.OutLines())
	}

	writeJSON(w, http.StatusOK, map[string]any{"properties": properties})
}

// bootComplete asks the runtime whether the VM can accept commands. The
// answer is advisory: the VM may still go away before a task reaches it.
func (h *Handler) bootComplete(r *http.Request, avmID string) bool {
	result, err := h.Docker.Exec(r.Context(), docker.AdbContainer(avmID),
		"adb", "shell", "getprop", "dev.bootcomplete")
	return err == nil && result.Out() == "1"
}

func (h *Handler) avmAPKInstall(w http.ResponseWriter, r *http.Request) {
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
	apk, err := h.Store.APKGet(ctx, user, chi.URLParam(r, "apk_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	if !h.bootComplete(r, avm.AVMID) {
		http.Error(w, "the VM cannot install packages now", http.StatusConflict)
		return
	}

	commandID := newEntityID()
	if err := h.Store.CommandInsert(ctx, commandID, avm.AVMID, ""); err != nil {
		storeError(w, err)
		return
	}

	err = h.Broker.Publish(ctx, worker.TaskAPKInstall, worker.APKInstallPayload{
		UserID:    user,
		ProjectID: avm.ProjectID,
		AVMID:     avm.AVMID,
		APKID:     apk.APKID,
		CommandID: commandID,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"command_id": commandID})
}

func (h *Handler) avmPackageList(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	avm, err := h.Store.AVMGet(r.Context(), user, chi.URLParam(r, "avm_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	result, err := h.Docker.Exec(r.Context(), docker.AdbContainer(avm.AVMID),
		"adb", "shell", "pm", "list", "packages", "-3", "-e")
	if err != nil {
		storeError(w, err)
		return
	}

	packages := []string{}
	for _, line := range result.OutLines() {
		if _, pkg, found := strings.Cut(line, "package:"); found {
			packages = append(packages, pkg)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": packages})
}

func (h *Handler) avmMonkey(w http.ResponseWriter, r *http.Request) {
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

	var req struct {
		Packages   []string `json:"packages"`
		EventCount int      `json:"event_count"`
		Throttle   int      `json:"throttle"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.Packages) == 0 || req.EventCount <= 0 {
		http.Error(w, "packages and event_count are required", http.StatusBadRequest)
		return
	}

	commandID := newEntityID()
	if err := h.Store.CommandInsert(ctx, commandID, avm.AVMID, ""); err != nil {
		storeError(w, err)
		return
	}

	err = h.Broker.Publish(ctx, worker.TaskAVMMonkey, worker.AVMMonkeyPayload{
		UserID:     user,
		AVMID:      avm.AVMID,
		CommandID:  commandID,
		Packages:   req.Packages,
		EventCount: req.EventCount,
		Throttle:   req.Throttle,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"command_id": commandID})
}

func (h *Handler) avmTestRun(w http.ResponseWriter, r *http.Request) {
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

	var req struct {
		Package string `json:"package"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Package == "" {
		http.Error(w, "package is required", http.StatusBadRequest)
		return
	}

	commandID := newEntityID()
	if err := h.Store.CommandInsert(ctx, commandID, avm.AVMID, ""); err != nil {
		storeError(w, err)
		return
	}

	err = h.Broker.Publish(ctx, worker.TaskAVMTestRun, worker.AVMTestRunPayload{
		UserID:    user,
		AVMID:     avm.AVMID,
		Package:   req.Package,
		CommandID: commandID,
	}, 0)
	if err != nil {
		storeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"command_id": commandID})
}

func (h *Handler) avmTestList(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	avm, err := h.Store.AVMGet(r.Context(), user, chi.URLParam(r, "avm_id"))
	if err != nil {
		storeError(w, err)
		return
	}

	result, err := h.Docker.Exec(r.Context(), docker.AdbContainer(avm.AVMID),
		"adb", "shell", "pm", "list", "instrumentation")
	if err != nil {
		storeError(w, err)
		return
	}

	packages, err := worker.ParseInstrumentation(result.OutLines())
	if err != nil {
		storeError(w, err)
		return
	}
	if packages == nil {
		packages = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": packages})
}

func (h *Handler) avmCommandStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := userid(w, r)
	if !ok {
		return
	}

	command, err := h.Store.CommandGet(r.Context(), user, chi.URLParam(r, "command_id"))
	if err != nil {
		storeError(w, err)
		return
	}
	if command.AVMID != chi.URLParam(r, "avm_id") {
		http.Error(w, "command not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": command})
}
