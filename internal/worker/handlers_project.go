package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/kyaraben/kyaraben/internal/docker"
	"github.com/kyaraben/kyaraben/internal/domain"
	"github.com/kyaraben/kyaraben/internal/store"
)

func (w *Worker) projectContainerCreate(ctx context.Context, log *slog.Logger, body []byte) error {
	var p ProjectContainerCreatePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.ProjectGet(ctx, p.UserID, p.ProjectID); err != nil {
		return fmt.Errorf("project %s for user %s: %w", p.ProjectID, p.UserID, err)
	}

	if err := w.store.SetStatus(ctx, store.RefProject, p.ProjectID, domain.StatusCreating, ""); err != nil {
		return err
	}

	if err := w.docker.ProjectUp(ctx, p.ProjectID); err != nil {
		return err
	}

	if err := w.store.SetStatus(ctx, store.RefProject, p.ProjectID, domain.StatusReady, ""); err != nil {
		return err
	}

	log.Info("project ready", "project_id", p.ProjectID)
	return nil
}

func (w *Worker) projectContainerDelete(ctx context.Context, log *slog.Logger, body []byte) error {
	var p ProjectContainerDeletePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.ProjectGet(ctx, p.UserID, p.ProjectID); err != nil {
		return fmt.Errorf("project %s for user %s: %w", p.ProjectID, p.UserID, err)
	}

	deletable, reason, err := w.store.ProjectDeletable(ctx, p.ProjectID)
	if err != nil {
		return err
	}
	if !deletable {
		return fmt.Errorf("cannot delete project: %s", reason)
	}

	if err := w.docker.ProjectDown(ctx, p.ProjectID); err != nil {
		return err
	}

	log.Info("deleting project", "project_id", p.ProjectID)
	return w.store.SetStatus(ctx, store.RefProject, p.ProjectID, domain.StatusDeleted, "")
}

func (w *Worker) cameraUpload(ctx context.Context, log *slog.Logger, body []byte) error {
	var p CameraUploadPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.ProjectGet(ctx, p.UserID, p.ProjectID); err != nil {
		return fmt.Errorf("project %s for user %s: %w", p.ProjectID, p.UserID, err)
	}
	if _, err := w.store.CameraGet(ctx, p.UserID, p.CameraID); err != nil {
		return err
	}

	log.Info("uploading camera file", "filename", p.Filename)

	content, err := os.ReadFile(p.TmpPath)
	if err != nil {
		return fmt.Errorf("read staged upload: %w", err)
	}

	_, err = w.docker.ExecStdin(ctx, docker.PrjContainer(p.ProjectID), content,
		"/root/video_create.sh", p.Filename, w.cfg.CameraPath(p.CameraID))
	if err != nil {
		return err
	}

	if err := w.store.SetStatus(ctx, store.RefCamera, p.CameraID, domain.StatusReady, ""); err != nil {
		return err
	}

	log.Info("removing staged upload", "tmppath", p.TmpPath)
	return os.Remove(p.TmpPath)
}

func (w *Worker) cameraDelete(ctx context.Context, log *slog.Logger, body []byte) error {
	var p CameraDeletePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.ProjectGet(ctx, p.UserID, p.ProjectID); err != nil {
		return fmt.Errorf("project %s for user %s: %w", p.ProjectID, p.UserID, err)
	}

	log.Info("deleting camera file", "camera_id", p.CameraID)

	_, err := w.docker.Exec(ctx, docker.PrjContainer(p.ProjectID),
		"rm", "-f", w.cfg.CameraPath(p.CameraID))
	if err != nil {
		return err
	}

	return w.store.SetStatus(ctx, store.RefCamera, p.CameraID, domain.StatusDeleted, "")
}

func (w *Worker) apkUpload(ctx context.Context, log *slog.Logger, body []byte) error {
	var p APKUploadPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.ProjectGet(ctx, p.UserID, p.ProjectID); err != nil {
		return fmt.Errorf("project %s for user %s: %w", p.ProjectID, p.UserID, err)
	}
	if _, err := w.store.APKGet(ctx, p.UserID, p.APKID); err != nil {
		return err
	}

	log.Info("uploading apk", "filename", p.Filename)

	apkPath := w.cfg.APKPath(p.APKID)
	prj := docker.PrjContainer(p.ProjectID)

	if _, err := w.docker.Docker(ctx, "cp", p.TmpPath, prj+":"+apkPath); err != nil {
		return err
	}
	// readable to the adb containers of other compose groups
	if _, err := w.docker.Exec(ctx, prj, "chmod", "644", apkPath); err != nil {
		return err
	}

	if err := w.store.SetStatus(ctx, store.RefAPK, p.APKID, domain.StatusReady, ""); err != nil {
		return err
	}

	log.Info("removing staged upload", "tmppath", p.TmpPath)
	return os.Remove(p.TmpPath)
}

func (w *Worker) apkDelete(ctx context.Context, log *slog.Logger, body []byte) error {
	var p APKDeletePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.ProjectGet(ctx, p.UserID, p.ProjectID); err != nil {
		return fmt.Errorf("project %s for user %s: %w", p.ProjectID, p.UserID, err)
	}

	log.Info("deleting apk", "apk_id", p.APKID)

	_, err := w.docker.Exec(ctx, docker.PrjContainer(p.ProjectID),
		"rm", "-f", w.cfg.APKPath(p.APKID))
	if err != nil {
		return err
	}

	if err := w.store.APKUnlinkTestsources(ctx, p.APKID); err != nil {
		return err
	}

	return w.store.SetStatus(ctx, store.RefAPK, p.APKID, domain.StatusDeleted, "")
}
