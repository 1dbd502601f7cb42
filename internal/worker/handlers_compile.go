package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kyaraben/kyaraben/internal/docker"
	"github.com/kyaraben/kyaraben/internal/domain"
	"github.com/kyaraben/kyaraben/internal/proc"
	"github.com/kyaraben/kyaraben/internal/store"
)

// The compiler toolchain runs as two one-shot containers: dslcc turns the
// DSL source into Java, testcc builds and signs the test APK. Both read
// their input on stdin. The testcc compile script prints the Android
// package name as its last output line.
const (
	dslccImage   = "aic.dslcc"
	dslccScript  = "scripts/compile.sh"
	dslccOutput  = "/home/developer/com.zenika.aicdsl/DslFiles/Testing.java"
	testccImage  = "aic.testcc"
	testccScript = "/home/developer/scripts/compile.sh"
	testccOutput = "/home/developer/signed.apk"
)

func (w *Worker) testsourceCompile(ctx context.Context, log *slog.Logger, body []byte) error {
	var p TestsourceCompilePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.ProjectGet(ctx, p.UserID, p.ProjectID); err != nil {
		return fmt.Errorf("project %s for user %s: %w", p.ProjectID, p.UserID, err)
	}

	testsource, err := w.store.TestsourceGet(ctx, p.UserID, p.TestsourceID)
	if err != nil {
		return err
	}
	if testsource.APKID == "" {
		return fmt.Errorf("testsource %s has no target apk", p.TestsourceID)
	}
	apkID := testsource.APKID

	content, err := w.store.TestsourceContent(ctx, p.TestsourceID)
	if err != nil {
		return err
	}

	if err := w.store.SetStatus(ctx, store.RefAPK, apkID, domain.StatusCompilingDSL, ""); err != nil {
		return err
	}

	dslccContainer := newEntityID()
	_, err = w.docker.Run(ctx, dslccContainer, dslccImage, []byte(content), dslccScript)
	if err != nil {
		var procErr *proc.ProcessError
		if errors.As(err, &procErr) {
			// a DSL error is the user's problem, not a task failure
			if serr := w.store.SetError(ctx, store.RefAPK, apkID, procErr.Proc.Err()); serr != nil {
				return serr
			}
			return w.docker.Remove(ctx, dslccContainer)
		}
		return err
	}

	log.Info("dsl compiled", "container", dslccContainer)

	stagingDir, err := os.MkdirTemp(w.cfg.Media.Tempdir, "dslcc")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	testingJava := filepath.Join(stagingDir, "Testing.java")
	if _, err := w.docker.Docker(ctx, "cp", dslccContainer+":"+dslccOutput, testingJava); err != nil {
		return err
	}
	javaContent, err := os.ReadFile(testingJava)
	if err != nil {
		return fmt.Errorf("read generated source: %w", err)
	}

	if err := w.store.SetStatus(ctx, store.RefAPK, apkID, domain.StatusCompilingJava, ""); err != nil {
		return err
	}

	testccContainer := newEntityID()
	result, err := w.docker.Run(ctx, testccContainer, testccImage, javaContent, testccScript)
	if err != nil {
		var procErr *proc.ProcessError
		if errors.As(err, &procErr) {
			if serr := w.store.SetError(ctx, store.RefAPK, apkID, procErr.Proc.Err()); serr != nil {
				return serr
			}
			if rerr := w.docker.Remove(ctx, dslccContainer); rerr != nil {
				return rerr
			}
			return w.docker.Remove(ctx, testccContainer)
		}
		return err
	}

	outLines := result.OutLines()
	packageName := outLines[len(outLines)-1]

	if err := w.docker.Remove(ctx, dslccContainer); err != nil {
		return err
	}

	err = w.docker.CopyBetween(ctx, testccContainer, testccOutput,
		docker.PrjContainer(p.ProjectID), w.cfg.APKPath(apkID))
	if err != nil {
		return err
	}

	if err := w.store.APKSetPackage(ctx, apkID, packageName); err != nil {
		return err
	}

	if err := w.docker.Remove(ctx, testccContainer); err != nil {
		return err
	}

	log.Info("test apk compiled", "apk_id", apkID, "package", packageName)
	return w.store.SetStatus(ctx, store.RefAPK, apkID, domain.StatusReady, "")
}
