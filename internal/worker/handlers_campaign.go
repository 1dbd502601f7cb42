package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kyaraben/kyaraben/internal/docker"
	"github.com/kyaraben/kyaraben/internal/domain"
	"github.com/kyaraben/kyaraben/internal/pkg/crypto"
	"github.com/kyaraben/kyaraben/internal/store"
)

func newEntityID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (w *Worker) campaignRun(ctx context.Context, log *slog.Logger, body []byte) error {
	var p CampaignRunPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.ProjectGet(ctx, p.UserID, p.ProjectID); err != nil {
		return fmt.Errorf("project %s for user %s: %w", p.ProjectID, p.UserID, err)
	}
	if _, err := w.store.CampaignGet(ctx, p.UserID, p.CampaignID); err != nil {
		return err
	}

	if err := w.store.CampaignSetStatus(ctx, p.CampaignID, domain.StatusRunning); err != nil {
		return err
	}

	testrunIDs, err := w.store.CampaignTestruns(ctx, p.CampaignID)
	if err != nil {
		return err
	}

	log.Info("campaign started", "campaign_id", p.CampaignID, "testruns", len(testrunIDs))

	for _, testrunID := range testrunIDs {
		run, err := w.store.TestrunGet(ctx, testrunID)
		if err != nil {
			return err
		}
		err = w.broker.Publish(ctx, TaskCampaignAVMCreate, CampaignAVMCreatePayload{
			UserID:     p.UserID,
			ProjectID:  p.ProjectID,
			CampaignID: p.CampaignID,
			TestrunID:  run.TestrunID,
			Image:      run.Image,
			HWConfig:   run.HWConfig,
			APKIDs:     run.APKIDs,
			Packages:   run.Packages,
		}, 0)
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) campaignAVMCreate(ctx context.Context, log *slog.Logger, body []byte) error {
	var p CampaignAVMCreatePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.CampaignGet(ctx, p.UserID, p.CampaignID); err != nil {
		return err
	}

	// Campaign VMs draw from the async quota; over quota the task waits
	// until an earlier testrun tears down.
	_, async, err := w.store.QuotaUsage(ctx, p.UserID)
	if err != nil {
		return err
	}
	if async >= w.cfg.Quota.VMAsyncMax {
		return Delay("user %s is at the async VM quota (%d)", p.UserID, async)
	}

	avmID := newEntityID()
	vncSecret := crypto.GeneratePassword(128, crypto.HexChars)

	err = w.store.AVMInsert(ctx, domain.AVM{
		AVMID:     avmID,
		AVMName:   fmt.Sprintf("campaign-%.8s", p.CampaignID),
		UIDOwner:  p.UserID,
		ProjectID: p.ProjectID,
		Image:     p.Image,
		HWConfig:  p.HWConfig,
		TestrunID: p.TestrunID,
	}, vncSecret)
	if err != nil {
		return err
	}

	log.Info("campaign avm allocated", "avm_id", avmID, "testrun_id", p.TestrunID)

	amqpUser := avmID
	amqpPassword := crypto.GeneratePassword(32, crypto.PasswordChars)
	if err := w.avmAMQPConfigCreate(ctx, log, avmID, amqpUser, amqpPassword); err != nil {
		return err
	}

	stackName, stackID, androidVersion, err := w.stackCreateForAVM(ctx, p.UserID, avmID, p.Image)
	if err != nil {
		return err
	}

	return w.broker.Publish(ctx, TaskCampaignContainersCreate, CampaignContainersCreatePayload{
		UserID:         p.UserID,
		ProjectID:      p.ProjectID,
		CampaignID:     p.CampaignID,
		TestrunID:      p.TestrunID,
		AVMID:          avmID,
		HWConfig:       p.HWConfig,
		AMQPUser:       amqpUser,
		AMQPPassword:   amqpPassword,
		AndroidVersion: androidVersion,
		StackName:      stackName,
		StackID:        stackID,
		APKIDs:         p.APKIDs,
		Packages:       p.Packages,
		VNCSecret:      vncSecret,
	}, 0)
}

func (w *Worker) campaignContainersCreate(ctx context.Context, log *slog.Logger, body []byte) error {
	var p CampaignContainersCreatePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.AVMGet(ctx, p.UserID, p.AVMID); err != nil {
		return fmt.Errorf("avm %s for user %s: %w", p.AVMID, p.UserID, err)
	}

	err := w.playerUpFromStack(ctx, AVMContainersCreatePayload{
		UserID:         p.UserID,
		ProjectID:      p.ProjectID,
		AVMID:          p.AVMID,
		HWConfig:       p.HWConfig,
		AMQPUser:       p.AMQPUser,
		AMQPPassword:   p.AMQPPassword,
		AndroidVersion: p.AndroidVersion,
		StackName:      p.StackName,
		StackID:        p.StackID,
		VNCSecret:      p.VNCSecret,
	})
	if err != nil {
		return err
	}

	return w.broker.Publish(ctx, TaskCampaignRuntest, CampaignRuntestPayload{
		UserID:     p.UserID,
		ProjectID:  p.ProjectID,
		CampaignID: p.CampaignID,
		AVMID:      p.AVMID,
		StackName:  p.StackName,
		TestrunID:  p.TestrunID,
		APKIDs:     p.APKIDs,
		Packages:   p.Packages,
	}, 0)
}

// probeBootCompleted asks the Android runtime whether boot finished. The adb
// bridge itself may not be reachable yet; that reads as not booted too.
func (w *Worker) probeBootCompleted(ctx context.Context, avmID string) error {
	result, err := w.docker.Exec(ctx, docker.AdbContainer(avmID),
		"adb", "shell", "getprop", "sys.boot_completed")
	if err != nil {
		return Delay("adb not reachable on %s yet", avmID)
	}
	if result.Out() != "1" {
		return Delay("%s has not finished booting", avmID)
	}
	return nil
}

func (w *Worker) campaignRuntest(ctx context.Context, log *slog.Logger, body []byte) error {
	var p CampaignRuntestPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	avm, err := w.store.AVMGet(ctx, p.UserID, p.AVMID)
	if err != nil {
		return fmt.Errorf("avm %s for user %s: %w", p.AVMID, p.UserID, err)
	}

	if err := w.probeBootCompleted(ctx, p.AVMID); err != nil {
		return err
	}

	for _, apkID := range p.APKIDs {
		apk, err := w.store.APKGet(ctx, p.UserID, apkID)
		if err != nil {
			return err
		}
		commandID := newEntityID()
		if err := w.store.CommandInsert(ctx, commandID, p.AVMID, ""); err != nil {
			return err
		}
		if err := w.store.TestrunSetAPKCommand(ctx, p.TestrunID, apkID, commandID); err != nil {
			return err
		}
		if err := w.installAPK(ctx, log, p.AVMID, apkID, commandID, apk.Package); err != nil {
			return err
		}
	}

	packages := p.Packages
	if len(packages) == 0 {
		result, err := w.docker.Exec(ctx, docker.AdbContainer(p.AVMID),
			"adb", "shell", "pm", "list", "instrumentation")
		if err != nil {
			return err
		}
		packages, err = ParseInstrumentation(result.OutLines())
		if err != nil {
			return err
		}
		log.Info("discovered instrumentation packages", "packages", packages)
		for _, pkg := range packages {
			if err := w.store.TestrunAddPackage(ctx, p.TestrunID, pkg); err != nil {
				return err
			}
		}
	}

	for _, pkg := range packages {
		commandID := newEntityID()
		if err := w.store.CommandInsert(ctx, commandID, p.AVMID, ""); err != nil {
			return err
		}
		if err := w.store.TestrunSetPackageCommand(ctx, p.TestrunID, pkg, commandID); err != nil {
			return err
		}
		if _, err := w.runCommand(ctx, p.AVMID, commandID,
			[]string{"adb", "shell", "am", "instrument", "-r", "-w", pkg}); err != nil {
			return err
		}
		if err := w.store.SetStatus(ctx, store.RefCommand, commandID, domain.StatusReady, ""); err != nil {
			return err
		}
	}

	// The testrun VM has served its purpose whatever the test outcomes.
	if err := w.teardownAVM(ctx, log, p.AVMID, avm.ProjectID, p.StackName); err != nil {
		return err
	}

	statuses, err := w.store.CampaignCommandStatuses(ctx, p.CampaignID)
	if err != nil {
		return err
	}
	for _, status := range statuses {
		if status != domain.StatusReady {
			return nil
		}
	}

	log.Info("campaign finished", "campaign_id", p.CampaignID)
	return w.store.CampaignSetStatus(ctx, p.CampaignID, domain.StatusReady)
}

func (w *Worker) campaignDelete(ctx context.Context, log *slog.Logger, body []byte) error {
	var p CampaignDeletePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.CampaignGet(ctx, p.UserID, p.CampaignID); err != nil {
		return err
	}

	resources, err := w.store.CampaignResources(ctx, p.CampaignID)
	if err != nil {
		return err
	}

	for _, r := range resources {
		log.Info("tearing down campaign avm", "avm_id", r.AVMID)
		err := w.broker.Publish(ctx, TaskAVMDelete, AVMDeletePayload{
			UserID:    p.UserID,
			AVMID:     r.AVMID,
			StackName: r.StackName,
		}, 0)
		if err != nil {
			return err
		}
		if err := w.store.SetStatus(ctx, store.RefAVM, r.AVMID, domain.StatusDeleting, ""); err != nil {
			return err
		}
	}

	return w.store.CampaignSetStatus(ctx, p.CampaignID, domain.StatusDeleted)
}
