package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kyaraben/kyaraben/internal/amqpadmin"
	"github.com/kyaraben/kyaraben/internal/docker"
	"github.com/kyaraben/kyaraben/internal/domain"
	"github.com/kyaraben/kyaraben/internal/heat"
	"github.com/kyaraben/kyaraben/internal/pkg/crypto"
	"github.com/kyaraben/kyaraben/internal/proc"
	"github.com/kyaraben/kyaraben/internal/store"
)

// avmAMQPConfigCreate declares the per-AVM event queues and provisions the
// broker user the player authenticates as.
func (w *Worker) avmAMQPConfigCreate(ctx context.Context, log *slog.Logger, avmID, amqpUser, amqpPassword string) error {
	if err := w.broker.CreateEventQueues(avmID); err != nil {
		return err
	}

	if err := w.admin.CreateUser(ctx, amqpUser, amqpPassword); err != nil {
		return fmt.Errorf("create AMQP user: %w", err)
	}

	if err := w.admin.SetUserPermissions(ctx, "/", amqpUser, avmID); err != nil {
		return fmt.Errorf("assign AMQP permissions: %w", err)
	}
	return nil
}

// avmAMQPConfigDelete removes the event queues and the broker user,
// tolerating a user that is already gone.
func (w *Worker) avmAMQPConfigDelete(ctx context.Context, log *slog.Logger, avmID string) error {
	if err := w.broker.DeleteEventQueues(avmID); err != nil {
		return err
	}

	if err := w.admin.DeleteUser(ctx, avmID); err != nil {
		var restErr *amqpadmin.RestError
		if errors.As(err, &restErr) && restErr.IsNotFound() {
			log.Warn("AMQP user already removed", "username", avmID)
			return nil
		}
		return fmt.Errorf("remove AMQP user %s: %w", avmID, err)
	}
	return nil
}

// stackCreateForAVM runs the shared Heat submission of both the interactive
// and the campaign create paths: derive and persist the stack name, resolve
// the image, submit the stack.
func (w *Worker) stackCreateForAVM(ctx context.Context, userid, avmID, image string) (stackName, stackID, androidVersion string, err error) {
	stackName = NewStackName(w.cfg.Orchestration.StackPrefix, userid, avmID)

	if err := w.store.AVMSetStackName(ctx, avmID, stackName); err != nil {
		return "", "", "", err
	}

	img, err := w.store.ImageGet(ctx, image)
	if err != nil {
		return "", "", "", err
	}

	stackID, err = w.heat.StackCreate(ctx, stackName, map[string]string{
		"system_image": img.SystemImage,
		"data_image":   img.DataImage,
		// floating_net is only used by developer stack templates
		"floating_net": w.cfg.OpenStack.FloatingNet,
	}, w.cfg.OpenStack.Template)
	if err != nil {
		return "", "", "", err
	}

	return stackName, stackID, img.AndroidVersion, nil
}

func (w *Worker) avmCreate(ctx context.Context, log *slog.Logger, body []byte) error {
	var p AVMCreatePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.AVMGet(ctx, p.UserID, p.AVMID); err != nil {
		return fmt.Errorf("avm %s for user %s: %w", p.AVMID, p.UserID, err)
	}

	if err := w.store.SetStatus(ctx, store.RefAVM, p.AVMID, domain.StatusCreating, ""); err != nil {
		return err
	}

	amqpUser := p.AVMID
	amqpPassword := crypto.GeneratePassword(32, crypto.PasswordChars)

	if err := w.avmAMQPConfigCreate(ctx, log, p.AVMID, amqpUser, amqpPassword); err != nil {
		return err
	}

	stackName, stackID, androidVersion, err := w.stackCreateForAVM(ctx, p.UserID, p.AVMID, p.Image)
	if err != nil {
		return err
	}

	return w.broker.Publish(ctx, TaskAVMContainersCreate, AVMContainersCreatePayload{
		UserID:         p.UserID,
		ProjectID:      p.ProjectID,
		AVMID:          p.AVMID,
		HWConfig:       p.HWConfig,
		AMQPUser:       amqpUser,
		AMQPPassword:   amqpPassword,
		AndroidVersion: androidVersion,
		StackName:      stackName,
		StackID:        stackID,
		VNCSecret:      p.VNCSecret,
	}, 0)
}

// playerUpFromStack polls the stack output and brings up the player
// containers once the instance address is known.
func (w *Worker) playerUpFromStack(ctx context.Context, p AVMContainersCreatePayload) error {
	output, err := w.heat.StackOutput(ctx, p.StackName, p.StackID)
	if err != nil {
		return err
	}
	if output == nil || output["instance_ip"] == "" {
		return Delay("stack_output for %s not ready", p.StackName)
	}

	if err := w.docker.PlayerUp(ctx, docker.PlayerEnv{
		ProjectID:      p.ProjectID,
		AVMID:          p.AVMID,
		InstanceIP:     output["instance_ip"],
		HWConfig:       p.HWConfig,
		AMQPHost:       w.cfg.AMQP.Hostname,
		AMQPUser:       p.AMQPUser,
		AMQPPassword:   p.AMQPPassword,
		AndroidVersion: p.AndroidVersion,
		VNCSecret:      p.VNCSecret,
	}); err != nil {
		return err
	}

	if err := w.store.BillingOpen(ctx, p.AVMID); err != nil {
		return err
	}

	return w.store.SetStatus(ctx, store.RefAVM, p.AVMID, domain.StatusReady, "")
}

func (w *Worker) avmContainersCreate(ctx context.Context, log *slog.Logger, body []byte) error {
	var p AVMContainersCreatePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.AVMGet(ctx, p.UserID, p.AVMID); err != nil {
		return fmt.Errorf("avm %s for user %s: %w", p.AVMID, p.UserID, err)
	}

	return w.playerUpFromStack(ctx, p)
}

// teardownAVM reverses everything avm_create and avm_containers_create set
// up. Partially-created VMs tear down the same way; each step tolerates the
// resource being absent.
func (w *Worker) teardownAVM(ctx context.Context, log *slog.Logger, avmID, projectID, stackName string) error {
	if err := w.docker.PlayerDown(ctx, projectID, avmID); err != nil {
		return err
	}

	if err := w.store.BillingClose(ctx, avmID); err != nil {
		return err
	}

	if err := w.avmAMQPConfigDelete(ctx, log, avmID); err != nil {
		return err
	}

	if stackName != "" {
		if err := w.heat.StackDelete(ctx, stackName); err != nil {
			var nfErr *heat.AVMNotFoundError
			if !errors.As(err, &nfErr) {
				return err
			}
			log.Warn("stack already removed", "stack_name", stackName)
		}
	}

	return w.store.SetStatus(ctx, store.RefAVM, avmID, domain.StatusDeleted, "")
}

func (w *Worker) avmDelete(ctx context.Context, log *slog.Logger, body []byte) error {
	var p AVMDeletePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	avm, err := w.store.AVMGet(ctx, p.UserID, p.AVMID)
	if err != nil {
		return fmt.Errorf("avm %s for user %s: %w", p.AVMID, p.UserID, err)
	}

	return w.teardownAVM(ctx, log, p.AVMID, avm.ProjectID, p.StackName)
}

// runCommand executes one adb command against the AVM's adb container,
// recording begin/end timestamps and captured output on the command row.
func (w *Worker) runCommand(ctx context.Context, avmID, commandID string, args []string) (*proc.Result, error) {
	if err := w.store.CommandBegin(ctx, commandID, proc.QuotedCmdline(args...)); err != nil {
		return nil, err
	}

	result, err := w.docker.Exec(ctx, docker.AdbContainer(avmID), args...)
	if err != nil {
		var procErr *proc.ProcessError
		if errors.As(err, &procErr) {
			// the command ran and failed; record its output
			result = procErr.Proc
		} else {
			return nil, err
		}
	}

	if err := w.store.CommandFinish(ctx, commandID, result.Status, result.Out(), result.Err()); err != nil {
		return nil, err
	}
	return result, nil
}

// installAPK force-reinstalls one APK on the VM, recording the command.
// The returned error is non-nil when the installer did not report Success.
func (w *Worker) installAPK(ctx context.Context, log *slog.Logger, avmID, apkID, commandID, packageName string) error {
	adb := docker.AdbContainer(avmID)

	// force uninstall, in case of changed signature
	if packageName != "" {
		if _, err := w.docker.Exec(ctx, adb, "adb", "shell", "pm", "uninstall", packageName); err != nil {
			var procErr *proc.ProcessError
			if !errors.As(err, &procErr) {
				return err
			}
		}
	}

	if _, err := w.docker.Exec(ctx, adb,
		"adb", "shell", "settings", "put", "global", "install_non_market_apps", "1"); err != nil {
		return err
	}
	if _, err := w.docker.Exec(ctx, adb,
		"adb", "shell", "settings", "put", "global", "package_verifier_enable", "0"); err != nil {
		return err
	}

	result, err := w.runCommand(ctx, avmID, commandID,
		[]string{"adb", "install", "-r", w.cfg.APKPath(apkID)})
	if err != nil {
		return err
	}

	if !strings.Contains(result.Out(), "Success") {
		return fmt.Errorf("install of apk %s failed", apkID)
	}

	if err := w.store.SetStatus(ctx, store.RefCommand, commandID, domain.StatusReady, ""); err != nil {
		return err
	}

	log.Info("apk installed", "avm_id", avmID, "apk_id", apkID)
	return nil
}

func (w *Worker) apkInstall(ctx context.Context, log *slog.Logger, body []byte) error {
	var p APKInstallPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.AVMGet(ctx, p.UserID, p.AVMID); err != nil {
		return fmt.Errorf("avm %s for user %s: %w", p.AVMID, p.UserID, err)
	}

	apk, err := w.store.APKGet(ctx, p.UserID, p.APKID)
	if err != nil {
		return err
	}

	log.Info("installing apk", "avm_id", p.AVMID, "apk_id", p.APKID)
	return w.installAPK(ctx, log, p.AVMID, p.APKID, p.CommandID, apk.Package)
}

func (w *Worker) avmMonkey(ctx context.Context, log *slog.Logger, body []byte) error {
	var p AVMMonkeyPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.AVMGet(ctx, p.UserID, p.AVMID); err != nil {
		return fmt.Errorf("avm %s for user %s: %w", p.AVMID, p.UserID, err)
	}

	log.Info("monkey", "avm_id", p.AVMID, "packages", p.Packages,
		"event_count", p.EventCount, "throttle", p.Throttle)

	args := []string{"adb", "shell", "monkey"}
	for _, pkg := range p.Packages {
		args = append(args, "-p", pkg)
	}
	if p.Throttle > 0 {
		args = append(args, "--throttle", strconv.Itoa(p.Throttle))
	}
	args = append(args, strconv.Itoa(p.EventCount))

	result, err := w.runCommand(ctx, p.AVMID, p.CommandID, args)
	if err != nil {
		return err
	}

	if err := w.store.SetStatus(ctx, store.RefCommand, p.CommandID, domain.StatusReady, ""); err != nil {
		return err
	}

	log.Info("monkey finished", "status", result.Status)
	return nil
}

func (w *Worker) avmTestRun(ctx context.Context, log *slog.Logger, body []byte) error {
	var p AVMTestRunPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}

	if _, err := w.store.AVMGet(ctx, p.UserID, p.AVMID); err != nil {
		return fmt.Errorf("avm %s for user %s: %w", p.AVMID, p.UserID, err)
	}

	log.Info("test run", "avm_id", p.AVMID, "package", p.Package)

	result, err := w.runCommand(ctx, p.AVMID, p.CommandID,
		[]string{"adb", "shell", "am", "instrument", "-r", "-w", p.Package})
	if err != nil {
		return err
	}

	if err := w.store.SetStatus(ctx, store.RefCommand, p.CommandID, domain.StatusReady, ""); err != nil {
		return err
	}

	log.Info("test run finished", "status", result.Status)
	return nil
}
