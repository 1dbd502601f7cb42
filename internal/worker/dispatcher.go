package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kyaraben/kyaraben/internal/amqpadmin"
	"github.com/kyaraben/kyaraben/internal/broker"
	"github.com/kyaraben/kyaraben/internal/config"
	"github.com/kyaraben/kyaraben/internal/docker"
	"github.com/kyaraben/kyaraben/internal/heat"
	"github.com/kyaraben/kyaraben/internal/logging"
	"github.com/kyaraben/kyaraben/internal/metrics"
	"github.com/kyaraben/kyaraben/internal/store"
)

type handlerFunc func(ctx context.Context, log *slog.Logger, body []byte) error

// Worker dispatches consumed task messages to their handlers.
type Worker struct {
	cfg      *config.Config
	store    *store.Store
	broker   *broker.Broker
	admin    *amqpadmin.Client
	heat     *heat.Client
	docker   *docker.Client
	handlers map[string]handlerFunc
}

// New wires a worker against its collaborators.
func New(cfg *config.Config, st *store.Store, bk *broker.Broker,
	admin *amqpadmin.Client, hc *heat.Client, dc *docker.Client) *Worker {

	w := &Worker{
		cfg:    cfg,
		store:  st,
		broker: bk,
		admin:  admin,
		heat:   hc,
		docker: dc,
	}
	w.handlers = map[string]handlerFunc{
		TaskProjectContainerCreate:   w.projectContainerCreate,
		TaskProjectContainerDelete:   w.projectContainerDelete,
		TaskAVMCreate:                w.avmCreate,
		TaskAVMContainersCreate:      w.avmContainersCreate,
		TaskAVMDelete:                w.avmDelete,
		TaskAVMMonkey:                w.avmMonkey,
		TaskAVMTestRun:               w.avmTestRun,
		TaskCameraUpload:             w.cameraUpload,
		TaskCameraDelete:             w.cameraDelete,
		TaskAPKUpload:                w.apkUpload,
		TaskAPKDelete:                w.apkDelete,
		TaskAPKInstall:               w.apkInstall,
		TaskTestsourceCompile:        w.testsourceCompile,
		TaskCampaignRun:              w.campaignRun,
		TaskCampaignAVMCreate:        w.campaignAVMCreate,
		TaskCampaignContainersCreate: w.campaignContainersCreate,
		TaskCampaignRuntest:          w.campaignRuntest,
		TaskCampaignDelete:           w.campaignDelete,
	}
	return w
}

// Run consumes the work queue until the context is cancelled or the broker
// channel closes.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.broker.Consume()
	if err != nil {
		return err
	}

	logging.Op().Info("worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("broker channel closed")
			}
			w.handle(ctx, d)
		}
	}
}

// payloadIDs is the subset of payload fields the dispatcher itself needs:
// the entity IDs for the obsolescence check and for error projection.
type payloadIDs struct {
	ProjectID string `json:"project_id"`
	AVMID     string `json:"avm_id"`
	APKID     string `json:"apk_id"`
	CameraID  string `json:"camera_id"`
	CommandID string `json:"command_id"`
}

// obsolescenceRefs pairs each checked payload field with its entity table.
// Commands are deliberately absent: they have no DELETED state.
func obsolescenceRefs(ids payloadIDs) []struct {
	ref store.Ref
	id  string
} {
	return []struct {
		ref store.Ref
		id  string
	}{
		{store.RefProject, ids.ProjectID},
		{store.RefAVM, ids.AVMID},
		{store.RefAPK, ids.APKID},
		{store.RefCamera, ids.CameraID},
	}
}

// projectionOrder is the error projection priority: the most specific
// entity present in the payload receives the failure reason.
func projectionOrder(ids payloadIDs) []struct {
	ref store.Ref
	id  string
} {
	return []struct {
		ref store.Ref
		id  string
	}{
		{store.RefCommand, ids.CommandID},
		{store.RefAPK, ids.APKID},
		{store.RefCamera, ids.CameraID},
		{store.RefAVM, ids.AVMID},
		{store.RefProject, ids.ProjectID},
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	task, _ := d.Headers[broker.HeaderTask].(string)
	log := logging.Op().With(
		"delivery_tag", d.DeliveryTag,
		"message_id", d.MessageId,
		"task", task)

	handler, ok := w.handlers[task]
	if !ok {
		log.Error("unknown task")
		metrics.TasksFailed.WithLabelValues(task).Inc()
		if err := d.Nack(false, false); err != nil {
			log.Error("nack failed", "error", err)
		}
		return
	}

	var ids payloadIDs
	if err := json.Unmarshal(d.Body, &ids); err != nil {
		log.Error("undecodable payload", "error", err)
		metrics.TasksFailed.WithLabelValues(task).Inc()
		if err := d.Nack(false, false); err != nil {
			log.Error("nack failed", "error", err)
		}
		return
	}

	obsolete, err := w.isObsolete(ctx, ids)
	if err != nil {
		log.Error("obsolescence check failed", "error", err)
		if err := d.Nack(false, false); err != nil {
			log.Error("nack failed", "error", err)
		}
		return
	}
	if obsolete {
		log.Info("target entity deleted, dropping task")
		if err := d.Ack(false); err != nil {
			log.Error("ack failed", "error", err)
		}
		return
	}

	start := time.Now()
	taskErr := handler(ctx, log, d.Body)
	metrics.TaskDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())

	if taskErr == nil {
		log.Info("task completed")
		metrics.TasksCompleted.WithLabelValues(task).Inc()
		if err := d.Ack(false); err != nil {
			log.Error("ack failed", "error", err)
		}
		return
	}

	var delayErr *DelayError
	if errors.As(taskErr, &delayErr) {
		log.Info("task delayed", "reason", delayErr.Reason)
		metrics.TasksDelayed.WithLabelValues(task).Inc()
		if err := w.broker.Publish(ctx, task, json.RawMessage(d.Body), w.cfg.Worker.HeatPoll()); err != nil {
			log.Error("delayed republish failed", "error", err)
			if err := d.Nack(false, false); err != nil {
				log.Error("nack failed", "error", err)
			}
			return
		}
		if err := d.Ack(false); err != nil {
			log.Error("ack failed", "error", err)
		}
		return
	}

	metrics.TasksFailed.WithLabelValues(task).Inc()

	// Image-not-found and VM-not-found are permanent conditions, not
	// worth dead-lettering: project the reason and move on.
	if reason, permanent := classifyPermanent(taskErr, ids); permanent {
		log.Warn("task failed permanently", "reason", reason)
		w.projectError(ctx, log, ids, reason)
		if err := d.Ack(false); err != nil {
			log.Error("ack failed", "error", err)
		}
		return
	}

	log.Error("task failed", "error", taskErr)
	if w.projectError(ctx, log, ids, taskErr.Error()) {
		if err := d.Ack(false); err != nil {
			log.Error("ack failed", "error", err)
		}
		return
	}
	if err := d.Nack(false, false); err != nil {
		log.Error("nack failed", "error", err)
	}
}

func (w *Worker) isObsolete(ctx context.Context, ids payloadIDs) (bool, error) {
	for _, check := range obsolescenceRefs(ids) {
		if check.id == "" {
			continue
		}
		deleted, err := w.store.IsDeleted(ctx, check.ref, check.id)
		if err != nil {
			return false, err
		}
		if deleted {
			return true, nil
		}
	}
	return false, nil
}

// classifyPermanent maps the typed Heat errors to human-readable reasons.
func classifyPermanent(err error, ids payloadIDs) (string, bool) {
	var imgErr *heat.AVMImageNotFoundError
	if errors.As(err, &imgErr) {
		return "Image " + imgErr.Image + " not found", true
	}
	var nfErr *heat.AVMNotFoundError
	if errors.As(err, &nfErr) {
		return "VM " + ids.AVMID + " not found", true
	}
	return "", false
}

// projectError marks the most specific entity in the payload as failed.
// Returns false when the payload carries no projectable ID.
func (w *Worker) projectError(ctx context.Context, log *slog.Logger, ids payloadIDs, reason string) bool {
	for _, target := range projectionOrder(ids) {
		if target.id == "" {
			continue
		}
		if err := w.store.SetError(ctx, target.ref, target.id, reason); err != nil {
			log.Error("error projection failed",
				"table", target.ref.Table, "id", target.id, "error", err)
			continue
		}
		log.Info("error projected",
			"table", target.ref.Table, "id", target.id, "reason", reason)
		return true
	}
	return false
}
