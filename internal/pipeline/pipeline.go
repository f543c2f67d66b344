// Package pipeline drives one generation job end to end: tracker transitions,
// the backend call, persistence, the WebSocket broadcast, and the downstream
// republish.
package pipeline

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ngqkhai/script-generator/internal/errs"
	"github.com/ngqkhai/script-generator/internal/event"
	"github.com/ngqkhai/script-generator/internal/gemini"
	"github.com/ngqkhai/script-generator/internal/job"
	"github.com/ngqkhai/script-generator/internal/logging"
	"github.com/ngqkhai/script-generator/internal/metrics"
	"github.com/ngqkhai/script-generator/internal/registry"
	"github.com/ngqkhai/script-generator/internal/script"
	"github.com/ngqkhai/script-generator/internal/store"
)

// EventPublisher republishes the result to downstream consumers. The broker
// gateway implements it; tests substitute a recorder.
type EventPublisher interface {
	PublishScriptGenerated(ctx context.Context, evt event.ScriptGenerated) error
}

// Notification is the frame pushed to sessions watching the collection.
type Notification struct {
	Type         string `json:"type"`
	CollectionID string `json:"collection_id"`
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
}

// Request is one unit of pipeline work.
type Request struct {
	JobID        string
	CollectionID string
	SourceType   string
	SourceName   string
	Script       script.Request
}

type Pipeline struct {
	tracker   *job.Tracker
	store     store.DocumentStore
	generator gemini.Generator
	registry  *registry.Registry
	publisher EventPublisher
	log       logging.ServiceLogger
	metrics   *metrics.Metrics
}

func New(
	tracker *job.Tracker,
	docs store.DocumentStore,
	generator gemini.Generator,
	reg *registry.Registry,
	publisher EventPublisher,
	log logging.ServiceLogger,
	m *metrics.Metrics,
) *Pipeline {
	return &Pipeline{
		tracker:   tracker,
		store:     docs,
		generator: generator,
		registry:  reg,
		publisher: publisher,
		log:       log,
		metrics:   m,
	}
}

// Run executes the job and never returns an error: job-level failures are
// recorded as Failed status so the broker handler that invoked us still
// acknowledges the event. The pipeline is the sole writer for its job id.
func (p *Pipeline) Run(ctx context.Context, req Request) {
	ctx, span := otel.Tracer("scriptgen.pipeline").Start(ctx, "GenerateScript")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("collection.id", req.CollectionID),
	)

	log := p.log.With(logging.LogFields{
		"job_id":        req.JobID,
		"collection_id": req.CollectionID,
	})

	if err := p.tracker.Create(req.JobID); err != nil && !errors.Is(err, errs.ErrDuplicateJob) {
		log.Error("job create failed", err, nil)
		return
	}
	p.transition(log, req.JobID, job.StatusProcessing, 0.1, "")

	doc, err := p.generator.Generate(ctx, req.Script)
	if err != nil {
		p.fail(log, req.JobID, err)
		return
	}
	p.transition(log, req.JobID, job.StatusFinalizing, 0.8, "")

	doc.ID = req.JobID
	if _, err := p.store.Insert(ctx, doc); err != nil {
		p.fail(log, req.JobID, err)
		return
	}
	p.transition(log, req.JobID, job.StatusCompleted, 1.0, "")
	p.metrics.IncJobsCompleted()
	log.Info("job completed", nil)

	// Everything past this point is best effort: the job is done and its
	// status is authoritative, the push channel and the republish are not.
	if req.CollectionID != "" {
		delivered := p.registry.Broadcast(req.CollectionID, Notification{
			Type:         "script_generated",
			CollectionID: req.CollectionID,
			JobID:        req.JobID,
			Status:       string(job.StatusCompleted),
		})
		if delivered == 0 {
			p.metrics.IncBroadcastsMissed()
			log.Info("no sessions received completion notification", nil)
		} else {
			p.metrics.AddBroadcastsDelivered(delivered)
		}
	}

	outbound := event.ScriptGenerated{
		JobID:        req.JobID,
		CollectionID: req.CollectionID,
		SourceType:   req.SourceType,
		SourceName:   req.SourceName,
		Script:       doc,
	}
	if err := p.publisher.PublishScriptGenerated(ctx, outbound); err != nil {
		log.Error("outbound publish failed", err, nil)
	}
}

func (p *Pipeline) fail(log logging.ServiceLogger, jobID string, cause error) {
	log.Error("job failed", cause, nil)
	p.transition(log, jobID, job.StatusFailed, 0, cause.Error())
	p.metrics.IncJobsFailed()
}

func (p *Pipeline) transition(log logging.ServiceLogger, jobID string, status job.Status, progress float64, errMsg string) {
	if err := p.tracker.Transition(jobID, status, progress, errMsg); err != nil {
		// Only possible if the job was deleted mid-run; nothing left to update.
		log.Error("job transition failed", err, logging.LogFields{"status": status})
	}
}
