package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jobagent/orchestrator/internal/domain"
	"github.com/jobagent/orchestrator/internal/observability"
)

// Maintenance periodically recovers Applications stuck in SUBMITTING whose
// worker heartbeat has gone silent. It schedules its own recovery pass on a
// cron.Cron running an "@every" entry rather than waiting on an external
// trigger.
type Maintenance struct {
	Applications domain.ApplicationRepository
	Queue        domain.Queue
	Intake       *Intake
	StaleAfter   time.Duration
	Interval     time.Duration
	MaxAttempts  int
}

// NewMaintenance constructs a Maintenance sweeper with sane defaults.
func NewMaintenance(apps domain.ApplicationRepository, q domain.Queue, intake *Intake, staleAfter, interval time.Duration, maxAttempts int) *Maintenance {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Maintenance{
		Applications: apps,
		Queue:        q,
		Intake:       intake,
		StaleAfter:   staleAfter,
		Interval:     interval,
		MaxAttempts:  maxAttempts,
	}
}

// Run schedules sweepOnce on a cron.Cron "@every" entry and blocks until ctx
// is canceled, sweeping once immediately rather than waiting for the first
// tick.
func (m *Maintenance) Run(ctx context.Context) {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", m.Interval), func() { m.sweepOnce(ctx) })
	if err != nil {
		slog.Error("maintenance failed to schedule sweep; falling back to a single pass", slog.Any("error", err))
		m.sweepOnce(ctx)
		<-ctx.Done()
		return
	}

	m.sweepOnce(ctx)
	c.Start()
	defer func() { <-c.Stop().Done() }()

	<-ctx.Done()
	slog.Info("maintenance sweeper stopping")
}

func (m *Maintenance) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("dispatcher.maintenance")
	ctx, span := tracer.Start(ctx, "Maintenance.sweepOnce")
	defer span.End()
	observability.RecordLoopIteration("maintenance")

	cutoff := time.Now().Add(-m.StaleAfter)
	stuck, err := m.Applications.ListStuckSubmitting(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("maintenance sweep failed to list stuck applications", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int("applications.stuck_count", len(stuck)))

	if len(stuck) == 0 {
		return
	}

	if alive, err := m.heartbeatAlive(ctx); err != nil {
		span.RecordError(err)
		slog.Error("maintenance failed to read automation heartbeat", slog.Any("error", err))
		return
	} else if alive {
		return
	}

	for _, a := range stuck {
		m.recoverStuck(ctx, a)
	}
}

// heartbeatAlive reports whether a recent heartbeat from the automation
// worker pool was observed, meaning the stuck applications are still being
// actively worked rather than abandoned.
func (m *Maintenance) heartbeatAlive(ctx context.Context) (bool, error) {
	_, ok, err := m.Queue.LastHeartbeat(ctx, "automation")
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (m *Maintenance) recoverStuck(ctx context.Context, a *domain.Application) {
	tracer := otel.Tracer("dispatcher.maintenance")
	ctx, span := tracer.Start(ctx, "Maintenance.recoverStuck")
	defer span.End()
	span.SetAttributes(attribute.Int64("application.id", a.ID))

	msg := "worker lost"
	err := m.Applications.ApplyTransition(ctx, a.ID, domain.EventWorkerLost, func(app *domain.Application) error {
		app.ErrorMessage = &msg
		app.QueueTaskID = nil
		return nil
	})
	if err != nil {
		span.RecordError(err)
		slog.Error("maintenance failed to mark worker_lost", slog.Int64("application_id", a.ID), slog.Any("error", err))
		observability.RecordStuckRecovery("transition_failed")
		return
	}

	if a.Attempts >= m.MaxAttempts {
		slog.Info("application exceeded attempt budget; not retrying", slog.Int64("application_id", a.ID), slog.Int("attempts", a.Attempts))
		observability.RecordStuckRecovery("budget_exhausted")
		return
	}

	// EventRetryFromError commits SUBMITTING with queue_task_id still nil;
	// the republish below runs in its own transaction a moment later. A
	// crash in between leaves a SUBMITTING row with no queue task. The
	// stale-SUBMITTING scan picks it back up only once its updated_at is
	// older than StaleAfter and no "automation" heartbeat is present; while
	// a worker keeps heartbeating, the row stays SUBMITTING.
	if err := m.Applications.ApplyTransition(ctx, a.ID, domain.EventRetryFromError, nil); err != nil {
		slog.Error("maintenance failed to retry from error", slog.Int64("application_id", a.ID), slog.Any("error", err))
		observability.RecordStuckRecovery("retry_transition_failed")
		return
	}

	if _, err := m.Intake.Trigger(ctx, a.ProfileID, a.RoleID); err != nil {
		slog.Error("maintenance retry republish failed", slog.Int64("application_id", a.ID), slog.Any("error", err))
		observability.RecordStuckRecovery("republish_failed")
		return
	}
	observability.RecordStuckRecovery("recovered")
}
