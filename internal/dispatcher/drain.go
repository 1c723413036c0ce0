package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jobagent/orchestrator/internal/domain"
	"github.com/jobagent/orchestrator/internal/observability"
)

// Drain long-polls update_job_status and approval_request and applies the
// resulting Application transitions. A per-application mutex prevents this
// process's own goroutines from racing on the same Application; the
// store's row lock (ApplyTransition) is the cross-process guarantee.
type Drain struct {
	Applications domain.ApplicationRepository
	Queue        domain.Queue
	BlockTimeout time.Duration

	locks sync.Map // map[int64]*sync.Mutex
}

// NewDrain constructs a Drain.
func NewDrain(apps domain.ApplicationRepository, q domain.Queue, blockTimeout time.Duration) *Drain {
	if blockTimeout <= 0 {
		blockTimeout = 3 * time.Second
	}
	return &Drain{Applications: apps, Queue: q, BlockTimeout: blockTimeout}
}

// Run blocks, consuming both queues until ctx is canceled.
func (d *Drain) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); d.drainLoop(ctx, domain.QueueUpdateJobStatus, d.handleUpdateJobStatus) }()
	go func() { defer wg.Done(); d.drainLoop(ctx, domain.QueueApprovalRequest, d.handleApprovalRequest) }()
	wg.Wait()
}

func (d *Drain) drainLoop(ctx context.Context, queue domain.QueueName, handle func(context.Context, domain.TaskPayload) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := d.Queue.Consume(ctx, queue, d.BlockTimeout)
		observability.RecordLoopIteration("drain")
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("drain consume failed", slog.String("queue", string(queue)), slog.Any("error", err))
			continue
		}
		if task == nil {
			continue
		}

		if err := handle(ctx, task.Payload); err != nil {
			slog.Error("drain handle failed", slog.String("queue", string(queue)), slog.String("task_id", task.ID), slog.Any("error", err))
		}
	}
}

func (d *Drain) lockFor(applicationID int64) *sync.Mutex {
	v, _ := d.locks.LoadOrStore(applicationID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// handleUpdateJobStatus applies applied/failed/waiting_approval/needs_user_info
// reports from the worker onto the Application's SUBMITTING-rooted state.
func (d *Drain) handleUpdateJobStatus(ctx context.Context, payload domain.TaskPayload) error {
	tracer := otel.Tracer("dispatcher.drain")
	ctx, span := tracer.Start(ctx, "Drain.handleUpdateJobStatus")
	defer span.End()

	p := payload.UpdateJobStatus
	if p == nil {
		return fmt.Errorf("%w: update_job_status task missing payload", domain.ErrValidation)
	}
	span.SetAttributes(attribute.Int64("application.id", p.ApplicationID), attribute.String("status", p.Status))

	lock := d.lockFor(p.ApplicationID)
	lock.Lock()
	defer lock.Unlock()

	current, err := d.Applications.Get(ctx, p.ApplicationID)
	if err != nil {
		if domain.IsNotFound(err) {
			slog.Warn("update_job_status references unknown application; dropped to dead-letter", slog.Int64("application_id", p.ApplicationID))
			return nil
		}
		return err
	}

	// Idempotency shield (I3): a redelivered report for an Application no
	// longer SUBMITTING is ignored and logged, never applied twice.
	if current.Status != domain.StatusSubmitting {
		slog.Info("ignoring stale update_job_status", slog.Int64("application_id", p.ApplicationID), slog.String("current_status", string(current.Status)))
		return nil
	}

	var event domain.Event
	switch p.Status {
	case "applied":
		event = domain.EventApplied
	case "failed":
		event = domain.EventFailed
	case "waiting_approval":
		event = domain.EventWaitingApproval
	case "needs_user_info":
		event = domain.EventNeedsUserInfo
	default:
		return fmt.Errorf("%w: unknown update_job_status status %q", domain.ErrValidation, p.Status)
	}

	err = d.Applications.ApplyTransition(ctx, p.ApplicationID, event, func(a *domain.Application) error {
		a.Notes = p.Notes
		if p.ErrorMessage != "" {
			a.ErrorMessage = &p.ErrorMessage
		}
		if p.ScreenshotURL != "" {
			a.ScreenshotURL = &p.ScreenshotURL
		}
		if event == domain.EventApplied {
			now := time.Now().UTC()
			a.SubmittedAt = &now
			a.QueueTaskID = nil
		}
		return nil
	})
	if err != nil {
		return err
	}
	if next, terr := domain.Transition(current.Status, event); terr == nil {
		observability.RecordTransition(string(next))
	}

	if event == domain.EventApplied || event == domain.EventFailed {
		body := notificationBody(event, current)
		_, pubErr := d.Queue.Publish(ctx, domain.QueueSendNotification, domain.NewSendNotificationTask(domain.SendNotificationPayload{
			ApplicationID: p.ApplicationID,
			ProfileID:     current.ProfileID,
			Body:          body,
		}), defaultPublishPriority)
		if pubErr != nil {
			slog.Error("failed to enqueue send_notification", slog.Int64("application_id", p.ApplicationID), slog.Any("error", pubErr))
		}
	}
	return nil
}

// handleApprovalRequest records approval_context on WAITING_APPROVAL so a
// later SMS reply can resume the application, and enqueues the SMS
// notification.
func (d *Drain) handleApprovalRequest(ctx context.Context, payload domain.TaskPayload) error {
	tracer := otel.Tracer("dispatcher.drain")
	ctx, span := tracer.Start(ctx, "Drain.handleApprovalRequest")
	defer span.End()

	p := payload.ApprovalRequest
	if p == nil {
		return fmt.Errorf("%w: approval_request task missing payload", domain.ErrValidation)
	}
	span.SetAttributes(attribute.Int64("application.id", p.ApplicationID))

	lock := d.lockFor(p.ApplicationID)
	lock.Lock()
	defer lock.Unlock()

	current, err := d.Applications.Get(ctx, p.ApplicationID)
	if err != nil {
		if domain.IsNotFound(err) {
			slog.Warn("approval_request references unknown application; dropped to dead-letter", slog.Int64("application_id", p.ApplicationID))
			return nil
		}
		return err
	}

	pageURL, fields := "", []string(nil)
	if p.Context != nil {
		pageURL = p.Context.PageURL
		fields = p.Context.FormFields
	}
	approvalCtx := &domain.ApprovalContext{
		Question:      p.Question,
		PageURL:       pageURL,
		StateBlob:     p.CurrentState,
		ScreenshotURL: p.ScreenshotURL,
	}

	// The matching update_job_status(waiting_approval|needs_user_info) may
	// arrive before or after this message. If it already landed, the
	// Application is parked and this is a plain context update; if this
	// message wins the race, the context is recorded on SUBMITTING and
	// picked up once the status transition lands.
	if current.Status == domain.StatusWaitingApproval || current.Status == domain.StatusNeedsUserInfo || current.Status == domain.StatusSubmitting {
		if err := d.Applications.SetApprovalContext(ctx, p.ApplicationID, approvalCtx); err != nil {
			return err
		}
	} else {
		slog.Info("ignoring approval_request for application not awaiting approval", slog.Int64("application_id", p.ApplicationID), slog.String("current_status", string(current.Status)))
		return nil
	}

	body := fmt.Sprintf("🤔 Need approval for application #%d. Question: %s", p.ApplicationID, p.Question)
	if len(fields) > 0 {
		body += fmt.Sprintf(" (fields: %v)", fields)
	}
	_, pubErr := d.Queue.Publish(ctx, domain.QueueSendNotification, domain.NewSendNotificationTask(domain.SendNotificationPayload{
		ApplicationID: p.ApplicationID,
		ProfileID:     current.ProfileID,
		Body:          body,
	}), defaultPublishPriority)
	if pubErr != nil {
		slog.Error("failed to enqueue approval send_notification", slog.Int64("application_id", p.ApplicationID), slog.Any("error", pubErr))
	}
	return nil
}

func notificationBody(event domain.Event, app *domain.Application) string {
	switch event {
	case domain.EventApplied:
		return fmt.Sprintf("✅ Applied to application #%d", app.ID)
	case domain.EventFailed:
		return fmt.Sprintf("❌ Application #%d failed", app.ID)
	default:
		return fmt.Sprintf("Application #%d status changed", app.ID)
	}
}
