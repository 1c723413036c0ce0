package hitl

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jobagent/orchestrator/internal/domain"
	"github.com/jobagent/orchestrator/internal/observability"
)

// Notifier drains send_notification and is the only component that
// actually calls the SMS gateway — every other producer only enqueues.
type Notifier struct {
	Profiles     domain.ProfileRepository
	Queue        domain.Queue
	SMS          domain.SMSGateway
	BlockTimeout time.Duration
}

// NewNotifier constructs a Notifier.
func NewNotifier(profiles domain.ProfileRepository, q domain.Queue, sms domain.SMSGateway, blockTimeout time.Duration) *Notifier {
	if blockTimeout <= 0 {
		blockTimeout = 3 * time.Second
	}
	return &Notifier{Profiles: profiles, Queue: q, SMS: sms, BlockTimeout: blockTimeout}
}

// Run blocks, consuming send_notification until ctx is canceled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := n.Queue.Consume(ctx, domain.QueueSendNotification, n.BlockTimeout)
		observability.RecordLoopIteration("notifier")
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("notifier consume failed", slog.Any("error", err))
			continue
		}
		if task == nil {
			continue
		}
		if err := n.handle(ctx, task.Payload); err != nil {
			slog.Error("notifier send failed", slog.String("task_id", task.ID), slog.Any("error", err))
		}
	}
}

func (n *Notifier) handle(ctx context.Context, payload domain.TaskPayload) error {
	tracer := otel.Tracer("hitl.notifier")
	ctx, span := tracer.Start(ctx, "Notifier.handle")
	defer span.End()

	p := payload.SendNotification
	if p == nil {
		slog.Warn("send_notification task missing payload; dropped")
		return nil
	}
	span.SetAttributes(attribute.Int64("application.id", p.ApplicationID), attribute.Int64("profile.id", p.ProfileID))

	prefs, err := n.Profiles.GetPreferences(ctx, p.ProfileID)
	if err != nil {
		return err
	}
	phone := prefs["phone"]
	if phone == "" {
		slog.Warn("no phone on file for profile; notification dropped", slog.Int64("profile_id", p.ProfileID))
		return nil
	}

	return n.SMS.Send(ctx, phone, p.Body)
}
