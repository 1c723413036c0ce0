// Package worker implements the Automation Worker: a long-running process
// that consumes job_application tasks and runs a bounded agentic
// form-filling loop against the BrowserSession port, a bounded-retry/
// status-transition pattern generalized from a single evaluation call to a
// multi-step page-classification loop.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jobagent/orchestrator/internal/domain"
	"github.com/jobagent/orchestrator/internal/observability"
)

// SessionFactory opens a fresh BrowserSession for one job_application task.
// A new session is opened per attempt so a transient failure never reuses
// a half-broken page state across retries.
type SessionFactory func(ctx context.Context, payload *domain.JobApplicationPayload) (domain.BrowserSession, error)

// outcomeKind is the worker's terminal classification for one task.
type outcomeKind string

const (
	outcomeSuccess      outcomeKind = "success"
	outcomeNeedsApproval outcomeKind = "needs_approval"
	outcomeFailure      outcomeKind = "failure"
)

type outcome struct {
	kind                outcomeKind
	confirmationMessage string
	errorMessage        string
	question            string
	screenshotURL       string
	stateBlob           string
}

// Loop owns the bounded agentic loop and worker-level retry budget.
type Loop struct {
	NewSession         SessionFactory
	Queue              domain.Queue
	RetryCfg           domain.RetryConfig
	MaxSteps           int
	MaxAttemptsPerStep int
	BlockTimeout       time.Duration
	HeartbeatInterval  time.Duration
}

// NewLoop constructs a Loop, filling unset tuning parameters with
// conservative defaults.
func NewLoop(newSession SessionFactory, q domain.Queue, maxSteps, maxAttemptsPerStep int, blockTimeout, heartbeatInterval time.Duration) *Loop {
	if maxSteps <= 0 {
		maxSteps = 10
	}
	if maxAttemptsPerStep <= 0 {
		maxAttemptsPerStep = 3
	}
	if blockTimeout <= 0 {
		blockTimeout = 3 * time.Second
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &Loop{
		NewSession:         newSession,
		Queue:              q,
		RetryCfg:           domain.DefaultRetryConfig(),
		MaxSteps:           maxSteps,
		MaxAttemptsPerStep: maxAttemptsPerStep,
		BlockTimeout:       blockTimeout,
		HeartbeatInterval:  heartbeatInterval,
	}
}

// Run consumes job_application tasks until ctx is canceled. It heartbeats
// on start, around each task, and from the same loop whenever
// HeartbeatInterval has elapsed between Consume calls; no heartbeat is sent
// while a task is being processed.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.HeartbeatInterval)
	defer ticker.Stop()

	var inFlight string
	beat := func(status string) {
		payload := heartbeatPayload(status, inFlight)
		if err := l.Queue.Heartbeat(ctx, "automation", payload); err != nil {
			slog.Error("worker heartbeat failed", slog.Any("error", err))
		}
	}
	beat("idle")

	for {
		select {
		case <-ctx.Done():
			beat("shutting_down")
			slog.Info("worker loop stopping")
			return
		case <-ticker.C:
			beat(statusFor(inFlight))
		default:
		}

		task, err := l.Queue.Consume(ctx, domain.QueueJobApplication, l.BlockTimeout)
		observability.RecordLoopIteration("worker")
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("worker consume failed", slog.Any("error", err))
			continue
		}
		if task == nil {
			continue
		}

		inFlight = task.ID
		beat("processing")
		if err := l.ProcessTask(ctx, task); err != nil {
			slog.Error("worker task processing error", slog.String("task_id", task.ID), slog.Any("error", err))
		}
		inFlight = ""
		beat("idle")
	}
}

func statusFor(inFlight string) string {
	if inFlight == "" {
		return "idle"
	}
	return "processing"
}

func heartbeatPayload(status, inFlight string) []byte {
	b := fmt.Sprintf(`{"timestamp":%q,"status":%q`, time.Now().UTC().Format(time.RFC3339), status)
	if inFlight != "" {
		b += fmt.Sprintf(`,"in_flight_task_id":%q`, inFlight)
	}
	return []byte(b + "}")
}

// ProcessTask runs the bounded agentic loop for one job_application task,
// retrying transient infra failures with exponential backoff up to the
// worker-level retry budget before publishing exactly one terminal
// update_job_status.
func (l *Loop) ProcessTask(ctx context.Context, task *domain.QueueTask) error {
	tracer := otel.Tracer("worker.loop")
	ctx, span := tracer.Start(ctx, "Loop.ProcessTask")
	defer span.End()

	payload := task.Payload.JobApplication
	if payload == nil {
		return fmt.Errorf("%w: job_application task missing payload", domain.ErrValidation)
	}
	span.SetAttributes(attribute.Int64("application.id", payload.ApplicationID))

	start := time.Now()
	var retry domain.RetryInfo
	for {
		out, err := l.attempt(ctx, payload)
		if err == nil {
			observability.RecordWorkerOutcome(string(out.kind), time.Since(start))
			return l.publishOutcome(ctx, task.ID, payload, out)
		}

		retry.UpdateRetryAttempt(l.RetryCfg, err.Error())
		if !retry.ShouldRetry(l.RetryCfg) {
			retry.MarkExhausted()
			slog.Warn("job_application exhausted worker retry budget", slog.Int64("application_id", payload.ApplicationID), slog.Any("error", err))
			observability.RecordWorkerOutcome(string(outcomeFailure), time.Since(start))
			return l.publishOutcome(ctx, task.ID, payload, outcome{kind: outcomeFailure, errorMessage: err.Error()})
		}

		slog.Warn("job_application attempt failed; retrying", slog.Int64("application_id", payload.ApplicationID), slog.Int("attempt", retry.Attempt), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(retry.NextRetryAt)):
		}
	}
}

// attempt opens a fresh session and runs the bounded step loop. A non-nil
// error here is always a transient infra failure (network/timeout);
// business-terminal outcomes are returned in outcome instead.
func (l *Loop) attempt(ctx context.Context, payload *domain.JobApplicationPayload) (outcome, error) {
	session, err := l.NewSession(ctx, payload)
	if err != nil {
		return outcome{}, fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = session.Close(ctx) }()

	return l.runSteps(ctx, session, payload)
}

func (l *Loop) runSteps(ctx context.Context, session domain.BrowserSession, payload *domain.JobApplicationPayload) (outcome, error) {
	for step := 0; step < l.MaxSteps; step++ {
		var kind domain.PageKind
		var err error
		for attempt := 0; attempt < l.MaxAttemptsPerStep; attempt++ {
			kind, err = session.Classify(ctx)
			if err == nil {
				break
			}
		}
		if err != nil {
			return outcome{}, fmt.Errorf("classify page: %w", err)
		}
		observability.RecordWorkerStep(string(kind))

		switch kind {
		case domain.PageJobDescription:
			if err := session.Click(ctx, "apply"); err != nil {
				return outcome{}, fmt.Errorf("click apply: %w", err)
			}

		case domain.PageLogin:
			if payload.Credentials == nil {
				return outcome{kind: outcomeFailure, errorMessage: "login required but no credentials configured"}, nil
			}
			if err := session.Authenticate(ctx, payload.Credentials.Username, payload.Credentials.Password); err != nil {
				return outcome{}, fmt.Errorf("authenticate: %w", err)
			}

		case domain.PageApplicationForm:
			out, halted, err := l.fillForm(ctx, session, payload)
			if err != nil {
				return outcome{}, err
			}
			if halted {
				return out, nil
			}
			if err := session.Click(ctx, "next"); err != nil {
				return outcome{}, fmt.Errorf("click next: %w", err)
			}

		case domain.PageMultiStep:
			if err := session.Click(ctx, "next"); err != nil {
				return outcome{}, fmt.Errorf("click next: %w", err)
			}

		case domain.PageConfirmation:
			ref, err := session.ExtractConfirmation(ctx)
			if err != nil {
				return outcome{}, fmt.Errorf("extract confirmation: %w", err)
			}
			return outcome{kind: outcomeSuccess, confirmationMessage: ref}, nil

		default:
			return outcome{kind: outcomeFailure, errorMessage: fmt.Sprintf("unrecognized page kind %q", kind)}, nil
		}
	}
	return outcome{kind: outcomeFailure, errorMessage: "exceeded max steps without reaching confirmation"}, nil
}

// fillForm fills every visible field and processes custom questions.
// halted=true means the loop must stop and return out as the final
// outcome (needs_approval).
func (l *Loop) fillForm(ctx context.Context, session domain.BrowserSession, payload *domain.JobApplicationPayload) (out outcome, halted bool, err error) {
	fields, err := session.Fields(ctx)
	if err != nil {
		return outcome{}, false, fmt.Errorf("enumerate fields: %w", err)
	}

	for _, label := range fields {
		if value, ok := standardFieldValue(label, payload.UserData); ok {
			if value == "" {
				continue
			}
			if err := session.Fill(ctx, label, value); err != nil {
				return outcome{}, false, fmt.Errorf("fill field %q: %w", label, err)
			}
			continue
		}

		if answer, ok := payload.CustomAnswers[label]; ok {
			if err := session.Fill(ctx, label, answer); err != nil {
				return outcome{}, false, fmt.Errorf("fill custom answer %q: %w", label, err)
			}
			continue
		}

		if answer, ok := resolveCustomQuestion(label, payload.UserData); ok {
			slog.Info("resolved custom question from profile data", slog.String("question", label), slog.String("answer", answer))
			if err := session.Fill(ctx, label, answer); err != nil {
				return outcome{}, false, fmt.Errorf("fill resolved answer %q: %w", label, err)
			}
			continue
		}

		screenshotURL, shotErr := session.Screenshot(ctx)
		if shotErr != nil {
			slog.Warn("failed to capture approval screenshot", slog.Any("error", shotErr))
		}
		return outcome{
			kind:          outcomeNeedsApproval,
			question:      label,
			screenshotURL: screenshotURL,
			stateBlob:     payload.ResumeFrom,
		}, true, nil
	}
	return outcome{}, false, nil
}

func (l *Loop) publishOutcome(ctx context.Context, taskID string, payload *domain.JobApplicationPayload, out outcome) error {
	switch out.kind {
	case outcomeSuccess:
		now := time.Now().UTC()
		if _, err := l.Queue.Publish(ctx, domain.QueueUpdateJobStatus, domain.NewUpdateJobStatusTask(domain.UpdateJobStatusPayload{
			JobID:         payload.JobID,
			ApplicationID: payload.ApplicationID,
			Status:        "applied",
			Notes:         out.confirmationMessage,
			SubmittedAt:   now.Format(time.RFC3339),
		}), 0); err != nil {
			return fmt.Errorf("publish update_job_status(applied): %w", err)
		}
		if err := l.Queue.PublishResult(ctx, taskID, []byte(out.confirmationMessage)); err != nil {
			slog.Error("failed to publish result record", slog.String("task_id", taskID), slog.Any("error", err))
		}
		return nil

	case outcomeNeedsApproval:
		if _, err := l.Queue.Publish(ctx, domain.QueueUpdateJobStatus, domain.NewUpdateJobStatusTask(domain.UpdateJobStatusPayload{
			JobID:         payload.JobID,
			ApplicationID: payload.ApplicationID,
			Status:        "waiting_approval",
			ScreenshotURL: out.screenshotURL,
		}), 0); err != nil {
			return fmt.Errorf("publish update_job_status(waiting_approval): %w", err)
		}
		if _, err := l.Queue.Publish(ctx, domain.QueueApprovalRequest, domain.NewApprovalRequestTask(domain.ApprovalRequestPayload{
			JobID:         payload.JobID,
			ApplicationID: payload.ApplicationID,
			Question:      out.question,
			CurrentState:  out.stateBlob,
			ScreenshotURL: out.screenshotURL,
		}), 0); err != nil {
			return fmt.Errorf("publish approval_request: %w", err)
		}
		return nil

	default: // outcomeFailure
		if _, err := l.Queue.Publish(ctx, domain.QueueUpdateJobStatus, domain.NewUpdateJobStatusTask(domain.UpdateJobStatusPayload{
			JobID:         payload.JobID,
			ApplicationID: payload.ApplicationID,
			Status:        "failed",
			ErrorMessage:  out.errorMessage,
		}), 0); err != nil {
			return fmt.Errorf("publish update_job_status(failed): %w", err)
		}
		return nil
	}
}

// standardFieldRule matches a form field label against Needles by
// case-insensitive substring containment (first match wins), so a label
// like "Email Address *" or "Your LinkedIn Profile" still resolves.
type standardFieldRule struct {
	Needles []string
	Value   func(domain.UserData) string
}

// standardFieldRules is checked in order; more specific labels (first
// name, last name) are listed before the generic "name" they'd otherwise
// also match as a substring.
var standardFieldRules = []standardFieldRule{
	{[]string{"first name"}, func(u domain.UserData) string { return u.FirstName }},
	{[]string{"last name"}, func(u domain.UserData) string { return u.LastName }},
	{[]string{"full name", "name"}, func(u domain.UserData) string { return u.Name }},
	{[]string{"email"}, func(u domain.UserData) string { return u.Email }},
	{[]string{"phone"}, func(u domain.UserData) string { return u.Phone }},
	{[]string{"linkedin"}, func(u domain.UserData) string { return u.LinkedInURL }},
	{[]string{"github"}, func(u domain.UserData) string { return u.GithubURL }},
	// portfolio falls back to the personal website when no portfolio URL
	// is on file, per the field-mapping table's portfolio/website pairing.
	{[]string{"portfolio"}, func(u domain.UserData) string {
		if u.PortfolioURL != "" {
			return u.PortfolioURL
		}
		return u.Website
	}},
	{[]string{"website"}, func(u domain.UserData) string { return u.Website }},
	{[]string{"address"}, func(u domain.UserData) string { return u.Address }},
	{[]string{"city"}, func(u domain.UserData) string { return u.City }},
	{[]string{"state", "province"}, func(u domain.UserData) string { return u.State }},
	{[]string{"zip code", "postal code"}, func(u domain.UserData) string { return u.ZipCode }},
	{[]string{"country"}, func(u domain.UserData) string { return u.Country }},
	{[]string{"current role", "current title"}, func(u domain.UserData) string { return u.CurrentRole }},
	{[]string{"resume", "cv"}, func(u domain.UserData) string { return u.ResumeURL }},
	{[]string{"cover letter"}, func(u domain.UserData) string { return u.CoverLetterURL }},
	{[]string{"education"}, func(u domain.UserData) string { return u.Education }},
	{[]string{"work arrangement"}, func(u domain.UserData) string { return u.PreferredWorkArrangement }},
}

// standardFieldValue maps a visible form field label onto UserData.
// ok=false means label is not a recognized standard field and must go
// through the custom-question policy instead.
func standardFieldValue(label string, u domain.UserData) (string, bool) {
	normalized := normalizeLabel(label)
	for _, rule := range standardFieldRules {
		for _, needle := range rule.Needles {
			if strings.Contains(normalized, needle) {
				return rule.Value(u), true
			}
		}
	}
	return "", false
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// resolveCustomQuestion deterministically answers a subset of custom
// questions from profile data: years of experience, salary range from
// preferences, yes/no from availability.
func resolveCustomQuestion(question string, u domain.UserData) (string, bool) {
	q := strings.ToLower(question)

	switch {
	case strings.Contains(q, "years of experience") || strings.Contains(q, "years experience"):
		if u.ExperienceYears != nil {
			return strconv.Itoa(*u.ExperienceYears), true
		}
	case strings.Contains(q, "salary"):
		if u.SalaryExpectation != "" {
			return u.SalaryExpectation, true
		}
	case strings.Contains(q, "available") || strings.Contains(q, "availability"):
		if u.Availability != "" {
			return u.Availability, true
		}
	case isYesNoQuestion(q):
		if u.Availability != "" {
			return "yes", true
		}
		return "no", true
	}
	return "", false
}

func isYesNoQuestion(q string) bool {
	return strings.HasPrefix(q, "are you") || strings.HasPrefix(q, "do you") || strings.HasPrefix(q, "can you") || strings.HasPrefix(q, "will you")
}
