// Package hitl implements the HITL Controller: it bridges SMS inbound/
// outbound to the state machine. Inbound requests match one of three
// ordered intents (URL, command, free text); outbound delivery drains
// send_notification and calls the SMS gateway (see outbound.go).
package hitl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jobagent/orchestrator/internal/domain"
	"github.com/jobagent/orchestrator/internal/observability"
)

// ApplicationTrigger is implemented by the dispatcher's Intake
// (shaped identically to httpapi.ApplicationTrigger so this package never
// imports internal/httpapi or internal/dispatcher directly).
type ApplicationTrigger interface {
	Trigger(ctx domain.Context, profileID, roleID int64) (*domain.Application, error)
}

const (
	signatureHeader = "X-Webhook-Signature"
	singletonProfileID int64 = 1
)

// Controller verifies and routes inbound SMS webhook requests.
type Controller struct {
	Applications domain.ApplicationRepository
	Roles        domain.RoleRepository
	Profiles     domain.ProfileRepository
	Queue        domain.Queue
	Trigger      ApplicationTrigger

	SigningSecret string
	ProfileID     int64
	Templates     MessageTemplates

	sanitize *bluemonday.Policy
}

// NewController constructs a Controller for the singleton profile.
func NewController(apps domain.ApplicationRepository, roles domain.RoleRepository, profiles domain.ProfileRepository, q domain.Queue, trigger ApplicationTrigger, signingSecret string) *Controller {
	return &Controller{
		Applications:  apps,
		Roles:         roles,
		Profiles:      profiles,
		Queue:         q,
		Trigger:       trigger,
		SigningSecret: signingSecret,
		ProfileID:     singletonProfileID,
		Templates:     defaultTemplates(),
		sanitize:      bluemonday.StrictPolicy(),
	}
}

// WithTemplates overrides the canned reply bodies, e.g. with ones loaded
// via LoadMessageTemplates.
func (c *Controller) WithTemplates(t MessageTemplates) *Controller {
	c.Templates = t
	return c
}

// Process verifies the webhook signature, parses the form body, matches one
// of the three ordered inbound intents, and replies by enqueuing a
// send_notification task — never by calling the SMS gateway inline.
func (c *Controller) Process(ctx domain.Context, r *http.Request) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("op=hitl.process.read_body: %w", err)
	}
	r.Body.Close()

	if !c.verifySignature(r, raw) {
		return fmt.Errorf("%w: sms webhook signature mismatch", domain.ErrSecurity)
	}

	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return fmt.Errorf("%w: malformed webhook form body", domain.ErrValidation)
	}
	from := strings.TrimSpace(form.Get("From"))
	body := strings.TrimSpace(form.Get("Body"))

	switch {
	case isWellFormedURL(body):
		observability.RecordHITLInbound("url")
		return c.handleURLIntent(ctx, from, body)
	case isCommand(body):
		observability.RecordHITLInbound("command")
		return c.handleCommandIntent(ctx, from, strings.ToLower(body))
	default:
		observability.RecordHITLInbound("free_text")
		return c.handleFreeText(ctx, from, body)
	}
}

// verifySignature compares the configured header against
// hex(HMAC-SHA256(rawBody, secret)) using a constant-time comparison. An
// unconfigured secret rejects every request rather than silently
// accepting unsigned traffic.
func (c *Controller) verifySignature(r *http.Request, raw []byte) bool {
	if c.SigningSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.SigningSecret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	got := r.Header.Get(signatureHeader)
	return hmac.Equal([]byte(expected), []byte(got))
}

func isWellFormedURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

var commands = map[string]bool{"help": true, "status": true, "report": true, "stop": true, "start": true}

func isCommand(s string) bool {
	return commands[strings.ToLower(s)]
}

// handleURLIntent records a posting shared by URL as a Role, inline. No
// scraper is in scope here; the Role is created with a placeholder title/company
// derived from the URL's host and path, status SOURCED, and is left for a
// later ranking/apply step to flesh out.
func (c *Controller) handleURLIntent(ctx domain.Context, from, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return c.reply(ctx, 0, fmt.Sprintf("Couldn't parse that URL: %s", rawURL))
	}

	title, company := titleAndCompanyFromURL(u)
	role, err := c.Roles.UpsertByHash(ctx, &domain.Role{
		Title:       title,
		CompanyName: company,
		PostingURL:  rawURL,
		Status:      domain.RoleSourced,
	})
	if err != nil {
		return fmt.Errorf("op=hitl.url_intent.upsert_role: %w", err)
	}

	slog.Info("hitl sourced role from sms url", slog.Int64("role_id", role.ID), slog.String("from", from))
	return c.reply(ctx, 0, fmt.Sprintf("📥 Got it — tracking \"%s\" at %s (role #%d). Apply it via the app when ready.", role.Title, role.CompanyName, role.ID))
}

// titleAndCompanyFromURL derives a human-readable placeholder from a raw
// posting URL when no scraper is available to read the real posting.
func titleAndCompanyFromURL(u *url.URL) (title, company string) {
	company = strings.TrimPrefix(u.Hostname(), "www.")
	path := strings.Trim(u.Path, "/")
	if path == "" {
		title = "Untitled posting"
		return title, company
	}
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	title = strings.ReplaceAll(strings.ReplaceAll(last, "-", " "), "_", " ")
	if title == "" {
		title = "Untitled posting"
	}
	return title, company
}

// handleCommandIntent executes one of the five fixed commands and replies.
func (c *Controller) handleCommandIntent(ctx domain.Context, from, cmd string) error {
	switch cmd {
	case "help":
		return c.reply(ctx, 0, c.Templates.Help)
	case "status":
		return c.replyStatus(ctx)
	case "report":
		return c.replyReport(ctx)
	case "stop":
		if err := c.Profiles.UpsertPreferences(ctx, c.ProfileID, map[string]string{"automation_paused": "true"}); err != nil {
			return fmt.Errorf("op=hitl.command.stop: %w", err)
		}
		return c.reply(ctx, 0, c.Templates.Paused)
	case "start":
		if err := c.Profiles.UpsertPreferences(ctx, c.ProfileID, map[string]string{"automation_paused": "false"}); err != nil {
			return fmt.Errorf("op=hitl.command.start: %w", err)
		}
		return c.reply(ctx, 0, c.Templates.Resumed)
	default:
		return c.reply(ctx, 0, c.Templates.Unrecognized)
	}
}

func (c *Controller) replyStatus(ctx domain.Context) error {
	apps, err := c.Applications.List(ctx, "")
	if err != nil {
		return fmt.Errorf("op=hitl.command.status: %w", err)
	}
	counts := map[domain.ApplicationStatus]int{}
	for _, a := range apps {
		counts[a.Status]++
	}
	body := fmt.Sprintf("📊 %d applications total — submitted:%d waiting_approval:%d error:%d",
		len(apps), counts[domain.StatusSubmitted], counts[domain.StatusWaitingApproval], counts[domain.StatusError])
	return c.reply(ctx, 0, body)
}

func (c *Controller) replyReport(ctx domain.Context) error {
	apps, err := c.Applications.List(ctx, "")
	if err != nil {
		return fmt.Errorf("op=hitl.command.report: %w", err)
	}
	if len(apps) == 0 {
		return c.reply(ctx, 0, "No applications yet.")
	}
	n := len(apps)
	if n > 5 {
		n = 5
	}
	var b strings.Builder
	b.WriteString("🗒️ Recent applications:\n")
	for _, a := range apps[:n] {
		b.WriteString(fmt.Sprintf("#%d %s\n", a.ID, a.Status))
	}
	return c.reply(ctx, 0, b.String())
}

// handleFreeText routes a reply to the oldest open WAITING_APPROVAL
// Application for the singleton profile, merging it into custom_answers
// and triggering the approval re-entry re-publish. A reply with no open
// approval is an unmatched inbound.
func (c *Controller) handleFreeText(ctx domain.Context, from, body string) error {
	clean := c.sanitize.Sanitize(body)
	clean = strings.TrimSpace(clean)

	app, err := c.Applications.OldestWaitingApproval(ctx, c.ProfileID)
	if err != nil {
		if domain.IsNotFound(err) {
			return c.reply(ctx, 0, c.Templates.NoOpenQuestion)
		}
		return fmt.Errorf("op=hitl.free_text.oldest_waiting: %w", err)
	}
	if app.ApprovalContext == nil || app.ApprovalContext.Question == "" {
		return c.reply(ctx, 0, c.Templates.NoOpenQuestion)
	}
	question := app.ApprovalContext.Question

	// This commits SUBMITTING with queue_task_id nil and republishes in a
	// separate transaction just below. If the process dies in between, the
	// stranded row has no queue task but is SUBMITTING. The maintenance
	// stale-SUBMITTING sweep recovers it the same way it recovers a lost
	// worker (see dispatcher.Maintenance.recoverStuck), but only once its
	// updated_at is older than the sweep's StaleAfter and no "automation"
	// heartbeat is present; while a worker keeps heartbeating, it stays
	// SUBMITTING.
	err = c.Applications.ApplyTransition(ctx, app.ID, domain.EventApprovalResumed, func(a *domain.Application) error {
		if a.CustomAnswers == nil {
			a.CustomAnswers = map[string]string{}
		}
		a.CustomAnswers[question] = clean
		a.QueueTaskID = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=hitl.free_text.resume: %w", err)
	}

	if _, err := c.Trigger.Trigger(ctx, app.ProfileID, app.RoleID); err != nil {
		return fmt.Errorf("op=hitl.free_text.trigger: %w", err)
	}

	return c.reply(ctx, app.ID, fmt.Sprintf("👍 Got it, resuming application #%d.", app.ID))
}

// reply enqueues a send_notification task; the outbound loop is the only
// component that actually calls the SMS gateway.
func (c *Controller) reply(ctx domain.Context, applicationID int64, body string) error {
	_, err := c.Queue.Publish(ctx, domain.QueueSendNotification, domain.NewSendNotificationTask(domain.SendNotificationPayload{
		ApplicationID: applicationID,
		ProfileID:     c.ProfileID,
		Body:          body,
	}), 0)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransientInfra, err)
	}
	return nil
}
