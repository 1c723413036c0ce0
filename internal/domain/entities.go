// Package domain holds the core entities, state machine, and repository/
// collaborator ports of the application orchestration engine. It has no
// third-party dependencies by design: every adapter package depends on
// domain, never the reverse.
package domain

import (
	"context"
	"time"
)

// Context is an alias kept for readability at call sites that pass the
// request-scoped context through several layers of port methods.
type Context = context.Context

// RoleStatus is the lifecycle status of a sourced job posting.
type RoleStatus string

const (
	RoleSourced  RoleStatus = "sourced"
	RoleRanked   RoleStatus = "ranked"
	RoleApplying RoleStatus = "applying"
	RoleApplied  RoleStatus = "applied"
	RoleIgnored  RoleStatus = "ignored"
)

// Company is deduplicated by normalized (lowercased, trimmed) name.
type Company struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Role is a job posting, deduplicated by UniqueHash (I1).
type Role struct {
	ID            int64
	CompanyID     int64
	CompanyName   string // denormalized for read paths; not authoritative
	Title         string
	Description   string
	PostingURL    string
	UniqueHash    string
	Status        RoleStatus
	RankScore     *float64
	RankRationale string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Profile is one user's durable identity within the orchestration engine.
type Profile struct {
	ID        int64
	Headline  string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Preference is a (profile_id, key) -> value pair, unique per key.
type Preference struct {
	ID        int64
	ProfileID int64
	Key       string
	Value     string
}

// Credential is a per-(profile_id, site_hostname) login. Password is stored
// as authenticated-encryption ciphertext (I5); it is never logged or
// returned by any query API.
type Credential struct {
	ID             int64
	ProfileID      int64
	SiteHostname   string
	Username       string
	PasswordCipher []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ApplicationStatus is the Application lifecycle status.
type ApplicationStatus string

const (
	StatusDraft           ApplicationStatus = "draft"
	StatusReadyToSubmit   ApplicationStatus = "ready_to_submit"
	StatusSubmitting      ApplicationStatus = "submitting"
	StatusSubmitted       ApplicationStatus = "submitted"
	StatusWaitingApproval ApplicationStatus = "waiting_approval"
	StatusNeedsUserInfo   ApplicationStatus = "needs_user_info"
	StatusError           ApplicationStatus = "error"
	StatusInterview       ApplicationStatus = "interview"
	StatusOffer           ApplicationStatus = "offer"
	StatusRejected        ApplicationStatus = "rejected"
	StatusClosed          ApplicationStatus = "closed"
)

// IsTerminal reports whether s is error, closed or rejected. Used to decide
// whether an Application still counts as active for a (profile, role)
// pair: every other status, including submitted and waiting_approval,
// counts as active.
func (s ApplicationStatus) IsTerminal() bool {
	switch s {
	case StatusError, StatusClosed, StatusRejected:
		return true
	default:
		return false
	}
}

// ApprovalContext is the serialized snapshot recorded when an Application
// pauses for human input, carrying everything needed to resume the
// browser session once a reply arrives.
type ApprovalContext struct {
	Question      string `json:"question"`
	PageURL       string `json:"page_url"`
	StateBlob     string `json:"state_blob"`
	ScreenshotURL string `json:"screenshot_url"`
}

// Application is one attempt of one Profile against one Role.
type Application struct {
	ID              int64
	ProfileID       int64
	RoleID          int64
	Status          ApplicationStatus
	QueueTaskID     *string
	ResumeURL       *string
	CoverLetterURL  *string
	CustomAnswers   map[string]string
	ApprovalContext *ApprovalContext
	ScreenshotURL   *string
	ErrorMessage    *string
	Notes           string
	Attempts        int
	SubmittedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProfileRepository persists Profile aggregates.
//
//go:generate mockery --name ProfileRepository --output ../../internal/mocks --case underscore
type ProfileRepository interface {
	Create(ctx Context, p *Profile) (int64, error)
	Get(ctx Context, id int64) (*Profile, error)
	Update(ctx Context, p *Profile) error
	UpsertPreferences(ctx Context, profileID int64, prefs map[string]string) error
	GetPreferences(ctx Context, profileID int64) (map[string]string, error)
}

// CredentialRepository persists encrypted per-site Credentials.
//
//go:generate mockery --name CredentialRepository --output ../../internal/mocks --case underscore
type CredentialRepository interface {
	Upsert(ctx Context, c *Credential) error
	GetByHostname(ctx Context, profileID int64, hostname string) (*Credential, error)
}

// RoleRepository persists deduplicated Role postings.
//
//go:generate mockery --name RoleRepository --output ../../internal/mocks --case underscore
type RoleRepository interface {
	UpsertByHash(ctx Context, r *Role) (*Role, error)
	Get(ctx Context, id int64) (*Role, error)
	UpdateStatus(ctx Context, id int64, status RoleStatus) error
}

// ApplicationRepository persists Applications and enforces the state
// machine's transactional invariants (I2, I3) at the store layer.
//
//go:generate mockery --name ApplicationRepository --output ../../internal/mocks --case underscore
type ApplicationRepository interface {
	// GetActiveByRole returns the non-terminal Application for (profileID, roleID), if any.
	GetActiveByRole(ctx Context, profileID, roleID int64) (*Application, error)
	Create(ctx Context, a *Application) (int64, error)
	Get(ctx Context, id int64) (*Application, error)
	List(ctx Context, status ApplicationStatus) ([]*Application, error)
	// ApplyTransition loads the Application under a row lock, computes the
	// next status via Transition, applies mutate, and persists atomically.
	ApplyTransition(ctx Context, id int64, event Event, mutate func(a *Application) error) error
	// ListStuckSubmitting returns SUBMITTING applications whose updated_at is older than olderThan.
	ListStuckSubmitting(ctx Context, olderThan time.Time) ([]*Application, error)
	// OldestWaitingApproval returns the oldest WAITING_APPROVAL application for a profile, if any.
	OldestWaitingApproval(ctx Context, profileID int64) (*Application, error)
	// SetApprovalContext overwrites approval_context without a status transition,
	// for recording an approval_request's context while the Application is
	// parked in WAITING_APPROVAL or NEEDS_USER_INFO, or still SUBMITTING.
	SetApprovalContext(ctx Context, id int64, approvalCtx *ApprovalContext) error
}

// QueueTask (broker-side envelope) and TaskPayload (the tagged sum type it
// carries) are defined in payload.go, alongside the QueueName enum.

// Queue is the broker port consumed by the dispatcher and worker.
//
//go:generate mockery --name Queue --output ../../internal/mocks --case underscore
type Queue interface {
	Publish(ctx Context, queueType QueueName, payload TaskPayload, priority int) (taskID string, err error)
	Consume(ctx Context, queueType QueueName, timeout time.Duration) (*QueueTask, error)
	PublishResult(ctx Context, taskID string, payload []byte) error
	PublishChannel(ctx Context, channel string, payload []byte) error
	Heartbeat(ctx Context, service string, payload []byte) error
	Stat(ctx Context, queueType QueueName) (depth int64, err error)
	// LastHeartbeat returns the raw payload last recorded for service, or (nil, false) if none is live.
	LastHeartbeat(ctx Context, service string) (payload []byte, ok bool, err error)
}

// ScoringClient is the opaque LLM scoring/drafting collaborator, consumed
// only through this port; no concrete implementation is in scope here.
type ScoringClient interface {
	Score(ctx Context, role *Role, profile *Profile) (rankScore float64, rationale string, err error)
}

// ArtifactRenderer is the opaque PDF-rendering + object-storage port.
type ArtifactRenderer interface {
	RenderResume(ctx Context, profile *Profile, role *Role) (url string, err error)
	RenderCoverLetter(ctx Context, profile *Profile, role *Role) (url string, err error)
}

// SMSGateway is the opaque SMS send primitive; inbound signature
// verification is implemented for real in internal/hitl, not here.
type SMSGateway interface {
	Send(ctx Context, toPhone, body string) error
}

// BrowserSession is the opaque browser-automation primitive driven by the
// worker's bounded agentic loop.
type BrowserSession interface {
	// Classify inspects the current page and returns one of the PageKind values.
	Classify(ctx Context) (PageKind, error)
	// Fields enumerates visible form field labels on an application_form page.
	Fields(ctx Context) ([]string, error)
	// Fill sets a field's value by label.
	Fill(ctx Context, label, value string) error
	// Click performs a navigation-triggering click (apply/next/submit affordances).
	Click(ctx Context, affordance string) error
	// Authenticate submits a login form with the given credential.
	Authenticate(ctx Context, username, password string) error
	// Screenshot captures the current page, redacting password fields.
	Screenshot(ctx Context) (url string, err error)
	// ExtractConfirmation reads the confirmation reference text on a confirmation page.
	ExtractConfirmation(ctx Context) (string, error)
	// Close releases the session. MUST NOT be held past a terminal outcome.
	Close(ctx Context) error
}

// PageKind is the worker's page classification.
type PageKind string

const (
	PageJobDescription  PageKind = "job_description"
	PageApplicationForm PageKind = "application_form"
	PageLogin           PageKind = "login"
	PageMultiStep       PageKind = "multi_step"
	PageConfirmation    PageKind = "confirmation"
	PageUnknown         PageKind = "unknown"
)
