package domain

import (
	"encoding/json"
	"fmt"
)

// QueueName is the closed enum of broker queue names.
type QueueName string

const (
	QueueJobApplication   QueueName = "job_application"
	QueueUpdateJobStatus  QueueName = "update_job_status"
	QueueApprovalRequest  QueueName = "approval_request"
	QueueSendNotification QueueName = "send_notification"
)

// Valid reports whether q is one of the enumerated queue names.
func (q QueueName) Valid() bool {
	switch q {
	case QueueJobApplication, QueueUpdateJobStatus, QueueApprovalRequest, QueueSendNotification:
		return true
	default:
		return false
	}
}

// UserData is the applicant data carried in every job_application payload,
// mapped onto form fields by the worker's field-mapping table.
type UserData struct {
	Name                     string   `json:"name"`
	FirstName                string   `json:"first_name,omitempty"`
	LastName                 string   `json:"last_name,omitempty"`
	Email                    string   `json:"email"`
	Phone                    string   `json:"phone"`
	ResumeURL                string   `json:"resume_url,omitempty"`
	CoverLetterURL           string   `json:"cover_letter_url,omitempty"`
	LinkedInURL              string   `json:"linkedin_url,omitempty"`
	GithubURL                string   `json:"github_url,omitempty"`
	PortfolioURL             string   `json:"portfolio_url,omitempty"`
	Website                  string   `json:"website,omitempty"`
	Address                  string   `json:"address,omitempty"`
	City                     string   `json:"city,omitempty"`
	State                    string   `json:"state,omitempty"`
	ZipCode                  string   `json:"zip_code,omitempty"`
	Country                  string   `json:"country,omitempty"`
	CurrentRole              string   `json:"current_role,omitempty"`
	ExperienceYears          *int     `json:"experience_years,omitempty"`
	Education                string   `json:"education,omitempty"`
	Skills                   []string `json:"skills,omitempty"`
	PreferredWorkArrangement string   `json:"preferred_work_arrangement,omitempty"` // remote|hybrid|onsite
	Availability             string   `json:"availability,omitempty"`
	SalaryExpectation        string   `json:"salary_expectation,omitempty"`
	Summary                  string   `json:"summary,omitempty"`
	Headline                 string   `json:"headline,omitempty"`
}

// InlineCredentials carries a plaintext username/password, present only in
// job_application payloads (never in any other queue, P4). The broker sets
// no expiry on queued tasks, so a job_application task and its credentials
// stay in the queue until consumed; config.JobApplicationTTL is parsed but
// not applied anywhere.
type InlineCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AIInstructions tunes the out-of-scope scoring/drafting call's tone.
type AIInstructions struct {
	Tone        string   `json:"tone,omitempty"`
	FocusAreas  []string `json:"focus_areas,omitempty"`
	AvoidTopics []string `json:"avoid_topics,omitempty"`
}

// JobApplicationPayload is published by the dispatcher and consumed by the worker.
type JobApplicationPayload struct {
	JobID          string             `json:"job_id"`
	JobURL         string             `json:"job_url"`
	Company        string             `json:"company"`
	Title          string             `json:"title"`
	ApplicationID  int64              `json:"application_id"`
	UserData       UserData           `json:"user_data"`
	Credentials    *InlineCredentials `json:"credentials,omitempty"`
	CustomAnswers  map[string]string  `json:"custom_answers,omitempty"`
	AIInstructions *AIInstructions    `json:"ai_instructions,omitempty"`
	ResumeFrom     string             `json:"resume_from,omitempty"`
}

func (JobApplicationPayload) queueName() QueueName { return QueueJobApplication }

// UpdateJobStatusPayload is published by the worker and consumed by the dispatcher's drain loop.
type UpdateJobStatusPayload struct {
	JobID         string `json:"job_id"`
	ApplicationID int64  `json:"application_id"`
	Status        string `json:"status"` // applied | failed | waiting_approval | needs_user_info
	Notes         string `json:"notes,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
	SubmittedAt   string `json:"submitted_at,omitempty"` // RFC3339
}

func (UpdateJobStatusPayload) queueName() QueueName { return QueueUpdateJobStatus }

// ApprovalRequestContext is the optional extra context accompanying an approval_request.
type ApprovalRequestContext struct {
	PageTitle  string   `json:"page_title,omitempty"`
	PageURL    string   `json:"page_url,omitempty"`
	FormFields []string `json:"form_fields,omitempty"`
}

// ApprovalRequestPayload is published by the worker alongside waiting_approval.
type ApprovalRequestPayload struct {
	JobID         string                  `json:"job_id"`
	ApplicationID int64                   `json:"application_id"`
	Question      string                  `json:"question"`
	CurrentState  string                  `json:"current_state,omitempty"`
	ScreenshotURL string                  `json:"screenshot_url,omitempty"`
	Context       *ApprovalRequestContext `json:"context,omitempty"`
}

func (ApprovalRequestPayload) queueName() QueueName { return QueueApprovalRequest }

// SendNotificationPayload is published by the dispatcher; the HITL
// controller is the only consumer and is the only component that
// actually calls out to the SMS gateway.
type SendNotificationPayload struct {
	ApplicationID int64  `json:"application_id"`
	ProfileID     int64  `json:"profile_id"`
	Body          string `json:"body"`
}

func (SendNotificationPayload) queueName() QueueName { return QueueSendNotification }

// TaskPayload is the tagged sum type carried by every QueueTask. The New*Task
// constructors populate exactly one of the payload pointer fields,
// discriminated by Kind.
type TaskPayload struct {
	Kind             QueueName               `json:"kind"`
	JobApplication   *JobApplicationPayload   `json:"job_application,omitempty"`
	UpdateJobStatus  *UpdateJobStatusPayload  `json:"update_job_status,omitempty"`
	ApprovalRequest  *ApprovalRequestPayload  `json:"approval_request,omitempty"`
	SendNotification *SendNotificationPayload `json:"send_notification,omitempty"`
}

// NewJobApplicationTask wraps a JobApplicationPayload in a TaskPayload envelope.
func NewJobApplicationTask(p JobApplicationPayload) TaskPayload {
	return TaskPayload{Kind: p.queueName(), JobApplication: &p}
}

// NewUpdateJobStatusTask wraps an UpdateJobStatusPayload in a TaskPayload envelope.
func NewUpdateJobStatusTask(p UpdateJobStatusPayload) TaskPayload {
	return TaskPayload{Kind: p.queueName(), UpdateJobStatus: &p}
}

// NewApprovalRequestTask wraps an ApprovalRequestPayload in a TaskPayload envelope.
func NewApprovalRequestTask(p ApprovalRequestPayload) TaskPayload {
	return TaskPayload{Kind: p.queueName(), ApprovalRequest: &p}
}

// NewSendNotificationTask wraps a SendNotificationPayload in a TaskPayload envelope.
func NewSendNotificationTask(p SendNotificationPayload) TaskPayload {
	return TaskPayload{Kind: p.queueName(), SendNotification: &p}
}

// Marshal serializes the envelope to JSON.
func (t TaskPayload) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalTaskPayload parses a JSON envelope and validates that Kind is
// known and the field matching Kind is populated; other payload fields are
// not checked (forward-compatible: unknown extra fields in the JSON are
// ignored by encoding/json already).
func UnmarshalTaskPayload(data []byte) (TaskPayload, error) {
	var t TaskPayload
	if err := json.Unmarshal(data, &t); err != nil {
		return TaskPayload{}, fmt.Errorf("unmarshal task payload: %w", err)
	}
	switch t.Kind {
	case QueueJobApplication:
		if t.JobApplication == nil {
			return TaskPayload{}, fmt.Errorf("%w: kind job_application missing payload", ErrValidation)
		}
	case QueueUpdateJobStatus:
		if t.UpdateJobStatus == nil {
			return TaskPayload{}, fmt.Errorf("%w: kind update_job_status missing payload", ErrValidation)
		}
	case QueueApprovalRequest:
		if t.ApprovalRequest == nil {
			return TaskPayload{}, fmt.Errorf("%w: kind approval_request missing payload", ErrValidation)
		}
	case QueueSendNotification:
		if t.SendNotification == nil {
			return TaskPayload{}, fmt.Errorf("%w: kind send_notification missing payload", ErrValidation)
		}
	default:
		return TaskPayload{}, fmt.Errorf("%w: unknown task kind %q", ErrValidation, t.Kind)
	}
	return t, nil
}

// QueueTask is the broker-side envelope returned by Consume.
type QueueTask struct {
	ID        string
	Type      QueueName
	Payload   TaskPayload
	Retries   int
	CreatedAt int64 // unix seconds
	Priority  int
}
