package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobagent/orchestrator/internal/domain"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// ingestProfileRequest is the /ingest/profile request body.
type ingestProfileRequest struct {
	Headline    string            `json:"headline" validate:"required"`
	Summary     string            `json:"summary"`
	Preferences map[string]string `json:"preferences,omitempty"`
	Credentials []ingestCredential `json:"credentials,omitempty"`
}

type ingestCredential struct {
	SiteHostname string `json:"site_hostname" validate:"required"`
	Username     string `json:"username" validate:"required"`
	Password     string `json:"password" validate:"required"`
}

// IngestProfileHandler upserts the singleton Profile, its Preferences, and
// any Credentials (encrypted at rest, I5).
func (s *Server) IngestProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed JSON body")
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}

		ctx := r.Context()
		now := time.Now().UTC()
		profile, err := s.Profiles.Get(ctx, SingletonProfileID)
		switch {
		case err == nil:
			profile.Headline = req.Headline
			profile.Summary = req.Summary
			profile.UpdatedAt = now
			if err := s.Profiles.Update(ctx, profile); err != nil {
				writeDomainError(w, r, err)
				return
			}
		case domain.IsNotFound(err):
			p := &domain.Profile{Headline: req.Headline, Summary: req.Summary, CreatedAt: now, UpdatedAt: now}
			if _, err := s.Profiles.Create(ctx, p); err != nil {
				writeDomainError(w, r, err)
				return
			}
			profile = p
		default:
			writeDomainError(w, r, err)
			return
		}

		if len(req.Preferences) > 0 {
			if err := s.Profiles.UpsertPreferences(ctx, SingletonProfileID, req.Preferences); err != nil {
				writeDomainError(w, r, err)
				return
			}
		}

		for _, c := range req.Credentials {
			cipherBytes, err := s.CredCipher.Seal([]byte(c.Password))
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, "INTERNAL", "failed to encrypt credential")
				return
			}
			cred := &domain.Credential{
				ProfileID:      SingletonProfileID,
				SiteHostname:   c.SiteHostname,
				Username:       c.Username,
				PasswordCipher: cipherBytes,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.Credentials.Upsert(ctx, cred); err != nil {
				writeDomainError(w, r, err)
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "profile_id": SingletonProfileID})
	}
}

// TriggerApplicationHandler creates or reuses the active Application for a
// Role and publishes the job_application task (I2, L2).
func (s *Server) TriggerApplicationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roleID, err := strconv.ParseInt(chi.URLParam(r, "role_id"), 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "role_id must be an integer")
			return
		}

		app, err := s.Trigger.Trigger(r.Context(), SingletonProfileID, roleID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		var taskID string
		if app.QueueTaskID != nil {
			taskID = *app.QueueTaskID
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"task_id":        taskID,
			"application_id": app.ID,
		})
	}
}

// applicationSummary is the shape returned by GET /applications.
type applicationSummary struct {
	ID           int64      `json:"id"`
	RoleTitle    string     `json:"role_title"`
	CompanyName  string     `json:"company_name"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
}

// ListApplicationsHandler lists Applications, optionally filtered by status.
func (s *Server) ListApplicationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusParam := r.URL.Query().Get("status")
		var status domain.ApplicationStatus
		if statusParam != "" {
			status = domain.ApplicationStatus(statusParam)
			if !validApplicationStatus(status) {
				writeError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("unknown status %q", statusParam))
				return
			}
		}

		apps, err := s.Applications.List(r.Context(), status)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		out := make([]applicationSummary, 0, len(apps))
		for _, a := range apps {
			role, err := s.Roles.Get(r.Context(), a.RoleID)
			summary := applicationSummary{
				ID:          a.ID,
				Status:      string(a.Status),
				CreatedAt:   a.CreatedAt,
				SubmittedAt: a.SubmittedAt,
			}
			if err == nil {
				summary.RoleTitle = role.Title
				summary.CompanyName = role.CompanyName
			}
			out = append(out, summary)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GetApplicationHandler returns a single Application by id.
func (s *Server) GetApplicationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "id must be an integer")
			return
		}
		app, err := s.Applications.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, app)
	}
}

func validApplicationStatus(s domain.ApplicationStatus) bool {
	switch s {
	case domain.StatusDraft, domain.StatusReadyToSubmit, domain.StatusSubmitting, domain.StatusSubmitted,
		domain.StatusWaitingApproval, domain.StatusNeedsUserInfo, domain.StatusError, domain.StatusInterview,
		domain.StatusOffer, domain.StatusRejected, domain.StatusClosed:
		return true
	default:
		return false
	}
}

// HealthHandler reports 200 ok / 206 degraded / 503 critical depending on
// which dependency checks fail.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.CheckTimeout)
		defer cancel()

		services := make(map[string]string, len(s.HealthChecks))
		criticalDown := false
		anyDown := false
		for _, c := range s.HealthChecks {
			if err := c.Check(ctx); err != nil {
				services[c.Name] = "unhealthy"
				anyDown = true
				if c.Critical {
					criticalDown = true
				}
				continue
			}
			services[c.Name] = "healthy"
		}

		status := http.StatusOK
		overall := "ok"
		switch {
		case criticalDown:
			status = http.StatusServiceUnavailable
			overall = "critical"
		case anyDown:
			status = http.StatusPartialContent
			overall = "degraded"
		}
		writeJSON(w, status, map[string]any{"status": overall, "services": services})
	}
}

// MetricsHandler exposes Prometheus metrics.
func (s *Server) MetricsHandler() http.HandlerFunc {
	h := promhttp.Handler()
	return func(w http.ResponseWriter, r *http.Request) { h.ServeHTTP(w, r) }
}

// SMSWebhookHandler delegates signature verification and intent parsing to
// the HITL controller (internal/hitl); this handler only translates the
// result to an HTTP status.
func (s *Server) SMSWebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.SMSInbound == nil {
			writeError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "sms inbound processing not configured")
			return
		}
		if err := s.SMSInbound.Process(r.Context(), r); err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
