// Package dispatcher implements the single writer of the Application
// Store: trigger intake (Intake.Trigger, a synchronous call made by the
// HTTP and SMS handlers), plus result drain and maintenance, which run as
// two independent loops.
package dispatcher

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jobagent/orchestrator/internal/crypto"
	"github.com/jobagent/orchestrator/internal/domain"
)

const defaultPublishPriority = 0

// Intake accepts HTTP/SMS-originated requests to start or retry an
// Application.
type Intake struct {
	Applications domain.ApplicationRepository
	Roles        domain.RoleRepository
	Profiles     domain.ProfileRepository
	Credentials  domain.CredentialRepository
	Queue        domain.Queue
	CredCipher   *crypto.CredentialCipher
}

// NewIntake constructs an Intake.
func NewIntake(apps domain.ApplicationRepository, roles domain.RoleRepository, profiles domain.ProfileRepository, creds domain.CredentialRepository, q domain.Queue, cipher *crypto.CredentialCipher) *Intake {
	return &Intake{Applications: apps, Roles: roles, Profiles: profiles, Credentials: creds, Queue: q, CredCipher: cipher}
}

// Trigger upserts the Application for (profileID, roleID) honoring I2, then
// publishes a job_application task and transitions the Application to
// SUBMITTING. A second call in rapid succession (L2, S4) returns the same
// Application without publishing again.
func (in *Intake) Trigger(ctx domain.Context, profileID, roleID int64) (*domain.Application, error) {
	tracer := otel.Tracer("dispatcher.intake")
	ctx, span := tracer.Start(ctx, "Intake.Trigger")
	defer span.End()
	span.SetAttributes(attribute.Int64("profile.id", profileID), attribute.Int64("role.id", roleID))

	app, err := in.Applications.GetActiveByRole(ctx, profileID, roleID)
	switch {
	case err == nil:
		if app.QueueTaskID != nil {
			return app, nil
		}
	case domain.IsNotFound(err):
		id, cerr := in.Applications.Create(ctx, &domain.Application{
			ProfileID: profileID,
			RoleID:    roleID,
			Status:    domain.StatusDraft,
		})
		switch {
		case cerr == nil:
			app, err = in.Applications.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("op=intake.trigger.get: %w", err)
			}
		case errors.Is(cerr, domain.ErrConflict):
			// Lost the race to a concurrent Trigger call that created the
			// active Application first; fall back to its row instead of
			// erroring (I2 is enforced by applications_one_active_idx).
			app, err = in.Applications.GetActiveByRole(ctx, profileID, roleID)
			if err != nil {
				return nil, fmt.Errorf("op=intake.trigger.get_active_after_conflict: %w", err)
			}
		default:
			return nil, fmt.Errorf("op=intake.trigger.create: %w", cerr)
		}
	default:
		return nil, fmt.Errorf("op=intake.trigger.get_active: %w", err)
	}

	role, err := in.Roles.Get(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("op=intake.trigger.role: %w", err)
	}

	payload, err := in.assemblePayload(ctx, app, role)
	if err != nil {
		return nil, fmt.Errorf("op=intake.trigger.assemble: %w", err)
	}

	if app.Status == domain.StatusDraft {
		if err := in.Applications.ApplyTransition(ctx, app.ID, domain.EventDocumentsReady, nil); err != nil {
			return nil, fmt.Errorf("op=intake.trigger.documents_ready: %w", err)
		}
	}

	taskID, err := in.Queue.Publish(ctx, domain.QueueJobApplication, payload, defaultPublishPriority)
	if err != nil {
		return nil, fmt.Errorf("op=intake.trigger.publish: %w: %w", domain.ErrTransientInfra, err)
	}

	if err := in.Applications.ApplyTransition(ctx, app.ID, domain.EventPublished, func(a *domain.Application) error {
		a.QueueTaskID = &taskID
		a.Attempts++
		return nil
	}); err != nil {
		return nil, fmt.Errorf("op=intake.trigger.published: %w", err)
	}

	return in.Applications.Get(ctx, app.ID)
}

// assemblePayload loads Profile, Preferences, and the Credential matching
// the Role's posting host, decrypts the password, and builds the
// job_application task.
func (in *Intake) assemblePayload(ctx domain.Context, app *domain.Application, role *domain.Role) (domain.TaskPayload, error) {
	profile, err := in.Profiles.Get(ctx, app.ProfileID)
	if err != nil {
		return domain.TaskPayload{}, fmt.Errorf("profile: %w", err)
	}
	prefs, err := in.Profiles.GetPreferences(ctx, app.ProfileID)
	if err != nil {
		return domain.TaskPayload{}, fmt.Errorf("preferences: %w", err)
	}

	userData := domain.UserData{
		Name:                     prefs["name"],
		FirstName:                prefs["first_name"],
		LastName:                 prefs["last_name"],
		Email:                    prefs["email"],
		Phone:                    prefs["phone"],
		ResumeURL:                derefOr(app.ResumeURL, ""),
		CoverLetterURL:           derefOr(app.CoverLetterURL, ""),
		LinkedInURL:              prefs["linkedin_url"],
		GithubURL:                prefs["github_url"],
		PortfolioURL:             prefs["portfolio_url"],
		Website:                  prefs["website"],
		Address:                  prefs["address"],
		City:                     prefs["city"],
		State:                    prefs["state"],
		ZipCode:                  prefs["zip_code"],
		Country:                  prefs["country"],
		CurrentRole:              prefs["current_role"],
		Education:                prefs["education"],
		PreferredWorkArrangement: prefs["preferred_work_arrangement"],
		Availability:             prefs["availability"],
		SalaryExpectation:        prefs["salary_expectation"],
		Summary:                  profile.Summary,
		Headline:                 profile.Headline,
	}
	if yrs, ok := prefs["experience_years"]; ok && yrs != "" {
		if n, perr := strconv.Atoi(yrs); perr == nil {
			userData.ExperienceYears = &n
		}
	}

	var inlineCreds *domain.InlineCredentials
	if hostname := hostnameOf(role.PostingURL); hostname != "" {
		cred, cerr := in.Credentials.GetByHostname(ctx, app.ProfileID, hostname)
		switch {
		case cerr == nil:
			plaintext, derr := in.CredCipher.Open(cred.PasswordCipher)
			if derr != nil {
				return domain.TaskPayload{}, fmt.Errorf("%w: credential decrypt failed for %s", domain.ErrSecurity, hostname)
			}
			inlineCreds = &domain.InlineCredentials{Username: cred.Username, Password: string(plaintext)}
		case domain.IsNotFound(cerr):
			// no stored credential for this host; worker proceeds unauthenticated.
		default:
			return domain.TaskPayload{}, fmt.Errorf("credential lookup: %w", cerr)
		}
	}

	return domain.NewJobApplicationTask(domain.JobApplicationPayload{
		JobID:         strconv.FormatInt(app.ID, 10),
		JobURL:        role.PostingURL,
		Company:       role.CompanyName,
		Title:         role.Title,
		ApplicationID: app.ID,
		UserData:      userData,
		Credentials:   inlineCreds,
		CustomAnswers: app.CustomAnswers,
		ResumeFrom:    resumeFrom(app),
	}), nil
}

func resumeFrom(app *domain.Application) string {
	if app.ApprovalContext == nil {
		return ""
	}
	return app.ApprovalContext.StateBlob
}

func hostnameOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
