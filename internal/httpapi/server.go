package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/jobagent/orchestrator/internal/config"
	"github.com/jobagent/orchestrator/internal/crypto"
	"github.com/jobagent/orchestrator/internal/domain"
)

// SingletonProfileID is the only Profile row this single-operator system
// manages. Multi-tenant profile selection is out of scope.
const SingletonProfileID int64 = 1

// ApplicationTrigger is implemented by the dispatcher's Intake
// (internal/dispatcher) and injected here to avoid httpapi depending on it.
type ApplicationTrigger interface {
	Trigger(ctx context.Context, profileID, roleID int64) (*domain.Application, error)
}

// SMSWebhookProcessor verifies and routes an inbound SMS webhook request
// (internal/hitl owns signature verification and intent parsing).
type SMSWebhookProcessor interface {
	Process(ctx context.Context, r *http.Request) error
}

// HealthCheck is a named dependency probe used by HealthHandler.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Critical bool // if true, failure degrades overall status to 503 instead of 206
}

// Server aggregates every dependency the HTTP surface needs.
type Server struct {
	Cfg           config.Config
	Profiles      domain.ProfileRepository
	Credentials   domain.CredentialRepository
	Roles         domain.RoleRepository
	Applications  domain.ApplicationRepository
	CredCipher    *crypto.CredentialCipher
	Trigger       ApplicationTrigger
	SMSInbound    SMSWebhookProcessor
	HealthChecks  []HealthCheck
	CheckTimeout  time.Duration
}

// NewServer constructs a Server with all handler dependencies wired.
func NewServer(
	cfg config.Config,
	profiles domain.ProfileRepository,
	credentials domain.CredentialRepository,
	roles domain.RoleRepository,
	applications domain.ApplicationRepository,
	credCipher *crypto.CredentialCipher,
	trigger ApplicationTrigger,
	smsInbound SMSWebhookProcessor,
	checks []HealthCheck,
) *Server {
	return &Server{
		Cfg:          cfg,
		Profiles:     profiles,
		Credentials:  credentials,
		Roles:        roles,
		Applications: applications,
		CredCipher:   credCipher,
		Trigger:      trigger,
		SMSInbound:   smsInbound,
		HealthChecks: checks,
		CheckTimeout: 3 * time.Second,
	}
}
