// Package stub provides a fast, deterministic domain.BrowserSession for
// local/test use. No real browser is launched; page classification follows
// a fixed script derived from the job URL so runs are reproducible without
// a live target site.
package stub

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"

	"github.com/jobagent/orchestrator/internal/domain"
)

// Session is a scripted, in-memory domain.BrowserSession.
type Session struct {
	payload *domain.JobApplicationPayload
	script  []domain.PageKind
	step    int
}

// New builds a Session scripted for one job_application payload. The
// script always ends at PageConfirmation; a login step is inserted when
// credentials are present, deterministically chosen so the same payload
// always produces the same script.
func New(payload *domain.JobApplicationPayload) *Session {
	script := []domain.PageKind{domain.PageJobDescription}
	if payload.Credentials != nil {
		script = append(script, domain.PageLogin)
	}
	if hashParity(payload.JobURL) {
		script = append(script, domain.PageMultiStep)
	}
	script = append(script, domain.PageApplicationForm, domain.PageConfirmation)
	return &Session{payload: payload, script: script}
}

func hashParity(s string) bool {
	h := sha1.Sum([]byte(s))
	return binary.BigEndian.Uint32(h[:4])%2 == 0
}

// Classify returns the next scripted page kind, staying on PageConfirmation
// once the script is exhausted.
func (s *Session) Classify(_ domain.Context) (domain.PageKind, error) {
	if s.step >= len(s.script) {
		return domain.PageConfirmation, nil
	}
	kind := s.script[s.step]
	return kind, nil
}

// Fields enumerates the standard field labels exercised for every form step.
func (s *Session) Fields(_ domain.Context) ([]string, error) {
	return []string{"Full Name", "Email", "Phone", "Resume"}, nil
}

// Fill is a no-op recorder; the stub has no real DOM to mutate.
func (s *Session) Fill(_ domain.Context, _, _ string) error { return nil }

// Click advances the script past the current step.
func (s *Session) Click(_ domain.Context, _ string) error {
	if s.step < len(s.script) {
		s.step++
	}
	return nil
}

// Authenticate advances past a PageLogin step.
func (s *Session) Authenticate(_ domain.Context, username, _ string) error {
	if username == "" {
		return fmt.Errorf("stub session: authenticate called with empty username")
	}
	if s.step < len(s.script) {
		s.step++
	}
	return nil
}

// Screenshot returns a synthetic URL; never captures a real password field.
func (s *Session) Screenshot(_ domain.Context) (string, error) {
	return fmt.Sprintf("https://screenshots.invalid/%s/%d.png", s.payload.JobID, s.step), nil
}

// ExtractConfirmation returns a deterministic confirmation reference.
func (s *Session) ExtractConfirmation(_ domain.Context) (string, error) {
	return fmt.Sprintf("confirmation-%s", s.payload.JobID), nil
}

// Close releases no resources; present to satisfy domain.BrowserSession.
func (s *Session) Close(_ domain.Context) error { return nil }

var _ domain.BrowserSession = (*Session)(nil)
