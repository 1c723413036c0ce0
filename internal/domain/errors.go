package domain

import "errors"

// Sentinel errors returned by domain and store operations. Callers should
// compare with errors.Is, never string-match on Error().
var (
	// ErrInvalidArgument marks malformed input: bad enum value, missing required field.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks a missing entity (role, application, profile, credential).
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a write that violates an invariant (e.g. the role's
	// unique_hash, or the active-application rule for a profile/role pair).
	ErrConflict = errors.New("conflict")
	// ErrRateLimited marks a caller exceeding an HTTP rate limit.
	ErrRateLimited = errors.New("rate limited")
	// ErrIllegalTransition marks a state-machine transition that is not permitted from the current status.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrTransientInfra wraps broker/store/SMS/LLM/blob unavailability.
	// Retried internally with backoff; never surfaced to the user directly.
	ErrTransientInfra = errors.New("transient infrastructure error")
	// ErrTaskExecution wraps a worker form-loop failure on a specific page/action.
	ErrTaskExecution = errors.New("task execution error")
	// ErrNeedsApproval is not a failure; it signals a suspended execution routed through approval_request.
	ErrNeedsApproval = errors.New("needs approval")
	// ErrValidation wraps a malformed payload or unknown application_id; dropped to the dead-letter log.
	ErrValidation = errors.New("validation error")
	// ErrSecurity wraps a signature mismatch, decryption failure, or bad API key. Never retried.
	ErrSecurity = errors.New("security error")
	// ErrBudgetExceeded marks dispatcher-level attempts exhausted.
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
