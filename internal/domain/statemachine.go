package domain

import "fmt"

// Event is a named trigger driving an Application's state transition.
// Transitions are centralized as a typed function rather than scattered
// across handlers.
type Event string

const (
	EventDocumentsReady  Event = "documents_ready"  // DRAFT -> READY_TO_SUBMIT
	EventPublished       Event = "published"        // READY_TO_SUBMIT -> SUBMITTING
	EventApplied         Event = "applied"          // SUBMITTING -> SUBMITTED
	EventWaitingApproval Event = "waiting_approval" // SUBMITTING -> WAITING_APPROVAL
	EventNeedsUserInfo   Event = "needs_user_info"  // SUBMITTING -> NEEDS_USER_INFO
	EventApprovalResumed Event = "approval_resumed" // WAITING_APPROVAL|NEEDS_USER_INFO -> SUBMITTING
	EventFailed          Event = "failed"           // SUBMITTING -> ERROR
	EventWorkerLost      Event = "worker_lost"      // SUBMITTING -> ERROR (maintenance loop, B1)
	EventRetryFromError  Event = "retry_from_error" // ERROR -> SUBMITTING (budget permitting)
	EventInterviewed     Event = "interviewed"      // SUBMITTED -> INTERVIEW
	EventOffered         Event = "offered"          // INTERVIEW -> OFFER
	EventRejected        Event = "rejected"         // SUBMITTED|INTERVIEW -> REJECTED
	EventClosed          Event = "closed"           // OFFER|REJECTED -> CLOSED
)

// transitions is the exhaustive table of legal (current, event) -> next
// moves. Anything not listed is illegal.
var transitions = map[ApplicationStatus]map[Event]ApplicationStatus{
	StatusDraft: {
		EventDocumentsReady: StatusReadyToSubmit,
	},
	StatusReadyToSubmit: {
		EventPublished: StatusSubmitting,
	},
	StatusSubmitting: {
		EventApplied:         StatusSubmitted,
		EventWaitingApproval: StatusWaitingApproval,
		EventNeedsUserInfo:   StatusNeedsUserInfo,
		EventFailed:          StatusError,
		EventWorkerLost:      StatusError,
		// Self-loop: a maintenance-triggered retry re-enters Trigger with the
		// Application already back in SUBMITTING (via EventRetryFromError), so
		// the same EventPublished call that marks a fresh publish must also be
		// legal as an idempotent republish.
		EventPublished: StatusSubmitting,
	},
	StatusWaitingApproval: {
		EventApprovalResumed: StatusSubmitting,
	},
	StatusNeedsUserInfo: {
		EventApprovalResumed: StatusSubmitting,
	},
	StatusError: {
		EventRetryFromError: StatusSubmitting,
	},
	StatusSubmitted: {
		EventInterviewed: StatusInterview,
		EventRejected:    StatusRejected,
	},
	StatusInterview: {
		EventOffered:  StatusOffer,
		EventRejected: StatusRejected,
	},
	StatusOffer: {
		EventClosed: StatusClosed,
	},
	StatusRejected: {
		EventClosed: StatusClosed,
	},
}

// Transition computes the next ApplicationStatus for (current, event), or
// returns ErrIllegalTransition wrapped with the offending pair. It has no
// side effects; internal/store calls it inside a row-locked transaction so
// I2/I3 hold under concurrent dispatcher goroutines.
func Transition(current ApplicationStatus, event Event) (ApplicationStatus, error) {
	byEvent, ok := transitions[current]
	if !ok {
		return "", fmt.Errorf("%w: no transitions defined from status %q", ErrIllegalTransition, current)
	}
	next, ok := byEvent[event]
	if !ok {
		return "", fmt.Errorf("%w: event %q not legal from status %q", ErrIllegalTransition, event, current)
	}
	return next, nil
}
