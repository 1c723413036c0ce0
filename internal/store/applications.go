package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jobagent/orchestrator/internal/domain"
)

// ApplicationStore persists Applications and enforces the state machine's
// transactional invariants at the store layer, wrapping each mutation in
// an explicit BeginTx/commit/rollback-on-defer transaction.
type ApplicationStore struct{ Pool *pgxpool.Pool }

// NewApplicationStore constructs an ApplicationStore.
func NewApplicationStore(pool *pgxpool.Pool) *ApplicationStore { return &ApplicationStore{Pool: pool} }

// GetActiveByRole returns the non-terminal Application for (profileID,
// roleID), if any — enforcing at most one active Application per
// (profile, role) — consumed by the dispatcher's Intake to decide
// reuse-vs-create.
func (s *ApplicationStore) GetActiveByRole(ctx domain.Context, profileID, roleID int64) (*domain.Application, error) {
	tracer := otel.Tracer("store.applications")
	ctx, span := tracer.Start(ctx, "applications.GetActiveByRole")
	defer span.End()

	row := s.Pool.QueryRow(ctx, `
		SELECT `+applicationColumns+`
		FROM applications
		WHERE profile_id=$1 AND role_id=$2 AND status NOT IN ('error','closed','rejected')
		ORDER BY id DESC LIMIT 1
	`, profileID, roleID)
	out, err := scanApplication(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("op=application.get_active: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=application.get_active: %w", err)
	}
	return out, nil
}

// Create inserts a new Application in DRAFT status.
func (s *ApplicationStore) Create(ctx domain.Context, a *domain.Application) (int64, error) {
	tracer := otel.Tracer("store.applications")
	ctx, span := tracer.Start(ctx, "applications.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "applications"))

	if a.Status == "" {
		a.Status = domain.StatusDraft
	}
	customAnswers, err := marshalCustomAnswers(a.CustomAnswers)
	if err != nil {
		return 0, fmt.Errorf("op=application.create: %w", err)
	}
	now := time.Now().UTC()
	var id int64
	err = s.Pool.QueryRow(ctx, `
		INSERT INTO applications (profile_id, role_id, status, custom_answers, notes, attempts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,$6) RETURNING id
	`, a.ProfileID, a.RoleID, a.Status, customAnswers, a.Notes, now).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		const uniqueViolation = "23505"
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("op=application.create: %w: an active application already exists for this role", domain.ErrConflict)
		}
		return 0, fmt.Errorf("op=application.create: %w", err)
	}
	return id, nil
}

// Get loads an Application by ID.
func (s *ApplicationStore) Get(ctx domain.Context, id int64) (*domain.Application, error) {
	tracer := otel.Tracer("store.applications")
	ctx, span := tracer.Start(ctx, "applications.Get")
	defer span.End()

	row := s.Pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=$1`, id)
	out, err := scanApplication(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("op=application.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=application.get: %w", err)
	}
	return out, nil
}

// List returns all Applications with the given status, or all Applications if status is "".
func (s *ApplicationStore) List(ctx domain.Context, status domain.ApplicationStatus) ([]*domain.Application, error) {
	tracer := otel.Tracer("store.applications")
	ctx, span := tracer.Start(ctx, "applications.List")
	defer span.End()

	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.Pool.Query(ctx, `SELECT `+applicationColumns+` FROM applications ORDER BY id DESC`)
	} else {
		rows, err = s.Pool.Query(ctx, `SELECT `+applicationColumns+` FROM applications WHERE status=$1 ORDER BY id DESC`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("op=application.list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("op=application.list.scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=application.list.rows: %w", err)
	}
	return out, nil
}

// ApplyTransition loads the Application under SELECT ... FOR UPDATE (row
// lock), computes the next status via domain.Transition, lets mutate apply
// any field changes, and commits atomically. This is the single choke
// point through which every Application status change flows, keeping
// transitions consistent under concurrent dispatcher goroutines.
func (s *ApplicationStore) ApplyTransition(ctx domain.Context, id int64, event domain.Event, mutate func(a *domain.Application) error) error {
	tracer := otel.Tracer("store.applications")
	ctx, span := tracer.Start(ctx, "applications.ApplyTransition")
	defer span.End()
	span.SetAttributes(attribute.String("db.operation", "UPDATE"), attribute.Int64("application.id", id))

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=application.apply_transition.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=$1 FOR UPDATE`, id)
	a, err := scanApplication(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("op=application.apply_transition: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=application.apply_transition: %w", err)
	}

	next, err := domain.Transition(a.Status, event)
	if err != nil {
		return fmt.Errorf("op=application.apply_transition: %w", err)
	}
	a.Status = next

	if mutate != nil {
		if err := mutate(a); err != nil {
			return fmt.Errorf("op=application.apply_transition.mutate: %w", err)
		}
	}

	customAnswers, err := marshalCustomAnswers(a.CustomAnswers)
	if err != nil {
		return fmt.Errorf("op=application.apply_transition: %w", err)
	}
	approvalContext, err := marshalApprovalContext(a.ApprovalContext)
	if err != nil {
		return fmt.Errorf("op=application.apply_transition: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE applications SET
			status=$2, queue_task_id=$3, resume_url=$4, cover_letter_url=$5,
			custom_answers=$6, approval_context=$7, screenshot_url=$8, error_message=$9,
			notes=$10, attempts=$11, submitted_at=$12, updated_at=$13
		WHERE id=$1
	`, id, a.Status, a.QueueTaskID, a.ResumeURL, a.CoverLetterURL, customAnswers, approvalContext,
		a.ScreenshotURL, a.ErrorMessage, a.Notes, a.Attempts, a.SubmittedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=application.apply_transition.exec: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=application.apply_transition.commit: %w", err)
	}
	committed = true
	return nil
}

// ListStuckSubmitting returns SUBMITTING applications whose updated_at is
// older than olderThan, for the maintenance loop's stale-task scan.
func (s *ApplicationStore) ListStuckSubmitting(ctx domain.Context, olderThan time.Time) ([]*domain.Application, error) {
	tracer := otel.Tracer("store.applications")
	ctx, span := tracer.Start(ctx, "applications.ListStuckSubmitting")
	defer span.End()

	rows, err := s.Pool.Query(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE status=$1 AND updated_at < $2
	`, domain.StatusSubmitting, olderThan)
	if err != nil {
		return nil, fmt.Errorf("op=application.list_stuck: %w", err)
	}
	defer rows.Close()

	var out []*domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("op=application.list_stuck.scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// OldestWaitingApproval returns the oldest WAITING_APPROVAL application for
// a profile, used by the HITL controller's free-text intent resolution.
func (s *ApplicationStore) OldestWaitingApproval(ctx domain.Context, profileID int64) (*domain.Application, error) {
	tracer := otel.Tracer("store.applications")
	ctx, span := tracer.Start(ctx, "applications.OldestWaitingApproval")
	defer span.End()

	row := s.Pool.QueryRow(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE profile_id=$1 AND status=$2 ORDER BY updated_at ASC LIMIT 1
	`, profileID, domain.StatusWaitingApproval)
	out, err := scanApplication(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("op=application.oldest_waiting_approval: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=application.oldest_waiting_approval: %w", err)
	}
	return out, nil
}

// SetApprovalContext overwrites approval_context without a status
// transition, for an approval_request whose Application is parked in
// WAITING_APPROVAL or NEEDS_USER_INFO, or still SUBMITTING when the
// approval_request arrives before its status update.
func (s *ApplicationStore) SetApprovalContext(ctx domain.Context, id int64, approvalCtx *domain.ApprovalContext) error {
	tracer := otel.Tracer("store.applications")
	ctx, span := tracer.Start(ctx, "applications.SetApprovalContext")
	defer span.End()
	span.SetAttributes(attribute.Int64("application.id", id))

	data, err := marshalApprovalContext(approvalCtx)
	if err != nil {
		return fmt.Errorf("op=application.set_approval_context: %w", err)
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE applications SET approval_context=$2, updated_at=$3 WHERE id=$1`, id, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=application.set_approval_context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=application.set_approval_context: %w", domain.ErrNotFound)
	}
	return nil
}

var _ domain.ApplicationRepository = (*ApplicationStore)(nil)

const applicationColumns = `
	id, profile_id, role_id, status, queue_task_id, resume_url, cover_letter_url,
	custom_answers, approval_context, screenshot_url, error_message, notes, attempts,
	submitted_at, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*domain.Application, error) {
	var a domain.Application
	var customAnswers, approvalContext []byte
	if err := row.Scan(
		&a.ID, &a.ProfileID, &a.RoleID, &a.Status, &a.QueueTaskID, &a.ResumeURL, &a.CoverLetterURL,
		&customAnswers, &approvalContext, &a.ScreenshotURL, &a.ErrorMessage, &a.Notes, &a.Attempts,
		&a.SubmittedAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(customAnswers) > 0 {
		if err := json.Unmarshal(customAnswers, &a.CustomAnswers); err != nil {
			return nil, fmt.Errorf("unmarshal custom_answers: %w", err)
		}
	}
	if len(approvalContext) > 0 {
		var ac domain.ApprovalContext
		if err := json.Unmarshal(approvalContext, &ac); err != nil {
			return nil, fmt.Errorf("unmarshal approval_context: %w", err)
		}
		a.ApprovalContext = &ac
	}
	return &a, nil
}

func marshalCustomAnswers(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal custom_answers: %w", err)
	}
	return data, nil
}

func marshalApprovalContext(ac *domain.ApprovalContext) ([]byte, error) {
	if ac == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(ac)
	if err != nil {
		return nil, fmt.Errorf("marshal approval_context: %w", err)
	}
	return data, nil
}
