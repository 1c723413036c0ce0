package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jobagent/orchestrator/internal/domain"
)

// RoleStore persists deduplicated Role postings (I1).
type RoleStore struct{ Pool *pgxpool.Pool }

// NewRoleStore constructs a RoleStore.
func NewRoleStore(pool *pgxpool.Pool) *RoleStore { return &RoleStore{Pool: pool} }

// UniqueHash computes sha256(lower(trim(company))||'-'||lower(trim(title)))
// hex-encoded, the dedup key used to upsert a Role by company+title.
func UniqueHash(company, title string) string {
	norm := strings.ToLower(strings.TrimSpace(company)) + "-" + strings.ToLower(strings.TrimSpace(title))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// UpsertByHash finds or creates the Company row, then upserts the Role by
// its unique_hash (I1), returning the stored row either way.
func (s *RoleStore) UpsertByHash(ctx domain.Context, r *domain.Role) (*domain.Role, error) {
	tracer := otel.Tracer("store.roles")
	ctx, span := tracer.Start(ctx, "roles.UpsertByHash")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "roles"))

	hash := UniqueHash(r.CompanyName, r.Title)
	normalizedCompany := strings.ToLower(strings.TrimSpace(r.CompanyName))

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("op=role.upsert.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var companyID int64
	err = tx.QueryRow(ctx, `INSERT INTO companies (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, normalizedCompany).Scan(&companyID)
	if err != nil {
		return nil, fmt.Errorf("op=role.upsert.company: %w", err)
	}

	now := time.Now().UTC()
	var out domain.Role
	err = tx.QueryRow(ctx, `
		INSERT INTO roles (company_id, title, description, posting_url, unique_hash, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (unique_hash) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id, company_id, title, description, posting_url, unique_hash, status, rank_score, rank_rationale, created_at, updated_at
	`, companyID, r.Title, r.Description, r.PostingURL, hash, string(firstNonEmptyStatus(r.Status)), now).Scan(
		&out.ID, &out.CompanyID, &out.Title, &out.Description, &out.PostingURL, &out.UniqueHash,
		&out.Status, &out.RankScore, &out.RankRationale, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("op=role.upsert.role: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=role.upsert.commit: %w", err)
	}
	committed = true
	out.CompanyName = normalizedCompany
	return &out, nil
}

func firstNonEmptyStatus(s domain.RoleStatus) domain.RoleStatus {
	if s == "" {
		return domain.RoleSourced
	}
	return s
}

// Get loads a Role by ID.
func (s *RoleStore) Get(ctx domain.Context, id int64) (*domain.Role, error) {
	tracer := otel.Tracer("store.roles")
	ctx, span := tracer.Start(ctx, "roles.Get")
	defer span.End()

	var out domain.Role
	var companyName string
	err := s.Pool.QueryRow(ctx, `
		SELECT r.id, r.company_id, c.name, r.title, r.description, r.posting_url, r.unique_hash,
		       r.status, r.rank_score, r.rank_rationale, r.created_at, r.updated_at
		FROM roles r JOIN companies c ON c.id = r.company_id
		WHERE r.id = $1
	`, id).Scan(&out.ID, &out.CompanyID, &companyName, &out.Title, &out.Description, &out.PostingURL,
		&out.UniqueHash, &out.Status, &out.RankScore, &out.RankRationale, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("op=role.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=role.get: %w", err)
	}
	out.CompanyName = companyName
	return &out, nil
}

// UpdateStatus advances Role.Status. Spec §3 permits monotonic advances plus
// two regressions (ranked->sourced, applying->ranked); those policy checks
// belong to the caller (internal/dispatcher), this method is a plain write.
func (s *RoleStore) UpdateStatus(ctx domain.Context, id int64, status domain.RoleStatus) error {
	tracer := otel.Tracer("store.roles")
	ctx, span := tracer.Start(ctx, "roles.UpdateStatus")
	defer span.End()

	tag, err := s.Pool.Exec(ctx, `UPDATE roles SET status=$2, updated_at=$3 WHERE id=$1`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=role.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=role.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

var _ domain.RoleRepository = (*RoleStore)(nil)
