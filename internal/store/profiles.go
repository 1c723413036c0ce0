package store

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jobagent/orchestrator/internal/domain"
)

// ProfileStore persists Profile, Preference, and Credential rows.
type ProfileStore struct{ Pool *pgxpool.Pool }

// NewProfileStore constructs a ProfileStore.
func NewProfileStore(pool *pgxpool.Pool) *ProfileStore { return &ProfileStore{Pool: pool} }

// Create inserts a new Profile and returns its id.
func (s *ProfileStore) Create(ctx domain.Context, p *domain.Profile) (int64, error) {
	tracer := otel.Tracer("store.profiles")
	ctx, span := tracer.Start(ctx, "profiles.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "profiles"))

	now := time.Now().UTC()
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO profiles (headline, summary, created_at, updated_at) VALUES ($1,$2,$3,$3) RETURNING id
	`, p.Headline, p.Summary, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("op=profile.create: %w", err)
	}
	return id, nil
}

// Get loads a Profile by ID.
func (s *ProfileStore) Get(ctx domain.Context, id int64) (*domain.Profile, error) {
	tracer := otel.Tracer("store.profiles")
	ctx, span := tracer.Start(ctx, "profiles.Get")
	defer span.End()

	var out domain.Profile
	err := s.Pool.QueryRow(ctx, `SELECT id, headline, summary, created_at, updated_at FROM profiles WHERE id=$1`, id).
		Scan(&out.ID, &out.Headline, &out.Summary, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("op=profile.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=profile.get: %w", err)
	}
	return &out, nil
}

// Update persists changed Headline/Summary fields.
func (s *ProfileStore) Update(ctx domain.Context, p *domain.Profile) error {
	tracer := otel.Tracer("store.profiles")
	ctx, span := tracer.Start(ctx, "profiles.Update")
	defer span.End()

	tag, err := s.Pool.Exec(ctx, `UPDATE profiles SET headline=$2, summary=$3, updated_at=$4 WHERE id=$1`,
		p.ID, p.Headline, p.Summary, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=profile.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=profile.update: %w", domain.ErrNotFound)
	}
	return nil
}

// UpsertPreferences writes each (profile_id, key) -> value pair, unique per key.
func (s *ProfileStore) UpsertPreferences(ctx domain.Context, profileID int64, prefs map[string]string) error {
	tracer := otel.Tracer("store.profiles")
	ctx, span := tracer.Start(ctx, "profiles.UpsertPreferences")
	defer span.End()

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=preference.upsert.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	for k, v := range prefs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO preferences (profile_id, key, value) VALUES ($1,$2,$3)
			ON CONFLICT (profile_id, key) DO UPDATE SET value = EXCLUDED.value
		`, profileID, k, v); err != nil {
			return fmt.Errorf("op=preference.upsert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=preference.upsert.commit: %w", err)
	}
	committed = true
	return nil
}

// GetPreferences returns all preferences for a profile as a map.
func (s *ProfileStore) GetPreferences(ctx domain.Context, profileID int64) (map[string]string, error) {
	tracer := otel.Tracer("store.profiles")
	ctx, span := tracer.Start(ctx, "profiles.GetPreferences")
	defer span.End()

	rows, err := s.Pool.Query(ctx, `SELECT key, value FROM preferences WHERE profile_id=$1`, profileID)
	if err != nil {
		return nil, fmt.Errorf("op=preference.list: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("op=preference.list.scan: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=preference.list.rows: %w", err)
	}
	return out, nil
}

var _ domain.ProfileRepository = (*ProfileStore)(nil)

// CredentialStore persists per-site Credential ciphertext (I5).
type CredentialStore struct{ Pool *pgxpool.Pool }

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore { return &CredentialStore{Pool: pool} }

// Upsert writes a Credential, unique per (profile_id, site_hostname).
func (s *CredentialStore) Upsert(ctx domain.Context, c *domain.Credential) error {
	tracer := otel.Tracer("store.credentials")
	ctx, span := tracer.Start(ctx, "credentials.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "credentials"))

	now := time.Now().UTC()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO credentials (profile_id, site_hostname, username, password_cipher, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (profile_id, site_hostname) DO UPDATE
		  SET username = EXCLUDED.username, password_cipher = EXCLUDED.password_cipher, updated_at = EXCLUDED.updated_at
	`, c.ProfileID, c.SiteHostname, c.Username, c.PasswordCipher, now)
	if err != nil {
		return fmt.Errorf("op=credential.upsert: %w", err)
	}
	return nil
}

// GetByHostname loads the Credential for (profileID, hostname).
// Never logs the returned ciphertext; callers decrypt exactly once,
// immediately before task publication.
func (s *CredentialStore) GetByHostname(ctx domain.Context, profileID int64, hostname string) (*domain.Credential, error) {
	tracer := otel.Tracer("store.credentials")
	ctx, span := tracer.Start(ctx, "credentials.GetByHostname")
	defer span.End()

	var out domain.Credential
	err := s.Pool.QueryRow(ctx, `
		SELECT id, profile_id, site_hostname, username, password_cipher, created_at, updated_at
		FROM credentials WHERE profile_id=$1 AND site_hostname=$2
	`, profileID, hostname).Scan(&out.ID, &out.ProfileID, &out.SiteHostname, &out.Username, &out.PasswordCipher, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("op=credential.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=credential.get: %w", err)
	}
	return &out, nil
}

var _ domain.CredentialRepository = (*CredentialStore)(nil)
