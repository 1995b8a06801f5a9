package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/facesync/internal/config"
	"github.com/your-org/facesync/internal/models"
	"github.com/your-org/facesync/internal/observability"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	return NewPostgresStoreFromDSN(cfg.DSN(), cfg.MaxConns)
}

func NewPostgresStoreFromDSN(dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Identities ---
// The employees table belongs to the HR application; it is only read here.

// ExistsActive reports whether identityID is a known, active employee.
func (s *PostgresStore) ExistsActive(ctx context.Context, identityID int64) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx,
		`SELECT is_active FROM employees WHERE id = $1`, identityID,
	).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup employee %d: %w", identityID, err)
	}
	return active, nil
}

// IdentityName returns the display name of identityID, or "" if unknown.
func (s *PostgresStore) IdentityName(ctx context.Context, identityID int64) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx,
		`SELECT full_name FROM employees WHERE id = $1`, identityID,
	).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("lookup employee name %d: %w", identityID, err)
	}
	return name, nil
}

// --- Profiles ---

const profileColumns = `identity_id, embeddings_count, is_active, external_ref, created_at, last_updated`

func scanProfile(row pgx.Row) (*models.ProfileRecord, error) {
	p := &models.ProfileRecord{}
	err := row.Scan(&p.IdentityID, &p.EmbeddingsCount, &p.IsActive, &p.ExternalDocumentRef, &p.CreatedAt, &p.LastUpdated)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, identityID int64) (*models.ProfileRecord, error) {
	defer observeIndex("get", time.Now())

	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM biometric_profiles WHERE identity_id = $1`, identityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile %d: %w", identityID, err)
	}
	return p, nil
}

// UpsertProfile sets every field of identityID's row in one statement.
func (s *PostgresStore) UpsertProfile(ctx context.Context, identityID int64, count int, ref string, active bool) (*models.ProfileRecord, error) {
	defer observeIndex("upsert", time.Now())

	p, err := scanProfile(s.pool.QueryRow(ctx,
		`INSERT INTO biometric_profiles (identity_id, embeddings_count, is_active, external_ref)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (identity_id) DO UPDATE SET
		   embeddings_count = EXCLUDED.embeddings_count,
		   is_active = EXCLUDED.is_active,
		   external_ref = EXCLUDED.external_ref,
		   last_updated = NOW()
		 RETURNING `+profileColumns,
		identityID, count, active, ref))
	if err != nil {
		return nil, fmt.Errorf("upsert profile %d: %w", identityID, err)
	}
	return p, nil
}

// DeactivateProfile marks the row inactive and zeroes its count. It reports
// whether a row existed.
func (s *PostgresStore) DeactivateProfile(ctx context.Context, identityID int64) (bool, error) {
	defer observeIndex("deactivate", time.Now())

	tag, err := s.pool.Exec(ctx,
		`UPDATE biometric_profiles SET is_active = FALSE, embeddings_count = 0, last_updated = NOW()
		 WHERE identity_id = $1`, identityID)
	if err != nil {
		return false, fmt.Errorf("deactivate profile %d: %w", identityID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListActiveProfileIDs(ctx context.Context) ([]int64, error) {
	defer observeIndex("list_active", time.Now())

	rows, err := s.pool.Query(ctx,
		`SELECT identity_id FROM biometric_profiles WHERE is_active ORDER BY identity_id`)
	if err != nil {
		return nil, fmt.Errorf("list active profiles: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan active profiles: %w", err)
	}
	return ids, nil
}

// --- Attempt records ---

const attemptColumns = `origin_ip, attempts_count, last_attempt_at, blocked_until`

func scanAttempt(row pgx.Row) (*models.AttemptRecord, error) {
	r := &models.AttemptRecord{}
	if err := row.Scan(&r.OriginIP, &r.AttemptsCount, &r.LastAttemptAt, &r.BlockedUntil); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) GetAttemptRecord(ctx context.Context, origin string) (*models.AttemptRecord, error) {
	r, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempt_records WHERE origin_ip = $1`, origin))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attempt record %s: %w", origin, err)
	}
	return r, nil
}

// IncrementFailures counts one failure for origin in a single statement. An
// elapsed block restarts the count; an active block is never extended.
func (s *PostgresStore) IncrementFailures(ctx context.Context, origin string, now time.Time, threshold int, lockout time.Duration) (*models.AttemptRecord, error) {
	blockUntil := now.Add(lockout)
	r, err := scanAttempt(s.pool.QueryRow(ctx,
		`INSERT INTO attempt_records AS a (origin_ip, attempts_count, last_attempt_at, blocked_until)
		 VALUES ($1, 1, $2, CASE WHEN 1 >= $3 THEN $4::timestamptz END)
		 ON CONFLICT (origin_ip) DO UPDATE SET
		   attempts_count = CASE WHEN a.blocked_until IS NOT NULL AND a.blocked_until <= $2
		                         THEN 1 ELSE a.attempts_count + 1 END,
		   last_attempt_at = $2,
		   blocked_until = CASE
		     WHEN a.blocked_until IS NOT NULL AND a.blocked_until > $2 THEN a.blocked_until
		     WHEN (CASE WHEN a.blocked_until IS NOT NULL AND a.blocked_until <= $2
		                THEN 1 ELSE a.attempts_count + 1 END) >= $3 THEN $4::timestamptz
		     ELSE NULL END
		 RETURNING `+attemptColumns,
		origin, now, threshold, blockUntil))
	if err != nil {
		return nil, fmt.Errorf("increment failures %s: %w", origin, err)
	}
	return r, nil
}

func (s *PostgresStore) ResetAttempts(ctx context.Context, origin string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE attempt_records SET attempts_count = 0, blocked_until = NULL WHERE origin_ip = $1`, origin)
	if err != nil {
		return fmt.Errorf("reset attempts %s: %w", origin, err)
	}
	return nil
}

// --- Attempt log ---

func (s *PostgresStore) InsertAttemptLog(ctx context.Context, entry *models.AttemptLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO attempt_logs (id, action, identity_id, success, confidence, origin_ip, error_message, latency_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		entry.ID, entry.Action, entry.IdentityID, entry.Success, entry.Confidence,
		entry.OriginIP, entry.ErrorMessage, entry.LatencyMS,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert attempt log: %w", err)
	}
	return nil
}

// RecentAttemptLogs returns the newest entries, optionally for one origin.
func (s *PostgresStore) RecentAttemptLogs(ctx context.Context, origin string, limit int) ([]models.AttemptLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT id, action, identity_id, success, confidence, origin_ip, error_message, latency_ms, created_at
	          FROM attempt_logs`
	args := []interface{}{}
	if origin != "" {
		query += ` WHERE origin_ip = $1`
		args = append(args, origin)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempt logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AttemptLog
	for rows.Next() {
		var l models.AttemptLog
		if err := rows.Scan(&l.ID, &l.Action, &l.IdentityID, &l.Success, &l.Confidence,
			&l.OriginIP, &l.ErrorMessage, &l.LatencyMS, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func observeIndex(op string, start time.Time) {
	observability.StoreOperationDuration.WithLabelValues("profiles", op).Observe(time.Since(start).Seconds())
}
