// Package postgres implements the storage interfaces on PostgreSQL using
// pgx. The exactly-once claim of pull locks runs SELECT ... FOR UPDATE
// followed by DELETE inside one transaction; the FOR UPDATE variant is
// chosen by the configured claim mode.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sirosfoundation/go-as4-gateway/internal/storage"
	"github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
)

// ClaimMode selects how a contended lock row is handled during TryClaim.
type ClaimMode string

const (
	// ClaimWait blocks until the competing transaction releases the row.
	ClaimWait ClaimMode = "wait"
	// ClaimNoWait fails immediately with ErrLockContended.
	ClaimNoWait ClaimMode = "nowait"
	// ClaimSkipLocked treats a locked row as absent.
	ClaimSkipLocked ClaimMode = "skip_locked"
)

func (m ClaimMode) lockClause() (string, error) {
	switch m {
	case ClaimWait, "":
		return "FOR UPDATE", nil
	case ClaimNoWait:
		return "FOR UPDATE NOWAIT", nil
	case ClaimSkipLocked:
		return "FOR UPDATE SKIP LOCKED", nil
	default:
		return "", fmt.Errorf("postgres: unknown claim mode %q", string(m))
	}
}

// lockNotAvailable is the SQLSTATE raised by FOR UPDATE NOWAIT on a
// locked row.
const lockNotAvailable = "55P03"

// Config holds PostgreSQL connection settings.
type Config struct {
	ConnString string
	ClaimMode  ClaimMode
}

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	claimMode ClaimMode
}

// NewStore connects to PostgreSQL and ensures the schema exists.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: empty connection string")
	}
	if _, err := cfg.ClaimMode.lockClause(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	s := &Store{pool: pool, claimMode: cfg.ClaimMode}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS delivery_logs (
			id                  TEXT PRIMARY KEY,
			message_id          TEXT NOT NULL,
			msh_role            TEXT NOT NULL,
			status              TEXT NOT NULL,
			mpc                 TEXT NOT NULL,
			pmode_key           TEXT NOT NULL,
			backend_name        TEXT NOT NULL,
			send_attempts       INTEGER NOT NULL DEFAULT 0,
			send_attempts_max   INTEGER NOT NULL DEFAULT 0,
			next_attempt        TIMESTAMPTZ,
			received            TIMESTAMPTZ NOT NULL,
			deleted             TIMESTAMPTZ,
			downloaded          TIMESTAMPTZ,
			failed              TIMESTAMPTZ,
			restored            TIMESTAMPTZ,
			notification_status TEXT NOT NULL,
			UNIQUE (message_id, msh_role)
		);
		CREATE INDEX IF NOT EXISTS delivery_logs_retry_idx
			ON delivery_logs (status, next_attempt);

		CREATE TABLE IF NOT EXISTS delivery_locks (
			id                TEXT PRIMARY KEY,
			message_id        TEXT NOT NULL UNIQUE,
			mpc               TEXT NOT NULL,
			initiator_party   TEXT NOT NULL,
			staled_at         TIMESTAMPTZ NOT NULL,
			send_attempts     INTEGER NOT NULL DEFAULT 0,
			send_attempts_max INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS delivery_locks_mpc_idx
			ON delivery_locks (mpc, initiator_party, staled_at);

		CREATE TABLE IF NOT EXISTS raw_envelopes (
			message_id TEXT PRIMARY KEY,
			envelope   BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// DeliveryLogStore implementation

func (s *Store) CreateDeliveryLog(ctx context.Context, log *storage.DeliveryLog) error {
	const query = `
		INSERT INTO delivery_logs (
			id, message_id, msh_role, status, mpc, pmode_key, backend_name,
			send_attempts, send_attempts_max, next_attempt,
			received, deleted, downloaded, failed, restored, notification_status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`

	_, err := s.pool.Exec(ctx, query,
		log.ID, log.MessageID, log.MshRole, log.Status, log.Mpc, log.PModeKey, log.BackendName,
		log.SendAttempts, log.SendAttemptsMax, log.NextAttempt,
		log.Received, log.Deleted, log.Downloaded, log.Failed, log.Restored, log.NotificationStatus,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("delivery log for message %s: %w", log.MessageID, storage.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: create delivery log: %w", err)
	}
	return nil
}

const deliveryLogColumns = `
	id, message_id, msh_role, status, mpc, pmode_key, backend_name,
	send_attempts, send_attempts_max, next_attempt,
	received, deleted, downloaded, failed, restored, notification_status
`

func scanDeliveryLog(row pgx.Row) (*storage.DeliveryLog, error) {
	var log storage.DeliveryLog
	err := row.Scan(
		&log.ID, &log.MessageID, &log.MshRole, &log.Status, &log.Mpc, &log.PModeKey, &log.BackendName,
		&log.SendAttempts, &log.SendAttemptsMax, &log.NextAttempt,
		&log.Received, &log.Deleted, &log.Downloaded, &log.Failed, &log.Restored, &log.NotificationStatus,
	)
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (s *Store) GetDeliveryLog(ctx context.Context, messageID string, role reliability.MshRole) (*storage.DeliveryLog, error) {
	query := `SELECT ` + deliveryLogColumns + ` FROM delivery_logs WHERE message_id = $1 AND msh_role = $2`

	log, err := scanDeliveryLog(s.pool.QueryRow(ctx, query, messageID, role))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get delivery log: %w", err)
	}
	return log, nil
}

func (s *Store) UpdateDeliveryLog(ctx context.Context, log *storage.DeliveryLog) error {
	const query = `
		UPDATE delivery_logs SET
			status = $2, mpc = $3, pmode_key = $4, backend_name = $5,
			send_attempts = $6, send_attempts_max = $7, next_attempt = $8,
			deleted = $9, downloaded = $10, failed = $11, restored = $12,
			notification_status = $13
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		log.ID, log.Status, log.Mpc, log.PModeKey, log.BackendName,
		log.SendAttempts, log.SendAttemptsMax, log.NextAttempt,
		log.Deleted, log.Downloaded, log.Failed, log.Restored,
		log.NotificationStatus,
	)
	if err != nil {
		return fmt.Errorf("postgres: update delivery log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDeliveryLog(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM delivery_logs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete delivery log: %w", err)
	}
	return nil
}

func (s *Store) GetStatus(ctx context.Context, messageID string) (reliability.MessageStatus, error) {
	const query = `SELECT status FROM delivery_logs WHERE message_id = $1 LIMIT 1`

	var status reliability.MessageStatus
	err := s.pool.QueryRow(ctx, query, messageID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return reliability.StatusNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres: get status: %w", err)
	}
	return status, nil
}

func (s *Store) FindRetryDue(ctx context.Context, now time.Time, limit int) ([]*storage.DeliveryLog, error) {
	query := `
		SELECT ` + deliveryLogColumns + `
		FROM delivery_logs
		WHERE msh_role = $1
		  AND status = ANY($2)
		  AND next_attempt IS NOT NULL
		  AND next_attempt <= $3
		ORDER BY next_attempt ASC
	`
	args := []any{
		reliability.RoleSending,
		[]string{string(reliability.StatusWaitingForRetry), string(reliability.StatusWaitingForReceipt)},
		now,
	}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find retry due: %w", err)
	}
	defer rows.Close()

	var due []*storage.DeliveryLog
	for rows.Next() {
		log, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan delivery log: %w", err)
		}
		due = append(due, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate delivery logs: %w", err)
	}
	return due, nil
}

// DeliveryLockStore implementation

func (s *Store) CreateLock(ctx context.Context, lock *storage.DeliveryLock) error {
	const query = `
		INSERT INTO delivery_locks (
			id, message_id, mpc, initiator_party, staled_at,
			send_attempts, send_attempts_max
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`

	_, err := s.pool.Exec(ctx, query,
		lock.ID, lock.MessageID, lock.Mpc, lock.InitiatorParty, lock.StaledAt,
		lock.SendAttempts, lock.SendAttemptsMax,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("delivery lock for message %s: %w", lock.MessageID, storage.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: create delivery lock: %w", err)
	}
	return nil
}

// TryClaim locks and deletes the lock row in its own transaction. The row
// lock taken by SELECT FOR UPDATE serializes claimants: only the winner
// sees the row, later transactions find it deleted.
func (s *Store) TryClaim(ctx context.Context, lockID string) (*storage.DeliveryLock, error) {
	clause, err := s.claimMode.lockClause()
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT id, message_id, mpc, initiator_party, staled_at,
		       send_attempts, send_attempts_max
		FROM delivery_locks
		WHERE id = $1
		` + clause

	var lock storage.DeliveryLock
	err = tx.QueryRow(ctx, query, lockID).Scan(
		&lock.ID, &lock.MessageID, &lock.Mpc, &lock.InitiatorParty, &lock.StaledAt,
		&lock.SendAttempts, &lock.SendAttemptsMax,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
		return nil, storage.ErrLockContended
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: lock claim row: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM delivery_locks WHERE id = $1`, lockID); err != nil {
		return nil, fmt.Errorf("postgres: delete claimed lock: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit claim: %w", err)
	}
	return &lock, nil
}

func (s *Store) NextLockID(ctx context.Context, mpc, initiatorParty string) (string, error) {
	query := `
		SELECT id FROM delivery_locks
		WHERE mpc = $1
	`
	args := []any{mpc}
	if initiatorParty != "" {
		query += ` AND initiator_party = $2`
		args = append(args, initiatorParty)
	}
	query += ` ORDER BY staled_at ASC LIMIT 1`

	var id string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: next lock: %w", err)
	}
	return id, nil
}

func (s *Store) DeleteLockByMessageID(ctx context.Context, messageID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM delivery_locks WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("postgres: delete lock by message: %w", err)
	}
	return nil
}

// RawEnvelopeStore implementation

func (s *Store) StoreRawEnvelope(ctx context.Context, env *storage.RawEnvelope) error {
	const query = `
		INSERT INTO raw_envelopes (message_id, envelope, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO UPDATE SET envelope = $2, created_at = $3
	`

	if _, err := s.pool.Exec(ctx, query, env.MessageID, env.Envelope, env.CreatedAt); err != nil {
		return fmt.Errorf("postgres: store raw envelope: %w", err)
	}
	return nil
}

func (s *Store) GetRawEnvelope(ctx context.Context, messageID string) (*storage.RawEnvelope, error) {
	const query = `SELECT message_id, envelope, created_at FROM raw_envelopes WHERE message_id = $1`

	var env storage.RawEnvelope
	err := s.pool.QueryRow(ctx, query, messageID).Scan(&env.MessageID, &env.Envelope, &env.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get raw envelope: %w", err)
	}
	return &env, nil
}

func (s *Store) DeleteRawEnvelope(ctx context.Context, messageID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM raw_envelopes WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("postgres: delete raw envelope: %w", err)
	}
	return nil
}
