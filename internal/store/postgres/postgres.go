// Package postgres implements the sync store over PostgreSQL. All transaction
// writes are ON CONFLICT upserts on (account_id, external_id); the per-account
// lock is a row whose TTL expiry allows reclaim after a crash.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/store"
	"github.com/dvloznov/banksync/internal/store/migrations"
)

// Store is the PostgreSQL-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres with the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// RunMigrations applies the embedded goose migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// mapError converts driver errors into store sentinels. Serialization and
// deadlock failures become ErrConflict so callers can retry once.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return store.ErrConflict
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// GetAccount implements store.Store.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `
		SELECT id, external_account_id, access_token, cursor, sync_status,
		       sync_error, needs_relink, current_balance, last_synced_at
		FROM accounts WHERE id = $1
	`
	var a domain.Account
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&a.ID, &a.ExternalAccountID, &a.AccessToken, &a.Cursor, &a.SyncStatus,
		&a.SyncError, &a.NeedsRelink, &a.CurrentBalance, &a.LastSyncedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

// GetAccountByExternalID implements store.Store.
func (s *Store) GetAccountByExternalID(ctx context.Context, externalAccountID string) (*domain.Account, error) {
	query := `
		SELECT id, external_account_id, access_token, cursor, sync_status,
		       sync_error, needs_relink, current_balance, last_synced_at
		FROM accounts WHERE external_account_id = $1
	`
	var a domain.Account
	err := s.db.QueryRowContext(ctx, query, externalAccountID).Scan(
		&a.ID, &a.ExternalAccountID, &a.AccessToken, &a.Cursor, &a.SyncStatus,
		&a.SyncError, &a.NeedsRelink, &a.CurrentBalance, &a.LastSyncedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

// ListAccounts implements store.Store.
func (s *Store) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_account_id, access_token, cursor, sync_status,
		       sync_error, needs_relink, current_balance, last_synced_at
		FROM accounts ORDER BY id
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(
			&a.ID, &a.ExternalAccountID, &a.AccessToken, &a.Cursor, &a.SyncStatus,
			&a.SyncError, &a.NeedsRelink, &a.CurrentBalance, &a.LastSyncedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// SetSyncStatus implements store.Store.
func (s *Store) SetSyncStatus(ctx context.Context, accountID string, status domain.SyncStatus, syncErr string) error {
	return s.execExpectingRow(ctx,
		`UPDATE accounts SET sync_status = $2, sync_error = $3 WHERE id = $1`,
		accountID, string(status), syncErr)
}

// FlagRelink implements store.Store.
func (s *Store) FlagRelink(ctx context.Context, accountID string) error {
	return s.execExpectingRow(ctx,
		`UPDATE accounts SET needs_relink = TRUE WHERE id = $1`, accountID)
}

// UpdateAccountBalance implements store.Store. The WHERE clause is the
// monotonic guard: stale snapshots update zero rows and are discarded.
func (s *Store) UpdateAccountBalance(ctx context.Context, accountID string, balance float64, asOf time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET current_balance = $2, last_synced_at = $3
		WHERE id = $1 AND (last_synced_at IS NULL OR last_synced_at < $3)
	`, accountID, balance, asOf)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// UpsertTransaction implements store.Store.
func (s *Store) UpsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	emb, err := encodeEmbedding(tx.Embedding)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transactions (
			id, account_id, external_id, amount, posted_date, merchant_name,
			description, category, category_confidence, category_source,
			user_categorized, embedding, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		ON CONFLICT (account_id, external_id)
		DO UPDATE SET
			amount = EXCLUDED.amount,
			posted_date = EXCLUDED.posted_date,
			merchant_name = EXCLUDED.merchant_name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			category_confidence = EXCLUDED.category_confidence,
			category_source = EXCLUDED.category_source,
			user_categorized = EXCLUDED.user_categorized,
			embedding = EXCLUDED.embedding,
			status = EXCLUDED.status,
			updated_at = now()
	`
	_, err = s.db.ExecContext(ctx, query,
		tx.ID, tx.AccountID, tx.ExternalID, tx.Amount, tx.PostedDate,
		tx.MerchantName, tx.Description, tx.Category, tx.CategoryConfidence,
		string(tx.CategorySource), tx.UserCategorized, emb, string(tx.Status),
	)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// GetTransaction implements store.Store.
func (s *Store) GetTransaction(ctx context.Context, accountID, externalID string) (*domain.Transaction, error) {
	query := `
		SELECT id, account_id, external_id, amount, posted_date, merchant_name,
		       description, category, category_confidence, category_source,
		       user_categorized, embedding, status, created_at, updated_at
		FROM transactions WHERE account_id = $1 AND external_id = $2
	`
	return scanTransaction(s.db.QueryRowContext(ctx, query, accountID, externalID))
}

// MarkRemoved implements store.Store.
func (s *Store) MarkRemoved(ctx context.Context, accountID, externalID string) error {
	return s.execExpectingRow(ctx, `
		UPDATE transactions SET status = $3, updated_at = now()
		WHERE account_id = $1 AND external_id = $2
	`, accountID, externalID, string(domain.StatusRemoved))
}

// ListTransactions implements store.Store.
func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	query := `
		SELECT id, account_id, external_id, amount, posted_date, merchant_name,
		       description, category, category_confidence, category_source,
		       user_categorized, embedding, status, created_at, updated_at
		FROM transactions WHERE account_id = $1
		ORDER BY posted_date, external_id
	`
	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetCursor implements store.Store.
func (s *Store) GetCursor(ctx context.Context, accountID string) (*string, error) {
	var cursor sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM accounts WHERE id = $1`, accountID).Scan(&cursor)
	if err != nil {
		return nil, mapError(err)
	}
	if !cursor.Valid {
		return nil, nil
	}
	return &cursor.String, nil
}

// SetCursor implements store.Store.
func (s *Store) SetCursor(ctx context.Context, accountID, cursor string) error {
	return s.execExpectingRow(ctx,
		`UPDATE accounts SET cursor = $2 WHERE id = $1`, accountID, cursor)
}

// AcquireLock implements store.Store. The upsert only steals the row when the
// previous holder's TTL has lapsed; zero rows affected means the lock is live.
func (s *Store) AcquireLock(ctx context.Context, accountID string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_locks (account_id, acquired_at, ttl_seconds)
		VALUES ($1, now(), $2)
		ON CONFLICT (account_id) DO UPDATE
		SET acquired_at = now(), ttl_seconds = EXCLUDED.ttl_seconds
		WHERE sync_locks.acquired_at + make_interval(secs => sync_locks.ttl_seconds) <= now()
	`, accountID, int64(ttl.Seconds()))
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return store.ErrLockHeld
	}
	return nil
}

// ReleaseLock implements store.Store.
func (s *Store) ReleaseLock(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_locks WHERE account_id = $1`, accountID)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// CreateSyncRun implements store.Store.
func (s *Store) CreateSyncRun(ctx context.Context, run *domain.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, account_id, started_at, cursor_before)
		VALUES ($1, $2, $3, $4)
	`, run.ID, run.AccountID, run.StartedAt, run.CursorBefore)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// FinalizeSyncRun implements store.Store. The finished_at IS NULL guard keeps
// the audit log append-only: a second finalize updates nothing.
func (s *Store) FinalizeSyncRun(ctx context.Context, run *domain.SyncRun) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			finished_at = $2, cursor_after = $3, added_count = $4,
			modified_count = $5, removed_count = $6, page_count = $7,
			outcome = $8, error_message = $9
		WHERE id = $1 AND finished_at IS NULL
	`, run.ID, run.FinishedAt, run.CursorAfter, run.Added, run.Modified,
		run.Removed, run.Pages, string(run.Outcome), run.ErrorMessage)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

// ListSyncRuns implements store.Store.
func (s *Store) ListSyncRuns(ctx context.Context, accountID string, from, to time.Time) ([]*domain.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, started_at, finished_at, cursor_before,
		       cursor_after, added_count, modified_count, removed_count,
		       page_count, outcome, error_message
		FROM sync_runs
		WHERE account_id = $1 AND started_at >= $2 AND started_at <= $3
		ORDER BY started_at DESC
	`, accountID, from, to)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*domain.SyncRun
	for rows.Next() {
		var r domain.SyncRun
		var outcome string
		if err := rows.Scan(
			&r.ID, &r.AccountID, &r.StartedAt, &r.FinishedAt, &r.CursorBefore,
			&r.CursorAfter, &r.Added, &r.Modified, &r.Removed, &r.Pages,
			&outcome, &r.ErrorMessage,
		); err != nil {
			return nil, err
		}
		r.Outcome = domain.RunOutcome(outcome)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// execExpectingRow runs an UPDATE that must touch exactly one row.
func (s *Store) execExpectingRow(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t      domain.Transaction
		emb    sql.NullString
		source string
		status string
	)
	err := row.Scan(
		&t.ID, &t.AccountID, &t.ExternalID, &t.Amount, &t.PostedDate,
		&t.MerchantName, &t.Description, &t.Category, &t.CategoryConfidence,
		&source, &t.UserCategorized, &emb, &status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	t.CategorySource = domain.CategorySource(source)
	t.Status = domain.TransactionStatus(status)
	if emb.Valid && emb.String != "" {
		if err := json.Unmarshal([]byte(emb.String), &t.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return &t, nil
}

// encodeEmbedding serializes a vector as JSON text, NULL when absent.
func encodeEmbedding(vec []float32) (sql.NullString, error) {
	if len(vec) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode embedding: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

var _ store.Store = (*Store)(nil)
