package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: utcNow}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS outreach_requests (
	id         TEXT PRIMARY KEY,
	service    TEXT NOT NULL,
	location   TEXT NOT NULL,
	payload    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS providers (
	request_id  TEXT NOT NULL REFERENCES outreach_requests(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	provider_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	phone       TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL,
	PRIMARY KEY (request_id, position)
);

CREATE TABLE IF NOT EXISTS call_results (
	request_id     TEXT NOT NULL REFERENCES outreach_requests(id) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	call_id        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	backend        TEXT NOT NULL,
	provider_phone TEXT NOT NULL DEFAULT '',
	payload        TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (request_id, position)
);

CREATE TABLE IF NOT EXISTS recommendations (
	request_id TEXT PRIMARY KEY REFERENCES outreach_requests(id) ON DELETE CASCADE,
	method     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	request        TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	failed_phase   TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outreach_requests_status ON outreach_requests(status);
CREATE INDEX IF NOT EXISTS idx_call_results_call_id ON call_results(call_id);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *model.OutreachRequest) error {
	prepareRequest(req, s.now())

	payload, err := json.Marshal(req)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal request")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outreach_requests (id, service, location, payload, status, error, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Service, req.Location, string(payload), string(req.Status), req.Error, req.CreatedAt, req.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert request")
}

func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, id string, status model.RequestStatus, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outreach_requests SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errText, s.now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update request status %s", id)
	}
	return checkRowsAffected(res, "request", id)
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.OutreachRequest, error) {
	row := s.db.QueryRowContext(ctx, selectRequest+` WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "request %s", id)
	}
	return r, err
}

func (s *SQLiteStore) ListRequests(ctx context.Context, filter RequestFilter) ([]model.OutreachRequest, error) {
	query := selectRequest + ` WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requests")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.OutreachRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list requests iterate")
}

func (s *SQLiteStore) SaveProviders(ctx context.Context, requestID string, providers []model.Provider) error {
	rows, err := providerRows(requestID, providers)
	if err != nil {
		return err
	}
	return s.replace(ctx, "providers", requestID,
		`INSERT INTO providers (request_id, position, provider_id, name, phone, payload) VALUES (?, ?, ?, ?, ?, ?)`, rows)
}

func (s *SQLiteStore) ListProviders(ctx context.Context, requestID string) ([]model.Provider, error) {
	return sqlitePayloads[model.Provider](ctx, s.db, `SELECT payload FROM providers WHERE request_id = ? ORDER BY position`, requestID)
}

func (s *SQLiteStore) SaveCallResults(ctx context.Context, requestID string, results []model.CallResult) error {
	rows, err := callResultRows(requestID, results, s.now())
	if err != nil {
		return err
	}
	return s.replace(ctx, "call_results", requestID,
		`INSERT INTO call_results (request_id, position, call_id, status, backend, provider_phone, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, rows)
}

func (s *SQLiteStore) ListCallResults(ctx context.Context, requestID string) ([]model.CallResult, error) {
	return sqlitePayloads[model.CallResult](ctx, s.db, `SELECT payload FROM call_results WHERE request_id = ? ORDER BY position`, requestID)
}

func (s *SQLiteStore) SaveRecommendation(ctx context.Context, requestID string, set *model.RecommendationSet) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal recommendation")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recommendations (request_id, method, payload, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (request_id) DO UPDATE SET method = excluded.method, payload = excluded.payload, created_at = excluded.created_at`,
		requestID, string(set.Method), string(payload), s.now(),
	)
	return eris.Wrapf(err, "sqlite: save recommendation for %s", requestID)
}

func (s *SQLiteStore) GetRecommendation(ctx context.Context, requestID string) (*model.RecommendationSet, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM recommendations WHERE request_id = ?`, requestID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "recommendation for %s", requestID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get recommendation for %s", requestID)
	}
	var set model.RecommendationSet
	if err := json.Unmarshal([]byte(payload), &set); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal recommendation")
	}
	return &set, nil
}

// Dead letter queue methods

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	entry = prepareDLQ(entry, s.now())
	reqJSON, err := json.Marshal(entry.Request)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq request")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, request, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, failed_phase = excluded.failed_phase,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, string(reqJSON), entry.Error, entry.ErrorType, entry.FailedPhase,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, request, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{s.now()}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`
	args = append(args, dlqLimit(filter))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close() //nolint:errcheck

	entries := []resilience.DLQEntry{}
	for rows.Next() {
		var (
			e       resilience.DLQEntry
			reqJSON string
		)
		if err := rows.Scan(&e.ID, &reqJSON, &e.Error, &e.ErrorType, &e.FailedPhase,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if err := json.Unmarshal([]byte(reqJSON), &e.Request); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq request")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, s.now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// replace swaps the rows owned by requestID in one transaction.
func (s *SQLiteStore) replace(ctx context.Context, table, requestID, insert string, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin %s", table)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE request_id = ?`, requestID); err != nil {
		return eris.Wrapf(err, "sqlite: clear %s for %s", table, requestID)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare %s insert", table)
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s for %s", table, requestID)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", table)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRequest(row scannable) (*model.OutreachRequest, error) {
	var (
		payload, status, errText string
		created, updated         time.Time
	)
	if err := row.Scan(&payload, &status, &errText, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan request")
	}
	return decodeRequest([]byte(payload), status, errText, created, updated)
}

func sqlitePayloads[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query")
	}
	defer rows.Close() //nolint:errcheck

	out := []T{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan payload")
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal payload")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate")
}
