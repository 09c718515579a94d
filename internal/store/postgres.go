package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: utcNow}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

const postgresMigration = `
CREATE TABLE IF NOT EXISTS outreach_requests (
	id         TEXT PRIMARY KEY,
	service    TEXT NOT NULL,
	location   TEXT NOT NULL,
	payload    JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS providers (
	request_id  TEXT NOT NULL REFERENCES outreach_requests(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	provider_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	phone       TEXT NOT NULL DEFAULT '',
	payload     JSONB NOT NULL,
	PRIMARY KEY (request_id, position)
);

CREATE TABLE IF NOT EXISTS call_results (
	request_id     TEXT NOT NULL REFERENCES outreach_requests(id) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	call_id        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	backend        TEXT NOT NULL,
	provider_phone TEXT NOT NULL DEFAULT '',
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (request_id, position)
);

CREATE TABLE IF NOT EXISTS recommendations (
	request_id TEXT PRIMARY KEY REFERENCES outreach_requests(id) ON DELETE CASCADE,
	method     TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	request        JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	failed_phase   TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_outreach_requests_status ON outreach_requests(status);
CREATE INDEX IF NOT EXISTS idx_call_results_call_id ON call_results(call_id);
CREATE INDEX IF NOT EXISTS idx_call_results_status ON call_results(status);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *model.OutreachRequest) error {
	prepareRequest(req, s.now())

	payload, err := json.Marshal(req)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal request")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO outreach_requests (id, service, location, payload, status, error, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.Service, req.Location, payload, string(req.Status), req.Error, req.CreatedAt, req.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert request")
}

func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, id string, status model.RequestStatus, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_requests SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errText, s.now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update request status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "request %s", id)
	}
	return nil
}

const selectRequest = `SELECT payload, status, error, created_at, updated_at FROM outreach_requests`

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.OutreachRequest, error) {
	var (
		payload          []byte
		status, errText  string
		created, updated time.Time
	)
	err := s.pool.QueryRow(ctx, selectRequest+` WHERE id = $1`, id).
		Scan(&payload, &status, &errText, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "request %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get request %s", id)
	}
	return decodeRequest(payload, status, errText, created, updated)
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]model.OutreachRequest, error) {
	query := selectRequest + ` WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.pool.Query(ctx, query, string(filter.Status), limit, max(filter.Offset, 0))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requests")
	}
	defer rows.Close()

	var out []model.OutreachRequest
	for rows.Next() {
		var (
			payload          []byte
			status, errText  string
			created, updated time.Time
		)
		if err := rows.Scan(&payload, &status, &errText, &created, &updated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan request")
		}
		r, err := decodeRequest(payload, status, errText, created, updated)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list requests iterate")
}

func (s *PostgresStore) SaveProviders(ctx context.Context, requestID string, providers []model.Provider) error {
	rows, err := providerRows(requestID, providers)
	if err != nil {
		return err
	}
	_, err = db.ReplaceScoped(ctx, s.pool, db.ScopedReplace{
		Table:       "providers",
		ScopeColumn: "request_id",
		ScopeValue:  requestID,
		Columns:     providerColumns,
	}, rows)
	return eris.Wrapf(err, "postgres: save providers for %s", requestID)
}

func (s *PostgresStore) ListProviders(ctx context.Context, requestID string) ([]model.Provider, error) {
	return listPayloads[model.Provider](ctx, s.pool, `SELECT payload FROM providers WHERE request_id = $1 ORDER BY position`, requestID)
}

func (s *PostgresStore) SaveCallResults(ctx context.Context, requestID string, results []model.CallResult) error {
	rows, err := callResultRows(requestID, results, s.now())
	if err != nil {
		return err
	}
	_, err = db.ReplaceScoped(ctx, s.pool, db.ScopedReplace{
		Table:       "call_results",
		ScopeColumn: "request_id",
		ScopeValue:  requestID,
		Columns:     callResultColumns,
	}, rows)
	return eris.Wrapf(err, "postgres: save call results for %s", requestID)
}

func (s *PostgresStore) ListCallResults(ctx context.Context, requestID string) ([]model.CallResult, error) {
	return listPayloads[model.CallResult](ctx, s.pool, `SELECT payload FROM call_results WHERE request_id = $1 ORDER BY position`, requestID)
}

func (s *PostgresStore) SaveRecommendation(ctx context.Context, requestID string, set *model.RecommendationSet) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal recommendation")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO recommendations (request_id, method, payload, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id) DO UPDATE SET method = EXCLUDED.method, payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
		requestID, string(set.Method), payload, s.now(),
	)
	return eris.Wrapf(err, "postgres: save recommendation for %s", requestID)
}

func (s *PostgresStore) GetRecommendation(ctx context.Context, requestID string) (*model.RecommendationSet, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM recommendations WHERE request_id = $1`, requestID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "recommendation for %s", requestID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get recommendation for %s", requestID)
	}
	var set model.RecommendationSet
	if err := json.Unmarshal(payload, &set); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal recommendation")
	}
	return &set, nil
}

// Dead letter queue methods

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	entry = prepareDLQ(entry, s.now())
	reqJSON, err := json.Marshal(entry.Request)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq request")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, request, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $3, error_type = $4, failed_phase = $5, retry_count = $6,
		   next_retry_at = $8, last_failed_at = $10`,
		entry.ID, reqJSON, entry.Error, entry.ErrorType,
		entry.FailedPhase, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, request, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at
		 FROM dead_letter_queue
		 WHERE next_retry_at <= $1 AND retry_count < max_retries AND ($2 = '' OR error_type = $2)
		 ORDER BY next_retry_at ASC LIMIT $3`,
		s.now(), filter.ErrorType, dlqLimit(filter),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	entries := []resilience.DLQEntry{}
	for rows.Next() {
		var (
			e       resilience.DLQEntry
			reqJSON []byte
		)
		if err := rows.Scan(&e.ID, &reqJSON, &e.Error, &e.ErrorType, &e.FailedPhase,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if err := json.Unmarshal(reqJSON, &e.Request); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq request")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = $3
		 WHERE id = $4`,
		nextRetryAt, lastErr, s.now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dlq entry %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

func listPayloads[T any](ctx context.Context, pool db.Pool, query string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query")
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan payload")
		}
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal payload")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate")
}
