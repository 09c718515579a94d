package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

func dlqEntry(id, errType string, nextRetryAt time.Time) resilience.DLQEntry {
	return resilience.DLQEntry{
		ID:          id,
		Request:     model.OutreachRequest{ID: id, Service: "plumbing", Location: "Austin, TX", Criteria: "licensed"},
		Error:       "google: unexpected status 503",
		ErrorType:   errType,
		FailedPhase: string(model.RequestResearching),
		MaxRetries:  3,
		NextRetryAt: nextRetryAt,
	}
}

func TestSQLite_DLQ_EnqueueAndDequeue(t *testing.T) {
	st := newTestSQLiteStore(t)
	st.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("r1", resilience.ErrorTransient, fixedNow.Add(-time.Minute))))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "r1", e.ID)
	assert.Equal(t, "plumbing", e.Request.Service)
	assert.Equal(t, "licensed", e.Request.Criteria)
	assert.Equal(t, resilience.ErrorTransient, e.ErrorType)
	assert.Equal(t, "researching", e.FailedPhase)
	assert.Equal(t, 0, e.RetryCount)
	assert.True(t, e.CreatedAt.Equal(fixedNow))
}

func TestSQLite_DLQ_DequeueFiltersErrorType(t *testing.T) {
	st := newTestSQLiteStore(t)
	st.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("t", resilience.ErrorTransient, fixedNow.Add(-time.Minute))))
	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("p", resilience.ErrorPermanent, fixedNow.Add(-time.Minute))))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTransient})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t", entries[0].ID)

	all, err := st.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_DLQ_DequeueRespectsNextRetryAtAndMaxRetries(t *testing.T) {
	st := newTestSQLiteStore(t)
	st.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("later", resilience.ErrorTransient, fixedNow.Add(time.Hour))))
	exhausted := dlqEntry("exhausted", resilience.ErrorTransient, fixedNow.Add(-time.Hour))
	exhausted.RetryCount = 3
	require.NoError(t, st.EnqueueDLQ(ctx, exhausted))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLite_DLQ_IncrementAndRemove(t *testing.T) {
	st := newTestSQLiteStore(t)
	st.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, dlqEntry("r1", resilience.ErrorTransient, fixedNow.Add(-time.Minute))))
	require.NoError(t, st.IncrementDLQRetry(ctx, "r1", fixedNow.Add(-time.Second), "voice: unexpected status 502"))

	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.Equal(t, "voice: unexpected status 502", entries[0].Error)

	assert.ErrorIs(t, st.IncrementDLQRetry(ctx, "missing", fixedNow, "x"), ErrNotFound)

	require.NoError(t, st.RemoveDLQ(ctx, "r1"))
	n, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostgresStore_EnqueueDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	e := dlqEntry("r1", resilience.ErrorTransient, fixedNow.Add(time.Minute))
	mock.ExpectExec(`INSERT INTO dead_letter_queue`).
		WithArgs("r1", pgxmock.AnyArg(), e.Error, "transient", "researching", 0, 3,
			fixedNow.Add(time.Minute), fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.EnqueueDLQ(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DequeueDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"id", "request", "error", "error_type", "failed_phase", "retry_count", "max_retries", "next_retry_at", "created_at", "last_failed_at"}).
		AddRow("r1", []byte(`{"id":"r1","service":"plumbing","location":"Austin, TX"}`), "boom", "transient", "calling", 1, 3, fixedNow, fixedNow, fixedNow)
	mock.ExpectQuery(`FROM dead_letter_queue`).
		WithArgs(fixedNow, "transient", 5).
		WillReturnRows(rows)

	entries, err := s.DequeueDLQ(context.Background(), resilience.DLQFilter{ErrorType: "transient", Limit: 5})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "plumbing", entries[0].Request.Service)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementDLQRetry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE dead_letter_queue`).
		WithArgs(fixedNow, "boom", fixedNow, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.IncrementDLQRetry(context.Background(), "missing", fixedNow, "boom")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM dead_letter_queue`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountDLQ(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
