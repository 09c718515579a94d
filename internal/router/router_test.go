package router

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

type fakeHealth struct {
	err   error
	calls int
	block bool
}

func (f *fakeHealth) Health(ctx context.Context) error {
	f.calls++
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func TestChoose_Disabled(t *testing.T) {
	t.Parallel()

	h := &fakeHealth{}
	r := New(Policy{Enabled: false, Endpoint: "http://orch"}, h)

	b, err := r.Choose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BackendDirect, b)
	assert.Zero(t, h.calls, "no probe when disabled")
}

func TestChoose_NoEndpoint(t *testing.T) {
	t.Parallel()

	h := &fakeHealth{}
	b, err := New(Policy{Enabled: true, Strict: true}, h).Choose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BackendDirect, b)
	assert.Zero(t, h.calls)
}

func TestChoose_Healthy(t *testing.T) {
	t.Parallel()

	h := &fakeHealth{}
	b, err := New(Policy{Enabled: true, Endpoint: "http://orch"}, h).Choose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BackendOrchestrator, b)
	assert.Equal(t, 1, h.calls)
}

func TestChoose_UnhealthyFallsBack(t *testing.T) {
	t.Parallel()

	h := &fakeHealth{err: eris.New("connection refused")}
	var seen []Decision
	r := New(Policy{Enabled: true, Endpoint: "http://orch", Strict: false}, h)
	r.Observe = func(d Decision) { seen = append(seen, d) }

	b, err := r.Choose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BackendDirect, b)
	require.Len(t, seen, 1)
	assert.Contains(t, seen[0].ProbeErr, "connection refused")
}

func TestChoose_UnhealthyStrict(t *testing.T) {
	t.Parallel()

	h := &fakeHealth{err: eris.New("503")}
	b, err := New(Policy{Enabled: true, Endpoint: "http://orch", Strict: true}, h).Choose(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrBackendUnavailable)
	assert.Empty(t, b)
}

func TestChoose_ProbeTimeout(t *testing.T) {
	t.Parallel()

	h := &fakeHealth{block: true}
	r := New(Policy{Enabled: true, Endpoint: "http://orch", ProbeTimeout: 20 * time.Millisecond}, h)

	start := time.Now()
	b, err := r.Choose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BackendDirect, b)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNew_DefaultProbeTimeout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultProbeTimeout, New(Policy{}, nil).Policy().ProbeTimeout)
}
