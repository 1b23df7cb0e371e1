package mgmt

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/superfly/sessionpool/pool"
	"github.com/superfly/sessionpool/stats"
)

func newTestSetup(t *testing.T, suspendable bool) (*pool.Pool[*pool.MockHandle], *Client, *stats.Recorder) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	rec := stats.NewRecorder()

	cfg := pool.Config{
		Name:                "mgmt-test",
		MinimumIdle:         2,
		MaximumPoolSize:     4,
		ConnectionTimeout:   time.Second,
		AllowPoolSuspension: suspendable,
	}
	p, err := pool.New[*pool.MockHandle](&pool.MockFactory{}, cfg,
		pool.WithLogger(logger), pool.WithRecorder(rec))
	assert.NoError(t, err)
	t.Cleanup(func() { p.Shutdown() }) //nolint:errcheck

	deadline := time.Now().Add(2 * time.Second)
	for p.Idle() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	srv := New(p, 0, Recorder(rec), Logger(logger))
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	return p, NewClient(ts.URL), rec
}

func TestStatsEndpoint(t *testing.T) {
	p, client, _ := newTestSetup(t, false)

	h, err := p.Borrow(context.Background())
	assert.NoError(t, err)
	defer h.Close() //nolint:errcheck

	st, err := client.Stats(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "mgmt-test", st.Name)
	assert.Equal(t, "normal", st.State)
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 1, st.Idle)
	assert.Equal(t, 2, st.Total)
	assert.True(t, st.Metrics != nil)
	assert.Equal(t, 1, st.Metrics.BorrowWait.Count)
}

func TestEvictEndpoint(t *testing.T) {
	p, client, _ := newTestSetup(t, false)

	assert.NoError(t, client.SoftEvictAll(context.Background()))

	deadline := time.Now().Add(time.Second)
	for p.Total() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, p.Total())
}

func TestSuspendResumeEndpoints(t *testing.T) {
	p, client, _ := newTestSetup(t, true)

	assert.NoError(t, client.Suspend(context.Background()))
	assert.Equal(t, pool.StateSuspended, p.PoolState())

	assert.NoError(t, client.Resume(context.Background()))
	assert.Equal(t, pool.StateNormal, p.PoolState())
}

func TestSuspendRefusedWhenDisabled(t *testing.T) {
	_, client, _ := newTestSetup(t, false)

	err := client.Suspend(context.Background())
	assert.Error(t, err)
}
