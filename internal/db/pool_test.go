package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	closed   bool
	txStatus byte

	probeErr    error
	rollbackErr error
	execLog     []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{txStatus: txStatusIdle}
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execLog = append(c.execLog, sql)
	switch sql {
	case probeStatement:
		if c.probeErr != nil {
			return pgconn.CommandTag{}, c.probeErr
		}
	case "ROLLBACK":
		if c.rollbackErr != nil {
			return pgconn.CommandTag{}, c.rollbackErr
		}
		c.txStatus = txStatusIdle
	}
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) TxStatus() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txStatus
}

func (c *fakeConn) executed(sql string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.execLog {
		if s == sql {
			return true
		}
	}
	return false
}

// fakeConnector dials fakeConns, optionally customized per dial.
type fakeConnector struct {
	dials  atomic.Int64
	onDial func(c *fakeConn)
}

func (f *fakeConnector) connect(context.Context) (DriverConn, error) {
	f.dials.Add(1)
	c := newFakeConn()
	if f.onDial != nil {
		f.onDial(c)
	}
	return c, nil
}

func newTestPool(t *testing.T, cfg PoolConfig, connector *fakeConnector) *Pool {
	t.Helper()
	pool, err := NewPool(context.Background(), cfg, connector.connect, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Shutdown(context.Background()) })
	return pool
}

func TestPoolWarmsMinConnections(t *testing.T) {
	connector := &fakeConnector{}
	pool := newTestPool(t, PoolConfig{MinConnections: 3, MaxConnections: 5}, connector)

	stats := pool.Stats()
	assert.Equal(t, 3, stats.Open)
	assert.Equal(t, 3, stats.Idle)
	assert.Equal(t, int64(3), connector.dials.Load())
}

func TestPoolStartupFailsWhenNothingConnects(t *testing.T) {
	dialErr := errors.New("connection refused")
	connect := func(context.Context) (DriverConn, error) { return nil, dialErr }

	_, err := NewPool(context.Background(), PoolConfig{MinConnections: 2, MaxConnections: 5}, connect, nil)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, err, dialErr)
}

func TestPoolStartupToleratesPartialWarmup(t *testing.T) {
	var dials int
	connect := func(context.Context) (DriverConn, error) {
		dials++
		if dials > 1 {
			return nil, errors.New("connection refused")
		}
		return newFakeConn(), nil
	}

	pool, err := NewPool(context.Background(), PoolConfig{MinConnections: 3, MaxConnections: 5}, connect, nil)
	require.NoError(t, err)
	defer pool.Shutdown(context.Background())

	assert.Equal(t, 1, pool.Stats().Open)
}

func TestAcquireReusesIdleConnection(t *testing.T) {
	connector := &fakeConnector{}
	pool := newTestPool(t, PoolConfig{MinConnections: 1, MaxConnections: 5}, connector)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(ctx, conn)

	conn2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(ctx, conn2)

	assert.Equal(t, int64(1), connector.dials.Load())
	assert.Same(t, conn.raw, conn2.raw)
}

func TestAcquireProbesBeforeHandout(t *testing.T) {
	connector := &fakeConnector{}
	pool := newTestPool(t, PoolConfig{MaxConnections: 5}, connector)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pool.Release(ctx, conn)

	assert.True(t, conn.raw.(*fakeConn).executed(probeStatement))
}

func TestAcquireRetriesAndDestroysBrokenConnections(t *testing.T) {
	probeErr := errors.New("server closed the connection unexpectedly")
	connector := &fakeConnector{onDial: func(c *fakeConn) { c.probeErr = probeErr }}
	pool := newTestPool(t, PoolConfig{MaxConnections: 5}, connector)

	retryDelay := 20 * time.Millisecond
	start := time.Now()
	_, err := pool.AcquireWithRetry(context.Background(), 3, retryDelay)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, err, probeErr)
	assert.Equal(t, int64(3), connector.dials.Load())
	assert.GreaterOrEqual(t, elapsed, 2*retryDelay)

	// every broken connection was destroyed, none parked
	stats := pool.Stats()
	assert.Equal(t, 0, stats.Open)
	assert.Equal(t, 0, stats.Idle)
}

func TestAcquireRespectsMaxConnections(t *testing.T) {
	connector := &fakeConnector{}
	pool := newTestPool(t, PoolConfig{MaxConnections: 2}, connector)

	ctx := context.Background()
	c1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	c2, err := pool.Acquire(ctx)
	require.NoError(t, err)

	_, err = pool.AcquireWithRetry(ctx, 1, time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, int64(2), connector.dials.Load())

	pool.Release(ctx, c1)
	pool.Release(ctx, c2)
}

func TestConcurrentAcquiresStayWithinBound(t *testing.T) {
	const maxConns = 4
	connector := &fakeConnector{}
	pool := newTestPool(t, PoolConfig{MaxConnections: maxConns}, connector)

	var inUse, peak atomic.Int64
	var wg sync.WaitGroup
	ctx := context.Background()

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := pool.AcquireWithRetry(ctx, 50, time.Millisecond)
			if err != nil {
				return
			}
			n := inUse.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inUse.Add(-1)
			pool.Release(ctx, conn)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(maxConns))
	assert.LessOrEqual(t, pool.Stats().Open, maxConns)
}

func TestReleaseRollsBackOpenTransaction(t *testing.T) {
	connector := &fakeConnector{}
	pool := newTestPool(t, PoolConfig{MaxConnections: 2}, connector)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)

	fake := conn.raw.(*fakeConn)
	fake.mu.Lock()
	fake.txStatus = 'E'
	fake.mu.Unlock()

	pool.Release(ctx, conn)

	assert.True(t, fake.executed("ROLLBACK"))
	assert.Equal(t, byte(txStatusIdle), fake.TxStatus())
	stats := pool.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 0, stats.CheckedOut)
}

func TestReleaseDestroysConnectionWhenRollbackFails(t *testing.T) {
	connector := &fakeConnector{}
	pool := newTestPool(t, PoolConfig{MaxConnections: 2}, connector)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)

	fake := conn.raw.(*fakeConn)
	fake.mu.Lock()
	fake.txStatus = 'T'
	fake.rollbackErr = errors.New("terminating connection")
	fake.mu.Unlock()

	pool.Release(ctx, conn)

	assert.True(t, fake.IsClosed())
	stats := pool.Stats()
	assert.Equal(t, 0, stats.Open)
	assert.Equal(t, 0, stats.Idle)

	// the pool replaces the destroyed connection on the next acquire
	conn2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(ctx, conn2)
	assert.Equal(t, int64(2), connector.dials.Load())
}

func TestReleaseIsIdempotent(t *testing.T) {
	connector := &fakeConnector{}
	pool := newTestPool(t, PoolConfig{MaxConnections: 2}, connector)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)

	pool.Release(ctx, conn)
	pool.Release(ctx, conn)

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 0, stats.CheckedOut)
}

func TestShutdownClosesIdleAndRejectsAcquire(t *testing.T) {
	connector := &fakeConnector{}
	pool := newTestPool(t, PoolConfig{MinConnections: 2, MaxConnections: 4}, connector)

	ctx := context.Background()
	held, err := pool.Acquire(ctx)
	require.NoError(t, err)

	pool.Shutdown(ctx)

	_, err = pool.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, err, ErrPoolClosed)

	// a connection still checked out is closed on release
	fake := held.raw.(*fakeConn)
	pool.Release(ctx, held)
	assert.True(t, fake.IsClosed())
	assert.Equal(t, 0, pool.Stats().Open)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	connector := &fakeConnector{onDial: func(c *fakeConn) { c.probeErr = errors.New("broken") }}
	pool := newTestPool(t, PoolConfig{MaxConnections: 2}, connector)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.AcquireWithRetry(ctx, 3, time.Hour)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, err, context.Canceled)
}
