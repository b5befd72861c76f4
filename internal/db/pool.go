package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	probeStatement = "SELECT 1"

	// pgconn reports 'I' when no transaction is open on the wire.
	txStatusIdle = 'I'

	destroyTimeout = 3 * time.Second
)

// DriverConn is the subset of *pgx.Conn the pool manages. It is an
// interface so pool behavior can be tested without a server.
type DriverConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
	IsClosed() bool
	TxStatus() byte
}

type pgxDriverConn struct {
	*pgx.Conn
}

func (c pgxDriverConn) TxStatus() byte { return c.Conn.PgConn().TxStatus() }

// ConnectFunc dials one new database connection.
type ConnectFunc func(ctx context.Context) (DriverConn, error)

// PgxConnector returns a ConnectFunc dialing PostgreSQL with the given
// connection string.
func PgxConnector(connString string) ConnectFunc {
	return func(ctx context.Context) (DriverConn, error) {
		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return nil, err
		}
		return pgxDriverConn{conn}, nil
	}
}

type PoolConfig struct {
	// MinConnections is how many connections to open eagerly at
	// startup. Opening fewer is tolerated as long as at least one
	// succeeds.
	MinConnections int

	// MaxConnections bounds open connections. Acquire never exceeds
	// it, counting both idle and checked out connections.
	MaxConnections int

	// MaxRetries is the number of acquire attempts before giving up.
	MaxRetries int

	// RetryDelay is the fixed pause between acquire attempts.
	RetryDelay time.Duration
}

func (c *PoolConfig) applyDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 20
	}
	if c.MinConnections < 0 {
		c.MinConnections = 0
	}
	if c.MinConnections > c.MaxConnections {
		c.MinConnections = c.MaxConnections
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
}

// Pool hands out probed connections and repairs itself as connections
// break. Broken connections are destroyed, never parked, and replaced
// lazily on a later acquire.
type Pool struct {
	cfg     PoolConfig
	connect ConnectFunc
	logger  *slog.Logger

	mu         sync.Mutex
	idle       []DriverConn
	open       int
	checkedOut int
	closed     bool
}

// Conn is a checked out connection. Return it with Release exactly
// once; a released Conn must not be used again.
type Conn struct {
	raw      DriverConn
	pool     *Pool
	released bool
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.raw.Exec(ctx, sql, args...)
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.raw.Query(ctx, sql, args...)
}

// Release returns the connection to its pool.
func (c *Conn) Release(ctx context.Context) {
	c.pool.Release(ctx, c)
}

// NewPool opens a pool and warms it with MinConnections connections.
// Opening fewer than requested is logged and tolerated, but when
// MinConnections > 0 at least one connection must succeed or NewPool
// fails, so a bad endpoint surfaces at startup rather than on first
// use.
func NewPool(ctx context.Context, cfg PoolConfig, connect ConnectFunc, logger *slog.Logger) (*Pool, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		cfg:     cfg,
		connect: connect,
		logger:  logger,
	}

	var warmErr error
	for i := 0; i < cfg.MinConnections; i++ {
		conn, err := connect(ctx)
		if err != nil {
			warmErr = err
			p.logger.Warn("failed to open warm connection", "opened", i, "wanted", cfg.MinConnections, "err", err)
			break
		}
		p.idle = append(p.idle, conn)
		p.open++
	}
	if cfg.MinConnections > 0 && p.open == 0 {
		return nil, ConnectionError(warmErr, 1)
	}
	p.publishStats()
	return p, nil
}

// Acquire returns a probed connection, retrying with the pool's
// configured attempt count and delay.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	return p.AcquireWithRetry(ctx, p.cfg.MaxRetries, p.cfg.RetryDelay)
}

// AcquireWithRetry returns a probed connection. Each attempt prefers
// an idle connection and dials a new one only under the configured
// cap. A connection failing its probe is destroyed and the next
// attempt starts after retryDelay.
func (p *Pool) AcquireWithRetry(ctx context.Context, maxRetries int, retryDelay time.Duration) (*Conn, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			poolAcquireRetries.Inc()
			select {
			case <-ctx.Done():
				return nil, ConnectionError(ctx.Err(), attempt-1)
			case <-time.After(retryDelay):
			}
		}

		raw, err := p.take(ctx)
		if err != nil {
			if errors.Is(err, ErrPoolClosed) {
				return nil, ConnectionError(err, attempt)
			}
			lastErr = err
			p.logger.Warn("acquire attempt failed", "attempt", attempt, "err", err)
			continue
		}

		if _, err := raw.Exec(ctx, probeStatement); err != nil {
			lastErr = err
			poolProbeFailures.Inc()
			p.logger.Warn("connection failed probe, destroying", "attempt", attempt, "err", err)
			p.destroy(raw)
			continue
		}

		poolAcquires.WithLabelValues("success").Inc()
		return &Conn{raw: raw, pool: p}, nil
	}

	poolAcquires.WithLabelValues("failure").Inc()
	return nil, ConnectionError(lastErr, maxRetries)
}

// take pops an idle connection or dials a new one. The open count is
// reserved before dialing so concurrent acquires cannot overshoot
// MaxConnections.
func (p *Pool) take(ctx context.Context) (DriverConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.checkedOut++
		p.publishStatsLocked()
		p.mu.Unlock()
		return conn, nil
	}
	if p.open >= p.cfg.MaxConnections {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %d connections checked out", ErrPoolExhausted, p.cfg.MaxConnections)
	}
	p.open++
	p.mu.Unlock()

	conn, err := p.connect(ctx)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.publishStatsLocked()
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.checkedOut++
	p.publishStatsLocked()
	p.mu.Unlock()
	return conn, nil
}

// Release returns a connection to the pool. A connection holding an
// open or aborted transaction is rolled back first; if the rollback
// fails the connection is destroyed instead of parked.
func (p *Pool) Release(ctx context.Context, c *Conn) {
	p.mu.Lock()
	if c.released {
		p.mu.Unlock()
		return
	}
	c.released = true
	p.mu.Unlock()

	raw := c.raw
	if raw.IsClosed() {
		p.destroy(raw)
		return
	}

	if raw.TxStatus() != txStatusIdle {
		if _, err := raw.Exec(ctx, "ROLLBACK"); err != nil {
			p.logger.Warn("rollback on release failed, destroying connection", "err", err)
			p.destroy(raw)
			return
		}
		p.logger.Debug("rolled back open transaction on release")
	}

	p.mu.Lock()
	p.checkedOut--
	if p.closed {
		p.open--
		p.publishStatsLocked()
		p.mu.Unlock()
		p.closeConn(raw)
		return
	}
	p.idle = append(p.idle, raw)
	p.publishStatsLocked()
	p.mu.Unlock()
}

// destroy removes a checked out connection from the pool accounting
// and closes it. Replacement happens lazily on a later acquire.
func (p *Pool) destroy(raw DriverConn) {
	p.mu.Lock()
	p.open--
	p.checkedOut--
	p.publishStatsLocked()
	p.mu.Unlock()
	p.closeConn(raw)
}

func (p *Pool) closeConn(raw DriverConn) {
	if raw.IsClosed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
	defer cancel()
	if err := raw.Close(ctx); err != nil {
		p.logger.Warn("error closing connection", "err", err)
	}
}

// Shutdown closes all idle connections and marks the pool closed.
// Checked out connections are closed as they are released. Subsequent
// acquires fail with a connection error.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.publishStatsLocked()
	p.mu.Unlock()

	for _, conn := range idle {
		if err := conn.Close(ctx); err != nil {
			p.logger.Warn("error closing idle connection", "err", err)
		}
	}
	p.logger.Info("connection pool shut down", "closed_idle", len(idle))
}

// PoolStats is a point in time snapshot of pool occupancy.
type PoolStats struct {
	Open       int
	Idle       int
	CheckedOut int
	Max        int
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Open:       p.open,
		Idle:       len(p.idle),
		CheckedOut: p.checkedOut,
		Max:        p.cfg.MaxConnections,
	}
}

func (p *Pool) publishStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishStatsLocked()
}

func (p *Pool) publishStatsLocked() {
	poolOpenConnections.Set(float64(p.open))
	poolIdleConnections.Set(float64(len(p.idle)))
	poolCheckedOutConnections.Set(float64(p.checkedOut))
}
