// Package redshift connects to an Amazon Redshift cluster or serverless
// workgroup over the PostgreSQL wire protocol. It discovers the catalog,
// streams query results for direct extraction and runs UNLOAD commands for
// bulk extraction.
package redshift

import (
	"context"
	goerrors "errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/redtap/pkg/config"
	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/extract/direct"
	"github.com/ajitpratap0/redtap/pkg/extract/unload"
	"github.com/ajitpratap0/redtap/pkg/logger"
	"github.com/ajitpratap0/redtap/pkg/retry"
)

// Client is a pooled warehouse connection.
type Client struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var (
	_ direct.Querier   = (*Client)(nil)
	_ unload.Submitter = (*Client)(nil)
)

// Connect resolves credentials and opens the pool, retrying transient
// failures. Authentication failures are not retried.
func Connect(ctx context.Context, cfg *config.Config, resolver *CredentialResolver, l *zap.Logger) (*Client, error) {
	l = logger.OrDefault(l)
	policy := retry.NewRetryPolicy(cfg.Connection.ConnectRetries+1, time.Second)

	var pool *pgxpool.Pool
	err := policy.ExecuteWithCondition(ctx, func(ctx context.Context) error {
		creds, err := resolver.Resolve(ctx)
		if err != nil {
			return err
		}
		p, err := openPool(ctx, cfg, creds)
		if err != nil {
			l.Warn("connection attempt failed", zap.String("host", cfg.Connection.Host), zap.Error(err))
			return err
		}
		pool = p
		return nil
	}, func(err error) bool {
		return !errors.IsType(err, errors.ErrorTypeAuthentication) && !errors.IsType(err, errors.ErrorTypeConfig)
	})
	if err != nil {
		return nil, err
	}

	l.Info("connected to warehouse",
		zap.String("host", cfg.Connection.Host),
		zap.String("database", cfg.Connection.Database),
		zap.Int32("max_connections", pool.Config().MaxConns))
	return &Client{pool: pool, logger: l}, nil
}

func openPool(ctx context.Context, cfg *config.Config, creds Credentials) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(BuildDSN(cfg.Connection, creds))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}

	// one session per concurrent stream plus one for discovery
	poolConfig.MaxConns = int32(cfg.Extraction.StreamParallelism + 1)
	poolConfig.MinConns = 1
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second
	// the warehouse does not support every extended-protocol feature pgx
	// caches statements for
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, classify(err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(err, "failed to reach warehouse")
	}
	return pool, nil
}

// classify maps driver errors onto connection or authentication errors.
func classify(err error, message string) error {
	var pgErr *pgconn.PgError
	if goerrors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28000", "28P01":
			return errors.Wrap(err, errors.ErrorTypeAuthentication, message).
				WithDetail("sqlstate", pgErr.Code)
		}
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, message)
}

// Query implements direct.Querier.
func (c *Client) Query(ctx context.Context, sql string) (direct.Rows, error) {
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Submit implements unload.Submitter. The command runs on its own
// connection until it finishes or the handle is cancelled.
func (c *Client) Submit(ctx context.Context, command string) (unload.Handle, error) {
	execCtx, cancel := context.WithCancel(ctx)
	h := &execHandle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		_, err := c.pool.Exec(execCtx, command)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
	}()
	return h, nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return classify(err, "warehouse health check failed")
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

// execHandle tracks a statement running in a goroutine.
type execHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	err    error
}

// Poll implements unload.Handle.
func (h *execHandle) Poll(context.Context) (bool, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return true, h.err
	default:
		return false, nil
	}
}

// Cancel implements unload.Handle.
func (h *execHandle) Cancel(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
