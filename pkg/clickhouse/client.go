// Package clickhouse opens and owns the native-protocol connection the
// paging repositories read and write through.
package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Ping deadline applied while constructing the client.
const pingTimeout = 10 * time.Second

// Client is the connection handle the paging repositories work against.
type Client interface {
	// Conn returns the underlying native-protocol connection.
	Conn() driver.Conn
	// Ping checks the connection.
	Ping(ctx context.Context) error
	// Close closes the connection.
	Close() error
}

type client struct {
	conn driver.Conn
	log  *zap.SugaredLogger
}

// New opens a connection with LZ4 compression and pings it before
// returning: a cache backend that cannot be reached is a construction
// error, not something to discover on the first read.
func New(cfg Config, log *zap.SugaredLogger) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	}
	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{
			//nolint:gosec // managed dev instances present certs we do not pin
			InsecureSkipVerify: true,
		}
	}
	if cfg.Debug && log != nil {
		opts.Debug = true
		opts.Debugf = func(format string, v ...interface{}) {
			log.Debugf(format, v...)
		}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &client{conn: conn, log: log}, nil
}

func (c *client) Conn() driver.Conn {
	return c.conn
}

func (c *client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *client) Close() error {
	return c.conn.Close()
}
