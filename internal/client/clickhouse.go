package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/glassflow/streametl/internal/models"
)

// DatabaseClient is the sink's view of a ClickHouse connection, grounded on
// the teacher's internal/core/client.DatabaseClient.
type DatabaseClient interface {
	Reconnect(ctx context.Context) error
	PrepareBatch(ctx context.Context, query string) (driver.Batch, error)
	GetDatabase() string
	GetTableName() string
	Close() error
}

// ClickHouseClient wraps a native-protocol clickhouse-go/v2 connection,
// grounded on the teacher's internal/core/client/clickhouse.go.
type ClickHouseClient struct {
	conn      driver.Conn
	host      string
	port      string
	username  string
	password  string
	database  string
	tableName string
	secure    bool
}

func NewClickHouseClient(ctx context.Context, cfg models.SinkConfig) (*ClickHouseClient, error) {
	c := &ClickHouseClient{
		host:      cfg.Host,
		port:      cfg.Port,
		username:  cfg.Username,
		password:  cfg.Password,
		database:  cfg.Database,
		tableName: cfg.Table,
		secure:    cfg.Secure,
	}
	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	return c, nil
}

func (c *ClickHouseClient) Close() error {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("close clickhouse connection: %w", err)
		}
	}
	c.conn = nil
	return nil
}

func (c *ClickHouseClient) connect(ctx context.Context) error {
	if err := c.Close(); err != nil {
		return fmt.Errorf("close existing connection: %w", err)
	}

	var tlsConfig *tls.Config
	if c.secure {
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	chConn, err := clickhouse.Open(&clickhouse.Options{
		Addr:     []string{c.host + ":" + c.port},
		Protocol: clickhouse.Native,
		TLS:      tlsConfig,
		Auth: clickhouse.Auth{
			Username: c.username,
			Password: c.password,
		},
	})
	if err != nil {
		return fmt.Errorf("open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := chConn.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	c.conn = chConn
	return nil
}

func (c *ClickHouseClient) Reconnect(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("reconnect to clickhouse: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("clickhouse client is not connected")
	}

	batch, err := c.conn.PrepareBatch(ctx, query, driver.WithReleaseConnection())
	if err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}

	return batch, nil
}

func (c *ClickHouseClient) GetDatabase() string {
	return c.database
}

func (c *ClickHouseClient) GetTableName() string {
	return c.tableName
}
