// Package db persists search results and window outcomes in SurrealDB.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// Force HTTP/1.1 for WSS connections to prevent HTTP/2 ALPN negotiation.
	// WebSocket upgrade requires HTTP/1.1 semantics which fail under HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	// Database is selected on connect. Workers switch to a client database
	// with UseDatabase afterwards.
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// Client wraps SurrealDB connection with auto-reconnect.
// A Client holds one session and is meant to be used by one worker at a time.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	cfg    Config
	logger logger.Logger

	mu       sync.Mutex
	database string
	// ledgerReady tracks databases whose ledger schema has been applied.
	ledgerReady map[string]bool
}

// NewClient creates a new SurrealDB client with auto-reconnecting WebSocket.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	// Create logger adapter for SurrealDB SDK
	var sdkLogger logger.Logger
	if log != nil {
		sdkLogger = logger.New(log.Handler())
	} else {
		sdkLogger = logger.New(slog.Default().Handler())
	}

	// Use surrealcbor for CBOR encoding/decoding (handles SurrealDB custom tags)
	codec := surrealcbor.New()

	// Create rews connection with auto-reconnect using gorillaws
	// Note: gorillaws requires ws:// or wss:// URL without /rpc suffix (it adds /rpc internally)
	baseURL := cfg.URL
	if strings.HasSuffix(baseURL, "/rpc") {
		baseURL = strings.TrimSuffix(baseURL, "/rpc")
	}

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			ws := gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			})
			return ws, nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	// Configure exponential backoff
	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	// Connect
	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	// Create DB wrapper
	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	// Authenticate based on auth level
	sdkLogger.Info("authenticating", "user", cfg.Username, "auth_level", cfg.AuthLevel)
	if cfg.AuthLevel == "database" {
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Namespace: cfg.Namespace,
			Database:  cfg.Database,
			Username:  cfg.Username,
			Password:  cfg.Password,
		})
	} else {
		// Default to root auth
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin: %w", err)
	}

	// Select namespace/database
	sdkLogger.Info("selecting namespace/database", "namespace", cfg.Namespace, "database", cfg.Database)
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use: %w", err)
	}

	sdkLogger.Info("SurrealDB connection established")
	return &Client{
		conn:        conn,
		db:          db,
		cfg:         cfg,
		logger:      sdkLogger,
		database:    cfg.Database,
		ledgerReady: make(map[string]bool),
	}, nil
}

// Close closes the SurrealDB connection.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing SurrealDB connection")
	return c.conn.Close(ctx)
}

// DB returns the underlying SurrealDB client for queries.
func (c *Client) DB() *surrealdb.DB {
	return c.db
}

// UseDatabase switches the session to database within the configured
// namespace and makes sure the ledger schema exists there.
func (c *Client) UseDatabase(ctx context.Context, database string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if database != c.database {
		if err := c.db.Use(ctx, c.cfg.Namespace, database); err != nil {
			return fmt.Errorf("use %s: %w", database, err)
		}
		c.database = database
	}
	if !c.ledgerReady[database] {
		if err := c.initSchema(ctx); err != nil {
			return err
		}
		c.ledgerReady[database] = true
	}
	return nil
}

// OpenLedger switches the session to database for reading its ledger. Unlike
// UseDatabase it defines nothing: it reports false when the database or its
// ledger table does not exist yet.
func (c *Client) OpenLedger(ctx context.Context, database string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	databases, err := c.infoKeys(ctx, "INFO FOR NS", "databases")
	if err != nil {
		return false, err
	}
	if !databases[database] {
		return false, nil
	}
	if database != c.database {
		if err := c.db.Use(ctx, c.cfg.Namespace, database); err != nil {
			return false, fmt.Errorf("use %s: %w", database, err)
		}
		c.database = database
	}
	tables, err := c.infoKeys(ctx, "INFO FOR DB", "tables")
	if err != nil {
		return false, err
	}
	return tables[LedgerTable], nil
}

// infoKeys returns the names listed under field of an INFO statement.
func (c *Client) infoKeys(ctx context.Context, sql, field string) (map[string]bool, error) {
	results, err := surrealdb.Query[map[string]any](ctx, c.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.ToLower(sql), wrapQueryError(err))
	}
	keys := make(map[string]bool)
	if results == nil || len(*results) == 0 {
		return keys, nil
	}
	defs, _ := (*results)[0].Result[field].(map[string]any)
	for name := range defs {
		keys[name] = true
	}
	return keys, nil
}

// Database returns the currently selected database.
func (c *Client) Database() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.database
}

// InitSchema applies the ledger schema to the current database.
func (c *Client) InitSchema(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initSchema(ctx); err != nil {
		return err
	}
	c.ledgerReady[c.database] = true
	return nil
}

func (c *Client) initSchema(ctx context.Context) error {
	c.logger.Info("initializing ledger schema", "database", c.database)
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", wrapQueryError(err))
	}
	return nil
}

// Query executes a SurrealQL query with parameters.
// Returns the raw query results as []surrealdb.QueryResult[any].
func (c *Client) Query(ctx context.Context, sql string, vars map[string]any) (*[]surrealdb.QueryResult[any], error) {
	return surrealdb.Query[any](ctx, c.db, sql, vars)
}

// WipeTables deletes all records from the given tables of the current
// database. Use for testing only.
func (c *Client) WipeTables(ctx context.Context, tables ...string) error {
	c.logger.Warn("wiping tables", "database", c.Database(), "tables", tables)

	for _, table := range tables {
		ident, err := quoteIdent(table)
		if err != nil {
			return err
		}
		if _, err := surrealdb.Query[any](ctx, c.db, "DELETE "+ident, nil); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}
