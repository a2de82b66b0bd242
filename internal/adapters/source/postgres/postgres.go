// Package postgres implements source.Source on PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/ladder/internal/adapters/tunnel"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Default connection constants.
const (
	defaultPort           = 5432
	defaultConnectTimeout = 30 * time.Second
	maxConns              = 2
)

// Endpoint holds connection settings for one logical database.
type Endpoint struct {
	// DSN, when set, takes precedence over the discrete fields.
	DSN      string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	SearchPath       string
	StatementTimeout time.Duration
	ConnectTimeout   time.Duration

	Tunnel tunnel.Config
}

// poolConfig builds the pgx pool configuration for e.
func (e Endpoint) poolConfig() (*pgxpool.Config, error) {
	dsn := e.DSN
	if dsn == "" {
		port := e.Port
		if port == 0 {
			port = defaultPort
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(e.User, e.Password),
			Host:   net.JoinHostPort(e.Host, strconv.Itoa(port)),
			Path:   "/" + e.Name,
		}
		if e.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {e.SSLMode}}.Encode()
		}
		dsn = u.String()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection settings: %w", err)
	}

	timeout := e.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	cfg.ConnConfig.ConnectTimeout = timeout
	cfg.MaxConns = maxConns

	params := cfg.ConnConfig.RuntimeParams
	params["TimeZone"] = "UTC"
	params["statement_timeout"] = strconv.FormatInt(e.StatementTimeout.Milliseconds(), 10)
	if e.SearchPath != "" {
		params["search_path"] = e.SearchPath
	}
	return cfg, nil
}

type conn struct {
	pool   *pgxpool.Pool
	tunnel *tunnel.Tunnel
}

func (c *conn) close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.tunnel != nil {
		return c.tunnel.Close()
	}
	return nil
}

// Source runs queries on the configured endpoints. Connections, and any
// tunnel in front of them, open on first use and stay up until Close.
// Source is not safe for concurrent use.
type Source struct {
	endpoints map[string]Endpoint
	tunnels   *tunnel.Provider
	logger    logger.Logger
	conns     map[string]*conn
}

// Option applies a configuration option to the Source.
type Option func(*Source)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTunnelProvider sets the provider used for endpoints with a tunnel.
func WithTunnelProvider(p *tunnel.Provider) Option {
	return func(s *Source) {
		if p != nil {
			s.tunnels = p
		}
	}
}

// New creates a Source over endpoints keyed by logical database name.
func New(endpoints map[string]Endpoint, opts ...Option) *Source {
	s := &Source{
		endpoints: endpoints,
		logger:    logger.Nop(),
		conns:     make(map[string]*conn, len(endpoints)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tunnels == nil {
		s.tunnels = tunnel.NewProvider(tunnel.WithLogger(s.logger))
	}
	return s
}

// Fetch runs query on database and returns every row rendered as text.
func (s *Source) Fetch(ctx context.Context, database, query string, params ...any) (model.Table, error) {
	c, err := s.connect(ctx, database)
	if err != nil {
		return model.Table{}, err
	}

	rows, err := c.pool.Query(ctx, query, params...)
	if err != nil {
		return model.Table{}, classify(ctx, database, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	t := model.Table{Columns: make([]string, len(fds))}
	for i, fd := range fds {
		t.Columns[i] = fd.Name
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return model.Table{}, classify(ctx, database, err)
		}
		row := make([]string, len(vals))
		for i, v := range vals {
			row[i] = model.Cell(v)
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return model.Table{}, classify(ctx, database, err)
	}

	metrics.RecordRowsFetched(database, len(t.Rows))
	s.logger.Info(ctx, "query complete",
		logger.String("database", database),
		logger.Int("columns", len(t.Columns)),
		logger.Int("rows", len(t.Rows)),
	)
	return t, nil
}

// Close releases every open pool and tunnel.
func (s *Source) Close() error {
	var first error
	for name, c := range s.conns {
		if err := c.close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", name, err)
		}
		delete(s.conns, name)
	}
	return first
}

func (s *Source) connect(ctx context.Context, database string) (*conn, error) {
	if c, ok := s.conns[database]; ok {
		return c, nil
	}
	ep, ok := s.endpoints[database]
	if !ok {
		return nil, fmt.Errorf("%w: unknown logical database %q", model.ErrQuery, database)
	}

	cfg, err := ep.poolConfig()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", database, err)
	}

	tn, err := s.tunnels.Open(ctx, ep.Tunnel, cfg.ConnConfig.Host, int(cfg.ConnConfig.Port))
	if err != nil {
		return nil, classify(ctx, database, err)
	}
	if tn.Active() {
		cfg.ConnConfig.Host = tn.Host()
		cfg.ConnConfig.Port = uint16(tn.Port()) //nolint:gosec // listener ports fit in uint16
		cfg.ConnConfig.Fallbacks = nil
	}

	c := &conn{tunnel: tn}
	c.pool, err = pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		_ = c.close()
		return nil, classify(ctx, database, err)
	}
	if err := s.diagnose(ctx, database, c.pool); err != nil {
		_ = c.close()
		return nil, classify(ctx, database, err)
	}

	s.conns[database] = c
	return c, nil
}

// diagnose logs the session the queries will run in. It doubles as the
// connectivity check.
func (s *Source) diagnose(ctx context.Context, database string, pool *pgxpool.Pool) error {
	var db, user, tz, searchPath string
	err := pool.QueryRow(ctx,
		`SELECT current_database(), current_user, current_setting('TimeZone'), current_setting('search_path')`,
	).Scan(&db, &user, &tz, &searchPath)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "connected",
		logger.String("database", database),
		logger.String("db", db),
		logger.String("user", user),
		logger.String("tz", tz),
		logger.String("search_path", searchPath),
	)
	return nil
}
