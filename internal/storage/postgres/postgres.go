// Package postgres is the relational sink. Targets share one physical
// database and are routed to one table each.
package postgres

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/postpipe/connector/internal/logging"
	"github.com/postpipe/connector/internal/metrics"
	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/pool"
	"github.com/postpipe/connector/internal/storage"
	"github.com/postpipe/connector/internal/targets"
)

// DB is the subset of *pgxpool.Pool used by the adapter.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Dialer opens a pool for a connection string.
type Dialer func(ctx context.Context, connString string, opts Options) (DB, error)

// Options configure pool sizing and dialing.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// Dialer defaults to DialPool.
	Dialer Dialer
}

// managedHosts get TLS without certificate verification unless the
// connection string chooses an sslmode itself.
var managedHosts = []string{"supabase", "render", "aiven", "neon.tech"}

// DialPool opens and pings a pgx pool.
func DialPool(ctx context.Context, connString string, opts Options) (DB, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if isManagedHost(connString) && !strings.Contains(connString, "sslmode=") {
		config.ConnConfig.TLSConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // managed providers use self-signed chains
			ServerName:         config.ConnConfig.Host,
		}
		config.ConnConfig.Fallbacks = nil
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return p, nil
}

func isManagedHost(connString string) bool {
	lower := strings.ToLower(connString)
	for _, h := range managedHosts {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// redactHost returns only the host part of a connection string. Credentials
// never reach the logs.
func redactHost(connString string) string {
	if u, err := url.Parse(connString); err == nil && u.Host != "" {
		return u.Hostname()
	}
	for _, part := range strings.Fields(connString) {
		if host, ok := strings.CutPrefix(part, "host="); ok {
			return host
		}
	}
	return "localhost"
}

// Adapter writes submissions to Postgres. Pools are keyed by connection
// string and table, and each table is created once per pool.
type Adapter struct {
	resolver *targets.Resolver
	pools    *pool.Registry[DB]
	schema   *pool.Provisioner
	opts     Options
	logger   *logging.Logger
}

var _ storage.Adapter = (*Adapter)(nil)

// New creates the relational adapter.
func New(resolver *targets.Resolver, opts Options, logger *logging.Logger) *Adapter {
	if opts.Dialer == nil {
		opts.Dialer = DialPool
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Adapter{
		resolver: resolver,
		pools:    pool.NewRegistry[DB](),
		schema:   pool.NewProvisioner(),
		opts:     opts,
		logger:   logger.With(logging.Kind(string(models.KindRelational))),
	}
}

func (a *Adapter) Kind() models.Kind {
	return models.KindRelational
}

// handle resolves hint to a provisioned pool and its table.
func (a *Adapter) handle(ctx context.Context, hint targets.Hint) (DB, string, error) {
	connString, err := a.resolver.RelationalURL(hint)
	if err != nil {
		return nil, "", err
	}
	table := a.resolver.TableName(hint)
	key := pool.Key{Endpoint: connString, Name: table}

	db, err := a.pools.GetOrCreate(ctx, key, func(ctx context.Context) (DB, error) {
		ctx, cancel := storage.ConnectContext(ctx)
		defer cancel()

		host := redactHost(connString)
		a.logger.InfoContext(ctx, "establishing connection pool",
			logging.Host(host), logging.Target(hint.Target), logging.Table(table))

		db, err := a.opts.Dialer(ctx, connString, a.opts)
		if err != nil {
			metrics.PoolErrors.WithLabelValues(string(models.KindRelational)).Inc()
			return nil, err
		}
		metrics.PoolsEstablished.WithLabelValues(string(models.KindRelational)).Inc()
		return db, nil
	})
	if err != nil {
		return nil, "", err
	}

	if err := a.schema.Ensure(ctx, key, func(ctx context.Context) error {
		return a.ensureTable(ctx, db, table)
	}); err != nil {
		return nil, "", err
	}
	return db, table, nil
}

func (a *Adapter) ensureTable(ctx context.Context, db DB, table string) error {
	ctx, cancel := storage.WriteContext(ctx)
	defer cancel()

	ident := pgx.Identifier{"public", table}.Sanitize()
	index := pgx.Identifier{"idx_form_id_" + table}.Sanitize()

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			form_id TEXT NOT NULL,
			submission_id TEXT UNIQUE NOT NULL,
			data JSONB NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`, ident)
	if _, err := db.Exec(ctx, ddl); err != nil {
		metrics.SchemaProvisions.WithLabelValues(string(models.KindRelational), "error").Inc()
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	if _, err := db.Exec(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (form_id)`, index, ident)); err != nil {
		metrics.SchemaProvisions.WithLabelValues(string(models.KindRelational), "error").Inc()
		return fmt.Errorf("failed to create index on %s: %w", table, err)
	}

	metrics.SchemaProvisions.WithLabelValues(string(models.KindRelational), "ok").Inc()
	a.logger.InfoContext(ctx, "table ready", logging.Table(table))
	return nil
}

// Connect establishes the pool for hint and provisions its table.
func (a *Adapter) Connect(ctx context.Context, hint targets.Hint) error {
	_, _, err := a.handle(ctx, hint)
	return err
}

// Insert stores sub. A submission id that already exists in the table is a
// no-op reported as OutcomeDuplicate.
func (a *Adapter) Insert(ctx context.Context, hint targets.Hint, sub models.Submission) (storage.Outcome, error) {
	db, table, err := a.handle(ctx, hint)
	if err != nil {
		return storage.OutcomeFailed, err
	}

	data, err := json.Marshal(sub.Data)
	if err != nil {
		return storage.OutcomeFailed, fmt.Errorf("failed to marshal data: %w", err)
	}

	ctx, cancel := storage.WriteContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (form_id, submission_id, data, timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (submission_id) DO NOTHING`, pgx.Identifier{"public", table}.Sanitize())

	tag, err := db.Exec(ctx, query,
		sub.FormID,
		sub.SubmissionID,
		json.RawMessage(data),
		sub.Timestamp,
		sub.ReceivedAt,
	)
	if err != nil {
		return storage.OutcomeFailed, fmt.Errorf("failed to insert submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		a.logger.DebugContext(ctx, "duplicate submission ignored",
			logging.Table(table), logging.SubmissionID(sub.SubmissionID))
		return storage.OutcomeDuplicate, nil
	}
	return storage.OutcomeStored, nil
}

// Query returns the newest submissions of formID from the hinted table.
func (a *Adapter) Query(ctx context.Context, formID string, opts storage.QueryOptions) ([]models.Submission, error) {
	db, table, err := a.handle(ctx, opts.Hint)
	if err != nil {
		return nil, err
	}

	ctx, cancel := storage.QueryContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues(string(models.KindRelational)).Observe(time.Since(start).Seconds())
	}()

	query := fmt.Sprintf(`
		SELECT form_id, submission_id, data, timestamp, created_at
		FROM %s
		WHERE form_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, pgx.Identifier{"public", table}.Sanitize())

	rows, err := db.Query(ctx, query, formID, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		var (
			sub       models.Submission
			data      []byte
			createdAt *time.Time
		)
		if err := rows.Scan(&sub.FormID, &sub.SubmissionID, &data, &sub.Timestamp, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		if err := json.Unmarshal(data, &sub.Data); err != nil {
			return nil, fmt.Errorf("failed to decode data of %s: %w", sub.SubmissionID, err)
		}
		if createdAt != nil {
			sub.ReceivedAt = *createdAt
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read submissions: %w", err)
	}
	return out, nil
}

// Close shuts every pool down.
func (a *Adapter) Close(ctx context.Context) error {
	return a.pools.Close(ctx, func(ctx context.Context, key pool.Key, db DB) error {
		db.Close()
		a.logger.Info("connection pool closed", logging.Host(redactHost(key.Endpoint)), logging.Table(key.Name))
		return nil
	})
}

// Pools returns the number of live or connecting pools.
func (a *Adapter) Pools() int {
	return a.pools.Len()
}

// Provisioned reports how many tables have been provisioned.
func (a *Adapter) Provisioned() int {
	return a.schema.Len()
}
