// Package mongodb is the document sink. Each target resolves to a database
// and each form to a collection inside it.
package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/postpipe/connector/internal/logging"
	"github.com/postpipe/connector/internal/metrics"
	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/pool"
	"github.com/postpipe/connector/internal/storage"
	"github.com/postpipe/connector/internal/targets"
)

// Adapter writes submissions to MongoDB. One client is kept per URI; each
// (uri, database, collection) gets one provisioning pass.
//
// Unlike the relational sink there is no unique index on submissionId, so a
// retried delivery stores a second document.
type Adapter struct {
	resolver *targets.Resolver
	clients  *pool.Registry[Client]
	schema   *pool.Provisioner
	dial     Dialer
	logger   *logging.Logger
}

var _ storage.Adapter = (*Adapter)(nil)

// New creates the document adapter. A nil dial uses the official driver.
func New(resolver *targets.Resolver, dial Dialer, logger *logging.Logger) *Adapter {
	if dial == nil {
		dial = Dial
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Adapter{
		resolver: resolver,
		clients:  pool.NewRegistry[Client](),
		schema:   pool.NewProvisioner(),
		dial:     dial,
		logger:   logger.With(logging.Kind(string(models.KindDocument))),
	}
}

func (a *Adapter) Kind() models.Kind {
	return models.KindDocument
}

// redactHost strips credentials, path and options from a MongoDB URI.
func redactHost(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "localhost"
	}
	return rest
}

type destination struct {
	uri      string
	client   Client
	database string
}

// destination resolves hint to a connected client and database name.
func (a *Adapter) destination(ctx context.Context, hint targets.Hint) (destination, error) {
	uri, err := a.resolver.DocumentURI(hint)
	if err != nil {
		return destination{}, err
	}
	database := a.resolver.DatabaseName(hint, uri)

	client, err := a.clients.GetOrCreate(ctx, pool.Key{Endpoint: uri}, func(ctx context.Context) (Client, error) {
		ctx, cancel := storage.ConnectContext(ctx)
		defer cancel()

		a.logger.InfoContext(ctx, "establishing connection", logging.Host(redactHost(uri)))
		client, err := a.dial(ctx, uri)
		if err != nil {
			metrics.PoolErrors.WithLabelValues(string(models.KindDocument)).Inc()
			return nil, err
		}
		metrics.PoolsEstablished.WithLabelValues(string(models.KindDocument)).Inc()
		return client, nil
	})
	if err != nil {
		return destination{}, err
	}
	return destination{uri: uri, client: client, database: database}, nil
}

func (a *Adapter) collection(ctx context.Context, dest destination, name string) (Collection, error) {
	coll := dest.client.Collection(dest.database, name)
	key := pool.Key{Endpoint: dest.uri, Name: dest.database + "." + name}
	err := a.schema.Ensure(ctx, key, func(ctx context.Context) error {
		ctx, cancel := storage.WriteContext(ctx)
		defer cancel()
		if err := coll.EnsureIndexes(ctx); err != nil {
			metrics.SchemaProvisions.WithLabelValues(string(models.KindDocument), "error").Inc()
			return fmt.Errorf("failed to create indexes on %s: %w", key.Name, err)
		}
		metrics.SchemaProvisions.WithLabelValues(string(models.KindDocument), "ok").Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return coll, nil
}

// Connect establishes the client for hint. Collections are provisioned on
// first insert because they depend on the form.
func (a *Adapter) Connect(ctx context.Context, hint targets.Hint) error {
	_, err := a.destination(ctx, hint)
	return err
}

// Insert stores sub in the collection named after its form.
func (a *Adapter) Insert(ctx context.Context, hint targets.Hint, sub models.Submission) (storage.Outcome, error) {
	dest, err := a.destination(ctx, hint)
	if err != nil {
		return storage.OutcomeFailed, err
	}
	name := a.resolver.CollectionName(sub.FormName, sub.FormID)
	coll, err := a.collection(ctx, dest, name)
	if err != nil {
		return storage.OutcomeFailed, err
	}

	doc, err := toDocument(sub)
	if err != nil {
		return storage.OutcomeFailed, err
	}

	ctx, cancel := storage.WriteContext(ctx)
	defer cancel()
	if err := coll.InsertOne(ctx, doc); err != nil {
		return storage.OutcomeFailed, fmt.Errorf("failed to insert submission: %w", err)
	}

	a.logger.DebugContext(ctx, "submission stored",
		logging.Database(dest.database), logging.Table(name), logging.SubmissionID(sub.SubmissionID))
	return storage.OutcomeStored, nil
}

// Query reads from the collection named by opts.FormName, else formID.
func (a *Adapter) Query(ctx context.Context, formID string, opts storage.QueryOptions) ([]models.Submission, error) {
	dest, err := a.destination(ctx, opts.Hint)
	if err != nil {
		return nil, err
	}
	name := a.resolver.CollectionName(opts.FormName, formID)
	coll := dest.client.Collection(dest.database, name)

	ctx, cancel := storage.QueryContext(ctx)
	defer cancel()

	start := time.Now()
	docs, err := coll.FindByForm(ctx, formID, int64(opts.Limit))
	metrics.QueryDuration.WithLabelValues(string(models.KindDocument)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}

	out := make([]models.Submission, 0, len(docs))
	for _, doc := range docs {
		sub, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// Close disconnects every client.
func (a *Adapter) Close(ctx context.Context) error {
	return a.clients.Close(ctx, func(ctx context.Context, key pool.Key, c Client) error {
		if err := c.Disconnect(ctx); err != nil {
			return fmt.Errorf("disconnect %s: %w", redactHost(key.Endpoint), err)
		}
		return nil
	})
}

// Clients returns the number of live or connecting clients.
func (a *Adapter) Clients() int {
	return a.clients.Len()
}
