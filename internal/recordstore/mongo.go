package recordstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bugbusters/bugbuster/internal/config"
	"github.com/bugbusters/bugbuster/internal/defect"
)

const mongoTimeout = 10 * time.Second

// cursorSource yields every document of a named collection. It is satisfied
// by a mongo database and by test fakes.
type cursorSource interface {
	All(ctx context.Context, collection string) ([]bson.M, error)
}

type mongoDatabase struct {
	db *mongo.Database
}

func (m mongoDatabase) All(ctx context.Context, collection string) ([]bson.M, error) {
	cur, err := m.db.Collection(collection).Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Mongo loads tracker documents followed by incidents, each collection in
// natural order.
type Mongo struct {
	client        *mongo.Client
	src           cursorSource
	defects       string
	incidents     string
	serviceNowURL string
}

// DialMongo connects and pings the deployment at cfg.URI.
func DialMongo(ctx context.Context, cfg config.MongoConfig, serviceNowURL string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	m := newMongo(mongoDatabase{db: client.Database(cfg.Database)}, cfg, serviceNowURL)
	m.client = client
	return m, nil
}

func newMongo(src cursorSource, cfg config.MongoConfig, serviceNowURL string) *Mongo {
	return &Mongo{
		src:           src,
		defects:       cfg.DefectsCollection,
		incidents:     cfg.IncidentsCollection,
		serviceNowURL: serviceNowURL,
	}
}

func (m *Mongo) Load(ctx context.Context) ([]defect.Record, error) {
	raw, err := m.src.All(ctx, m.defects)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", m.defects, err)
	}
	docs := make([]map[string]any, len(raw))
	for i, d := range raw {
		docs[i] = plainMap(d)
	}
	recs := normalizeAll(docs, m.defects)

	if m.incidents == "" {
		return recs, nil
	}
	incidents, err := m.src.All(ctx, m.incidents)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", m.incidents, err)
	}
	for _, d := range incidents {
		recs = append(recs, defect.FromIncident(plainMap(d), m.serviceNowURL))
	}
	slog.Debug("loaded mongo records", "defects", len(raw), "incidents", len(incidents))
	return recs, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// plainMap converts a decoded BSON document into plain Go maps and slices
// so the shared normaliser can read nested root causes.
func plainMap(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return plainMap(t)
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plainValue(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	default:
		return v
	}
}
