package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const (
	// DefaultMongoCollection holds one document per run.
	DefaultMongoCollection = "audit_runs"
	defaultMongoTimeout    = 5 * time.Second
)

// MongoSinkConfig configures a MongoSink.
type MongoSinkConfig struct {
	Database   string        `yaml:"database" json:"database"`
	Collection string        `yaml:"collection" json:"collection"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// MongoSink upserts one document per run, keyed by run id. The run's
// Document is stored under "document" next to indexed top-level fields.
type MongoSink struct {
	store   mongoStore
	timeout time.Duration
	logger  *zap.Logger
}

type mongoRecord struct {
	RunID     string    `bson:"_id"`
	Framework string    `bson:"framework"`
	Timestamp time.Time `bson:"timestamp"`
	Outcome   string    `bson:"outcome"`
	TotalCost float64   `bson:"total_cost"`
	Document  bson.D    `bson:"document"`
}

type mongoStore interface {
	upsert(ctx context.Context, rec mongoRecord) error
	find(ctx context.Context, runID string) (*mongoRecord, error)
	recent(ctx context.Context, n int64) ([]mongoRecord, error)
}

// NewMongoSink binds a sink to a collection of client and creates its
// framework/timestamp index.
func NewMongoSink(ctx context.Context, client *mongo.Client, cfg MongoSinkConfig, logger *zap.Logger) (*MongoSink, error) {
	if client == nil {
		return nil, errors.New("mongo client is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultMongoCollection
	}
	store := driverStore{coll: client.Database(cfg.Database).Collection(cfg.Collection)}

	s := newMongoSink(store, cfg.Timeout, logger)
	ictx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := store.ensureIndexes(ictx); err != nil {
		return nil, fmt.Errorf("create audit indexes: %w", err)
	}
	return s, nil
}

func newMongoSink(store mongoStore, timeout time.Duration, logger *zap.Logger) *MongoSink {
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoSink{store: store, timeout: timeout, logger: logger.With(zap.String("component", "audit_mongo_sink"))}
}

// Write implements Sink. Writing the same run twice replaces it.
func (s *MongoSink) Write(ctx context.Context, log *Log) error {
	rec, err := toMongoRecord(log)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.upsert(ctx, rec); err != nil {
		return fmt.Errorf("upsert audit log to mongo: %w", err)
	}
	s.logger.Debug("audit log stored", zap.String("run_id", log.RunID))
	return nil
}

// Load fetches a document by run id.
func (s *MongoSink) Load(ctx context.Context, runID string) (*Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rec, err := s.store.find(ctx, runID)
	if err != nil {
		return nil, err
	}
	return fromMongoRecord(rec)
}

// Recent returns up to n of the newest documents, newest last.
func (s *MongoSink) Recent(ctx context.Context, n int64) ([]Document, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	recs, err := s.store.recent(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	docs := make([]Document, 0, len(recs))
	for i := range recs {
		doc, err := fromMongoRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	slices.Reverse(docs)
	return docs, nil
}

func (s *MongoSink) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// toMongoRecord stores the JSON document as BSON so it stays queryable.
func toMongoRecord(log *Log) (mongoRecord, error) {
	data, err := json.Marshal(log.Document())
	if err != nil {
		return mongoRecord{}, fmt.Errorf("encode audit log: %w", err)
	}
	var body bson.D
	if err := bson.UnmarshalExtJSON(data, false, &body); err != nil {
		return mongoRecord{}, fmt.Errorf("convert audit log to bson: %w", err)
	}
	return mongoRecord{
		RunID:     log.RunID,
		Framework: log.Framework,
		Timestamp: log.Timestamp.UTC(),
		Outcome:   string(log.Outcome),
		TotalCost: log.TotalCost,
		Document:  body,
	}, nil
}

func fromMongoRecord(rec *mongoRecord) (*Document, error) {
	data, err := bson.MarshalExtJSON(rec.Document, false, false)
	if err != nil {
		return nil, fmt.Errorf("convert audit log from bson: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode audit log: %w", err)
	}
	return &doc, nil
}

type driverStore struct {
	coll *mongo.Collection
}

func (d driverStore) ensureIndexes(ctx context.Context) error {
	_, err := d.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "framework", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	return err
}

func (d driverStore) upsert(ctx context.Context, rec mongoRecord) error {
	_, err := d.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: rec.RunID}}, rec, options.Replace().SetUpsert(true))
	return err
}

func (d driverStore) find(ctx context.Context, runID string) (*mongoRecord, error) {
	var rec mongoRecord
	err := d.coll.FindOne(ctx, bson.D{{Key: "_id", Value: runID}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit log: %w", err)
	}
	return &rec, nil
}

func (d driverStore) recent(ctx context.Context, n int64) ([]mongoRecord, error) {
	cur, err := d.coll.Find(ctx, bson.D{}, options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(n),
	)
	if err != nil {
		return nil, err
	}
	var recs []mongoRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
