package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"inflow/internal/engine"
)

// ── Mongo store ────────────────────────────────────────────
// Document-store implementation of engine.Persistence on MongoDB.
// Collection layout matches the original loader: one collection for
// records, one for schema versions, one append-only for change events.
// Unique indexes on schema_versions.version and .fingerprint are the
// serialization point for concurrent version allocation.

// MongoConfig names the target database and collections.
type MongoConfig struct {
	URI               string
	Database          string
	RecordsCollection string
	SchemaCollection  string
	ChangesCollection string
}

// Mongo implements engine.Persistence over a MongoDB database.
type Mongo struct {
	client *mongo.Client
	cfg    MongoConfig
}

// ConnectMongo connects, pings, and prepares the unique indexes that
// back atomic schema-version allocation.
func ConnectMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	m := &Mongo{client: client, cfg: cfg}
	if err := m.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	log.Printf("[MONGO] Connected to %s/%s", cfg.URI, cfg.Database)
	return m, nil
}

// Close disconnects the underlying client.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) coll(name string) *mongo.Collection {
	return m.client.Database(m.cfg.Database).Collection(name)
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	schemas := m.coll(m.cfg.SchemaCollection)
	_, err := schemas.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "version", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "fingerprint", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create schema indexes: %w", err)
	}
	return nil
}

// ── Schema versions ────────────────────────────────────────

// schemaVersionDoc is the persisted shape of a schema version. The
// schema itself is stored as an ordered document mapping field name to
// {type, sample_values}, matching the original loader's documents.
type schemaVersionDoc struct {
	Version     int       `bson:"version"`
	Fingerprint string    `bson:"fingerprint,omitempty"`
	Schema      bson.D    `bson:"schema"`
	CreatedAt   time.Time `bson:"created_at"`
	LastUsed    time.Time `bson:"last_used"`
	Stats       struct {
		TotalRecords int `bson:"total_records"`
		TotalFields  int `bson:"total_fields"`
	} `bson:"stats"`
}

func (m *Mongo) FindSchemaVersions(ctx context.Context) ([]engine.SchemaVersion, error) {
	cursor, err := m.coll(m.cfg.SchemaCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find schema versions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []engine.SchemaVersion
	for cursor.Next(ctx) {
		var doc schemaVersionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode schema version: %w", err)
		}
		out = append(out, fromSchemaVersionDoc(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("schema version cursor: %w", err)
	}
	return out, nil
}

func (m *Mongo) InsertSchemaVersion(ctx context.Context, v *engine.SchemaVersion) error {
	_, err := m.coll(m.cfg.SchemaCollection).InsertOne(ctx, toSchemaVersionDoc(v))
	if mongo.IsDuplicateKeyError(err) {
		return engine.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}
	return nil
}

func (m *Mongo) TouchSchemaVersion(ctx context.Context, version int, lastUsed time.Time, records int) error {
	_, err := m.coll(m.cfg.SchemaCollection).UpdateOne(ctx,
		bson.M{"version": version},
		bson.M{
			"$set": bson.M{"last_used": lastUsed},
			"$inc": bson.M{"stats.total_records": records},
		},
	)
	if err != nil {
		return fmt.Errorf("touch schema version %d: %w", version, err)
	}
	return nil
}

func toSchemaVersionDoc(v *engine.SchemaVersion) schemaVersionDoc {
	schema := make(bson.D, 0, len(v.Schema.Fields))
	for _, f := range v.Schema.Fields {
		schema = append(schema, bson.E{Key: f.Name, Value: bson.D{
			{Key: "type", Value: string(f.Type)},
			{Key: "sample_values", Value: f.Samples},
		}})
	}
	doc := schemaVersionDoc{
		Version:     v.Version,
		Fingerprint: v.Fingerprint,
		Schema:      schema,
		CreatedAt:   v.CreatedAt,
		LastUsed:    v.LastUsed,
	}
	doc.Stats.TotalRecords = v.Stats.TotalRecords
	doc.Stats.TotalFields = v.Stats.TotalFields
	return doc
}

func fromSchemaVersionDoc(doc schemaVersionDoc) engine.SchemaVersion {
	schema := engine.Schema{Fields: make([]engine.SchemaField, 0, len(doc.Schema))}
	for _, elem := range doc.Schema {
		field := engine.SchemaField{Name: elem.Key, Type: engine.TypeString}
		if info, ok := elem.Value.(bson.D); ok {
			for _, e := range info {
				switch e.Key {
				case "type":
					if s, ok := e.Value.(string); ok {
						field.Type = engine.FieldType(s)
					}
				case "sample_values":
					if arr, ok := e.Value.(bson.A); ok {
						field.Samples = []any(arr)
					}
				}
			}
		}
		schema.Fields = append(schema.Fields, field)
	}
	return engine.SchemaVersion{
		Version:     doc.Version,
		Fingerprint: doc.Fingerprint,
		Schema:      schema,
		CreatedAt:   doc.CreatedAt,
		LastUsed:    doc.LastUsed,
		Stats: engine.SchemaStats{
			TotalRecords: doc.Stats.TotalRecords,
			TotalFields:  doc.Stats.TotalFields,
		},
	}
}

// ── Records ────────────────────────────────────────────────

func (m *Mongo) FindByIdentifier(ctx context.Context, id engine.Identifier) (engine.NormalizedRecord, error) {
	var doc bson.M
	err := m.coll(m.cfg.RecordsCollection).FindOne(ctx, bson.M{id.Field: id.Value}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by %s: %w", id.Field, err)
	}
	delete(doc, "_id")
	return engine.NormalizedRecord(doc), nil
}

func (m *Mongo) UpsertRecords(ctx context.Context, recs []engine.PersistRecord) error {
	if len(recs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(recs))
	for _, r := range recs {
		if r.Identifier == nil {
			models = append(models, mongo.NewInsertOneModel().SetDocument(bson.M(r.Record)))
			continue
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{r.Identifier.Field: r.Identifier.Value}).
			SetReplacement(bson.M(r.Record)).
			SetUpsert(true))
	}
	_, err := m.coll(m.cfg.RecordsCollection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("bulk upsert %d records: %w", len(recs), err)
	}
	log.Printf("[MONGO] Upserted %d records", len(recs))
	return nil
}

// ── Change events ──────────────────────────────────────────

func (m *Mongo) AppendChangeEvents(ctx context.Context, events []engine.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]any, len(events))
	for i, ev := range events {
		docs[i] = bson.M{
			"identifier":  bson.M{ev.Identifier.Field: ev.Identifier.Value},
			"field":       ev.Field,
			"old_value":   ev.OldValue,
			"new_value":   ev.NewValue,
			"change_type": ev.ChangeType,
			"timestamp":   ev.Timestamp,
		}
	}
	_, err := m.coll(m.cfg.ChangesCollection).InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("append %d change events: %w", len(events), err)
	}
	log.Printf("[MONGO] Recorded %d change events", len(events))
	return nil
}

// RecentChangeEvents returns the newest change events, newest first.
// CLI surface only — not part of the engine's persistence contract.
func (m *Mongo) RecentChangeEvents(ctx context.Context, limit int) ([]engine.ChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := m.coll(m.cfg.ChangesCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find change events: %w", err)
	}
	defer cursor.Close(ctx)

	var out []engine.ChangeEvent
	for cursor.Next(ctx) {
		var doc struct {
			Identifier bson.M    `bson:"identifier"`
			Field      string    `bson:"field"`
			OldValue   any       `bson:"old_value"`
			NewValue   any       `bson:"new_value"`
			ChangeType string    `bson:"change_type"`
			Timestamp  time.Time `bson:"timestamp"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode change event: %w", err)
		}
		ev := engine.ChangeEvent{
			Field:      doc.Field,
			OldValue:   doc.OldValue,
			NewValue:   doc.NewValue,
			ChangeType: doc.ChangeType,
			Timestamp:  doc.Timestamp,
		}
		for k, v := range doc.Identifier {
			ev.Identifier = engine.Identifier{Field: k, Value: v}
		}
		out = append(out, ev)
	}
	return out, cursor.Err()
}
