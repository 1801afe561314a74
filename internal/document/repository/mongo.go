package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aziende/editorbridge/internal/document"
)

// MongoRepo implements the Document Store on MongoDB. Commits run in a
// multi-document transaction (replica set required) and the content update
// is guarded on the version read inside that transaction.
type MongoRepo struct {
	client   *mongo.Client
	docs     *mongo.Collection
	versions *mongo.Collection
	now      func() time.Time
}

func NewMongoRepo(ctx context.Context, client *mongo.Client, database string) (*MongoRepo, error) {
	db := client.Database(database)
	m := &MongoRepo{
		client:   client,
		docs:     db.Collection("documents"),
		versions: db.Collection("document_versions"),
		now:      time.Now,
	}
	if _, err := m.docs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "azienda", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("documents indexes: %w", err)
	}
	if _, err := m.versions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "documentId", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("versions index: %w", err)
	}
	return m, nil
}

func classifyMongo(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) || errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w: %w", op, document.ErrIntegrity, err)
	}
	return fmt.Errorf("%s: %w: %w", op, document.ErrStorage, err)
}

func (m *MongoRepo) Create(ctx context.Context, doc *document.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = xid.New().String()
	}
	if doc.Version < 1 {
		doc.Version = 1
	}
	now := m.now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if _, err := m.docs.InsertOne(ctx, doc); err != nil {
		return "", classifyMongo("insert document", err)
	}
	return doc.ID, nil
}

func (m *MongoRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	if err := m.docs.FindOne(ctx, bson.M{"id": id}).Decode(&d); err != nil {
		return nil, classifyMongo("get document", err)
	}
	return &d, nil
}

func (m *MongoRepo) List(ctx context.Context, tenant string) ([]*document.Document, error) {
	filter := bson.M{}
	if tenant != "" {
		filter = bson.M{"$or": bson.A{
			bson.M{"azienda": tenant},
			bson.M{"azienda": bson.M{"$exists": false}},
		}}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetProjection(bson.M{"content": 0})
	cur, err := m.docs.Find(ctx, filter, opts)
	if err != nil {
		return nil, classifyMongo("list documents", err)
	}
	defer cur.Close(ctx)
	out := []*document.Document{}
	for cur.Next(ctx) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, classifyMongo("decode document", err)
		}
		out = append(out, &d)
	}
	return out, classifyMongo("list documents", cur.Err())
}

func (m *MongoRepo) CommitContent(ctx context.Context, id string, c document.Commit) (*document.Document, error) {
	sess, err := m.client.StartSession()
	if err != nil {
		return nil, classifyMongo("start session", err)
	}
	defer sess.EndSession(ctx)

	res, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var d document.Document
		if err := m.docs.FindOne(sc, bson.M{"id": id}).Decode(&d); err != nil {
			return nil, err
		}
		if !d.Changes(c) {
			return &d, nil
		}
		prev := d.Version
		if snap := d.Apply(c, m.now().UTC()); snap != nil {
			if _, err := m.versions.InsertOne(sc, snap); err != nil {
				return nil, err
			}
		}
		upd, err := m.docs.UpdateOne(sc,
			bson.M{"id": id, "version": prev},
			bson.M{"$set": bson.M{
				"content":    d.Content,
				"version":    d.Version,
				"title":      d.Title,
				"modifiedBy": d.ModifiedBy,
				"updatedAt":  d.UpdatedAt,
			}})
		if err != nil {
			return nil, err
		}
		if upd.MatchedCount != 1 {
			return nil, errVersionMoved
		}
		return &d, nil
	})
	if err != nil {
		return nil, classifyMongo("commit", err)
	}
	return res.(*document.Document), nil
}

func (m *MongoRepo) ListVersions(ctx context.Context, id string) ([]*document.Version, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "version", Value: 1}}).
		SetProjection(bson.M{"content": 0})
	cur, err := m.versions.Find(ctx, bson.M{"documentId": id}, opts)
	if err != nil {
		return nil, classifyMongo("list versions", err)
	}
	defer cur.Close(ctx)
	out := []*document.Version{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, classifyMongo("decode versions", err)
	}
	return out, nil
}

func (m *MongoRepo) GetVersion(ctx context.Context, id string, version int64) (*document.Version, error) {
	var v document.Version
	if err := m.versions.FindOne(ctx, bson.M{"documentId": id, "version": version}).Decode(&v); err != nil {
		return nil, classifyMongo("get version", err)
	}
	return &v, nil
}

func (m *MongoRepo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}
