package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"paybot/internal/domain"
	logx "paybot/pkg/logx"
)

type mongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
	audit  *mongo.Collection
	dedup  *mongo.Collection
	log    logx.Logger
	seed   []string
}

type dedupDoc struct {
	Key   string    `json:"_id"`
	Until time.Time `json:"until"`
}

func openMongo(cfg Config, log logx.Logger) (*mongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.DSN)
	// Documents use the same json tags as every other driver.
	opts = opts.SetBSONOptions(&options.BSONOptions{
		UseJSONStructTags: true,
		NilMapAsEmpty:     true,
		NilSliceAsEmpty:   true,
	})
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	name := strings.TrimSpace(cfg.Database)
	if name == "" {
		name = "paybot"
	}
	db := client.Database(name)
	s := &mongoStore{
		client: client,
		users:  db.Collection("users"),
		audit:  db.Collection("audit"),
		dedup:  db.Collection("dedup"),
		log:    log,
		seed:   cfg.Tenants,
	}

	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("unique_tenant_id"),
	})
	if err == nil {
		_, err = s.audit.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "at", Value: 1}},
			Options: options.Index().SetName("audit_at"),
		})
	}
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}
	return s, nil
}

func (s *mongoStore) ListTenants(ctx context.Context) ([]string, error) {
	vals, err := s.users.Distinct(ctx, "tenant_id", bson.D{})
	if err != nil {
		return nil, err
	}
	found := make([]string, 0, len(vals))
	for _, v := range vals {
		if t, ok := v.(string); ok {
			found = append(found, t)
		}
	}
	return mergeTenants(s.seed, found), nil
}

func (s *mongoStore) LoadUsersForTenant(ctx context.Context, tenant string) ([]domain.User, error) {
	cur, err := s.users.Find(ctx,
		bson.D{{Key: "tenant_id", Value: tenant}},
		options.Find().SetSort(bson.D{{Key: "id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var out []domain.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoStore) SaveUser(ctx context.Context, u *domain.User) error {
	if err := stamp(u, time.Now()); err != nil {
		return err
	}
	filter := bson.D{{Key: "tenant_id", Value: u.TenantID}, {Key: "id", Value: u.ID}}
	_, err := s.users.ReplaceOne(ctx, filter, u, options.Replace().SetUpsert(true))
	return err
}

func (s *mongoStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.audit.InsertOne(ctx, e)
	return err
}

func (s *mongoStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.dedup.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: key}},
		dedupDoc{Key: key, Until: until.UTC()},
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *mongoStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	var d dedupDoc
	err := s.dedup.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return d.Until, true, nil
}

func (s *mongoStore) Prune(ctx context.Context, now, auditBefore time.Time) (PruneReport, error) {
	var rep PruneReport
	res, err := s.dedup.DeleteMany(ctx, bson.D{{Key: "until", Value: bson.D{{Key: "$lt", Value: now.UTC()}}}})
	if err != nil {
		return rep, err
	}
	rep.Dedup = res.DeletedCount
	if auditBefore.IsZero() {
		return rep, nil
	}
	res, err = s.audit.DeleteMany(ctx, bson.D{
		{Key: "at", Value: bson.D{{Key: "$lt", Value: auditBefore.UTC()}}},
		{Key: "kind", Value: bson.D{{Key: "$ne", Value: KindLedgerTransaction}}},
	})
	if err != nil {
		return rep, err
	}
	rep.Audit = res.DeletedCount
	return rep, nil
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
