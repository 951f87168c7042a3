package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/propeval/access-core/internal/core/domain"
)

type PermissionRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewPermissionRepository(db *mongo.Database) *PermissionRepository {
	return &PermissionRepository{coll: db.Collection(collectionPermissions), now: time.Now}
}

type permissionDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Action      string             `bson:"action"`
	Resource    string             `bson:"resource"`
	Description string             `bson:"description,omitempty"`
	CreatedAt   time.Time          `bson:"created_at"`
}

// Ensure upserts every permission in one unordered bulk write. Existing
// documents are matched on (action, resource) and left untouched. A
// duplicate-key error means a concurrent seeder inserted the same pair first;
// the write is retried once, at which point every pair matches.
func (r *PermissionRepository) Ensure(ctx context.Context, perms []domain.Permission) error {
	if len(perms) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := r.now().UTC()
	models := make([]mongo.WriteModel, 0, len(perms))
	for _, p := range perms {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"action": p.Action, "resource": p.Resource}).
			SetUpdate(bson.M{"$setOnInsert": bson.M{
				"action":      p.Action,
				"resource":    p.Resource,
				"description": p.Description,
				"created_at":  now,
			}}).
			SetUpsert(true))
	}

	opts := options.BulkWrite().SetOrdered(false)
	_, err := r.coll.BulkWrite(ctx, models, opts)
	if mongo.IsDuplicateKeyError(err) {
		_, err = r.coll.BulkWrite(ctx, models, opts)
	}
	if err != nil {
		return unavailable("ensure permissions", err)
	}
	return nil
}

func (r *PermissionRepository) Create(ctx context.Context, perm domain.Permission) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := r.coll.InsertOne(ctx, permissionDoc{
		Action:      perm.Action,
		Resource:    perm.Resource,
		Description: perm.Description,
		CreatedAt:   r.now().UTC(),
	})
	if err != nil {
		return insertErr("insert permission", err)
	}
	return nil
}

func (r *PermissionRepository) Exists(ctx context.Context, perm domain.Permission) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	n, err := r.coll.CountDocuments(ctx,
		bson.M{"action": perm.Action, "resource": perm.Resource},
		options.Count().SetLimit(1))
	if err != nil {
		return false, unavailable("count permission", err)
	}
	return n > 0, nil
}

func (r *PermissionRepository) List(ctx context.Context) ([]domain.Permission, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	sort := bson.D{{Key: "resource", Value: 1}, {Key: "action", Value: 1}}
	cur, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(sort))
	if err != nil {
		return nil, unavailable("list permissions", err)
	}
	var docs []permissionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("decode permissions", err)
	}

	perms := make([]domain.Permission, 0, len(docs))
	for _, d := range docs {
		perms = append(perms, domain.Permission{Action: d.Action, Resource: d.Resource, Description: d.Description})
	}
	return perms, nil
}
