package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

// RoleRepository stores roles with their permission keys embedded and the
// user↔role association in a separate collection.
type RoleRepository struct {
	db        *mongo.Database
	coll      *mongo.Collection
	userRoles *mongo.Collection
	now       func() time.Time
}

func NewRoleRepository(db *mongo.Database) *RoleRepository {
	return &RoleRepository{
		db:        db,
		coll:      db.Collection(collectionRoles),
		userRoles: db.Collection(collectionUserRoles),
		now:       time.Now,
	}
}

type roleDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Name        string             `bson:"name"`
	Description string             `bson:"description,omitempty"`
	Permissions []string           `bson:"permissions"`
	CreatedAt   time.Time          `bson:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at"`
}

type userRoleDoc struct {
	UserID     primitive.ObjectID `bson:"user_id"`
	RoleID     primitive.ObjectID `bson:"role_id"`
	AssignedBy string             `bson:"assigned_by,omitempty"`
	AssignedAt time.Time          `bson:"assigned_at"`
}

func (d *roleDoc) toDomain() *domain.Role {
	perms := make([]domain.Permission, 0, len(d.Permissions))
	for _, key := range d.Permissions {
		if p, ok := domain.ParsePermissionKey(key); ok {
			perms = append(perms, p)
		}
	}
	return &domain.Role{
		ID:          d.ID.Hex(),
		Name:        d.Name,
		Description: d.Description,
		Permissions: perms,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// permissionKeys never returns nil: $addToSet fails on a null field.
func permissionKeys(perms []domain.Permission) []string {
	keys := make([]string, 0, len(perms))
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		k := p.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func (r *RoleRepository) Create(ctx context.Context, role *domain.Role) (*domain.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := roleDoc{
		ID:          primitive.NewObjectID(),
		Name:        role.Name,
		Description: role.Description,
		Permissions: permissionKeys(role.Permissions),
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return nil, insertErr("insert role", err)
	}
	return doc.toDomain(), nil
}

// Ensure upserts the role by name. Two processes seeding at once can both
// miss the document and race on the unique name index; the loser retries once
// and then matches the winner's document.
func (r *RoleRepository) Ensure(ctx context.Context, name, description string, initial, topUp []domain.Permission) (*domain.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := r.now().UTC()
	upsert := bson.M{"$setOnInsert": bson.M{
		"name":        name,
		"description": description,
		"permissions": permissionKeys(initial),
		"created_at":  now,
		"updated_at":  now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc roleDoc
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"name": name}, upsert, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		err = r.coll.FindOneAndUpdate(ctx, bson.M{"name": name}, upsert, opts).Decode(&doc)
	}
	if err != nil {
		return nil, unavailable("ensure role "+name, err)
	}

	if len(topUp) == 0 {
		return doc.toDomain(), nil
	}
	return r.addPermissions(ctx, doc.ID, topUp)
}

func (r *RoleRepository) FindByID(ctx context.Context, id string) (*domain.Role, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *RoleRepository) FindByName(ctx context.Context, name string) (*domain.Role, error) {
	return r.findOne(ctx, bson.M{"name": name})
}

func (r *RoleRepository) List(ctx context.Context) ([]*domain.Role, error) {
	return r.find(ctx, bson.M{})
}

func (r *RoleRepository) Update(ctx context.Context, id string, upd ports.RoleUpdate) (*domain.Role, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	set := bson.M{"updated_at": r.now().UTC()}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	return r.updateOne(ctx, oid, bson.M{"$set": set})
}

// Delete removes the role and every assignment of it in one transaction.
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = withTransaction(ctx, r.db, func(sc mongo.SessionContext) error {
		res, err := r.coll.DeleteOne(sc, bson.M{"_id": oid})
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
			return domain.ErrNotFound
		}
		_, err = r.userRoles.DeleteMany(sc, bson.M{"role_id": oid})
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return err
	default:
		return unavailable("delete role", err)
	}
}

func (r *RoleRepository) GrantPermissions(ctx context.Context, roleID string, perms []domain.Permission) (*domain.Role, error) {
	oid, err := objectID(roleID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return r.addPermissions(ctx, oid, perms)
}

func (r *RoleRepository) RevokePermission(ctx context.Context, roleID string, perm domain.Permission) (*domain.Role, error) {
	oid, err := objectID(roleID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return r.updateOne(ctx, oid, bson.M{
		"$pull": bson.M{"permissions": perm.Key()},
		"$set":  bson.M{"updated_at": r.now().UTC()},
	})
}

// Assign upserts the pair, so assigning twice leaves one document.
func (r *RoleRepository) Assign(ctx context.Context, a domain.UserRole) error {
	userID, err := objectID(a.UserID)
	if err != nil {
		return err
	}
	roleID, err := objectID(a.RoleID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"user_id": userID, "role_id": roleID}
	update := bson.M{"$setOnInsert": bson.M{"assigned_by": a.AssignedBy, "assigned_at": a.AssignedAt}}
	_, err = r.userRoles.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return unavailable("assign role", err)
	}
	return nil
}

func (r *RoleRepository) Unassign(ctx context.Context, userID, roleID string) error {
	uid, err := objectID(userID)
	if err != nil {
		return err
	}
	rid, err := objectID(roleID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.userRoles.DeleteOne(ctx, bson.M{"user_id": uid, "role_id": rid})
	if err != nil {
		return unavailable("unassign role", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RoleRepository) RolesForUser(ctx context.Context, userID string) ([]*domain.Role, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := r.userRoles.Find(ctx, bson.M{"user_id": uid})
	if err != nil {
		return nil, unavailable("find user roles", err)
	}
	var links []userRoleDoc
	if err := cur.All(ctx, &links); err != nil {
		return nil, unavailable("decode user roles", err)
	}
	if len(links) == 0 {
		return nil, nil
	}

	ids := make(bson.A, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.RoleID)
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (r *RoleRepository) addPermissions(ctx context.Context, oid primitive.ObjectID, perms []domain.Permission) (*domain.Role, error) {
	return r.updateOne(ctx, oid, bson.M{
		"$addToSet": bson.M{"permissions": bson.M{"$each": permissionKeys(perms)}},
		"$set":      bson.M{"updated_at": r.now().UTC()},
	})
}

func (r *RoleRepository) updateOne(ctx context.Context, oid primitive.ObjectID, update bson.M) (*domain.Role, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc roleDoc
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrNotFound
		}
		return nil, insertErr("update role", err)
	}
	return doc.toDomain(), nil
}

func (r *RoleRepository) findOne(ctx context.Context, filter bson.M) (*domain.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc roleDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrNotFound
		}
		return nil, unavailable("find role", err)
	}
	return doc.toDomain(), nil
}

func (r *RoleRepository) find(ctx context.Context, filter bson.M) ([]*domain.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, unavailable("list roles", err)
	}
	var docs []roleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("decode roles", err)
	}
	roles := make([]*domain.Role, 0, len(docs))
	for i := range docs {
		roles = append(roles, docs[i].toDomain())
	}
	return roles, nil
}
