package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

type UserRepository struct {
	db        *mongo.Database
	coll      *mongo.Collection
	userRoles *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		db:        db,
		coll:      db.Collection(collectionUsers),
		userRoles: db.Collection(collectionUserRoles),
	}
}

type userDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Username     string             `bson:"username"`
	Email        string             `bson:"email"`
	FullName     string             `bson:"full_name,omitempty"`
	Department   string             `bson:"department,omitempty"`
	PasswordHash string             `bson:"password_hash"`
	Active       bool               `bson:"active"`
	TokenVersion int64              `bson:"token_version"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
	LastLoginAt  *time.Time         `bson:"last_login_at,omitempty"`
}

func (d *userDoc) toDomain() *domain.User {
	return &domain.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		FullName:     d.FullName,
		Department:   d.Department,
		PasswordHash: d.PasswordHash,
		Active:       d.Active,
		TokenVersion: d.TokenVersion,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		LastLoginAt:  d.LastLoginAt,
	}
}

// Create inserts the user. When roleIDs is non-empty the user document and its
// assignments are written in one transaction.
func (r *UserRepository) Create(ctx context.Context, user *domain.User, roleIDs []string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := userDoc{
		ID:           primitive.NewObjectID(),
		Username:     user.Username,
		Email:        user.Email,
		FullName:     user.FullName,
		Department:   user.Department,
		PasswordHash: user.PasswordHash,
		Active:       user.Active,
		TokenVersion: user.TokenVersion,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}

	if len(roleIDs) == 0 {
		if _, err := r.coll.InsertOne(ctx, doc); err != nil {
			return nil, insertErr("insert user", err)
		}
		return doc.toDomain(), nil
	}

	assignments := make([]interface{}, 0, len(roleIDs))
	for _, id := range roleIDs {
		roleID, err := objectID(id)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, userRoleDoc{
			UserID:     doc.ID,
			RoleID:     roleID,
			AssignedAt: doc.CreatedAt,
		})
	}

	err := withTransaction(ctx, r.db, func(sc mongo.SessionContext) error {
		if _, err := r.coll.InsertOne(sc, doc); err != nil {
			return err
		}
		_, err := r.userRoles.InsertMany(sc, assignments)
		return err
	})
	if err != nil {
		return nil, insertErr("insert user with roles", err)
	}
	return doc.toDomain(), nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// FindByIdentifier matches username or email case-insensitively. Both are
// stored lower-cased.
func (r *UserRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	identifier = strings.ToLower(identifier)
	return r.findOne(ctx, bson.M{"$or": bson.A{
		bson.M{"username": identifier},
		bson.M{"email": identifier},
	}})
}

func (r *UserRepository) List(ctx context.Context) ([]*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, unavailable("list users", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("decode users", err)
	}

	users := make([]*domain.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toDomain())
	}
	return users, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, upd ports.ProfileUpdate) (*domain.User, error) {
	return r.update(ctx, id, bson.M{"$set": profileSet(upd, time.Now().UTC())})
}

// profileSet builds the $set document of a profile update.
func profileSet(upd ports.ProfileUpdate, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if upd.Email != nil {
		set["email"] = *upd.Email
	}
	if upd.FullName != nil {
		set["full_name"] = *upd.FullName
	}
	if upd.Department != nil {
		set["department"] = *upd.Department
	}
	return set
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, hash string) (*domain.User, error) {
	return r.update(ctx, id, bson.M{
		"$set": bson.M{"password_hash": hash, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"token_version": 1},
	})
}

func (r *UserRepository) Deactivate(ctx context.Context, id string) (*domain.User, error) {
	return r.update(ctx, id, bson.M{
		"$set": bson.M{"active": false, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"token_version": 1},
	})
}

func (r *UserRepository) BumpTokenVersion(ctx context.Context, id string) (*domain.User, error) {
	return r.update(ctx, id, bson.M{
		"$set": bson.M{"updated_at": time.Now().UTC()},
		"$inc": bson.M{"token_version": 1},
	})
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"last_login_at": at}})
	if err != nil {
		return unavailable("touch last login", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc userDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrNotFound
		}
		return nil, unavailable("find user", err)
	}
	return doc.toDomain(), nil
}

// update applies a single-document update and returns the post-image, so the
// caller publishes exactly the state that was committed.
func (r *UserRepository) update(ctx context.Context, id string, update bson.M) (*domain.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDoc
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrNotFound
		}
		return nil, insertErr("update user", err)
	}
	return doc.toDomain(), nil
}

// insertErr maps a write failure: duplicate keys are conflicts, anything else
// is an unavailable store.
func insertErr(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	return unavailable(op, err)
}
