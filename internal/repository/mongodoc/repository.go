package mongodoc

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"collabnotes/internal/domain"
)

// Repository stores documents and their revision history in MongoDB. It
// implements domain.DocumentRepository. Revision ids are snowflakes so
// history sorts by insertion order without a per-document counter.
type Repository struct {
	documents *mongo.Collection
	revisions *mongo.Collection
	node      *snowflake.Node
	logger    *zap.Logger
}

// New creates the repository and ensures its indexes. nodeID distinguishes
// concurrent server instances in revision ids; pass 0 for a single instance.
func New(ctx context.Context, client *mongo.Client, database string, nodeID int64, logger *zap.Logger) (*Repository, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	db := client.Database(database)
	r := &Repository{
		documents: db.Collection("documents"),
		revisions: db.Collection("revisions"),
		node:      node,
		logger:    logger,
	}

	docIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		{Keys: bson.D{{Key: "collaborators.user_id", Value: 1}}},
	}
	if _, err := r.documents.Indexes().CreateMany(ctx, docIndexes); err != nil {
		return nil, fmt.Errorf("failed to create document indexes: %w", err)
	}

	revIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "document_id", Value: 1},
				{Key: "version", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "document_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
	}
	if _, err := r.revisions.Indexes().CreateMany(ctx, revIndexes); err != nil {
		return nil, fmt.Errorf("failed to create revision indexes: %w", err)
	}

	return r, nil
}

// Load fetches one document, or domain.ErrNotFound.
func (r *Repository) Load(ctx context.Context, documentID string) (*domain.Document, error) {
	var doc domain.Document
	err := r.documents.FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &doc, nil
}

// Save writes back the committed state. Only the fields the sync layer owns
// are touched; ownership and collaborator lists are managed elsewhere.
func (r *Repository) Save(ctx context.Context, doc *domain.Document) error {
	update := bson.M{"$set": bson.M{
		"title":          doc.Title,
		"content":        doc.Content,
		"version":        doc.Version,
		"last_edited_by": doc.LastEditedBy,
		"updated_at":     doc.UpdatedAt,
	}}
	res, err := r.documents.UpdateOne(ctx, bson.M{"_id": doc.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendRevision records one committed version in the history collection.
func (r *Repository) AppendRevision(ctx context.Context, rev *domain.Revision) error {
	if rev.ID == 0 {
		rev.ID = r.node.Generate().Int64()
	}
	if _, err := r.revisions.InsertOne(ctx, rev); err != nil {
		return fmt.Errorf("failed to append revision: %w", err)
	}
	return nil
}

// CanRead reports whether the user is the owner or any collaborator.
func (r *Repository) CanRead(ctx context.Context, userID, documentID string) (bool, error) {
	filter := bson.M{
		"_id": documentID,
		"$or": bson.A{
			bson.M{"owner_id": userID},
			bson.M{"collaborators.user_id": userID},
		},
	}
	return r.exists(ctx, filter)
}

// CanWrite reports whether the user is the owner or a write-permission
// collaborator.
func (r *Repository) CanWrite(ctx context.Context, userID, documentID string) (bool, error) {
	filter := bson.M{
		"_id": documentID,
		"$or": bson.A{
			bson.M{"owner_id": userID},
			bson.M{"collaborators": bson.M{"$elemMatch": bson.M{
				"user_id":    userID,
				"permission": "write",
			}}},
		},
	}
	return r.exists(ctx, filter)
}

func (r *Repository) exists(ctx context.Context, filter bson.M) (bool, error) {
	n, err := r.documents.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check document access: %w", err)
	}
	return n > 0, nil
}
