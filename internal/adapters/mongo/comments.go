package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/campus-marketplace/internal/comments"
	"github.com/robertarktes/campus-marketplace/internal/domain"
	"github.com/robertarktes/campus-marketplace/internal/observability"
)

type CommentRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

var _ comments.Store = (*CommentRepository)(nil)

func NewCommentRepository(db *mongo.Database, logger observability.Logger) *CommentRepository {
	return &CommentRepository{
		coll:   db.Collection("comments"),
		logger: logger,
	}
}

type CommentDoc struct {
	ID        string    `bson:"_id"`
	ItemID    string    `bson:"item_id"`
	UserID    string    `bson:"user_id"`
	UserName  string    `bson:"user_name"`
	Text      string    `bson:"text"`
	ParentID  string    `bson:"parent_id,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

// EnsureIndexes creates the index used to list an item's thread.
func (c *CommentRepository) EnsureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "item_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return errors.Wrap(err, "create comments index")
}

func (c *CommentRepository) InsertComment(ctx context.Context, cm domain.Comment) error {
	doc := CommentDoc{
		ID:        cm.ID.String(),
		ItemID:    cm.ItemID.String(),
		UserID:    cm.UserID.String(),
		UserName:  cm.UserName,
		Text:      cm.Text,
		CreatedAt: cm.CreatedAt,
	}
	if cm.ParentID != nil {
		doc.ParentID = cm.ParentID.String()
	}
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		c.logger.WithError(err).Error("failed to insert comment")
		return err
	}
	return nil
}

func (c *CommentRepository) Comment(ctx context.Context, id uuid.UUID) (domain.Comment, error) {
	var doc CommentDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Comment{}, domain.Wrap(domain.ErrNotFound, "comment not found")
	}
	if err != nil {
		return domain.Comment{}, err
	}
	return doc.toDomain()
}

func (c *CommentRepository) CommentsByItem(ctx context.Context, itemID uuid.UUID) ([]domain.Comment, error) {
	cur, err := c.coll.Find(ctx, bson.M{"item_id": itemID.String()},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []CommentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Comment, 0, len(docs))
	for _, d := range docs {
		cm, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, cm)
	}
	return out, nil
}

// DeleteByItem drops the thread of a deleted item.
func (c *CommentRepository) DeleteByItem(ctx context.Context, itemID uuid.UUID) error {
	_, err := c.coll.DeleteMany(ctx, bson.M{"item_id": itemID.String()})
	return err
}

func (d CommentDoc) toDomain() (domain.Comment, error) {
	var (
		cm  domain.Comment
		err error
	)
	if cm.ID, err = uuid.Parse(d.ID); err != nil {
		return domain.Comment{}, errors.Wrap(err, "comment id")
	}
	if cm.ItemID, err = uuid.Parse(d.ItemID); err != nil {
		return domain.Comment{}, errors.Wrap(err, "comment item id")
	}
	if cm.UserID, err = uuid.Parse(d.UserID); err != nil {
		return domain.Comment{}, errors.Wrap(err, "comment user id")
	}
	if d.ParentID != "" {
		parent, err := uuid.Parse(d.ParentID)
		if err != nil {
			return domain.Comment{}, errors.Wrap(err, "comment parent id")
		}
		cm.ParentID = &parent
	}
	cm.UserName = d.UserName
	cm.Text = d.Text
	cm.CreatedAt = d.CreatedAt.UTC()
	return cm, nil
}
