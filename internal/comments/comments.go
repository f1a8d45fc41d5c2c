package comments

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/robertarktes/campus-marketplace/internal/domain"
)

const MaxTextLength = 2000

type Store interface {
	InsertComment(ctx context.Context, c domain.Comment) error
	Comment(ctx context.Context, id uuid.UUID) (domain.Comment, error)
	CommentsByItem(ctx context.Context, itemID uuid.UUID) ([]domain.Comment, error)
}

// Items reports whether an item exists.
type Items interface {
	GetItem(ctx context.Context, id uuid.UUID) (domain.Item, error)
}

type Service struct {
	store Store
	items Items
	now   func() time.Time
}

func NewService(store Store, items Items) *Service {
	return &Service{store: store, items: items, now: func() time.Time { return time.Now().UTC() }}
}

// Post adds a comment to an item. A reply must point at a comment on the same item.
func (s *Service) Post(ctx context.Context, itemID uuid.UUID, author domain.User, text string, parentID *uuid.UUID) (domain.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Comment{}, domain.Wrap(domain.ErrInvalidInput, "comment text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return domain.Comment{}, domain.Wrap(domain.ErrInvalidInput, "comment is too long")
	}
	if _, err := s.items.GetItem(ctx, itemID); err != nil {
		return domain.Comment{}, err
	}
	if parentID != nil {
		parent, err := s.store.Comment(ctx, *parentID)
		if err != nil {
			return domain.Comment{}, err
		}
		if parent.ItemID != itemID {
			return domain.Comment{}, domain.Wrap(domain.ErrInvalidInput, "parent comment belongs to another item")
		}
	}

	c := domain.Comment{
		ID:        uuid.New(),
		ItemID:    itemID,
		UserID:    author.ID,
		UserName:  author.Name,
		Text:      text,
		ParentID:  parentID,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertComment(ctx, c); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// List returns the comments of an item, oldest first.
func (s *Service) List(ctx context.Context, itemID uuid.UUID) ([]domain.Comment, error) {
	return s.store.CommentsByItem(ctx, itemID)
}
