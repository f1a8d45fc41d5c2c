package identity

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/robertarktes/campus-marketplace/internal/domain"
	"github.com/robertarktes/campus-marketplace/internal/observability"
)

const MinPasswordLength = 6

type Store interface {
	CreateUser(ctx context.Context, u domain.User) error
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (domain.User, error)
	UpdateUser(ctx context.Context, u domain.User) error
}

type Service struct {
	store   Store
	tokens  *Tokens
	domains []string
	logger  observability.Logger
	cost    int
}

// NewService accepts registrations only from emails under one of domains.
func NewService(store Store, tokens *Tokens, domains []string, logger observability.Logger) *Service {
	return &Service{
		store:   store,
		tokens:  tokens,
		domains: domains,
		logger:  logger.WithField("component", "identity"),
		cost:    bcrypt.DefaultCost,
	}
}

func (s *Service) Register(ctx context.Context, email, name, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	local, ok := s.splitEmail(email)
	if !ok {
		return domain.User{}, "", domain.Wrap(domain.ErrForbidden, "access is restricted to verified university students")
	}
	if len(password) < MinPasswordLength {
		return domain.User{}, "", domain.Wrap(domain.ErrInvalidInput, "password must be at least 6 characters")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = local
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return domain.User{}, "", errors.Wrap(err, "hash password")
	}
	u := domain.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.User{}, "", domain.Wrap(domain.ErrAlreadyExists, "an account with this email already exists")
		}
		return domain.User{}, "", err
	}

	token, err := s.tokens.Issue(u)
	if err != nil {
		return domain.User{}, "", err
	}
	s.logger.WithField("user_id", u.ID).Info("user registered")
	return u, token, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, ok := s.splitEmail(email); !ok {
		return domain.User{}, "", domain.Wrap(domain.ErrForbidden, "access is restricted to verified university students")
	}
	u, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, "", domain.Wrap(domain.ErrNotFound, "no account with this email")
		}
		return domain.User{}, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, "", domain.Wrap(domain.ErrUnauthorized, "incorrect password")
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		return domain.User{}, "", err
	}
	return u, token, nil
}

// Authenticate resolves a bearer token to the user id it was issued to.
func (s *Service) Authenticate(token string) (uuid.UUID, error) {
	return s.tokens.Parse(token)
}

func (s *Service) Me(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	return s.store.UserByID(ctx, userID)
}

// UpdateProfile changes the display name and, when picture is non-nil, the picture URL.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, name string, picture *string) (domain.User, error) {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if name = strings.TrimSpace(name); name != "" {
		u.Name = name
	}
	if picture != nil {
		u.Picture = *picture
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// splitEmail returns the local part of email when its host is an allowed domain.
func (s *Service) splitEmail(email string) (string, bool) {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", false
	}
	host := email[at+1:]
	for _, d := range s.domains {
		if host == d {
			return email[:at], true
		}
	}
	return "", false
}
