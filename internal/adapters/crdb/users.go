package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/robertarktes/campus-marketplace/internal/domain"
	"github.com/robertarktes/campus-marketplace/internal/identity"
)

const userColumns = `id, email, name, password_hash, picture, created_at`

var _ identity.Store = (*Repository)(nil)

func (r *Repository) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, picture, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.Picture, u.CreatedAt)
	return mapError(err)
}

func (r *Repository) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	return u, notFound(err, "user")
}

func (r *Repository) UserByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, notFound(err, "user")
}

func (r *Repository) UpdateUser(ctx context.Context, u domain.User) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET name = $2, picture = $3 WHERE id = $1`, u.ID, u.Name, u.Picture)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.Wrap(domain.ErrNotFound, "user not found")
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Picture, &u.CreatedAt)
	return u, err
}
