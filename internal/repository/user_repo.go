package repository

import (
	"context"
	"database/sql"
	"errors"

	"lodging/internal/db"
)

type UserRepository struct {
	DB *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) Get(ctx context.Context, id int64) (*db.User, error) {
	return r.scanOne(ctx, `SELECT id, email, name, phone, active FROM users WHERE id = $1`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*db.User, error) {
	return r.scanOne(ctx, `SELECT id, email, name, phone, active FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *UserRepository) scanOne(ctx context.Context, q string, arg any) (*db.User, error) {
	var u db.User
	err := r.DB.QueryRowContext(ctx, q, arg).Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
