package repository

import (
	"context"
	"database/sql"
	"errors"

	"lodging/internal/db"
)

type CatalogRepository struct {
	DB *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{DB: db}
}

func (r *CatalogRepository) Get(ctx context.Context, id int64) (*db.Accommodation, error) {
	const q = `SELECT id, host_id, active, capacity, nightly_rate FROM accommodations WHERE id = $1`
	var a db.Accommodation
	err := r.DB.QueryRowContext(ctx, q, id).Scan(&a.ID, &a.HostID, &a.Active, &a.Capacity, &a.NightlyRate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
