package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email, phone *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, apperr.Store("directory.patient", err)
	}

	p.Email = email
	p.Phone = phone
	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var c Provider
	var specialty, email *string

	err := row.Scan(
		&c.ID,
		&c.Name,
		&specialty,
		&email,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, apperr.Store("directory.provider", err)
	}

	c.Specialty = specialty
	c.Email = email
	return &c, nil
}

// Interface methods

func (r *PgRepository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProvider(ctx context.Context, id string) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, email, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) UpsertPatient(ctx context.Context, p *Patient) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patients (id, name, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    phone = EXCLUDED.phone,
		    updated_at = now()
	`, p.ID, p.Name, p.Email, p.Phone)
	return apperr.Store("directory.upsert_patient", err)
}

func (r *PgRepository) UpsertProvider(ctx context.Context, c *Provider) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO providers (id, name, specialty, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    specialty = EXCLUDED.specialty,
		    email = EXCLUDED.email,
		    updated_at = now()
	`, c.ID, c.Name, c.Specialty, c.Email)
	return apperr.Store("directory.upsert_provider", err)
}

var _ Repository = (*PgRepository)(nil)
