package directory

import (
	"context"
	"fmt"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var (
	ErrPatientNotFound  = fmt.Errorf("patient %w", apperr.ErrNotFound)
	ErrProviderNotFound = fmt.Errorf("provider %w", apperr.ErrNotFound)
)

// Repository is a read-mostly lookup of patient and provider profiles. Profile
// management lives elsewhere; the upserts exist for seeding.
type Repository interface {
	GetPatient(ctx context.Context, id string) (*Patient, error)
	GetProvider(ctx context.Context, id string) (*Provider, error)

	UpsertPatient(ctx context.Context, p *Patient) error
	UpsertProvider(ctx context.Context, p *Provider) error
}
