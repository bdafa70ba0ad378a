package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var (
	ErrNotFound           = fmt.Errorf("availability %w", apperr.ErrNotFound)
	ErrSlotNotFound       = fmt.Errorf("slot %w", apperr.ErrNotFound)
	ErrTypeNotFound       = fmt.Errorf("appointment type %w", apperr.ErrNotFound)
	ErrAlreadyExists      = fmt.Errorf("%w: active availability already exists for this provider and date", apperr.ErrConflict)
	ErrTransitionRejected = errors.New("slot transition precondition failed")
)

// Repository is the durable AvailabilityStore. Every read method returns
// active documents only.
type Repository interface {
	// Create persists doc. It fails with ErrAlreadyExists when another active
	// document exists for (provider, date).
	Create(ctx context.Context, doc *Document) error

	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	GetByDate(ctx context.Context, providerID, date string) (*Document, error)
	List(ctx context.Context, providerID string, f Filter) ([]Document, error)

	// UpdateMetadata writes work hours, consultation type, breaks and bucket
	// metadata of doc. Slot state is left untouched.
	UpdateMetadata(ctx context.Context, doc *Document) error
	SoftDelete(ctx context.Context, id uuid.UUID) error

	// TransitionSlot applies t atomically and returns the slot as written. It
	// returns ErrTransitionRejected when the precondition does not hold and
	// makes no change in that case.
	TransitionSlot(ctx context.Context, t SlotTransition) (*Slot, error)

	Ping(ctx context.Context) error
}
