package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", apperr.ErrNotFound)
	ErrInvalidTransition   = fmt.Errorf("%w: appointment status does not allow this change", apperr.ErrConflict)
	ErrAlreadyExists       = fmt.Errorf("%w: appointment already exists", apperr.ErrConflict)
)

// Repository contains all DB interactions needed by the registry.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f ListFilter) ([]Appointment, error)

	// UpdateStatus applies c only when the current status is one of c.From.
	// It returns ErrInvalidTransition when the appointment exists in another
	// status and ErrAppointmentNotFound when it does not exist.
	UpdateStatus(ctx context.Context, c StatusChange) (*Appointment, error)

	// Reminder sweep. DueForReminder returns at most limit active, unreminded
	// appointments with from <= scheduled_at <= to, ordered by
	// (scheduled_at, id) and starting strictly after the cursor when set.
	DueForReminder(ctx context.Context, from, to time.Time, after *Cursor, limit int) ([]Appointment, error)
	// MarkReminderSent sets the reminder fields only if they are unset and
	// reports whether this call made the change.
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	Ping(ctx context.Context) error
}
