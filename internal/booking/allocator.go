// Package booking owns every change to a slot's status. Reservations and
// cancellations are conditional writes against the availability store, so
// concurrent callers racing for one slot cannot both win.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
)

var (
	ErrSlotUnavailable = fmt.Errorf("%w: slot already booked", apperr.ErrSlotUnavailable)
	ErrSlotUnknown     = fmt.Errorf("%w: no such slot on this day", apperr.ErrSlotUnavailable)
	ErrSlotNotHeld     = fmt.Errorf("%w: slot is not booked by this appointment", apperr.ErrConflict)
)

// CancelPolicy decides what an individual cancellation leaves behind.
type CancelPolicy string

const (
	// PolicyRelease returns the slot to available so it can be booked again.
	PolicyRelease CancelPolicy = "release"
	// PolicyRetire parks the slot in cancelled; it is never offered again.
	PolicyRetire CancelPolicy = "retire"
)

func (p CancelPolicy) target() availability.SlotStatus {
	if p == PolicyRetire {
		return availability.SlotCancelled
	}
	return availability.SlotAvailable
}

// SlotKey addresses one slot. Type may be empty to match any bucket.
type SlotKey struct {
	ProviderID string
	Date       string
	Type       string
	SlotID     string
}

// Allocator is the only writer of slot status.
type Allocator struct {
	store  availability.Repository
	policy CancelPolicy
	log    *zap.Logger
	now    func() time.Time
}

func NewAllocator(store availability.Repository, policy CancelPolicy, log *zap.Logger) *Allocator {
	if policy == "" {
		policy = PolicyRelease
	}
	return &Allocator{store: store, policy: policy, log: log, now: time.Now}
}

// Book sets the slot to booked for appointmentID only if it is available
// now. Any failed precondition (taken, unknown slot, inactive day) yields
// ErrSlotUnavailable and no change.
func (a *Allocator) Book(ctx context.Context, key SlotKey, appointmentID uuid.UUID, patientID string) (*availability.Slot, error) {
	s, err := a.store.TransitionSlot(ctx, availability.SlotTransition{
		ProviderID:    key.ProviderID,
		Date:          key.Date,
		SlotID:        key.SlotID,
		Type:          key.Type,
		From:          availability.SlotAvailable,
		To:            availability.SlotBooked,
		AppointmentID: &appointmentID,
		PatientID:     patientID,
		At:            a.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, availability.ErrTransitionRejected) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}
	return s, nil
}

// CancelSlot undoes a booking held by appointmentID, leaving the slot
// available or cancelled according to the policy.
func (a *Allocator) CancelSlot(ctx context.Context, key SlotKey, appointmentID uuid.UUID, reason string) (*availability.Slot, error) {
	return a.unbook(ctx, key, appointmentID, a.policy.target(), reason)
}

// Release returns a slot held by appointmentID to available regardless of
// policy. It is the compensating action for a booking whose appointment could
// not be recorded.
func (a *Allocator) Release(ctx context.Context, key SlotKey, appointmentID uuid.UUID) (*availability.Slot, error) {
	return a.unbook(ctx, key, appointmentID, availability.SlotAvailable, "")
}

func (a *Allocator) unbook(ctx context.Context, key SlotKey, appointmentID uuid.UUID, to availability.SlotStatus, reason string) (*availability.Slot, error) {
	s, err := a.store.TransitionSlot(ctx, availability.SlotTransition{
		ProviderID:          key.ProviderID,
		Date:                key.Date,
		SlotID:              key.SlotID,
		Type:                key.Type,
		From:                availability.SlotBooked,
		To:                  to,
		ExpectAppointmentID: &appointmentID,
		Reason:              reason,
		At:                  a.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, availability.ErrTransitionRejected) {
			return nil, ErrSlotNotHeld
		}
		return nil, err
	}
	return s, nil
}

// BookedSlots lists every booked slot of a day across buckets.
func (a *Allocator) BookedSlots(ctx context.Context, providerID, date string) ([]availability.SlotRef, error) {
	doc, err := a.day(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	return doc.SlotsWithStatus(availability.SlotBooked), nil
}

// Summary counts slot states per bucket. The counts come from one read of the
// document, so they are consistent with each other.
func (a *Allocator) Summary(ctx context.Context, providerID, date string) (*availability.Summary, error) {
	doc, err := a.day(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	s := availability.Summarize(doc)
	return &s, nil
}

func (a *Allocator) day(ctx context.Context, providerID, date string) (*availability.Document, error) {
	if err := availability.ValidateDate(date); err != nil {
		return nil, err
	}
	return a.store.GetByDate(ctx, providerID, date)
}
