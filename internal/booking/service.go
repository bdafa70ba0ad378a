package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/directory"
)

// Registry is the part of the appointment registry booking depends on.
type Registry interface {
	CreateFromBooking(ctx context.Context, a *appointment.Appointment) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	LogEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any)
}

type BookRequest struct {
	ProviderID string
	Date       string
	Type       string
	SlotID     string
	PatientID  string
	Notes      string
}

type Booking struct {
	Appointment *appointment.Appointment `json:"appointment"`
	Slot        availability.Slot        `json:"slot"`
}

type CancelledSlot struct {
	SlotID        string    `json:"slot_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Type          string    `json:"appointment_type,omitempty"`
	StartTime     string    `json:"start_time,omitempty"`
	PatientID     string    `json:"patient_id,omitempty"`
}

type FailedSlot struct {
	SlotID        string     `json:"slot_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Error         string     `json:"error"`
}

type CancelAllResult struct {
	Cancelled      []CancelledSlot `json:"cancelled_appointments"`
	CancelledCount int             `json:"cancelled_count"`
	Failed         []FailedSlot    `json:"failed,omitempty"`
	DayClosed      bool            `json:"day_closed"`
}

type Service struct {
	alloc    *Allocator
	store    availability.Repository
	registry Registry
	dir      directory.Repository
	loc      *time.Location
	log      *zap.Logger
}

// NewService wires the booking flow. dir may be nil, in which case patient
// and provider existence is not checked.
func NewService(alloc *Allocator, store availability.Repository, registry Registry, dir directory.Repository, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		alloc:    alloc,
		store:    store,
		registry: registry,
		dir:      dir,
		loc:      loc,
		log:      log,
	}
}

// Book reserves a slot and records its appointment. The slot write comes
// first; if the appointment cannot be recorded the slot is released again so
// no booking is left without an appointment.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Booking, error) {
	if req.PatientID == "" {
		return nil, apperr.Validation("patient_id is required")
	}
	if req.SlotID == "" {
		return nil, apperr.Validation("slot_id is required")
	}
	if err := availability.ValidateDate(req.Date); err != nil {
		return nil, err
	}
	if s.dir != nil {
		if _, err := s.dir.GetPatient(ctx, req.PatientID); err != nil {
			return nil, err
		}
		if _, err := s.dir.GetProvider(ctx, req.ProviderID); err != nil {
			return nil, err
		}
	}

	doc, err := s.store.GetByDate(ctx, req.ProviderID, req.Date)
	if err != nil {
		return nil, err
	}
	ref, ok := doc.FindSlot(req.SlotID)
	if !ok || (req.Type != "" && ref.Type != req.Type) {
		return nil, ErrSlotUnknown
	}
	if ref.Slot.Status != availability.SlotAvailable {
		return nil, ErrSlotUnavailable
	}
	scheduledAt, err := availability.ScheduledAt(req.Date, ref.Slot.StartTime, s.loc)
	if err != nil {
		return nil, err
	}

	key := SlotKey{ProviderID: req.ProviderID, Date: req.Date, Type: ref.Type, SlotID: req.SlotID}
	apptID := uuid.New()

	slot, err := s.alloc.Book(ctx, key, apptID, req.PatientID)
	if err != nil {
		return nil, err
	}

	appt, err := s.registry.CreateFromBooking(ctx, &appointment.Appointment{
		ID:               apptID,
		PatientID:        req.PatientID,
		ProviderID:       req.ProviderID,
		AvailabilityID:   doc.ID,
		SlotID:           req.SlotID,
		Date:             req.Date,
		StartTime:        ref.Slot.StartTime,
		EndTime:          ref.Slot.EndTime,
		AppointmentType:  ref.Type,
		ConsultationType: doc.ConsultationType,
		ScheduledAt:      scheduledAt,
		Notes:            req.Notes,
	})
	if err != nil {
		s.compensate(ctx, key, apptID, err)
		return nil, err
	}

	s.log.Info("slot booked",
		zap.String("appointment_id", apptID.String()),
		zap.String("provider_id", req.ProviderID),
		zap.String("date", req.Date),
		zap.String("slot_id", req.SlotID),
	)
	return &Booking{Appointment: appt, Slot: *slot}, nil
}

func (s *Service) compensate(ctx context.Context, key SlotKey, apptID uuid.UUID, cause error) {
	// The request context may already be done; the slot must still be freed.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := s.alloc.Release(cctx, key, apptID); err != nil {
		s.log.Error("booking compensation failed, slot left booked",
			zap.String("appointment_id", apptID.String()),
			zap.String("provider_id", key.ProviderID),
			zap.String("date", key.Date),
			zap.String("slot_id", key.SlotID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	// The create may have landed before the error surfaced.
	if _, err := s.registry.Cancel(cctx, apptID, "booking compensated"); err != nil &&
		!errors.Is(err, apperr.ErrNotFound) && !errors.Is(err, appointment.ErrInvalidTransition) {
		s.log.Error("booking compensation could not cancel appointment",
			zap.String("appointment_id", apptID.String()),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
	s.log.Warn("booking compensated",
		zap.String("appointment_id", apptID.String()),
		zap.String("slot_id", key.SlotID),
		zap.NamedError("cause", cause),
	)
	s.registry.LogEvent(cctx, apptID, appointment.EventBookingCompensated, map[string]any{
		"provider_id": key.ProviderID,
		"date":        key.Date,
		"slot_id":     key.SlotID,
		"error":       cause.Error(),
	})
}

// CancelSlot cancels the appointment holding a slot and then frees the slot.
// The slot must currently be booked by appointmentID.
func (s *Service) CancelSlot(ctx context.Context, providerID, date, slotID string, appointmentID uuid.UUID, reason string) (*CancelledSlot, error) {
	if err := availability.ValidateDate(date); err != nil {
		return nil, err
	}
	doc, err := s.store.GetByDate(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	ref, ok := doc.FindSlot(slotID)
	if !ok {
		return nil, availability.ErrSlotNotFound
	}
	if ref.Slot.Status != availability.SlotBooked || ref.Slot.AppointmentID == nil || *ref.Slot.AppointmentID != appointmentID {
		return nil, ErrSlotNotHeld
	}
	return s.cancelBooked(ctx, ref, appointmentID, reason)
}

// cancelBooked runs the two writes of a cancellation. The registry write is
// the gate: only the caller that moves the appointment out of an active status
// goes on to free the slot.
func (s *Service) cancelBooked(ctx context.Context, ref availability.SlotRef, apptID uuid.UUID, reason string) (*CancelledSlot, error) {
	_, err := s.registry.Cancel(ctx, apptID, reason)
	if errors.Is(err, appointment.ErrInvalidTransition) {
		// A previous cancel may have stopped between the two writes. Finish
		// it if the appointment really is cancelled; otherwise refuse.
		a, getErr := s.registry.Get(ctx, apptID)
		if getErr != nil || a.Status != appointment.StatusCancelled {
			return nil, err
		}
		s.log.Warn("resuming interrupted cancellation",
			zap.String("appointment_id", apptID.String()),
			zap.String("slot_id", ref.Slot.SlotID),
		)
	} else if err != nil {
		return nil, err
	}

	key := SlotKey{ProviderID: ref.ProviderID, Date: ref.Date, Type: ref.Type, SlotID: ref.Slot.SlotID}
	if _, err := s.alloc.CancelSlot(ctx, key, apptID, reason); err != nil {
		return nil, err
	}

	s.log.Info("slot cancelled",
		zap.String("appointment_id", apptID.String()),
		zap.String("provider_id", ref.ProviderID),
		zap.String("date", ref.Date),
		zap.String("slot_id", ref.Slot.SlotID),
	)
	return &CancelledSlot{
		SlotID:        ref.Slot.SlotID,
		AppointmentID: apptID,
		Type:          ref.Type,
		StartTime:     ref.Slot.StartTime,
		PatientID:     ref.Slot.PatientID,
	}, nil
}

// CancelAllForDate cancels every booked slot of the day. Each slot is handled
// on its own; failures are collected in the result rather than aborting the
// rest. When closeDay is set the day is soft-deleted afterwards.
func (s *Service) CancelAllForDate(ctx context.Context, providerID, date, reason string, closeDay bool) (*CancelAllResult, error) {
	if err := availability.ValidateDate(date); err != nil {
		return nil, err
	}
	doc, err := s.store.GetByDate(ctx, providerID, date)
	if err != nil {
		return nil, err
	}

	res := &CancelAllResult{Cancelled: []CancelledSlot{}}
	for _, ref := range doc.SlotsWithStatus(availability.SlotBooked) {
		if ref.Slot.AppointmentID == nil {
			res.Failed = append(res.Failed, FailedSlot{SlotID: ref.Slot.SlotID, Error: "booked slot has no appointment"})
			continue
		}
		apptID := *ref.Slot.AppointmentID
		c, err := s.cancelBooked(ctx, ref, apptID, reason)
		if err != nil {
			s.log.Warn("cancel-all: slot not cancelled",
				zap.String("provider_id", providerID),
				zap.String("date", date),
				zap.String("slot_id", ref.Slot.SlotID),
				zap.String("appointment_id", apptID.String()),
				zap.Error(err),
			)
			res.Failed = append(res.Failed, FailedSlot{SlotID: ref.Slot.SlotID, AppointmentID: &apptID, Error: err.Error()})
			continue
		}
		res.Cancelled = append(res.Cancelled, *c)
	}
	res.CancelledCount = len(res.Cancelled)

	if closeDay {
		if err := s.store.SoftDelete(ctx, doc.ID); err != nil {
			return res, fmt.Errorf("close day: %w", err)
		}
		res.DayClosed = true
	}

	s.log.Info("cancel-all finished",
		zap.String("provider_id", providerID),
		zap.String("date", date),
		zap.Int("cancelled", res.CancelledCount),
		zap.Int("failed", len(res.Failed)),
		zap.Bool("day_closed", res.DayClosed),
	)
	return res, nil
}

func (s *Service) BookedSlots(ctx context.Context, providerID, date string) ([]availability.SlotRef, error) {
	return s.alloc.BookedSlots(ctx, providerID, date)
}

func (s *Service) Summary(ctx context.Context, providerID, date string) (*availability.Summary, error) {
	return s.alloc.Summary(ctx, providerID, date)
}
