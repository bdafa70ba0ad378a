package appointment

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventBookingCompensated   = "BOOKING_COMPENSATED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventReminderSent         = "APPOINTMENT_REMINDER_SENT"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	defaultPageSize  = 100
)

// Service is the appointment registry: lifecycle transitions and reminder
// bookkeeping. It never touches slots.
type Service struct {
	repo     Repository
	log      *zap.Logger
	now      func() time.Time
	pageSize int
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		log:      log,
		now:      time.Now,
		pageSize: defaultPageSize,
	}
}

// CreateFromBooking records the appointment for a slot that was just booked.
// The caller owns the id so it can be written to the slot first.
func (s *Service) CreateFromBooking(ctx context.Context, a *Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		return nil, apperr.Validation("appointment id is required")
	}
	if a.PatientID == "" || a.ProviderID == "" || a.SlotID == "" {
		return nil, apperr.Validation("patient, provider and slot are required")
	}

	now := s.now().UTC()
	a.Status = StatusScheduled
	a.ReminderSent = false
	a.ReminderSentAt = nil
	a.CancellationReason = ""
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.LogEvent(ctx, a.ID, EventAppointmentBooked, map[string]any{
		"patient_id":   a.PatientID,
		"provider_id":  a.ProviderID,
		"slot_id":      a.SlotID,
		"date":         a.Date,
		"scheduled_at": a.ScheduledAt,
	})
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns one page of a patient's or a provider's appointments, newest
// first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	if f.PatientID == "" && f.ProviderID == "" {
		return nil, apperr.Validation("patient_id or provider_id is required")
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// Cancel moves an active appointment to cancelled. Reminder fields are left
// as they are.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.transition(ctx, StatusChange{
		ID:     id,
		From:   activeStatuses,
		To:     StatusCancelled,
		Reason: reason,
	})
	if err != nil {
		return nil, err
	}
	s.LogEvent(ctx, id, EventAppointmentCancelled, map[string]any{"reason": reason})
	return a, nil
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.transition(ctx, StatusChange{
		ID:   id,
		From: []AppointmentStatus{StatusScheduled},
		To:   StatusConfirmed,
	})
	if err != nil {
		return nil, err
	}
	s.LogEvent(ctx, id, EventAppointmentConfirmed, map[string]any{})
	return a, nil
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.transition(ctx, StatusChange{
		ID:   id,
		From: activeStatuses,
		To:   StatusCompleted,
	})
	if err != nil {
		return nil, err
	}
	s.LogEvent(ctx, id, EventAppointmentCompleted, map[string]any{})
	return a, nil
}

func (s *Service) transition(ctx context.Context, c StatusChange) (*Appointment, error) {
	c.At = s.now().UTC()
	a, err := s.repo.UpdateStatus(ctx, c)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			s.log.Debug("appointment transition refused",
				zap.String("appointment_id", c.ID.String()),
				zap.String("to", string(c.To)),
			)
		}
		return nil, err
	}
	return a, nil
}

// FindDueForReminder yields active, unreminded appointments scheduled within
// [max(windowStart, now), windowEnd], earliest first. Each iteration pulls a
// fresh page from the store after the last key seen, so appointments marked
// while iterating are neither skipped nor repeated. Iteration stops after the
// first error.
func (s *Service) FindDueForReminder(ctx context.Context, windowStart, windowEnd, now time.Time) iter.Seq2[Appointment, error] {
	from := windowStart
	if now.After(from) {
		from = now
	}

	return func(yield func(Appointment, error) bool) {
		var after *Cursor
		for {
			page, err := s.repo.DueForReminder(ctx, from, windowEnd, after, s.pageSize)
			if err != nil {
				yield(Appointment{}, err)
				return
			}
			for _, a := range page {
				if !yield(a, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last := page[len(page)-1]
			after = &Cursor{ScheduledAt: last.ScheduledAt, ID: last.ID}
		}
	}
}

// MarkReminderSent records the reminder exactly once. It returns false with a
// nil error when another sweep already marked the appointment.
func (s *Service) MarkReminderSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	marked, err := s.repo.MarkReminderSent(ctx, id, sentAt.UTC())
	if err != nil {
		return false, err
	}
	if marked {
		s.LogEvent(ctx, id, EventReminderSent, map[string]any{"sent_at": sentAt.UTC()})
	}
	return marked, nil
}

// LogEvent appends to the audit log. Failures are logged and swallowed.
func (s *Service) LogEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
