package appointment

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Active reports whether the appointment still holds its slot and is eligible
// for a reminder.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

var activeStatuses = []AppointmentStatus{StatusScheduled, StatusConfirmed}

type Appointment struct {
	ID                 uuid.UUID         `json:"appointment_id"`
	PatientID          string            `json:"patient_id"`
	ProviderID         string            `json:"provider_id"`
	AvailabilityID     uuid.UUID         `json:"availability_id"`
	SlotID             string            `json:"slot_id"`
	Date               string            `json:"date"`
	StartTime          string            `json:"start_time"`
	EndTime            string            `json:"end_time"`
	AppointmentType    string            `json:"appointment_type"`
	ConsultationType   string            `json:"consultation_type"`
	ScheduledAt        time.Time         `json:"scheduled_at"`
	Status             AppointmentStatus `json:"status"`
	ReminderSent       bool              `json:"reminder_sent"`
	ReminderSentAt     *time.Time        `json:"reminder_sent_at,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ListFilter selects appointments of one patient or one provider.
type ListFilter struct {
	PatientID  string
	ProviderID string
	Limit      int
	Offset     int
}

// Cursor is the keyset position of the last appointment of a reminder page.
type Cursor struct {
	ScheduledAt time.Time
	ID          uuid.UUID
}

// precedes reports whether c sorts strictly before a in (scheduled_at, id)
// order.
func (c Cursor) precedes(a *Appointment) bool {
	if !a.ScheduledAt.Equal(c.ScheduledAt) {
		return a.ScheduledAt.After(c.ScheduledAt)
	}
	return bytes.Compare(a.ID[:], c.ID[:]) > 0
}

// StatusChange is a conditional status update.
type StatusChange struct {
	ID     uuid.UUID
	From   []AppointmentStatus
	To     AppointmentStatus
	Reason string
	At     time.Time
}
