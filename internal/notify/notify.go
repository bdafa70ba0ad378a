// Package notify delivers rendered reminder messages. Dispatchers report
// failures as apperr.ErrDispatch so the scheduler can retry on its next tick.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var ErrNoRecipient = apperr.Dispatch(errors.New("no contact address on file"))

type Message struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	To            string    `json:"to"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	ScheduledAt   time.Time `json:"scheduled_at"`
}

// Dispatcher sends one message. It must honour ctx cancellation.
type Dispatcher interface {
	Send(ctx context.Context, m Message) error
}
