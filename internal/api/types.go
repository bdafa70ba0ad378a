package api

import (
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

// Requests

type WorkHoursRequest struct {
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
}

type SlotRequest struct {
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
	IsBooked  bool   `json:"is_booked"`
	Notes     string `json:"notes,omitempty" validate:"max=500"`
}

type BucketRequest struct {
	Type         string        `json:"type" validate:"required,max=100"`
	DurationMins int           `json:"duration_mins" validate:"omitempty,min=5,max=480"`
	Price        float64       `json:"price" validate:"gte=0"`
	Currency     string        `json:"currency" validate:"omitempty,len=3"`
	Slots        []SlotRequest `json:"slots" validate:"dive"`
}

type BreakRequest struct {
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
	Type      string `json:"type"`
	IsBlocked bool   `json:"is_blocked"`
}

type CreateAvailabilityRequest struct {
	Date             string           `json:"date" validate:"required,datetime=2006-01-02"`
	WorkHours        WorkHoursRequest `json:"work_hours"`
	ConsultationType string           `json:"consultation_type" validate:"required,oneof=Online In-Person"`
	Types            []BucketRequest  `json:"types" validate:"dive"`
	// Slots without buckets are wrapped into one default bucket.
	Slots  []SlotRequest  `json:"slots" validate:"dive"`
	Breaks []BreakRequest `json:"breaks" validate:"dive"`
}

func (r CreateAvailabilityRequest) toDocument(providerID string) (*availability.Document, error) {
	if len(r.Types) > 0 && len(r.Slots) > 0 {
		return nil, apperr.Validation("slots must be given either per type or at the top level, not both")
	}
	doc := &availability.Document{
		ProviderID:       providerID,
		Date:             r.Date,
		WorkHours:        availability.WorkHours{StartTime: r.WorkHours.StartTime, EndTime: r.WorkHours.EndTime},
		ConsultationType: r.ConsultationType,
		Breaks:           toBreaks(r.Breaks),
	}

	buckets := r.Types
	if len(buckets) == 0 {
		buckets = []BucketRequest{{
			Type:         availability.DefaultBucketType,
			DurationMins: availability.DefaultDurationMins,
			Currency:     availability.DefaultCurrency,
			Slots:        r.Slots,
		}}
	}
	for _, b := range buckets {
		tb := availability.TypeBucket{
			Type:         b.Type,
			DurationMins: b.DurationMins,
			Price:        b.Price,
			Currency:     b.Currency,
		}
		if tb.DurationMins == 0 {
			tb.DurationMins = availability.DefaultDurationMins
		}
		for _, s := range b.Slots {
			status := availability.SlotAvailable
			if s.IsBooked {
				status = availability.SlotBooked
			}
			tb.Slots = append(tb.Slots, availability.Slot{
				StartTime: s.StartTime,
				EndTime:   s.EndTime,
				Status:    status,
				Notes:     s.Notes,
			})
		}
		doc.Types = append(doc.Types, tb)
	}
	return doc, nil
}

func toBreaks(in []BreakRequest) []availability.BreakWindow {
	out := make([]availability.BreakWindow, 0, len(in))
	for _, b := range in {
		out = append(out, availability.BreakWindow{
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
			Type:      b.Type,
			IsBlocked: b.IsBlocked,
		})
	}
	return out
}

type BucketPatchRequest struct {
	Type         string   `json:"type" validate:"required"`
	DurationMins *int     `json:"duration_mins" validate:"omitempty,min=5,max=480"`
	Price        *float64 `json:"price" validate:"omitempty,gte=0"`
	Currency     *string  `json:"currency" validate:"omitempty,len=3"`
}

type UpdateAvailabilityRequest struct {
	WorkHours        *WorkHoursRequest    `json:"work_hours"`
	ConsultationType *string              `json:"consultation_type" validate:"omitempty,oneof=Online In-Person"`
	Breaks           *[]BreakRequest      `json:"breaks"`
	Types            []BucketPatchRequest `json:"types" validate:"dive"`
}

func (r UpdateAvailabilityRequest) toPatch() availability.Patch {
	p := availability.Patch{ConsultationType: r.ConsultationType}
	if r.WorkHours != nil {
		p.WorkHours = &availability.WorkHours{StartTime: r.WorkHours.StartTime, EndTime: r.WorkHours.EndTime}
	}
	if r.Breaks != nil {
		b := toBreaks(*r.Breaks)
		p.Breaks = &b
	}
	for _, t := range r.Types {
		p.Types = append(p.Types, availability.BucketPatch{
			Type:         t.Type,
			DurationMins: t.DurationMins,
			Price:        t.Price,
			Currency:     t.Currency,
		})
	}
	return p
}

type BookSlotRequest struct {
	SlotID          string `json:"slot_id" validate:"required"`
	PatientID       string `json:"patient_id" validate:"required"`
	AppointmentType string `json:"appointment_type"`
	Notes           string `json:"notes" validate:"max=1000"`
}

type CancelSlotRequest struct {
	AppointmentID      string `json:"appointment_id" validate:"required,uuid"`
	CancellationReason string `json:"cancellation_reason" validate:"max=500"`
}

type CancelAllRequest struct {
	CancellationReason string `json:"cancellation_reason" validate:"max=500"`
	CloseDay           bool   `json:"close_day"`
}

// Responses

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type DataResponse[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

func ok[T any](data T) DataResponse[T] {
	return DataResponse[T]{Success: true, Data: data}
}

type CreateAvailabilityResponse struct {
	Success        bool                   `json:"success"`
	AvailabilityID uuid.UUID              `json:"availability_id"`
	Availability   *availability.Document `json:"availability"`
}

type AvailableSlotResponse struct {
	SlotID          string `json:"slot_id"`
	AppointmentType string `json:"appointment_type"`
	DurationMins    int    `json:"duration_mins"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
}

type BookedSlotResponse struct {
	SlotID          string     `json:"slot_id"`
	AppointmentType string     `json:"appointment_type"`
	StartTime       string     `json:"start_time"`
	EndTime         string     `json:"end_time"`
	AppointmentID   *uuid.UUID `json:"appointment_id,omitempty"`
	PatientID       string     `json:"patient_id,omitempty"`
}

type BookResponse struct {
	Success       bool                     `json:"success"`
	AppointmentID uuid.UUID                `json:"appointment_id"`
	Appointment   *appointment.Appointment `json:"appointment"`
	Slot          availability.Slot        `json:"slot"`
}

type CancelSlotResponse struct {
	Success bool `json:"success"`
	booking.CancelledSlot
}

type CancelAllResponse struct {
	Success bool `json:"success"`
	*booking.CancelAllResult
}

type TriggerResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Report  *reminder.SweepReport `json:"report"`
}
