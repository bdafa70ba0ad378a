package availability

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotCancelled SlotStatus = "cancelled"
)

const (
	ConsultationOnline   = "Online"
	ConsultationInPerson = "In-Person"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type WorkHours struct {
	StartTime string `json:"start_time" bson:"start_time"`
	EndTime   string `json:"end_time" bson:"end_time"`
}

type BreakWindow struct {
	StartTime string `json:"start_time" bson:"start_time"`
	EndTime   string `json:"end_time" bson:"end_time"`
	Type      string `json:"type,omitempty" bson:"type,omitempty"`
	IsBlocked bool   `json:"is_blocked" bson:"is_blocked"`
}

// Slot is the unit of reservation. Status is only ever changed through a
// conditional transition in the repository.
type Slot struct {
	SlotID             string     `json:"slot_id"`
	StartTime          string     `json:"start_time"`
	EndTime            string     `json:"end_time"`
	Status             SlotStatus `json:"status"`
	AppointmentID      *uuid.UUID `json:"appointment_id,omitempty"`
	PatientID          string     `json:"patient_id,omitempty"`
	BookedAt           *time.Time `json:"booked_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	Notes              string     `json:"notes,omitempty"`
}

type TypeBucket struct {
	Type         string  `json:"type"`
	DurationMins int     `json:"duration_mins"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	Slots        []Slot  `json:"slots"`
}

// Document is one provider's availability for one calendar date.
type Document struct {
	ID               uuid.UUID     `json:"availability_id"`
	ProviderID       string        `json:"provider_id"`
	Date             string        `json:"date"`
	WorkHours        WorkHours     `json:"work_hours"`
	ConsultationType string        `json:"consultation_type"`
	Types            []TypeBucket  `json:"types"`
	Breaks           []BreakWindow `json:"breaks"`
	IsActive         bool          `json:"is_active"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// SlotRef locates a slot together with the bucket it belongs to.
type SlotRef struct {
	AvailabilityID uuid.UUID
	ProviderID     string
	Date           string
	Type           string
	DurationMins   int
	Slot           Slot
}

// FindSlot returns the slot with slotID and its bucket type.
func (d *Document) FindSlot(slotID string) (SlotRef, bool) {
	for _, b := range d.Types {
		for _, s := range b.Slots {
			if s.SlotID == slotID {
				return SlotRef{
					AvailabilityID: d.ID,
					ProviderID:     d.ProviderID,
					Date:           d.Date,
					Type:           b.Type,
					DurationMins:   b.DurationMins,
					Slot:           s,
				}, true
			}
		}
	}
	return SlotRef{}, false
}

// SlotsWithStatus flattens every slot in status across buckets, in bucket order.
func (d *Document) SlotsWithStatus(status SlotStatus) []SlotRef {
	var out []SlotRef
	for _, b := range d.Types {
		for _, s := range b.Slots {
			if s.Status != status {
				continue
			}
			out = append(out, SlotRef{
				AvailabilityID: d.ID,
				ProviderID:     d.ProviderID,
				Date:           d.Date,
				Type:           b.Type,
				DurationMins:   b.DurationMins,
				Slot:           s,
			})
		}
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate repository state.
func (d *Document) Clone() *Document {
	c := *d
	c.Breaks = append([]BreakWindow(nil), d.Breaks...)
	c.Types = make([]TypeBucket, len(d.Types))
	for i, b := range d.Types {
		nb := b
		nb.Slots = make([]Slot, len(b.Slots))
		for j, s := range b.Slots {
			ns := s
			if s.AppointmentID != nil {
				id := *s.AppointmentID
				ns.AppointmentID = &id
			}
			if s.BookedAt != nil {
				t := *s.BookedAt
				ns.BookedAt = &t
			}
			if s.CancelledAt != nil {
				t := *s.CancelledAt
				ns.CancelledAt = &t
			}
			nb.Slots[j] = ns
		}
		c.Types[i] = nb
	}
	return &c
}

// Filter narrows List. Zero values mean "no constraint".
type Filter struct {
	StartDate        string
	EndDate          string
	ConsultationType string
	AppointmentType  string
}

// Patch is a partial administrative edit. Nil fields are left unchanged.
type Patch struct {
	WorkHours        *WorkHours
	ConsultationType *string
	Breaks           *[]BreakWindow
	Types            []BucketPatch
}

// BucketPatch edits the metadata of the bucket labelled Type.
type BucketPatch struct {
	Type         string
	DurationMins *int
	Price        *float64
	Currency     *string
}

// SlotTransition is a compare-and-set on one slot's status. The transition
// applies only when the owning document is active, the slot's status equals
// From and, when ExpectAppointmentID is set, the slot's appointment matches.
type SlotTransition struct {
	ProviderID          string
	Date                string
	SlotID              string
	Type                string // bucket label; empty matches any bucket
	From                SlotStatus
	To                  SlotStatus
	ExpectAppointmentID *uuid.UUID
	AppointmentID       *uuid.UUID // written to the slot; nil clears it
	PatientID           string
	Reason              string
	At                  time.Time
}

type TypeCounts struct {
	Type         string  `json:"type"`
	DurationMins int     `json:"duration_mins"`
	Price        float64 `json:"price"`
	Booked       int     `json:"booked_slots"`
	Available    int     `json:"available_slots"`
	Cancelled    int     `json:"cancelled_slots"`
	Total        int     `json:"total_slots"`
}

type Summary struct {
	AvailabilityID   uuid.UUID    `json:"availability_id"`
	ProviderID       string       `json:"provider_id"`
	Date             string       `json:"date"`
	ConsultationType string       `json:"consultation_type"`
	WorkHours        WorkHours    `json:"work_hours"`
	ByType           []TypeCounts `json:"appointment_summary"`
	TotalBooked      int          `json:"total_booked"`
	TotalAvailable   int          `json:"total_available"`
	TotalSlots       int          `json:"total_slots"`
}

// Summarize counts slot states per bucket from a single document snapshot.
func Summarize(d *Document) Summary {
	s := Summary{
		AvailabilityID:   d.ID,
		ProviderID:       d.ProviderID,
		Date:             d.Date,
		ConsultationType: d.ConsultationType,
		WorkHours:        d.WorkHours,
	}
	for _, b := range d.Types {
		tc := TypeCounts{Type: b.Type, DurationMins: b.DurationMins, Price: b.Price}
		for _, sl := range b.Slots {
			switch sl.Status {
			case SlotBooked:
				tc.Booked++
			case SlotAvailable:
				tc.Available++
			case SlotCancelled:
				tc.Cancelled++
			}
			tc.Total++
		}
		s.ByType = append(s.ByType, tc)
		s.TotalBooked += tc.Booked
		s.TotalAvailable += tc.Available
		s.TotalSlots += tc.Total
	}
	return s
}

// TypeView is the getByDateAndType projection.
type TypeView struct {
	AvailabilityID   uuid.UUID `json:"availability_id"`
	ProviderID       string    `json:"provider_id"`
	Date             string    `json:"date"`
	ConsultationType string    `json:"consultation_type"`
	Type             string    `json:"appointment_type"`
	DurationMins     int       `json:"duration_mins"`
	Price            float64   `json:"price"`
	Currency         string    `json:"currency"`
	Slots            []Slot    `json:"slots"`
	AvailableCount   int       `json:"available_slots_count"`
	TotalCount       int       `json:"total_slots_count"`
}
