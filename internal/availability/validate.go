package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

const (
	DefaultBucketType   = "General Consultation"
	DefaultDurationMins = 30
	DefaultCurrency     = "USD"
	slotIDFormat        = "slot_%03d"
	minutesPerDay       = 24 * 60
	maxSlotsPerDocument = 1000
)

// ValidateDate reports whether date is a YYYY-MM-DD calendar date.
func ValidateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return apperr.Validation("invalid date %q, use YYYY-MM-DD", date)
	}
	return nil
}

// clockMinutes parses HH:MM into minutes since midnight.
func clockMinutes(v string) (int, error) {
	t, err := time.Parse(TimeLayout, v)
	if err != nil {
		return 0, apperr.Validation("invalid time %q, use HH:MM", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

type span struct{ start, end int }

func (a span) overlaps(b span) bool {
	return a.start < b.end && b.start < a.end
}

func parseSpan(start, end, what string) (span, error) {
	s, err := clockMinutes(start)
	if err != nil {
		return span{}, err
	}
	e, err := clockMinutes(end)
	if err != nil {
		return span{}, err
	}
	if s >= e {
		return span{}, apperr.Validation("%s start %s must be before end %s", what, start, end)
	}
	return span{s, e}, nil
}

// Prepare fills defaults on a freshly authored document, generates slots for
// buckets that carry none, assigns document-scoped slot identifiers and then
// validates the result.
func Prepare(doc *Document) error {
	work, err := parseSpan(doc.WorkHours.StartTime, doc.WorkHours.EndTime, "work hours")
	if err != nil {
		return err
	}
	blocked, err := blockedSpans(doc.Breaks)
	if err != nil {
		return err
	}

	seq := 0
	for i := range doc.Types {
		b := &doc.Types[i]
		if b.Currency == "" {
			b.Currency = DefaultCurrency
		}
		if b.DurationMins <= 0 {
			return apperr.Validation("bucket %q: duration_mins must be > 0", b.Type)
		}
		if len(b.Slots) == 0 {
			b.Slots = generateSlots(work, blocked, b.DurationMins)
		}
		for j := range b.Slots {
			s := &b.Slots[j]
			if s.Status != "" && s.Status != SlotAvailable {
				return apperr.Validation("slot %s-%s: new slots must be available", s.StartTime, s.EndTime)
			}
			seq++
			s.SlotID = fmt.Sprintf(slotIDFormat, seq)
			s.Status = SlotAvailable
			s.AppointmentID = nil
			s.PatientID = ""
			s.BookedAt = nil
			s.CancelledAt = nil
			s.CancellationReason = ""
		}
	}
	return Validate(doc)
}

// Validate checks the structural invariants of a document: well formed date
// and times, start before end everywhere, slots inside work hours and outside
// blocked breaks, and no overlapping slots within a bucket.
func Validate(doc *Document) error {
	if doc.ProviderID == "" {
		return apperr.Validation("provider_id is required")
	}
	if err := ValidateDate(doc.Date); err != nil {
		return err
	}
	work, err := parseSpan(doc.WorkHours.StartTime, doc.WorkHours.EndTime, "work hours")
	if err != nil {
		return err
	}
	switch doc.ConsultationType {
	case ConsultationOnline, ConsultationInPerson:
	default:
		return apperr.Validation("consultation_type must be %q or %q", ConsultationOnline, ConsultationInPerson)
	}
	blocked, err := blockedSpans(doc.Breaks)
	if err != nil {
		return err
	}
	if len(doc.Types) == 0 {
		return apperr.Validation("at least one appointment type is required")
	}

	labels := make(map[string]struct{}, len(doc.Types))
	ids := make(map[string]struct{})
	for _, b := range doc.Types {
		if b.Type == "" {
			return apperr.Validation("appointment type label is required")
		}
		if _, dup := labels[b.Type]; dup {
			return apperr.Validation("duplicate appointment type %q", b.Type)
		}
		labels[b.Type] = struct{}{}
		if b.DurationMins <= 0 {
			return apperr.Validation("bucket %q: duration_mins must be > 0", b.Type)
		}
		if b.Price < 0 {
			return apperr.Validation("bucket %q: price must be >= 0", b.Type)
		}

		spans := make([]span, 0, len(b.Slots))
		for _, s := range b.Slots {
			if s.SlotID == "" {
				return apperr.Validation("bucket %q: slot without identifier", b.Type)
			}
			if _, dup := ids[s.SlotID]; dup {
				return apperr.Validation("duplicate slot_id %q", s.SlotID)
			}
			ids[s.SlotID] = struct{}{}

			sp, err := parseSpan(s.StartTime, s.EndTime, "slot "+s.SlotID)
			if err != nil {
				return err
			}
			if sp.start < work.start || sp.end > work.end {
				return apperr.Validation("slot %s (%s-%s) is outside work hours %s-%s",
					s.SlotID, s.StartTime, s.EndTime, doc.WorkHours.StartTime, doc.WorkHours.EndTime)
			}
			for _, br := range blocked {
				if sp.overlaps(br) {
					return apperr.Validation("slot %s (%s-%s) overlaps a blocked break",
						s.SlotID, s.StartTime, s.EndTime)
				}
			}
			spans = append(spans, sp)
		}

		sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
		for i := 1; i < len(spans); i++ {
			if spans[i-1].overlaps(spans[i]) {
				return apperr.Validation("bucket %q has overlapping slots", b.Type)
			}
		}
	}
	if len(ids) > maxSlotsPerDocument {
		return apperr.Validation("too many slots (%d), limit is %d", len(ids), maxSlotsPerDocument)
	}
	return nil
}

func blockedSpans(breaks []BreakWindow) ([]span, error) {
	var out []span
	for _, br := range breaks {
		sp, err := parseSpan(br.StartTime, br.EndTime, "break")
		if err != nil {
			return nil, err
		}
		if br.IsBlocked {
			out = append(out, sp)
		}
	}
	return out, nil
}

// generateSlots lays consecutive slots of duration minutes across work hours,
// dropping any that would overlap a blocked break.
func generateSlots(work span, blocked []span, duration int) []Slot {
	var slots []Slot
	for cur := work.start; cur+duration <= work.end && cur+duration <= minutesPerDay; cur += duration {
		sp := span{cur, cur + duration}
		free := true
		for _, br := range blocked {
			if sp.overlaps(br) {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		slots = append(slots, Slot{
			StartTime: formatClock(sp.start),
			EndTime:   formatClock(sp.end),
			Status:    SlotAvailable,
		})
	}
	return slots
}

// ApplyPatch applies an administrative edit to doc in place. Slot state is
// never touched here.
func ApplyPatch(doc *Document, p Patch) error {
	if p.WorkHours != nil {
		doc.WorkHours = *p.WorkHours
	}
	if p.ConsultationType != nil {
		doc.ConsultationType = *p.ConsultationType
	}
	if p.Breaks != nil {
		doc.Breaks = append([]BreakWindow(nil), (*p.Breaks)...)
	}
	for _, bp := range p.Types {
		idx := -1
		for i := range doc.Types {
			if doc.Types[i].Type == bp.Type {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apperr.NotFound("appointment type %q not found", bp.Type)
		}
		b := &doc.Types[idx]
		if bp.DurationMins != nil {
			b.DurationMins = *bp.DurationMins
		}
		if bp.Price != nil {
			b.Price = *bp.Price
		}
		if bp.Currency != nil {
			b.Currency = *bp.Currency
		}
	}
	return Validate(doc)
}

// ScheduledAt resolves a (date, HH:MM) pair in loc.
func ScheduledAt(date, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid date/time %s %s", date, clock)
	}
	return t, nil
}
