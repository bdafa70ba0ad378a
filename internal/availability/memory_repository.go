package availability

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps documents in process. A single mutex makes every
// slot transition a compare-and-set.
type MemoryRepository struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*Document
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[uuid.UUID]*Document)}
}

func (r *MemoryRepository) Create(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeLocked(doc.ProviderID, doc.Date) != nil {
		return ErrAlreadyExists
	}
	r.docs[doc.ID] = doc.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[id]
	if !ok || !d.IsActive {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (r *MemoryRepository) GetByDate(_ context.Context, providerID, date string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.activeLocked(providerID, date)
	if d == nil {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, providerID string, f Filter) ([]Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Document
	for _, d := range r.docs {
		if !d.IsActive || d.ProviderID != providerID {
			continue
		}
		if f.StartDate != "" && d.Date < f.StartDate {
			continue
		}
		if f.EndDate != "" && d.Date > f.EndDate {
			continue
		}
		if f.ConsultationType != "" && d.ConsultationType != f.ConsultationType {
			continue
		}
		out = append(out, *d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (r *MemoryRepository) UpdateMetadata(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.docs[doc.ID]
	if !ok || !cur.IsActive {
		return ErrNotFound
	}
	cur.WorkHours = doc.WorkHours
	cur.ConsultationType = doc.ConsultationType
	cur.Breaks = append([]BreakWindow(nil), doc.Breaks...)
	for _, nb := range doc.Types {
		for i := range cur.Types {
			if cur.Types[i].Type != nb.Type {
				continue
			}
			cur.Types[i].DurationMins = nb.DurationMins
			cur.Types[i].Price = nb.Price
			cur.Types[i].Currency = nb.Currency
		}
	}
	cur.UpdatedAt = doc.UpdatedAt
	return nil
}

func (r *MemoryRepository) SoftDelete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[id]
	if !ok || !d.IsActive {
		return ErrNotFound
	}
	d.IsActive = false
	return nil
}

func (r *MemoryRepository) TransitionSlot(_ context.Context, t SlotTransition) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.activeLocked(t.ProviderID, t.Date)
	if d == nil {
		return nil, ErrTransitionRejected
	}
	for bi := range d.Types {
		b := &d.Types[bi]
		if t.Type != "" && b.Type != t.Type {
			continue
		}
		for si := range b.Slots {
			s := &b.Slots[si]
			if s.SlotID != t.SlotID {
				continue
			}
			if !transitionAllowed(s, t) {
				return nil, ErrTransitionRejected
			}
			applyTransition(s, t)
			d.UpdatedAt = t.At
			out := *s
			return &out, nil
		}
	}
	return nil, ErrTransitionRejected
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) activeLocked(providerID, date string) *Document {
	for _, d := range r.docs {
		if d.IsActive && d.ProviderID == providerID && d.Date == date {
			return d
		}
	}
	return nil
}

func transitionAllowed(s *Slot, t SlotTransition) bool {
	if s.Status != t.From {
		return false
	}
	if t.ExpectAppointmentID != nil {
		return s.AppointmentID != nil && *s.AppointmentID == *t.ExpectAppointmentID
	}
	return true
}

// applyTransition writes the post-state of t onto s. Booking fields are set on
// entry to Booked and cleared on release; a retired slot keeps its history.
func applyTransition(s *Slot, t SlotTransition) {
	at := t.At
	s.Status = t.To
	switch t.To {
	case SlotBooked:
		if t.AppointmentID != nil {
			id := *t.AppointmentID
			s.AppointmentID = &id
		}
		s.PatientID = t.PatientID
		s.BookedAt = &at
		s.CancellationReason = ""
		s.CancelledAt = nil
	case SlotAvailable:
		s.AppointmentID = nil
		s.PatientID = ""
		s.BookedAt = nil
		s.CancellationReason = t.Reason
		if t.Reason != "" {
			s.CancelledAt = &at
		} else {
			s.CancelledAt = nil
		}
	case SlotCancelled:
		s.CancellationReason = t.Reason
		s.CancelledAt = &at
	}
}

var _ Repository = (*MemoryRepository)(nil)
