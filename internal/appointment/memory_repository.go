package appointment

import (
	"bytes"
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]*Appointment
	events []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{appts: make(map[uuid.UUID]*Appointment)}
}

func (r *MemoryRepository) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appts[a.ID]; ok {
		return ErrAlreadyExists
	}
	c := *a
	r.appts[a.ID] = &c
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	c := *a
	return &c, nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []Appointment
	for _, a := range r.appts {
		if f.PatientID != "" && a.PatientID != f.PatientID {
			continue
		}
		if f.ProviderID != "" && a.ProviderID != f.ProviderID {
			continue
		}
		all = append(all, *a)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].ScheduledAt.Equal(all[j].ScheduledAt) {
			return all[i].ScheduledAt.After(all[j].ScheduledAt)
		}
		return bytes.Compare(all[i].ID[:], all[j].ID[:]) < 0
	})

	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, c StatusChange) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[c.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !slices.Contains(c.From, a.Status) {
		return nil, ErrInvalidTransition
	}
	a.Status = c.To
	if c.To == StatusCancelled {
		a.CancellationReason = c.Reason
	}
	a.UpdatedAt = c.At
	out := *a
	return &out, nil
}

func (r *MemoryRepository) DueForReminder(_ context.Context, from, to time.Time, after *Cursor, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []Appointment
	for _, a := range r.appts {
		if a.ReminderSent || !a.Status.Active() {
			continue
		}
		if a.ScheduledAt.Before(from) || a.ScheduledAt.After(to) {
			continue
		}
		if after != nil && !after.precedes(a) {
			continue
		}
		due = append(due, *a)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return bytes.Compare(due[i].ID[:], due[j].ID[:]) < 0
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *MemoryRepository) MarkReminderSent(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok {
		return false, ErrAppointmentNotFound
	}
	if a.ReminderSent {
		return false, nil
	}
	a.ReminderSent = true
	a.ReminderSentAt = &at
	a.UpdatedAt = at
	return true, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns the event log in insertion order.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

var _ Repository = (*MemoryRepository)(nil)
