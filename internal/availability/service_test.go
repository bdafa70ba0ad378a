package availability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewService(repo, zap.NewNop()), repo
}

func consultationDay(provider, date string) *Document {
	return &Document{
		ProviderID:       provider,
		Date:             date,
		WorkHours:        WorkHours{StartTime: "09:00", EndTime: "12:00"},
		ConsultationType: ConsultationInPerson,
		Types: []TypeBucket{
			{
				Type:         "Consultation",
				DurationMins: 30,
				Price:        50,
				Slots: []Slot{
					{StartTime: "09:00", EndTime: "09:30"},
					{StartTime: "09:30", EndTime: "10:00"},
				},
			},
			{Type: "Follow-up", DurationMins: 60, Price: 30},
		},
		Breaks: []BreakWindow{
			{StartTime: "10:00", EndTime: "11:00", Type: "lunch", IsBlocked: true},
		},
	}
}

func TestServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns ids and generates missing slots", func(t *testing.T) {
		svc, _ := newTestService()

		doc, err := svc.Create(ctx, consultationDay("dr-1", "2025-10-26"))
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, doc.ID)
		assert.True(t, doc.IsActive)
		assert.Equal(t, DefaultCurrency, doc.Types[0].Currency)

		consult := doc.Types[0].Slots
		require.Len(t, consult, 2)
		assert.Equal(t, "slot_001", consult[0].SlotID)
		assert.Equal(t, "slot_002", consult[1].SlotID)

		// 09:00-10:00 and 11:00-12:00; 10:00-11:00 is blocked.
		follow := doc.Types[1].Slots
		require.Len(t, follow, 2)
		assert.Equal(t, "09:00", follow[0].StartTime)
		assert.Equal(t, "11:00", follow[1].StartTime)
		assert.Equal(t, "slot_004", follow[1].SlotID)
		for _, s := range follow {
			assert.Equal(t, SlotAvailable, s.Status)
		}
	})

	t.Run("second active document for the same day conflicts", func(t *testing.T) {
		svc, _ := newTestService()

		_, err := svc.Create(ctx, consultationDay("dr-1", "2025-10-26"))
		require.NoError(t, err)

		_, err = svc.Create(ctx, consultationDay("dr-1", "2025-10-26"))
		assert.ErrorIs(t, err, ErrAlreadyExists)
		assert.ErrorIs(t, err, apperr.ErrConflict)

		_, err = svc.Create(ctx, consultationDay("dr-2", "2025-10-26"))
		assert.NoError(t, err)
	})

	t.Run("soft deleted day can be authored again", func(t *testing.T) {
		svc, _ := newTestService()

		first, err := svc.Create(ctx, consultationDay("dr-1", "2025-10-26"))
		require.NoError(t, err)
		require.NoError(t, svc.SoftDelete(ctx, first.ID))

		_, err = svc.Create(ctx, consultationDay("dr-1", "2025-10-26"))
		assert.NoError(t, err)
	})
}

func TestServiceCreateValidation(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(d *Document)
	}{
		{"bad date", func(d *Document) { d.Date = "26-10-2025" }},
		{"impossible date", func(d *Document) { d.Date = "2025-02-30" }},
		{"work hours reversed", func(d *Document) { d.WorkHours = WorkHours{StartTime: "17:00", EndTime: "09:00"} }},
		{"bad time", func(d *Document) { d.WorkHours.StartTime = "9am" }},
		{"unknown consultation type", func(d *Document) { d.ConsultationType = "Phone" }},
		{"missing provider", func(d *Document) { d.ProviderID = "" }},
		{"no types", func(d *Document) { d.Types = nil }},
		{"duplicate type", func(d *Document) { d.Types[1].Type = "Consultation" }},
		{"negative price", func(d *Document) { d.Types[0].Price = -1 }},
		{"zero duration", func(d *Document) { d.Types[1].DurationMins = 0 }},
		{"slot end before start", func(d *Document) { d.Types[0].Slots[0].EndTime = "08:30" }},
		{"slot outside work hours", func(d *Document) { d.Types[0].Slots[0] = Slot{StartTime: "08:00", EndTime: "08:30"} }},
		{"slot inside blocked break", func(d *Document) { d.Types[0].Slots[1] = Slot{StartTime: "10:15", EndTime: "10:45"} }},
		{"overlapping slots", func(d *Document) { d.Types[0].Slots[1] = Slot{StartTime: "09:15", EndTime: "09:45"} }},
		{"pre-booked slot", func(d *Document) { d.Types[0].Slots[0].Status = SlotBooked }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService()
			doc := consultationDay("dr-1", "2025-10-26")
			tc.mutate(doc)

			_, err := svc.Create(ctx, doc)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	t.Run("unblocked break does not exclude slots", func(t *testing.T) {
		svc, _ := newTestService()
		doc := consultationDay("dr-1", "2025-10-26")
		doc.Breaks[0].IsBlocked = false
		doc.Types[0].Slots = append(doc.Types[0].Slots, Slot{StartTime: "10:00", EndTime: "10:30"})

		_, err := svc.Create(ctx, doc)
		assert.NoError(t, err)
	})
}

func TestServiceProjections(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService()

	doc, err := svc.Create(ctx, consultationDay("dr-1", "2025-10-26"))
	require.NoError(t, err)

	apptID := uuid.New()
	_, err = repo.TransitionSlot(ctx, SlotTransition{
		ProviderID: "dr-1", Date: "2025-10-26", SlotID: "slot_001", Type: "Consultation",
		From: SlotAvailable, To: SlotBooked, AppointmentID: &apptID, PatientID: "pt-1", At: time.Now(),
	})
	require.NoError(t, err)

	t.Run("by date and type counts available and total", func(t *testing.T) {
		v, err := svc.GetByDateAndType(ctx, "dr-1", "2025-10-26", "Consultation")
		require.NoError(t, err)
		assert.Equal(t, doc.ID, v.AvailabilityID)
		assert.Equal(t, 1, v.AvailableCount)
		assert.Equal(t, 2, v.TotalCount)
		assert.Len(t, v.Slots, 2)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := svc.GetByDateAndType(ctx, "dr-1", "2025-10-26", "Surgery")
		assert.ErrorIs(t, err, ErrTypeNotFound)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.NotErrorIs(t, err, ErrSlotNotFound)
		assert.Contains(t, err.Error(), "appointment type")
	})

	t.Run("available slots skip booked ones", func(t *testing.T) {
		refs, err := svc.AvailableSlots(ctx, "dr-1", "2025-10-26")
		require.NoError(t, err)
		require.Len(t, refs, 3)
		for _, r := range refs {
			assert.NotEqual(t, "slot_001", r.Slot.SlotID)
		}
	})

	t.Run("summary", func(t *testing.T) {
		got, err := repo.GetByDate(ctx, "dr-1", "2025-10-26")
		require.NoError(t, err)
		sum := Summarize(got)
		assert.Equal(t, 1, sum.TotalBooked)
		assert.Equal(t, 3, sum.TotalAvailable)
		assert.Equal(t, 4, sum.TotalSlots)
		assert.Equal(t, 1, sum.ByType[0].Booked)
		assert.Equal(t, 1, sum.ByType[0].Available)
	})

	t.Run("returned documents are copies", func(t *testing.T) {
		got, err := svc.GetByDate(ctx, "dr-1", "2025-10-26")
		require.NoError(t, err)
		got.Types[0].Slots[1].Status = SlotBooked

		again, err := svc.GetByDate(ctx, "dr-1", "2025-10-26")
		require.NoError(t, err)
		assert.Equal(t, SlotAvailable, again.Types[0].Slots[1].Status)
	})
}

func TestServiceGetAll(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	for _, date := range []string{"2025-10-27", "2025-10-26", "2025-10-28"} {
		_, err := svc.Create(ctx, consultationDay("dr-1", date))
		require.NoError(t, err)
	}
	online := consultationDay("dr-1", "2025-10-29")
	online.ConsultationType = ConsultationOnline
	online.Types = online.Types[:1]
	_, err := svc.Create(ctx, online)
	require.NoError(t, err)

	all, err := svc.GetAll(ctx, "dr-1", Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "2025-10-26", all[0].Date)

	ranged, err := svc.GetAll(ctx, "dr-1", Filter{StartDate: "2025-10-27", EndDate: "2025-10-28"})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	remote, err := svc.GetAll(ctx, "dr-1", Filter{ConsultationType: ConsultationOnline})
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, "2025-10-29", remote[0].Date)

	follow, err := svc.GetAll(ctx, "dr-1", Filter{AppointmentType: "Follow-up"})
	require.NoError(t, err)
	assert.Len(t, follow, 3)
	for _, d := range follow {
		require.Len(t, d.Types, 1)
		assert.Equal(t, "Follow-up", d.Types[0].Type)
	}

	_, err = svc.GetAll(ctx, "dr-1", Filter{StartDate: "yesterday"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestServiceUpdateAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	doc, err := svc.Create(ctx, consultationDay("dr-1", "2025-10-26"))
	require.NoError(t, err)

	price := 75.0
	updated, err := svc.Update(ctx, doc.ID, Patch{
		WorkHours: &WorkHours{StartTime: "08:00", EndTime: "13:00"},
		Types:     []BucketPatch{{Type: "Consultation", Price: &price}},
	})
	require.NoError(t, err)
	assert.Equal(t, "08:00", updated.WorkHours.StartTime)

	got, err := svc.GetByDate(ctx, "dr-1", "2025-10-26")
	require.NoError(t, err)
	assert.Equal(t, 75.0, got.Types[0].Price)
	assert.Len(t, got.Types[0].Slots, 2)

	t.Run("patch that strands slots is rejected", func(t *testing.T) {
		_, err := svc.Update(ctx, doc.ID, Patch{WorkHours: &WorkHours{StartTime: "09:30", EndTime: "12:00"}})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("unknown bucket", func(t *testing.T) {
		_, err := svc.Update(ctx, doc.ID, Patch{Types: []BucketPatch{{Type: "Surgery", Price: &price}}})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := svc.Update(ctx, uuid.New(), Patch{})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, svc.SoftDelete(ctx, uuid.New()), ErrNotFound)
	})

	t.Run("soft delete hides the document from every read", func(t *testing.T) {
		require.NoError(t, svc.SoftDelete(ctx, doc.ID))

		_, err := svc.GetByDate(ctx, "dr-1", "2025-10-26")
		assert.ErrorIs(t, err, ErrNotFound)

		all, err := svc.GetAll(ctx, "dr-1", Filter{})
		require.NoError(t, err)
		assert.Empty(t, all)

		_, err = svc.Update(ctx, doc.ID, Patch{})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, svc.SoftDelete(ctx, doc.ID), ErrNotFound)
	})
}

func TestMemoryRepositoryTransitionSlotRace(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService()

	_, err := svc.Create(ctx, consultationDay("dr-1", "2025-10-26"))
	require.NoError(t, err)

	const racers = 32
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		won     int
		refused int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			<-start
			_, err := repo.TransitionSlot(ctx, SlotTransition{
				ProviderID: "dr-1", Date: "2025-10-26", SlotID: "slot_002",
				From: SlotAvailable, To: SlotBooked, AppointmentID: &id, At: time.Now(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrTransitionRejected):
				refused++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, racers-1, refused)
}

func TestMemoryRepositoryTransitionSlotPreconditions(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService()

	doc, err := svc.Create(ctx, consultationDay("dr-1", "2025-10-26"))
	require.NoError(t, err)

	owner, other := uuid.New(), uuid.New()
	book := SlotTransition{
		ProviderID: "dr-1", Date: "2025-10-26", SlotID: "slot_001",
		From: SlotAvailable, To: SlotBooked, AppointmentID: &owner, PatientID: "pt-1", At: time.Now(),
	}

	t.Run("wrong bucket", func(t *testing.T) {
		tr := book
		tr.Type = "Follow-up"
		_, err := repo.TransitionSlot(ctx, tr)
		assert.ErrorIs(t, err, ErrTransitionRejected)
	})

	s, err := repo.TransitionSlot(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, SlotBooked, s.Status)
	assert.Equal(t, owner, *s.AppointmentID)
	assert.Equal(t, "pt-1", s.PatientID)
	assert.NotNil(t, s.BookedAt)

	t.Run("release requires the holder", func(t *testing.T) {
		_, err := repo.TransitionSlot(ctx, SlotTransition{
			ProviderID: "dr-1", Date: "2025-10-26", SlotID: "slot_001",
			From: SlotBooked, To: SlotAvailable, ExpectAppointmentID: &other, At: time.Now(),
		})
		assert.ErrorIs(t, err, ErrTransitionRejected)
	})

	t.Run("release by the holder records the reason", func(t *testing.T) {
		s, err := repo.TransitionSlot(ctx, SlotTransition{
			ProviderID: "dr-1", Date: "2025-10-26", SlotID: "slot_001",
			From: SlotBooked, To: SlotAvailable, ExpectAppointmentID: &owner, Reason: "sick", At: time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, SlotAvailable, s.Status)
		assert.Nil(t, s.AppointmentID)
		assert.Equal(t, "sick", s.CancellationReason)
	})

	t.Run("inactive document rejects transitions", func(t *testing.T) {
		require.NoError(t, svc.SoftDelete(ctx, doc.ID))
		_, err := repo.TransitionSlot(ctx, book)
		assert.ErrorIs(t, err, ErrTransitionRejected)
	})
}
