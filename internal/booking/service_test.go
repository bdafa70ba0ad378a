package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/directory"
)

const (
	provider = "dr-1"
	day      = "2025-10-26"
)

type fixture struct {
	store    *availability.MemoryRepository
	avail    *availability.Service
	appts    *appointment.MemoryRepository
	registry *appointment.Service
	alloc    *Allocator
	svc      *Service
}

func newFixture(t *testing.T, policy CancelPolicy) *fixture {
	t.Helper()
	f := &fixture{
		store: availability.NewMemoryRepository(),
		appts: appointment.NewMemoryRepository(),
	}
	log := zap.NewNop()
	f.avail = availability.NewService(f.store, log)
	f.registry = appointment.NewService(f.appts, log)
	f.alloc = NewAllocator(f.store, policy, log)
	f.svc = NewService(f.alloc, f.store, f.registry, nil, time.UTC, log)
	return f
}

// seedDay authors a day with n consecutive 30 minute Consultation slots from
// 09:00.
func (f *fixture) seedDay(t *testing.T, n int) *availability.Document {
	t.Helper()
	var slots []availability.Slot
	start := 9 * 60
	for i := 0; i < n; i++ {
		s, e := start+i*30, start+(i+1)*30
		slots = append(slots, availability.Slot{
			StartTime: clock(s),
			EndTime:   clock(e),
		})
	}
	doc, err := f.avail.Create(context.Background(), &availability.Document{
		ProviderID:       provider,
		Date:             day,
		WorkHours:        availability.WorkHours{StartTime: "09:00", EndTime: "17:00"},
		ConsultationType: availability.ConsultationInPerson,
		Types: []availability.TypeBucket{
			{Type: "Consultation", DurationMins: 30, Price: 40, Slots: slots},
		},
	})
	require.NoError(t, err)
	return doc
}

func clock(m int) string {
	return time.Date(0, 1, 1, m/60, m%60, 0, 0, time.UTC).Format("15:04")
}

func (f *fixture) slot(t *testing.T, slotID string) availability.Slot {
	t.Helper()
	doc, err := f.store.GetByDate(context.Background(), provider, day)
	require.NoError(t, err)
	ref, ok := doc.FindSlot(slotID)
	require.True(t, ok)
	return ref.Slot
}

func (f *fixture) book(t *testing.T, slotID, patient string) *Booking {
	t.Helper()
	b, err := f.svc.Book(context.Background(), BookRequest{
		ProviderID: provider, Date: day, SlotID: slotID, PatientID: patient,
	})
	require.NoError(t, err)
	return b
}

func TestBookCreatesAppointment(t *testing.T) {
	f := newFixture(t, PolicyRelease)
	f.seedDay(t, 1)

	b := f.book(t, "slot_001", "pt-1")

	assert.Equal(t, availability.SlotBooked, b.Slot.Status)
	require.NotNil(t, b.Slot.AppointmentID)
	assert.Equal(t, b.Appointment.ID, *b.Slot.AppointmentID)
	assert.Equal(t, appointment.StatusScheduled, b.Appointment.Status)
	assert.Equal(t, "Consultation", b.Appointment.AppointmentType)
	assert.Equal(t, time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC), b.Appointment.ScheduledAt)
	assert.False(t, b.Appointment.ReminderSent)
}

func TestBookScenarioSummary(t *testing.T) {
	f := newFixture(t, PolicyRelease)
	f.seedDay(t, 1)
	f.book(t, "slot_001", "pt-1")

	sum, err := f.svc.Summary(context.Background(), provider, day)
	require.NoError(t, err)
	require.Len(t, sum.ByType, 1)
	assert.Equal(t, "Consultation", sum.ByType[0].Type)
	assert.Equal(t, 1, sum.ByType[0].Booked)
	assert.Equal(t, 0, sum.ByType[0].Available)
	assert.Equal(t, 1, sum.ByType[0].Total)

	booked, err := f.svc.BookedSlots(context.Background(), provider, day)
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, "slot_001", booked[0].Slot.SlotID)
}

func TestBookConcurrentSameSlot(t *testing.T) {
	f := newFixture(t, PolicyRelease)
	f.seedDay(t, 1)

	const racers = 50
	var (
		wg          sync.WaitGroup
		start       = make(chan struct{})
		mu          sync.Mutex
		wins        int
		unavailable int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Book(context.Background(), BookRequest{
				ProviderID: provider, Date: day, SlotID: "slot_001", PatientID: uuid.NewString(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrSlotUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, unavailable)

	list, err := f.registry.List(context.Background(), appointment.ListFilter{ProviderID: provider})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAllocatorBookUnknownSlotOrInactiveDay(t *testing.T) {
	f := newFixture(t, PolicyRelease)
	doc := f.seedDay(t, 1)
	ctx := context.Background()

	_, err := f.alloc.Book(ctx, SlotKey{ProviderID: provider, Date: day, SlotID: "slot_999"}, uuid.New(), "pt-1")
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	require.NoError(t, f.avail.SoftDelete(ctx, doc.ID))
	_, err = f.alloc.Book(ctx, SlotKey{ProviderID: provider, Date: day, SlotID: "slot_001"}, uuid.New(), "pt-1")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t, PolicyRelease)
	f.seedDay(t, 1)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, BookRequest{ProviderID: provider, Date: day, SlotID: "slot_001"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Book(ctx, BookRequest{ProviderID: provider, Date: "26/10/2025", SlotID: "slot_001", PatientID: "pt-1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Book(ctx, BookRequest{ProviderID: provider, Date: day, SlotID: "slot_404", PatientID: "pt-1"})
	assert.ErrorIs(t, err, ErrSlotUnknown)
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)

	_, err = f.svc.Book(ctx, BookRequest{ProviderID: provider, Date: day, Type: "Surgery", SlotID: "slot_001", PatientID: "pt-1"})
	assert.ErrorIs(t, err, ErrSlotUnknown)
	assert.Equal(t, availability.SlotAvailable, f.slot(t, "slot_001").Status)

	_, err = f.svc.Book(ctx, BookRequest{ProviderID: provider, Date: "2025-10-27", SlotID: "slot_001", PatientID: "pt-1"})
	assert.ErrorIs(t, err, availability.ErrNotFound)
}

func TestBookChecksDirectory(t *testing.T) {
	f := newFixture(t, PolicyRelease)
	f.seedDay(t, 1)
	ctx := context.Background()

	dir := directory.NewMemoryRepository()
	require.NoError(t, dir.UpsertProvider(ctx, &directory.Provider{ID: provider, Name: "Dr. One"}))
	svc := NewService(f.alloc, f.store, f.registry, dir, time.UTC, zap.NewNop())

	_, err := svc.Book(ctx, BookRequest{ProviderID: provider, Date: day, SlotID: "slot_001", PatientID: "ghost"})
	assert.ErrorIs(t, err, directory.ErrPatientNotFound)

	require.NoError(t, dir.UpsertPatient(ctx, &directory.Patient{ID: "pt-1", Name: "Ada"}))
	_, err = svc.Book(ctx, BookRequest{ProviderID: provider, Date: day, SlotID: "slot_001", PatientID: "pt-1"})
	assert.NoError(t, err)
}

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) CreateFromBooking(ctx context.Context, a *appointment.Appointment) (*appointment.Appointment, error) {
	args := m.Called(ctx, a)
	if v := args.Get(0); v != nil {
		return v.(*appointment.Appointment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRegistry) Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error) {
	args := m.Called(ctx, id, reason)
	if v := args.Get(0); v != nil {
		return v.(*appointment.Appointment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRegistry) Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*appointment.Appointment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRegistry) LogEvent(ctx context.Context, id uuid.UUID, eventType string, payload map[string]any) {
	m.Called(ctx, id, eventType, payload)
}

func TestBookCompensatesWhenAppointmentFails(t *testing.T) {
	f := newFixture(t, PolicyRetire)
	f.seedDay(t, 1)

	reg := new(mockRegistry)
	storeDown := apperr.Store("appointment.create", errors.New("connection reset"))
	reg.On("CreateFromBooking", mock.Anything, mock.AnythingOfType("*appointment.Appointment")).Return(nil, storeDown)
	reg.On("Cancel", mock.Anything, mock.AnythingOfType("uuid.UUID"), "booking compensated").Return(nil, appointment.ErrAppointmentNotFound)
	reg.On("LogEvent", mock.Anything, mock.Anything, appointment.EventBookingCompensated, mock.Anything).Return()

	svc := NewService(f.alloc, f.store, reg, nil, time.UTC, zap.NewNop())
	_, err := svc.Book(context.Background(), BookRequest{
		ProviderID: provider, Date: day, SlotID: "slot_001", PatientID: "pt-1",
	})
	assert.ErrorIs(t, err, apperr.ErrStore)

	// Compensation always releases, whatever the cancellation policy.
	s := f.slot(t, "slot_001")
	assert.Equal(t, availability.SlotAvailable, s.Status)
	assert.Nil(t, s.AppointmentID)
	reg.AssertExpectations(t)

	// The slot is bookable again once the registry recovers.
	b := f.book(t, "slot_001", "pt-2")
	assert.Equal(t, "pt-2", b.Appointment.PatientID)
}

func TestBookCompensationCancelsLandedAppointment(t *testing.T) {
	f := newFixture(t, PolicyRetire)
	f.seedDay(t, 1)

	var created uuid.UUID
	reg := new(mockRegistry)
	timeout := apperr.Store("appointment.create", context.DeadlineExceeded)
	reg.On("CreateFromBooking", mock.Anything, mock.AnythingOfType("*appointment.Appointment")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*appointment.Appointment).ID }).
		Return(nil, timeout)
	reg.On("Cancel", mock.Anything, mock.AnythingOfType("uuid.UUID"), "booking compensated").
		Return(&appointment.Appointment{Status: appointment.StatusCancelled}, nil)
	reg.On("LogEvent", mock.Anything, mock.Anything, appointment.EventBookingCompensated, mock.Anything).Return()

	svc := NewService(f.alloc, f.store, reg, nil, time.UTC, zap.NewNop())
	_, err := svc.Book(context.Background(), BookRequest{
		ProviderID: provider, Date: day, SlotID: "slot_001", PatientID: "pt-1",
	})
	assert.ErrorIs(t, err, apperr.ErrStore)

	reg.AssertCalled(t, "Cancel", mock.Anything, created, "booking compensated")
	assert.Equal(t, availability.SlotAvailable, f.slot(t, "slot_001").Status)
}

func TestCancelSlot(t *testing.T) {
	ctx := context.Background()

	t.Run("release makes the slot bookable again", func(t *testing.T) {
		f := newFixture(t, PolicyRelease)
		f.seedDay(t, 1)
		b := f.book(t, "slot_001", "pt-1")

		c, err := f.svc.CancelSlot(ctx, provider, day, "slot_001", b.Appointment.ID, "patient request")
		require.NoError(t, err)
		assert.Equal(t, "slot_001", c.SlotID)
		assert.Equal(t, b.Appointment.ID, c.AppointmentID)

		s := f.slot(t, "slot_001")
		assert.Equal(t, availability.SlotAvailable, s.Status)
		assert.Equal(t, "patient request", s.CancellationReason)

		a, err := f.registry.Get(ctx, b.Appointment.ID)
		require.NoError(t, err)
		assert.Equal(t, appointment.StatusCancelled, a.Status)
		assert.Equal(t, "patient request", a.CancellationReason)

		f.book(t, "slot_001", "pt-2")
	})

	t.Run("second cancel conflicts and changes nothing", func(t *testing.T) {
		f := newFixture(t, PolicyRelease)
		f.seedDay(t, 1)
		b := f.book(t, "slot_001", "pt-1")

		_, err := f.svc.CancelSlot(ctx, provider, day, "slot_001", b.Appointment.ID, "first")
		require.NoError(t, err)
		before := f.slot(t, "slot_001")

		_, err = f.svc.CancelSlot(ctx, provider, day, "slot_001", b.Appointment.ID, "second")
		assert.ErrorIs(t, err, apperr.ErrConflict)

		assert.Equal(t, before, f.slot(t, "slot_001"))
		a, err := f.registry.Get(ctx, b.Appointment.ID)
		require.NoError(t, err)
		assert.Equal(t, "first", a.CancellationReason)
	})

	t.Run("retire policy parks the slot", func(t *testing.T) {
		f := newFixture(t, PolicyRetire)
		f.seedDay(t, 1)
		b := f.book(t, "slot_001", "pt-1")

		_, err := f.svc.CancelSlot(ctx, provider, day, "slot_001", b.Appointment.ID, "")
		require.NoError(t, err)
		assert.Equal(t, availability.SlotCancelled, f.slot(t, "slot_001").Status)

		_, err = f.svc.Book(ctx, BookRequest{ProviderID: provider, Date: day, SlotID: "slot_001", PatientID: "pt-2"})
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	})

	t.Run("mismatched appointment", func(t *testing.T) {
		f := newFixture(t, PolicyRelease)
		f.seedDay(t, 1)
		b := f.book(t, "slot_001", "pt-1")

		_, err := f.svc.CancelSlot(ctx, provider, day, "slot_001", uuid.New(), "")
		assert.ErrorIs(t, err, ErrSlotNotHeld)
		assert.Equal(t, availability.SlotBooked, f.slot(t, "slot_001").Status)

		a, err := f.registry.Get(ctx, b.Appointment.ID)
		require.NoError(t, err)
		assert.Equal(t, appointment.StatusScheduled, a.Status)
	})

	t.Run("unknown slot", func(t *testing.T) {
		f := newFixture(t, PolicyRelease)
		f.seedDay(t, 1)
		_, err := f.svc.CancelSlot(ctx, provider, day, "slot_404", uuid.New(), "")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("interrupted cancellation is finished", func(t *testing.T) {
		f := newFixture(t, PolicyRelease)
		f.seedDay(t, 1)
		b := f.book(t, "slot_001", "pt-1")

		// Appointment cancelled but the slot write never happened.
		_, err := f.registry.Cancel(ctx, b.Appointment.ID, "crashed")
		require.NoError(t, err)

		_, err = f.svc.CancelSlot(ctx, provider, day, "slot_001", b.Appointment.ID, "retry")
		require.NoError(t, err)
		assert.Equal(t, availability.SlotAvailable, f.slot(t, "slot_001").Status)
	})
}

func TestCancelAllForDate(t *testing.T) {
	ctx := context.Background()

	t.Run("three booked and two available", func(t *testing.T) {
		f := newFixture(t, PolicyRelease)
		f.seedDay(t, 5)
		var booked []*Booking
		for _, id := range []string{"slot_001", "slot_003", "slot_005"} {
			booked = append(booked, f.book(t, id, "pt-"+id))
		}
		untouched := []availability.Slot{f.slot(t, "slot_002"), f.slot(t, "slot_004")}

		res, err := f.svc.CancelAllForDate(ctx, provider, day, "clinic closed", false)
		require.NoError(t, err)
		assert.Equal(t, 3, res.CancelledCount)
		assert.Len(t, res.Cancelled, 3)
		assert.Empty(t, res.Failed)
		assert.False(t, res.DayClosed)

		for _, id := range []string{"slot_001", "slot_003", "slot_005"} {
			s := f.slot(t, id)
			assert.Equal(t, availability.SlotAvailable, s.Status, id)
			assert.Nil(t, s.AppointmentID, id)
		}
		assert.Equal(t, untouched[0], f.slot(t, "slot_002"))
		assert.Equal(t, untouched[1], f.slot(t, "slot_004"))

		for _, b := range booked {
			a, err := f.registry.Get(ctx, b.Appointment.ID)
			require.NoError(t, err)
			assert.Equal(t, appointment.StatusCancelled, a.Status)
		}
	})

	t.Run("poisoned slot is reported and others still cancelled", func(t *testing.T) {
		f := newFixture(t, PolicyRelease)
		f.seedDay(t, 3)
		f.book(t, "slot_001", "pt-1")
		f.book(t, "slot_003", "pt-3")

		// Booked directly against the store with no appointment behind it.
		ghost := uuid.New()
		_, err := f.alloc.Book(ctx, SlotKey{ProviderID: provider, Date: day, SlotID: "slot_002"}, ghost, "pt-2")
		require.NoError(t, err)

		res, err := f.svc.CancelAllForDate(ctx, provider, day, "", false)
		require.NoError(t, err)
		assert.Equal(t, 2, res.CancelledCount)
		require.Len(t, res.Failed, 1)
		assert.Equal(t, "slot_002", res.Failed[0].SlotID)
		require.NotNil(t, res.Failed[0].AppointmentID)
		assert.Equal(t, ghost, *res.Failed[0].AppointmentID)

		assert.Equal(t, availability.SlotAvailable, f.slot(t, "slot_001").Status)
		assert.Equal(t, availability.SlotBooked, f.slot(t, "slot_002").Status)
		assert.Equal(t, availability.SlotAvailable, f.slot(t, "slot_003").Status)
	})

	t.Run("close day", func(t *testing.T) {
		f := newFixture(t, PolicyRelease)
		f.seedDay(t, 2)
		f.book(t, "slot_001", "pt-1")

		res, err := f.svc.CancelAllForDate(ctx, provider, day, "", true)
		require.NoError(t, err)
		assert.True(t, res.DayClosed)
		assert.Equal(t, 1, res.CancelledCount)

		_, err = f.store.GetByDate(ctx, provider, day)
		assert.ErrorIs(t, err, availability.ErrNotFound)
	})

	t.Run("nothing booked", func(t *testing.T) {
		f := newFixture(t, PolicyRelease)
		f.seedDay(t, 2)

		res, err := f.svc.CancelAllForDate(ctx, provider, day, "", false)
		require.NoError(t, err)
		assert.Equal(t, 0, res.CancelledCount)
		assert.NotNil(t, res.Cancelled)
	})

	t.Run("unknown day", func(t *testing.T) {
		f := newFixture(t, PolicyRelease)
		_, err := f.svc.CancelAllForDate(ctx, provider, day, "", false)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}
