package availability_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

func newPgService(t *testing.T) (*availability.Service, *availability.PgRepository) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))

	repo := availability.NewPgRepository(pool)
	return availability.NewService(repo, zap.NewNop()), repo
}

func TestPgRepositoryRoundTrip(t *testing.T) {
	svc, _ := newPgService(t)
	ctx := context.Background()
	provider := "dr-" + uuid.NewString()

	created, err := svc.Create(ctx, availability.ConsultationDay(provider, "2025-10-26"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, availability.ConsultationDay(provider, "2025-10-26"))
	assert.ErrorIs(t, err, availability.ErrAlreadyExists)

	got, err := svc.GetByDate(ctx, provider, "2025-10-26")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	require.Len(t, got.Types, 2)
	assert.Equal(t, "Consultation", got.Types[0].Type)
	assert.Len(t, got.Types[0].Slots, len(created.Types[0].Slots))
	assert.Len(t, got.Types[1].Slots, len(created.Types[1].Slots))

	require.NoError(t, svc.SoftDelete(ctx, created.ID))
	_, err = svc.GetByDate(ctx, provider, "2025-10-26")
	assert.ErrorIs(t, err, availability.ErrNotFound)

	// The day can be authored again once the old one is closed.
	_, err = svc.Create(ctx, availability.ConsultationDay(provider, "2025-10-26"))
	assert.NoError(t, err)
}

func TestPgRepositoryTransitionSlotRace(t *testing.T) {
	svc, repo := newPgService(t)
	ctx := context.Background()
	provider := "dr-" + uuid.NewString()

	_, err := svc.Create(ctx, availability.ConsultationDay(provider, "2025-10-26"))
	require.NoError(t, err)

	const racers = 16
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
			_, err := repo.TransitionSlot(ctx, availability.SlotTransition{
				ProviderID: provider, Date: "2025-10-26", SlotID: "slot_001",
				From: availability.SlotAvailable, To: availability.SlotBooked, AppointmentID: &id, PatientID: "pt-1", At: time.Now(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, availability.ErrTransitionRejected):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, racers-1, refused)

	doc, err := svc.GetByDate(ctx, provider, "2025-10-26")
	require.NoError(t, err)
	ref, ok := doc.FindSlot("slot_001")
	require.True(t, ok)
	assert.Equal(t, availability.SlotBooked, ref.Slot.Status)
	require.NotNil(t, ref.Slot.AppointmentID)
	assert.Equal(t, "pt-1", ref.Slot.PatientID)
}
