package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/bootstrap"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/logger"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seedConfig struct {
	Providers int
	Patients  int
	Days      int
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	sc := seedConfig{
		Providers: envInt("SEED_PROVIDERS", 20),
		Patients:  envInt("SEED_PATIENTS", 500),
		Days:      envInt("SEED_DAYS", 7),
	}
	log.Info("seed starting",
		zap.String("store", cfg.StoreDriver),
		zap.Int("providers", sc.Providers),
		zap.Int("patients", sc.Patients),
		zap.Int("days", sc.Days),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap", zap.Error(err))
	}
	defer app.Close(context.Background())

	gofakeit.Seed(time.Now().UnixNano())

	providers, err := seedProviders(ctx, app.Directory, sc.Providers)
	if err != nil {
		log.Fatal("seed providers", zap.Error(err))
	}
	if err := seedPatients(ctx, app.Directory, sc.Patients); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}
	created, err := seedAvailability(ctx, app.Availability, providers, sc.Days, cfg.Location, log)
	if err != nil {
		log.Fatal("seed availability", zap.Error(err))
	}

	log.Info("seed complete", zap.Int("availability_days", created))
}

func seedProviders(ctx context.Context, dir directory.Repository, count int) ([]string, error) {
	ids := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		specialty := gofakeit.RandomString(specialties)
		email := gofakeit.Email()
		p := &directory.Provider{
			ID:        fmt.Sprintf("dr-%03d", i),
			Name:      "Dr. " + gofakeit.LastName(),
			Specialty: &specialty,
			Email:     &email,
		}
		if err := dir.UpsertProvider(ctx, p); err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.ID, err)
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func seedPatients(ctx context.Context, dir directory.Repository, count int) error {
	for i := 1; i <= count; i++ {
		p := &directory.Patient{
			ID:   fmt.Sprintf("pt-%05d", i),
			Name: gofakeit.Name(),
		}
		// Some patients have no contact details on file.
		if gofakeit.Number(1, 10) > 1 {
			email := gofakeit.Email()
			p.Email = &email
		}
		if gofakeit.Bool() {
			phone := gofakeit.Phone()
			p.Phone = &phone
		}
		if err := dir.UpsertPatient(ctx, p); err != nil {
			return fmt.Errorf("patient %s: %w", p.ID, err)
		}
	}
	return nil
}

func seedAvailability(ctx context.Context, svc *availability.Service, providers []string, days int, loc *time.Location, log *zap.Logger) (int, error) {
	today := time.Now().In(loc)
	created := 0
	for _, providerID := range providers {
		for d := 1; d <= days; d++ {
			day := today.AddDate(0, 0, d)
			if day.Weekday() == time.Sunday {
				continue
			}
			doc := fakeDay(providerID, day.Format(availability.DateLayout))
			if _, err := svc.Create(ctx, doc); err != nil {
				if errors.Is(err, apperr.ErrConflict) {
					log.Debug("availability already exists",
						zap.String("provider_id", providerID),
						zap.String("date", doc.Date),
					)
					continue
				}
				return created, fmt.Errorf("availability %s %s: %w", providerID, doc.Date, err)
			}
			created++
		}
	}
	return created, nil
}

// fakeDay builds a working day with a lunch break and one or two buckets.
// Slots are generated from the work hours.
func fakeDay(providerID, date string) *availability.Document {
	start := gofakeit.Number(8, 10)
	end := gofakeit.Number(16, 18)
	consultation := availability.ConsultationInPerson
	if gofakeit.Bool() {
		consultation = availability.ConsultationOnline
	}

	types := []availability.TypeBucket{{
		Type:         "Consultation",
		DurationMins: gofakeit.RandomInt([]int{15, 20, 30}),
		Price:        float64(gofakeit.Number(40, 120)),
	}}
	if gofakeit.Bool() {
		types = append(types, availability.TypeBucket{
			Type:         "Follow-up",
			DurationMins: 15,
			Price:        float64(gofakeit.Number(20, 60)),
		})
	}

	return &availability.Document{
		ProviderID: providerID,
		Date:       date,
		WorkHours: availability.WorkHours{
			StartTime: fmt.Sprintf("%02d:00", start),
			EndTime:   fmt.Sprintf("%02d:00", end),
		},
		ConsultationType: consultation,
		Types:            types,
		Breaks: []availability.BreakWindow{{
			StartTime: "12:00",
			EndTime:   "13:00",
			Type:      "Lunch",
			IsBlocked: true,
		}},
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
