package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ConfirmRatio float64
	ReadRatio    float64
	Providers    int
	Patients     int
}

// target is one bookable slot discovered at startup.
type target struct {
	ProviderID string
	Date       string
	SlotID     string
}

type booked struct {
	target
	AppointmentID uuid.UUID
}

type DataPool struct {
	Patients []string
	Targets  []target

	mu     sync.Mutex
	booked []booked
}

func (dp *DataPool) AddBooking(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, b)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return booked{}, false
	}
	return dp.booked[rng.Intn(len(dp.booked))], true
}

// TakeBooking removes and returns a random booking so two workers never
// cancel the same one on purpose.
func (dp *DataPool) TakeBooking(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return booked{}, false
	}
	i := rng.Intn(len(dp.booked))
	b := dp.booked[i]
	dp.booked[i] = dp.booked[len(dp.booked)-1]
	dp.booked = dp.booked[:len(dp.booked)-1]
	return b, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error, want int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status == want:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	i := n * p / 100
	if i >= n {
		i = n - 1
	}
	return i
}

type Metrics struct {
	Booking         OperationMetrics
	Cancel          OperationMetrics
	Confirm         OperationMetrics
	ReadAppointment OperationMetrics
	ListByPatient   OperationMetrics
	Summary         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *zap.Logger
	metrics Metrics
}

func main() {
	log, err := logger.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	log.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("confirm", cfg.ConfirmRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sim.pool, err = sim.loadDataPool(ctx)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	log.Info("data pool loaded",
		zap.Int("patients", len(sim.pool.Patients)),
		zap.Int("slots", len(sim.pool.Targets)),
	)

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		Providers:    getInt("SIM_PROVIDERS", 20),
		Patients:     getInt("SIM_PATIENTS", 500),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Providers <= 0 || cfg.Patients <= 0 {
		return fmt.Errorf("SIM_PROVIDERS and SIM_PATIENTS must be > 0")
	}
	return nil
}

// loadDataPool discovers open slots through the API. Provider and patient ids
// follow the naming used by cmd/seed.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	dp := &DataPool{}
	for i := 1; i <= s.config.Patients; i++ {
		dp.Patients = append(dp.Patients, fmt.Sprintf("pt-%05d", i))
	}

	from := time.Now().Format("2006-01-02")
	for i := 1; i <= s.config.Providers; i++ {
		providerID := fmt.Sprintf("dr-%03d", i)

		var days struct {
			Data []struct {
				Date  string `json:"date"`
				Types []struct {
					Slots []struct {
						SlotID string `json:"slot_id"`
						Status string `json:"status"`
					} `json:"slots"`
				} `json:"types"`
			} `json:"data"`
		}
		u := fmt.Sprintf("%s/providers/%s/availability?start_date=%s", s.config.APIBaseURL, url.PathEscape(providerID), from)
		status, err := s.do(ctx, http.MethodGet, u, nil, &days)
		if err != nil {
			return nil, fmt.Errorf("list availability for %s: %w", providerID, err)
		}
		if status != http.StatusOK {
			s.log.Warn("availability listing failed", zap.String("provider_id", providerID), zap.Int("status", status))
			continue
		}
		for _, d := range days.Data {
			for _, b := range d.Types {
				for _, sl := range b.Slots {
					if sl.Status == "available" {
						dp.Targets = append(dp.Targets, target{ProviderID: providerID, Date: d.Date, SlotID: sl.SlotID})
					}
				}
			}
		}
	}

	if len(dp.Targets) == 0 {
		return nil, fmt.Errorf("no available slots found; run cmd/seed first")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadAppointment(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doSummary(ctx, rng)
			}
		}
	}
}

// doBooking picks slots at random, so workers regularly race for the same
// slot and the loser sees 409.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	var resp struct {
		AppointmentID uuid.UUID `json:"appointment_id"`
	}
	start := time.Now()
	status, err := s.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/providers/%s/availability/%s/book", s.config.APIBaseURL, t.ProviderID, t.Date),
		map[string]string{"slot_id": t.SlotID, "patient_id": patientID},
		&resp)
	s.record(&s.metrics.Booking, start, status, err, http.StatusCreated)

	if err == nil && status == http.StatusCreated && resp.AppointmentID != uuid.Nil {
		s.pool.AddBooking(booked{target: t, AppointmentID: resp.AppointmentID})
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/providers/%s/availability/%s/%s/cancel", s.config.APIBaseURL, b.ProviderID, b.Date, b.SlotID),
		map[string]string{"appointment_id": b.AppointmentID.String(), "cancellation_reason": "simulated"},
		nil)
	s.record(&s.metrics.Cancel, start, status, err, http.StatusOK)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/appointments/%s/confirm", s.config.APIBaseURL, b.AppointmentID), nil, nil)
	s.record(&s.metrics.Confirm, start, status, err, http.StatusOK)
}

func (s *Simulator) doReadAppointment(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, b.AppointmentID), nil, nil)
	s.record(&s.metrics.ReadAppointment, start, status, err, http.StatusOK)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	start := time.Now()
	status, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments?patient_id=%s&limit=20&offset=0", s.config.APIBaseURL, url.QueryEscape(patientID)), nil, nil)
	s.record(&s.metrics.ListByPatient, start, status, err, http.StatusOK)
}

func (s *Simulator) doSummary(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	start := time.Now()
	status, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/providers/%s/availability/%s/summary", s.config.APIBaseURL, t.ProviderID, t.Date), nil, nil)
	s.record(&s.metrics.Summary, start, status, err, http.StatusOK)
}

// record drops calls cut short by the end of the run so they do not show up
// as errors.
func (s *Simulator) record(om *OperationMetrics, start time.Time, status int, err error, want int) {
	if err != nil && ctxDone(err) {
		return
	}
	om.Record(time.Since(start), status, err, want)
}

func ctxDone(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (s *Simulator) do(ctx context.Context, method, u string, body any, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && resp.StatusCode < 300 && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Slots in pool: %d\n", len(s.pool.Targets))
	fmt.Println()

	printOperationReport("Book slot", &s.metrics.Booking)
	printOperationReport("Cancel slot", &s.metrics.Cancel)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read appointment", &s.metrics.ReadAppointment)
	printOperationReport("List by patient", &s.metrics.ListByPatient)
	printOperationReport("Day summary", &s.metrics.Summary)

	// Every slot can be won at most once between cancellations.
	wins := atomic.LoadInt64(&s.metrics.Booking.Success)
	cancels := atomic.LoadInt64(&s.metrics.Cancel.Success)
	fmt.Printf("Net bookings held: %d of %d slots\n", wins-cancels, len(s.pool.Targets))
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
