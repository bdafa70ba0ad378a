// Package reminder runs the periodic sweep that sends one reminder per
// upcoming appointment.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const sweepLockName = "reminder-sweep"

var (
	ErrSweepInProgress = fmt.Errorf("%w: reminder sweep already in progress", apperr.ErrConflict)
	ErrAlreadyRunning  = fmt.Errorf("%w: scheduler is not stopped", apperr.ErrConflict)
	ErrNotRunning      = fmt.Errorf("%w: scheduler is not running", apperr.ErrConflict)

	errAlreadyMarked = errors.New("reminder already marked")
)

type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Registry is the part of the appointment registry a sweep needs.
type Registry interface {
	FindDueForReminder(ctx context.Context, windowStart, windowEnd, now time.Time) iter.Seq2[appointment.Appointment, error]
	MarkReminderSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error)
}

// Contacts resolves the names and addresses a reminder is rendered with.
type Contacts interface {
	GetPatient(ctx context.Context, id string) (*directory.Patient, error)
	GetProvider(ctx context.Context, id string) (*directory.Provider, error)
}

// Locker serialises sweeps across processes.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type Config struct {
	HoursBefore     int `json:"reminder_hours_before" validate:"required,min=1,max=720"`
	IntervalMinutes int `json:"check_interval_minutes" validate:"required,min=1,max=1440"`
}

func (c Config) validate() error {
	if c.HoursBefore <= 0 {
		return apperr.Validation("reminder_hours_before must be > 0")
	}
	if c.IntervalMinutes <= 0 {
		return apperr.Validation("check_interval_minutes must be > 0")
	}
	return nil
}

type Options struct {
	Config          Config
	DispatchTimeout time.Duration
	SweepTimeout    time.Duration
	Location        *time.Location
	// Locker is optional. Without it only in-process sweeps are serialised.
	Locker Locker
}

type SweepReport struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Due         int       `json:"due"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	AlreadySent int       `json:"already_sent"`
	// Skipped is set when another process held the sweep lock.
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Status struct {
	State     State        `json:"state"`
	Config    Config       `json:"config"`
	NextRunAt *time.Time   `json:"next_run_at,omitempty"`
	LastSweep *SweepReport `json:"last_sweep,omitempty"`
}

// Scheduler runs sweeps from a cron with a single entry. Each activation
// schedules the next one with the interval configured at that moment.
type Scheduler struct {
	registry   Registry
	contacts   Contacts
	dispatcher notify.Dispatcher
	locker     Locker
	log        *zap.Logger
	loc        *time.Location

	dispatchTimeout time.Duration
	sweepTimeout    time.Duration

	now    func() time.Time
	minute time.Duration

	// intervalMinutes mirrors cfg.IntervalMinutes for the cron goroutine.
	intervalMinutes atomic.Int64

	mu    sync.Mutex
	state State
	cfg   Config
	last  *SweepReport
	cron  *cron.Cron
	entry cron.EntryID
	stop  chan struct{}

	// sweepMu is held for the whole of a sweep, scheduled or manual.
	sweepMu sync.Mutex
}

func NewScheduler(registry Registry, contacts Contacts, dispatcher notify.Dispatcher, opts Options, log *zap.Logger) (*Scheduler, error) {
	if err := opts.Config.validate(); err != nil {
		return nil, err
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 10 * time.Second
	}
	if opts.SweepTimeout <= 0 {
		opts.SweepTimeout = 5 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	s := &Scheduler{
		registry:        registry,
		contacts:        contacts,
		dispatcher:      dispatcher,
		locker:          opts.Locker,
		log:             log,
		loc:             opts.Location,
		dispatchTimeout: opts.DispatchTimeout,
		sweepTimeout:    opts.SweepTimeout,
		now:             time.Now,
		minute:          time.Minute,
		state:           StateStopped,
		cfg:             opts.Config,
	}
	s.intervalMinutes.Store(int64(opts.Config.IntervalMinutes))
	return s, nil
}

// intervalSchedule fires one interval after the previous activation. The
// interval is read on every call, so a new config applies from the next tick.
type intervalSchedule struct {
	s *Scheduler
}

func (i intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(i.s.interval())
}

func (s *Scheduler) interval() time.Duration {
	return time.Duration(s.intervalMinutes.Load()) * s.minute
}

// cronLogger routes cron's own messages into zap.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Start schedules sweeps until Stop is called or ctx is done. An in-flight
// sweep is not cut short by either.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return ErrAlreadyRunning
	}
	s.state = StateStarting

	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	sweepCtx := context.WithoutCancel(ctx)
	s.entry = c.Schedule(intervalSchedule{s: s}, cron.FuncJob(func() { s.tick(sweepCtx) }))
	s.cron = c
	s.stop = make(chan struct{})
	c.Start()
	s.state = StateRunning

	go s.watch(ctx, c, s.stop)

	s.log.Info("reminder scheduler started",
		zap.Int("hours_before", s.cfg.HoursBefore),
		zap.Int("interval_minutes", s.cfg.IntervalMinutes),
	)
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.sweepMu.TryLock() {
		s.log.Info("reminder tick skipped, manual sweep in progress")
		return
	}
	defer s.sweepMu.Unlock()
	s.sweep(ctx)
}

// watch stops c when ctx ends before Stop is called.
func (s *Scheduler) watch(ctx context.Context, c *cron.Cron, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	case <-ctx.Done():
	}

	s.mu.Lock()
	if s.state != StateRunning || s.cron != c {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	<-c.Stop().Done()
	s.halted()
}

// Stop prevents further ticks and waits for a running scheduled sweep to
// finish, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateStopping
	close(s.stop)
	c := s.cron
	s.mu.Unlock()

	var err error
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		err = fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
	s.halted()
	return err
}

func (s *Scheduler) halted() {
	s.mu.Lock()
	s.state = StateStopped
	s.cron = nil
	s.mu.Unlock()
	s.log.Info("reminder scheduler stopped")
}

// TriggerNow runs a sweep on the caller's goroutine. It fails with
// ErrSweepInProgress instead of waiting when a sweep is already running.
func (s *Scheduler) TriggerNow(ctx context.Context) (*SweepReport, error) {
	if !s.sweepMu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.sweepMu.Unlock()
	return s.sweep(ctx), nil
}

func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	st := Status{State: s.state, Config: s.cfg}
	if s.last != nil {
		last := *s.last
		st.LastSweep = &last
	}
	c, id := s.cron, s.entry
	running := s.state == StateRunning
	s.mu.Unlock()

	// Entry talks to the cron goroutine, so it is called without s.mu held.
	if running && c != nil {
		if next := c.Entry(id).Next; !next.IsZero() {
			st.NextRunAt = &next
		}
	}
	return st
}

func (s *Scheduler) GetConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the configuration. The tick already scheduled keeps its
// time; the one after it uses the new interval.
func (s *Scheduler) SetConfig(c Config) (Config, error) {
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	s.mu.Lock()
	s.cfg = c
	s.intervalMinutes.Store(int64(c.IntervalMinutes))
	s.mu.Unlock()

	s.log.Info("reminder scheduler reconfigured",
		zap.Int("hours_before", c.HoursBefore),
		zap.Int("interval_minutes", c.IntervalMinutes),
	)
	return c, nil
}

// sweep must be called with sweepMu held.
func (s *Scheduler) sweep(ctx context.Context) *SweepReport {
	cfg := s.GetConfig()
	rep := &SweepReport{StartedAt: s.now().UTC()}

	ctx, cancel := context.WithTimeout(ctx, s.sweepTimeout)
	defer cancel()

	run := func(ctx context.Context) error { return s.process(ctx, cfg, rep) }

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, sweepLockName, run)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			rep.Skipped = true
			err = nil
		}
	} else {
		err = run(ctx)
	}

	rep.FinishedAt = s.now().UTC()
	fields := []zap.Field{
		zap.Int("due", rep.Due),
		zap.Int("sent", rep.Sent),
		zap.Int("failed", rep.Failed),
		zap.Int("already_sent", rep.AlreadySent),
		zap.Bool("skipped", rep.Skipped),
		zap.Duration("duration", rep.FinishedAt.Sub(rep.StartedAt)),
	}
	if err != nil {
		rep.Error = err.Error()
		s.log.Error("reminder sweep aborted", append(fields, zap.Error(err))...)
	} else {
		s.log.Info("reminder sweep finished", fields...)
	}

	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()

	out := *rep
	return &out
}

func (s *Scheduler) process(ctx context.Context, cfg Config, rep *SweepReport) error {
	now := s.now()
	windowEnd := now.Add(time.Duration(cfg.HoursBefore) * time.Hour)

	for a, err := range s.registry.FindDueForReminder(ctx, now, windowEnd, now) {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rep.Due++

		err := s.remind(ctx, a)
		switch {
		case err == nil:
			rep.Sent++
		case errors.Is(err, errAlreadyMarked):
			rep.AlreadySent++
		default:
			rep.Failed++
			s.log.Warn("reminder not sent",
				zap.String("appointment_id", a.ID.String()),
				zap.String("patient_id", a.PatientID),
				zap.Time("scheduled_at", a.ScheduledAt),
				zap.Error(err),
			)
		}
	}
	return nil
}

// remind dispatches and then marks one appointment. A failed dispatch leaves
// the appointment unmarked so the next sweep retries it.
func (s *Scheduler) remind(ctx context.Context, a appointment.Appointment) error {
	patient, provider, err := s.lookup(ctx, a)
	if err != nil {
		return err
	}
	msg := Render(a, patient, provider, s.loc)

	dctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	err = s.dispatcher.Send(dctx, msg)
	cancel()
	if err != nil {
		if !errors.Is(err, apperr.ErrDispatch) {
			err = apperr.Dispatch(err)
		}
		return err
	}

	marked, err := s.registry.MarkReminderSent(ctx, a.ID, s.now())
	if err != nil {
		return fmt.Errorf("reminder sent but not recorded: %w", err)
	}
	if !marked {
		return errAlreadyMarked
	}
	return nil
}

func (s *Scheduler) lookup(ctx context.Context, a appointment.Appointment) (*directory.Patient, *directory.Provider, error) {
	if s.contacts == nil {
		return nil, nil, nil
	}
	patient, err := s.contacts.GetPatient(ctx, a.PatientID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, err
	}
	provider, err := s.contacts.GetProvider(ctx, a.ProviderID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, err
	}
	return patient, provider, nil
}
