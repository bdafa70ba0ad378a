// Package bootstrap builds the stores, services and scheduler described by a
// Config. Every command starts from an App.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type App struct {
	Config config.Config
	Log    *zap.Logger

	Availability *availability.Service
	Appointments *appointment.Service
	Directory    directory.Repository
	Booking      *booking.Service
	Scheduler    *reminder.Scheduler

	// Checks is keyed by dependency name for readiness probes.
	Checks map[string]Check

	closers []func(context.Context) error
}

type stores struct {
	availability availability.Repository
	appointments appointment.Repository
	directory    directory.Repository
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log, Checks: make(map[string]Check)}

	st, err := app.openStores(ctx)
	if err != nil {
		app.Close(context.Background())
		return nil, err
	}

	var locker reminder.Locker
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			app.Close(context.Background())
			return nil, err
		}
		app.closers = append(app.closers, func(context.Context) error { return rdb.Close() })
		app.Checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		locker = redisclient.NewLocker(rdb, cfg.LockTTL)
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	dispatcher, err := app.openDispatcher()
	if err != nil {
		app.Close(context.Background())
		return nil, err
	}

	app.Directory = st.directory
	app.Availability = availability.NewService(st.availability, log.Named("availability"))
	app.Appointments = appointment.NewService(st.appointments, log.Named("appointment"))

	alloc := booking.NewAllocator(st.availability, booking.CancelPolicy(cfg.SlotCancelPolicy), log.Named("allocator"))
	app.Booking = booking.NewService(alloc, st.availability, app.Appointments, st.directory, cfg.Location, log.Named("booking"))

	opts := reminder.Options{
		Config: reminder.Config{
			HoursBefore:     cfg.ReminderHoursBefore,
			IntervalMinutes: int(cfg.CheckInterval / time.Minute),
		},
		DispatchTimeout: cfg.DispatchTimeout,
		SweepTimeout:    cfg.SweepTimeout,
		Location:        cfg.Location,
		Locker:          locker,
	}
	app.Scheduler, err = reminder.NewScheduler(app.Appointments, st.directory, dispatcher, opts, log.Named("reminder"))
	if err != nil {
		app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) openStores(ctx context.Context) (stores, error) {
	switch a.Config.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.ConnectPostgres(ctx, a.Config.PostgresDSN)
		if err != nil {
			return stores{}, err
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		if err := db.Migrate(ctx, pool); err != nil {
			return stores{}, err
		}
		a.Checks["postgres"] = pool.Ping
		a.Log.Info("connected to postgres")
		return stores{
			availability: availability.NewPgRepository(pool),
			appointments: appointment.NewPgRepository(pool),
			directory:    directory.NewPgRepository(pool),
		}, nil

	case config.DriverMongo:
		client, err := db.ConnectMongo(ctx, a.Config.MongoURI)
		if err != nil {
			return stores{}, err
		}
		a.closers = append(a.closers, client.Disconnect)
		database := client.Database(a.Config.MongoDatabase)
		if err := db.EnsureIndexes(ctx, database); err != nil {
			return stores{}, err
		}
		avail := availability.NewMongoRepository(database)
		a.Checks["mongo"] = avail.Ping
		a.Log.Info("connected to mongo", zap.String("database", a.Config.MongoDatabase))
		return stores{
			availability: avail,
			appointments: appointment.NewMongoRepository(database),
			directory:    directory.NewMongoRepository(database),
		}, nil

	case config.DriverMemory:
		a.Log.Warn("using in-memory store, data is lost on exit")
		return stores{
			availability: availability.NewMemoryRepository(),
			appointments: appointment.NewMemoryRepository(),
			directory:    directory.NewMemoryRepository(),
		}, nil
	}
	return stores{}, fmt.Errorf("unknown store driver %q", a.Config.StoreDriver)
}

func (a *App) openDispatcher() (notify.Dispatcher, error) {
	switch a.Config.NotifyDriver {
	case config.NotifySMTP:
		return notify.NewSMTPDispatcher(notify.SMTPConfig{
			Host:     a.Config.SMTPHost,
			Port:     a.Config.SMTPPort,
			Username: a.Config.SMTPUsername,
			Password: a.Config.SMTPPassword,
			Sender:   a.Config.SMTPSender,
		}), nil
	case config.NotifyAMQP:
		d, err := notify.NewAMQPDispatcher(a.Config.AMQPURL, a.Config.AMQPQueue)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return d.Close() })
		a.Checks["amqp"] = func(context.Context) error { return d.Ping() }
		return d, nil
	}
	return notify.NewLogDispatcher(a.Log.Named("notify")), nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
