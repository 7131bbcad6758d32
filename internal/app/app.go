// Package app wires the services together and owns their lifecycle.
package app

import (
	"context"
	"sync"
	"time"

	"remindbot/internal/calendar"
	"remindbot/internal/config"
	"remindbot/internal/dispatch"
	"remindbot/internal/eventbus"
	"remindbot/internal/httpapi"
	"remindbot/internal/maintenance"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	"remindbot/internal/transport/telegram"
	"remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *schedule.Store
	cal   *calendar.Service
	audit storage.Store

	channel    *telegram.Channel
	dispatcher *dispatch.Service
	maint      *maintenance.Service
	api        *httpapi.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(c *config.Config) error { return c.Validate() })

	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()
	bridgeFeedToBus(logSvc.FeedSink(), bus)

	var audit storage.Store
	if cfg.Storage != nil {
		sc, err := mapStorageConfig(cfg.Storage)
		if err != nil {
			return nil, err
		}
		audit, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if audit != nil {
			log.Info("audit storage enabled", logx.String("driver", sc.Driver))
		}
	}

	store := schedule.NewStore(schedulePath(cfg), mapFactory(cfg.Schedule.Factory),
		log.With(logx.String("comp", "schedule")))
	cal := calendar.New(calendarPath(cfg), log.With(logx.String("comp", "calendar")), bus)

	ch, err := telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := dispatch.New(dc, store, cal, ch, audit, bus,
		logSvc.Logger().With(logx.String("comp", "dispatch")))

	maint := maintenance.New(mapMaintenanceConfig(cfg.Maintenance), store, dispatcher, ch, bus,
		logSvc.Logger().With(logx.String("comp", "maintenance")))

	var api *httpapi.Server
	if cfg.Admin != nil && cfg.Admin.Enabled {
		ac, err := mapAdminConfig(cfg.Admin)
		if err != nil {
			return nil, err
		}
		api = httpapi.New(ac, store, cal, dispatcher, ch, audit, logSvc.FeedSink(), maint, bus,
			log.With(logx.String("comp", "api")))
	}

	return &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		cal:        cal,
		audit:      audit,
		channel:    ch,
		dispatcher: dispatcher,
		maint:      maint,
		api:        api,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.dispatcher.Start(ctx); err != nil {
		return err
	}
	if err := a.maint.Start(); err != nil {
		return err
	}
	if a.api != nil {
		a.api.Start()
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.applyLoop(ctx)
	}()

	a.log.Info("remindbot started", logx.Public())
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.maint.Stop()
	a.dispatcher.Stop()
	if a.api != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = a.api.Shutdown(sctx)
		cancel()
	}
	a.wg.Wait()
	if a.audit != nil {
		_ = a.audit.Close()
	}
	a.log.Info("remindbot stopped")
	_ = a.logs.Close()
	return nil
}

// bridgeFeedToBus forwards rendered feed lines onto the event bus so live
// consumers (the events stream) see them. The feed's own fanout limiter
// bounds the rate.
func bridgeFeedToBus(feed *logx.Feed, bus eventbus.Bus) {
	if feed == nil || bus == nil {
		return
	}
	feed.OnLine(func(line logx.FeedLine) {
		bus.Publish(eventbus.Event{Type: eventbus.TypeLogLine, Data: line})
	})
}

// applyLoop pushes hot-reloaded config into the running services. The
// Telegram token and the admin listener are boot-time only; everything else
// follows the file.
func (a *App) applyLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(mapLoggingConfig(cfg.Logging))

			dc, err := mapDispatchConfig(cfg)
			if err != nil {
				a.log.Warn("dispatch config not applied", logx.Err(err))
			} else {
				a.dispatcher.Apply(dc)
			}

			if err := a.maint.Apply(mapMaintenanceConfig(cfg.Maintenance)); err != nil {
				a.log.Warn("maintenance config not applied", logx.Err(err))
			}
			a.log.Info("configuration applied", logx.Public())
		}
	}
}
