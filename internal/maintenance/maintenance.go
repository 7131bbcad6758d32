// Package maintenance runs the background housekeeping jobs: a periodic
// heartbeat line for both log audiences and a nightly persist of the
// override prune.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/dispatch"
	"remindbot/internal/eventbus"
	"remindbot/internal/schedule"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type Config struct {
	// Cron specs (standard 5-field). Empty disables the job.
	HeartbeatSpec string
	PruneSpec     string
}

func (c *Config) applyDefaults() {
	if c.HeartbeatSpec == "" {
		c.HeartbeatSpec = "0 * * * *"
	}
	if c.PruneSpec == "" {
		c.PruneSpec = "15 0 * * *"
	}
}

type Service struct {
	log        logx.Logger
	store      *schedule.Store
	dispatcher *dispatch.Service
	channel    transport.Channel
	bus        eventbus.Bus

	mu       sync.Mutex
	cfg      Config
	cron     *cron.Cron
	lastBeat time.Time
}

func New(cfg Config, store *schedule.Store, d *dispatch.Service, ch transport.Channel, bus eventbus.Bus, log logx.Logger) *Service {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, store: store, dispatcher: d, channel: ch, bus: bus, cfg: cfg}
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Service) startLocked() error {
	c := cron.New()
	if s.cfg.HeartbeatSpec != "" {
		if _, err := c.AddFunc(s.cfg.HeartbeatSpec, s.heartbeat); err != nil {
			return err
		}
	}
	if s.cfg.PruneSpec != "" {
		if _, err := c.AddFunc(s.cfg.PruneSpec, s.persistPrune); err != nil {
			return err
		}
	}
	c.Start()
	s.cron = c
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	s.cron = nil
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		s.log.Warn("maintenance jobs did not drain in time")
	}
}

// Apply swaps the cron specs at runtime.
func (s *Service) Apply(cfg Config) error {
	cfg.applyDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg && s.cron != nil {
		return nil
	}
	s.cfg = cfg
	if s.cron == nil {
		return nil
	}
	s.stopLocked()
	return s.startLocked()
}

// LastHeartbeat reports when the previous heartbeat tick ran. Zero until the
// first tick.
func (s *Service) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBeat
}

// heartbeat writes one status line per tick. The public line is a plain
// liveness signal; the admin line carries channel and timer detail.
func (s *Service) heartbeat() {
	s.mu.Lock()
	s.lastBeat = time.Now()
	s.mu.Unlock()

	fields := []logx.Field{logx.Public()}
	if s.channel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		state := s.channel.State(ctx)
		cancel()
		fields = append(fields, logx.String("channel", string(state)))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeChannelState, Data: string(state)})
		}
	}
	if s.dispatcher != nil {
		snap := s.dispatcher.Status()
		fields = append(fields, logx.String("state", string(snap.State)))
		if snap.NextRun != nil {
			fields = append(fields, logx.Time("next_run", *snap.NextRun))
		}
	}
	s.log.Info("service heartbeat", fields...)
}

// persistPrune rewrites the schedule document so the retention prune that
// reads apply in memory also lands on disk once a day.
func (s *Service) persistPrune() {
	doc, err := s.store.Read()
	if err != nil {
		s.log.Warn("nightly prune read failed", logx.Err(err))
		return
	}
	if _, err := s.store.Write(doc); err != nil {
		s.log.Warn("nightly prune write failed", logx.Err(err))
		return
	}
	s.log.Debug("nightly schedule prune persisted", logx.Int("overrides", len(doc.ManualOverrides)))
}
