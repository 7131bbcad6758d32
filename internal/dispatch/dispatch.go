package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"remindbot/internal/calendar"
	"remindbot/internal/eventbus"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

// State of the dispatch loop. Exposed for status reporting only; transitions
// are owned by the Service.
type State string

const (
	StateIdle      State = "idle"
	StateArmed     State = "armed"
	StateVerifying State = "verifying"
	StateSending   State = "sending"
	StateCooldown  State = "cooldown"
)

// Grace windows around a fire instant. Asymmetric on purpose: a reminder must
// never go out early, but up to five minutes of wake-up lateness still counts
// as the current run. Changing either value requires re-deriving the drift
// checks in runCycle.
const (
	earlyTriggerGrace = 0
	lateTriggerGrace  = 5 * time.Minute
)

const (
	channelRetryDelay = time.Minute
	dispatchBackoff   = 15 * time.Minute
)

// ErrChannelUnavailable marks a cycle that gave up because the delivery
// channel never became ready within the readiness poll.
var ErrChannelUnavailable = errors.New("delivery channel unavailable")

type Config struct {
	Recipients    []string
	Message       string
	MaxRetries    int           // connection readiness checks per cycle
	RetryInterval time.Duration // delay between readiness checks
	IdlePoll      time.Duration // re-check interval when no schedule is active
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Minute
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = time.Hour
	}
	if c.Message == "" {
		c.Message = "Daily reminder"
	}
}

// Snapshot is the externally visible loop state.
type Snapshot struct {
	State        State      `json:"state"`
	NextRun      *time.Time `json:"nextRun,omitempty"`
	FromOverride bool       `json:"fromOverride"`
}

// Service owns the single timer that drives reminder delivery.
//
// At most one pending wake-up exists at any time; arming always cancels the
// previous one first. The wake-up callback and forced re-plans share one
// mutex, so "cancel pending timer, decide the next one" is a single critical
// section. A forced re-plan that arrives while a send cycle is in flight is
// queued and applied after that cycle's own re-plan.
type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	store   *schedule.Store
	cal     *calendar.Service
	channel transport.Channel
	audit   storage.Store

	now func() time.Time

	mu           sync.Mutex
	cfg          Config
	ctx          context.Context
	cancel       context.CancelFunc
	timer        *time.Timer
	state        State
	armed        *schedule.ResolvedRun
	sending      bool
	replanQueued bool
}

func New(cfg Config, store *schedule.Store, cal *calendar.Service, ch transport.Channel, audit storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		bus:     bus,
		store:   store,
		cal:     cal,
		channel: ch,
		audit:   audit,
		now:     time.Now,
		cfg:     cfg,
		state:   StateIdle,
	}
}

// Start plans the first run. The loop keeps itself alive until Stop.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.planLocked(s.now(), "initial")
	return nil
}

// Stop cancels the pending wake-up and any in-flight readiness poll.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancelTimerLocked()
	s.state = StateIdle
	s.armed = nil
}

// Apply swaps runtime configuration and re-plans against it.
func (s *Service) Apply(cfg Config) {
	cfg.applyDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.sending {
		s.replanQueued = true
		return
	}
	if s.ctx != nil {
		s.planLocked(s.now(), "config-updated")
	}
}

// ForceReplan cancels the pending wake-up and re-plans synchronously, so the
// caller observes a fresh plan as soon as this returns. During an in-flight
// send cycle the re-plan is queued instead of pre-empting the dispatch.
func (s *Service) ForceReplan(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return
	}
	if s.sending {
		s.replanQueued = true
		return
	}
	s.planLocked(s.now(), reason)
}

// Status reports the loop state and the armed fire instant, if any.
func (s *Service) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{State: s.state}
	if s.armed != nil {
		t := s.armed.Target
		snap.NextRun = &t
		snap.FromOverride = s.armed.FromOverride()
	}
	return snap
}

// Preview resolves the next run for an arbitrary reference without touching
// the timer. Used by the admin API's next-run preview.
func (s *Service) Preview(reference time.Time) (*schedule.ResolvedRun, error) {
	return s.resolve(reference, 0)
}

func (s *Service) resolve(ref time.Time, grace time.Duration) (*schedule.ResolvedRun, error) {
	doc, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	return schedule.Resolve(doc, ref, grace)
}

func (s *Service) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// planLocked is the Idle -> Armed transition: cancel, resolve, arm once.
func (s *Service) planLocked(reference time.Time, reason string) {
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	s.cancelTimerLocked()
	s.state = StateIdle
	s.armed = nil

	run, err := s.resolve(reference, 0)
	if err != nil {
		retry := s.cfg.RetryInterval
		s.log.Error("planning next run failed, retrying",
			logx.Err(err), logx.String("reason", reason), logx.Duration("retry_in", retry))
		s.timer = time.AfterFunc(retry, func() { s.planFrom(s.now(), "schedule-retry") })
		return
	}
	if run == nil {
		s.log.Info("no active schedule, checking again later",
			logx.Public(), logx.Duration("recheck_in", s.cfg.IdlePoll), logx.String("reason", reason))
		s.timer = time.AfterFunc(s.cfg.IdlePoll, func() { s.planFrom(s.now(), "idle-check") })
		return
	}

	delay := run.Target.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	source := "daily schedule"
	if run.FromOverride() {
		source = "manual override"
	}
	s.log.Info("next send planned",
		logx.Public(),
		logx.Time("target", run.Target),
		logx.String("source", source),
		logx.String("reason", reason),
		logx.Duration("delay", delay))
	s.publish(eventbus.TypeRunPlanned, map[string]any{
		"target": run.Target, "override": run.FromOverride(), "reason": reason,
	})

	s.armed = run
	s.state = StateArmed
	s.timer = time.AfterFunc(delay, func() { s.runCycle(run) })
}

func (s *Service) planFrom(reference time.Time, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planLocked(reference, reason)
}

// runCycle is the timer callback: verify the armed instant still holds, then
// dispatch or re-arm.
func (s *Service) runCycle(armed *schedule.ResolvedRun) {
	s.mu.Lock()
	if s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.state = StateVerifying
	s.mu.Unlock()

	run := armed
	now := s.now()

	verified, err := s.resolve(now, lateTriggerGrace)
	switch {
	case err != nil:
		// Verification is best-effort: fall through with the armed plan.
		s.log.Warn("verification before send failed, using armed plan", logx.Err(err))
	case verified == nil:
		s.log.Info("armed run no longer exists, re-planning", logx.Public())
		s.planFrom(s.now(), "verification-missing")
		return
	default:
		drift := verified.Target.Sub(armed.Target)
		if drift != earlyTriggerGrace {
			if delay := verified.Target.Sub(now); delay > earlyTriggerGrace {
				s.log.Info("schedule changed while waiting, following new target",
					logx.Public(), logx.Time("target", verified.Target), logx.Duration("delay", delay))
				s.rearm(verified, delay)
				return
			}
		}
		run = verified
	}

	diff := run.Target.Sub(s.now())
	if diff > earlyTriggerGrace {
		// Spurious early wakeup: sleep out the remainder.
		s.log.Debug("woke up early, re-arming", logx.Duration("remaining", diff))
		s.rearm(run, diff)
		return
	}
	if diff < -lateTriggerGrace {
		s.log.Warn("missed the slot, looking for the next one",
			logx.Public(), logx.Time("target", run.Target), logx.Duration("late_by", -diff))
		s.planFrom(s.now(), "late-drift")
		return
	}

	s.mu.Lock()
	if s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.state = StateSending
	s.sending = true
	cfg := s.cfg
	ctx := s.ctx
	s.mu.Unlock()

	ref, reason := s.dispatch(ctx, cfg, run)

	s.mu.Lock()
	s.sending = false
	s.state = StateCooldown
	queued := s.replanQueued
	s.replanQueued = false
	s.planLocked(ref, reason)
	if queued {
		s.planLocked(s.now(), "queued-replan")
	}
	s.mu.Unlock()
}

func (s *Service) rearm(run *schedule.ResolvedRun, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	s.cancelTimerLocked()
	s.armed = run
	s.state = StateArmed
	s.timer = time.AfterFunc(delay, func() { s.runCycle(run) })
}

// dispatch performs one send cycle and returns the reference instant and
// reason for the follow-up plan. It never runs under the mutex: the readiness
// poll blocks for up to MaxRetries * RetryInterval.
func (s *Service) dispatch(ctx context.Context, cfg Config, run *schedule.ResolvedRun) (time.Time, string) {
	target := run.Target

	if !run.FromOverride() && !s.cal.IsWorkday(target) {
		s.log.Info("not a workday, skipping send",
			logx.Public(), logx.String("date", schedule.DateKey(target)))
		s.recordAudit(storage.AuditEntry{
			Action: storage.ActionRunSkipped, Actor: "scheduler",
			Target: schedule.DateKey(target), OK: true, MetaJSON: `{"reason":"non-workday"}`,
		})
		s.publish(eventbus.TypeRunSkipped, map[string]any{"target": target, "reason": "non-workday"})
		return target.AddDate(0, 0, 1), "non-workday"
	}

	state := s.waitForChannel(ctx, cfg)
	if !state.Ready() {
		err := fmt.Errorf("%w: %s", ErrChannelUnavailable, state)
		s.log.Warn("channel not ready after retries, re-planning",
			logx.Err(err), logx.Int("attempts", cfg.MaxRetries))
		s.log.Info("could not send, retrying", logx.Public())
		s.recordAudit(storage.AuditEntry{
			Action: storage.ActionRunFailed, Actor: "scheduler",
			Target: schedule.DateKey(target), Error: err.Error(),
		})
		return target.Add(channelRetryDelay), "channel-unavailable"
	}

	started := s.now()
	if err := s.channel.SendToAll(ctx, cfg.Recipients, cfg.Message); err != nil {
		s.log.Error("send failed", logx.Err(err), logx.Int("recipients", len(cfg.Recipients)))
		s.log.Info("could not send, retrying", logx.Public())
		s.recordAudit(storage.AuditEntry{
			Action: storage.ActionRunFailed, Actor: "scheduler",
			Target: schedule.DateKey(target), Error: err.Error(),
			TookMS: s.now().Sub(started).Milliseconds(),
		})
		return s.now().Add(dispatchBackoff), "dispatch-error"
	}

	if run.FromOverride() {
		if err := s.store.ConsumeOverride(run.Override.Date); err != nil {
			s.log.Warn("marking override consumed failed", logx.Err(err), logx.String("date", run.Override.Date))
		}
	}

	meta, _ := json.Marshal(map[string]any{"recipients": len(cfg.Recipients), "override": run.FromOverride()})
	s.recordAudit(storage.AuditEntry{
		Action: storage.ActionRunDispatched, Actor: "scheduler",
		Target: schedule.DateKey(target), OK: true,
		TookMS: s.now().Sub(started).Milliseconds(), MetaJSON: string(meta),
	})
	s.publish(eventbus.TypeRunDispatched, map[string]any{"target": target, "override": run.FromOverride()})
	s.log.Info("reminder delivered", logx.Public(),
		logx.String("date", schedule.DateKey(target)), logx.Int("recipients", len(cfg.Recipients)))

	return target.Add(time.Minute), "completed"
}

// waitForChannel polls connection readiness with bounded attempts. The delay
// between attempts is interruptible by Stop.
func (s *Service) waitForChannel(ctx context.Context, cfg Config) transport.ConnState {
	var state transport.ConnState
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		state = s.channel.State(ctx)
		if state.Ready() {
			return state
		}
		s.log.Warn("channel not ready",
			logx.String("state", string(state)),
			logx.Int("attempt", attempt+1),
			logx.Duration("retry_in", cfg.RetryInterval))
		select {
		case <-ctx.Done():
			return state
		case <-time.After(cfg.RetryInterval):
		}
	}
	return state
}

func (s *Service) recordAudit(e storage.AuditEntry) {
	if s.audit == nil {
		return
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.audit.AppendAudit(ctx, e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
