package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types published on the bus.
const (
	TypeCalendarUpdated = "calendar.updated"
	TypeScheduleUpdated = "schedule.updated"
	TypeChannelState    = "channel.state"
	TypeLogLine         = "log.line"
	TypeRunPlanned      = "run.planned"
	TypeRunDispatched   = "run.dispatched"
	TypeRunSkipped      = "run.skipped"
)

// Event is an in-memory signal between the schedule, calendar, dispatch and
// HTTP layers.
//
// Contract:
//   - Publish never blocks; a send cycle must not stall on a listener.
//   - Subscribers bring buffered channels and may miss events when slow.
//
// Data is JSON-serialized verbatim onto the events stream, so keep it small.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines; delivery
// happens on the publisher's stack.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot first so the lock is not held across channel sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Drop when the subscriber's buffer is full. A concurrent
		// unsubscribe can close the channel under us; the recover absorbs
		// that send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
