package stream

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type buffer struct {
	mu      sync.Mutex
	events  []Event
	done    bool
	changed chan struct{}
}

// notify wakes every waiter. Callers hold mu.
func (b *buffer) notify() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// MemoryBroker buffers streams in process memory. Completed buffers are
// dropped after ttl.
type MemoryBroker struct {
	mu      sync.Mutex
	streams map[string]*buffer
	ttl     time.Duration
	timers  map[string]*time.Timer
	closed  bool
}

var _ Broker = (*MemoryBroker)(nil)

func NewMemoryBroker(ttl time.Duration) *MemoryBroker {
	return &MemoryBroker{
		streams: map[string]*buffer{},
		timers:  map[string]*time.Timer{},
		ttl:     ttl,
	}
}

func (m *MemoryBroker) get(streamID string) *buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[streamID]
}

func (m *MemoryBroker) Open(_ context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[streamID]; ok {
		return ErrStreamExists
	}
	m.streams[streamID] = &buffer{changed: make(chan struct{})}
	return nil
}

func (m *MemoryBroker) Append(_ context.Context, streamID string, ev Event) error {
	b := m.get(streamID)
	if b == nil {
		return ErrNoStream
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	ev.ID = strconv.Itoa(len(b.events) + 1)
	b.events = append(b.events, ev)
	b.notify()
	return nil
}

func (m *MemoryBroker) Complete(_ context.Context, streamID string) error {
	b := m.get(streamID)
	if b == nil {
		return ErrNoStream
	}
	b.mu.Lock()
	if !b.done {
		b.done = true
		b.notify()
	}
	b.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.ttl <= 0 {
		return nil
	}
	m.timers[streamID] = time.AfterFunc(m.ttl, func() { m.expire(streamID) })
	return nil
}

func (m *MemoryBroker) expire(streamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, streamID)
	delete(m.timers, streamID)
}

func (m *MemoryBroker) Subscribe(ctx context.Context, streamID string) (<-chan Event, bool, error) {
	b := m.get(streamID)
	if b == nil {
		return nil, false, nil
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		next := 0
		for {
			b.mu.Lock()
			pending := b.events[next:]
			done := b.done
			changed := b.changed
			b.mu.Unlock()

			for _, ev := range pending {
				select {
				case out <- ev:
					next++
				case <-ctx.Done():
					return
				}
			}
			if len(pending) > 0 {
				continue
			}
			if done {
				return
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, true, nil
}

// Close stops pending expiry timers. Buffers stay readable.
func (m *MemoryBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	return nil
}
