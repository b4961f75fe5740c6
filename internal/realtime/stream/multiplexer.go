package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// Producer drives one generation, calling emit for every event it wants
// delivered. ctx is detached from the request that started it.
type Producer func(ctx context.Context, emit func(Event))

// Subscription is one consumer's read-only view of a stream.
type Subscription struct {
	Events <-chan Event
	// Resumable is false when the stream lives only in this request.
	Resumable bool
	cancel    context.CancelFunc
}

// Close detaches the consumer. The producer keeps running.
func (s *Subscription) Close() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

type Multiplexer struct {
	log     *logger.Logger
	broker  Broker
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewMultiplexer accepts a nil broker, in which case every stream is served
// only to the request that started it.
func NewMultiplexer(log *logger.Logger, broker Broker, generationTimeout time.Duration) *Multiplexer {
	if generationTimeout <= 0 {
		generationTimeout = 5 * time.Minute
	}
	return &Multiplexer{
		log:     log.With("service", "Multiplexer"),
		broker:  broker,
		timeout: generationTimeout,
	}
}

func (m *Multiplexer) Resumable() bool { return m.broker != nil }

// Start registers produce as the only producer of streamID, runs it in a
// detached goroutine bounded by the generation timeout and returns the
// originating subscription.
func (m *Multiplexer) Start(ctx context.Context, streamID string, produce Producer) (*Subscription, error) {
	if produce == nil {
		return nil, fmt.Errorf("producer required")
	}
	shared := m.broker
	if shared != nil {
		if err := shared.Open(ctx, streamID); err != nil {
			if errors.Is(err, ErrStreamExists) {
				return nil, err
			}
			m.log.Warn("broker unavailable, serving stream without resume", "stream_id", streamID, "error", err)
			shared = nil
		}
	}

	// The originating request always reads from a process-local buffer, so a
	// shared broker failing mid-stream only costs resumability.
	local := NewMemoryBroker(0)
	_ = local.Open(ctx, streamID)

	subCtx, cancel := context.WithCancel(ctx)
	events, _, err := local.Subscribe(subCtx, streamID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", streamID, err)
	}

	// Broker writes outlive both the request and the generation deadline so
	// the terminal events always land.
	writeCtx := context.WithoutCancel(ctx)
	prodCtx, prodCancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	out := &fanout{log: m.log, streamID: streamID, local: local, shared: shared}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer prodCancel()
		defer out.complete(writeCtx)
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("producer panicked", "stream_id", streamID, "panic", r)
				out.emit(writeCtx, Failure("generation failed"))
			}
		}()
		produce(prodCtx, func(ev Event) { out.emit(writeCtx, ev) })
	}()

	return &Subscription{Events: events, Resumable: shared != nil, cancel: cancel}, nil
}

// fanout writes each event to the local buffer read by the originating
// request and, until its first failure, to the shared broker. Events are
// emitted from the producer goroutine only.
type fanout struct {
	log      *logger.Logger
	streamID string
	local    *MemoryBroker
	shared   Broker
	// sharedLost is set once a shared write fails; later events skip it so
	// resumed readers see a prefix rather than a stream with holes.
	sharedLost bool
}

func (f *fanout) emit(ctx context.Context, ev Event) {
	_ = f.local.Append(ctx, f.streamID, ev)
	if f.shared == nil || f.sharedLost {
		return
	}
	if err := f.shared.Append(ctx, f.streamID, ev); err != nil {
		f.sharedLost = true
		f.log.Warn("shared stream write failed, stream no longer resumable", "stream_id", f.streamID, "type", ev.Type, "error", err)
	}
}

func (f *fanout) complete(ctx context.Context) {
	_ = f.local.Complete(ctx, f.streamID)
	if f.shared == nil {
		return
	}
	if err := f.shared.Complete(ctx, f.streamID); err != nil {
		f.log.Warn("stream complete failed", "stream_id", f.streamID, "error", err)
	}
}

// Attach joins an existing stream. found is false when there is no shared
// broker or the broker holds no record of streamID.
func (m *Multiplexer) Attach(ctx context.Context, streamID string) (*Subscription, bool, error) {
	if m.broker == nil {
		return nil, false, nil
	}
	subCtx, cancel := context.WithCancel(ctx)
	events, found, err := m.broker.Subscribe(subCtx, streamID)
	if err != nil || !found {
		cancel()
		return nil, false, err
	}
	return &Subscription{Events: events, Resumable: true, cancel: cancel}, true, nil
}

// Wait blocks until every producer has finished or ctx is done.
func (m *Multiplexer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
