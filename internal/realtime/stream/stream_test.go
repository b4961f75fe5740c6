package stream

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

// drain collects every event until the channel closes.
func drain(t *testing.T, ch <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out draining stream after %d events", len(out))
			return out
		}
	}
}

func deltaTexts(t *testing.T, evs []Event) []string {
	t.Helper()
	var out []string
	for _, ev := range evs {
		if ev.Type != EventDelta {
			continue
		}
		var d DeltaData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			t.Fatalf("decode delta: %v", err)
		}
		out = append(out, d.Text)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMemoryBrokerLateJoinReplaysInOrder(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(0)
	defer b.Close()

	id := uuid.NewString()
	if err := b.Open(ctx, id); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := b.Open(ctx, id); !errors.Is(err, ErrStreamExists) {
		t.Fatalf("second Open: want=%v got=%v", ErrStreamExists, err)
	}

	early, found, err := b.Subscribe(ctx, id)
	if err != nil || !found {
		t.Fatalf("Subscribe early: found=%v err=%v", found, err)
	}
	for _, s := range []string{"a", "b", "c"} {
		if err := b.Append(ctx, id, Delta(s)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	late, found, err := b.Subscribe(ctx, id)
	if err != nil || !found {
		t.Fatalf("Subscribe late: found=%v err=%v", found, err)
	}
	for _, s := range []string{"d", "e"} {
		if err := b.Append(ctx, id, Delta(s)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := b.Complete(ctx, id); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	want := []string{"a", "b", "c", "d", "e"}
	for name, ch := range map[string]<-chan Event{"early": early, "late": late} {
		evs := drain(t, ch, 2*time.Second)
		if got := deltaTexts(t, evs); !equalStrings(got, want) {
			t.Fatalf("%s subscriber: want=%v got=%v", name, want, got)
		}
		for i, ev := range evs {
			if ev.ID == "" {
				t.Fatalf("%s subscriber: event %d has no id", name, i)
			}
		}
	}

	// Appends after completion are ignored.
	if err := b.Append(ctx, id, Delta("x")); err != nil {
		t.Fatalf("Append after complete: %v", err)
	}
	after, _, _ := b.Subscribe(ctx, id)
	if got := deltaTexts(t, drain(t, after, time.Second)); !equalStrings(got, want) {
		t.Fatalf("after complete: want=%v got=%v", want, got)
	}
}

func TestMemoryBrokerUnknownAndExpiry(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(20 * time.Millisecond)
	defer b.Close()

	if _, found, err := b.Subscribe(ctx, "missing"); found || err != nil {
		t.Fatalf("unknown stream: found=%v err=%v", found, err)
	}
	if err := b.Append(ctx, "missing", Delta("x")); !errors.Is(err, ErrNoStream) {
		t.Fatalf("append unknown: want=%v got=%v", ErrNoStream, err)
	}

	if err := b.Open(ctx, "s"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := b.Complete(ctx, "s"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, found, _ := b.Subscribe(ctx, "s")
		if !found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("completed stream was never expired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMemoryBrokerSubscriberCancel(t *testing.T) {
	b := NewMemoryBroker(0)
	defer b.Close()
	if err := b.Open(context.Background(), "s"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch, _, _ := b.Subscribe(ctx, "s")
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber did not stop after cancel")
	}
}

func TestMultiplexerFanOutSurvivesConsumerDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mux := NewMultiplexer(mustTestLogger(t), NewMemoryBroker(0), time.Minute)
	id := uuid.NewString()

	release := make(chan struct{})
	var produced sync.WaitGroup
	produced.Add(1)
	reqCtx, cancelReq := context.WithCancel(context.Background())
	origin, err := mux.Start(reqCtx, id, func(ctx context.Context, emit func(Event)) {
		defer produced.Done()
		emit(NewEvent(EventStart, StartData{StreamID: id}))
		emit(Delta("hello "))
		<-release
		if ctx.Err() != nil {
			emit(Failure("producer context canceled"))
			return
		}
		emit(Delta("world"))
		emit(NewEvent(EventFinish, FinishData{}))
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !origin.Resumable {
		t.Fatalf("origin should be resumable with a broker")
	}

	if _, err := mux.Start(context.Background(), id, func(context.Context, func(Event)) {}); !errors.Is(err, ErrStreamExists) {
		t.Fatalf("second producer: want=%v got=%v", ErrStreamExists, err)
	}

	// The requester goes away mid-generation.
	cancelReq()
	origin.Close()

	joined, found, err := mux.Attach(context.Background(), id)
	if err != nil || !found {
		t.Fatalf("Attach: found=%v err=%v", found, err)
	}
	close(release)
	produced.Wait()

	evs := drain(t, joined.Events, 2*time.Second)
	if got := deltaTexts(t, evs); !equalStrings(got, []string{"hello ", "world"}) {
		t.Fatalf("joined deltas: got=%v", got)
	}
	if evs[0].Type != EventStart || evs[len(evs)-1].Type != EventFinish {
		t.Fatalf("event bounds: first=%s last=%s", evs[0].Type, evs[len(evs)-1].Type)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mux.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestMultiplexerWithoutBrokerIsNotResumable(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mux := NewMultiplexer(mustTestLogger(t), nil, time.Minute)
	id := uuid.NewString()
	sub, err := mux.Start(context.Background(), id, func(_ context.Context, emit func(Event)) {
		emit(Delta("only"))
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sub.Resumable {
		t.Fatalf("subscription should not be resumable without a broker")
	}
	if got := deltaTexts(t, drain(t, sub.Events, time.Second)); !equalStrings(got, []string{"only"}) {
		t.Fatalf("deltas: got=%v", got)
	}
	if _, found, err := mux.Attach(context.Background(), id); found || err != nil {
		t.Fatalf("Attach without broker: found=%v err=%v", found, err)
	}
	if err := mux.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

// flakyBroker is a MemoryBroker whose writes start failing after limit
// appends, as a Redis connection dropping mid-generation would.
type flakyBroker struct {
	*MemoryBroker
	mu    sync.Mutex
	limit int
	n     int
}

func (b *flakyBroker) Append(ctx context.Context, streamID string, ev Event) error {
	b.mu.Lock()
	b.n++
	over := b.n > b.limit
	b.mu.Unlock()
	if over {
		return errors.New("connection reset")
	}
	return b.MemoryBroker.Append(ctx, streamID, ev)
}

func TestMultiplexerOriginSurvivesSharedBrokerFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	shared := &flakyBroker{MemoryBroker: NewMemoryBroker(0), limit: 2}
	mux := NewMultiplexer(mustTestLogger(t), shared, time.Minute)
	id := uuid.NewString()
	sub, err := mux.Start(context.Background(), id, func(_ context.Context, emit func(Event)) {
		for _, d := range []string{"a", "b", "c", "d"} {
			emit(Delta(d))
		}
		emit(NewEvent(EventFinish, FinishData{}))
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sub.Close()

	evs := drain(t, sub.Events, 2*time.Second)
	if len(evs) != 5 || evs[4].Type != EventFinish {
		t.Fatalf("origin events: want=5 ending in finish got=%d %v", len(evs), evs)
	}
	if got := deltaTexts(t, evs); !equalStrings(got, []string{"a", "b", "c", "d"}) {
		t.Fatalf("origin deltas: got=%v", got)
	}
	if err := mux.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// The shared copy keeps the prefix written before the failure.
	joined, found, err := mux.Attach(context.Background(), id)
	if err != nil || !found {
		t.Fatalf("Attach: found=%v err=%v", found, err)
	}
	if got := deltaTexts(t, drain(t, joined.Events, time.Second)); !equalStrings(got, []string{"a", "b"}) {
		t.Fatalf("shared deltas: got=%v", got)
	}
}

func TestMultiplexerTimeoutBoundsProducer(t *testing.T) {
	mux := NewMultiplexer(mustTestLogger(t), NewMemoryBroker(0), 30*time.Millisecond)
	sub, err := mux.Start(context.Background(), "slow", func(ctx context.Context, emit func(Event)) {
		<-ctx.Done()
		emit(Failure(ctx.Err().Error()))
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	evs := drain(t, sub.Events, 2*time.Second)
	if len(evs) != 1 || evs[0].Type != EventError {
		t.Fatalf("want single error event, got=%v", evs)
	}
}

func TestMultiplexerRecoversProducerPanic(t *testing.T) {
	mux := NewMultiplexer(mustTestLogger(t), NewMemoryBroker(0), time.Minute)
	sub, err := mux.Start(context.Background(), "boom", func(_ context.Context, emit func(Event)) {
		emit(Delta("partial"))
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	evs := drain(t, sub.Events, 2*time.Second)
	if len(evs) != 2 || evs[1].Type != EventError {
		t.Fatalf("want delta then error, got=%v", evs)
	}
}

func TestRedisBrokerReplay(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	b, err := NewRedisBroker(mustTestLogger(t), RedisConfig{
		Addr:      addr,
		Prefix:    "test:stream:" + uuid.NewString() + ":",
		ReplayTTL: time.Minute,
		BlockFor:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRedisBroker: %v", err)
	}
	defer b.Close()

	id := uuid.NewString()
	if _, found, err := b.Subscribe(ctx, id); found || err != nil {
		t.Fatalf("unknown stream: found=%v err=%v", found, err)
	}
	if err := b.Open(ctx, id); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := b.Open(ctx, id); !errors.Is(err, ErrStreamExists) {
		t.Fatalf("second Open: want=%v got=%v", ErrStreamExists, err)
	}
	_ = b.Append(ctx, id, Delta("a"))
	live, found, err := b.Subscribe(ctx, id)
	if err != nil || !found {
		t.Fatalf("Subscribe: found=%v err=%v", found, err)
	}
	_ = b.Append(ctx, id, Delta("b"))
	if err := b.Complete(ctx, id); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := deltaTexts(t, drain(t, live, 5*time.Second)); !equalStrings(got, []string{"a", "b"}) {
		t.Fatalf("live: got=%v", got)
	}
	replay, found, _ := b.Subscribe(ctx, id)
	if !found {
		t.Fatalf("completed stream should stay replayable")
	}
	if got := deltaTexts(t, drain(t, replay, 5*time.Second)); !equalStrings(got, []string{"a", "b"}) {
		t.Fatalf("replay: got=%v", got)
	}
}
