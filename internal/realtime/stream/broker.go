// Package stream fans one generation out to any number of consumers. A
// Broker buffers every event of a stream so late joiners replay history
// before receiving live events.
package stream

import (
	"context"
	"errors"
)

var (
	ErrStreamExists = errors.New("stream: producer already registered")
	ErrNoStream     = errors.New("stream: unknown stream")
)

type Broker interface {
	// Open registers the single producer for streamID.
	Open(ctx context.Context, streamID string) error
	// Append buffers ev and delivers it to live subscribers.
	Append(ctx context.Context, streamID string, ev Event) error
	// Complete marks the stream finished; the buffer stays replayable for
	// the broker's retention window.
	Complete(ctx context.Context, streamID string) error
	// Subscribe replays the buffer then follows live events. The channel is
	// closed after completion or when ctx is done. found is false when the
	// broker holds no record of streamID.
	Subscribe(ctx context.Context, streamID string) (events <-chan Event, found bool, err error)
	Close() error
}
