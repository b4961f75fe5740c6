// Package sse writes stream events to an HTTP response as server-sent events.
package sse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime/stream"
)

const DefaultHeartbeat = 15 * time.Second

var ErrStreamingUnsupported = fmt.Errorf("streaming unsupported")

type Writer struct {
	log       *logger.Logger
	heartbeat time.Duration
}

func NewWriter(log *logger.Logger, heartbeat time.Duration) *Writer {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Writer{log: log.With("component", "SSEWriter"), heartbeat: heartbeat}
}

// Prepare sets the event-stream headers and commits a 200 status.
func Prepare(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, nil
}

// WriteEvent frames one event. Multi-line payloads get one data line each.
func WriteEvent(w io.Writer, ev stream.Event) error {
	var buf bytes.Buffer
	if ev.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", ev.ID)
	}
	fmt.Fprintf(&buf, "event: %s\n", ev.Type)
	data := ev.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// Serve copies events to w until the channel closes or ctx is done. A
// comment line is sent every heartbeat interval to keep proxies from
// closing an idle connection.
func (sw *Writer) Serve(ctx context.Context, w http.ResponseWriter, events <-chan stream.Event) error {
	flusher, err := Prepare(w)
	if err != nil {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return err
	}

	heartbeat := time.NewTicker(sw.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.log.Debug("SSE client context done", "err", ctx.Err())
			return ctx.Err()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := WriteEvent(w, ev); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
