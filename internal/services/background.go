package services

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// Background tracks fire-and-forget work that must finish before shutdown.
// Task errors are logged and never cancel sibling tasks.
type Background struct {
	log *logger.Logger
	g   errgroup.Group
}

func NewBackground(log *logger.Logger) *Background {
	return &Background{log: log.With("component", "Background")}
}

func (b *Background) Go(name string, fn func() error) {
	b.g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		if err := fn(); err != nil {
			b.log.Warn("background task failed", "task", name, "error", err)
		}
		return nil
	})
}

// Wait blocks until every task has returned or ctx is done.
func (b *Background) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = b.g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
