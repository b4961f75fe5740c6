package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

const (
	fieldType = "type"
	fieldData = "data"

	markerOpen = "__open"
	markerEnd  = "__end"
)

type RedisConfig struct {
	Addr   string
	Prefix string
	// ReplayTTL is how long a completed stream stays replayable.
	ReplayTTL time.Duration
	// OpenTTL bounds an unfinished stream whose producer died.
	OpenTTL time.Duration
	// BlockFor is the XREAD block interval; subscribers notice
	// cancellation at this granularity.
	BlockFor time.Duration
}

// RedisBroker keeps one Redis Stream per generation so any process can
// replay and follow it.
type RedisBroker struct {
	log *logger.Logger
	rdb *goredis.Client
	cfg RedisConfig
}

var _ Broker = (*RedisBroker)(nil)

func NewRedisBroker(log *logger.Logger, cfg RedisConfig) (*RedisBroker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "chat:stream:"
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 10 * time.Minute
	}
	if cfg.OpenTTL <= 0 {
		cfg.OpenTTL = 30 * time.Minute
	}
	if cfg.BlockFor <= 0 {
		cfg.BlockFor = 2 * time.Second
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBroker{
		log: log.With("service", "RedisStreamBroker"),
		rdb: rdb,
		cfg: cfg,
	}, nil
}

func (b *RedisBroker) key(streamID string) string   { return b.cfg.Prefix + streamID }
func (b *RedisBroker) owner(streamID string) string { return b.cfg.Prefix + streamID + ":owner" }

func (b *RedisBroker) Open(ctx context.Context, streamID string) error {
	ok, err := b.rdb.SetNX(ctx, b.owner(streamID), "1", b.cfg.OpenTTL).Result()
	if err != nil {
		return fmt.Errorf("redis open: %w", err)
	}
	if !ok {
		return ErrStreamExists
	}
	key := b.key(streamID)
	_, err = b.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.XAdd(ctx, &goredis.XAddArgs{Stream: key, Values: map[string]interface{}{fieldType: markerOpen}})
		p.Expire(ctx, key, b.cfg.OpenTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis open: %w", err)
	}
	return nil
}

func (b *RedisBroker) Append(ctx context.Context, streamID string, ev Event) error {
	data := string(ev.Data)
	if data == "" {
		data = "{}"
	}
	return b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: b.key(streamID),
		Values: map[string]interface{}{fieldType: ev.Type, fieldData: data},
	}).Err()
}

func (b *RedisBroker) Complete(ctx context.Context, streamID string) error {
	key := b.key(streamID)
	_, err := b.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.XAdd(ctx, &goredis.XAddArgs{Stream: key, Values: map[string]interface{}{fieldType: markerEnd}})
		p.Expire(ctx, key, b.cfg.ReplayTTL)
		p.Expire(ctx, b.owner(streamID), b.cfg.ReplayTTL)
		return nil
	})
	return err
}

func (b *RedisBroker) Subscribe(ctx context.Context, streamID string) (<-chan Event, bool, error) {
	key := b.key(streamID)
	n, err := b.rdb.Exists(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis exists: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}
	out := make(chan Event)
	go b.follow(ctx, key, out)
	return out, true, nil
}

func (b *RedisBroker) follow(ctx context.Context, key string, out chan<- Event) {
	defer close(out)
	lastID := "0-0"
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := b.rdb.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   256,
			Block:   b.cfg.BlockFor,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			// Block elapsed with nothing new; stop if the stream expired.
			if n, eerr := b.rdb.Exists(ctx, key).Result(); eerr == nil && n == 0 {
				return
			}
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				b.log.Warn("redis stream read failed", "key", key, "error", err)
			}
			return
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				lastID = msg.ID
				typ, _ := msg.Values[fieldType].(string)
				switch typ {
				case markerOpen:
					continue
				case markerEnd:
					return
				}
				data, _ := msg.Values[fieldData].(string)
				ev := Event{ID: msg.ID, Type: typ, Data: json.RawMessage(data)}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (b *RedisBroker) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// Ping reports whether Redis is reachable.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}
