package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = 5 * time.Second

// RedisPublisher mirrors bus events onto a capped Redis stream so other
// processes can follow a run.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewRedisPublisher creates a publisher writing to stream. maxLen caps the
// stream approximately; zero leaves it unbounded.
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "redis_publisher"),
	}
}

// Publish appends one event to the stream.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	values, err := streamValues(e)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// Run forwards bus events until ctx is done. Log events are not mirrored.
func (p *RedisPublisher) Run(ctx context.Context, bus *Bus, buffer int) {
	ch, cancel := bus.Subscribe(buffer)
	defer cancel()

	p.logger.Info("mirroring events to redis stream", "stream", p.stream)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Type == Log {
				continue
			}
			pctx, pcancel := context.WithTimeout(ctx, publishTimeout)
			if err := p.Publish(pctx, e); err != nil {
				p.logger.Warn("failed to publish event", "type", e.Type, "error", err)
			}
			pcancel()
		}
	}
}

func streamValues(e Event) (map[string]any, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]any{
		"type":       string(e.Type),
		"session_id": e.SessionID,
		"item_id":    e.ItemID,
		"time":       e.Time.Format(time.RFC3339Nano),
		"event":      string(payload),
	}, nil
}
