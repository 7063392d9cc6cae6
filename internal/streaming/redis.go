package streaming

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quillworks/quill/internal/engine"
)

const publishTimeout = 2 * time.Second

// RedisStream persists run events to a per-run Redis stream so events
// survive this process and other services can tail them.
type RedisStream struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
	maxLen int64
}

// NewRedisStream builds the stream sink. ttl bounds how long a finished
// run's stream lingers; zero keeps streams until Redis evicts them.
func NewRedisStream(client *redis.Client, logger *zap.Logger, ttl time.Duration) *RedisStream {
	return &RedisStream{client: client, logger: logger, ttl: ttl, maxLen: 1024}
}

// StreamKey names the Redis stream for a run.
func StreamKey(runID string) string { return "quill:run:" + runID }

// Publish implements engine.EventSink. Failures are logged, never returned:
// a broken event channel must not fail the run.
func (r *RedisStream) Publish(ctx context.Context, ev engine.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("marshal run event", zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	key := StreamKey(ev.RunID)
	if err := r.client.XAdd(pubCtx, &redis.XAddArgs{
		Stream: key,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err(); err != nil {
		r.logger.Warn("publish run event",
			zap.String("run_id", ev.RunID),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
		return
	}
	if r.ttl > 0 {
		r.client.Expire(pubCtx, key, r.ttl)
	}
}

// Tail reads a run's events starting after lastID ("0" for the beginning)
// into out until the context ends or the run reaches a terminal event.
func (r *RedisStream) Tail(ctx context.Context, runID, lastID string, out chan<- engine.Event) error {
	if lastID == "" {
		lastID = "0"
	}
	key := StreamKey(runID)
	for {
		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   64,
			Block:   time.Second,
		}).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				raw, ok := msg.Values["payload"].(string)
				if !ok {
					continue
				}
				var ev engine.Event
				if err := json.Unmarshal([]byte(raw), &ev); err != nil {
					r.logger.Warn("decode run event", zap.String("id", msg.ID), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
				if ev.Type == engine.EventRunCompleted || ev.Type == engine.EventRunFailed {
					return nil
				}
			}
		}
	}
}

// History returns all buffered events for a run.
func (r *RedisStream) History(ctx context.Context, runID string) ([]engine.Event, error) {
	msgs, err := r.client.XRange(ctx, StreamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, err
	}
	events := make([]engine.Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var ev engine.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
