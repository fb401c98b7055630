package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker shares run streams across processes. Each run keeps a sequence
// counter and an event list under its own keys, and live events are
// published on a per-run channel.
type RedisBroker struct {
	rdb       *redis.Client
	prefix    string
	retention time.Duration
	buffer    int
	logger    *slog.Logger
}

// NewRedisClient connects to redisURL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewRedisBroker wraps an established client. Keys are namespaced by prefix
// and expire retention after the last event.
func NewRedisBroker(rdb *redis.Client, prefix string, retention time.Duration, logger *slog.Logger) *RedisBroker {
	if retention <= 0 {
		retention = defaultRetention
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisBroker{
		rdb:       rdb,
		prefix:    prefix,
		retention: retention,
		buffer:    defaultSubscriberBuffer,
		logger:    logger,
	}
}

func (b *RedisBroker) seqKey(runID string) string    { return b.prefix + "run:" + runID + ":seq" }
func (b *RedisBroker) eventsKey(runID string) string { return b.prefix + "run:" + runID + ":events" }
func (b *RedisBroker) channel(runID string) string   { return b.prefix + "run:" + runID }

// Publish assigns the next sequence number, records the event and announces it.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	seq, err := b.rdb.Incr(ctx, b.seqKey(ev.RunID)).Result()
	if err != nil {
		return fmt.Errorf("allocating event seq: %w", err)
	}
	ev.Seq = int(seq)
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, b.eventsKey(ev.RunID), payload)
		pipe.Expire(ctx, b.eventsKey(ev.RunID), b.retention)
		pipe.Expire(ctx, b.seqKey(ev.RunID), b.retention)
		pipe.Publish(ctx, b.channel(ev.RunID), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Subscribe listens on the run's channel before reading the stored history so
// no event falls between the two. Live events already covered by the history
// are discarded by sequence number.
func (b *RedisBroker) Subscribe(ctx context.Context, runID string) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel(runID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to run %s: %w", runID, err)
	}

	raw, err := b.rdb.LRange(ctx, b.eventsKey(runID), 0, -1).Result()
	if err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("reading run history: %w", err)
	}
	if len(raw) == 0 {
		pubsub.Close()
		return nil, ErrUnknownRun
	}

	sub := &Subscription{History: make([]Event, 0, len(raw))}
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("decoding run history: %w", err)
		}
		sub.History = append(sub.History, ev)
	}

	out := make(chan Event, b.buffer)
	sub.Events = out
	if sub.Done() {
		pubsub.Close()
		close(out)
		return sub, nil
	}

	stop := make(chan struct{})
	sub.close = func() { close(stop) }
	lastSeq := sub.History[len(sub.History)-1].Seq

	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("dropping undecodable progress event", "run_id", runID, "error", err)
					continue
				}
				if ev.Seq <= lastSeq {
					continue
				}
				lastSeq = ev.Seq
				select {
				case out <- ev:
				default:
					b.logger.Warn("progress subscriber too slow, detaching", "run_id", runID)
					return
				}
				if ev.Terminal() {
					return
				}
			}
		}
	}()
	return sub, nil
}
