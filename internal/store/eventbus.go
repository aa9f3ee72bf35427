package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// EventBus notifies subscribers that a run has new events, so a long-poll or
// websocket handler can wake up immediately instead of waiting out its next
// poll tick. Publishing is best-effort: a bus is a latency optimization, not
// a delivery guarantee — ListEventsAfter remains the source of truth.
type EventBus interface {
	Publish(ctx context.Context, runID string)
	Subscribe(runID string) (ch <-chan struct{}, unsubscribe func())
}

type subscriberEntry struct {
	id int
	ch chan struct{}
}

// LocalEventBus fans out within a single process only.
type LocalEventBus struct {
	mu   sync.Mutex
	subs map[string][]subscriberEntry
	next int
}

// NewLocalEventBus returns a ready-to-use in-process event bus.
func NewLocalEventBus() *LocalEventBus {
	return &LocalEventBus{subs: make(map[string][]subscriberEntry)}
}

func (b *LocalEventBus) Publish(_ context.Context, runID string) {
	b.mu.Lock()
	entries := b.subs[runID]
	b.mu.Unlock()
	for _, e := range entries {
		select {
		case e.ch <- struct{}{}:
		default:
		}
	}
}

func (b *LocalEventBus) Subscribe(runID string) (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	ch := make(chan struct{}, 1)
	b.subs[runID] = append(b.subs[runID], subscriberEntry{id: id, ch: ch})
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.subs[runID]
		for i, e := range entries {
			if e.id == id {
				b.subs[runID] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
}

// RedisPubSubClient is the subset of *redis.Client's pub/sub surface the bus
// needs, so it can be exercised against a fake in tests without a live server.
type RedisPubSubClient interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
}

// RedisEventBus distributes run-event wakeups across every clawdexd process
// sharing one Postgres-backed store, falling back to local-only fan-out if
// the publish or subscribe call fails. Ported from the teacher's
// internal/fabric/redis_event_bus.go, narrowed from typed domain events to
// a bare run-id ping since ListEventsAfter is always re-queried on wakeup.
type RedisEventBus struct {
	local  *LocalEventBus
	pubsub RedisPubSubClient
	prefix string
}

// NewRedisEventBus wraps client with the given channel prefix (defaulting to
// "clawdexd:events:"), still fanning out locally so same-process subscribers
// get zero-latency delivery alongside the cross-process Redis path.
func NewRedisEventBus(client RedisPubSubClient, channelPrefix string) *RedisEventBus {
	if channelPrefix == "" {
		channelPrefix = "clawdexd:events:"
	}
	return &RedisEventBus{local: NewLocalEventBus(), pubsub: client, prefix: channelPrefix}
}

type runPing struct {
	RunID string `json:"runId"`
}

func (b *RedisEventBus) Publish(ctx context.Context, runID string) {
	b.local.Publish(ctx, runID)

	data, err := json.Marshal(runPing{RunID: runID})
	if err != nil {
		return
	}
	if err := b.pubsub.Publish(ctx, b.prefix+runID, data); err != nil {
		slog.Warn("redis event bus publish failed, local-only delivery", "runId", runID, "error", err)
	}
}

func (b *RedisEventBus) Subscribe(runID string) (<-chan struct{}, func()) {
	ch, unsubLocal := b.local.Subscribe(runID)

	unsubRedis, err := b.pubsub.Subscribe(context.Background(), b.prefix+runID, func(data []byte) {
		var ping runPing
		if json.Unmarshal(data, &ping) != nil {
			return
		}
		b.local.Publish(context.Background(), ping.RunID)
	})
	if err != nil {
		slog.Warn("redis event bus subscribe failed, local-only delivery", "runId", runID, "error", err)
		return ch, unsubLocal
	}
	return ch, func() {
		unsubLocal()
		unsubRedis()
	}
}

var _ EventBus = (*LocalEventBus)(nil)
var _ EventBus = (*RedisEventBus)(nil)
