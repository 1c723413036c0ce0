// Package broker implements the task queue over Redis sorted sets,
// driving Redis atomically through a single Lua script rather than a
// read-modify-write round trip.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jobagent/orchestrator/internal/domain"
	"github.com/jobagent/orchestrator/internal/observability"
)

// publishScript atomically bumps a per-queue sequence counter and adds the
// task to the queue's sorted set. Score = priority*1e15 - sequence, so
// ZPOPMAX yields the highest-priority, earliest-enqueued member first:
// a higher priority always dequeues first, and order is FIFO within a
// priority tier.
const publishScript = `
local seq_key = KEYS[1]
local zset_key = KEYS[2]
local member = ARGV[1]
local priority = tonumber(ARGV[2])
local seq = redis.call("INCR", seq_key)
local score = priority * 1e15 - seq
redis.call("ZADD", zset_key, score, member)
return seq
`

// Broker implements domain.Queue over a single Redis client.
type Broker struct {
	rdb             *redis.Client
	publish         *redis.Script
	resultTTL       time.Duration
	heartbeatTTL    time.Duration
	pollInterval    time.Duration
}

// Config bundles the tunables from internal/config that the broker needs.
type Config struct {
	ResultTTL    time.Duration
	HeartbeatTTL time.Duration
	PollInterval time.Duration
}

// New constructs a Broker over an existing Redis client.
func New(rdb *redis.Client, cfg Config) *Broker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 60 * time.Minute
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = 120 * time.Second
	}
	return &Broker{
		rdb:          rdb,
		publish:      redis.NewScript(publishScript),
		resultTTL:    cfg.ResultTTL,
		heartbeatTTL: cfg.HeartbeatTTL,
		pollInterval: cfg.PollInterval,
	}
}

func zsetKey(queueType domain.QueueName) string { return "tasks:" + string(queueType) }
func seqKey(queueType domain.QueueName) string  { return "tasks:" + string(queueType) + ":seq" }
func resultKey(taskID string) string            { return "result:" + taskID }
func heartbeatKey(service string) string        { return "heartbeat:" + service }

// Publish appends payload to the tail of the named queue and returns a
// globally unique task ID. Unknown queue types are rejected up front.
func (b *Broker) Publish(ctx context.Context, queueType domain.QueueName, payload domain.TaskPayload, priority int) (string, error) {
	start := time.Now()
	if !queueType.Valid() {
		return "", fmt.Errorf("%w: unknown queue type %q", domain.ErrInvalidArgument, queueType)
	}
	if payload.Kind != queueType {
		return "", fmt.Errorf("%w: payload kind %q does not match queue %q", domain.ErrInvalidArgument, payload.Kind, queueType)
	}

	taskID := uuid.New().String()
	task := domain.QueueTask{
		ID:        taskID,
		Type:      queueType,
		Payload:   payload,
		Retries:   0,
		CreatedAt: time.Now().Unix(),
		Priority:  priority,
	}
	member, err := marshalTask(task)
	if err != nil {
		return "", fmt.Errorf("op=broker.Publish: %w", err)
	}

	if err := b.publish.Run(ctx, b.rdb, []string{seqKey(queueType), zsetKey(queueType)}, member, priority).Err(); err != nil {
		return "", fmt.Errorf("op=broker.Publish: %w: %w", domain.ErrTransientInfra, err)
	}
	observability.RecordPublish(string(queueType), time.Since(start))
	return taskID, nil
}

// Consume pops the highest-scoring (highest priority, earliest enqueued)
// task from the named queue, blocking up to timeout. It polls ZPOPMAX
// rather than BZPOPMAX so Stat can observe queue depth without consuming,
// and so shutdown signals (ctx cancellation) are honored promptly.
func (b *Broker) Consume(ctx context.Context, queueType domain.QueueName, timeout time.Duration) (*domain.QueueTask, error) {
	start := time.Now()
	defer func() { observability.RecordConsume(string(queueType), time.Since(start)) }()

	if !queueType.Valid() {
		return nil, fmt.Errorf("%w: unknown queue type %q", domain.ErrInvalidArgument, queueType)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		result, err := b.rdb.ZPopMax(ctx, zsetKey(queueType), 1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("op=broker.Consume: %w: %w", domain.ErrTransientInfra, err)
		}
		if len(result) > 0 {
			task, err := unmarshalTask([]byte(result[0].Member.(string)))
			if err != nil {
				return nil, fmt.Errorf("op=broker.Consume: %w", err)
			}
			return task, nil
		}
		if timeout <= 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, nil
			}
		}
	}
}

// PublishResult stores a result record keyed by task_id with a 60-minute
// TTL; consumers poll or subscribe.
func (b *Broker) PublishResult(ctx context.Context, taskID string, payload []byte) error {
	if err := b.rdb.Set(ctx, resultKey(taskID), payload, b.resultTTL).Err(); err != nil {
		return fmt.Errorf("op=broker.PublishResult: %w: %w", domain.ErrTransientInfra, err)
	}
	return nil
}

// PublishChannel is fire-and-forget pub/sub and writes no keyed record;
// Heartbeat is the method that also stores a queryable liveness record.
func (b *Broker) PublishChannel(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("op=broker.PublishChannel: %w: %w", domain.ErrTransientInfra, err)
	}
	return nil
}

// Heartbeat records service liveness under heartbeat:<service> with a TTL,
// and also publishes on the channel for subscribers watching in real time.
func (b *Broker) Heartbeat(ctx context.Context, service string, payload []byte) error {
	if err := b.rdb.Set(ctx, heartbeatKey(service), payload, b.heartbeatTTL).Err(); err != nil {
		return fmt.Errorf("op=broker.Heartbeat: %w: %w", domain.ErrTransientInfra, err)
	}
	return b.PublishChannel(ctx, "heartbeat:"+service, payload)
}

// Stat returns the current depth of the named queue without consuming.
func (b *Broker) Stat(ctx context.Context, queueType domain.QueueName) (int64, error) {
	depth, err := b.rdb.ZCard(ctx, zsetKey(queueType)).Result()
	if err != nil {
		return 0, fmt.Errorf("op=broker.Stat: %w: %w", domain.ErrTransientInfra, err)
	}
	observability.SetQueueDepth(string(queueType), depth)
	return depth, nil
}

// LastHeartbeat returns the raw payload last recorded for service, or
// (nil, false) if no live heartbeat exists — callers use this to degrade
// /health to 206 when a worker pool has gone silent.
func (b *Broker) LastHeartbeat(ctx context.Context, service string) ([]byte, bool, error) {
	val, err := b.rdb.Get(ctx, heartbeatKey(service)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("op=broker.LastHeartbeat: %w: %w", domain.ErrTransientInfra, err)
	}
	return val, true, nil
}

var _ domain.Queue = (*Broker)(nil)
