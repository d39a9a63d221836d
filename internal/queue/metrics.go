package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"endpointagent/internal/model"
	"endpointagent/internal/pkg/logger"
)

// MetricsSink receives best-effort pushed/popped counter updates as records
// move through the queue, after the queue operation has committed. A
// failing sink never fails the queue operation that triggered it.
type MetricsSink interface {
	IncrPushed(t model.MessageType, n int)
	IncrPopped(t model.MessageType, n int)
}

// RedisMetricsSink mirrors per-type pushed/popped counters into Redis so an
// external dashboard can chart queue throughput without opening the bbolt
// file directly. It is optional: a Queue with no sink attached skips these
// calls entirely.
type RedisMetricsSink struct {
	client *redis.Client
	prefix string
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRedisMetricsSink dials addr lazily (go-redis connects on first use) and
// returns a sink keyed under prefix, e.g. "endpoint-agent:queue".
func NewRedisMetricsSink(addr string, db int, prefix string) *RedisMetricsSink {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisMetricsSink{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		prefix: prefix,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *RedisMetricsSink) IncrPushed(t model.MessageType, n int) { s.incr("pushed", t, n) }
func (s *RedisMetricsSink) IncrPopped(t model.MessageType, n int) { s.incr("popped", t, n) }

func (s *RedisMetricsSink) incr(verb string, t model.MessageType, n int) {
	if n == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	key := s.prefix + ":" + verb + ":" + string(t)
	if err := s.client.IncrBy(ctx, key, int64(n)).Err(); err != nil {
		logger.Warnf("queue: redis metrics mirror unreachable, dropping %s counter for %s: %v", verb, t, err)
	}
}

// Close releases the underlying Redis connection pool.
func (s *RedisMetricsSink) Close() error {
	s.cancel()
	return s.client.Close()
}
