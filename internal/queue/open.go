package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendKafka  = "kafka"
)

// Options selects and configures a queue backend.
type Options struct {
	Backend      string
	Redis        *redis.Client
	RedisKey     string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string // empty for publish-only use
	MemorySize   int
}

// Open builds the configured backend. The returned close func releases
// backend resources and is never nil.
func Open(o Options) (Queue, func() error, error) {
	noop := func() error { return nil }
	switch o.Backend {
	case "", BackendMemory:
		size := o.MemorySize
		if size <= 0 {
			size = 64
		}
		return NewInMemory(size), noop, nil
	case BackendRedis:
		if o.Redis == nil {
			return nil, noop, fmt.Errorf("queue: redis backend needs a client")
		}
		return NewRedisQueue(o.Redis, o.RedisKey), noop, nil
	case BackendKafka:
		if len(o.KafkaBrokers) == 0 || o.KafkaTopic == "" {
			return nil, noop, fmt.Errorf("queue: kafka backend needs brokers and a topic")
		}
		q := NewKafkaQueue(o.KafkaBrokers, o.KafkaTopic, o.KafkaGroupID)
		return q, q.Close, nil
	default:
		return nil, noop, fmt.Errorf("queue: unknown backend %q", o.Backend)
	}
}
