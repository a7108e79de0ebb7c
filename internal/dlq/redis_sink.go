package dlq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPermanentFailureSink persists permanent-failure records to a
// Redis list so they survive process restarts for later analysis,
// without coupling the dlq package to the storage package.
type RedisPermanentFailureSink struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisPermanentFailureSink wraps an existing *redis.Client.
func NewRedisPermanentFailureSink(client *redis.Client, key string, ttl time.Duration) *RedisPermanentFailureSink {
	if key == "" {
		key = "dlq:permanent-failures"
	}
	return &RedisPermanentFailureSink{client: client, key: key, ttl: ttl}
}

func (s *RedisPermanentFailureSink) RecordPermanentFailure(ctx context.Context, rec PermanentFailureRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, payload)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}
