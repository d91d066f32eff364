package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/caseledger/pkg/event"
)

// RedisStore keeps the ledger in a Redis stream. Each entry carries the case
// id and the encoded record; stream IDs give the append order.
type RedisStore struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

// NewRedisStore returns a store appending to the named stream.
func NewRedisStore(client *redis.Client, stream string) *RedisStore {
	return &RedisStore{
		client: client,
		stream: stream,
		logger: defaultLogger().With("backend", "redis", "stream", stream),
	}
}

// WithLogger overrides the logger used for skipped-entry diagnostics.
func (s *RedisStore) WithLogger(l *slog.Logger) *RedisStore {
	s.logger = l
	return s
}

// Append adds rec to the stream with XADD.
func (s *RedisStore) Append(ctx context.Context, rec event.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	line, err := rec.MarshalLine()
	if err != nil {
		return err
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"case_id": rec.CaseID(),
			"payload": strings.TrimSuffix(string(line), "\n"),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: xadd %s: %v", ErrUnavailable, s.stream, err)
	}
	return nil
}

// ReadAll reads the whole stream with XRANGE.
func (s *RedisStore) ReadAll(ctx context.Context) (*Scan, error) {
	msgs, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: xrange %s: %v", ErrUnavailable, s.stream, err)
	}

	scan := &Scan{Exists: len(msgs) > 0}
	for i, msg := range msgs {
		payload, _ := msg.Values["payload"].(string)
		if strings.TrimSpace(payload) == "" {
			scan.Lines++
			scan.Skips = append(scan.Skips, Skip{Position: int64(i + 1), Reason: "entry " + msg.ID + " has no payload"})
			continue
		}
		scan.add(int64(i+1), []byte(payload), s.logger)
	}
	return scan, nil
}
