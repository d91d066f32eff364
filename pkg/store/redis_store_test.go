package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/caseledger/pkg/event"
)

// TestRedisStore_Integration requires a running Redis on localhost:6379.
// It is skipped when none answers.
func TestRedisStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	stream := "caseledger:test:" + uuid.NewString()
	t.Cleanup(func() { _ = client.Del(context.Background(), stream).Err() })

	s := NewRedisStore(client, stream).WithLogger(quietLogger())

	empty, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.False(t, empty.Exists)

	require.NoError(t, s.Append(ctx, record(t, map[string]any{"case_id": "A", "event_type": "case_created"})))
	require.NoError(t, s.Append(ctx, record(t, map[string]any{"case_id": "B"})))
	require.ErrorIs(t, s.Append(ctx, event.Record{}), event.ErrInvalidRecord)
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]any{"payload": "{broken"}}).Err())

	scan, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, scan.Records, 2)
	assert.Equal(t, "A", scan.Records[0].CaseID())
	assert.Equal(t, 1, scan.Skipped())
	assert.Equal(t, 3, scan.Lines)
}
