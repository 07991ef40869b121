package redisstream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/job-platform/internal/broker/redisstream"
	"github.com/fairyhunter13/job-platform/internal/domain"
)

func newTestBroker(t *testing.T) (*redisstream.Broker, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return redisstream.NewFromClient(rdb), rdb, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestBroker_PublishThenSubscribeDeliversAndAcks(t *testing.T) {
	b, _, cleanup := newTestBroker(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "embed.process", map[string]any{"job_id": "job-1", "text": "hi"}))

	subCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	received := make(chan domain.Message, 1)
	go func() {
		_ = b.Subscribe(subCtx, "embed.process", func(_ domain.Context, msg domain.Message) error {
			received <- msg
			cancel()
			return nil
		})
	}()

	select {
	case msg := <-received:
		require.Equal(t, "job-1", msg.JobID)
		require.Equal(t, "hi", msg.Payload["text"])
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivered message")
	}
}

func TestBroker_HandlerErrorLeavesMessagePending(t *testing.T) {
	b, rdb, cleanup := newTestBroker(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "embed.process", map[string]any{"job_id": "job-2"}))

	subCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	delivered := make(chan struct{}, 1)
	_ = b.Subscribe(subCtx, "embed.process", func(_ domain.Context, _ domain.Message) error {
		select {
		case delivered <- struct{}{}:
		default:
		}
		return errDeliberateFailure
	})

	select {
	case <-delivered:
	default:
		t.Fatal("handler was never invoked")
	}

	pending, err := rdb.XPending(ctx, "jobs:embed.process", "embed.process").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), pending.Count)
}

var errDeliberateFailure = errors.New("deliberate handler failure")
