package notifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/inventory-engine/internal/port"
)

var (
	_ port.Notifier = (*LogNotifier)(nil)
	_ port.Notifier = (*RedisNotifier)(nil)
	_ port.Notifier = (*KafkaNotifier)(nil)
)

func TestLogNotifier_Send(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Send(context.Background(), "Order 7 has been fulfilled."))

	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	require.Equal(t, "Order 7 has been fulfilled.", entries[0].ContextMap()["message"])
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaNotifier_Send(t *testing.T) {
	w := &fakeWriter{}
	n := newKafkaNotifier(w)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	require.NoError(t, n.Send(context.Background(), "Order 3 has been fulfilled."))
	require.Len(t, w.messages, 1)
	require.Equal(t, "Order 3 has been fulfilled.", string(w.messages[0].Value))
	require.Equal(t, fixed, w.messages[0].Time)

	require.NoError(t, n.Close())
	require.True(t, w.closed)
}

func TestKafkaNotifier_SendError(t *testing.T) {
	boom := errors.New("broker unavailable")
	n := newKafkaNotifier(&fakeWriter{err: boom})

	err := n.Send(context.Background(), "hello")
	require.ErrorIs(t, err, boom)
}

func getRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisNotifier_PublishAndHistory(t *testing.T) {
	rdb := getRedisClient(t)
	ctx := context.Background()

	channel := fmt.Sprintf("test-notifications-%d", time.Now().UnixNano())
	t.Cleanup(func() { rdb.Del(context.Background(), historyKeyPrefix+channel) })

	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(rdb, channel)
	require.NoError(t, n.Send(ctx, "Order 1 has been fulfilled."))
	require.NoError(t, n.Send(ctx, "Order 2 has been fulfilled."))

	select {
	case msg := <-sub.Channel():
		require.Equal(t, "Order 1 has been fulfilled.", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}

	history, err := n.History(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"Order 1 has been fulfilled.", "Order 2 has been fulfilled."}, history)

	last, err := n.History(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Order 2 has been fulfilled."}, last)
}
