package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopEmit(t *testing.T) {
	assert.NoError(t, Nop{}.Emit(context.Background(), "orders", map[string]string{"code": "ORD1"}))
}

func TestBusRoundTrip(t *testing.T) {
	addr := os.Getenv("RB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RB_TEST_REDIS_ADDR not set; skipping redis test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	bus := NewBus(rdb, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := bus.Subscribe(ctx, "orders", "dashboard")
	require.NoError(t, err)

	require.NoError(t, bus.Emit(ctx, "dashboard", map[string]string{"code": "ORD1", "status": "delivered"}))

	select {
	case env := <-ch:
		assert.Equal(t, "dashboard", env.Topic)
		assert.NotEmpty(t, env.ID)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, "delivered", payload["status"])
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
