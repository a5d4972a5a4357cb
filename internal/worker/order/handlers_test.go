package order

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/umkm/internal/cache"
	"github.com/Additional-Code/umkm/internal/entity"
	"github.com/Additional-Code/umkm/internal/messaging"
	ordersvc "github.com/Additional-Code/umkm/internal/service/order"
)

func TestStatusChangedEvictsCachedOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewRedisStore(client, 0)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, ordersvc.CacheKey("o-1"), []byte(`{"status":"pending"}`), 0))

	reg := NewStatusChangedHandler(zap.NewNop(), store)
	assert.Equal(t, ordersvc.EventOrderStatusChanged, reg.EventType)

	payload, err := json.Marshal(ordersvc.OrderStatusChangedEvent{
		ID:   "o-1",
		From: entity.OrderPending,
		To:   entity.OrderCancelled,
	})
	require.NoError(t, err)
	require.NoError(t, reg.Handler(ctx, messaging.Message{Value: payload}))

	_, err = store.Get(ctx, ordersvc.CacheKey("o-1"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestHandlersRejectMalformedPayloads(t *testing.T) {
	created := NewOrderCreatedHandler(zap.NewNop())
	changed := NewStatusChangedHandler(zap.NewNop(), cache.Noop())

	bad := messaging.Message{Value: []byte("not json")}
	assert.Error(t, created.Handler(context.Background(), bad))
	assert.Error(t, changed.Handler(context.Background(), bad))

	ok, err := json.Marshal(ordersvc.OrderCreatedEvent{ID: "o-2", Number: "ORD-20261019-002"})
	require.NoError(t, err)
	assert.NoError(t, created.Handler(context.Background(), messaging.Message{Value: ok}))
}
