package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/umkm/internal/database"
	"github.com/Additional-Code/umkm/internal/database/databasetest"
	"github.com/Additional-Code/umkm/internal/entity"
	"github.com/Additional-Code/umkm/internal/repository/notification"
)

func TestInbox(t *testing.T) {
	ctx := context.Background()
	repo := notification.NewRepository(databasetest.New(t))

	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	older := &entity.Notification{
		ID: uuid.NewString(), UserID: "owner-1", Type: "order_new", Category: "store",
		Title: "Pesanan Baru", Message: "ORD-20261019-001", CreatedAt: base,
		Data: map[string]any{"order_id": "o-1"},
	}
	newer := &entity.Notification{
		ID: uuid.NewString(), UserID: "owner-1", Type: "order_new", Category: "store",
		Title: "Pesanan Baru", Message: "ORD-20261019-002", CreatedAt: base.Add(time.Minute),
	}
	foreign := &entity.Notification{
		ID: uuid.NewString(), UserID: "buyer-9", Type: "order_shipped", Category: "personal",
		Title: "Dikirim", Message: "ORD-20261019-003", CreatedAt: base,
	}
	for _, n := range []*entity.Notification{older, newer, foreign} {
		require.NoError(t, repo.Create(ctx, n))
	}

	items, total, err := repo.ListByUser(ctx, "owner-1", false, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, newer.ID, items[0].ID)
	assert.Equal(t, "o-1", items[1].Data["order_id"])

	unread, err := repo.CountUnread(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	require.NoError(t, repo.MarkRead(ctx, "owner-1", older.ID))
	require.NoError(t, repo.MarkRead(ctx, "owner-1", older.ID), "marking twice is harmless")
	assert.ErrorIs(t, repo.MarkRead(ctx, "owner-1", foreign.ID), notification.ErrNotFound)

	items, total, err = repo.ListByUser(ctx, "owner-1", true, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, newer.ID, items[0].ID)
}

func TestCreateDuplicateIDIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	repo := notification.NewRepository(databasetest.New(t))

	n := &entity.Notification{ID: uuid.NewString(), UserID: "u", Type: "order_new", Category: "store", Title: "t", Message: "m"}
	require.NoError(t, repo.Create(ctx, n))

	err := repo.Create(ctx, &entity.Notification{ID: n.ID, UserID: "u", Type: "order_new", Category: "store", Title: "t", Message: "m"})
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
}
