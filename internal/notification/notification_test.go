package notification_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/umkm/internal/config"
	"github.com/Additional-Code/umkm/internal/database/databasetest"
	"github.com/Additional-Code/umkm/internal/messaging"
	"github.com/Additional-Code/umkm/internal/notification"
	notificationrepo "github.com/Additional-Code/umkm/internal/repository/notification"
)

type published struct {
	eventType string
	key       []byte
	value     []byte
}

type capturePublisher struct {
	events []published
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, eventType string, key, value []byte) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, published{eventType: eventType, key: key, value: value})
	return nil
}

func (c *capturePublisher) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *capturePublisher) Topic() string { return "umkm.events" }

func sample() notification.Notification {
	return notification.Notification{
		UserID:   "owner-1",
		Type:     notification.TypeOrderNew,
		Category: notification.CategoryStore,
		Title:    "New order",
		Message:  "ORD-20261019-001",
		Data:     map[string]any{"order_id": "o-1"},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, sample().Validate())

	missingUser := sample()
	missingUser.UserID = ""
	assert.Error(t, missingUser.Validate())

	badCategory := sample()
	badCategory.Category = "global"
	assert.Error(t, badCategory.Validate())
}

func TestDatabaseDispatcher(t *testing.T) {
	ctx := context.Background()
	repo := notificationrepo.NewRepository(databasetest.New(t))
	d := notification.NewDatabaseDispatcher(repo)

	handle, err := d.Notify(ctx, sample())
	require.NoError(t, err)
	assert.Equal(t, "database", handle.Driver)
	assert.NotEmpty(t, handle.ID)

	items, total, err := repo.ListByUser(ctx, "owner-1", false, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, handle.ID, items[0].ID)
	assert.Equal(t, notification.CategoryStore, items[0].Category)
}

func TestBusDispatcherPublishesEvent(t *testing.T) {
	pub := &capturePublisher{}
	d := notification.NewBusDispatcher(pub)

	handle, err := d.Notify(context.Background(), sample())
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	assert.Equal(t, notification.EventRequested, pub.events[0].eventType)
	assert.Equal(t, []byte("owner-1"), pub.events[0].key)

	var event notification.RequestedEvent
	require.NoError(t, json.Unmarshal(pub.events[0].value, &event))
	assert.Equal(t, handle.ID, event.ID)
	assert.Equal(t, notification.TypeOrderNew, event.Type)
	assert.Equal(t, "o-1", event.Data["order_id"])

	pub.err = errors.New("broker down")
	_, err = d.Notify(context.Background(), sample())
	assert.Error(t, err)
}

func TestNewSelectsDriver(t *testing.T) {
	for driver, want := range map[string]string{"log": "log", "bus": "bus"} {
		d, err := notification.New(notification.Params{
			Config:    config.Config{Notification: config.Notification{Driver: driver}},
			Publisher: &capturePublisher{},
			Logger:    zap.NewNop(),
		})
		require.NoError(t, err)
		handle, err := d.Notify(context.Background(), sample())
		require.NoError(t, err)
		assert.Equal(t, want, handle.Driver)
	}

	_, err := notification.New(notification.Params{Config: config.Config{Notification: config.Notification{Driver: "sms"}}})
	assert.Error(t, err)
}
