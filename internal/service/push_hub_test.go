package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edupoint/slms-api/internal/models"
)

func TestPushHubDeliversToRecipient(t *testing.T) {
	hub := NewPushHub(nil, zap.NewNop())
	sub := hub.Subscribe("u1")
	defer sub.Close()
	other := hub.Subscribe("u2")
	defer other.Close()

	hub.Publish(context.Background(), models.PushEvent{
		Kind:        models.PushNotificationCreated,
		RecipientID: "u1",
	})

	select {
	case event := <-sub.C:
		assert.Equal(t, models.PushNotificationCreated, event.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected push event")
	}
	select {
	case <-other.C:
		t.Fatal("event leaked to another recipient")
	default:
	}
}

func TestPushHubFansOutToAllTransports(t *testing.T) {
	hub := NewPushHub(nil, zap.NewNop())
	first := hub.Subscribe("u1")
	defer first.Close()
	second := hub.Subscribe("u1")
	defer second.Close()

	assert.Equal(t, 2, hub.SubscriberCount("u1"))

	hub.Publish(context.Background(), models.PushEvent{Kind: models.PushUnreadCount, RecipientID: "u1"})

	for _, sub := range []*PushSubscriber{first, second} {
		select {
		case <-sub.C:
		case <-time.After(time.Second):
			t.Fatal("transport missed the event")
		}
	}
}

func TestPushHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewPushHub(nil, zap.NewNop())
	sub := hub.Subscribe("u1")
	defer sub.Close()

	// Overflow the buffer; the hub must never block.
	for i := 0; i < cap(sub.C)+5; i++ {
		hub.Publish(context.Background(), models.PushEvent{Kind: models.PushUnreadCount, RecipientID: "u1"})
	}
	assert.Len(t, sub.C, cap(sub.C))
}

func TestPushSubscriberClose(t *testing.T) {
	hub := NewPushHub(nil, zap.NewNop())
	sub := hub.Subscribe("u1")

	sub.Close()
	sub.Close() // idempotent

	assert.Zero(t, hub.SubscriberCount("u1"))
	_, open := <-sub.C
	require.False(t, open)

	// Publishing after close must not panic.
	hub.Publish(context.Background(), models.PushEvent{Kind: models.PushUnreadCount, RecipientID: "u1"})
}
