package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edupoint/slms-api/internal/models"
)

const pushChannel = "slms:push"

// PushSubscriber is one live transport attached to the hub. Events arrive on
// C; the hub never blocks on a slow subscriber, it drops instead.
type PushSubscriber struct {
	UserID string
	C      chan models.PushEvent

	hub  *PushHub
	once sync.Once
}

// Close detaches the subscriber from the hub.
func (s *PushSubscriber) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// PushHub is the per-recipient fan-out bus for in-app delivery. With a Redis
// client attached, events travel through a pub/sub channel so every process
// sees them; without one the hub degrades to in-process dispatch. Delivery
// is best-effort by contract: persistence is the durable path.
type PushHub struct {
	redis  *redis.Client
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[*PushSubscriber]struct{}
}

// NewPushHub constructs the hub. redisClient may be nil.
func NewPushHub(redisClient *redis.Client, logger *zap.Logger) *PushHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushHub{
		redis:  redisClient,
		logger: logger,
		subs:   make(map[string]map[*PushSubscriber]struct{}),
	}
}

// Subscribe attaches a transport for one recipient.
func (h *PushHub) Subscribe(userID string) *PushSubscriber {
	sub := &PushSubscriber{
		UserID: userID,
		C:      make(chan models.PushEvent, 16),
		hub:    h,
	}
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*PushSubscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *PushHub) unsubscribe(sub *PushSubscriber) {
	h.mu.Lock()
	if set, ok := h.subs[sub.UserID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.UserID)
		}
	}
	h.mu.Unlock()
	close(sub.C)
}

// SubscriberCount reports attached transports for a recipient.
func (h *PushHub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Publish fans an event out. When Redis is attached the event goes through
// the shared channel and local dispatch happens on receipt in Run; otherwise
// it is dispatched in-process directly.
func (h *PushHub) Publish(ctx context.Context, event models.PushEvent) {
	if h.redis == nil {
		h.dispatch(event)
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode push event", zap.Error(err))
		return
	}
	if err := h.redis.Publish(ctx, pushChannel, payload).Err(); err != nil {
		h.logger.Warn("push publish failed, dispatching locally", zap.Error(err))
		h.dispatch(event)
	}
}

// Run consumes the Redis channel until the context ends. A no-op when no
// Redis client is attached.
func (h *PushHub) Run(ctx context.Context) {
	if h.redis == nil {
		<-ctx.Done()
		return
	}
	pubsub := h.redis.Subscribe(ctx, pushChannel)
	defer pubsub.Close() //nolint:errcheck

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event models.PushEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Warn("dropping malformed push event", zap.Error(err))
				continue
			}
			h.dispatch(event)
		}
	}
}

func (h *PushHub) dispatch(event models.PushEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[event.RecipientID] {
		select {
		case sub.C <- event:
		default:
			h.logger.Debug("dropping push event for slow subscriber",
				zap.String("recipient", event.RecipientID))
		}
	}
}
