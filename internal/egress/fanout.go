package egress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	notificationChannel = "recordings:egress-updates"
	publishTimeout      = 5 * time.Second
)

// fanoutPayload is the message published to Redis for cross-instance delivery.
type fanoutPayload struct {
	Notification Notification `json:"notification"`
	At           int64        `json:"at"`
}

// RedisFanout carries notifications between instances over Redis pub/sub. The webhook may land on any
// instance while the matching start attempt waits on another.
type RedisFanout struct {
	client redis.UniversalClient
	hub    *Hub
	logger *zap.Logger
}

// NewRedisFanout creates a fan-out that dispatches received notifications into hub.
func NewRedisFanout(client redis.UniversalClient, hub *Hub, logger *zap.Logger) *RedisFanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFanout{client: client, hub: hub, logger: logger}
}

// Publish sends n to every instance, this one included.
func (f *RedisFanout) Publish(ctx context.Context, n Notification) error {
	body, err := json.Marshal(fanoutPayload{Notification: n, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := f.client.Publish(ctx, notificationChannel, body).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Start subscribes to the channel and dispatches messages until ctx is done. It returns once the
// subscription is confirmed, so notifications published afterwards are not missed.
func (f *RedisFanout) Start(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, notificationChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p fanoutPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					f.logger.Warn("discarding malformed notification", zap.Error(err))
					continue
				}
				f.hub.Dispatch(p.Notification)
			}
		}
	}()
	f.logger.Info("notification fan-out subscribed", zap.String("channel", notificationChannel))
	return nil
}
