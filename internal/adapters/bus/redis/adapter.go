package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"fieldops.dispatch/internal/core/domain"
	"fieldops.dispatch/internal/core/logger"
	"fieldops.dispatch/internal/core/ports"
)

const eventChannel = "dispatch:events"

// envelope carries a group-addressed event across instances.
type envelope struct {
	Group string       `json:"group"`
	Event domain.Event `json:"event"`
}

// Bridge extends an in-process group bus across server instances via Redis
// pub/sub. Joins and leaves stay local (presence is per-instance by
// definition); publishes round-trip through Redis so every instance's local
// subscribers see every event. Fire-and-forget on both legs.
type Bridge struct {
	client *redis.Client
	local  ports.GroupBus
}

func NewBridge(url string, local ports.GroupBus) (*Bridge, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return &Bridge{client: client, local: local}, client, nil
}

// Start consumes the shared channel and fans received events into the
// local registry. Runs until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) {
	pubsub := b.client.Subscribe(ctx, eventChannel)

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logger.Warn("bad event envelope on redis channel", "error", err)
					continue
				}
				b.local.Publish(env.Group, env.Event)
			}
		}
	}()
}

func (b *Bridge) Join(group string, sub ports.Subscriber) {
	b.local.Join(group, sub)
}

func (b *Bridge) Leave(group string, sub ports.Subscriber) {
	b.local.Leave(group, sub)
}

// Publish routes through Redis so peer instances deliver too. If Redis is
// unreachable the event still reaches local subscribers directly.
func (b *Bridge) Publish(group string, event domain.Event) {
	data, err := json.Marshal(envelope{Group: group, Event: event})
	if err != nil {
		b.local.Publish(group, event)
		return
	}
	if err := b.client.Publish(context.Background(), eventChannel, data).Err(); err != nil {
		logger.Warn("redis publish failed, delivering locally only", "error", err)
		b.local.Publish(group, event)
	}
}
