// Package events fans status changes out over Redis pub/sub.
package events

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasklane/domain"
)

const DefaultChannel = "task-status-changed"

// Publisher publishes status changes on a Redis channel.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, ev domain.StatusChangedEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Subscribe delivers status changes published on channel to handle until ctx
// is cancelled. A closed subscription is re-established after a second.
func Subscribe(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	channel string,
	handle func(domain.StatusChangedEvent),
) {
	if channel == "" {
		channel = DefaultChannel
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.StatusChangedEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					logger.Errorf("unable to parse status event: %v", err)
					continue
				}
				if ev.Type != domain.StatusChangedEventType {
					logger.Debugf("ignoring event type %q", ev.Type)
					continue
				}
				handle(ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
