// Package realtime carries "something changed" notifications between writers
// and feed read models over Redis pub/sub. One channel per entity kind;
// delivery is at-least-once and unordered, and payloads carry no more than
// the entity kind, so consumers always re-read authoritative state.
package realtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entity kinds with change streams.
const (
	EntityThreads   = "threads"
	EntityReplies   = "replies"
	EntityReactions = "reactions"
	EntityProfiles  = "profiles"
	EntityTags      = "tags"
	EntityTeams     = "teams"
)

const channelPrefix = "change:"

type Notifier struct {
	client *redis.Client
}

func NewNotifier(redisURL string) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Notifier{client: client}, nil
}

func NewNotifierWithClient(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) Close() error {
	return n.client.Close()
}

func (n *Notifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Publish announces that rows of the given entity kind changed. The payload
// is informational only; subscribers must refetch.
func (n *Notifier) Publish(ctx context.Context, entity string) error {
	if err := n.client.Publish(ctx, channelPrefix+entity, "changed").Err(); err != nil {
		return fmt.Errorf("publish %s change: %w", entity, err)
	}
	return nil
}

// Subscription is a live set of entity-change subscriptions. Close must be
// called when the owner is done with it; leaking subscriptions leaks a
// goroutine and a Redis connection.
type Subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

// Subscribe invokes fn with the entity kind for every change notification on
// any of the given entities. fn runs on the subscription's own goroutine, so
// callbacks for a single subscription never run concurrently with each other.
func (n *Notifier) Subscribe(ctx context.Context, entities []string, fn func(entity string)) (io.Closer, error) {
	channels := make([]string, len(entities))
	for i, entity := range entities {
		channels[i] = channelPrefix + entity
	}

	pubsub := n.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", entities, err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			fn(strings.TrimPrefix(msg.Channel, channelPrefix))
		}
	}()

	return sub, nil
}

// Close tears the subscription down and waits for the delivery goroutine to
// stop, so no callback fires after Close returns.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}
