package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix is prepended to the user id to form the channel name.
const DefaultChannelPrefix = "cerberus:alerts:"

// RedisTransport publishes alerts on a per-user Redis channel. A replica
// subscribes to a user's channel only while it holds a live connection for
// that user (see Forward), so a publish that reaches no subscriber means the
// user is unreachable everywhere.
type RedisTransport struct {
	client *redis.Client
	prefix string
}

// NewRedisTransport creates a Redis pub/sub transport.
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client, prefix: DefaultChannelPrefix}
}

// WithChannelPrefix overrides DefaultChannelPrefix.
func (r *RedisTransport) WithChannelPrefix(prefix string) *RedisTransport {
	if prefix != "" {
		r.prefix = prefix
	}
	return r
}

// Channel returns the channel for userID.
func (r *RedisTransport) Channel(userID string) string {
	return r.prefix + userID
}

func (r *RedisTransport) Deliver(ctx context.Context, userID string, a *Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alerts: encode alert: %w", err)
	}

	receivers, err := r.client.Publish(ctx, r.Channel(userID), payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish alert: %w", err)
	}
	if receivers == 0 {
		return ErrUnreachable
	}
	return nil
}

// Presence collects users whose local live channel opened or closed since
// the last Drain. Updates coalesce per user, so Set never blocks the caller.
type Presence struct {
	mu      sync.Mutex
	pending map[string]bool
	ready   chan struct{}
}

// NewPresence creates an empty Presence.
func NewPresence() *Presence {
	return &Presence{pending: make(map[string]bool), ready: make(chan struct{}, 1)}
}

// Set records that userID now has (online) or no longer has a live channel.
func (p *Presence) Set(userID string, online bool) {
	p.mu.Lock()
	p.pending[userID] = online
	p.mu.Unlock()
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after Set.
func (p *Presence) Ready() <-chan struct{} {
	return p.ready
}

// Drain returns and clears the pending changes.
func (p *Presence) Drain() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = make(map[string]bool)
	return out
}

// Forward subscribes to the channel of each user in online and then follows
// presence, so a replica only listens for users it can actually reach. Each
// alert received is passed to fn. Forward returns when ctx ends or the
// subscription fails; the caller restarts it with a fresh online snapshot.
func (r *RedisTransport) Forward(ctx context.Context, online []string, presence *Presence, fn func(userID string, a *Alert)) error {
	sub := r.client.Subscribe(ctx)
	defer func() { _ = sub.Close() }()

	if len(online) > 0 {
		channels := make([]string, 0, len(online))
		for _, u := range online {
			channels = append(channels, r.Channel(u))
		}
		if err := sub.Subscribe(ctx, channels...); err != nil {
			return fmt.Errorf("redis subscribe alerts: %w", err)
		}
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-presence.Ready():
			for userID, on := range presence.Drain() {
				var err error
				if on {
					err = sub.Subscribe(ctx, r.Channel(userID))
				} else {
					err = sub.Unsubscribe(ctx, r.Channel(userID))
				}
				if err != nil {
					return fmt.Errorf("redis update alert subscription: %w", err)
				}
			}

		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var a Alert
			if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
				continue
			}
			fn(strings.TrimPrefix(msg.Channel, r.prefix), &a)
		}
	}
}
