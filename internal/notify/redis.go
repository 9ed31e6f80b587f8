package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/nvrd/nvrd/internal/history"
)

// Notifier publishes recorder events to an external channel so other
// services (dashboards, bots) can react without polling the API.
type Notifier interface {
	Publish(ctx context.Context, e history.Event) error
}

// Redis publishes JSON-encoded events to a Redis pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

// Config configures the Redis notifier. An empty Addr disables it.
type Config struct {
	Addr    string `mapstructure:"addr"`
	Channel string `mapstructure:"channel"`
}

// NewRedis returns nil when no address is configured.
func NewRedis(cfg Config) *Redis {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil
	}
	ch := cfg.Channel
	if ch == "" {
		ch = "nvrd:events"
	}
	return &Redis{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: ch,
	}
}

func (r *Redis) Publish(ctx context.Context, e history.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *Redis) Close() error { return r.client.Close() }

// Emit publishes via n when non-nil. Publish failures are logged and
// swallowed; notifications are best-effort.
func Emit(ctx context.Context, n Notifier, logger *slog.Logger, e history.Event) {
	if n == nil {
		return
	}
	if err := n.Publish(ctx, e); err != nil && logger != nil {
		logger.Warn("event notification dropped", "type", string(e.Type), "error", err)
	}
}
