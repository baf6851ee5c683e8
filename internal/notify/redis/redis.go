// Package redis publishes commit events on a Redis pub/sub channel.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/example/resource-scheduler/internal/notify"
)

// DefaultChannel is used when Config.Channel is empty.
const DefaultChannel = "scheduler.commits"

// Config selects the server and channel.
type Config struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	Channel  string
}

type client interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Close() error
}

// Publisher implements notify.Publisher.
type Publisher struct {
	client  client
	channel string
}

// Dial connects to Redis and verifies the connection with a ping.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: address is required")
	}
	opts := &goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	c := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return newPublisher(c, cfg.Channel), nil
}

func newPublisher(c client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: c, channel: channel}
}

// Channel returns the pub/sub channel events go to.
func (p *Publisher) Channel() string { return p.channel }

// Publish sends the JSON encoding of e.
func (p *Publisher) Publish(ctx context.Context, e notify.Event) error {
	body, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", e.ID, err)
	}
	return nil
}

// Close releases the connection.
func (p *Publisher) Close() error { return p.client.Close() }

var _ notify.Publisher = (*Publisher)(nil)
