package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shrek82/jconn/core"
	"github.com/shrek82/jconn/logger"
)

// DefaultConnectionChannel is the channel connection events are published on.
const DefaultConnectionChannel = "jconn:connection_created"

// Publisher is the part of a redis client the publisher needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher broadcasts connection-created events as JSON on a redis
// channel, so other processes can watch connection churn.
type RedisPublisher struct {
	Client  Publisher
	Channel string
	Timeout time.Duration
	Log     logger.Logger
}

// NewRedisPublisher connects to redis with opt and checks the server with
// a ping.
func NewRedisPublisher(opt *redis.Options) (*RedisPublisher, error) {
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisPublisher{Client: client}, nil
}

// Close closes the underlying client when it is closable.
func (p *RedisPublisher) Close() error {
	if c, ok := p.Client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (p *RedisPublisher) ConnectionCreated(ctx context.Context, ev core.ConnectionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger().Error("encode connection event: %v", err)
		return
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	channel := p.Channel
	if channel == "" {
		channel = DefaultConnectionChannel
	}
	if err := p.Client.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger().WithFields(map[string]any{"alias": ev.Alias, "channel": channel}).
			Warn("publish connection event: %v", err)
	}
}

func (p *RedisPublisher) logger() logger.Logger {
	if p.Log != nil {
		return p.Log
	}
	return logger.NewStdLogger()
}

var _ core.ConnectionObserver = (*RedisPublisher)(nil)
