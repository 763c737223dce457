// Package redisbroker implements broker.Broker on Redis Streams so that
// processes on different hosts can exchange JSON-RPC messages.
package redisbroker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/jsonrpc-go/broker"
	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is prepended to every key when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "jsonrpc:broker:"

var _ broker.Broker = (*Broker)(nil)

// Broker is a Redis Streams-based implementation of the broker.Broker interface.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	// block bounds each XREAD so cancellation is noticed promptly.
	block time.Duration
}

// Config contains configuration options for the Redis broker. Defaults can be
// loaded from the environment with NewFromEnv.
type Config struct {
	// Client is the Redis client to use. When nil a client is created for Addr.
	Client redis.UniversalClient
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Password for AUTH, if any. ENV: REDIS_PASSWORD
	Password string `env:"REDIS_PASSWORD"`
	// DB selects the logical database. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: BROKER_KEY_PREFIX
	KeyPrefix string `env:"BROKER_KEY_PREFIX,default=jsonrpc:broker:"`
}

// New creates a new Redis-based broker instance.
func New(cfg Config) *Broker {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &Broker{
		client:    client,
		keyPrefix: keyPrefix,
		block:     time.Second,
	}
}

// NewFromEnv builds a Broker using envdecode to populate Config and checks
// that the server is reachable.
func NewFromEnv(ctx context.Context) (*Broker, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redis broker config: %w", err)
	}
	b := New(cfg)
	if err := b.client.Ping(ctx).Err(); err != nil {
		_ = b.client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return b, nil
}

// Close closes the Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Publish implements broker.Broker. Redis assigns the event ID.
func (b *Broker) Publish(ctx context.Context, namespace string, message jsonrpc.Message) (string, error) {
	streamKey := b.streamKey(namespace)

	eventID, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{
			"data": []byte(message),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish message to stream %s: %w", streamKey, err)
	}

	return eventID, nil
}

// Subscribe implements broker.Broker. Malformed stream entries are skipped.
func (b *Broker) Subscribe(ctx context.Context, namespace string, lastEventID string, handler broker.MessageHandler) error {
	streamKey := b.streamKey(namespace)

	startID, err := b.startID(ctx, streamKey, lastEventID)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// No consumer group: every subscriber sees every message.
		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, startID},
			Count:   64,
			Block:   b.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read from stream %s: %w", streamKey, err)
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				startID = message.ID

				data, ok := message.Values["data"].(string)
				if !ok {
					continue
				}

				if err := handler(ctx, broker.MessageEnvelope{ID: message.ID, Data: jsonrpc.Message(data)}); err != nil {
					return err
				}
			}
		}
	}
}

// startID resolves lastEventID into an XREAD position. An empty lastEventID is
// pinned to the current tail rather than "$" so messages published between
// this call and the first XREAD are not skipped.
func (b *Broker) startID(ctx context.Context, streamKey, lastEventID string) (string, error) {
	switch lastEventID {
	case broker.FromStart:
		return "0-0", nil
	case "":
		last, err := b.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("failed to read tail of stream %s: %w", streamKey, err)
		}
		if len(last) == 0 {
			return "0-0", nil
		}
		return last[0].ID, nil
	}

	msgs, err := b.client.XRangeN(ctx, streamKey, lastEventID, lastEventID, 1).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", broker.ErrUnknownEventID, lastEventID, err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("%w: %s", broker.ErrUnknownEventID, lastEventID)
	}
	return lastEventID, nil
}

// Cleanup implements broker.Broker by deleting the namespace's stream.
func (b *Broker) Cleanup(ctx context.Context, namespace string) error {
	err := b.client.Del(ctx, b.streamKey(namespace)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to cleanup namespace %s: %w", namespace, err)
	}

	return nil
}

func (b *Broker) streamKey(namespace string) string {
	return b.keyPrefix + "stream:" + namespace
}
