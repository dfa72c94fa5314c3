// Package redisbus mirrors stored events onto a Redis stream so other
// processes can follow the log.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xiaot623/gogo/observability/internal/domain"
)

// DefaultMaxLen bounds the stream length (approximate trimming).
const DefaultMaxLen = 10000

// Publisher appends events to a Redis stream.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewPublisher creates a publisher on an existing client.
func NewPublisher(client *redis.Client, stream string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		stream: stream,
		maxLen: DefaultMaxLen,
		logger: logger.With("component", "redisbus"),
	}
}

// Dial parses url, connects and verifies the server answers.
func Dial(ctx context.Context, url, stream string, logger *slog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewPublisher(client, stream, logger), nil
}

// Fields renders the stream entry for ev.
func Fields(ev *domain.Event) (map[string]any, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	synthetic := "0"
	if ev.Synthetic {
		synthetic = "1"
	}
	return map[string]any{
		"event_id":   ev.EventID,
		"event_type": ev.EventType,
		"session_id": ev.SessionID,
		"source_app": ev.SourceApp,
		"synthetic":  synthetic,
		"data":       string(data),
	}, nil
}

// Publish appends ev to the stream.
func (p *Publisher) Publish(ctx context.Context, ev *domain.Event) error {
	fields, err := Fields(ev)
	if err != nil {
		return err
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	p.logger.DebugContext(ctx, "published event", "event_id", ev.EventID, "event_type", ev.EventType)
	return nil
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
