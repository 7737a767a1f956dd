// SPDX-License-Identifier: MIT

// Package queue owns the connection to the durable message broker and the
// at-least-once-intent publish path. Connection retry lives here; publish
// retry deliberately does not — a failed publish usually means the whole
// connection is dead, and that decision belongs to the coordinator.
package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/caelyn-nl/pagerstream/internal/log"
	"github.com/caelyn-nl/pagerstream/internal/metrics"
)

// Config carries the broker connection parameters.
type Config struct {
	URL        string // full AMQP dial string, treated as a secret
	Host       string // host only, safe for logging
	Queue      string
	MessageTTL time.Duration
	RetryDelay time.Duration
}

// Publisher is a live connection plus channel to the broker with the target
// queue declared. Single-use: after Close, Connect a new one.
type Publisher struct {
	cfg  Config
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Connect dials the broker, retrying every RetryDelay until it succeeds or
// ctx is cancelled. On success the durable target queue is declared with
// the configured per-message TTL.
func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	logger := log.WithComponent("queue")
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := dial(cfg)
		if err == nil {
			metrics.IncBrokerConnect(true)
			logger.Info().
				Str(log.FieldEvent, "broker.connected").
				Str(log.FieldHost, cfg.Host).
				Str(log.FieldQueue, cfg.Queue).
				Msg("connected to broker")
			return p, nil
		}

		metrics.IncBrokerConnect(false)
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "broker.unavailable").
			Str(log.FieldHost, cfg.Host).
			Dur("retry_in", cfg.RetryDelay).
			Msg("broker unavailable, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}
}

// dial performs one connection attempt end to end: connection, channel,
// queue declaration. Any failure tears down what was already opened.
func dial(cfg Config) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{"x-message-ttl": cfg.MessageTTL.Milliseconds()},
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", cfg.Queue, err)
	}

	return &Publisher{cfg: cfg, conn: conn, ch: ch}, nil
}

// Publish writes one serialized record to the queue with persistent
// delivery marking. Errors are returned to the caller unretried.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	start := time.Now()
	err := p.ch.PublishWithContext(ctx,
		"",          // default exchange
		p.cfg.Queue, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		})
	if err != nil {
		metrics.PublishFailures.Inc()
		return fmt.Errorf("publish to %q: %w", p.cfg.Queue, err)
	}

	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	metrics.RecordsPublished.Inc()
	return nil
}

// Close releases the channel and connection. Idempotent and safe on
// connections the broker already dropped.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
