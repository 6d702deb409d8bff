package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/glassflow/streametl/internal"
)

type publishOpts struct {
	UntilAck bool
}

type PublishOpt func(*publishOpts)

func WithUntilAck() PublishOpt {
	return func(opts *publishOpts) {
		opts.UntilAck = true
	}
}

// Publisher is the bus-facing publish side used by every operator to emit
// its output onto the durable bus, spec §4.2.
type Publisher interface {
	Publish(ctx context.Context, msg []byte) error
	GetSubject() string
	PublishNatsMsg(ctx context.Context, msg *nats.Msg, opts ...PublishOpt) error
	PublishBatch(ctx context.Context, msgs []*nats.Msg) ([]FailedMessage, error)
}

type FailedMessage interface {
	GetData() []byte
	GetError() error
}

type NatsFailedMessage struct {
	Msg *nats.Msg
	Err error
}

func (fm *NatsFailedMessage) GetData() []byte {
	if fm.Msg != nil {
		return fm.Msg.Data
	}
	return nil
}

func (fm *NatsFailedMessage) GetError() error {
	return fm.Err
}

type PublisherConfig struct {
	Subject string
}

// NatsPublisher publishes to one JetStream subject, with an optional
// bounded-backoff retry loop on top of the synchronous publish call,
// grounded on the teacher's stream.NatsPublisher.
type NatsPublisher struct {
	js      jetstream.JetStream
	log     *slog.Logger
	Subject string
}

func NewNATSPublisher(js jetstream.JetStream, log *slog.Logger, cfg PublisherConfig) *NatsPublisher {
	return &NatsPublisher{
		js:      js,
		log:     log,
		Subject: cfg.Subject,
	}
}

func (p *NatsPublisher) Publish(ctx context.Context, msg []byte) error {
	if _, err := p.js.Publish(ctx, p.Subject, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.Subject, err)
	}
	return nil
}

func (p *NatsPublisher) PublishNatsMsg(ctx context.Context, msg *nats.Msg, opts ...PublishOpt) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}

	options := &publishOpts{}
	for _, opt := range opts {
		opt(options)
	}

	if !options.UntilAck {
		if _, err := p.js.PublishMsg(ctx, msg); err != nil {
			return fmt.Errorf("publish to %s: %w", msg.Subject, err)
		}
		return nil
	}

	retryDelay := internal.PublisherInitialRetryDelay
	startTime := time.Now()
	for {
		_, err := p.js.PublishMsg(ctx, msg)
		if err == nil {
			return nil
		}

		if errors.Is(err, nats.ErrConnectionClosed) {
			return fmt.Errorf("connection error: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
			p.log.Warn("retrying publish", "subject", msg.Subject, "delay", retryDelay, "error", err)
		}

		if time.Since(startTime) >= internal.PublisherMaxRetryWait {
			return fmt.Errorf("max retry wait exceeded: %w", err)
		}

		retryDelay = min(time.Duration(float64(retryDelay)*1.5), internal.PublisherMaxRetryDelay)
	}
}

// PublishBatch publishes every message to the bus, attempting each one even
// after an earlier one failed, and returns the ones that failed. Unlike a
// single atomic batch append, JetStream offers no multi-message transaction
// primitive here, so partial publication on failure is possible; the dedup
// operator, its caller, treats any failure as a Transient error and has the
// whole batch redelivered (spec §7).
func (p *NatsPublisher) PublishBatch(ctx context.Context, msgs []*nats.Msg) ([]FailedMessage, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	var failed []FailedMessage
	for _, msg := range msgs {
		if msg.Subject == "" {
			msg.Subject = p.Subject
		}
		if _, err := p.js.PublishMsg(ctx, msg); err != nil {
			failed = append(failed, &NatsFailedMessage{Msg: msg, Err: err})
		}
	}

	if len(failed) > 0 {
		return failed, fmt.Errorf("%d of %d messages failed to publish", len(failed), len(msgs))
	}
	return nil, nil
}

func (p *NatsPublisher) GetSubject() string {
	return p.Subject
}
