package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/glassflow/streametl/internal"
)

// (e.g. "ack policy can not be updated" on existing consumers).
const JSErrCodeConsumerCreate jetstream.ErrorCode = 10012

// Consumer is the pull interface NatsSubscriber drives: one message at a
// time, blocking until available or erroring on timeout.
type Consumer interface {
	Next() (jetstream.Msg, error)
}

type ConsumerConfig struct {
	NatsStream    string
	NatsConsumer  string
	NatsSubject   string
	AckWait       time.Duration
	ExpireTimeout time.Duration
}

// NatsConsumer adapts a jetstream.Consumer's variadic, option-driven Next
// into the single-message Consumer interface NatsSubscriber drives, fixing
// the poll wait on every pull with expireTimeout.
type NatsConsumer struct {
	Consumer      jetstream.Consumer
	expireTimeout time.Duration
}

func (c *NatsConsumer) Next() (jetstream.Msg, error) {
	return c.Consumer.Next(jetstream.FetchMaxWait(c.expireTimeout))
}

func NewNATSConsumer(
	ctx context.Context,
	js jetstream.JetStream,
	cfg jetstream.ConsumerConfig,
	streamName string,
	expireTimeout time.Duration,
) (*NatsConsumer, error) {
	var (
		stream jetstream.Stream
		err    error
	)

	retryCtx, cancel := context.WithTimeout(ctx, internal.ConsumerMaxWait)
	defer cancel()

	retryDelay := internal.ConsumerInitialRetryDelay
	startTime := time.Now()

	for i := range internal.ConsumerRetries {
		if time.Since(startTime) > internal.ConsumerMaxWait {
			return nil, fmt.Errorf("timeout after %v waiting for the NATS stream %s", internal.ConsumerMaxWait, streamName)
		}

		stream, err = js.Stream(ctx, streamName)
		if err == nil {
			break
		}

		if errors.Is(err, jetstream.ErrStreamNotFound) {
			if i < internal.ConsumerRetries-1 {
				select {
				case <-time.After(retryDelay):
					slog.Warn("retrying nats stream lookup", "stream", streamName, "delay", retryDelay)
					// Continue with retry
				case <-retryCtx.Done():
					return nil, fmt.Errorf("context cancelled during retry delay for stream %s: %w", streamName, retryCtx.Err())
				}

				retryDelay = min(time.Duration(float64(retryDelay)*1.5), internal.ConsumerMaxRetryDelay)
			}
			continue
		}

		return nil, fmt.Errorf("get stream %s: %w", streamName, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", streamName, err)
	}

	if expireTimeout <= 0 {
		expireTimeout = time.Second
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == JSErrCodeConsumerCreate &&
			strings.Contains(apiErr.Description, "ack policy") {
			consumerName := cfg.Name
			if consumerName == "" {
				consumerName = cfg.Durable
			}
			if consumerName != "" {
				existing, getErr := stream.Consumer(ctx, consumerName)
				if getErr == nil {
					slog.Warn("reusing existing consumer, ack policy cannot be updated", "consumer", consumerName)
					return &NatsConsumer{Consumer: existing, expireTimeout: expireTimeout}, nil
				}
			}
		}
		return nil, fmt.Errorf("get or create consumer: %w", err)
	}

	return &NatsConsumer{Consumer: consumer, expireTimeout: expireTimeout}, nil
}
