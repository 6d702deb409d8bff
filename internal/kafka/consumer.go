// Package kafka wraps a sarama consumer group into the Fetch/Commit shape
// the ingestor drives, grounded on the teacher's internal/core/kafka
// (consumer.go, scram_client.go).
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/glassflow/streametl/internal"
	"github.com/glassflow/streametl/internal/models"
)

// Message is one fetched Kafka record, decoupled from sarama's own type so
// the ingestor package does not need to import sarama directly.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64

	Key     []byte
	Value   []byte
	Headers []sarama.RecordHeader
}

// Consumer is the ingestor's view of a Kafka topic subscription: fetch one
// record at a time, commit once it has been durably republished.
type Consumer interface {
	Fetch(context.Context) (Message, error)
	Commit(context.Context, Message) error
	Close() error
}

func newConnectionConfig(conn models.KafkaConnectionParams, groupID string, initialOffset string) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Net.DialTimeout = internal.DefaultDialTimeout
	cfg.ClientID = internal.ClientID

	if conn.Username != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Handshake = true
		cfg.Net.SASL.User = conn.Username
		cfg.Net.SASL.Password = conn.Password

		switch conn.Mechanism {
		case internal.MechanismSHA256:
			cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA256} }
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case internal.MechanismSHA512:
			cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA512} }
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	} else if conn.IAMEnable && conn.IAMRegion != "" {
		return nil, fmt.Errorf("IAM/MSK authentication is not supported")
	}

	if conn.RootCA != "" || conn.Protocol == "SASL_SSL" || conn.Protocol == "SSL" {
		tlsConfig := &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: conn.SkipTLSVerification, //nolint:gosec // operator-configured
		}
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = tlsConfig
	}

	switch initialOffset {
	case internal.InitialOffsetLatest:
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	return cfg, nil
}

// NewConsumer builds a consumer group joined under groupID, spec §4.3: the
// consumer group is derived from the pipeline ID and topic name by the
// caller (models.KafkaConsumerGroup), never a fixed shared group.
func NewConsumer(conn models.KafkaConnectionParams, topic models.KafkaTopicConfig, groupID string) (Consumer, error) {
	cfg, err := newConnectionConfig(conn, groupID, topic.ConsumerGroupInitialOffset)
	if err != nil {
		return nil, fmt.Errorf("build sarama config: %w", err)
	}

	cGroup, err := sarama.NewConsumerGroup(conn.Brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	consumer := &groupConsumer{
		cGroup:       cGroup,
		fetchCh:      make(chan *sarama.ConsumerMessage),
		commitCh:     make(chan *sarama.ConsumerMessage),
		consumeErrCh: make(chan error, 1),
		closeCh:      make(chan struct{}),
	}

	go func(kTopic string) {
		topics := []string{kTopic}
		for {
			if err := consumer.cGroup.Consume(context.Background(), topics, consumer); err != nil {
				select {
				case consumer.consumeErrCh <- err:
				case <-consumer.closeCh:
					return
				}
			}
			select {
			case <-consumer.closeCh:
				return
			default:
			}
		}
	}(topic.Name)

	return consumer, nil
}

type groupConsumer struct {
	cGroup sarama.ConsumerGroup

	fetchCh      chan *sarama.ConsumerMessage
	commitCh     chan *sarama.ConsumerMessage
	consumeErrCh chan error

	closeCh chan struct{}
}

func (c *groupConsumer) Fetch(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-c.fetchCh:
		if !ok {
			return Message{}, fmt.Errorf("consumer closed")
		}
		return Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,

			Key:     msg.Key,
			Value:   msg.Value,
			Headers: convertToMessageHeaders(msg.Headers),
		}, nil
	case err := <-c.consumeErrCh:
		return Message{}, fmt.Errorf("consume: %w", err)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *groupConsumer) Commit(ctx context.Context, msg Message) error {
	m := &sarama.ConsumerMessage{ //nolint: exhaustruct // optional struct definition
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,

		Key:   msg.Key,
		Value: msg.Value,
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.commitCh <- m:
	case err := <-c.consumeErrCh:
		return fmt.Errorf("commit: %w", err)
	case <-c.closeCh:
		return fmt.Errorf("consumer closed, cannot commit message")
	}

	return nil
}

func (c *groupConsumer) Close() error {
	close(c.closeCh)
	if err := c.cGroup.Close(); err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}
	return nil
}

func (c *groupConsumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *groupConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *groupConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case c.fetchCh <- msg:
			case <-c.closeCh:
				return nil
			}

			select {
			case msg = <-c.commitCh:
				session.MarkMessage(msg, "")
			case <-c.closeCh:
				return nil
			}

		case <-c.closeCh:
			return nil

		case <-session.Context().Done():
			return nil
		}
	}
}

func convertToMessageHeaders(consumerHeaders []*sarama.RecordHeader) []sarama.RecordHeader {
	msgHeaders := make([]sarama.RecordHeader, len(consumerHeaders))
	for i, element := range consumerHeaders {
		msgHeaders[i] = *element
	}
	return msgHeaders
}
