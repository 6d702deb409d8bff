// Package pipeline wires one pipeline definition into its running
// operators: per-topic ingestors, an optional dedup operator per
// deduplicated topic, an optional join operator, and the ClickHouse sink,
// connected by durable NATS JetStream streams (spec §6). Grounded on the
// teacher's internal/service/pipeline.go, corrected to start operators in
// downstream-first order (see DESIGN.md correction 6): every consumer a
// stage publishes to must already exist before that stage's source starts
// pulling, so sink, then join/dedup, then ingestors last.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/glassflow/streametl/internal"
	"github.com/glassflow/streametl/internal/client"
	"github.com/glassflow/streametl/internal/deduplication"
	"github.com/glassflow/streametl/internal/ingestor"
	"github.com/glassflow/streametl/internal/join"
	"github.com/glassflow/streametl/internal/kafka"
	"github.com/glassflow/streametl/internal/kv"
	"github.com/glassflow/streametl/internal/models"
	"github.com/glassflow/streametl/internal/schema"
	"github.com/glassflow/streametl/internal/sink"
	"github.com/glassflow/streametl/internal/status"
	"github.com/glassflow/streametl/internal/stream"
)

// Manager runs exactly one pipeline definition's operators for the life of
// the process.
type Manager struct {
	nc  *client.NATSClient
	log *slog.Logger

	cfg          models.PipelineConfig
	schemaMapper schema.Mapper

	ingestors map[string]*ingestor.KafkaIngestor
	dedups    map[string]*deduplication.Dedup
	dedupDBs  map[string]*badgerdb.DB
	joinOp    *join.TemporalJoin
	sinkOp    *sink.ClickHouseSink

	counters map[string]*status.Counters

	wg sync.WaitGroup
}

func NewManager(nc *client.NATSClient, log *slog.Logger) *Manager {
	return &Manager{
		nc:        nc,
		log:       log,
		ingestors: make(map[string]*ingestor.KafkaIngestor),
		dedups:    make(map[string]*deduplication.Dedup),
		dedupDBs:  make(map[string]*badgerdb.DB),
		counters:  make(map[string]*status.Counters),
	}
}

// topicOutputSubject is the subject downstream stages (join or sink) read
// from for one topic: the dedup operator's output when dedup is enabled,
// otherwise the ingestor's own output (spec §4.3/§4.4).
func (m *Manager) topicOutputSubject(topic models.KafkaTopicConfig) (stream, subject string) {
	if topic.Deduplication.Enabled {
		return models.DedupOutputStreamName(m.cfg.PipelineID, topic.Name), models.DedupOutputSubject(m.cfg.PipelineID, topic.Name)
	}
	return models.TopicInputStreamName(m.cfg.PipelineID, topic.Name), models.TopicInputSubject(m.cfg.PipelineID, topic.Name)
}

// Setup validates the pipeline definition, provisions every NATS stream
// and KV bucket the operators need, and constructs (but does not start)
// every operator.
func (m *Manager) Setup(ctx context.Context, cfg models.PipelineConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate pipeline config: %w", err)
	}
	m.cfg = cfg
	m.log = m.log.With("pipeline_id", cfg.PipelineID)

	schemaMapper, err := schema.NewMapper(cfg)
	if err != nil {
		return fmt.Errorf("new schema mapper: %w", err)
	}
	m.schemaMapper = schemaMapper

	for _, topic := range cfg.Source.Topics {
		inStream := models.TopicInputStreamName(cfg.PipelineID, topic.Name)
		inSubject := models.TopicInputSubject(cfg.PipelineID, topic.Name)
		if err := m.nc.CreateOrUpdateStream(ctx, inStream, inSubject, 0); err != nil {
			return fmt.Errorf("create input stream for topic %q: %w", topic.Name, err)
		}

		if topic.Deduplication.Enabled {
			dedupStream := models.DedupOutputStreamName(cfg.PipelineID, topic.Name)
			dedupSubject := models.DedupOutputSubject(cfg.PipelineID, topic.Name)
			if err := m.nc.CreateOrUpdateStream(ctx, dedupStream, dedupSubject, 0); err != nil {
				return fmt.Errorf("create dedup output stream for topic %q: %w", topic.Name, err)
			}
		}
	}

	if cfg.Join.Enabled {
		joinStream := models.JoinOutputStreamName(cfg.PipelineID)
		joinSubject := models.JoinOutputSubject(cfg.PipelineID)
		if err := m.nc.CreateOrUpdateStream(ctx, joinStream, joinSubject, 0); err != nil {
			return fmt.Errorf("create join output stream: %w", err)
		}
	}

	dlqStream := models.GetDLQStreamName(cfg.PipelineID)
	if err := m.nc.CreateOrUpdateStream(ctx, dlqStream, models.GetDLQStreamSubjectName(cfg.PipelineID), 0); err != nil {
		return fmt.Errorf("create dlq stream: %w", err)
	}

	sinkStream, sinkSubject, err := m.sinkSource(ctx)
	if err != nil {
		return err
	}

	m.counters["sink"] = status.NewCounters()
	sinkConsumer, err := stream.NewNATSConsumer(ctx, m.nc.JetStream(),
		consumerConfig(models.DurableConsumerName(cfg.PipelineID, "sink"), sinkSubject),
		sinkStream, internal.ConsumerMaxWait)
	if err != nil {
		return fmt.Errorf("create sink consumer: %w", err)
	}
	dlqPublisher := stream.NewNATSPublisher(m.nc.JetStream(), m.log.With("component", "sink"),
		stream.PublisherConfig{Subject: models.GetDLQStreamSubjectName(cfg.PipelineID)})
	m.sinkOp, err = sink.NewClickHouseSink(ctx, cfg.Sink,
		sink.Config{MaxBatchSize: cfg.Sink.MaxBatchSize, MaxDelayTime: cfg.Sink.MaxDelayTime.Duration()},
		sinkConsumer, schemaMapper, m.log.With("component", "sink"), m.counters["sink"], dlqPublisher)
	if err != nil {
		return fmt.Errorf("create sink: %w", err)
	}

	if cfg.Join.Enabled {
		if err := m.setupJoin(ctx); err != nil {
			return err
		}
	}

	for _, topic := range cfg.Source.Topics {
		if topic.Deduplication.Enabled {
			if err := m.setupDedup(ctx, topic); err != nil {
				return err
			}
		}
		m.counters["ingestor."+topic.Name] = status.NewCounters()
		publisher := stream.NewNATSPublisher(m.nc.JetStream(), m.log.With("component", "ingestor", "topic", topic.Name),
			stream.PublisherConfig{Subject: models.TopicInputSubject(cfg.PipelineID, topic.Name)})
		in, err := ingestor.NewKafkaIngestor(cfg, topic.Name, publisher, schemaMapper, m.counters["ingestor."+topic.Name],
			m.log.With("component", "ingestor"))
		if err != nil {
			return fmt.Errorf("create ingestor for topic %q: %w", topic.Name, err)
		}
		m.ingestors[topic.Name] = in
	}

	return nil
}

// sinkSource resolves which stream/subject feeds the sink: the join
// operator's output when join is enabled, otherwise the sole topic's
// ingestor/dedup output.
func (m *Manager) sinkSource(_ context.Context) (streamName, subject string, err error) {
	if m.cfg.Join.Enabled {
		return models.JoinOutputStreamName(m.cfg.PipelineID), models.JoinOutputSubject(m.cfg.PipelineID), nil
	}
	if len(m.cfg.Source.Topics) != 1 {
		return "", "", fmt.Errorf("%w: sink requires join when more than one source topic is configured", internal.ErrInvalidPipelineConfig)
	}
	streamName, subject = m.topicOutputSubject(m.cfg.Source.Topics[0])
	return streamName, subject, nil
}

func (m *Manager) setupJoin(ctx context.Context) error {
	left, right := m.cfg.Join.Sources[0], m.cfg.Join.Sources[1]
	leftTopic, ok := m.cfg.TopicByName(left.SourceID)
	if !ok {
		return fmt.Errorf("%w: join left source_id %q not a source topic", internal.ErrInvalidPipelineConfig, left.SourceID)
	}
	rightTopic, ok := m.cfg.TopicByName(right.SourceID)
	if !ok {
		return fmt.Errorf("%w: join right source_id %q not a source topic", internal.ErrInvalidPipelineConfig, right.SourceID)
	}

	leftTTL, err := m.schemaMapper.GetLeftStreamTTL()
	if err != nil {
		return fmt.Errorf("get left join ttl: %w", err)
	}
	rightTTL, err := m.schemaMapper.GetRightStreamTTL()
	if err != nil {
		return fmt.Errorf("get right join ttl: %w", err)
	}

	leftStore, err := kv.NewNATSKeyValueStore(ctx, m.nc.JetStream(), kv.KeyValueStoreConfig{
		StoreName: joinBucketName(m.cfg.PipelineID, leftTopic.Name), TTL: leftTTL,
	})
	if err != nil {
		return fmt.Errorf("create left join kv store: %w", err)
	}
	rightStore, err := kv.NewNATSKeyValueStore(ctx, m.nc.JetStream(), kv.KeyValueStoreConfig{
		StoreName: joinBucketName(m.cfg.PipelineID, rightTopic.Name), TTL: rightTTL,
	})
	if err != nil {
		return fmt.Errorf("create right join kv store: %w", err)
	}

	leftStream, leftSubject := m.topicOutputSubject(leftTopic)
	rightStream, rightSubject := m.topicOutputSubject(rightTopic)

	leftConsumer, err := stream.NewNATSConsumer(ctx, m.nc.JetStream(),
		consumerConfig(models.DurableConsumerName(m.cfg.PipelineID, "join-left"), leftSubject), leftStream, internal.ConsumerMaxWait)
	if err != nil {
		return fmt.Errorf("create join left consumer: %w", err)
	}
	rightConsumer, err := stream.NewNATSConsumer(ctx, m.nc.JetStream(),
		consumerConfig(models.DurableConsumerName(m.cfg.PipelineID, "join-right"), rightSubject), rightStream, internal.ConsumerMaxWait)
	if err != nil {
		return fmt.Errorf("create join right consumer: %w", err)
	}

	publisher := stream.NewNATSPublisher(m.nc.JetStream(), m.log.With("component", "join"),
		stream.PublisherConfig{Subject: models.JoinOutputSubject(m.cfg.PipelineID)})

	m.counters["join"] = status.NewCounters()
	m.joinOp = join.NewTemporalJoin(leftConsumer, rightConsumer, publisher, m.schemaMapper,
		leftStore, rightStore, leftTopic.Name, rightTopic.Name, m.counters["join"], m.log.With("component", "join"))
	return nil
}

func (m *Manager) setupDedup(ctx context.Context, topic models.KafkaTopicConfig) error {
	inStream := models.TopicInputStreamName(m.cfg.PipelineID, topic.Name)
	inSubject := models.TopicInputSubject(m.cfg.PipelineID, topic.Name)

	consumer, err := stream.NewNATSConsumer(ctx, m.nc.JetStream(),
		consumerConfig(models.DurableConsumerName(m.cfg.PipelineID, "dedup-"+topic.Name), inSubject), inStream, internal.ConsumerMaxWait)
	if err != nil {
		return fmt.Errorf("create dedup consumer for topic %q: %w", topic.Name, err)
	}

	db, err := badgerdb.Open(badgerdb.DefaultOptions(""))
	if err != nil {
		return fmt.Errorf("open dedup store for topic %q: %w", topic.Name, err)
	}
	m.dedupDBs[topic.Name] = db

	ttl := topic.Deduplication.TimeWindow.Duration()
	if ttl <= 0 {
		ttl = internal.DedupDefaultWindow
	}

	publisher := stream.NewNATSPublisher(m.nc.JetStream(), m.log.With("component", "dedup", "topic", topic.Name),
		stream.PublisherConfig{Subject: models.DedupOutputSubject(m.cfg.PipelineID, topic.Name)})

	m.counters["dedup."+topic.Name] = status.NewCounters()
	m.dedups[topic.Name] = deduplication.NewDedup(consumer.Consumer, publisher, db, ttl, topic.Name,
		m.counters["dedup."+topic.Name], m.log.With("component", "dedup"), internal.DedupDefaultBatchSize, internal.ConsumerMaxWait)
	return nil
}

// Start launches every operator downstream-first (sink, then join/dedup,
// then ingestors) so nothing publishes before its consumer exists.
func (m *Manager) Start(ctx context.Context) {
	m.runAsync("sink", func() error { return m.sinkOp.Start(ctx) })

	if m.joinOp != nil {
		m.runAsync("join", func() error { return m.joinOp.Start(ctx) })
	}
	for name, d := range m.dedups {
		d := d
		m.runAsync("dedup."+name, func() error { return d.Start(ctx) })
	}
	for name, in := range m.ingestors {
		in := in
		m.runAsync("ingestor."+name, func() error { return in.Start(ctx) })
	}
}

func (m *Manager) runAsync(name string, fn func() error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := fn(); err != nil {
			m.log.Error("operator stopped with error", "operator", name, "error", err)
		}
	}()
}

// Stop drains upstream-first (ingestors, then join/dedup, then sink) so
// every event already accepted from the source has a chance to reach
// ClickHouse before the process exits (spec §4.3-§4.6).
func (m *Manager) Stop(noWait bool) {
	for _, in := range m.ingestors {
		in.Stop(noWait)
	}
	for _, d := range m.dedups {
		d.Stop()
	}
	if m.joinOp != nil {
		m.joinOp.Stop(noWait)
	}
	if m.sinkOp != nil {
		m.sinkOp.Stop(noWait)
	}
	m.wg.Wait()
	for _, db := range m.dedupDBs {
		if err := db.Close(); err != nil {
			m.log.Error("close dedup store", "error", err)
		}
	}
}

// Status returns a snapshot of every operator's counters for the
// pipeline's status operation (spec §7).
func (m *Manager) Status() map[string]status.Snapshot {
	out := make(map[string]status.Snapshot, len(m.counters))
	for name, c := range m.counters {
		out[name] = c.Snapshot()
	}
	return out
}

func joinBucketName(pipelineID, topicName string) string {
	return fmt.Sprintf("%s-%s-join-%s", internal.GlassflowStreamPrefix, models.GenerateStreamHash(pipelineID), topicName)
}

func consumerConfig(durable, subject string) jetstream.ConsumerConfig {
	//nolint:exhaustruct // optional config
	return jetstream.ConsumerConfig{
		Name:          durable,
		Durable:       durable,
		FilterSubject: subject,
		AckWait:       internal.NatsDefaultAckWait,
		AckPolicy:     jetstream.AckAllPolicy,
		MaxAckPending: -1,
	}
}
