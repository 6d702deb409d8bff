// Package internal holds constants and sentinel errors shared across the
// pipeline's operator packages.
package internal

import "time"

const (
	// Component type discriminators (match the pipeline definition's
	// "type" fields, spec §6).
	KafkaIngestorType  = "kafka"
	TemporalJoinType   = "temporal"
	ClickHouseSinkType = "clickhouse"

	// Stream naming constants.
	GlassflowStreamPrefix = "gf-stream"
	DLQSuffix             = "DLQ"
	DLQSubjectName        = "failed"
	DLQMaxBatchSize       = 100

	// Consumer group offset constants, spec §4.3.
	InitialOffsetEarliest = "earliest"
	InitialOffsetLatest   = "latest"

	// Join orientation constants, spec §4.5.
	JoinLeft  = "left"
	JoinRight = "right"

	// Operator roles, used as the DLQMessage.Component discriminator.
	RoleSink         = "sink"
	RoleJoin         = "join"
	RoleIngestor     = "ingestor"
	RoleDeduplicator = "dedup"

	// Kafka data type constants, spec §3.
	KafkaTypeString  = "string"
	KafkaTypeBool    = "bool"
	KafkaTypeInt     = "int"
	KafkaTypeInt8    = "int8"
	KafkaTypeInt16   = "int16"
	KafkaTypeInt32   = "int32"
	KafkaTypeInt64   = "int64"
	KafkaTypeUint    = "uint"
	KafkaTypeUint8   = "uint8"
	KafkaTypeUint16  = "uint16"
	KafkaTypeUint32  = "uint32"
	KafkaTypeUint64  = "uint64"
	KafkaTypeFloat   = "float"
	KafkaTypeFloat32 = "float32"
	KafkaTypeFloat64 = "float64"
	KafkaTypeBytes   = "bytes"

	// ClickHouse data type constants, spec §3.
	CHTypeString     = "String"
	CHTypeFString    = "FixedString"
	CHTypeBool       = "Bool"
	CHTypeInt8       = "Int8"
	CHTypeInt16      = "Int16"
	CHTypeInt32      = "Int32"
	CHTypeInt64      = "Int64"
	CHTypeLCInt8     = "LowCardinality(Int8)"
	CHTypeLCInt16    = "LowCardinality(Int16)"
	CHTypeLCInt32    = "LowCardinality(Int32)"
	CHTypeLCInt64    = "LowCardinality(Int64)"
	CHTypeUInt8      = "UInt8"
	CHTypeUInt16     = "UInt16"
	CHTypeUInt32     = "UInt32"
	CHTypeUInt64     = "UInt64"
	CHTypeLCUInt8    = "LowCardinality(UInt8)"
	CHTypeLCUInt16   = "LowCardinality(UInt16)"
	CHTypeLCUInt32   = "LowCardinality(UInt32)"
	CHTypeLCUInt64   = "LowCardinality(UInt64)"
	CHTypeFloat32    = "Float32"
	CHTypeFloat64    = "Float64"
	CHTypeLCFloat32  = "LowCardinality(Float32)"
	CHTypeLCFloat64  = "LowCardinality(Float64)"
	CHTypeEnum8      = "Enum8"
	CHTypeEnum16     = "Enum16"
	CHTypeDateTime   = "DateTime"
	CHTypeDateTime64 = "DateTime64"
	CHTypeUUID       = "UUID"
	CHTypeLCString   = "LowCardinality(String)"
	CHTypeLCFString  = "LowCardinality(FixedString)"
	CHTypeLCDateTime = "LowCardinality(DateTime)"

	// Stream publisher constants, grounded on stream.NatsPublisher.
	PublisherInitialRetryDelay = 200 * time.Millisecond
	PublisherMaxRetryDelay     = 5 * time.Second
	PublisherMaxRetryWait      = 1 * time.Minute

	// Stream consumer constants, grounded on stream.NewNATSConsumer.
	ConsumerRetries           = 10
	ConsumerInitialRetryDelay = 200 * time.Millisecond
	ConsumerMaxRetryDelay     = 5 * time.Second
	ConsumerMaxWait           = 30 * time.Second

	// NATS client constants, grounded on client.NewNATSClient.
	NATSCleanupTimeout    = 5 * time.Second
	NATSConnectionTimeout = 5 * time.Second
	NATSConnectionRetries = 10
	NATSInitialRetryDelay = 200 * time.Millisecond
	NATSMaxRetryDelay     = 5 * time.Second
	NATSMaxConnectionWait = 30 * time.Second

	// Kafka consumer constants, grounded on kafka.newConnectionConfig.
	ClientID           = "streametl-consumer"
	DefaultDialTimeout = 5000 * time.Millisecond
	MechanismSHA256    = "SCRAM-SHA-256"
	MechanismSHA512    = "SCRAM-SHA-512"

	// Ingestor publish-retry constants, spec §4.3.
	IngestorInitialRetryDelay = 500 * time.Millisecond
	IngestorMaxRetryDelay     = 5 * time.Second
	IngestorMaxRetryWait      = 1 * time.Minute

	// Join constants, spec §4.5/§4.7: exactly two sides.
	JoinSidesSupported = 2

	// FetchRetryDelay is the delay between empty-poll retries on a bus fetch.
	FetchRetryDelay = 100 * time.Millisecond

	// SinkDefaultBatchMaxDelayTime is the maximum time to wait before
	// flushing a partial batch to ClickHouse, spec §4.6.
	SinkDefaultBatchMaxDelayTime = 1 * time.Second
	// SinkDefaultShutdownTimeout bounds the final drain-and-flush on stop.
	SinkDefaultShutdownTimeout = 5 * time.Second
	// SinkDefaultInsertRetries bounds the INSERT retry budget before the
	// sink surfaces a Fatal error and leaves the batch unacknowledged.
	SinkDefaultInsertRetries = 3

	// DefaultShutdownDeadline is not read anywhere: Manager.Stop waits for
	// every operator to return, with no deadline.
	DefaultShutdownDeadline = 30 * time.Second

	// DedupDefaultWindow is used when a topic enables deduplication
	// without specifying an explicit window.
	DedupDefaultWindow = 24 * time.Hour
	// DedupDefaultBatchSize bounds how many messages the dedup operator
	// pulls and deduplicates in one badger transaction.
	DedupDefaultBatchSize = 100

	// NatsDefaultAckWait bounds how long JetStream waits for an ack
	// before redelivering, grounded on the teacher's stream consumer setup.
	NatsDefaultAckWait = 30 * time.Second
)
