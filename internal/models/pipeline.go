// Package models holds the wire-level configuration types exchanged with
// the (out-of-scope) control plane: the pipeline definition document of
// spec §6, plus the naming helpers derived from it.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/glassflow/streametl/internal"
)

// SchemaField is one (field_name, kafka_type) pair of a topic schema, spec §3.
type SchemaField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TopicSchema is the ordered list of fields declared for one Kafka topic.
type TopicSchema struct {
	Type   string        `json:"type"`
	Fields []SchemaField `json:"fields"`
}

// DeduplicationConfig is a topic's optional dedup window, spec §4.4.
type DeduplicationConfig struct {
	Enabled     bool     `json:"enabled"`
	IDField     string   `json:"id_field"`
	IDFieldType string   `json:"id_field_type"`
	TimeWindow  Duration `json:"time_window"`
}

// KafkaTopicConfig is one entry of source.topics, spec §6.
type KafkaTopicConfig struct {
	Name                       string              `json:"name"`
	ID                         string              `json:"id"`
	ConsumerGroupInitialOffset string              `json:"consumer_group_initial_offset"`
	Schema                     TopicSchema         `json:"schema"`
	Deduplication              DeduplicationConfig `json:"deduplication"`
}

// KafkaConnectionParams is source.connection_params, spec §6.
type KafkaConnectionParams struct {
	Brokers              []string `json:"brokers"`
	Protocol             string   `json:"protocol"`
	Mechanism            string   `json:"mechanism"`
	Username             string   `json:"username"`
	Password             string   `json:"password"`
	RootCA               string   `json:"root_ca"`
	SkipTLSVerification  bool     `json:"skip_tls_verification"`
	IAMEnable            bool     `json:"iam_enable"`
	IAMRegion            string   `json:"iam_region"`
}

// SourceConfig is the pipeline definition's "source" object, spec §6.
type SourceConfig struct {
	Type             string                `json:"type"`
	ConnectionParams KafkaConnectionParams `json:"connection_params"`
	Topics           []KafkaTopicConfig    `json:"topics"`
}

// JoinSourceConfig is one entry of join.sources, spec §6.
type JoinSourceConfig struct {
	SourceID    string   `json:"source_id"`
	JoinKey     string   `json:"join_key"`
	TimeWindow  Duration `json:"time_window"`
	Orientation string   `json:"orientation"`
}

// JoinConfig is the pipeline definition's "join" object, spec §6.
type JoinConfig struct {
	Enabled bool               `json:"enabled"`
	Type    string             `json:"type"`
	Sources []JoinSourceConfig `json:"sources"`
}

// TableMappingEntry is one entry of sink.table_mapping, spec §3/§6.
// An entry with empty ColumnName/ColumnType is schema-only (needed by
// dedup/join) and is not sent to ClickHouse.
type TableMappingEntry struct {
	SourceID   string `json:"source_id"`
	FieldName  string `json:"field_name"`
	ColumnName string `json:"column_name"`
	ColumnType string `json:"column_type"`
}

// IsSinkColumn reports whether this mapping entry produces a ClickHouse column.
func (e TableMappingEntry) IsSinkColumn() bool {
	return e.ColumnName != "" && e.ColumnType != ""
}

// SinkConfig is the pipeline definition's "sink" object, spec §6.
type SinkConfig struct {
	Type                         string              `json:"type"`
	Host                         string              `json:"host"`
	Port                         string              `json:"port"`
	Database                     string              `json:"database"`
	Table                        string              `json:"table"`
	Username                     string              `json:"username"`
	Password                     string              `json:"password"`
	Secure                       bool                `json:"secure"`
	SkipCertificateVerification  bool                `json:"skip_certificate_verification"`
	MaxBatchSize                 int                 `json:"max_batch_size"`
	MaxDelayTime                 Duration            `json:"max_delay_time"`
	TableMapping                 []TableMappingEntry `json:"table_mapping"`
}

// PipelineConfig is the complete pipeline definition document, spec §6.
type PipelineConfig struct {
	PipelineID string       `json:"pipeline_id"`
	Name       string       `json:"name"`
	Source     SourceConfig `json:"source"`
	Join       JoinConfig   `json:"join"`
	Sink       SinkConfig   `json:"sink"`
}

// TopicByName looks up one of the pipeline's declared source topics.
func (p PipelineConfig) TopicByName(name string) (KafkaTopicConfig, bool) {
	for _, t := range p.Source.Topics {
		if t.Name == name {
			return t, true
		}
	}
	return KafkaTopicConfig{}, false
}

// MultiTopic reports whether field names in mappings must be namespaced
// "<topic>.<field>" (spec §4.1 prepare_row) rather than used bare.
func (p PipelineConfig) MultiTopic() bool {
	return len(p.Source.Topics) > 1
}

// Validate checks the §3 invariants that are not already enforced by the
// schema mapper's own construction-time validation. Configuration failures
// are surfaced at create, never at runtime (spec §7).
func (p PipelineConfig) Validate() error {
	if p.PipelineID == "" {
		return fmt.Errorf("%w: pipeline_id is required", internal.ErrInvalidPipelineConfig)
	}
	if len(p.Source.Topics) == 0 {
		return fmt.Errorf("%w: at least one source topic is required", internal.ErrInvalidPipelineConfig)
	}
	for _, t := range p.Source.Topics {
		if len(t.Schema.Fields) == 0 {
			return fmt.Errorf("%w: topic %q has no schema fields", internal.ErrInvalidPipelineConfig, t.Name)
		}
	}
	if p.Join.Enabled && len(p.Join.Sources) != internal.JoinSidesSupported {
		return fmt.Errorf("%w: join requires exactly %d sources, got %d",
			internal.ErrInvalidPipelineConfig, internal.JoinSidesSupported, len(p.Join.Sources))
	}
	if len(p.Sink.TableMapping) == 0 {
		return fmt.Errorf("%w: sink requires at least one mapping entry", internal.ErrInvalidPipelineConfig)
	}
	sinkCols := 0
	for _, m := range p.Sink.TableMapping {
		if !m.IsSinkColumn() {
			continue
		}
		sinkCols++
		if _, ok := p.TopicByName(m.SourceID); !ok {
			return fmt.Errorf("%w: mapping column %q references unknown source_id %q",
				internal.ErrInvalidPipelineConfig, m.ColumnName, m.SourceID)
		}
	}
	if sinkCols == 0 {
		return fmt.Errorf("%w: sink requires at least one non schema-only mapping entry", internal.ErrInvalidPipelineConfig)
	}
	return nil
}

// GenerateStreamHash derives a short, filesystem/subject-safe identifier
// from a pipeline ID, grounded on the teacher's models.GenerateStreamHash.
func GenerateStreamHash(pipelineID string) string {
	sum := sha256.Sum256([]byte(pipelineID))
	return hex.EncodeToString(sum[:])[:12]
}

// Bus subjects are derived and stable across restarts, spec §6.

// TopicInputSubject is the subject an ingestor publishes raw validated
// events to for one topic.
func TopicInputSubject(pipelineID, topicName string) string {
	return fmt.Sprintf("%s.%s.%s.input", internal.GlassflowStreamPrefix, GenerateStreamHash(pipelineID), topicName)
}

func TopicInputStreamName(pipelineID, topicName string) string {
	return fmt.Sprintf("%s-%s-%s", internal.GlassflowStreamPrefix, GenerateStreamHash(pipelineID), topicName)
}

// DedupOutputSubject is the subject the dedup operator re-emits survivors on.
func DedupOutputSubject(pipelineID, topicName string) string {
	return fmt.Sprintf("%s.%s.%s.deduped", internal.GlassflowStreamPrefix, GenerateStreamHash(pipelineID), topicName)
}

func DedupOutputStreamName(pipelineID, topicName string) string {
	return fmt.Sprintf("%s-%s-%s-dedup", internal.GlassflowStreamPrefix, GenerateStreamHash(pipelineID), topicName)
}

// JoinOutputSubject is the subject the join operator emits merged rows on.
func JoinOutputSubject(pipelineID string) string {
	return fmt.Sprintf("%s.%s.joined", internal.GlassflowStreamPrefix, GenerateStreamHash(pipelineID))
}

func JoinOutputStreamName(pipelineID string) string {
	return fmt.Sprintf("%s-%s-joined", internal.GlassflowStreamPrefix, GenerateStreamHash(pipelineID))
}

// GetDLQStreamName and GetDLQStreamSubjectName mirror the teacher's DLQ
// naming helpers in internal/models/dlq.go.
func GetDLQStreamName(pipelineID string) string {
	return fmt.Sprintf("%s-%s-%s", internal.GlassflowStreamPrefix, GenerateStreamHash(pipelineID), internal.DLQSuffix)
}

func GetDLQStreamSubjectName(pipelineID string) string {
	return GetDLQStreamName(pipelineID) + "." + internal.DLQSubjectName
}

// DurableConsumerName derives the bus's durable consumer name, spec §6:
// "<pipeline_id>.<operator>".
func DurableConsumerName(pipelineID, operator string) string {
	return pipelineID + "." + operator
}

// KafkaConsumerGroup derives the Kafka consumer group for one topic, spec
// §4.3: "consumer group is derived from the pipeline ID and topic name".
func KafkaConsumerGroup(pipelineID, topicName string) string {
	return pipelineID + "." + topicName
}
