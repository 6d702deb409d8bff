package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/glassflow/streametl/internal"
	"github.com/glassflow/streametl/internal/models"
)

// Mapper is the schema mapper's operator-facing interface, spec §4.1:
// prepare_row, get_join_key, join_rows plus schema introspection.
type Mapper interface {
	GetLeftStreamTTL() (time.Duration, error)
	GetRightStreamTTL() (time.Duration, error)
	GetJoinKey(topicName string, data []byte) (any, error)
	GetKey(topicName, keyName string, data []byte) (any, error)
	GetOrderedColumns() []string
	PrepareValues(data []byte) ([]any, error)
	GetFieldsMap(topicName string, data []byte) (map[string]any, error)
	JoinData(leftTopic string, leftData []byte, rightTopic string, rightData []byte) ([]byte, error)
	ValidateSchema(topicName string, data []byte) error
}

// Topic is one source topic's schema plus its optional join participation,
// grounded on the teacher's schema.Stream.
type Topic struct {
	Fields          map[string]KafkaDataType
	JoinKey         string
	JoinOrientation string
	JoinWindow      time.Duration
}

// SinkColumn is one non-schema-only table_mapping entry, grounded on the
// teacher's schema.SinkMapping.
type SinkColumn struct {
	ColumnName string
	TopicName  string
	FieldName  string
	ColumnType ClickHouseDataType
}

type columnLookupInfo struct {
	index     int
	column    *SinkColumn
	fieldType KafkaDataType
}

// JSONToClickHouseMapper is the normative matrix-based mapper of spec §4.1.
type JSONToClickHouseMapper struct {
	Topics  map[string]Topic
	Columns []*SinkColumn

	orderedColumns   []string
	columnLookUpInfo map[string]columnLookupInfo

	leftTopic  string
	rightTopic string
}

// NewMapper builds a Mapper from a validated pipeline definition (spec §6).
// Callers must call PipelineConfig.Validate first; NewMapper re-derives the
// per-topic schema/join wiring but does not repeat the document-level checks.
func NewMapper(cfg models.PipelineConfig) (*JSONToClickHouseMapper, error) {
	topics := make(map[string]Topic, len(cfg.Source.Topics))
	for _, t := range cfg.Source.Topics {
		fields := make(map[string]KafkaDataType, len(t.Schema.Fields))
		for _, f := range t.Schema.Fields {
			fields[f.Name] = KafkaDataType(f.Type)
		}
		topics[t.Name] = Topic{Fields: fields}
	}

	if cfg.Join.Enabled {
		for _, js := range cfg.Join.Sources {
			topic, ok := topics[js.SourceID]
			if !ok {
				return nil, fmt.Errorf("%w: join source_id %q does not match a source topic",
					internal.ErrInvalidPipelineConfig, js.SourceID)
			}
			topic.JoinKey = js.JoinKey
			topic.JoinOrientation = js.Orientation
			topic.JoinWindow = js.TimeWindow.Duration()
			topics[js.SourceID] = topic
		}
	}

	columns := make([]*SinkColumn, 0, len(cfg.Sink.TableMapping))
	for _, m := range cfg.Sink.TableMapping {
		if !m.IsSinkColumn() {
			continue
		}
		columns = append(columns, &SinkColumn{
			ColumnName: m.ColumnName,
			TopicName:  m.SourceID,
			FieldName:  m.FieldName,
			ColumnType: ClickHouseDataType(m.ColumnType),
		})
	}

	mapper := &JSONToClickHouseMapper{
		Topics:           topics,
		Columns:          columns,
		columnLookUpInfo: make(map[string]columnLookupInfo, len(columns)),
	}

	for name, topic := range mapper.Topics {
		switch topic.JoinOrientation {
		case internal.JoinLeft:
			mapper.leftTopic = name
		case internal.JoinRight:
			mapper.rightTopic = name
		}
	}

	if err := mapper.validate(); err != nil {
		return nil, err
	}

	mapper.buildColumnOrder()
	mapper.buildGjsonFieldLookup(cfg.MultiTopic())

	return mapper, nil
}

func (m *JSONToClickHouseMapper) validate() error {
	for _, column := range m.Columns {
		topic, ok := m.Topics[column.TopicName]
		if !ok {
			return fmt.Errorf("%w: mapping references unknown topic %q", internal.ErrInvalidPipelineConfig, column.TopicName)
		}
		if _, ok := topic.Fields[column.FieldName]; !ok {
			return fmt.Errorf("%w: field %q not declared in topic %q schema",
				internal.ErrInvalidPipelineConfig, column.FieldName, column.TopicName)
		}
	}
	return nil
}

func (m *JSONToClickHouseMapper) buildColumnOrder() {
	m.orderedColumns = make([]string, len(m.Columns))
	for i, column := range m.Columns {
		m.orderedColumns[i] = column.ColumnName
	}
}

// buildGjsonFieldLookup pre-computes the key each column is looked up under
// in an incoming event. Multi-topic pipelines (more than one source
// topic) namespace fields "<topic>.<field>" since PrepareValues
// consumes the joined/merged event shape (spec §4.1 prepare_row).
func (m *JSONToClickHouseMapper) buildGjsonFieldLookup(multiTopic bool) {
	for i, column := range m.Columns {
		fieldName := column.FieldName
		if multiTopic {
			fieldName = column.TopicName + "." + column.FieldName
		}
		m.columnLookUpInfo[fieldName] = columnLookupInfo{
			index:     i,
			column:    column,
			fieldType: m.Topics[column.TopicName].Fields[column.FieldName],
		}
	}
}

func (m *JSONToClickHouseMapper) GetLeftStreamTTL() (time.Duration, error) {
	if m.leftTopic == "" {
		return 0, fmt.Errorf("left join topic is not defined in the mapper")
	}
	return m.Topics[m.leftTopic].JoinWindow, nil
}

func (m *JSONToClickHouseMapper) GetRightStreamTTL() (time.Duration, error) {
	if m.rightTopic == "" {
		return 0, fmt.Errorf("right join topic is not defined in the mapper")
	}
	return m.Topics[m.rightTopic].JoinWindow, nil
}

func (m *JSONToClickHouseMapper) GetLeftTopic() string  { return m.leftTopic }
func (m *JSONToClickHouseMapper) GetRightTopic() string { return m.rightTopic }

func (m *JSONToClickHouseMapper) getKey(topicName, keyName string, data []byte) (any, error) {
	var jsonData map[string]any
	if err := json.Unmarshal(data, &jsonData); err != nil {
		return nil, fmt.Errorf("parse event json: %w", err)
	}

	value, exists := getNestedValue(jsonData, keyName)
	if !exists {
		return nil, fmt.Errorf("%w: %q", internal.ErrKeyMissing, keyName)
	}

	fieldType := m.Topics[topicName].Fields[keyName]

	converted, err := ExtractEventValue(fieldType, value)
	if err != nil {
		return nil, fmt.Errorf("convert key %q: %w", keyName, err)
	}

	return converted, nil
}

// GetJoinKey extracts the configured join key value, spec §4.1 get_join_key.
func (m *JSONToClickHouseMapper) GetJoinKey(topicName string, data []byte) (any, error) {
	keyField := m.Topics[topicName].JoinKey
	if keyField == "" {
		return nil, fmt.Errorf("no join key defined for topic %q", topicName)
	}
	return m.getKey(topicName, keyField, data)
}

func (m *JSONToClickHouseMapper) GetKey(topicName, keyName string, data []byte) (any, error) {
	if keyName == "" {
		return nil, fmt.Errorf("key name cannot be empty")
	}
	topic, exists := m.Topics[topicName]
	if !exists {
		return nil, fmt.Errorf("topic %q not found in configuration", topicName)
	}
	if _, exists := topic.Fields[keyName]; !exists {
		return nil, fmt.Errorf("key %q not found in topic %q", keyName, topicName)
	}
	return m.getKey(topicName, keyName, data)
}

func (m *JSONToClickHouseMapper) GetOrderedColumns() []string {
	return m.orderedColumns
}

// PrepareValues extracts and converts every sink column's value from one
// event, spec §4.1 prepare_row. Missing fields leave their slot nil rather
// than failing; the sink hands that nil to the ClickHouse batch append as
// is, and an append error stops the sink.
func (m *JSONToClickHouseMapper) PrepareValues(data []byte) ([]any, error) {
	parsed := gjson.ParseBytes(data)

	values := make([]any, len(m.Columns))

	var conversionErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		info, exists := m.columnLookUpInfo[key.String()]
		if !exists {
			return true
		}
		converted, err := ConvertValueFromGjson(info.column.ColumnType, info.fieldType, value)
		if err != nil {
			conversionErr = fmt.Errorf("convert field %q: %w", info.column.FieldName, err)
			return false
		}
		values[info.index] = converted
		return true
	})
	if conversionErr != nil {
		return nil, conversionErr
	}

	for fieldPath, info := range m.columnLookUpInfo {
		if values[info.index] != nil {
			continue
		}
		value := parsed.Get(fieldPath)
		if !value.Exists() {
			continue
		}
		converted, err := ConvertValueFromGjson(info.column.ColumnType, info.fieldType, value)
		if err != nil {
			return nil, fmt.Errorf("convert field %q: %w", info.column.FieldName, err)
		}
		values[info.index] = converted
	}

	return values, nil
}

// GetFieldsMap extracts every declared field of one topic's schema as a
// flat map, used by the join operator to build the merged row (spec §4.5).
func (m *JSONToClickHouseMapper) GetFieldsMap(topicName string, data []byte) (map[string]any, error) {
	var jsonData map[string]any
	if err := json.Unmarshal(data, &jsonData); err != nil {
		return nil, fmt.Errorf("parse event json: %w", err)
	}

	result := make(map[string]any)
	for fieldName := range m.Topics[topicName].Fields {
		if value, exists := getNestedValue(jsonData, fieldName); exists {
			result[fieldName] = value
		}
	}
	return result, nil
}

// ValidateSchema checks that every declared field of a topic's schema is
// present in the event, in deterministic (sorted) field order so the first
// reported failure is stable across runs.
func (m *JSONToClickHouseMapper) ValidateSchema(topicName string, data []byte) error {
	topic, exists := m.Topics[topicName]
	if !exists {
		return nil
	}

	var jsonData map[string]any
	if err := json.Unmarshal(data, &jsonData); err != nil {
		return fmt.Errorf("parse event json: %w", err)
	}

	fieldNames := make([]string, 0, len(topic.Fields))
	for fieldName := range topic.Fields {
		fieldNames = append(fieldNames, fieldName)
	}
	sort.Strings(fieldNames)

	for _, key := range fieldNames {
		if _, exists := getNestedValue(jsonData, key); !exists {
			return fmt.Errorf("%w: field %q not found in topic %q event", internal.ErrKeyMissing, key, topicName)
		}
	}

	return nil
}

// JoinData merges one matched (left, right) pair into the joined event
// shape consumed downstream, namespacing every field "<topic>.<field>"
// (spec §4.5 join_rows).
func (m *JSONToClickHouseMapper) JoinData(leftTopic string, leftData []byte, rightTopic string, rightData []byte) ([]byte, error) {
	if leftData == nil || rightData == nil {
		return nil, fmt.Errorf("left or right event data is nil")
	}

	leftMap, err := m.GetFieldsMap(leftTopic, leftData)
	if err != nil {
		return nil, fmt.Errorf("extract left fields: %w", err)
	}
	rightMap, err := m.GetFieldsMap(rightTopic, rightData)
	if err != nil {
		return nil, fmt.Errorf("extract right fields: %w", err)
	}

	result := make(map[string]any, len(leftMap)+len(rightMap))
	for key, value := range leftMap {
		result[leftTopic+"."+key] = value
	}
	for key, value := range rightMap {
		result[rightTopic+"."+key] = value
	}

	resultData, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal joined event: %w", err)
	}

	return resultData, nil
}

// getNestedValue extracts a value from a nested JSON object using dot
// notation, preferring a flat key match first (field names may themselves
// contain dots, e.g. the "<topic>.<field>" namespacing used for joins).
func getNestedValue(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	if value, exists := data[path]; exists {
		return value, true
	}

	parts := strings.Split(path, ".")
	current := any(data)

	for _, part := range parts {
		if current == nil {
			return nil, false
		}
		mapValue, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = mapValue[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
