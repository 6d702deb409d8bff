package schema

import (
	"testing"

	"github.com/glassflow/streametl/internal/models"
)

var benchmarkJSON = []byte(`{
    "@timestamp": "2026-01-20T17:00:57.740705Z",
    "@version": 1192,
    "account_id": 787123561870312,
    "app_name": "ddd",
    "app_version": "2.0.0",
    "client_ip": "64.138.63.176",
    "cluster_name": "dns.name.here.com",
    "component": "component3",
    "component_type": "api",
    "env_name": "test",
    "extension_id": "",
    "host": "ams02-c01-aaa01.int.rclabenv.com",
    "hostname": "aaa-lkiwhri182-189723i",
    "location": "lon01",
    "log_agent": "filebeat",
    "log_format": "xml",
    "log_level": "WARNING",
    "log_type": "security",
    "logger_name": "com.baomidou.dynamic.datasource.DynamicRoutingDataSource",
    "logger_type": "logger",
    "message": "v=2&cid=775699636.6929331942927",
    "modified_timestamp": false,
    "port": 15265,
    "request_id": "7612886e-b7d6-4a6b-98f1-c99e7a0bbb1c",
    "request_method": "PATCH",
    "request_uri": "/health",
    "status_code": "400",
    "thread": "health-checker-readOnlyDatabase",
    "timestamp": "2026-01-20T17:00:57.740742",
    "type": "audit"
}`)

func benchmarkTopicSchema() models.TopicSchema {
	fields := []string{
		"@timestamp", "string", "@version", "int", "account_id", "int",
		"app_name", "string", "app_version", "string", "client_ip", "string",
		"cluster_name", "string", "component", "string", "component_type", "string",
		"env_name", "string", "extension_id", "string", "host", "string",
		"hostname", "string", "location", "string", "log_agent", "string",
		"log_format", "string", "log_level", "string", "log_type", "string",
		"logger_name", "string", "logger_type", "string",
		"message", "string", "modified_timestamp", "bool", "port", "int",
		"request_id", "string", "request_method", "string", "request_uri", "string",
		"status_code", "string", "thread", "string", "timestamp", "string", "type", "string",
	}

	schema := models.TopicSchema{Type: "json"}
	for i := 0; i < len(fields); i += 2 {
		schema.Fields = append(schema.Fields, models.SchemaField{Name: fields[i], Type: fields[i+1]})
	}
	return schema
}

func setupBenchmarkMapper(b *testing.B) *JSONToClickHouseMapper {
	b.Helper()

	cfg := models.PipelineConfig{
		PipelineID: "bench",
		Source: models.SourceConfig{
			Topics: []models.KafkaTopicConfig{
				{Name: "logs", Schema: benchmarkTopicSchema()},
			},
		},
		Sink: models.SinkConfig{
			TableMapping: []models.TableMappingEntry{
				{SourceID: "logs", FieldName: "@timestamp", ColumnName: "timestamp", ColumnType: "DateTime64(6)"},
				{SourceID: "logs", FieldName: "@version", ColumnName: "version", ColumnType: "Int32"},
				{SourceID: "logs", FieldName: "account_id", ColumnName: "account_id", ColumnType: "Int64"},
				{SourceID: "logs", FieldName: "app_name", ColumnName: "app_name", ColumnType: "String"},
				{SourceID: "logs", FieldName: "app_version", ColumnName: "app_version", ColumnType: "String"},
				{SourceID: "logs", FieldName: "client_ip", ColumnName: "client_ip", ColumnType: "String"},
				{SourceID: "logs", FieldName: "cluster_name", ColumnName: "cluster_name", ColumnType: "String"},
				{SourceID: "logs", FieldName: "component", ColumnName: "component", ColumnType: "String"},
				{SourceID: "logs", FieldName: "component_type", ColumnName: "component_type", ColumnType: "String"},
				{SourceID: "logs", FieldName: "env_name", ColumnName: "env_name", ColumnType: "String"},
				{SourceID: "logs", FieldName: "extension_id", ColumnName: "extension_id", ColumnType: "String"},
				{SourceID: "logs", FieldName: "host", ColumnName: "host", ColumnType: "String"},
				{SourceID: "logs", FieldName: "hostname", ColumnName: "hostname", ColumnType: "String"},
				{SourceID: "logs", FieldName: "location", ColumnName: "location", ColumnType: "String"},
				{SourceID: "logs", FieldName: "log_agent", ColumnName: "log_agent", ColumnType: "String"},
				{SourceID: "logs", FieldName: "log_format", ColumnName: "log_format", ColumnType: "String"},
				{SourceID: "logs", FieldName: "log_level", ColumnName: "log_level", ColumnType: "String"},
				{SourceID: "logs", FieldName: "log_type", ColumnName: "log_type", ColumnType: "String"},
				{SourceID: "logs", FieldName: "logger_name", ColumnName: "logger_name", ColumnType: "String"},
				{SourceID: "logs", FieldName: "logger_type", ColumnName: "logger_type", ColumnType: "String"},
				{SourceID: "logs", FieldName: "message", ColumnName: "message", ColumnType: "String"},
				{SourceID: "logs", FieldName: "modified_timestamp", ColumnName: "modified_timestamp", ColumnType: "Bool"},
				{SourceID: "logs", FieldName: "port", ColumnName: "port", ColumnType: "Int32"},
				{SourceID: "logs", FieldName: "request_id", ColumnName: "request_id", ColumnType: "String"},
				{SourceID: "logs", FieldName: "request_method", ColumnName: "request_method", ColumnType: "String"},
				{SourceID: "logs", FieldName: "request_uri", ColumnName: "request_uri", ColumnType: "String"},
				{SourceID: "logs", FieldName: "status_code", ColumnName: "status_code", ColumnType: "String"},
				{SourceID: "logs", FieldName: "thread", ColumnName: "thread", ColumnType: "String"},
				{SourceID: "logs", FieldName: "timestamp", ColumnName: "event_timestamp", ColumnType: "String"},
				{SourceID: "logs", FieldName: "type", ColumnName: "type", ColumnType: "String"},
			},
		},
	}

	mapper, err := NewMapper(cfg)
	if err != nil {
		b.Fatalf("failed to create mapper: %v", err)
	}

	return mapper
}

func BenchmarkPrepareValues(b *testing.B) {
	mapper := setupBenchmarkMapper(b)

	b.ReportAllocs()

	for b.Loop() {
		_, err := mapper.PrepareValues(benchmarkJSON)
		if err != nil {
			b.Fatalf("PrepareValues failed: %v", err)
		}
	}
}

func BenchmarkGetJoinKey(b *testing.B) {
	mapper := setupBenchmarkMapper(b)
	mapper.Topics["logs"] = Topic{Fields: mapper.Topics["logs"].Fields, JoinKey: "request_id"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := mapper.GetJoinKey("logs", benchmarkJSON)
		if err != nil {
			b.Fatalf("GetJoinKey failed: %v", err)
		}
	}
}

func BenchmarkGetFieldsMap(b *testing.B) {
	mapper := setupBenchmarkMapper(b)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := mapper.GetFieldsMap("logs", benchmarkJSON)
		if err != nil {
			b.Fatalf("GetFieldsMap failed: %v", err)
		}
	}
}

func BenchmarkValidateSchema(b *testing.B) {
	mapper := setupBenchmarkMapper(b)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		err := mapper.ValidateSchema("logs", benchmarkJSON)
		if err != nil {
			b.Fatalf("ValidateSchema failed: %v", err)
		}
	}
}

func BenchmarkGetKey(b *testing.B) {
	mapper := setupBenchmarkMapper(b)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := mapper.GetKey("logs", "request_id", benchmarkJSON)
		if err != nil {
			b.Fatalf("GetKey failed: %v", err)
		}
	}
}

func BenchmarkJoinData(b *testing.B) {
	cfg := models.PipelineConfig{
		PipelineID: "bench-join",
		Source: models.SourceConfig{
			Topics: []models.KafkaTopicConfig{
				{Name: "left_stream", Schema: models.TopicSchema{Fields: []models.SchemaField{
					{Name: "request_id", Type: "string"},
					{Name: "app_name", Type: "string"},
					{Name: "message", Type: "string"},
				}}},
				{Name: "right_stream", Schema: models.TopicSchema{Fields: []models.SchemaField{
					{Name: "request_id", Type: "string"},
					{Name: "status_code", Type: "string"},
					{Name: "client_ip", Type: "string"},
				}}},
			},
		},
		Join: models.JoinConfig{
			Enabled: true,
			Sources: []models.JoinSourceConfig{
				{SourceID: "left_stream", JoinKey: "request_id", Orientation: "left"},
				{SourceID: "right_stream", JoinKey: "request_id", Orientation: "right"},
			},
		},
		Sink: models.SinkConfig{
			TableMapping: []models.TableMappingEntry{
				{SourceID: "left_stream", FieldName: "request_id", ColumnName: "request_id", ColumnType: "String"},
				{SourceID: "left_stream", FieldName: "app_name", ColumnName: "app_name", ColumnType: "String"},
				{SourceID: "left_stream", FieldName: "message", ColumnName: "message", ColumnType: "String"},
				{SourceID: "right_stream", FieldName: "status_code", ColumnName: "status_code", ColumnType: "String"},
				{SourceID: "right_stream", FieldName: "client_ip", ColumnName: "client_ip", ColumnType: "String"},
			},
		},
	}

	mapper, err := NewMapper(cfg)
	if err != nil {
		b.Fatalf("failed to create mapper: %v", err)
	}

	leftData := []byte(`{"request_id": "7612886e-b7d6-4a6b-98f1-c99e7a0bbb1c", "app_name": "ddd", "message": "test message"}`)
	rightData := []byte(`{"request_id": "7612886e-b7d6-4a6b-98f1-c99e7a0bbb1c", "status_code": "400", "client_ip": "64.138.63.176"}`)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := mapper.JoinData("left_stream", leftData, "right_stream", rightData)
		if err != nil {
			b.Fatalf("JoinData failed: %v", err)
		}
	}
}

func BenchmarkGetOrderedColumns(b *testing.B) {
	mapper := setupBenchmarkMapper(b)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = mapper.GetOrderedColumns()
	}
}

func BenchmarkNewMapper(b *testing.B) {
	cfg := models.PipelineConfig{
		PipelineID: "bench-new",
		Source: models.SourceConfig{
			Topics: []models.KafkaTopicConfig{
				{Name: "logs", Schema: models.TopicSchema{Fields: []models.SchemaField{
					{Name: "@timestamp", Type: "string"},
					{Name: "@version", Type: "int"},
					{Name: "account_id", Type: "int"},
					{Name: "app_name", Type: "string"},
					{Name: "message", Type: "string"},
					{Name: "request_id", Type: "string"},
				}}},
			},
		},
		Sink: models.SinkConfig{
			TableMapping: []models.TableMappingEntry{
				{SourceID: "logs", FieldName: "@timestamp", ColumnName: "timestamp", ColumnType: "DateTime64(6)"},
				{SourceID: "logs", FieldName: "@version", ColumnName: "version", ColumnType: "Int32"},
				{SourceID: "logs", FieldName: "account_id", ColumnName: "account_id", ColumnType: "Int64"},
				{SourceID: "logs", FieldName: "app_name", ColumnName: "app_name", ColumnType: "String"},
				{SourceID: "logs", FieldName: "message", ColumnName: "message", ColumnType: "String"},
				{SourceID: "logs", FieldName: "request_id", ColumnName: "request_id", ColumnType: "String"},
			},
		},
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := NewMapper(cfg)
		if err != nil {
			b.Fatalf("failed to create mapper: %v", err)
		}
	}
}
