package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/streametl/internal/models"
)

func singleTopicConfig() models.PipelineConfig {
	return models.PipelineConfig{
		PipelineID: "p1",
		Source: models.SourceConfig{
			Topics: []models.KafkaTopicConfig{
				{
					Name: "stream1",
					Schema: models.TopicSchema{
						Fields: []models.SchemaField{
							{Name: "string_field", Type: "string"},
							{Name: "int_field", Type: "int"},
							{Name: "bool_field", Type: "bool"},
						},
					},
				},
			},
		},
		Sink: models.SinkConfig{
			TableMapping: []models.TableMappingEntry{
				{SourceID: "stream1", FieldName: "string_field", ColumnName: "col1", ColumnType: "String"},
				{SourceID: "stream1", FieldName: "int_field", ColumnName: "col2", ColumnType: "Int32"},
				{SourceID: "stream1", FieldName: "bool_field", ColumnName: "col3", ColumnType: "Bool"},
			},
		},
	}
}

func TestNewMapper(t *testing.T) {
	t.Run("valid configuration", func(t *testing.T) {
		mapper, err := NewMapper(singleTopicConfig())
		require.NoError(t, err)
		assert.NotNil(t, mapper)
		assert.Len(t, mapper.Topics, 1)
		assert.Len(t, mapper.Columns, 3)
		assert.Equal(t, []string{"col1", "col2", "col3"}, mapper.GetOrderedColumns())
	})

	t.Run("mapping references unknown topic", func(t *testing.T) {
		cfg := singleTopicConfig()
		cfg.Sink.TableMapping = append(cfg.Sink.TableMapping, models.TableMappingEntry{
			SourceID: "nonexistent", FieldName: "x", ColumnName: "col4", ColumnType: "String",
		})

		mapper, err := NewMapper(cfg)
		require.Error(t, err)
		assert.Nil(t, mapper)
		assert.Contains(t, err.Error(), "unknown topic")
	})

	t.Run("mapping references unknown field", func(t *testing.T) {
		cfg := singleTopicConfig()
		cfg.Sink.TableMapping = append(cfg.Sink.TableMapping, models.TableMappingEntry{
			SourceID: "stream1", FieldName: "nonexistent_field", ColumnName: "col4", ColumnType: "String",
		})

		mapper, err := NewMapper(cfg)
		require.Error(t, err)
		assert.Nil(t, mapper)
		assert.Contains(t, err.Error(), "not declared")
	})

	t.Run("join source references unknown topic", func(t *testing.T) {
		cfg := singleTopicConfig()
		cfg.Join = models.JoinConfig{
			Enabled: true,
			Sources: []models.JoinSourceConfig{
				{SourceID: "stream1", JoinKey: "string_field", Orientation: "left"},
				{SourceID: "nonexistent", JoinKey: "x", Orientation: "right"},
			},
		}

		mapper, err := NewMapper(cfg)
		require.Error(t, err)
		assert.Nil(t, mapper)
	})
}

func TestGetKey(t *testing.T) {
	mapper, err := NewMapper(singleTopicConfig())
	require.NoError(t, err)

	t.Run("get string key", func(t *testing.T) {
		jsonData := []byte(`{"string_field": "test_value", "int_field": 42, "bool_field": true}`)
		value, err := mapper.GetKey("stream1", "string_field", jsonData)
		require.NoError(t, err)
		assert.Equal(t, "test_value", value)
	})

	t.Run("get int key", func(t *testing.T) {
		jsonData := []byte(`{"string_field": "test_value", "int_field":42, "bool_field": true}`)
		value, err := mapper.GetKey("stream1", "int_field", jsonData)
		require.NoError(t, err)
		assert.Equal(t, int64(42), value)
	})

	t.Run("key not found in schema", func(t *testing.T) {
		jsonData := []byte(`{"string_field": "test_value"}`)
		_, err := mapper.GetKey("stream1", "nonexistent_field", jsonData)
		require.Error(t, err)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := mapper.GetKey("stream1", "string_field", []byte(`invalid_json`))
		require.Error(t, err)
	})
}

func TestGetJoinKey(t *testing.T) {
	cfg := singleTopicConfig()
	cfg.Join = models.JoinConfig{
		Enabled: true,
		Sources: []models.JoinSourceConfig{
			{SourceID: "stream1", JoinKey: "string_field", Orientation: "left"},
		},
	}

	mapper, err := NewMapper(cfg)
	require.NoError(t, err)

	t.Run("get join key", func(t *testing.T) {
		jsonData := []byte(`{"string_field":"12345","int_field":1,"bool_field":true}`)
		value, err := mapper.GetJoinKey("stream1", jsonData)
		require.NoError(t, err)
		assert.Equal(t, "12345", value)
	})
}

func TestPrepareValues(t *testing.T) {
	mapper, err := NewMapper(singleTopicConfig())
	require.NoError(t, err)

	t.Run("prepare values", func(t *testing.T) {
		jsonData := []byte(`{"string_field": "test_value", "int_field": 42, "bool_field": true}`)
		values, err := mapper.PrepareValues(jsonData)
		require.NoError(t, err)
		assert.Equal(t, []any{"test_value", int32(42), true}, values)
	})

	t.Run("missing field leaves nil", func(t *testing.T) {
		jsonData := []byte(`{"string_field": "test_value", "bool_field": true}`)
		values, err := mapper.PrepareValues(jsonData)
		require.NoError(t, err)
		assert.Equal(t, "test_value", values[0])
		assert.Nil(t, values[1])
		assert.Equal(t, true, values[2])
	})
}

func TestPrepareValuesMultiTopic(t *testing.T) {
	cfg := models.PipelineConfig{
		PipelineID: "p2",
		Source: models.SourceConfig{
			Topics: []models.KafkaTopicConfig{
				{Name: "stream1", Schema: models.TopicSchema{Fields: []models.SchemaField{
					{Name: "id", Type: "string"}, {Name: "name", Type: "string"},
				}}},
				{Name: "stream2", Schema: models.TopicSchema{Fields: []models.SchemaField{
					{Name: "id", Type: "string"}, {Name: "value", Type: "int"},
				}}},
			},
		},
		Sink: models.SinkConfig{
			TableMapping: []models.TableMappingEntry{
				{SourceID: "stream1", FieldName: "id", ColumnName: "col_id", ColumnType: "String"},
				{SourceID: "stream1", FieldName: "name", ColumnName: "col_name", ColumnType: "String"},
				{SourceID: "stream2", FieldName: "value", ColumnName: "col_value", ColumnType: "Int32"},
			},
		},
	}

	mapper, err := NewMapper(cfg)
	require.NoError(t, err)

	jsonData := []byte(`{"stream1.id": "12345", "stream1.name": "test_name", "stream2.id": "12345", "stream2.value": 42}`)
	values, err := mapper.PrepareValues(jsonData)
	require.NoError(t, err)
	assert.Equal(t, []any{"12345", "test_name", int32(42)}, values)
}

func TestGetFieldsMap(t *testing.T) {
	mapper, err := NewMapper(singleTopicConfig())
	require.NoError(t, err)

	t.Run("get fields map", func(t *testing.T) {
		jsonData := []byte(`{"string_field":"v1","int_field":1,"bool_field":true,"extra_field":"ignored"}`)
		fieldsMap, err := mapper.GetFieldsMap("stream1", jsonData)
		require.NoError(t, err)
		assert.Len(t, fieldsMap, 3)
		assert.NotContains(t, fieldsMap, "extra_field")
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := mapper.GetFieldsMap("stream1", []byte(`invalid_json`))
		require.Error(t, err)
	})
}

func TestJoinData(t *testing.T) {
	cfg := models.PipelineConfig{
		PipelineID: "p3",
		Source: models.SourceConfig{
			Topics: []models.KafkaTopicConfig{
				{Name: "users", Schema: models.TopicSchema{Fields: []models.SchemaField{
					{Name: "id", Type: "string"}, {Name: "name", Type: "string"},
				}}},
				{Name: "orders", Schema: models.TopicSchema{Fields: []models.SchemaField{
					{Name: "id", Type: "string"}, {Name: "product", Type: "string"}, {Name: "quantity", Type: "int"},
				}}},
			},
		},
		Sink: models.SinkConfig{
			TableMapping: []models.TableMappingEntry{
				{SourceID: "users", FieldName: "id", ColumnName: "user_id", ColumnType: "String"},
				{SourceID: "users", FieldName: "name", ColumnName: "user_name", ColumnType: "String"},
				{SourceID: "orders", FieldName: "id", ColumnName: "order_id", ColumnType: "String"},
				{SourceID: "orders", FieldName: "product", ColumnName: "product", ColumnType: "String"},
				{SourceID: "orders", FieldName: "quantity", ColumnName: "quantity", ColumnType: "Int32"},
			},
		},
	}

	mapper, err := NewMapper(cfg)
	require.NoError(t, err)

	t.Run("join data", func(t *testing.T) {
		userData := []byte(`{"id":"12345","name":"John Doe"}`)
		orderData := []byte(`{"id":"12345","product":"Widget","quantity":5}`)

		joinedData, err := mapper.JoinData("users", userData, "orders", orderData)
		require.NoError(t, err)

		var result map[string]any
		require.NoError(t, json.Unmarshal(joinedData, &result))

		assert.Equal(t, "12345", result["users.id"])
		assert.Equal(t, "John Doe", result["users.name"])
		assert.Equal(t, "Widget", result["orders.product"])
	})

	t.Run("nil data", func(t *testing.T) {
		userData := []byte(`{"id":"12345","name":"John Doe"}`)

		_, err := mapper.JoinData("users", userData, "orders", nil)
		require.Error(t, err)

		_, err = mapper.JoinData("users", nil, "orders", userData)
		require.Error(t, err)
	})
}

func TestValidateSchema(t *testing.T) {
	mapper, err := NewMapper(singleTopicConfig())
	require.NoError(t, err)

	t.Run("valid data with all required fields", func(t *testing.T) {
		data := []byte(`{"string_field":"v","int_field":1,"bool_field":true}`)
		assert.NoError(t, mapper.ValidateSchema("stream1", data))
	})

	t.Run("valid data with extra fields", func(t *testing.T) {
		data := []byte(`{"string_field":"v","int_field":1,"bool_field":true,"extra":"x"}`)
		assert.NoError(t, mapper.ValidateSchema("stream1", data))
	})

	t.Run("missing required field", func(t *testing.T) {
		data := []byte(`{"string_field":"v","int_field":1}`)
		err := mapper.ValidateSchema("stream1", data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bool_field")
	})

	t.Run("unknown topic is a no-op", func(t *testing.T) {
		data := []byte(`{}`)
		assert.NoError(t, mapper.ValidateSchema("nonexistent", data))
	})

	t.Run("malformed json", func(t *testing.T) {
		err := mapper.ValidateSchema("stream1", []byte(`not_json_at_all`))
		require.Error(t, err)
	})
}

func TestNestedJSONFields(t *testing.T) {
	cfg := models.PipelineConfig{
		PipelineID: "p4",
		Source: models.SourceConfig{
			Topics: []models.KafkaTopicConfig{
				{Name: "stream1", Schema: models.TopicSchema{Fields: []models.SchemaField{
					{Name: "user.name", Type: "string"},
					{Name: "user.address.city", Type: "string"},
					{Name: "simple_field", Type: "string"},
				}}},
			},
		},
		Sink: models.SinkConfig{
			TableMapping: []models.TableMappingEntry{
				{SourceID: "stream1", FieldName: "user.name", ColumnName: "user_name", ColumnType: "String"},
				{SourceID: "stream1", FieldName: "user.address.city", ColumnName: "city", ColumnType: "String"},
				{SourceID: "stream1", FieldName: "simple_field", ColumnName: "simple", ColumnType: "String"},
			},
		},
	}

	mapper, err := NewMapper(cfg)
	require.NoError(t, err)

	jsonData := []byte(`{
		"user": {"name": "John Doe", "address": {"city": "New York"}},
		"simple_field": "test_value"
	}`)

	values, err := mapper.PrepareValues(jsonData)
	require.NoError(t, err)
	assert.Equal(t, []any{"John Doe", "New York", "test_value"}, values)
}
