// Package schema implements the matrix-based schema mapper of spec §4.1.
// This is the normative path per spec §9's explicit open question: the
// teacher's alternate typeConverters-table mapper (internal/core/schema in
// the retrieved sources) is a legacy variant and is not reproduced here.
package schema

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/glassflow/streametl/internal"
)

type KafkaDataType string
type ClickHouseDataType string

// ExtractEventValue decodes one JSON value as the declared Kafka type,
// spec §4.1 extract_event_value. Integer widths enforce range; float widths
// require matching source width; bool requires a JSON boolean; string
// requires a JSON string; bytes requires a raw byte slice (base64-decoded
// from the JSON string per the edge policy).
func ExtractEventValue(dataType KafkaDataType, data any) (any, error) {
	switch dataType {
	case internal.KafkaTypeString:
		return ParseString(data)
	case internal.KafkaTypeBytes:
		return ParseBytes(data)
	case internal.KafkaTypeBool:
		return ParseBool(data)
	case internal.KafkaTypeInt:
		return ParseInt64(data)
	case internal.KafkaTypeInt8:
		return ParseInt8(data)
	case internal.KafkaTypeInt16:
		return ParseInt16(data)
	case internal.KafkaTypeInt32:
		return ParseInt32(data)
	case internal.KafkaTypeInt64:
		return ParseInt64(data)
	case internal.KafkaTypeUint:
		return ParseUint64(data)
	case internal.KafkaTypeUint8:
		return ParseUint8(data)
	case internal.KafkaTypeUint16:
		return ParseUint16(data)
	case internal.KafkaTypeUint32:
		return ParseUint32(data)
	case internal.KafkaTypeUint64:
		return ParseUint64(data)
	case internal.KafkaTypeFloat:
		return ParseFloat64(data)
	case internal.KafkaTypeFloat32:
		return ParseFloat32(data)
	case internal.KafkaTypeFloat64:
		return ParseFloat64(data)
	default:
		return nil, fmt.Errorf("%w: %q", internal.ErrUnsupportedType, dataType)
	}
}

// ExtractEventValueFromGjson is a gjson-based counterpart of
// ExtractEventValue that avoids an intermediate map[string]any allocation,
// grounded on ConvertValueFromGjson in the teacher's
// internal/schema/types.go. Nothing in this module calls it.
func ExtractEventValueFromGjson(dataType KafkaDataType, v gjson.Result) (any, error) {
	if !v.Exists() {
		return nil, fmt.Errorf("%w", internal.ErrKeyMissing)
	}

	switch dataType {
	case internal.KafkaTypeString:
		if v.Type != gjson.String {
			return nil, fmt.Errorf("%w: expected string", internal.ErrTypeMismatch)
		}
		return v.String(), nil
	case internal.KafkaTypeBool:
		if v.Type != gjson.True && v.Type != gjson.False {
			return nil, fmt.Errorf("%w: expected bool", internal.ErrTypeMismatch)
		}
		return v.Bool(), nil
	case internal.KafkaTypeBytes:
		if v.Type != gjson.String {
			return nil, fmt.Errorf("%w: expected string", internal.ErrTypeMismatch)
		}
		return ParseBytes(v.String())
	default:
		return ExtractEventValue(dataType, v.Value())
	}
}

// ConvertValueFromGjson is ConvertValue's gjson-sourced counterpart, used by
// the mapper's prepare_row fast path.
func ConvertValueFromGjson(columnType ClickHouseDataType, fieldType KafkaDataType, v gjson.Result) (any, error) {
	if !v.Exists() {
		return nil, nil
	}
	return ConvertValue(columnType, fieldType, v.Value())
}

// ConvertValue enforces the (clickhouse_type, kafka_type) compatibility
// matrix of spec §4.1. Any pairing not explicitly listed fails with
// TypeMismatch.
func ConvertValue(columnType ClickHouseDataType, fieldType KafkaDataType, data any) (any, error) {
	if data == nil {
		return nil, nil
	}

	ct := string(columnType)

	switch ct {
	case internal.CHTypeBool:
		if fieldType != internal.KafkaTypeBool {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseBool(data)

	case internal.CHTypeInt8, internal.CHTypeLCInt8:
		if !isIntCompatible(fieldType, internal.KafkaTypeInt8) {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseInt8(data)
	case internal.CHTypeInt16, internal.CHTypeLCInt16:
		if !isIntCompatible(fieldType, internal.KafkaTypeInt16) {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseInt16(data)
	case internal.CHTypeInt32, internal.CHTypeLCInt32:
		if !isIntCompatible(fieldType, internal.KafkaTypeInt32) {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseInt32(data)
	case internal.CHTypeInt64, internal.CHTypeLCInt64:
		if !isIntCompatible(fieldType, internal.KafkaTypeInt64) {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseInt64(data)

	case internal.CHTypeUInt8, internal.CHTypeLCUInt8:
		if !isUintCompatible(fieldType, internal.KafkaTypeUint8) {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseUint8(data)
	case internal.CHTypeUInt16, internal.CHTypeLCUInt16:
		if !isUintCompatible(fieldType, internal.KafkaTypeUint16) {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseUint16(data)
	case internal.CHTypeUInt32, internal.CHTypeLCUInt32:
		if !isUintCompatible(fieldType, internal.KafkaTypeUint32) {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseUint32(data)
	case internal.CHTypeUInt64, internal.CHTypeLCUInt64:
		if !isUintCompatible(fieldType, internal.KafkaTypeUint64) {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseUint64(data)

	case internal.CHTypeFloat32, internal.CHTypeLCFloat32:
		if !isFloatCompatible(fieldType, internal.KafkaTypeFloat32) {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseFloat32(data)
	case internal.CHTypeFloat64, internal.CHTypeLCFloat64:
		if !isFloatCompatible(fieldType, internal.KafkaTypeFloat64) {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseFloat64(data)

	case internal.CHTypeEnum8, internal.CHTypeEnum16, internal.CHTypeUUID,
		internal.CHTypeFString, internal.CHTypeLCString, internal.CHTypeLCFString:
		if fieldType != internal.KafkaTypeString {
			return nil, typeMismatch(ct, fieldType)
		}
		return ParseString(data)

	case internal.CHTypeString:
		switch fieldType {
		case internal.KafkaTypeString:
			return ParseString(data)
		case internal.KafkaTypeBytes:
			b, err := ParseBytes(data)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		default:
			return nil, typeMismatch(ct, fieldType)
		}

	case internal.CHTypeDateTime, internal.CHTypeDateTime64, internal.CHTypeLCDateTime:
		return convertDateTime(fieldType, data)

	default:
		if strings.HasPrefix(ct, "DateTime") {
			return convertDateTime(fieldType, data)
		}
		return nil, fmt.Errorf("%w: unsupported clickhouse type %q", internal.ErrUnsupportedType, ct)
	}
}

func convertDateTime(fieldType KafkaDataType, data any) (any, error) {
	switch fieldType {
	case internal.KafkaTypeInt, internal.KafkaTypeInt32, internal.KafkaTypeInt64,
		internal.KafkaTypeUint, internal.KafkaTypeUint32, internal.KafkaTypeUint64:
		i, err := ParseInt64(data)
		if err != nil {
			return nil, err
		}
		return ParseDateTimeFromInt64(i)
	case internal.KafkaTypeFloat, internal.KafkaTypeFloat32, internal.KafkaTypeFloat64:
		f, err := ParseFloat64(data)
		if err != nil {
			return nil, err
		}
		return ParseDateTimeFromFloat64(f)
	case internal.KafkaTypeString:
		s, err := ParseString(data)
		if err != nil {
			return nil, err
		}
		return ParseDateTimeFromString(s)
	default:
		return nil, fmt.Errorf("%w: datetime requires int, float or string source, got %q",
			internal.ErrTypeMismatch, fieldType)
	}
}

// isIntCompatible implements "Int{N} <-> int{N} or generic int" (spec
// §4.1): implicit widening is forbidden except from the generic int type.
func isIntCompatible(fieldType KafkaDataType, exact string) bool {
	return fieldType == KafkaDataType(exact) || fieldType == internal.KafkaTypeInt
}

func isUintCompatible(fieldType KafkaDataType, exact string) bool {
	return fieldType == KafkaDataType(exact) || fieldType == internal.KafkaTypeUint
}

func isFloatCompatible(fieldType KafkaDataType, exact string) bool {
	return fieldType == KafkaDataType(exact) || fieldType == internal.KafkaTypeFloat
}

func typeMismatch(ct string, fieldType KafkaDataType) error {
	return fmt.Errorf("%w: clickhouse type %q is not compatible with kafka type %q",
		internal.ErrTypeMismatch, ct, fieldType)
}
