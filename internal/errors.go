package internal

import "errors"

// Schema mapper failure kinds, spec §4.1. All are per-event and
// deterministic; they are surfaced to the calling operator, which decides
// disposition (spec §7).
var (
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrRangeOverflow   = errors.New("range overflow")
	ErrParseFailure    = errors.New("parse failure")
	ErrKeyMissing      = errors.New("key missing")
	ErrUnsupportedType = errors.New("unsupported type")
)

// Pipeline configuration failures, surfaced at create (spec §7, Configuration kind).
var (
	ErrInvalidPipelineConfig = errors.New("invalid pipeline configuration")
)
