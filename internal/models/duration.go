package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration unmarshals the pipeline definition's "<n><s|m|h|d>" window strings
// (spec §6) into a time.Duration. Grounded on models.Duration in the
// teacher's internal/models/kafka.go, extended with a "d" (day) unit since
// time.ParseDuration does not support one.
type Duration struct {
	d time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{d: d}
}

func (d Duration) Duration() time.Duration {
	return d.d
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("unmarshal duration: %w", err)
	}

	switch v := raw.(type) {
	case string:
		parsed, err := ParseWindow(v)
		if err != nil {
			return err
		}
		d.d = parsed
	case float64:
		d.d = time.Duration(v)
	case nil:
		d.d = 0
	default:
		return fmt.Errorf("invalid duration: %#v", raw)
	}

	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) String() string {
	return d.d.String()
}

// ParseWindow parses the spec's "<n><s|m|h|d>" time window format. Unlike
// time.ParseDuration it accepts a bare trailing "d" for days.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if strings.HasSuffix(s, "d") && !strings.HasSuffix(s, "ns") {
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("parse day window %q: %w", s, err)
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse window %q: %w", s, err)
	}
	return parsed, nil
}
