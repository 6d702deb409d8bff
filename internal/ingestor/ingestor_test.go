package ingestor

import (
	"testing"

	"github.com/IBM/sarama"
)

func TestConvertKafkaToNATSHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers []sarama.RecordHeader
		want    map[string]string
	}{
		{
			name:    "no headers",
			headers: nil,
			want:    map[string]string{},
		},
		{
			name: "header with value is copied",
			headers: []sarama.RecordHeader{
				{Key: []byte("trace-id"), Value: []byte("abc123")},
			},
			want: map[string]string{"trace-id": "abc123"},
		},
		{
			name: "header with empty value is skipped",
			headers: []sarama.RecordHeader{
				{Key: []byte("empty"), Value: []byte{}},
				{Key: []byte("present"), Value: []byte("x")},
			},
			want: map[string]string{"present": "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertKafkaToNATSHeaders(tt.headers)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d headers, want %d", len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got.Get(k) != v {
					t.Errorf("header %q = %q, want %q", k, got.Get(k), v)
				}
			}
		})
	}
}
