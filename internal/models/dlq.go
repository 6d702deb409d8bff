package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glassflow/streametl/internal"
)

// DLQMessage is the JSON envelope published to the per-pipeline DLQ subject
// when an event-level failure drops a message (spec §7). Grounded on
// models.DLQMessage in the teacher's internal/models/dlq.go.
type DLQMessage struct {
	Component       string `json:"component"`
	Error           string `json:"error"`
	OriginalMessage string `json:"original_message"`
	FailedAt        int64  `json:"failed_at_unix"`
}

func NewDLQMessage(component, errMsg string, data []byte, failedAt time.Time) DLQMessage {
	return DLQMessage{
		Component:       component,
		Error:           errMsg,
		OriginalMessage: string(data),
		FailedAt:        failedAt.Unix(),
	}
}

func (m DLQMessage) ToJSON() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal dlq message: %w", err)
	}
	return b, nil
}

// DLQState summarizes a pipeline's DLQ occupancy for the control plane's
// status operation (spec §6 "status").
type DLQState struct {
	LastReceivedAt *time.Time `json:"last_received_at,omitempty"`
	TotalMessages  uint64     `json:"total_messages"`
}

var ErrDLQMaxBatchSize = fmt.Errorf("dlq batch size cannot be greater than %d", internal.DLQMaxBatchSize)
