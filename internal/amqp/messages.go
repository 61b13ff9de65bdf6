package amqp

import (
	"encoding/json"
	"time"

	"investtrack/internal/core"
)

// AuditMessage carries one balance audit entry over the wire. The full
// before/after snapshots travel in the message so the worker can persist
// the entry without reading application state.
type AuditMessage struct {
	Entry     core.AuditEntry `json:"entry"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewAuditMessage wraps an audit entry with a publish timestamp
func NewAuditMessage(entry core.AuditEntry) *AuditMessage {
	return &AuditMessage{
		Entry:     entry,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *AuditMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AuditMessageFromJSON creates a message from JSON bytes
func AuditMessageFromJSON(data []byte) (*AuditMessage, error) {
	var msg AuditMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
