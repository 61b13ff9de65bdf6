package amqp

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"investtrack/internal/core"
)

func sampleEntry() core.AuditEntry {
	after := &core.BalanceRecord{
		ID:        "bal-1",
		UserID:    "user-1",
		AccountID: "acc-1",
		Year:      2024,
		Month:     3,
		Status:    core.StatusOpen,
		Opening:   decimal.RequireFromString("100.00"),
		Closing:   decimal.RequireFromString("150.25"),
	}
	return core.AuditEntry{
		Timestamp: time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC),
		UserID:    "user-1",
		Action:    core.AuditUpdate,
		BalanceID: "bal-1",
		After:     after,
	}
}

func TestNewAuditMessage(t *testing.T) {
	msg := NewAuditMessage(sampleEntry())

	if msg.Entry.Action != core.AuditUpdate {
		t.Errorf("NewAuditMessage() Action = %v, want %v", msg.Entry.Action, core.AuditUpdate)
	}
	if msg.Timestamp.IsZero() {
		t.Error("NewAuditMessage() Timestamp should not be zero")
	}
	if time.Since(msg.Timestamp) > time.Second {
		t.Error("NewAuditMessage() Timestamp should be recent")
	}
}

func TestAuditMessage_JSON(t *testing.T) {
	msg := NewAuditMessage(sampleEntry())

	jsonBytes, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	parsed, err := AuditMessageFromJSON(jsonBytes)
	if err != nil {
		t.Fatalf("AuditMessageFromJSON() error = %v", err)
	}

	if parsed.Entry.BalanceID != msg.Entry.BalanceID {
		t.Errorf("Parsed BalanceID = %v, want %v", parsed.Entry.BalanceID, msg.Entry.BalanceID)
	}
	if parsed.Entry.Before != nil {
		t.Error("Parsed Before should stay nil for a creation entry")
	}
	if parsed.Entry.After == nil {
		t.Fatal("Parsed After should carry the snapshot")
	}
	if !parsed.Entry.After.Closing.Equal(msg.Entry.After.Closing) {
		t.Errorf("Parsed Closing = %v, want %v", parsed.Entry.After.Closing, msg.Entry.After.Closing)
	}
}

func TestAuditMessage_InvalidJSON(t *testing.T) {
	if _, err := AuditMessageFromJSON([]byte(`{"entry": 42}`)); err == nil {
		t.Error("AuditMessageFromJSON() should fail with invalid JSON")
	}
}
