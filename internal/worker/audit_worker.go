package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"investtrack/internal/amqp"
	"investtrack/internal/store"
)

// AuditWorker persists balance audit entries published by the ledger engine.
// Writes are idempotent from the broker's point of view: a redelivered
// message appends a duplicate entry, which the audit log tolerates because
// entries carry their own timestamps and snapshots.
type AuditWorker struct {
	audit     store.AuditStore
	processed atomic.Int64
}

func NewAuditWorker(audit store.AuditStore) *AuditWorker {
	return &AuditWorker{audit: audit}
}

// HandleAuditMessage processes a single audit message from AMQP
func (w *AuditWorker) HandleAuditMessage(ctx context.Context, msg *amqp.AuditMessage) error {
	entry := msg.Entry
	if entry.BalanceID == "" || entry.Action == "" {
		return fmt.Errorf("malformed audit entry: balance_id=%q action=%q", entry.BalanceID, entry.Action)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = msg.Timestamp
	}

	if err := w.audit.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	w.processed.Add(1)

	slog.InfoContext(ctx, "Persisted balance audit entry",
		"action", entry.Action,
		"balance_id", entry.BalanceID,
		"user_id", entry.UserID)

	return nil
}

// Processed returns the number of entries persisted since startup
func (w *AuditWorker) Processed() int64 {
	return w.processed.Load()
}

// ReportStats logs throughput on the given interval until the context ends.
func (w *AuditWorker) ReportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := w.processed.Load()
			slog.InfoContext(ctx, "Audit worker stats",
				"processed_total", total,
				"processed_interval", total-last)
			last = total
		}
	}
}
