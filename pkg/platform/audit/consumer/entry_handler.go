package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"aegis/internal/platform/kafka/consumer"
	"aegis/pkg/domain"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
)

// EntryHandler appends delivered audit entries to the store. Redelivered
// entries hit the id uniqueness rule and are treated as already stored.
type EntryHandler struct {
	store  audit.Writer
	sealer *audit.Sealer
	logger *slog.Logger
}

// NewEntryHandler creates the materializing handler. With a sealer, entries
// whose checksum does not verify are still stored but logged, so the
// compliance monitor can raise the integrity alert from the stored row.
func NewEntryHandler(store audit.Writer, sealer *audit.Sealer, logger *slog.Logger) *EntryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntryHandler{store: store, sealer: sealer, logger: logger}
}

// Handle decodes and stores one entry. Malformed messages return nil so they
// are committed; store failures return an error so the message is retried.
func (h *EntryHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	entry, err := audit.UnmarshalPayload(msg.Value)
	if err != nil {
		h.logger.ErrorContext(ctx, "CRITICAL: undecodable audit message skipped",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if key, keyErr := domain.ParseEntryID(string(msg.Key)); keyErr != nil || key != entry.ID {
		h.logger.WarnContext(ctx, "audit message key does not match entry id",
			"key", string(msg.Key),
			"entry_id", entry.ID,
		)
	}
	if h.sealer != nil && !h.sealer.Verify(entry) {
		h.logger.ErrorContext(ctx, "CRITICAL: audit entry checksum mismatch on delivery",
			"entry_id", entry.ID,
			"operation", entry.Operation,
		)
	}

	err = h.store.Append(ctx, entry)
	switch {
	case err == nil:
		h.logger.DebugContext(ctx, "materialized audit entry", "entry_id", entry.ID, "operation", entry.Operation)
		return nil
	case errors.Is(err, sentinel.ErrConflict):
		return nil
	case errors.Is(err, sentinel.ErrAlreadyReconciled):
		h.logger.WarnContext(ctx, "duplicate audit reconciliation skipped",
			"entry_id", entry.ID, "reconciles_id", entry.ReconcilesID)
		return nil
	default:
		return fmt.Errorf("store audit entry %s: %w", entry.ID, err)
	}
}
