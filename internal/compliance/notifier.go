package compliance

import (
	"context"
	"log/slog"
)

// LogNotifier writes alerts to the structured log, critical ones at error level.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, alerts []Alert) error {
	for _, a := range alerts {
		attrs := []any{
			"type", a.Type,
			"severity", a.Severity,
			"user_id", a.UserID,
			"count", a.Count,
		}
		if a.EntryID != nil {
			attrs = append(attrs, "entry_id", a.EntryID.String())
		}
		level := slog.LevelInfo
		switch a.Severity {
		case SeverityCritical:
			level = slog.LevelError
		case SeverityWarning:
			level = slog.LevelWarn
		}
		n.logger.Log(ctx, level, "compliance alert: "+a.Message, attrs...)
	}
	return nil
}
