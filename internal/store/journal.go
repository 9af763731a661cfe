package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/dokterku/presensi/internal/common/events"
	"github.com/dokterku/presensi/internal/metrics"
	"github.com/dokterku/presensi/pkg/journal"
)

// JournalSink writes bus events to the hash-chained verdict journal
type JournalSink struct {
	journal *journal.Journal
	logger  *zap.Logger
}

// NewJournalSink wraps j as an event subscriber
func NewJournalSink(j *journal.Journal, logger *zap.Logger) *JournalSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalSink{journal: j, logger: logger.With(zap.String("component", "journal_sink"))}
}

// HandleEvent is an events.EventHandler
func (s *JournalSink) HandleEvent(_ context.Context, e events.Event) error {
	entry, err := s.journal.Append(e.ID, e.Type, e.Timestamp, e.Payload)
	if err != nil {
		metrics.IncSinkFailure("journal")
		s.logger.Error("Failed to journal event",
			zap.String("event_id", e.ID),
			zap.String("event_type", e.Type),
			zap.Error(err))
		return err
	}
	s.logger.Debug("Event journaled", zap.Int64("sequence", entry.Sequence), zap.String("event_type", e.Type))
	return nil
}
