// Package review records reviewer annotations on attendance verdicts. The
// verdict itself is never modified; annotations are a separate, append-only record.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dokterku/presensi/internal/common/events"
	"github.com/dokterku/presensi/internal/presensi"
)

// ErrInvalidDecision is returned for an unknown review decision
var ErrInvalidDecision = errors.New("invalid review decision")

// Decision is the reviewer's conclusion about a verdict
type Decision string

const (
	DecisionConfirmedSpoofing Decision = "confirmed_spoofing"
	DecisionFalsePositive     Decision = "false_positive"
	DecisionNeedsFollowup     Decision = "needs_followup"
)

// ParseDecision validates s
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionConfirmedSpoofing, DecisionFalsePositive, DecisionNeedsFollowup:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
}

// Annotation is one review of a verdict
type Annotation struct {
	ID         string    `json:"id"`
	VerdictID  string    `json:"verdict_id"`
	ReviewedBy string    `json:"reviewed_by"`
	Decision   Decision  `json:"decision"`
	Notes      string    `json:"notes,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// Store persists annotations
type Store interface {
	SaveAnnotation(ctx context.Context, a *Annotation) error
	ListAnnotations(ctx context.Context, verdictID string) ([]Annotation, error)
}

// VerdictLookup resolves verdicts by id, returning presensi.ErrVerdictNotFound when absent
type VerdictLookup interface {
	GetVerdict(ctx context.Context, id string) (*presensi.RiskVerdict, error)
}

// Service validates and records reviews
type Service struct {
	store    Store
	verdicts VerdictLookup
	clock    presensi.Clock
	bus      events.Bus
	logger   *zap.Logger
}

// NewService creates a review service. bus may be nil.
func NewService(store Store, verdicts VerdictLookup, clock presensi.Clock, bus events.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		verdicts: verdicts,
		clock:    clock,
		bus:      bus,
		logger:   logger.With(zap.String("component", "review")),
	}
}

// AddReview attaches a decision to an existing verdict
func (s *Service) AddReview(ctx context.Context, verdictID, reviewer, decision, notes string) (*Annotation, error) {
	d, err := ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	if _, err := s.verdicts.GetVerdict(ctx, verdictID); err != nil {
		return nil, err
	}

	a := &Annotation{
		ID:         uuid.NewString(),
		VerdictID:  verdictID,
		ReviewedBy: reviewer,
		Decision:   d,
		Notes:      strings.TrimSpace(notes),
		ReviewedAt: s.clock.Now().UTC(),
	}
	if err := s.store.SaveAnnotation(ctx, a); err != nil {
		return nil, fmt.Errorf("save annotation: %w", err)
	}

	s.logger.Info("Verdict reviewed",
		zap.String("verdict_id", verdictID),
		zap.String("reviewed_by", reviewer),
		zap.String("decision", string(d)))

	if s.bus != nil {
		s.bus.PublishAsync(ctx, events.NewEvent(events.EventReviewAdded, "presensi-review", a.ReviewedAt, a).
			WithSubjectID(reviewer))
	}
	return a, nil
}

// ListReviews returns the annotations of a verdict, oldest first
func (s *Service) ListReviews(ctx context.Context, verdictID string) ([]Annotation, error) {
	if _, err := s.verdicts.GetVerdict(ctx, verdictID); err != nil {
		return nil, err
	}
	return s.store.ListAnnotations(ctx, verdictID)
}
