package presensi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dokterku/presensi/internal/common/config"
	"github.com/dokterku/presensi/internal/common/events"
	"github.com/dokterku/presensi/internal/common/logger"
	"github.com/dokterku/presensi/internal/common/tracing"
	"github.com/dokterku/presensi/internal/geo"
	"github.com/dokterku/presensi/internal/geofence"
	"github.com/dokterku/presensi/internal/metrics"
	"github.com/dokterku/presensi/internal/risk"
	"github.com/dokterku/presensi/internal/signals"
	"github.com/dokterku/presensi/internal/travel"
	"github.com/dokterku/presensi/internal/zone"
)

// EventSource is the source field of events published by the gate
const EventSource = "presensi-gate"

// slowEvaluation is the evaluation time above which a warning is logged
const slowEvaluation = 2 * time.Second

// ZoneStore resolves work zones
type ZoneStore interface {
	GetZone(ctx context.Context, id string) (*zone.WorkZone, error)
	ListActiveZones(ctx context.Context) ([]zone.WorkZone, error)
}

// AttemptHistory returns the last recorded attempt of a subject, or nil
type AttemptHistory interface {
	GetLastAttempt(ctx context.Context, subjectID string) (*Attempt, error)
}

// VerdictStore persists verdicts. SaveVerdict returns ErrDuplicateVerdict when
// a verdict with the same key exists; FindVerdict returns ErrVerdictNotFound.
type VerdictStore interface {
	SaveVerdict(ctx context.Context, v *RiskVerdict) error
	FindVerdict(ctx context.Context, key VerdictKey) (*RiskVerdict, error)
}

// SubmissionLock serializes submissions sharing a key. acquired is false when
// another holder has it.
type SubmissionLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// Clock supplies the decision time
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Config holds the gate settings
type Config struct {
	ZoneLookupTimeout    time.Duration
	MaxPlausibleSpeedKmh float64
	Location             *time.Location // attendance day boundaries
	LockTTL              time.Duration
	Policy               risk.Policy
}

// ConfigFrom builds the gate config from the service config
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ZoneLookupTimeout:    cfg.Attendance.ZoneLookupTimeout,
		MaxPlausibleSpeedKmh: cfg.Attendance.MaxPlausibleSpeedKmh,
		Location:             cfg.Attendance.Location(),
		LockTTL:              cfg.Attendance.SubmissionLockTTL,
		Policy:               risk.PolicyFromConfig(cfg.Risk),
	}
}

// Option customizes a Gate
type Option func(*Gate)

// WithClock sets the clock used for created_at and the attendance date
func WithClock(c Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithIDGenerator sets the verdict id generator
func WithIDGenerator(f func() string) Option {
	return func(g *Gate) { g.newID = f }
}

// WithLock serializes Submit calls per verdict key
func WithLock(l SubmissionLock) Option {
	return func(g *Gate) { g.lock = l }
}

// WithEventBus publishes every recorded verdict
func WithEventBus(b events.Bus) Option {
	return func(g *Gate) { g.bus = b }
}

// WithStageObserver is called as the evaluation passes each stage
func WithStageObserver(f func(Stage)) Option {
	return func(g *Gate) { g.observe = f }
}

// Gate is the attendance location gate. It is safe for concurrent use.
type Gate struct {
	zones    ZoneStore
	history  AttemptHistory
	verdicts VerdictStore
	lock     SubmissionLock
	bus      events.Bus

	fence  *geofence.Evaluator
	travel *travel.Checker
	scorer *risk.Scorer

	clock             Clock
	newID             func() string
	location          *time.Location
	zoneLookupTimeout time.Duration
	lockTTL           time.Duration
	observe           func(Stage)

	logger *zap.Logger
	perf   *logger.PerformanceLogger
	tracer trace.Tracer
}

// NewGate creates a gate. A clock option is required: the gate never reads the wall clock itself.
func NewGate(cfg Config, zones ZoneStore, history AttemptHistory, verdicts VerdictStore, log *zap.Logger, opts ...Option) (*Gate, error) {
	if zones == nil || history == nil || verdicts == nil {
		return nil, errors.New("presensi: zone store, attempt history and verdict store are required")
	}
	scorer, err := risk.NewScorer(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("presensi: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "attendance_gate"))

	g := &Gate{
		zones:             zones,
		history:           history,
		verdicts:          verdicts,
		fence:             geofence.NewEvaluator(),
		travel:            travel.NewChecker(cfg.MaxPlausibleSpeedKmh),
		scorer:            scorer,
		newID:             uuid.NewString,
		location:          cfg.Location,
		zoneLookupTimeout: cfg.ZoneLookupTimeout,
		lockTTL:           cfg.LockTTL,
		observe:           func(Stage) {},
		logger:            log,
		perf:              logger.NewPerformanceLogger(log, 0),
		tracer:            tracing.Tracer(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.clock == nil {
		return nil, errors.New("presensi: clock is required")
	}
	if g.location == nil {
		g.location = time.UTC
	}
	if g.zoneLookupTimeout <= 0 {
		g.zoneLookupTimeout = 5 * time.Second
	}
	if g.lockTTL <= 0 {
		g.lockTTL = 10 * time.Second
	}
	return g, nil
}

// ListZones returns the active zones, optionally filtered by shift tag
func (g *Gate) ListZones(ctx context.Context, shift string) ([]zone.WorkZone, error) {
	zones, err := g.zones.ListActiveZones(ctx)
	if err != nil {
		return nil, err
	}
	return zone.FilterByShift(zones, shift), nil
}

// AttendanceDate returns the local attendance day for t
func (g *Gate) AttendanceDate(t time.Time) string {
	return t.In(g.location).Format(DateLayout)
}

// Submit loads the subject's previous attempt and evaluates the submission.
// Concurrent submissions for the same key are serialized; a second submission
// gets the first verdict together with ErrDuplicateVerdict.
func (g *Gate) Submit(ctx context.Context, s Submission) (*RiskVerdict, error) {
	if !s.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAttendanceType, s.Type)
	}
	if err := s.Point.Validate(); err != nil {
		return nil, err
	}

	// one clock reading keys the lock, the duplicate check and the stored verdict
	now := g.clock.Now()
	key := VerdictKey{SubjectID: s.SubjectID, AttendanceType: s.Type, AttendanceDate: g.AttendanceDate(now)}
	log := logger.WithTraceContext(g.logger, ctx).With(zap.String("verdict_key", key.String()))

	if g.lock != nil {
		release, acquired, err := g.lock.Acquire(ctx, key.String(), g.lockTTL)
		switch {
		case err != nil:
			log.Warn("Submission lock unavailable, relying on store uniqueness", zap.Error(err))
		case !acquired:
			if existing, findErr := g.verdicts.FindVerdict(ctx, key); findErr == nil {
				metrics.IncDuplicateSubmission(string(s.Type))
				return existing, ErrDuplicateVerdict
			}
			return nil, ErrSubmissionInFlight
		default:
			defer release()
		}
	}

	existing, err := g.verdicts.FindVerdict(ctx, key)
	switch {
	case err == nil:
		metrics.IncDuplicateSubmission(string(s.Type))
		log.Info("Duplicate submission, returning recorded verdict", zap.String("verdict_id", existing.ID))
		return existing, ErrDuplicateVerdict
	case !errors.Is(err, ErrVerdictNotFound):
		return nil, fmt.Errorf("find verdict: %w", err)
	}

	previous, err := g.history.GetLastAttempt(ctx, s.SubjectID)
	if err != nil {
		// no history means no travel signal, not a failed attendance
		log.Warn("Attempt history unavailable, skipping travel check", zap.Error(err))
		previous = nil
	}

	return g.run(ctx, s.Attempt(previous), now)
}

// Evaluate runs the pipeline for one attempt and persists the verdict. Only an
// invalid coordinate, a missing zone or a zone lookup timeout abort it; every
// other anomaly becomes a signal.
func (g *Gate) Evaluate(ctx context.Context, a Attempt) (*RiskVerdict, error) {
	return g.run(ctx, a, g.clock.Now())
}

func (g *Gate) run(ctx context.Context, a Attempt, now time.Time) (*RiskVerdict, error) {
	ctx, span := g.tracer.Start(ctx, "presensi.Evaluate", trace.WithAttributes(
		attribute.String("presensi.subject_id", a.SubjectID),
		attribute.String("presensi.zone_id", a.ZoneID),
		attribute.String("presensi.attendance_type", string(a.Type)),
	))
	defer span.End()
	timer := g.perf.StartTimer("presensi.evaluate", slowEvaluation,
		zap.String("subject_id", a.SubjectID), zap.String("zone_id", a.ZoneID))

	verdict, err := g.evaluate(ctx, span, a, now)
	if err != nil && !errors.Is(err, ErrDuplicateVerdict) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		timer.StopWithError(err)
		return verdict, err
	}
	timer.Stop()
	return verdict, err
}

func (g *Gate) evaluate(ctx context.Context, span trace.Span, a Attempt, now time.Time) (*RiskVerdict, error) {
	log := logger.WithTraceContext(g.logger, ctx).With(
		zap.String("subject_id", a.SubjectID),
		zap.String("zone_id", a.ZoneID),
		zap.String("attendance_type", string(a.Type)),
	)
	g.enter(span, StageReceived)

	if !a.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAttendanceType, a.Type)
	}
	if err := a.Point.Validate(); err != nil {
		return nil, err
	}

	z, err := g.loadZone(ctx, a.ZoneID)
	if err != nil {
		log.Warn("Zone lookup failed", zap.Error(err))
		return nil, err
	}

	var previous *geo.GeoPoint
	if a.Previous != nil {
		p := a.Previous.Point
		previous = &p
	}

	var (
		fence   geofence.Result
		tr      travel.Evaluation
		travErr error
		group   errgroup.Group
	)
	group.Go(func() error {
		fence = g.fence.Evaluate(a.Point, *z)
		return nil
	})
	group.Go(func() error {
		tr, travErr = g.travel.Evaluate(a.Point, previous)
		return nil
	})
	_ = group.Wait()
	g.enter(span, StageGeofenceChecked)

	if travErr != nil {
		log.Warn("Travel check inconclusive, treating as plausible", zap.Error(travErr))
		metrics.IncTravelInconclusive()
		tr = travel.Evaluation{}
	}
	g.enter(span, StageTravelChecked)

	agg := signals.Collect(a.Device, tr, fence)
	g.enter(span, StageSignalsAggregated)

	assessment := g.scorer.Score(agg, z.StrictGeofence)
	g.enter(span, StageScored)

	verdict := &RiskVerdict{
		ID:             g.newID(),
		SubjectID:      a.SubjectID,
		ZoneID:         z.ID,
		AttendanceType: a.Type,
		AttendanceDate: g.AttendanceDate(now),
		ShiftTag:       a.ShiftTag,
		Point:          a.Point,
		RiskScore:      assessment.Score,
		RiskLevel:      assessment.Level,
		IsSpoofed:      assessment.IsSpoofed,
		ActionTaken:    assessment.Action,
		Signals:        agg,
		Travel:         tr,
		Geofence:       fence,
		Factors:        assessment.Factors,
		CreatedAt:      now,
	}

	if err := g.verdicts.SaveVerdict(ctx, verdict); err != nil {
		if !errors.Is(err, ErrDuplicateVerdict) {
			return nil, fmt.Errorf("save verdict: %w", err)
		}
		metrics.IncDuplicateSubmission(string(a.Type))
		original, findErr := g.verdicts.FindVerdict(ctx, verdict.Key())
		if findErr != nil {
			return nil, fmt.Errorf("load original verdict: %w", findErr)
		}
		log.Info("Verdict already recorded for this day", zap.String("verdict_id", original.ID))
		g.publish(ctx, events.EventVerdictDuplicate, original)
		return original, ErrDuplicateVerdict
	}
	g.enter(span, StageDecided)

	span.SetAttributes(
		attribute.Int("presensi.risk_score", verdict.RiskScore),
		attribute.String("presensi.risk_level", string(verdict.RiskLevel)),
		attribute.String("presensi.action", string(verdict.ActionTaken)),
	)
	metrics.RecordVerdict(string(a.Type), string(verdict.RiskLevel), string(verdict.ActionTaken), float64(verdict.RiskScore))
	log.Info("Attendance location verdict recorded",
		zap.String("verdict_id", verdict.ID),
		zap.Int("risk_score", verdict.RiskScore),
		zap.String("risk_level", string(verdict.RiskLevel)),
		zap.String("action", string(verdict.ActionTaken)),
		zap.Float64("distance_from_zone_meters", fence.DistanceFromZoneMeters))

	g.publish(ctx, events.EventVerdictRecorded, verdict)
	return verdict, nil
}

// loadZone fetches the zone within the lookup timeout
func (g *Gate) loadZone(ctx context.Context, id string) (*zone.WorkZone, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, g.zoneLookupTimeout)
	defer cancel()

	start := time.Now()
	z, err := g.zones.GetZone(lookupCtx, id)
	switch {
	case err == nil:
		metrics.RecordZoneLookup("found", time.Since(start))
		return z, nil
	case errors.Is(err, zone.ErrNotFound):
		metrics.RecordZoneLookup("not_found", time.Since(start))
		return nil, fmt.Errorf("%w: %s", ErrZoneNotFound, id)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(lookupCtx.Err(), context.DeadlineExceeded):
		metrics.RecordZoneLookup("timeout", time.Since(start))
		return nil, fmt.Errorf("%w after %s: %s", ErrZoneLookupTimeout, g.zoneLookupTimeout, id)
	default:
		metrics.RecordZoneLookup("error", time.Since(start))
		return nil, fmt.Errorf("load zone %s: %w", id, err)
	}
}

func (g *Gate) enter(span trace.Span, s Stage) {
	span.AddEvent(s.String())
	g.observe(s)
}

func (g *Gate) publish(ctx context.Context, eventType string, v *RiskVerdict) {
	if g.bus == nil {
		return
	}
	event := events.NewEvent(eventType, EventSource, v.CreatedAt, v).WithSubjectID(v.SubjectID)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		event = event.WithTraceID(sc.TraceID().String())
	}
	g.bus.PublishAsync(ctx, event)
}
