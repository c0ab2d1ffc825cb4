package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/observability/metrics"
	org "coldchain-cloud/internal/org/domain"
	readings "coldchain-cloud/internal/readings/domain"
	rules "coldchain-cloud/internal/rules/domain"
	units "coldchain-cloud/internal/units/domain"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// StateStore persists per-unit runtime state.
type StateStore interface {
	Get(ctx context.Context, unitID string) (*units.State, error)
	Save(ctx context.Context, state units.State) error
}

// ReadingStore persists raw readings and serves recent history.
type ReadingStore interface {
	Append(ctx context.Context, reading readings.Reading) error
	ListSince(ctx context.Context, unitID string, since time.Time) ([]readings.Reading, error)
}

// UnitDirectory reads unit records from the organizational store.
type UnitDirectory interface {
	Get(ctx context.Context, unitID string) (*org.Unit, error)
	ListAll(ctx context.Context) ([]org.Unit, error)
}

// RulesResolver computes effective alert rules for a unit.
type RulesResolver interface {
	ResolveForUnit(ctx context.Context, unit org.Unit) (rules.EffectiveAlertRules, error)
}

// AlertLifecycle applies evaluator intents to durable alerts.
type AlertLifecycle interface {
	Apply(ctx context.Context, intent alerts.Intent) error
}

// Service drives evaluation. Readings and sweeps for one unit are
// serialized by the partitioned pool; everything the evaluator needs
// is loaded here and everything it returns is persisted here.
type Service struct {
	log       *zap.Logger
	states    StateStore
	history   ReadingStore
	directory UnitDirectory
	resolver  RulesResolver
	lifecycle AlertLifecycle
	pool      *Pool
	evaluator *Evaluator
	clock     Clock

	windowSpan time.Duration
	mu         sync.Mutex
	windows    map[string]*readings.Window
	tracker    *siteTracker
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithClock overrides the wall clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithWindowSpan overrides how much reading history detectors see.
func WithWindowSpan(span time.Duration) ServiceOption {
	return func(s *Service) {
		if span > 0 {
			s.windowSpan = span
		}
	}
}

// NewService wires the evaluation service.
func NewService(states StateStore, history ReadingStore, directory UnitDirectory, resolver RulesResolver, lifecycle AlertLifecycle, pool *Pool, log *zap.Logger, opts ...ServiceOption) (*Service, error) {
	if states == nil {
		return nil, errors.New("units service: nil state store")
	}
	if history == nil {
		return nil, errors.New("units service: nil reading store")
	}
	if directory == nil {
		return nil, errors.New("units service: nil unit directory")
	}
	if resolver == nil {
		return nil, errors.New("units service: nil rules resolver")
	}
	if lifecycle == nil {
		return nil, errors.New("units service: nil alert lifecycle")
	}
	if pool == nil {
		return nil, errors.New("units service: nil pool")
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		log:        log,
		states:     states,
		history:    history,
		directory:  directory,
		resolver:   resolver,
		lifecycle:  lifecycle,
		pool:       pool,
		evaluator:  NewEvaluator(),
		clock:      systemClock{},
		windowSpan: readings.DefaultWindowSpan,
		windows:    make(map[string]*readings.Window),
		tracker:    newSiteTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleReading persists the reading and schedules evaluation on the
// unit's partition. Persistence happens before the ack so a crash
// between the two loses the evaluation, not the data.
func (s *Service) HandleReading(ctx context.Context, reading readings.Reading) error {
	if err := reading.Validate(); err != nil {
		metrics.IncReadingsRejected()
		return err
	}
	if err := s.history.Append(ctx, reading); err != nil {
		return fmt.Errorf("append reading: %w", err)
	}
	metrics.IncReadingsReceived()
	return s.pool.Submit(ctx, reading.UnitID, func(ctx context.Context) {
		s.process(ctx, reading)
	})
}

func (s *Service) process(ctx context.Context, reading readings.Reading) {
	started := s.clock.Now()
	unit, err := s.directory.Get(ctx, reading.UnitID)
	if err != nil {
		s.log.Error("unit lookup failed", zap.String("unit_id", reading.UnitID), zap.Error(err))
		return
	}
	if unit == nil {
		s.log.Warn("reading for unknown unit dropped", zap.String("unit_id", reading.UnitID))
		metrics.IncReadingsRejected()
		return
	}

	state, err := s.loadState(ctx, reading.UnitID, reading.At)
	if err != nil {
		s.log.Error("state load failed", zap.String("unit_id", reading.UnitID), zap.Error(err))
		return
	}

	effective, err := s.resolver.ResolveForUnit(ctx, *unit)
	if err != nil {
		if errors.Is(err, rules.ErrConfigurationMissing) {
			s.flagUnconfigured(ctx, *unit, state, reading.At)
			return
		}
		s.log.Error("rules resolve failed", zap.String("unit_id", reading.UnitID), zap.Error(err))
		return
	}

	window := s.window(ctx, reading.UnitID, reading.At)
	peers := s.tracker.Peers(unit.SiteID, unit.ID)

	next, intents := s.evaluator.Evaluate(state, reading, effective, window, peers)
	if err := s.states.Save(ctx, next); err != nil {
		s.log.Error("state save failed", zap.String("unit_id", reading.UnitID), zap.Error(err))
		return
	}
	if next.CurrentStatus != state.CurrentStatus {
		s.log.Info("unit status changed",
			zap.String("unit_id", unit.ID),
			zap.String("from", state.CurrentStatus),
			zap.String("to", next.CurrentStatus))
		metrics.IncStatusTransitions(next.CurrentStatus)
	}

	s.applyIntents(ctx, *unit, intents)

	if reading.HasTemperature() {
		delta, _, _ := riseOver(window, reading.At, effective.CorrelationWindow)
		s.tracker.Update(unit.SiteID, unit.ID, PeerSample{
			UnitID:   unit.ID,
			CurrentF: reading.TemperatureF(),
			DeltaF:   delta,
		})
	}
	metrics.ObserveEvaluation(s.clock.Now().Sub(started))
}

// SweepOnce runs the liveness pass over every known unit. Each unit's
// check executes on its partition so it cannot interleave with a
// concurrent reading for the same unit.
func (s *Service) SweepOnce(ctx context.Context, now time.Time) error {
	all, err := s.directory.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list units: %w", err)
	}
	for _, unit := range all {
		u := unit
		err := s.pool.Submit(ctx, u.ID, func(ctx context.Context) {
			s.sweepUnit(ctx, u, now)
		})
		if err != nil {
			return err
		}
	}
	metrics.IncSweeps()
	return nil
}

func (s *Service) sweepUnit(ctx context.Context, unit org.Unit, now time.Time) {
	state, err := s.loadState(ctx, unit.ID, now)
	if err != nil {
		s.log.Error("state load failed", zap.String("unit_id", unit.ID), zap.Error(err))
		return
	}

	// Sensorless units are on the manual-logging path; silence is
	// expected and the status says so.
	if !unit.HasSensors() {
		if state.CurrentStatus == units.StatusManualRequired {
			return
		}
		if err := state.Transition(units.StatusManualRequired, now); err != nil {
			return
		}
		state.UpdatedAt = now
		if err := s.states.Save(ctx, state); err != nil {
			s.log.Error("state save failed", zap.String("unit_id", unit.ID), zap.Error(err))
		}
		return
	}

	if state.LastReadingAt.IsZero() {
		return
	}

	effective, err := s.resolver.ResolveForUnit(ctx, unit)
	if err != nil {
		if errors.Is(err, rules.ErrConfigurationMissing) {
			s.flagUnconfigured(ctx, unit, state, now)
		}
		return
	}
	if unit.ExpectedCheckin > 0 {
		effective.OfflineWarnAfter = unit.ExpectedCheckin
	}

	next, intents := s.evaluator.EvaluateAbsence(state, now, effective)
	if next.CurrentStatus == state.CurrentStatus && len(intents) == 0 {
		return
	}
	if err := s.states.Save(ctx, next); err != nil {
		s.log.Error("state save failed", zap.String("unit_id", unit.ID), zap.Error(err))
		return
	}
	if next.CurrentStatus != state.CurrentStatus {
		s.log.Warn("unit went quiet",
			zap.String("unit_id", unit.ID),
			zap.String("status", next.CurrentStatus),
			zap.Time("last_reading_at", state.LastReadingAt))
		metrics.IncStatusTransitions(next.CurrentStatus)
	}
	s.applyIntents(ctx, unit, intents)
}

// flagUnconfigured marks a unit whose rules cannot be resolved. A unit
// nobody configured must not pass silently as healthy.
func (s *Service) flagUnconfigured(ctx context.Context, unit org.Unit, state units.State, at time.Time) {
	if state.CurrentStatus == units.StatusMonitoringInterrupt {
		return
	}
	if err := state.Transition(units.StatusMonitoringInterrupt, at); err != nil {
		return
	}
	state.UpdatedAt = at
	if err := s.states.Save(ctx, state); err != nil {
		s.log.Error("state save failed", zap.String("unit_id", unit.ID), zap.Error(err))
		return
	}
	s.applyIntents(ctx, unit, []alerts.Intent{{
		Action:     alerts.IntentOpen,
		UnitID:     unit.ID,
		Type:       alerts.TypeMonitoringInterrupt,
		Severity:   alerts.SeverityCritical,
		ObservedAt: at,
		Message:    "no alert rules resolve for this unit",
	}})
}

func (s *Service) applyIntents(ctx context.Context, unit org.Unit, intents []alerts.Intent) {
	for _, intent := range intents {
		intent.SiteID = unit.SiteID
		if err := s.lifecycle.Apply(ctx, intent); err != nil {
			s.log.Error("alert intent failed",
				zap.String("unit_id", unit.ID),
				zap.String("type", intent.Type),
				zap.String("action", string(intent.Action)),
				zap.Error(err))
		}
	}
}

func (s *Service) loadState(ctx context.Context, unitID string, at time.Time) (units.State, error) {
	state, err := s.states.Get(ctx, unitID)
	if err != nil {
		return units.State{}, err
	}
	if state == nil {
		return units.NewState(unitID, at), nil
	}
	return *state, nil
}

// window returns the unit's in-memory history, rebuilding it from the
// reading store after a restart. Only the unit's partition worker
// touches the returned window.
func (s *Service) window(ctx context.Context, unitID string, at time.Time) *readings.Window {
	s.mu.Lock()
	w, ok := s.windows[unitID]
	if !ok {
		w = readings.NewWindow(s.windowSpan)
		s.windows[unitID] = w
	}
	s.mu.Unlock()
	if ok || s.history == nil {
		return w
	}

	history, err := s.history.ListSince(ctx, unitID, at.Add(-s.windowSpan))
	if err != nil {
		s.log.Warn("window rebuild failed", zap.String("unit_id", unitID), zap.Error(err))
		return w
	}
	kept := history[:0]
	for _, r := range history {
		if r.At.Before(at) {
			kept = append(kept, r)
		}
	}
	w.Restore(kept)
	return w
}

// siteTracker shares per-unit temperature movement across partitions
// for cross-unit correlation.
type siteTracker struct {
	mu     sync.RWMutex
	bySite map[string]map[string]PeerSample
}

func newSiteTracker() *siteTracker {
	return &siteTracker{bySite: make(map[string]map[string]PeerSample)}
}

// Update records the unit's latest temperature and correlation-window
// delta.
func (t *siteTracker) Update(siteID, unitID string, sample PeerSample) {
	if siteID == "" || unitID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	site, ok := t.bySite[siteID]
	if !ok {
		site = make(map[string]PeerSample)
		t.bySite[siteID] = site
	}
	site[unitID] = sample
}

// Peers returns samples from the unit's site siblings.
func (t *siteTracker) Peers(siteID, unitID string) []PeerSample {
	if siteID == "" {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	site := t.bySite[siteID]
	if len(site) == 0 {
		return nil
	}
	peers := make([]PeerSample, 0, len(site))
	for id, sample := range site {
		if id == unitID {
			continue
		}
		peers = append(peers, sample)
	}
	return peers
}
