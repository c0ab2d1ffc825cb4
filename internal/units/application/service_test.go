package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	alerts "coldchain-cloud/internal/alerts/domain"
	org "coldchain-cloud/internal/org/domain"
	readings "coldchain-cloud/internal/readings/domain"
	rules "coldchain-cloud/internal/rules/domain"
	units "coldchain-cloud/internal/units/domain"
)

type memStateStore struct {
	mu     sync.Mutex
	states map[string]units.State
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string]units.State)}
}

func (s *memStateStore) Get(_ context.Context, unitID string) (*units.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[unitID]; ok {
		copied := state
		return &copied, nil
	}
	return nil, nil
}

func (s *memStateStore) Save(_ context.Context, state units.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UnitID] = state
	return nil
}

func (s *memStateStore) status(unitID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[unitID].CurrentStatus
}

type memReadingStore struct {
	mu       sync.Mutex
	readings []readings.Reading
}

func (s *memReadingStore) Append(_ context.Context, reading readings.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, reading)
	return nil
}

func (s *memReadingStore) ListSince(_ context.Context, unitID string, since time.Time) ([]readings.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []readings.Reading
	for _, r := range s.readings {
		if r.UnitID == unitID && !r.At.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubDirectory struct {
	units map[string]org.Unit
}

func (d *stubDirectory) Get(_ context.Context, unitID string) (*org.Unit, error) {
	if unit, ok := d.units[unitID]; ok {
		return &unit, nil
	}
	return nil, nil
}

func (d *stubDirectory) ListAll(context.Context) ([]org.Unit, error) {
	out := make([]org.Unit, 0, len(d.units))
	for _, unit := range d.units {
		out = append(out, unit)
	}
	return out, nil
}

type defaultRulesResolver struct {
	err error
}

func (r defaultRulesResolver) ResolveForUnit(context.Context, org.Unit) (rules.EffectiveAlertRules, error) {
	if r.err != nil {
		return rules.EffectiveAlertRules{}, r.err
	}
	return rules.Defaults(), nil
}

type memLifecycle struct {
	mu      sync.Mutex
	intents []alerts.Intent
}

func (l *memLifecycle) Apply(_ context.Context, intent alerts.Intent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intents = append(l.intents, intent)
	return nil
}

func (l *memLifecycle) opened(alertType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, intent := range l.intents {
		if intent.Action == alerts.IntentOpen && intent.Type == alertType {
			return true
		}
	}
	return false
}

type serviceFixture struct {
	service   *Service
	pool      *Pool
	states    *memStateStore
	lifecycle *memLifecycle
}

func newServiceFixture(t *testing.T, directory *stubDirectory, resolver RulesResolver) *serviceFixture {
	t.Helper()
	states := newMemStateStore()
	lifecycle := &memLifecycle{}
	pool := NewPool(2, 16, zap.NewNop())
	pool.Start(context.Background())
	t.Cleanup(pool.Close)

	service, err := NewService(states, &memReadingStore{}, directory, resolver, lifecycle, pool, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &serviceFixture{service: service, pool: pool, states: states, lifecycle: lifecycle}
}

func TestService_ReadingDrivesExcursion(t *testing.T) {
	directory := &stubDirectory{units: map[string]org.Unit{
		"unit-1": {ID: "unit-1", SiteID: "site-1", OrganizationID: "org-1", SensorIDs: []string{"sensor-1"}},
	}}
	fixture := newServiceFixture(t, directory, defaultRulesResolver{})

	c := readings.FToC(42)
	reading := readings.Reading{UnitID: "unit-1", SensorID: "sensor-1", At: evalStart, TemperatureC: &c}
	if err := fixture.service.HandleReading(context.Background(), reading); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}
	fixture.pool.Close()

	if status := fixture.states.status("unit-1"); status != units.StatusExcursion {
		t.Fatalf("status = %s", status)
	}
	if !fixture.lifecycle.opened(alerts.TypeTempExcursion) {
		t.Fatalf("expected temp_excursion intent: %+v", fixture.lifecycle.intents)
	}
}

func TestService_InvalidReadingRejected(t *testing.T) {
	directory := &stubDirectory{units: map[string]org.Unit{}}
	fixture := newServiceFixture(t, directory, defaultRulesResolver{})

	if err := fixture.service.HandleReading(context.Background(), readings.Reading{}); err == nil {
		t.Fatal("reading without identity must be rejected")
	}
}

func TestService_UnconfiguredUnitFlagsMonitoringInterrupt(t *testing.T) {
	directory := &stubDirectory{units: map[string]org.Unit{
		"unit-1": {ID: "unit-1", SiteID: "site-1", SensorIDs: []string{"sensor-1"}},
	}}
	fixture := newServiceFixture(t, directory, defaultRulesResolver{err: rules.ErrConfigurationMissing})

	c := readings.FToC(36)
	reading := readings.Reading{UnitID: "unit-1", SensorID: "sensor-1", At: evalStart, TemperatureC: &c}
	if err := fixture.service.HandleReading(context.Background(), reading); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}
	fixture.pool.Close()

	if status := fixture.states.status("unit-1"); status != units.StatusMonitoringInterrupt {
		t.Fatalf("status = %s", status)
	}
	if !fixture.lifecycle.opened(alerts.TypeMonitoringInterrupt) {
		t.Fatalf("expected monitoring_interrupted intent: %+v", fixture.lifecycle.intents)
	}
}

func TestService_SweepSensorlessUnitGoesManual(t *testing.T) {
	directory := &stubDirectory{units: map[string]org.Unit{
		"unit-1": {ID: "unit-1", SiteID: "site-1"},
	}}
	fixture := newServiceFixture(t, directory, defaultRulesResolver{})

	if err := fixture.service.SweepOnce(context.Background(), evalStart); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	fixture.pool.Close()

	if status := fixture.states.status("unit-1"); status != units.StatusManualRequired {
		t.Fatalf("status = %s", status)
	}
}

func TestService_SweepUsesExpectedCheckin(t *testing.T) {
	directory := &stubDirectory{units: map[string]org.Unit{
		"unit-1": {ID: "unit-1", SiteID: "site-1", SensorIDs: []string{"sensor-1"}, ExpectedCheckin: 5 * time.Minute},
	}}
	fixture := newServiceFixture(t, directory, defaultRulesResolver{})

	state := units.NewState("unit-1", evalStart)
	state.LastReadingAt = evalStart
	if err := fixture.states.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// 6 minutes of silence: inside the default 15m grace but past the
	// unit's own checkin interval.
	if err := fixture.service.SweepOnce(context.Background(), evalStart.Add(6*time.Minute)); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	fixture.pool.Close()

	if status := fixture.states.status("unit-1"); status != units.StatusOffline {
		t.Fatalf("status = %s", status)
	}
	if !fixture.lifecycle.opened(alerts.TypeSensorOffline) {
		t.Fatalf("expected sensor_offline intent: %+v", fixture.lifecycle.intents)
	}
}

func TestService_SweepLeavesNeverReportingSensorUnitAlone(t *testing.T) {
	directory := &stubDirectory{units: map[string]org.Unit{
		"unit-1": {ID: "unit-1", SiteID: "site-1", SensorIDs: []string{"sensor-1"}},
	}}
	fixture := newServiceFixture(t, directory, defaultRulesResolver{})

	if err := fixture.service.SweepOnce(context.Background(), evalStart.Add(2*time.Hour)); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	fixture.pool.Close()

	if len(fixture.lifecycle.intents) != 0 {
		t.Fatalf("unit with no history must not alarm: %+v", fixture.lifecycle.intents)
	}
}

func TestSiteTracker_PeersExcludeSelf(t *testing.T) {
	tracker := newSiteTracker()
	tracker.Update("site-1", "unit-1", PeerSample{UnitID: "unit-1", CurrentF: 36})
	tracker.Update("site-1", "unit-2", PeerSample{UnitID: "unit-2", CurrentF: 38, DeltaF: 4})
	tracker.Update("site-2", "unit-3", PeerSample{UnitID: "unit-3", CurrentF: 0})

	peers := tracker.Peers("site-1", "unit-1")
	if len(peers) != 1 || peers[0].UnitID != "unit-2" {
		t.Fatalf("unexpected peers: %+v", peers)
	}
	if peers := tracker.Peers("site-3", "unit-1"); peers != nil {
		t.Fatalf("unknown site should have no peers: %+v", peers)
	}
}
