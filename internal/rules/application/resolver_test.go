package application

import (
	"context"
	"errors"
	"testing"

	org "coldchain-cloud/internal/org/domain"
	rules "coldchain-cloud/internal/rules/domain"
)

type stubOverrideReader struct {
	overrides map[string]*rules.Override
	err       error
}

func (s *stubOverrideReader) Get(_ context.Context, scope, scopeID string) (*rules.Override, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.overrides[scope+"/"+scopeID], nil
}

func floatPtr(v float64) *float64 { return &v }

func TestResolveForUnit_WalksScopeChain(t *testing.T) {
	reader := &stubOverrideReader{overrides: map[string]*rules.Override{
		"organization/org-1": {Scope: rules.ScopeOrganization, ScopeID: "org-1", TempHighWarnF: floatPtr(42)},
		"site/site-1":        {Scope: rules.ScopeSite, ScopeID: "site-1", TempHighCritF: floatPtr(50)},
		"unit/unit-1":        {Scope: rules.ScopeUnit, ScopeID: "unit-1", TempHighWarnF: floatPtr(5)},
	}}
	resolver, err := NewResolver(reader)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	unit := org.Unit{ID: "unit-1", AreaID: "area-1", SiteID: "site-1", OrganizationID: "org-1"}
	resolved, err := resolver.ResolveForUnit(context.Background(), unit)
	if err != nil {
		t.Fatalf("ResolveForUnit: %v", err)
	}

	if resolved.TempHighWarnF != 5 {
		t.Fatalf("unit scope should win, TempHighWarnF = %v", resolved.TempHighWarnF)
	}
	if resolved.TempHighCritF != 50 {
		t.Fatalf("site scope should apply, TempHighCritF = %v", resolved.TempHighCritF)
	}
	if resolved.TempLowWarnF != rules.Defaults().TempLowWarnF {
		t.Fatalf("untouched field should keep default")
	}
}

func TestResolveForUnit_NoOverridesYieldsDefaults(t *testing.T) {
	resolver, err := NewResolver(&stubOverrideReader{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	unit := org.Unit{ID: "unit-1", SiteID: "site-1", OrganizationID: "org-1"}
	resolved, err := resolver.ResolveForUnit(context.Background(), unit)
	if err != nil {
		t.Fatalf("ResolveForUnit: %v", err)
	}
	if resolved.TempHighWarnF != rules.Defaults().TempHighWarnF {
		t.Fatalf("expected defaults, TempHighWarnF = %v", resolved.TempHighWarnF)
	}
}

func TestResolveForUnit_MissingUnitID(t *testing.T) {
	resolver, err := NewResolver(&stubOverrideReader{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	_, err = resolver.ResolveForUnit(context.Background(), org.Unit{})
	if !errors.Is(err, rules.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
}

func TestResolveForUnit_ReaderErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	resolver, err := NewResolver(&stubOverrideReader{err: boom})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	unit := org.Unit{ID: "unit-1", OrganizationID: "org-1"}
	if _, err := resolver.ResolveForUnit(context.Background(), unit); !errors.Is(err, boom) {
		t.Fatalf("expected reader error, got %v", err)
	}
}
