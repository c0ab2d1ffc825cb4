package application

import (
	"context"
	"errors"

	org "coldchain-cloud/internal/org/domain"
	rules "coldchain-cloud/internal/rules/domain"
)

// OverrideReader loads rule overrides for one scope.
type OverrideReader interface {
	Get(ctx context.Context, scope, scopeID string) (*rules.Override, error)
}

// Resolver computes effective alert rules for a unit by walking the
// organization, site, area, and unit scopes in order. Most specific wins.
type Resolver struct {
	overrides OverrideReader
}

// NewResolver constructs a resolver.
func NewResolver(overrides OverrideReader) (*Resolver, error) {
	if overrides == nil {
		return nil, errors.New("rules resolver: nil override reader")
	}
	return &Resolver{overrides: overrides}, nil
}

// ResolveForUnit returns the effective rules for the unit.
// A unit with no resolvable scope at all yields ErrConfigurationMissing.
func (r *Resolver) ResolveForUnit(ctx context.Context, unit org.Unit) (rules.EffectiveAlertRules, error) {
	if r == nil || r.overrides == nil {
		return rules.EffectiveAlertRules{}, errors.New("rules resolver: nil resolver")
	}
	if unit.ID == "" {
		return rules.EffectiveAlertRules{}, rules.ErrConfigurationMissing
	}

	chain := []struct {
		scope   string
		scopeID string
	}{
		{rules.ScopeOrganization, unit.OrganizationID},
		{rules.ScopeSite, unit.SiteID},
		{rules.ScopeArea, unit.AreaID},
		{rules.ScopeUnit, unit.ID},
	}

	var ordered []rules.Override
	for _, link := range chain {
		if link.scopeID == "" {
			continue
		}
		override, err := r.overrides.Get(ctx, link.scope, link.scopeID)
		if err != nil {
			return rules.EffectiveAlertRules{}, err
		}
		if override != nil {
			ordered = append(ordered, *override)
		}
	}
	return rules.Resolve(ordered), nil
}
