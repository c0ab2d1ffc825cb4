package policyfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	escalation "coldchain-cloud/internal/escalation/domain"
)

type fileDocument struct {
	Default escalation.Policy            `yaml:"default"`
	Sites   map[string]escalation.Policy `yaml:"sites"`
}

// Provider serves escalation policies loaded from a YAML file. Sites
// without an entry fall back to the file's default ladder, or to the
// built-in one when the file defines none.
type Provider struct {
	fallback escalation.Policy
	sites    map[string]escalation.Policy
}

// Load reads and validates a policy file. An empty path yields a
// provider that serves the built-in default for every site.
func Load(path string) (*Provider, error) {
	provider := &Provider{
		fallback: escalation.DefaultPolicy(),
		sites:    make(map[string]escalation.Policy),
	}
	if path == "" {
		return provider, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("escalation policies: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("escalation policies: %w", err)
	}

	if len(doc.Default.Levels) > 0 {
		if err := doc.Default.Normalize(); err != nil {
			return nil, err
		}
		provider.fallback = doc.Default
	}
	for siteID, policy := range doc.Sites {
		policy.SiteID = siteID
		if err := policy.Normalize(); err != nil {
			return nil, fmt.Errorf("site %s: %w", siteID, err)
		}
		provider.sites[siteID] = policy
	}
	return provider, nil
}

// PolicyFor returns the site's ladder.
func (p *Provider) PolicyFor(siteID string) escalation.Policy {
	if p == nil {
		return escalation.DefaultPolicy()
	}
	if policy, ok := p.sites[siteID]; ok {
		return policy
	}
	return p.fallback
}
