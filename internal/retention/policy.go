package retention

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	v1 "github.com/veldt-lab/veldt/internal/api/v1"
)

// Policy is the retention limit for one dataset: after a sweep completes,
// no persisted record in the dataset is older than MaxAgeDays.
type Policy struct {
	Dataset    string `yaml:"dataset"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultPolicies returns the built-in retention windows.
func DefaultPolicies() []Policy {
	return []Policy{
		{Dataset: v1.DatasetPageViews, MaxAgeDays: 180},
		{Dataset: v1.DatasetSessions, MaxAgeDays: 30},
		{Dataset: v1.DatasetSystemMetrics, MaxAgeDays: 90},
	}
}

type policyFile struct {
	Policies []Policy `yaml:"policies"`
}

// LoadPolicyFile reads per-dataset overrides from a YAML file and merges
// them over the defaults. Datasets absent from the file keep their default
// window; unknown datasets are rejected so a typo cannot silently disable
// retention for the dataset it meant to configure.
func LoadPolicyFile(path string) ([]Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	merged := make(map[string]Policy)
	for _, p := range DefaultPolicies() {
		merged[p.Dataset] = p
	}

	for _, p := range pf.Policies {
		if _, ok := merged[p.Dataset]; !ok {
			return nil, fmt.Errorf("unknown dataset %q in policy file", p.Dataset)
		}
		if p.MaxAgeDays <= 0 {
			return nil, fmt.Errorf("dataset %q: max_age_days must be positive, got %d", p.Dataset, p.MaxAgeDays)
		}
		merged[p.Dataset] = p
	}

	out := make([]Policy, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dataset < out[j].Dataset })
	return out, nil
}
