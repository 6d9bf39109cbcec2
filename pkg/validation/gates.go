package validation

import "strings"

// Classification says whether a quality gate can be checked by tooling or
// needs a human. Gates are advisory metadata describing what downstream
// tooling should verify; the engine never re-executes them itself.
type Classification string

const (
	// MachineCheckable gates can be evaluated by automated tooling.
	MachineCheckable Classification = "machine_checkable"
	// Manual gates need human review.
	Manual Classification = "manual"
)

// String returns the string representation of Classification.
func (c Classification) String() string {
	return string(c)
}

// defaultGateFragments are name fragments recognized as machine-checkable.
// Matching is substring-based so declared gates like "unit_test_coverage_90"
// or "eslint_clean" classify without an exact registry entry.
//
//nolint:gochecknoglobals // Static registry, immutable after init
var defaultGateFragments = []string{
	"coverage",
	"lint",
	"type_check",
	"typecheck",
	"benchmark",
	"performance",
	"accessibility",
	"security",
	"build",
	"unit_test",
	"integration_test",
}

// GateRegistry classifies declared quality gate names.
type GateRegistry struct {
	fragments []string
}

// NewGateRegistry creates a registry with the default machine-checkable
// fragments plus any extras.
func NewGateRegistry(extra ...string) *GateRegistry {
	fragments := make([]string, 0, len(defaultGateFragments)+len(extra))
	fragments = append(fragments, defaultGateFragments...)
	fragments = append(fragments, extra...)
	return &GateRegistry{fragments: fragments}
}

// Classify returns the classification for a gate name. Unrecognized names
// default to Manual; the caller surfaces that as a warning, never an error.
func (r *GateRegistry) Classify(gate string) Classification {
	normalized := strings.ToLower(gate)
	for _, fragment := range r.fragments {
		if strings.Contains(normalized, fragment) {
			return MachineCheckable
		}
	}
	return Manual
}

// ClassifyAll classifies a declared gate list and returns advisory warnings
// for every gate that falls back to manual review.
func (r *GateRegistry) ClassifyAll(gates []string) (map[string]Classification, []string) {
	classified := make(map[string]Classification, len(gates))
	var warns []string
	for _, gate := range gates {
		c := r.Classify(gate)
		classified[gate] = c
		if c == Manual {
			warns = append(warns, "quality gate "+gate+" is not machine-checkable, requires manual review")
		}
	}
	return classified, warns
}
