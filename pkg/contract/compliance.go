package contract

// Compliance carries the principle assertions every contract must make.
// The two maps are kept as map[string]any rather than map[string]bool so the
// compliance validator can distinguish a missing key from a mistyped value and
// report each separately.
type Compliance struct {
	DesignPrinciples       map[string]any `json:"design_principles" yaml:"design_principles"`
	ArchitecturePrinciples map[string]any `json:"architecture_principles" yaml:"architecture_principles"`
}

// DesignPrincipleKeys are the five boolean assertions required under
// compliance.design_principles. All must be present and true.
//
//nolint:gochecknoglobals // Static protocol definition, immutable after init
var DesignPrincipleKeys = []string{
	"kiss",
	"dry",
	"yagni",
	"single_responsibility",
	"separation_of_concerns",
}

// ArchitecturePrincipleKeys are the four boolean assertions required under
// compliance.architecture_principles. All must be present and true.
//
//nolint:gochecknoglobals // Static protocol definition, immutable after init
var ArchitecturePrincipleKeys = []string{
	"modular_design",
	"dependency_injection",
	"interface_segregation",
	"event_driven_communication",
}

// FullCompliance returns a Compliance section with every principle asserted
// true. Stages use it as the starting point when building an output contract.
func FullCompliance() Compliance {
	design := make(map[string]any, len(DesignPrincipleKeys))
	for _, key := range DesignPrincipleKeys {
		design[key] = true
	}
	arch := make(map[string]any, len(ArchitecturePrincipleKeys))
	for _, key := range ArchitecturePrincipleKeys {
		arch[key] = true
	}
	return Compliance{
		DesignPrinciples:       design,
		ArchitecturePrinciples: arch,
	}
}

// Clone returns a deep copy of the compliance section.
func (c Compliance) Clone() Compliance {
	clone := Compliance{}
	if c.DesignPrinciples != nil {
		clone.DesignPrinciples = make(map[string]any, len(c.DesignPrinciples))
		for k, v := range c.DesignPrinciples {
			clone.DesignPrinciples[k] = v
		}
	}
	if c.ArchitecturePrinciples != nil {
		clone.ArchitecturePrinciples = make(map[string]any, len(c.ArchitecturePrinciples))
		for k, v := range c.ArchitecturePrinciples {
			clone.ArchitecturePrinciples[k] = v
		}
	}
	return clone
}
