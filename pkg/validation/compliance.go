package validation

import (
	"conductor/pkg/contract"
)

// ValidateCompliance checks that every required principle is explicitly
// asserted and true. Compliance is a binary admission gate, not a quality
// score: a strict AND over all nine boolean assertions. A missing key, a
// mistyped value, and a false assertion are distinct, separately reported
// errors; nothing is silently coerced.
func ValidateCompliance(c contract.Compliance) []Issue {
	var errs []Issue
	errs = append(errs, checkPrinciples("compliance.design_principles",
		c.DesignPrinciples, contract.DesignPrincipleKeys)...)
	errs = append(errs, checkPrinciples("compliance.architecture_principles",
		c.ArchitecturePrinciples, contract.ArchitecturePrincipleKeys)...)
	return errs
}

func checkPrinciples(section string, asserted map[string]any, required []string) []Issue {
	var errs []Issue
	for _, key := range required {
		path := section + "." + key
		value, exists := asserted[key]
		if !exists {
			errs = append(errs, complianceIssue(path, "required principle is missing"))
			continue
		}
		flag, ok := value.(bool)
		if !ok {
			errs = append(errs, complianceIssue(path, "principle must be boolean, got %T", value))
			continue
		}
		if !flag {
			errs = append(errs, complianceIssue(path, "principle is asserted false"))
		}
	}
	return errs
}
