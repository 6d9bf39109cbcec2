package validation

import (
	"conductor/pkg/contract"
	"conductor/pkg/utils"
)

// knownTopLevelFields is the fixed structural schema for contract documents.
// Fields outside this set are tolerated and surfaced as warnings, never
// errors; that is what allows additive, backwards-compatible contract
// evolution while removal of required fields still fails hard.
//
//nolint:gochecknoglobals // Immutable after init
var knownTopLevelFields = map[string]bool{
	"contract_version":      true,
	"contract_type":         true,
	"work_item_id":          true,
	"source_agent":          true,
	"target_agent":          true,
	"compliance":            true,
	"input_requirements":    true,
	"output_specifications": true,
	"quality_gates":         true,
	"handoff_criteria":      true,
}

// ValidateSchema checks a decoded contract document against the structural
// schema: required fields present, correctly typed, and pattern-conformant.
// It never mutates the document. A nil or non-object input yields a single
// structural error rather than a panic.
func ValidateSchema(doc map[string]any) ([]Issue, []string) {
	if doc == nil {
		return []Issue{schemaIssue("$", "contract document is null or not an object")}, nil
	}

	var errs []Issue
	var warns []string

	errs = append(errs, requireString(doc, "contract_version")...)
	if version, err := utils.GetMapField[string](doc, "contract_version"); err == nil && version != "" {
		if !contract.VersionPattern.MatchString(version) {
			errs = append(errs, schemaIssue("contract_version", "%q is not a semantic version", version))
		}
	}

	errs = append(errs, requireString(doc, "contract_type")...)
	errs = append(errs, requireString(doc, "work_item_id")...)
	errs = append(errs, requireString(doc, "source_agent")...)
	errs = append(errs, requireString(doc, "target_agent")...)

	complianceErrs, complianceWarns := validateComplianceShape(doc)
	errs = append(errs, complianceErrs...)
	warns = append(warns, complianceWarns...)

	sectionErrs, sectionWarns := validateSection(doc, "input_requirements",
		map[string]fieldKind{
			"required_files":       kindStringList,
			"required_data":        kindObject,
			"required_validations": kindStringList,
		})
	errs = append(errs, sectionErrs...)
	warns = append(warns, sectionWarns...)

	sectionErrs, sectionWarns = validateSection(doc, "output_specifications",
		map[string]fieldKind{
			"deliverable_files":   kindStringList,
			"deliverable_data":    kindObject,
			"validation_criteria": kindObject,
		})
	errs = append(errs, sectionErrs...)
	warns = append(warns, sectionWarns...)

	errs = append(errs, requireStringList(doc, "quality_gates")...)
	errs = append(errs, requireStringList(doc, "handoff_criteria")...)

	// Unknown extra fields are forward-compatible additions, warn only.
	for key := range doc {
		if !knownTopLevelFields[key] {
			warns = append(warns, "unknown field ignored: "+key)
		}
	}

	return errs, warns
}

type fieldKind int

const (
	kindObject fieldKind = iota
	kindStringList
)

func requireString(doc map[string]any, field string) []Issue {
	value, exists := doc[field]
	if !exists {
		return []Issue{schemaIssue(field, "required field is missing")}
	}
	s, ok := utils.SafeAssert[string](value)
	if !ok {
		return []Issue{schemaIssue(field, "must be a string, got %T", value)}
	}
	if s == "" {
		return []Issue{schemaIssue(field, "must not be empty")}
	}
	return nil
}

func requireStringList(doc map[string]any, field string) []Issue {
	value, exists := doc[field]
	if !exists {
		return []Issue{schemaIssue(field, "required field is missing")}
	}
	if _, ok := utils.StringSlice(value); !ok {
		return []Issue{schemaIssue(field, "must be a list of strings, got %T", value)}
	}
	return nil
}

func requireObject(doc map[string]any, field string) (map[string]any, []Issue) {
	value, exists := doc[field]
	if !exists {
		return nil, []Issue{schemaIssue(field, "required field is missing")}
	}
	obj, err := utils.AssertMapStringAny(value)
	if err != nil {
		return nil, []Issue{schemaIssue(field, "must be an object, got %T", value)}
	}
	return obj, nil
}

// validateComplianceShape checks only the structural shape of the compliance
// section (two required sub-objects). Key completeness and truth values are
// the compliance validator's job.
func validateComplianceShape(doc map[string]any) ([]Issue, []string) {
	section, errs := requireObject(doc, "compliance")
	if section == nil {
		return errs, nil
	}

	var warns []string
	for _, sub := range []string{"design_principles", "architecture_principles"} {
		value, exists := section[sub]
		if !exists {
			errs = append(errs, schemaIssue("compliance."+sub, "required field is missing"))
			continue
		}
		if _, err := utils.AssertMapStringAny(value); err != nil {
			errs = append(errs, schemaIssue("compliance."+sub, "must be an object, got %T", value))
		}
	}
	for key := range section {
		if key != "design_principles" && key != "architecture_principles" {
			warns = append(warns, "unknown field ignored: compliance."+key)
		}
	}
	return errs, warns
}

func validateSection(doc map[string]any, field string, shape map[string]fieldKind) ([]Issue, []string) {
	section, errs := requireObject(doc, field)
	if section == nil {
		return errs, nil
	}

	var warns []string
	for sub, kind := range shape {
		path := field + "." + sub
		value, exists := section[sub]
		if !exists {
			errs = append(errs, schemaIssue(path, "required field is missing"))
			continue
		}
		switch kind {
		case kindObject:
			if _, err := utils.AssertMapStringAny(value); err != nil {
				errs = append(errs, schemaIssue(path, "must be an object, got %T", value))
			}
		case kindStringList:
			if _, ok := utils.StringSlice(value); !ok {
				errs = append(errs, schemaIssue(path, "must be a list of strings, got %T", value))
			}
		}
	}
	for key := range section {
		if _, known := shape[key]; !known {
			warns = append(warns, "unknown field ignored: "+field+"."+key)
		}
	}
	return errs, warns
}
