// Package stage provides the execution wrapper around each pipeline stage:
// inbound contract validation, collaborator invocation, outbound compliance
// and quality gate enforcement, and durable state bookkeeping per transition.
package stage

import (
	"errors"
	"fmt"
	"strings"

	"conductor/pkg/state"
	"conductor/pkg/validation"
)

// Fault kinds. Callers branch on these with errors.Is; none is ever
// downgraded to a warning or retried by the runtime itself.
var (
	// ErrSchemaFault indicates a structural violation of the contract document.
	ErrSchemaFault = errors.New("schema fault")

	// ErrBusinessRuleFault indicates a semantic violation: bad sequencing,
	// identifier format, or traceability. A code fix, not a retry, is needed.
	ErrBusinessRuleFault = errors.New("business rule fault")

	// ErrComplianceFault indicates a declared principle is false or missing.
	ErrComplianceFault = errors.New("compliance fault")

	// ErrQualityGateFault indicates a specific named gate failed.
	ErrQualityGateFault = errors.New("quality gate fault")

	// ErrProcessingFault indicates the external collaborator failed.
	ErrProcessingFault = errors.New("processing fault")

	// ErrStorageFault indicates execution state could not be saved or loaded.
	// Re-exported from the state package so callers only import stage.
	ErrStorageFault = state.ErrStorage
)

// Fault is a typed execution failure. It wraps one of the sentinel kinds and
// carries the validation issues or gate name the caller needs for remediation.
type Fault struct {
	Kind   error
	Gate   string
	Issues []validation.Issue
	Err    error
}

// Error formats the fault with its complete issue list, so a caller sees
// everything wrong in one message.
func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.Error())
	if f.Gate != "" {
		fmt.Fprintf(&b, ": gate %q failed", f.Gate)
	}
	if f.Err != nil {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	for _, issue := range f.Issues {
		b.WriteString("\n  - ")
		b.WriteString(issue.String())
	}
	return b.String()
}

// Unwrap exposes both the fault kind and any underlying error to errors.Is.
func (f *Fault) Unwrap() []error {
	if f.Err != nil {
		return []error{f.Kind, f.Err}
	}
	return []error{f.Kind}
}

// errorRecord converts the fault into the typed record persisted alongside
// an error state.
func (f *Fault) errorRecord() *state.ErrorRecord {
	return &state.ErrorRecord{
		Kind:    f.Kind.Error(),
		Message: f.Error(),
		Gate:    f.Gate,
	}
}

// validationFault picks the fault kind for a failed full validation: schema
// errors dominate (the document is not even well-formed), then business
// rules, then compliance.
func validationFault(result *validation.Result) *Fault {
	kind := ErrComplianceFault
	switch {
	case result.HasKind(validation.KindSchema):
		kind = ErrSchemaFault
	case result.HasKind(validation.KindBusinessRule):
		kind = ErrBusinessRuleFault
	}
	return &Fault{Kind: kind, Issues: result.Errors}
}
