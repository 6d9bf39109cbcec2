// Package validation implements the contract admission gates: structural
// schema checks, business rules over the sequencing graph, compliance
// principle checks, and advisory quality gate classification. The package is
// stateless with respect to its inputs; all configuration (sequencing graph,
// principle key sets, patterns) is loaded once and treated as immutable.
package validation

import (
	"fmt"
	"time"
)

// IssueKind classifies a validation error by which gate produced it.
type IssueKind string

const (
	KindSchema       IssueKind = "schema"
	KindBusinessRule IssueKind = "business_rule"
	KindCompliance   IssueKind = "compliance"
)

// Issue is one validation error. A failed validation returns the complete
// list of issues in one call, never just the first.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Field   string    `json:"field"`
	Message string    `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Kind, i.Field, i.Message)
}

func schemaIssue(field, format string, args ...any) Issue {
	return Issue{Kind: KindSchema, Field: field, Message: fmt.Sprintf(format, args...)}
}

func ruleIssue(field, format string, args ...any) Issue {
	return Issue{Kind: KindBusinessRule, Field: field, Message: fmt.Sprintf(format, args...)}
}

func complianceIssue(field, format string, args ...any) Issue {
	return Issue{Kind: KindCompliance, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Result is the verdict for one contract validation pass.
type Result struct {
	IsValid   bool      `json:"is_valid"`
	Errors    []Issue   `json:"errors"`
	Warnings  []string  `json:"warnings"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorsOfKind returns the subset of errors produced by one gate.
func (r *Result) ErrorsOfKind(kind IssueKind) []Issue {
	var out []Issue
	for _, issue := range r.Errors {
		if issue.Kind == kind {
			out = append(out, issue)
		}
	}
	return out
}

// HasKind reports whether any error of the given kind is present.
func (r *Result) HasKind(kind IssueKind) bool {
	for _, issue := range r.Errors {
		if issue.Kind == kind {
			return true
		}
	}
	return false
}
