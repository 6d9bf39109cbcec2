package validation

import (
	"time"

	"conductor/pkg/contract"
	"conductor/pkg/metrics"
)

// Engine composes the schema, business rule, and compliance validators into
// one pass/fail/warn verdict, with quality gate classification appended as
// advisory warnings. An Engine holds no per-call mutable state and is safe to
// use from many goroutines at once.
type Engine struct {
	gates    *GateRegistry
	recorder metrics.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithGateRegistry replaces the default quality gate registry.
func WithGateRegistry(r *GateRegistry) Option {
	return func(e *Engine) { e.gates = r }
}

// WithRecorder attaches a metrics recorder for validation verdicts.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine creates a validation engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		gates:    NewGateRegistry(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate runs the full admission check on a decoded contract document.
//
// Order: schema first — a structurally invalid document cannot be meaningfully
// checked further, so schema errors short-circuit. Past schema, business rules
// and compliance both always run, even when one has already failed, so a
// single call surfaces the complete error set. Gate classification only ever
// appends warnings.
func (e *Engine) Validate(doc map[string]any) Result {
	result := Result{
		Errors:    []Issue{},
		Warnings:  []string{},
		Timestamp: time.Now().UTC(),
	}

	schemaErrs, schemaWarns := ValidateSchema(doc)
	result.Warnings = append(result.Warnings, schemaWarns...)
	if len(schemaErrs) > 0 {
		result.Errors = append(result.Errors, schemaErrs...)
		e.record(&result, "unknown")
		return result
	}

	c, err := contract.Decode(doc)
	if err != nil {
		// Schema passed but the document still failed to bind; report it as a
		// structural error rather than panicking downstream.
		result.Errors = append(result.Errors, schemaIssue("$", "document does not bind to contract: %v", err))
		e.record(&result, "unknown")
		return result
	}

	result.Errors = append(result.Errors, ValidateRules(c)...)
	result.Errors = append(result.Errors, ValidateCompliance(c.Compliance)...)

	_, gateWarns := e.gates.ClassifyAll(c.QualityGates)
	result.Warnings = append(result.Warnings, gateWarns...)

	result.IsValid = len(result.Errors) == 0
	e.record(&result, contract.TypeFor(c.SourceAgent, c.TargetAgent))
	return result
}

// ValidateContract is a convenience wrapper for callers holding a typed
// contract rather than a raw document.
func (e *Engine) ValidateContract(c *contract.Contract) Result {
	if c == nil {
		return Result{
			IsValid:   false,
			Errors:    []Issue{schemaIssue("$", "contract document is null or not an object")},
			Warnings:  []string{},
			Timestamp: time.Now().UTC(),
		}
	}
	doc, err := c.Document()
	if err != nil {
		return Result{
			IsValid:   false,
			Errors:    []Issue{schemaIssue("$", "contract does not encode to a document: %v", err)},
			Warnings:  []string{},
			Timestamp: time.Now().UTC(),
		}
	}
	return e.Validate(doc)
}

// Gates exposes the engine's gate registry for callers that classify gates
// outside a full validation pass.
func (e *Engine) Gates() *GateRegistry {
	return e.gates
}

func (e *Engine) record(result *Result, agentPair string) {
	e.recorder.RecordValidation(agentPair, result.IsValid)
	for _, issue := range result.Errors {
		e.recorder.RecordIssue(string(issue.Kind))
	}
}
