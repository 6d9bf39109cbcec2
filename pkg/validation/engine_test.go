package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/contract"
)

func TestEngineValidatesEveryLegalHop(t *testing.T) {
	engine := NewEngine()

	hops := make([][2]contract.Agent, 0, len(contract.PipelineOrder))
	for i := 0; i < len(contract.PipelineOrder)-1; i++ {
		hops = append(hops, [2]contract.Agent{contract.PipelineOrder[i], contract.PipelineOrder[i+1]})
	}
	hops = append(hops, [2]contract.Agent{contract.AgentQualityReviewer, contract.AgentProjectManager})

	for _, hop := range hops {
		doc := validDoc(t, hop[0], hop[1], "STORY-GH-1001")
		result := engine.Validate(doc)
		assert.True(t, result.IsValid, "hop %s -> %s: %v", hop[0], hop[1], result.Errors)
		assert.Empty(t, result.Errors)
		assert.False(t, result.Timestamp.IsZero())
	}
}

func TestEngineSchemaShortCircuits(t *testing.T) {
	engine := NewEngine()

	doc := validDoc(t, contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
	delete(doc, "source_agent")
	// This would also fail business rules, but a structurally invalid
	// document is not checked further.
	doc["contract_type"] = "mismatch"

	result := engine.Validate(doc)
	require.False(t, result.IsValid)
	for _, issue := range result.Errors {
		assert.Equal(t, KindSchema, issue.Kind)
	}
}

func TestEngineReportsRulesAndComplianceTogether(t *testing.T) {
	engine := NewEngine()

	doc := validDoc(t, contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
	doc["contract_type"] = "mismatch"
	compliance := doc["compliance"].(map[string]any)
	design := compliance["design_principles"].(map[string]any)
	design["kiss"] = false

	result := engine.Validate(doc)
	require.False(t, result.IsValid)
	assert.True(t, result.HasKind(KindBusinessRule), "business rule errors expected: %v", result.Errors)
	assert.True(t, result.HasKind(KindCompliance), "compliance errors expected: %v", result.Errors)
}

func TestEngineUnknownFieldStaysValid(t *testing.T) {
	engine := NewEngine()

	doc := validDoc(t, contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
	doc["future_extension"] = []any{"a", "b"}

	result := engine.Validate(doc)
	assert.True(t, result.IsValid)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "future_extension")
}

func TestEngineManualGatesWarnOnly(t *testing.T) {
	engine := NewEngine()

	doc := validDoc(t, contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
	doc["quality_gates"] = []any{"lint", "stakeholder_signoff"}

	result := engine.Validate(doc)
	assert.True(t, result.IsValid, "gate classification must never block validation")
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "stakeholder_signoff")
}

func TestEngineNilContract(t *testing.T) {
	engine := NewEngine()
	result := engine.ValidateContract(nil)
	require.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, KindSchema, result.Errors[0].Kind)
}

func TestEngineRejectsRemovedComplianceKey(t *testing.T) {
	engine := NewEngine()

	allKeys := append(append([]string{}, contract.DesignPrincipleKeys...), contract.ArchitecturePrincipleKeys...)
	for i, key := range allKeys {
		doc := validDoc(t, contract.AgentProjectManager, contract.AgentGameDesigner, "STORY-GH-1001")
		compliance := doc["compliance"].(map[string]any)
		section := "design_principles"
		if i >= len(contract.DesignPrincipleKeys) {
			section = "architecture_principles"
		}
		delete(compliance[section].(map[string]any), key)

		result := engine.Validate(doc)
		require.False(t, result.IsValid, "removing %s should invalidate", key)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0].Field, key, "error should name the missing key")
	}
}

// TestEngineConcurrentValidation checks that 50 goroutines validating
// distinct contracts get the same verdicts as a sequential pass: the engine
// shares no mutable state across calls.
func TestEngineConcurrentValidation(t *testing.T) {
	engine := NewEngine()

	docs := make([]map[string]any, 50)
	sequential := make([]bool, 50)
	for i := range docs {
		doc := validDoc(t, contract.AgentDeveloper, contract.AgentTestEngineer, "STORY-GH-1001")
		if i%3 == 0 {
			// Every third contract is made invalid.
			doc["contract_type"] = "broken"
		}
		docs[i] = doc
		sequential[i] = engine.Validate(doc).IsValid
	}

	concurrent := make([]bool, 50)
	var wg sync.WaitGroup
	for i := range docs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			concurrent[i] = engine.Validate(docs[i]).IsValid
		}(i)
	}
	wg.Wait()

	assert.Equal(t, sequential, concurrent)
}
