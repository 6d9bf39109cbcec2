package contract

import (
	"fmt"
	"strings"
)

// Agent identifies one of the fixed pipeline participants.
type Agent string

const (
	AgentGitHub          Agent = "github"
	AgentProjectManager  Agent = "project_manager"
	AgentGameDesigner    Agent = "game_designer"
	AgentDeveloper       Agent = "developer"
	AgentTestEngineer    Agent = "test_engineer"
	AgentQATester        Agent = "qa_tester"
	AgentQualityReviewer Agent = "quality_reviewer"
)

// PipelineOrder lists the stages in execution order. The sequencing graph is
// derived from it: each stage hands off to the next, and the final stage hands
// back to the project manager to open the next iteration.
//
//nolint:gochecknoglobals // Static pipeline definition, immutable after init
var PipelineOrder = []Agent{
	AgentGitHub,
	AgentProjectManager,
	AgentGameDesigner,
	AgentDeveloper,
	AgentTestEngineer,
	AgentQATester,
	AgentQualityReviewer,
}

// pipelineEdges holds the legal (source, target) hops, built once from
// PipelineOrder plus the single closing edge quality_reviewer -> project_manager.
//
//nolint:gochecknoglobals // Immutable after init
var pipelineEdges = buildEdges()

func buildEdges() map[Agent]Agent {
	edges := make(map[Agent]Agent, len(PipelineOrder))
	for i := 0; i < len(PipelineOrder)-1; i++ {
		edges[PipelineOrder[i]] = PipelineOrder[i+1]
	}
	// Closing edge: a reviewed work item loops back to planning.
	edges[AgentQualityReviewer] = AgentProjectManager
	return edges
}

// ValidateAgent validates if a string is a known stage identity.
func ValidateAgent(agent string) (Agent, bool) {
	switch Agent(agent) {
	case AgentGitHub, AgentProjectManager, AgentGameDesigner, AgentDeveloper,
		AgentTestEngineer, AgentQATester, AgentQualityReviewer:
		return Agent(agent), true
	default:
		return "", false
	}
}

// ParseAgent parses a string into an Agent with validation.
func ParseAgent(s string) (Agent, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if agent, valid := ValidateAgent(normalized); valid {
		return agent, nil
	}
	return "", fmt.Errorf("unknown agent: %s", s)
}

// String returns the string representation of Agent.
func (a Agent) String() string {
	return string(a)
}

// NextAgent returns the stage a given agent hands off to.
func NextAgent(a Agent) (Agent, bool) {
	next, ok := pipelineEdges[a]
	return next, ok
}

// IsLegalHop reports whether (src, dst) is an edge of the sequencing graph.
// Skipping stages or reversing direction is illegal; the only backward edge is
// quality_reviewer -> project_manager, which starts the next iteration.
func IsLegalHop(src, dst Agent) bool {
	next, ok := pipelineEdges[src]
	return ok && next == dst
}

// TypeFor returns the canonical contract type string for a hop.
func TypeFor(src, dst Agent) string {
	return fmt.Sprintf("%s_to_%s", src, dst)
}
