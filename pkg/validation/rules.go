package validation

import (
	"conductor/pkg/contract"
)

// ValidateRules checks the semantic constraints the schema cannot express.
// All four rules run independently and their errors concatenate: a contract
// that fails more than one rule reports every failure in a single pass.
func ValidateRules(c *contract.Contract) []Issue {
	var errs []Issue
	errs = append(errs, checkSequencing(c)...)
	errs = append(errs, checkTypeConsistency(c)...)
	errs = append(errs, checkWorkItemID(c)...)
	errs = append(errs, checkTraceability(c)...)
	return errs
}

// checkSequencing verifies (source_agent, target_agent) is a legal edge of
// the pipeline graph. Unknown agents are sequencing errors too: an agent the
// graph does not know can never be part of a legal hop.
func checkSequencing(c *contract.Contract) []Issue {
	var errs []Issue

	_, srcKnown := contract.ValidateAgent(string(c.SourceAgent))
	if !srcKnown {
		errs = append(errs, ruleIssue("source_agent", "unknown agent %q is not part of the pipeline sequence", c.SourceAgent))
	}
	_, dstKnown := contract.ValidateAgent(string(c.TargetAgent))
	if !dstKnown {
		errs = append(errs, ruleIssue("target_agent", "unknown agent %q is not part of the pipeline sequence", c.TargetAgent))
	}
	if !srcKnown || !dstKnown {
		return errs
	}

	if !contract.IsLegalHop(c.SourceAgent, c.TargetAgent) {
		next, _ := contract.NextAgent(c.SourceAgent)
		errs = append(errs, ruleIssue("target_agent",
			"illegal sequence %s -> %s: %s hands off to %s",
			c.SourceAgent, c.TargetAgent, c.SourceAgent, next))
	}
	return errs
}

// checkTypeConsistency verifies contract_type equals the canonical
// "{source}_to_{target}" string, independently of whether the hop is legal.
func checkTypeConsistency(c *contract.Contract) []Issue {
	canonical := contract.TypeFor(c.SourceAgent, c.TargetAgent)
	if c.ContractType != canonical {
		return []Issue{ruleIssue("contract_type",
			"contract_type %q does not match canonical %q", c.ContractType, canonical)}
	}
	return nil
}

// checkWorkItemID verifies the identifier format. Empty, purely numeric, or
// otherwise malformed identifiers are rejected.
func checkWorkItemID(c *contract.Contract) []Issue {
	if c.WorkItemID == "" {
		return []Issue{ruleIssue("work_item_id", "work item identifier must not be empty")}
	}
	if !contract.WorkItemIDPattern.MatchString(c.WorkItemID) {
		return []Issue{ruleIssue("work_item_id",
			"%q does not match required pattern %s", c.WorkItemID, contract.WorkItemIDPattern.String())}
	}
	return nil
}

// checkTraceability verifies every declared file path embeds the contract's
// work item identifier, literally or via the {work_item_id} template token.
// This is what keeps artifacts attributable across a full pipeline run.
func checkTraceability(c *contract.Contract) []Issue {
	var errs []Issue
	for _, path := range c.InputRequirements.RequiredFiles {
		if !contract.EmbedsWorkItemID(path, c.WorkItemID) {
			errs = append(errs, ruleIssue("input_requirements.required_files",
				"path %q does not embed work item %q", path, c.WorkItemID))
		}
	}
	for _, path := range c.OutputSpecifications.DeliverableFiles {
		if !contract.EmbedsWorkItemID(path, c.WorkItemID) {
			errs = append(errs, ruleIssue("output_specifications.deliverable_files",
				"path %q does not embed work item %q", path, c.WorkItemID))
		}
	}
	return errs
}
