// Package contract defines the handoff document exchanged between pipeline
// stages, the fixed stage sequencing graph, and the document codec. A contract
// is produced by one stage, validated, and consumed by the next; it is never
// mutated in place, only superseded by the next hop's contract.
package contract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkItemIDPattern bounds legal work item identifiers, e.g. STORY-GH-1001 or
// ISSUE-12345. Compiled once at init; validators treat it as read-only.
//
//nolint:gochecknoglobals // Immutable after init
var WorkItemIDPattern = regexp.MustCompile(`^[A-Z]+-[A-Z0-9]+(-[A-Z0-9]+)*$`)

// VersionPattern bounds the contract_version field to semantic versions.
//
//nolint:gochecknoglobals // Immutable after init
var VersionPattern = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)

// WorkItemToken is the template token a file path may embed instead of the
// literal work item identifier.
const WorkItemToken = "{work_item_id}"

// InputRequirements describes what a stage needs before it can run.
type InputRequirements struct {
	RequiredFiles       []string       `json:"required_files" yaml:"required_files"`
	RequiredData        map[string]any `json:"required_data" yaml:"required_data"`
	RequiredValidations []string       `json:"required_validations" yaml:"required_validations"`
}

// OutputSpecifications describes what a stage promises to deliver.
type OutputSpecifications struct {
	DeliverableFiles   []string       `json:"deliverable_files" yaml:"deliverable_files"`
	DeliverableData    map[string]any `json:"deliverable_data" yaml:"deliverable_data"`
	ValidationCriteria map[string]any `json:"validation_criteria" yaml:"validation_criteria"`
}

// Contract is the structured handoff document exchanged between stages.
type Contract struct {
	ContractVersion      string               `json:"contract_version" yaml:"contract_version"`
	ContractType         string               `json:"contract_type" yaml:"contract_type"`
	WorkItemID           string               `json:"work_item_id" yaml:"work_item_id"`
	SourceAgent          Agent                `json:"source_agent" yaml:"source_agent"`
	TargetAgent          Agent                `json:"target_agent" yaml:"target_agent"`
	Compliance           Compliance           `json:"compliance" yaml:"compliance"`
	InputRequirements    InputRequirements    `json:"input_requirements" yaml:"input_requirements"`
	OutputSpecifications OutputSpecifications `json:"output_specifications" yaml:"output_specifications"`
	QualityGates         []string             `json:"quality_gates" yaml:"quality_gates"`
	HandoffCriteria      []string             `json:"handoff_criteria" yaml:"handoff_criteria"`
}

// New creates a contract for the given hop with the canonical contract type,
// full compliance assertions, and empty requirement/specification sections.
func New(src, dst Agent, workItemID string) *Contract {
	return &Contract{
		ContractVersion: "1.0",
		ContractType:    TypeFor(src, dst),
		WorkItemID:      workItemID,
		SourceAgent:     src,
		TargetAgent:     dst,
		Compliance:      FullCompliance(),
		InputRequirements: InputRequirements{
			RequiredFiles:       []string{},
			RequiredData:        map[string]any{},
			RequiredValidations: []string{},
		},
		OutputSpecifications: OutputSpecifications{
			DeliverableFiles:   []string{},
			DeliverableData:    map[string]any{},
			ValidationCriteria: map[string]any{},
		},
		QualityGates:    []string{},
		HandoffCriteria: []string{},
	}
}

// ToJSON serializes the contract to its wire format.
func (c *Contract) ToJSON() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contract: %w", err)
	}
	return data, nil
}

// FromJSON deserializes a contract from its wire format.
func FromJSON(data []byte) (*Contract, error) {
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contract: %w", err)
	}
	return &c, nil
}

// Document returns the contract as a decoded JSON object tree, the shape the
// validation engine operates on. Round-tripping through encoding/json keeps
// the document faithful to the wire format.
func (c *Contract) Document() (map[string]any, error) {
	data, err := c.ToJSON()
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode contract document: %w", err)
	}
	return doc, nil
}

// Decode converts a validated document tree into a typed Contract.
func Decode(doc map[string]any) (*Contract, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode document: %w", err)
	}
	return FromJSON(data)
}

// LoadDocument reads a contract document from a .json, .yaml, or .yml file
// without interpreting it. Schema validation happens on the returned tree so
// unknown fields survive the trip.
func LoadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract file %s: %w", path, err)
	}

	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML contract %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON contract %s: %w", path, err)
		}
	}
	return doc, nil
}

// LoadFile reads and decodes a contract from a .json, .yaml, or .yml file.
func LoadFile(path string) (*Contract, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return Decode(doc)
}

// Clone returns a deep copy of the contract. Validated contracts are treated
// as immutable; stages that need to derive the next hop's contract copy first.
func (c *Contract) Clone() *Contract {
	clone := &Contract{
		ContractVersion: c.ContractVersion,
		ContractType:    c.ContractType,
		WorkItemID:      c.WorkItemID,
		SourceAgent:     c.SourceAgent,
		TargetAgent:     c.TargetAgent,
		Compliance:      c.Compliance.Clone(),
		InputRequirements: InputRequirements{
			RequiredFiles:       append([]string{}, c.InputRequirements.RequiredFiles...),
			RequiredData:        cloneMap(c.InputRequirements.RequiredData),
			RequiredValidations: append([]string{}, c.InputRequirements.RequiredValidations...),
		},
		OutputSpecifications: OutputSpecifications{
			DeliverableFiles:   append([]string{}, c.OutputSpecifications.DeliverableFiles...),
			DeliverableData:    cloneMap(c.OutputSpecifications.DeliverableData),
			ValidationCriteria: cloneMap(c.OutputSpecifications.ValidationCriteria),
		},
		QualityGates:    append([]string{}, c.QualityGates...),
		HandoffCriteria: append([]string{}, c.HandoffCriteria...),
	}
	return clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// EmbedsWorkItemID reports whether a file path carries the work item
// identifier, either literally or via the {work_item_id} template token.
func EmbedsWorkItemID(path, workItemID string) bool {
	if strings.Contains(path, WorkItemToken) {
		return true
	}
	return workItemID != "" && strings.Contains(path, workItemID)
}
