// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gemaraproj/registry-review/internal/review"
	"github.com/gemaraproj/registry-review/internal/workflow"
)

// Tools exposes the workflow operations as MCP tool handlers.
type Tools struct {
	controller *workflow.Controller
}

// NewTools creates Tools over a controller.
func NewTools(controller *workflow.Controller) *Tools {
	return &Tools{controller: controller}
}

// ---------------------------------------------------------------------------
// Tool metadata
// ---------------------------------------------------------------------------

var (
	MetadataCreateSession = &mcp.Tool{
		Name: "create_session",
		Description: "Start a registry review session for a project. Loads the requirement checklist for the " +
			"methodology and scope (all, farm or meta) and returns the session with its identifier.",
	}
	MetadataListSessions = &mcp.Tool{
		Name:        "list_sessions",
		Description: "List every review session with its current stage.",
	}
	MetadataDiscoverDocuments = &mcp.Tool{
		Name: "discover_documents",
		Description: "Walk a submission folder, render each supported file to text and classify it. " +
			"Replaces any earlier discovery for the session and invalidates every later stage.",
	}
	MetadataReclassifyDocument = &mcp.Tool{
		Name:        "reclassify_document",
		Description: "Record a manual document type for one discovered document. Invalidates mapping and every later stage.",
	}
	MetadataMapRequirements = &mcp.Tool{
		Name:        "map_requirements",
		Description: "Rank the discovered documents against every checklist requirement by keyword relevance.",
	}
	MetadataCorrectMapping = &mcp.Tool{
		Name:        "correct_mapping",
		Description: "Replace the candidate documents of one requirement by hand. Invalidates evidence extraction and every later stage.",
	}
	MetadataExtractEvidence = &mcp.Tool{
		Name: "extract_evidence",
		Description: "Extract cited snippets and structured field values for every requirement from its mapped " +
			"documents, verify each value against its quoted source text, and classify coverage.",
	}
	MetadataValidate = &mcp.Tool{
		Name: "validate",
		Description: "Cross-check the extracted fields: structural checks, cross-document consistency " +
			"(date alignment, land area, ownership, project identifier) and, when too few deterministic " +
			"checks ran, an advisory assessment.",
	}
	MetadataGenerateReport = &mcp.Tool{
		Name:        "generate_report",
		Description: "Build the review report: coverage, per-requirement citations and validation findings.",
	}
	MetadataSubmitReview = &mcp.Tool{
		Name:        "submit_review",
		Description: "Record reviewer decisions per requirement (accept, override status, note).",
	}
	MetadataCompleteSession = &mcp.Tool{
		Name:        "complete_session",
		Description: "Mark the session complete. Completing an already complete session is a no-op.",
	}
	MetadataResetSession = &mcp.Tool{
		Name: "reset_session",
		Description: "Reopen the session at an earlier stage, cancelling in-flight work and discarding the " +
			"artifacts of that stage and every later one.",
	}
	MetadataGetSessionState = &mcp.Tool{
		Name:        "get_session_state",
		Description: "Return the current stage, per-stage completion and a summary of the session's artifacts.",
	}
	MetadataGetGraph = &mcp.Tool{
		Name:        "get_graph",
		Description: "Return every artifact of the session: documents, mappings, evidence, validation, report and review.",
	}
)

// ---------------------------------------------------------------------------
// Inputs
// ---------------------------------------------------------------------------

// InputCreateSession is the input for create_session.
type InputCreateSession struct {
	ProjectName string `json:"project_name" jsonschema:"name of the project under review"`
	Methodology string `json:"methodology" jsonschema:"methodology key such as soil-carbon-v1.2.2"`
	Scope       string `json:"scope,omitempty" jsonschema:"requirement scope: all, farm or meta (default all)"`
}

// InputSession names one session.
type InputSession struct {
	SessionID string `json:"session_id" jsonschema:"identifier returned by create_session"`
}

// InputDiscoverDocuments is the input for discover_documents.
type InputDiscoverDocuments struct {
	SessionID string `json:"session_id" jsonschema:"identifier returned by create_session"`
	Source    string `json:"source" jsonschema:"path of the submission folder"`
}

// InputReclassifyDocument is the input for reclassify_document.
type InputReclassifyDocument struct {
	SessionID  string `json:"session_id" jsonschema:"identifier returned by create_session"`
	DocumentID string `json:"document_id" jsonschema:"identifier of the discovered document"`
	Type       string `json:"type" jsonschema:"document type such as project_plan, baseline_report or land_tenure"`
}

// InputCorrectMapping is the input for correct_mapping.
type InputCorrectMapping struct {
	SessionID     string   `json:"session_id" jsonschema:"identifier returned by create_session"`
	RequirementID string   `json:"requirement_id" jsonschema:"checklist requirement such as REQ-007"`
	DocumentIDs   []string `json:"document_ids" jsonschema:"documents to map, most relevant first; empty clears the mapping"`
}

// InputDecision is one reviewer decision.
type InputDecision struct {
	RequirementID string `json:"requirement_id" jsonschema:"checklist requirement"`
	Status        string `json:"status,omitempty" jsonschema:"override status: covered, partial or missing; empty accepts the extracted status"`
	Note          string `json:"note,omitempty" jsonschema:"free-text reviewer note"`
}

// InputSubmitReview is the input for submit_review.
type InputSubmitReview struct {
	SessionID string          `json:"session_id" jsonschema:"identifier returned by create_session"`
	Reviewer  string          `json:"reviewer,omitempty" jsonschema:"reviewer name"`
	Decisions []InputDecision `json:"decisions" jsonschema:"per-requirement decisions"`
}

// InputResetSession is the input for reset_session.
type InputResetSession struct {
	SessionID string `json:"session_id" jsonschema:"identifier returned by create_session"`
	Stage     string `json:"stage" jsonschema:"stage to reopen, from document_discovery onward"`
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func requireSession(id string) error {
	if id == "" {
		return fmt.Errorf("session_id is required")
	}
	return nil
}

// CreateSession handles create_session.
func (t *Tools) CreateSession(ctx context.Context, _ *mcp.CallToolRequest, input InputCreateSession) (*mcp.CallToolResult, any, error) {
	sess, err := t.controller.CreateSession(ctx, input.ProjectName, input.Methodology, input.Scope)
	if err != nil {
		return nil, nil, err
	}
	return nil, sess, nil
}

// ListSessions handles list_sessions.
func (t *Tools) ListSessions(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	sessions, err := t.controller.ListSessions(ctx)
	if err != nil {
		return nil, nil, err
	}
	if sessions == nil {
		sessions = []review.Session{}
	}
	return nil, map[string]any{"sessions": sessions}, nil
}

// DiscoverDocuments handles discover_documents.
func (t *Tools) DiscoverDocuments(ctx context.Context, _ *mcp.CallToolRequest, input InputDiscoverDocuments) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	if input.Source == "" {
		return nil, nil, fmt.Errorf("source is required")
	}
	docs, err := t.controller.DiscoverDocuments(ctx, input.SessionID, input.Source)
	if err != nil {
		return nil, nil, err
	}
	return nil, map[string]any{"documents": docs}, nil
}

// ReclassifyDocument handles reclassify_document.
func (t *Tools) ReclassifyDocument(ctx context.Context, _ *mcp.CallToolRequest, input InputReclassifyDocument) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	doc, err := t.controller.ReclassifyDocument(ctx, input.SessionID, input.DocumentID, review.DocumentType(input.Type))
	if err != nil {
		return nil, nil, err
	}
	return nil, doc, nil
}

// MapRequirements handles map_requirements.
func (t *Tools) MapRequirements(ctx context.Context, _ *mcp.CallToolRequest, input InputSession) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	mappings, err := t.controller.MapRequirements(ctx, input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return nil, map[string]any{"mappings": mappings}, nil
}

// CorrectMapping handles correct_mapping.
func (t *Tools) CorrectMapping(ctx context.Context, _ *mcp.CallToolRequest, input InputCorrectMapping) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	m, err := t.controller.CorrectMapping(ctx, input.SessionID, input.RequirementID, input.DocumentIDs)
	if err != nil {
		return nil, nil, err
	}
	return nil, m, nil
}

// ExtractEvidence handles extract_evidence.
func (t *Tools) ExtractEvidence(ctx context.Context, _ *mcp.CallToolRequest, input InputSession) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	items, err := t.controller.ExtractEvidence(ctx, input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return nil, map[string]any{
		"items":            items,
		"counts":           review.Counts(items),
		"overall_coverage": review.Coverage(items),
	}, nil
}

// Validate handles validate.
func (t *Tools) Validate(ctx context.Context, _ *mcp.CallToolRequest, input InputSession) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	report, err := t.controller.Validate(ctx, input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return nil, report, nil
}

// GenerateReport handles generate_report.
func (t *Tools) GenerateReport(ctx context.Context, _ *mcp.CallToolRequest, input InputSession) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	report, err := t.controller.GenerateReport(ctx, input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return nil, report, nil
}

// SubmitReview handles submit_review.
func (t *Tools) SubmitReview(ctx context.Context, _ *mcp.CallToolRequest, input InputSubmitReview) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	decisions := make([]review.Decision, 0, len(input.Decisions))
	for _, d := range input.Decisions {
		decisions = append(decisions, review.Decision{
			RequirementID: d.RequirementID,
			Status:        review.Status(d.Status),
			Note:          d.Note,
		})
	}
	rv, err := t.controller.SubmitReview(ctx, input.SessionID, input.Reviewer, decisions)
	if err != nil {
		return nil, nil, err
	}
	return nil, rv, nil
}

// CompleteSession handles complete_session.
func (t *Tools) CompleteSession(ctx context.Context, _ *mcp.CallToolRequest, input InputSession) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	sess, err := t.controller.Complete(ctx, input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return nil, sess, nil
}

// ResetSession handles reset_session.
func (t *Tools) ResetSession(ctx context.Context, _ *mcp.CallToolRequest, input InputResetSession) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	stage, err := review.ParseStage(input.Stage)
	if err != nil {
		return nil, nil, err
	}
	sess, err := t.controller.Reset(ctx, input.SessionID, stage)
	if err != nil {
		return nil, nil, err
	}
	return nil, sess, nil
}

// GetSessionState handles get_session_state.
func (t *Tools) GetSessionState(ctx context.Context, _ *mcp.CallToolRequest, input InputSession) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	state, err := t.controller.GetSessionState(ctx, input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return nil, state, nil
}

// GetGraph handles get_graph.
func (t *Tools) GetGraph(ctx context.Context, _ *mcp.CallToolRequest, input InputSession) (*mcp.CallToolResult, any, error) {
	if err := requireSession(input.SessionID); err != nil {
		return nil, nil, err
	}
	graph, err := t.controller.GetGraph(ctx, input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return nil, graph, nil
}
