// SPDX-License-Identifier: Apache-2.0

// Package tool exposes the registry review operations as MCP tools.
package tool

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gemaraproj/registry-review/internal/workflow"
)

// ServerName is the MCP implementation name.
const ServerName = "registry-review"

// NewServer creates an MCP server with every tool registered.
func NewServer(controller *workflow.Controller, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	Register(server, NewTools(controller))
	return server
}

// Register adds the document and session tools to server.
func Register(server *mcp.Server, t *Tools) {
	mcp.AddTool(server, MetadataParseDocument, ParseDocument)

	mcp.AddTool(server, MetadataCreateSession, t.CreateSession)
	mcp.AddTool(server, MetadataListSessions, t.ListSessions)
	mcp.AddTool(server, MetadataDiscoverDocuments, t.DiscoverDocuments)
	mcp.AddTool(server, MetadataReclassifyDocument, t.ReclassifyDocument)
	mcp.AddTool(server, MetadataMapRequirements, t.MapRequirements)
	mcp.AddTool(server, MetadataCorrectMapping, t.CorrectMapping)
	mcp.AddTool(server, MetadataExtractEvidence, t.ExtractEvidence)
	mcp.AddTool(server, MetadataValidate, t.Validate)
	mcp.AddTool(server, MetadataGenerateReport, t.GenerateReport)
	mcp.AddTool(server, MetadataSubmitReview, t.SubmitReview)
	mcp.AddTool(server, MetadataCompleteSession, t.CompleteSession)
	mcp.AddTool(server, MetadataResetSession, t.ResetSession)
	mcp.AddTool(server, MetadataGetSessionState, t.GetSessionState)
	mcp.AddTool(server, MetadataGetGraph, t.GetGraph)
}
