// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/registry-review/internal/catalog"
	"github.com/gemaraproj/registry-review/internal/config"
	"github.com/gemaraproj/registry-review/internal/review"
	"github.com/gemaraproj/registry-review/internal/store"
	"github.com/gemaraproj/registry-review/internal/workflow"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newController(t *testing.T) *workflow.Controller {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	reg, err := catalog.Load("")
	require.NoError(t, err)
	c, err := workflow.New(st, reg, config.Default(),
		workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return c
}

func submissionFolder(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "4997Botany22_Project_Plan.md"), []byte(
		"# Project Plan\n\nThe project is registered with a unique project identifier and a project name.\n\n"+
			"Project ID: C06-4997. The project start date is 1 March 2021.\n"), 0o600))
	return dir
}

// connect runs the MCP server over in-memory transports and returns the
// client side of the session.
func connect(t *testing.T, c *workflow.Controller) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	server := NewServer(c, "test")
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content must be text")
	return tc.Text
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func TestTools_RequireSessionID(t *testing.T) {
	tools := NewTools(newController(t))
	ctx := context.Background()
	req := &mcp.CallToolRequest{}

	tests := []struct {
		name string
		call func() error
	}{
		{"map_requirements", func() error { _, _, err := tools.MapRequirements(ctx, req, InputSession{}); return err }},
		{"extract_evidence", func() error { _, _, err := tools.ExtractEvidence(ctx, req, InputSession{}); return err }},
		{"validate", func() error { _, _, err := tools.Validate(ctx, req, InputSession{}); return err }},
		{"get_session_state", func() error { _, _, err := tools.GetSessionState(ctx, req, InputSession{}); return err }},
		{"discover_documents", func() error {
			_, _, err := tools.DiscoverDocuments(ctx, req, InputDiscoverDocuments{Source: "x"})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "session_id is required")
		})
	}
}

func TestTools_StageDependencyNamesTheStage(t *testing.T) {
	tools := NewTools(newController(t))
	ctx := context.Background()
	req := &mcp.CallToolRequest{}

	_, out, err := tools.CreateSession(ctx, req, InputCreateSession{ProjectName: "Botany Farm", Methodology: "soil-carbon-v1.2.2"})
	require.NoError(t, err)
	sess, ok := out.(*review.Session)
	require.True(t, ok)

	_, _, err = tools.ExtractEvidence(ctx, req, InputSession{SessionID: sess.ID})
	require.Error(t, err)
	assert.True(t, workflow.IsStageDependency(err))
	assert.Contains(t, err.Error(), string(review.StageRequirementMapping))
}

func TestTools_ResetRejectsUnknownStage(t *testing.T) {
	tools := NewTools(newController(t))
	_, _, err := tools.ResetSession(context.Background(), &mcp.CallToolRequest{},
		InputResetSession{SessionID: "any", Stage: "bogus"})
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

func TestServer_ListsEveryTool(t *testing.T) {
	cs := connect(t, newController(t))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{
		"parse_document", "create_session", "list_sessions", "discover_documents",
		"reclassify_document", "map_requirements", "correct_mapping", "extract_evidence",
		"validate", "generate_report", "submit_review", "complete_session",
		"reset_session", "get_session_state", "get_graph",
	} {
		assert.Contains(t, names, want)
	}
}

func TestServer_PipelineOverMCP(t *testing.T) {
	cs := connect(t, newController(t))

	res := call(t, cs, "create_session", map[string]any{
		"project_name": "Botany Farm",
		"methodology":  "soil-carbon-v1.2.2",
	})
	require.False(t, res.IsError, text(t, res))
	var sess review.Session
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &sess))
	require.NotEmpty(t, sess.ID)

	res = call(t, cs, "extract_evidence", map[string]any{"session_id": sess.ID})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "requirement_mapping must complete first")

	res = call(t, cs, "discover_documents", map[string]any{"session_id": sess.ID, "source": submissionFolder(t)})
	require.False(t, res.IsError, text(t, res))

	for _, name := range []string{"map_requirements", "extract_evidence", "validate", "generate_report"} {
		res = call(t, cs, name, map[string]any{"session_id": sess.ID})
		require.False(t, res.IsError, name+": "+text(t, res))
	}

	res = call(t, cs, "get_session_state", map[string]any{"session_id": sess.ID})
	require.False(t, res.IsError, text(t, res))
	var state workflow.State
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &state))
	assert.Equal(t, review.StageHumanReview, state.Stage)
	assert.Equal(t, 1, state.Summary.Documents)

	res = call(t, cs, "reset_session", map[string]any{"session_id": sess.ID, "stage": "requirement_mapping"})
	require.False(t, res.IsError, text(t, res))

	res = call(t, cs, "list_sessions", map[string]any{})
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), sess.ID)
}

func TestServer_UnknownSessionIsToolError(t *testing.T) {
	cs := connect(t, newController(t))
	res := call(t, cs, "get_graph", map[string]any{"session_id": "missing"})
	assert.True(t, res.IsError)
}
