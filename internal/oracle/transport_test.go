// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/registry-review/internal/config"
)

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		detail   string
		wantKind FatalKind // empty means transient
	}{
		{"unauthorized", http.StatusUnauthorized, "invalid api key", KindAuth},
		{"forbidden", http.StatusForbidden, "", KindAuth},
		{"payment required", http.StatusPaymentRequired, "", KindBilling},
		{"quota as 429", http.StatusTooManyRequests, "insufficient_quota: You exceeded your current quota", KindBilling},
		{"rate limit", http.StatusTooManyRequests, "slow down", ""},
		{"server error", http.StatusBadGateway, "upstream", ""},
		{"timeout", http.StatusRequestTimeout, "", ""},
		{"bad request", http.StatusBadRequest, "unknown model", KindRequest},
		{"bad request billing", http.StatusBadRequest, "Your credit balance is too low", KindBilling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyHTTPError("api", tt.status, tt.detail)
			if tt.wantKind == "" {
				assert.True(t, IsTransient(err), err.Error())
				assert.False(t, IsFatal(err))
				return
			}
			fatal, ok := AsFatal(err)
			require.True(t, ok, err.Error())
			assert.Equal(t, tt.wantKind, fatal.Kind)
			assert.Equal(t, "api", fatal.Transport)
		})
	}
}

func TestClassifyCLIError(t *testing.T) {
	runErr := errors.New("exit status 1")
	tests := []struct {
		name     string
		output   string
		wantKind FatalKind
	}{
		{"billing", "Credit balance is too low", KindBilling},
		{"login", "Invalid API key · Please run /login", KindAuth},
		{"other", "something went wrong", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyCLIError("cli", tt.output, runErr)
			if tt.wantKind == "" {
				assert.True(t, IsTransient(err))
				return
			}
			fatal, ok := AsFatal(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, fatal.Kind)
		})
	}
}

// ---------------------------------------------------------------------------
// API transport
// ---------------------------------------------------------------------------

func apiServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func apiTransport(t *testing.T, baseURL string) *APITransport {
	t.Helper()
	t.Setenv("REGISTRY_REVIEW_TEST_KEY", "test-key")
	return NewAPITransport(config.APIConfig{BaseURL: baseURL, Model: "test-model", KeyEnv: "REGISTRY_REVIEW_TEST_KEY"})
}

func TestAPITransport_Complete(t *testing.T) {
	srv := apiServer(t, http.StatusOK, map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": `{"fields": []}`},
			"finish_reason": "stop",
		}},
	})

	tr := apiTransport(t, srv.URL)
	require.True(t, tr.Available())
	resp, err := tr.Complete(context.Background(), Request{System: "sys", Prompt: "extract", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"fields": []}`, resp.Text)
	assert.Equal(t, "test-model", resp.Model)
}

func TestAPITransport_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		wantKind FatalKind
	}{
		{
			name:   "quota exhausted",
			status: http.StatusTooManyRequests,
			body: map[string]any{"error": map[string]any{
				"message": "You exceeded your current quota",
				"type":    "insufficient_quota",
				"code":    "insufficient_quota",
			}},
			wantKind: KindBilling,
		},
		{
			name:     "bad key",
			status:   http.StatusUnauthorized,
			body:     map[string]any{"error": map[string]any{"message": "Incorrect API key provided", "type": "invalid_request_error"}},
			wantKind: KindAuth,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   map[string]any{"error": map[string]any{"message": "internal", "type": "server_error"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := apiServer(t, tt.status, tt.body)
			_, err := apiTransport(t, srv.URL).Complete(context.Background(), Request{Prompt: "x"})
			require.Error(t, err)
			if tt.wantKind == "" {
				assert.True(t, IsTransient(err), err.Error())
				return
			}
			fatal, ok := AsFatal(err)
			require.True(t, ok, err.Error())
			assert.Equal(t, tt.wantKind, fatal.Kind)
		})
	}
}

func TestAPITransport_UnavailableWithoutKey(t *testing.T) {
	t.Setenv("REGISTRY_REVIEW_MISSING_KEY", "")
	tr := NewAPITransport(config.APIConfig{Model: "m", KeyEnv: "REGISTRY_REVIEW_MISSING_KEY"})
	assert.False(t, tr.Available())
}

// ---------------------------------------------------------------------------
// CLI transport
// ---------------------------------------------------------------------------

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "oracle-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\ncat >/dev/null\n"+body), 0o755))
	return path
}

func TestCLITransport(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantText string
		wantKind FatalKind
		wantErr  bool
	}{
		{
			name:     "json envelope",
			body:     `echo '{"type":"result","result":"{\"fields\": []}","is_error":false}'` + "\n",
			wantText: `{"fields": []}`,
		},
		{
			name:     "plain output",
			body:     "echo 'plain reply'\n",
			wantText: "plain reply",
		},
		{
			name:     "error envelope with billing message",
			body:     `echo '{"type":"result","result":"Credit balance is too low","is_error":true}'` + "\n",
			wantErr:  true,
			wantKind: KindBilling,
		},
		{
			name:     "login failure",
			body:     "echo 'Invalid API key' >&2\nexit 1\n",
			wantErr:  true,
			wantKind: KindAuth,
		},
		{
			name:    "other failure is transient",
			body:    "echo 'overloaded' >&2\nexit 1\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewCLITransport(config.CLIConfig{Command: script(t, tt.body)})
			require.True(t, tr.Available())

			resp, err := tr.Complete(context.Background(), Request{System: "sys", Prompt: "prompt"})
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.wantText, resp.Text)
				return
			}
			require.Error(t, err)
			if tt.wantKind == "" {
				assert.True(t, IsTransient(err), err.Error())
				return
			}
			fatal, ok := AsFatal(err)
			require.True(t, ok, err.Error())
			assert.Equal(t, tt.wantKind, fatal.Kind)
		})
	}
}

func TestCLITransport_MissingCommand(t *testing.T) {
	tr := NewCLITransport(config.CLIConfig{Command: "registry-review-no-such-binary"})
	assert.False(t, tr.Available())
}

// ---------------------------------------------------------------------------
// JSON extraction
// ---------------------------------------------------------------------------

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced object", "Here you go:\n```json\n{\"a\": 1}\n```\nDone.", `{"a": 1}`},
		{"prose around object", `The answer is {"a": 1} as requested.`, `{"a": 1}`},
		{"trailing comma", "{\"a\": [1, 2,],}", `{"a": [1, 2]}`},
		{"line comment", "{\n\"a\": 1 // one\n}", "{\n\"a\": 1\n}"},
		{"url in string is kept", `{"u": "http://x"}`, `{"u": "http://x"}`},
		{"no object", "nothing here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.content))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Findings []struct {
			Severity string `json:"severity"`
		} `json:"findings"`
	}
	require.NoError(t, DecodeJSON("```\n{\"findings\": [{\"severity\": \"warning\"},]}\n```", &v))
	require.Len(t, v.Findings, 1)
	assert.Equal(t, "warning", v.Findings[0].Severity)

	assert.ErrorIs(t, DecodeJSON("no json", &v), ErrNoJSON)
	assert.Error(t, DecodeJSON("{not json}", &v))
}
