// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/gemaraproj/registry-review/internal/config"
)

const cliTransportName = "cli"

// CLITransport runs a locally installed completion CLI, writing the prompt to
// its standard input. With "--output-format json" the CLI wraps the reply in
// a result envelope, which is unwrapped.
type CLITransport struct {
	command string
	args    []string
}

// NewCLITransport creates a subprocess transport.
func NewCLITransport(cfg config.CLIConfig) *CLITransport {
	return &CLITransport{command: cfg.Command, args: cfg.Args}
}

func (t *CLITransport) Name() string {
	return cliTransportName
}

func (t *CLITransport) Available() bool {
	_, err := exec.LookPath(t.command)
	return err == nil
}

// cliEnvelope is the JSON result object printed by the CLI.
type cliEnvelope struct {
	Type    string `json:"type"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

func (t *CLITransport) Complete(ctx context.Context, req Request) (Response, error) {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		return Response{}, classifyCLIError(cliTransportName, stderr.String()+"\n"+stdout.String(), err)
	}

	out := strings.TrimSpace(stdout.String())
	var env cliEnvelope
	if strings.HasPrefix(out, "{") && json.Unmarshal([]byte(out), &env) == nil && env.Type != "" {
		if env.IsError {
			return Response{}, classifyCLIError(cliTransportName, env.Result, nil)
		}
		out = env.Result
	}
	return Response{Text: out, Model: t.command}, nil
}
