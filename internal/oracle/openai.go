// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/gemaraproj/registry-review/internal/config"
)

const apiTransportName = "api"

// APITransport calls an OpenAI-compatible chat completion endpoint.
type APITransport struct {
	client *openai.Client
	model  string
	hasKey bool
}

// NewAPITransport reads the API key from the configured environment
// variable. Without a key the transport reports itself unavailable.
func NewAPITransport(cfg config.APIConfig) *APITransport {
	key := os.Getenv(cfg.KeyEnv)
	clientConfig := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &APITransport{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		hasKey: key != "",
	}
}

func (t *APITransport) Name() string {
	return apiTransportName
}

func (t *APITransport) Available() bool {
	return t.hasKey
}

func (t *APITransport) Complete(ctx context.Context, req Request) (Response, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       t.model,
		Messages:    messages,
		Temperature: 0,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := t.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, NewTransientError(apiTransportName, errors.New("completion returned no choices"))
	}
	return Response{Text: resp.Choices[0].Message.Content, Model: resp.Model}, nil
}

func classifyAPIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		detail := apiErr.Message
		if apiErr.Code != nil {
			detail = fmt.Sprintf("%v: %s", apiErr.Code, apiErr.Message)
		}
		if apiErr.Type != "" {
			detail = apiErr.Type + ": " + detail
		}
		return classifyHTTPError(apiTransportName, apiErr.HTTPStatusCode, detail)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := string(reqErr.Body)
		if detail == "" && reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return classifyHTTPError(apiTransportName, reqErr.HTTPStatusCode, detail)
	}

	// network errors are transient
	return NewTransientError(apiTransportName, err)
}
