// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
)

// HTTPConfig configures an HTTPLLM.
type HTTPConfig struct {
	// Endpoint is the base URL of an OpenAI-compatible API, e.g.
	// http://localhost:11434/v1.
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// HTTPLLM talks to an OpenAI-compatible chat completions endpoint.
type HTTPLLM struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPLLM creates a client. A zero timeout means two minutes.
func NewHTTPLLM(cfg HTTPConfig) *HTTPLLM {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &HTTPLLM{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete implements LLM.
func (c *HTTPLLM) Complete(ctx context.Context, p Prompt) (Response, error) {
	body, err := json.Marshal(c.request(p))
	if err != nil {
		return Response{}, oops.Code(CodeInvalidResponse).Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, oops.Code(CodeRejected).Wrapf(ErrPermanent, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ErrTimeout("llm", ctx.Err())
		}
		return Response{}, ErrUnavailable("llm", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, ErrUnavailable("llm", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Response{}, ErrUnavailable("llm", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return Response{}, ErrRejected("llm", resp.StatusCode, truncate(string(data), 200))
	}

	var decoded chatResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return Response{}, ErrInvalidResponse("llm", err.Error())
	}
	if len(decoded.Choices) == 0 {
		return Response{}, ErrInvalidResponse("llm", "no choices")
	}

	msg := decoded.Choices[0].Message
	out := Response{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (c *HTTPLLM) request(p Prompt) chatRequest {
	req := chatRequest{
		Model:       c.cfg.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}
	if p.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: p.System})
	}
	for _, m := range p.Messages {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range p.Tools {
		req.Tools = append(req.Tools, chatTool{Type: "function", Function: t})
	}
	return req
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ LLM = (*HTTPLLM)(nil)
