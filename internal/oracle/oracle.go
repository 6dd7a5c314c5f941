// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package oracle defines the ports to the external generators the engine
// consults: a language model and an image generator. Both are treated as
// opaque and possibly slow or unavailable.
package oracle

import (
	"context"
	"encoding/json"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Prompt is a request to the language model.
type Prompt struct {
	System      string           `json:"system"`
	Messages    []Message        `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
}

// NewPrompt builds a single-turn prompt.
func NewPrompt(system, user string) Prompt {
	return Prompt{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: user}},
	}
}

// WithTemperature returns a copy of p with the sampling temperature set.
func (p Prompt) WithTemperature(t float64) Prompt {
	p.Temperature = &t
	return p
}

// ToolCall is a tool invocation proposed by the model.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Response is the model's answer: text, proposed tool calls, or both.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// LLM is the language model port.
type LLM interface {
	Complete(ctx context.Context, p Prompt) (Response, error)
}

// LLMFunc adapts a function to LLM.
type LLMFunc func(ctx context.Context, p Prompt) (Response, error)

// Complete implements LLM.
func (f LLMFunc) Complete(ctx context.Context, p Prompt) (Response, error) {
	return f(ctx, p)
}

// ImageRequest asks for an asset to be generated.
type ImageRequest struct {
	Workflow string `json:"workflow"`
	Prompt   string `json:"prompt"`
	Negative string `json:"negative_prompt,omitempty"`
	Count    int    `json:"count"`
	Style    string `json:"style_reference,omitempty"`
}

// JobState is the lifecycle of an image generation job.
type JobState string

// Job states.
const (
	JobQueued   JobState = "queued"
	JobRunning  JobState = "running"
	JobComplete JobState = "complete"
	JobFailed   JobState = "failed"
)

// JobStatus is one poll result.
type JobStatus struct {
	State    JobState `json:"state"`
	Progress int      `json:"progress"`
	Assets   []string `json:"assets,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (s JobStatus) Done() bool {
	return s.State == JobComplete || s.State == JobFailed
}

// ImageGenerator is the image generation port.
type ImageGenerator interface {
	Queue(ctx context.Context, req ImageRequest) (jobID string, err error)
	Poll(ctx context.Context, jobID string) (JobStatus, error)
}

// Disabled is an ImageGenerator and LLM that is never available.
type Disabled struct{}

// Complete implements LLM.
func (Disabled) Complete(context.Context, Prompt) (Response, error) {
	return Response{}, ErrUnavailable("llm", nil)
}

// Queue implements ImageGenerator.
func (Disabled) Queue(context.Context, ImageRequest) (string, error) {
	return "", ErrUnavailable("image", nil)
}

// Poll implements ImageGenerator.
func (Disabled) Poll(context.Context, string) (JobStatus, error) {
	return JobStatus{}, ErrUnavailable("image", nil)
}

var (
	_ LLM            = Disabled{}
	_ ImageGenerator = Disabled{}
	_ LLM            = LLMFunc(nil)
)
