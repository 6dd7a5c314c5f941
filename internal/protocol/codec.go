// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"bytes"
	"encoding/json"
	"strings"

	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
)

// Error codes for inbound frames.
const (
	CodeInvalidEnvelope  = "PROTOCOL_INVALID_ENVELOPE"
	CodeUnknownType      = "PROTOCOL_UNKNOWN_TYPE"
	CodeSchemaViolation  = "PROTOCOL_SCHEMA_VIOLATION"
	CodeSchemaGeneration = "PROTOCOL_SCHEMA_GENERATION_FAILED"
	CodeSchemaCompile    = "PROTOCOL_SCHEMA_COMPILE_FAILED"
)

// Message is a validated, decoded inbound frame. Payload is a pointer to
// the struct registered for Type.
type Message struct {
	Type      MessageType
	RequestID string
	Payload   any
}

// Codec validates and decodes inbound frames.
type Codec struct {
	schemas map[MessageType]*jschema.Schema
}

// NewCodec compiles the schema of every message type.
func NewCodec() (*Codec, error) {
	c := jschema.NewCompiler()
	for _, t := range Types() {
		raw, err := GenerateSchema(t)
		if err != nil {
			return nil, err
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, oops.Code(CodeSchemaCompile).With("type", t).Wrap(err)
		}
		if err := c.AddResource(SchemaID(string(t)), doc); err != nil {
			return nil, oops.Code(CodeSchemaCompile).With("type", t).Wrap(err)
		}
	}

	codec := &Codec{schemas: make(map[MessageType]*jschema.Schema, len(payloads))}
	for _, t := range Types() {
		sch, err := c.Compile(SchemaID(string(t)))
		if err != nil {
			return nil, oops.Code(CodeSchemaCompile).With("type", t).Wrap(err)
		}
		codec.schemas[t] = sch
	}
	return codec, nil
}

// Decode validates a frame against its message schema and decodes the
// payload.
func (c *Codec) Decode(frame []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, oops.Code(CodeInvalidEnvelope).Wrap(err)
	}
	if env.Type == "" {
		return Message{}, oops.Code(CodeInvalidEnvelope).Errorf("message type is required")
	}
	sch, ok := c.schemas[env.Type]
	if !ok {
		return Message{}, oops.Code(CodeUnknownType).
			With("type", env.Type).
			With("request_id", env.RequestID).
			Errorf("unknown message type %q", env.Type)
	}
	if len(env.Payload) == 0 {
		env.Payload = json.RawMessage("{}")
	}

	inst, err := jschema.UnmarshalJSON(bytes.NewReader(env.Payload))
	if err != nil {
		return Message{}, oops.Code(CodeInvalidEnvelope).With("type", env.Type).Wrap(err)
	}
	if err := sch.Validate(inst); err != nil {
		return Message{}, oops.Code(CodeSchemaViolation).
			With("type", env.Type).
			With("request_id", env.RequestID).
			Errorf("%s", FormatViolation(err))
	}

	payload := payloads[env.Type]()
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return Message{}, oops.Code(CodeSchemaViolation).With("type", env.Type).Wrap(err)
	}
	return Message{Type: env.Type, RequestID: env.RequestID, Payload: payload}, nil
}

// FormatViolation flattens a schema validation error to one line.
func FormatViolation(err error) string {
	if err == nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, "; ")
}

// Payload returns the message payload as *T.
func Payload[T any](m Message) (*T, error) {
	p, ok := m.Payload.(*T)
	if !ok {
		return nil, oops.Code(CodeUnknownType).
			With("type", m.Type).
			Errorf("payload of %s has type %T", m.Type, m.Payload)
	}
	return p, nil
}
