// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"encoding/json"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/broadcast"
)

// SchemaBaseURL prefixes every generated schema $id.
const SchemaBaseURL = "https://storyengine.holomush.dev/schemas/"

// EventSchemaName is the file name of the outbound event schema.
const EventSchemaName = "event"

// SchemaID returns the $id of a named schema.
func SchemaID(name string) string {
	return SchemaBaseURL + name + ".schema.json"
}

func reflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{DoNotReference: true}
}

// GenerateSchema renders the JSON Schema of one inbound message payload.
func GenerateSchema(t MessageType) ([]byte, error) {
	newPayload, ok := payloads[t]
	if !ok {
		return nil, oops.Code(CodeUnknownType).With("type", t).Errorf("unknown message type %q", t)
	}
	s := reflector().Reflect(newPayload())
	s.ID = jsonschema.ID(SchemaID(string(t)))
	s.Title = string(t)
	return marshalSchema(s)
}

// GenerateEventSchema renders the schema of the outbound event envelope.
func GenerateEventSchema() ([]byte, error) {
	s := reflector().Reflect(&broadcast.Event{})
	s.ID = jsonschema.ID(SchemaID(EventSchemaName))
	s.Title = "Broadcast event"
	s.Description = "Envelope of every event pushed to session sockets"
	return marshalSchema(s)
}

// Schemas renders every schema keyed by file name without extension.
func Schemas() (map[string][]byte, error) {
	out := make(map[string][]byte, len(payloads)+1)
	for _, t := range Types() {
		b, err := GenerateSchema(t)
		if err != nil {
			return nil, err
		}
		out[string(t)] = b
	}
	b, err := GenerateEventSchema()
	if err != nil {
		return nil, err
	}
	out[EventSchemaName] = b
	return out, nil
}

func marshalSchema(s *jsonschema.Schema) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, oops.Code(CodeSchemaGeneration).Wrap(err)
	}
	return data, nil
}

func sortTypes(ts []MessageType) {
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
}
