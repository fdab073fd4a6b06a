// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package protocol

import (
	"bytes"
	"encoding/json"
	"slices"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
)

// CodeInvalidPayload marks an inbound payload that does not match its schema.
const CodeInvalidPayload = "PROTOCOL_INVALID_PAYLOAD"

// payloadTypes maps inbound events with a structured payload to the Go type
// their schema is reflected from.
var payloadTypes = map[string]any{
	EventLogin:               &LoginRequest{},
	EventRegister:            &RegisterRequest{},
	EventCheckUsernameExists: &UsernameCheck{},
}

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*jschema.Schema{}
)

// SchemaEvents returns the inbound events that have a payload schema, sorted.
func SchemaEvents() []string {
	events := make([]string, 0, len(payloadTypes))
	for event := range payloadTypes {
		events = append(events, event)
	}
	slices.Sort(events)
	return events
}

// SchemaID returns the $id of the payload schema for event.
func SchemaID(event string) string {
	return "https://parlor.dev/schemas/events/" + event + ".schema.json"
}

// GenerateSchema returns the JSON Schema for the payload of event.
func GenerateSchema(event string) ([]byte, error) {
	v, ok := payloadTypes[event]
	if !ok {
		return nil, oops.With("event", event).Errorf("no schema for event %q", event)
	}

	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true,
	}
	schema := r.Reflect(v)
	schema.ID = jsonschema.ID(SchemaID(event))
	schema.Title = "Parlor " + event + " payload"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.With("event", event).Wrapf(err, "marshal schema")
	}
	return data, nil
}

// ValidatePayload checks data against the schema for event.
func ValidatePayload(event string, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return oops.Code(CodeInvalidPayload).With("event", event).Errorf("payload is empty")
	}

	sch, err := compiledSchema(event)
	if err != nil {
		return err
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return oops.Code(CodeInvalidPayload).With("event", event).Wrapf(err, "invalid JSON")
	}
	if err := sch.Validate(doc); err != nil {
		return oops.Code(CodeInvalidPayload).With("event", event).Wrapf(err, "schema validation failed")
	}
	return nil
}

// decodePayload validates data and unmarshals it into v.
func decodePayload(event string, data []byte, v any) error {
	if err := ValidatePayload(event, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return oops.Code(CodeInvalidPayload).With("event", event).Wrap(err)
	}
	return nil
}

func compiledSchema(event string) (*jschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if sch, ok := schemaCache[event]; ok {
		return sch, nil
	}

	raw, err := GenerateSchema(event)
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.With("event", event).Wrapf(err, "parse schema")
	}

	c := jschema.NewCompiler()
	url := SchemaID(event)
	if err := c.AddResource(url, doc); err != nil {
		return nil, oops.With("event", event).Wrapf(err, "add schema resource")
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, oops.With("event", event).Wrapf(err, "compile schema")
	}
	schemaCache[event] = sch
	return sch, nil
}
