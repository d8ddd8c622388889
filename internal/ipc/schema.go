package ipc

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const cursorMovedSchemaURL = "smartim://ipc/cursor-moved.schema.json"

// cursorMovedSchema describes MsgCursorMoved payloads. Plugins written in
// other languages build these by hand, so the daemon checks them before
// they reach a gate.
const cursorMovedSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["editor_id", "snapshot"],
  "properties": {
    "editor_id": {"type": "string", "minLength": 1, "maxLength": 512},
    "snapshot": {
      "type": "object",
      "required": ["offset", "node_at_offset"],
      "properties": {
        "commit_surface": {"type": "boolean"},
        "offset": {"type": "integer", "minimum": 0},
        "node_at_offset": {"type": "boolean"},
        "node_before": {"type": "boolean"},
        "comment_token": {"type": "string", "maxLength": 256},
        "in_comment": {"type": "boolean"},
        "string_text": {"type": "string", "maxLength": 65536},
        "in_string": {"type": "boolean"},
        "line_before": {"type": "string", "maxLength": 65536},
        "language": {"type": "string", "maxLength": 128}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func cursorSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(cursorMovedSchemaURL, strings.NewReader(cursorMovedSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(cursorMovedSchemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateCursorMoved checks a raw MsgCursorMoved payload against the
// schema and decodes it.
func ValidateCursorMoved(payload []byte) (*CursorMovedRequest, error) {
	schema, err := cursorSchema()
	if err != nil {
		return nil, err
	}

	var instance any
	if err := json.Unmarshal(payload, &instance); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("invalid cursor event: %w", err)
	}

	var req CursorMovedRequest
	if err := Decode(payload, &req); err != nil {
		return nil, fmt.Errorf("decode cursor event: %w", err)
	}
	return &req, nil
}
