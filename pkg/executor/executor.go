// SPDX-License-Identifier: Apache-2.0

// Package executor runs a QueryRequest against a connected
// DatabaseHandle: it validates the typed parameter envelope against a
// JSON schema before ever touching the database, then dispatches to a
// cached prepared statement or a one-shot query.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/500Foods/Philement-sub005/pkg/cache"
	"github.com/500Foods/Philement-sub005/pkg/engine"
)

// envelopeSchemaJSON is the JSON Schema for QueryRequest.ParametersJSON:
// an object whose keys are type tags and whose values are objects
// mapping parameter name to a JSON value. The schema does not check
// each value against its tag; that happens when the value is bound.
const envelopeSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": {
		"type": "object"
	},
	"propertyNames": {
		"enum": ["INTEGER", "STRING", "TEXT", "BOOLEAN", "FLOAT", "DATE", "TIME", "DATETIME", "TIMESTAMP"]
	}
}`

var envelopeSchema *jsonschema.Schema

func init() {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("executor: invalid envelope schema: %v", err))
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("envelope.json", doc); err != nil {
		panic(fmt.Sprintf("executor: invalid envelope schema: %v", err))
	}
	sch, err := c.Compile("envelope.json")
	if err != nil {
		panic(fmt.Sprintf("executor: failed to compile envelope schema: %v", err))
	}
	envelopeSchema = sch
}

// ValidateEnvelope reports whether raw decodes to a document matching
// the typed parameter envelope shape. An empty payload is always
// valid (a template with no placeholders needs no parameters). The
// returned kind distinguishes an unrecognized type tag
// (UnsupportedParameterType) from an envelope that is not valid JSON
// or not object-shaped (InvalidArgument).
func ValidateEnvelope(raw []byte) (engine.ErrorKind, error) {
	if len(raw) == 0 {
		return engine.ErrNone, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return engine.ErrInvalidArgument, fmt.Errorf("executor: parameters are not valid JSON: %w", err)
	}

	// Unknown type tags fail before execution with their own kind, so
	// check them ahead of the full schema validation.
	if obj, ok := doc.(map[string]any); ok {
		for tag := range obj {
			if !knownTypeTags[tag] {
				return engine.ErrUnsupportedParameterType,
					fmt.Errorf("executor: unrecognized parameter type tag %q", tag)
			}
		}
	}

	if err := envelopeSchema.Validate(doc); err != nil {
		return engine.ErrInvalidArgument, fmt.Errorf("executor: parameters do not match the typed envelope schema: %w", err)
	}

	return engine.ErrNone, nil
}

var knownTypeTags = map[string]bool{
	"INTEGER": true, "STRING": true, "TEXT": true, "BOOLEAN": true, "FLOAT": true,
	"DATE": true, "TIME": true, "DATETIME": true, "TIMESTAMP": true,
}

// Execute validates req's parameter envelope and runs it against h via
// drv, using stmtCache (if non-nil and req.PreparedName is set) to
// reuse a cached prepared statement rather than preparing one per call.
func Execute(ctx context.Context, drv engine.Driver, h *engine.DatabaseHandle, stmtCache *cache.Cache, req *engine.QueryRequest) *engine.QueryResult {
	if drv == nil {
		return engine.FailureResult(engine.ErrNoDriver, "executor: no driver registered for this handle")
	}

	if kind, err := ValidateEnvelope(req.ParametersJSON); err != nil {
		return engine.FailureResult(kind, err.Error())
	}

	if req.PreparedName != nil && stmtCache != nil {
		stmt, err := stmtCache.GetOrPrepare(ctx, *req.PreparedName, req.SQLTemplate)
		if err != nil {
			return engine.FailureResult(engine.ErrPrepareFailed, err.Error())
		}
		return drv.ExecutePrepared(ctx, h, stmt, req)
	}

	return drv.ExecuteQuery(ctx, h, req)
}
