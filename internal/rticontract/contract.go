// Package rticontract validates known JSON-RPC method params before send,
// and validates the shape of server-request result payloads before they
// are sent back to the subprocess. Results of outbound calls are not
// validated after receive. It mirrors
// the teacher's internal/schema Validator (a santhosh-tekuri/jsonschema/v5
// compiler wrapped behind a small interface) but compiles schemas for this
// runtime's own method surface instead of MCP's.
package rticontract

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dkoosis/agentrt/internal/rtierr"
	"github.com/dkoosis/agentrt/internal/rtilog"
)

// Mode selects how methods outside the known set are treated.
type Mode int

const (
	// ModeKnownMethods validates only the curated set and skips unknowns.
	ModeKnownMethods Mode = iota
	// ModeStrict rejects any method outside the curated set.
	ModeStrict
)

// Validator validates request params before send for a curated set of
// known methods. It does not validate responses.
type Validator struct {
	mu     sync.RWMutex
	mode   Mode
	params map[string]*jsonschema.Schema
	log    rtilog.Logger
}

// NewValidator builds a validator with the given mode and compiles the
// built-in schemas for the curated method set.
func NewValidator(mode Mode) (*Validator, error) {
	v := &Validator{mode: mode, params: make(map[string]*jsonschema.Schema), log: rtilog.GetLogger("contract")}
	if err := v.compileBuiltins(); err != nil {
		return nil, err
	}
	return v, nil
}

var builtinParamSchemas = map[string]string{
	"turn/interrupt": `{"type":"object","required":["threadId","turnId"],"properties":{"threadId":{"type":"string"},"turnId":{"type":"string"}}}`,
	"thread/start":   `{"type":"object"}`,
	"thread/read":    `{"type":"object","required":["threadId"],"properties":{"threadId":{"type":"string"}}}`,
	"thread/list":    `{"type":"object"}`,
	"thread/rollback": `{"type":"object","required":["threadId"],"properties":{"threadId":{"type":"string"}}}`,
}

func (v *Validator) compileBuiltins() error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	for method, schemaJSON := range builtinParamSchemas {
		url := "mem://" + method
		if err := compiler.AddResource(url, bytes.NewReader([]byte(schemaJSON))); err != nil {
			return err
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return err
		}
		v.params[method] = schema
	}
	return nil
}

// HasSchema reports whether method is in the curated, compiled set.
func (v *Validator) HasSchema(method string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.params[method]
	return ok
}

// ValidateParams validates request params before send.
func (v *Validator) ValidateParams(_ context.Context, method string, params json.RawMessage) error {
	v.mu.RLock()
	schema, ok := v.params[method]
	v.mu.RUnlock()

	if !ok {
		if v.mode == ModeStrict {
			return rtierr.InvalidRequest("unknown method %q under strict contract validation", method)
		}
		return nil
	}

	var doc any
	if err := json.Unmarshal(params, &doc); err != nil {
		return rtierr.InvalidRequest("params for %q are not valid JSON: %v", method, err)
	}
	if err := schema.Validate(doc); err != nil {
		return rtierr.InvalidRequest("params for %q failed contract validation: %v", method, err)
	}
	return nil
}

// ValidateServerRequestResult shape-validates the result payload an
// application supplies for a completed server request, per method. This
// is a minimum-required-fields check, not a full schema, mirroring the
// reference runtime's hand-written per-method validation.
func ValidateServerRequestResult(method string, result json.RawMessage) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(result, &doc); err != nil {
		return rtierr.InvalidRequest("server request result for %q is not a JSON object: %v", method, err)
	}

	switch method {
	case "item/commandExecution/requestApproval", "item/fileChange/requestApproval":
		if _, ok := doc["decision"]; !ok {
			return rtierr.InvalidRequest("%q result missing required field \"decision\"", method)
		}
	case "item/tool/requestUserInput":
		answers, ok := doc["answers"]
		if !ok {
			return rtierr.InvalidRequest("%q result missing required field \"answers\"", method)
		}
		var probe map[string]any
		if err := json.Unmarshal(answers, &probe); err != nil {
			return rtierr.InvalidRequest("%q result field \"answers\" must be an object", method)
		}
	case "item/tool/call":
		success, ok := doc["success"]
		if !ok {
			return rtierr.InvalidRequest("%q result missing required field \"success\"", method)
		}
		var b bool
		if err := json.Unmarshal(success, &b); err != nil {
			return rtierr.InvalidRequest("%q result field \"success\" must be a boolean", method)
		}
		items, ok := doc["contentItems"]
		if !ok {
			return rtierr.InvalidRequest("%q result missing required field \"contentItems\"", method)
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(items, &arr); err != nil {
			return rtierr.InvalidRequest("%q result field \"contentItems\" must be an array", method)
		}
	case "account/chatgptAuthTokens/refresh":
		if _, ok := doc["accessToken"]; !ok {
			return rtierr.InvalidRequest("%q result missing required field \"accessToken\"", method)
		}
		if _, ok := doc["chatgptAccountId"]; !ok {
			return rtierr.InvalidRequest("%q result missing required field \"chatgptAccountId\"", method)
		}
		if planType, ok := doc["chatgptPlanType"]; ok {
			var s *string
			if err := json.Unmarshal(planType, &s); err != nil {
				return rtierr.InvalidRequest("%q result field \"chatgptPlanType\" must be a string or null", method)
			}
		}
	}
	return nil
}
