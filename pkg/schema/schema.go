// Package schema validates action payloads against per-kind JSON
// Schemas. Accounts install a Registry as their payload hook; kinds
// without a registered schema pass untouched, since the engine treats
// payloads as opaque cargo and validation is strictly opt-in.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Covault-Labs/covault/core/pkg/fault"
)

// Registry maps action kinds to compiled Draft 2020-12 schemas.
type Registry struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry that accepts every payload.
func NewRegistry() *Registry {
	return &Registry{compiled: make(map[string]*jsonschema.Schema)}
}

// Register compiles a schema for one action kind, replacing any prior
// one. An empty schema drops the kind back to unvalidated.
func (r *Registry) Register(kind, schemaJSON string) error {
	if kind == "" {
		return fault.New(fault.KindPolicy, fault.CodeInvalidConfig, "schema kind must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if schemaJSON == "" {
		delete(r.compiled, kind)
		return nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://covault.schemas.local/actions/%s.schema.json", kind)
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return fault.Wrap(fault.KindPolicy, fault.CodeInvalidConfig,
			"schema load failed", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fault.Wrap(fault.KindPolicy, fault.CodeInvalidConfig,
			"schema compile failed", err)
	}
	r.compiled[kind] = compiled
	return nil
}

// Kinds lists the kinds with a registered schema.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.compiled))
	for k := range r.compiled {
		kinds = append(kinds, k)
	}
	return kinds
}

// ValidatePayload checks a serialized payload against the kind's schema,
// if one is registered. Implements the account payload hook.
func (r *Registry) ValidatePayload(kind string, payload json.RawMessage) error {
	r.mu.RLock()
	compiled, ok := r.compiled[kind]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
			"payload is not valid JSON", err)
	}
	if err := compiled.Validate(value); err != nil {
		return fault.Wrap(fault.KindPolicy, fault.CodePayloadRejected,
			"payload violates the schema for "+kind, err)
	}
	return nil
}
