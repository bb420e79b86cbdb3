// Package schema keeps JSON schemas for the bridge's documents and validates
// decoded documents against them.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jsval "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrAlreadyRegistered is returned when a kind is registered twice.
	ErrAlreadyRegistered = errors.New("schema kind already registered")

	// ErrUnknownKind is returned for kinds with no schema.
	ErrUnknownKind = errors.New("unknown schema kind")

	// ErrInvalidDocument wraps every validation failure.
	ErrInvalidDocument = errors.New("document does not match schema")
)

// Registry maps document kinds to JSON schemas.
type Registry struct {
	schemas   map[string]string
	compiled  map[string]*jsval.Schema
	mu        sync.RWMutex
	reflector *jsonschema.Reflector
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithAllowAdditionalProperties makes reflected schemas accept unknown
// fields.
func WithAllowAdditionalProperties(allow bool) RegistryOption {
	return func(r *Registry) {
		r.reflector.AllowAdditionalProperties = allow
	}
}

// NewRegistry creates a new schema registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		schemas:   make(map[string]string),
		compiled:  make(map[string]*jsval.Schema),
		reflector: new(jsonschema.Reflector),
	}

	r.reflector.ExpandedStruct = true

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a schema for a document kind.
// model can be a Go struct (to generate schema) or a raw JSON schema string,
// map or byte slice.
func (r *Registry) Register(kind string, model any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[kind]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, kind)
	}

	schemaStr, err := r.render(model)
	if err != nil {
		return err
	}
	if !json.Valid([]byte(schemaStr)) {
		return fmt.Errorf("schema for %s is not valid JSON", kind)
	}

	r.schemas[kind] = schemaStr
	return nil
}

func (r *Registry) render(model any) (string, error) {
	switch v := model.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal schema map: %w", err)
		}
		return string(b), nil
	}

	t := reflect.TypeOf(model)
	if t == nil || (t.Kind() != reflect.Struct && (t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct)) {
		return "", fmt.Errorf("cannot derive a schema from %T", model)
	}

	s := r.reflector.Reflect(model)
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal generated schema: %w", err)
	}
	return string(b), nil
}

// GetSchema retrieves the JSON schema for a document kind.
func (r *Registry) GetSchema(kind string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[kind]
	return s, ok
}

// List returns all registered kinds, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks doc against kind's schema. doc may be any value that
// marshals to JSON; it is normalized through a JSON round trip first.
func (r *Registry) Validate(kind string, doc any) error {
	s, err := r.compile(kind)
	if err != nil {
		return err
	}

	normalized, err := normalize(doc)
	if err != nil {
		return err
	}

	if err := s.Validate(normalized); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDocument, kind, err)
	}
	return nil
}

func (r *Registry) compile(kind string) (*jsval.Schema, error) {
	r.mu.RLock()
	s, ok := r.compiled[kind]
	raw, known := r.schemas[kind]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	url := "mem://schemas/" + kind + ".json"
	c := jsval.NewCompiler()
	if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to load schema %s: %w", kind, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", kind, err)
	}

	r.mu.Lock()
	r.compiled[kind] = s
	r.mu.Unlock()
	return s, nil
}

func normalize(doc any) (any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return out, nil
}
