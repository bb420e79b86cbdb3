// Package capability tracks the optional native modules a host can delegate
// to: what each module must export, whether it loaded, and the long-lived
// handle owned by the Registry.
package capability

import (
	"fmt"
	"slices"
)

// State is a descriptor's load state. Unloaded moves to Loaded or Failed
// exactly once and never moves again.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Shape is the wire shape of one argument or result in the native calling
// convention.
type Shape int

const (
	// ShapeNone is only valid as a result.
	ShapeNone Shape = iota
	ShapeI32
	ShapeI64
	// ShapeText is UTF-8 text passed as one packed ptr<<32|len i64.
	ShapeText
	// ShapeBuffer is raw bytes passed as one packed ptr<<32|len i64.
	ShapeBuffer
)

func (s Shape) String() string {
	switch s {
	case ShapeNone:
		return "none"
	case ShapeI32:
		return "i32"
	case ShapeI64:
		return "i64"
	case ShapeText:
		return "text"
	case ShapeBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Packed reports whether the shape travels as a packed pointer/length pair.
func (s Shape) Packed() bool {
	return s == ShapeText || s == ShapeBuffer
}

// Symbol is one exported operation a module must provide.
type Symbol struct {
	Name   string
	Params []Shape
	Result Shape
	// Release names the export that frees a packed result. Required when
	// Result is packed.
	Release string
}

// ReturnsBuffer reports whether the result is a native-allocated buffer.
func (s Symbol) ReturnsBuffer() bool {
	return s.Result.Packed()
}

// Allocator names the exports used to place input buffers in guest memory.
type Allocator struct {
	Alloc string // (len i32) -> ptr i32
	Free  string // (ptr i32, len i32)
}

// Canary is a fixed-input, fixed-output check of a loaded module.
type Canary struct {
	Symbol string
	A, B   int32
	Want   int32
}

// ModuleSpec is the static contract a native module must satisfy.
type ModuleSpec struct {
	Name      string
	Symbols   []Symbol
	Allocator Allocator
	Canary    Canary
}

// Symbol returns the named symbol.
func (m ModuleSpec) Symbol(name string) (Symbol, bool) {
	for _, s := range m.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// NeedsAllocator reports whether any symbol takes a packed argument.
func (m ModuleSpec) NeedsAllocator() bool {
	for _, s := range m.Symbols {
		if slices.ContainsFunc(s.Params, Shape.Packed) {
			return true
		}
	}
	return false
}

// Descriptor is a snapshot of one module's identity and load state. The
// Registry owns the authoritative copy; callers receive copies.
type Descriptor struct {
	Name    string
	Symbols []Symbol
	State   State
	Reason  error
	Path    string
}

// Loaded reports whether the module is usable.
func (d Descriptor) Loaded() bool {
	return d.State == StateLoaded
}

// SymbolNames lists the expected symbol names in declaration order.
func (d Descriptor) SymbolNames() []string {
	names := make([]string, 0, len(d.Symbols))
	for _, s := range d.Symbols {
		names = append(names, s.Name)
	}
	return names
}

func (d Descriptor) clone() Descriptor {
	d.Symbols = slices.Clone(d.Symbols)
	return d
}

// Description is the read-only view served to health and diagnostics.
type Description struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
	Loaded  bool     `json:"loaded"`
	State   string   `json:"state"`
	Reason  string   `json:"reason,omitempty"`
}

// Describe converts the descriptor to its read-only view.
func (d Descriptor) Describe() Description {
	desc := Description{
		Name:    d.Name,
		Symbols: d.SymbolNames(),
		Loaded:  d.Loaded(),
		State:   d.State.String(),
	}
	if d.Reason != nil {
		desc.Reason = d.Reason.Error()
	}
	return desc
}
