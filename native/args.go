package native

import (
	"bytes"
	"unicode/utf8"

	"github.com/reglet-dev/capbridge/capability"
)

// Arg is one argument in the native calling convention.
type Arg struct {
	shape  capability.Shape
	data   []byte
	scalar uint64
}

// Text passes s as UTF-8 text. Text is cut at the first NUL byte before it
// crosses the boundary.
func Text(s string) Arg {
	return Arg{shape: capability.ShapeText, data: []byte(s)}
}

// Bytes passes b as a raw buffer.
func Bytes(b []byte) Arg {
	return Arg{shape: capability.ShapeBuffer, data: b}
}

// I32 passes a 32-bit integer.
func I32(v int32) Arg {
	return Arg{shape: capability.ShapeI32, scalar: uint64(uint32(v))}
}

// I64 passes a 64-bit integer.
func I64(v int64) Arg {
	return Arg{shape: capability.ShapeI64, scalar: uint64(v)}
}

// Shape returns the argument's wire shape.
func (a Arg) Shape() capability.Shape {
	return a.shape
}

// encoded returns the bytes that cross the boundary for packed arguments.
func (a Arg) encoded() ([]byte, error) {
	if a.shape != capability.ShapeText {
		return a.data, nil
	}
	data := TruncateText(a.data)
	if !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}
	return data, nil
}

// TruncateText cuts data at the first NUL byte.
func TruncateText(data []byte) []byte {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return data[:i]
	}
	return data
}

// Result is the raw native result handed to a Decoder. Buffer holds a
// host-side copy of a packed result; Scalar holds i32/i64 results.
type Result struct {
	Buffer []byte
	Scalar uint64
}

// I32 interprets Scalar as a signed 32-bit integer.
func (r Result) I32() int32 {
	return int32(uint32(r.Scalar))
}

// I64 interprets Scalar as a signed 64-bit integer.
func (r Result) I64() int64 {
	return int64(r.Scalar)
}

// Decoder converts a raw result into the host-side result type. It runs
// while the native buffer is still owned, before release.
type Decoder func(Result) (any, error)
