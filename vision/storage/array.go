// Package storage loads labeled image domains from disk.
//
// Two backends hold the same named arrays: a single archive file and a pebble
// key-value directory. Image arrays are laid out NHWC (or NHW / ND) and become CHW
// images on load; label arrays are one value per sample.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrNotFound is returned when a dataset path does not exist.
	ErrNotFound = errors.New("dataset not found")

	// ErrKeyNotFound is returned when a named array is missing from a dataset.
	ErrKeyNotFound = errors.New("array key not found")

	// ErrCorrupt is returned for undecodable archives and arrays.
	ErrCorrupt = errors.New("corrupt array data")

	// ErrDType is returned when an array's element type cannot serve the requested use.
	ErrDType = errors.New("unsupported dtype")
)

// DType is the element type of an array.
type DType int

const (
	Float32 DType = iota + 1
	Float16
	Uint8
	Int32
	Int64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float16:
		return "Float16"
	case Uint8:
		return "Uint8"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	default:
		return fmt.Sprintf("Unknown(%d)", int(d))
	}
}

// Size returns the number of bytes per element.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float16:
		return 2
	case Uint8:
		return 1
	case Int64:
		return 8
	default:
		return 0
	}
}

// ParseDType maps a lowercase name such as "float16" to a DType.
func ParseDType(name string) (DType, error) {
	switch name {
	case "float32":
		return Float32, nil
	case "float16":
		return Float16, nil
	case "uint8":
		return Uint8, nil
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrDType, name)
	}
}

// Array is a named, shaped block of little-endian elements.
type Array struct {
	Name  string
	Shape []int
	DType DType
	Data  []byte
}

// Len returns the number of elements implied by the shape, or -1 when the shape
// has a negative dimension or its product overflows int.
func (a Array) Len() int {
	n, ok := shapeLen(a.Shape)
	if !ok {
		return -1
	}
	return n
}

func shapeLen(shape []int) (int, bool) {
	if len(shape) == 0 {
		return 0, true
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, false
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// Validate checks that the data length matches shape and dtype.
func (a Array) Validate() error {
	size := a.DType.Size()
	if size == 0 {
		return fmt.Errorf("%w: array %q has dtype %s", ErrDType, a.Name, a.DType)
	}
	for i, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("%w: array %q dimension %d is negative", ErrCorrupt, a.Name, i)
		}
	}
	n, ok := shapeLen(a.Shape)
	if !ok || n > math.MaxInt/size {
		return fmt.Errorf("%w: array %q shape %v of %s is too large", ErrCorrupt, a.Name, a.Shape, a.DType)
	}
	if want := n * size; len(a.Data) != want {
		return fmt.Errorf("%w: array %q holds %d bytes, shape %v of %s needs %d",
			ErrCorrupt, a.Name, len(a.Data), a.Shape, a.DType, want)
	}
	return nil
}

// NewFloat32Array encodes values as 32-bit floats.
func NewFloat32Array(name string, shape []int, values []float32) Array {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return Array{Name: name, Shape: shape, DType: Float32, Data: data}
}

// NewFloat16Array encodes values as half-precision floats, halving storage.
func NewFloat16Array(name string, shape []int, values []float32) Array {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[2*i:], float16.Fromfloat32(v).Bits())
	}
	return Array{Name: name, Shape: shape, DType: Float16, Data: data}
}

// NewUint8Array rounds and clamps values into [0, 255].
func NewUint8Array(name string, shape []int, values []float32) Array {
	data := make([]byte, len(values))
	for i, v := range values {
		data[i] = uint8(math.Round(math.Max(0, math.Min(255, float64(v)))))
	}
	return Array{Name: name, Shape: shape, DType: Uint8, Data: data}
}

// NewInt32Array encodes values as 32-bit integers.
func NewInt32Array(name string, shape []int, values []int32) Array {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], uint32(v))
	}
	return Array{Name: name, Shape: shape, DType: Int32, Data: data}
}

// Float32s decodes any element type to float32.
func (a Array) Float32s() ([]float32, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	n := a.Len()
	out := make([]float32, n)
	switch a.DType {
	case Float32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(a.Data[4*i:]))
		}
	case Float16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(a.Data[2*i:])).Float32()
		}
	case Uint8:
		for i := range out {
			out[i] = float32(a.Data[i])
		}
	case Int32:
		for i := range out {
			out[i] = float32(int32(binary.LittleEndian.Uint32(a.Data[4*i:])))
		}
	case Int64:
		for i := range out {
			out[i] = float32(int64(binary.LittleEndian.Uint64(a.Data[8*i:])))
		}
	}
	return out, nil
}

// Int32s decodes integer element types. Floating point arrays are rejected rather
// than truncated.
func (a Array) Int32s() ([]int32, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	n := a.Len()
	out := make([]int32, n)
	switch a.DType {
	case Uint8:
		for i := range out {
			out[i] = int32(a.Data[i])
		}
	case Int32:
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(a.Data[4*i:]))
		}
	case Int64:
		for i := range out {
			v := int64(binary.LittleEndian.Uint64(a.Data[8*i:]))
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("%w: array %q value %d overflows int32", ErrDType, a.Name, v)
			}
			out[i] = int32(v)
		}
	default:
		return nil, fmt.Errorf("%w: array %q has %s elements, labels need an integer type", ErrDType, a.Name, a.DType)
	}
	return out, nil
}

// Wire field numbers of an encoded array.
const (
	fieldName  protowire.Number = 1
	fieldShape protowire.Number = 2
	fieldDType protowire.Number = 3
	fieldData  protowire.Number = 4
)

// MarshalArray encodes a in protobuf wire format.
func MarshalArray(a Array) []byte {
	return appendArray(nil, a)
}

func appendArray(b []byte, a Array) []byte {
	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, a.Name)

	var packed []byte
	for _, d := range a.Shape {
		packed = protowire.AppendVarint(packed, uint64(d))
	}
	b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	b = protowire.AppendTag(b, fieldDType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.DType))

	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, a.Data)
	return b
}

// UnmarshalArray decodes an array written by MarshalArray. Unknown fields are skipped.
// The returned array does not alias b.
func UnmarshalArray(b []byte) (Array, error) {
	var a Array
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Array{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldName && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			a.Name = string(v)
		case num == fieldShape && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				shape, err := decodeShape(packed)
				if err != nil {
					return Array{}, err
				}
				a.Shape = shape
			}
		case num == fieldDType && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			a.DType = DType(v)
		case num == fieldData && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			a.Data = append([]byte(nil), v...)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return Array{}, fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(n))
		}
		b = b[n:]
	}

	if err := a.Validate(); err != nil {
		return Array{}, err
	}
	return a, nil
}

func decodeShape(packed []byte) ([]int, error) {
	shape := []int{}
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return nil, fmt.Errorf("%w: shape: %v", ErrCorrupt, protowire.ParseError(n))
		}
		if v > math.MaxInt32 {
			return nil, fmt.Errorf("%w: shape dimension %d too large", ErrCorrupt, v)
		}
		shape = append(shape, int(v))
		packed = packed[n:]
	}
	return shape, nil
}
