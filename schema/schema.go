// Package schema defines the array-schema data classes the storage engine
// reads and writes, but does not itself validate query semantics against.
// Types here are immutable once installed into a registry.Entry.
package schema

import (
	"fmt"

	"github.com/latticedb/lattice/errors"
)

// Datatype tags the scalar type carried by a dimension or attribute. Rather
// than specializing storage code per numeric type, every code path is
// parameterized by a Datatype descriptor carrying size and name; dispatch is
// by tag, not by Go generic instantiation per type.
type Datatype uint8

const (
	Int8 Datatype = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	StringAscii
)

// Size returns the fixed on-disk cell width in bytes for fixed-width types,
// or 0 for variable-length types (StringAscii).
func (d Datatype) Size() int {
	switch d {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	case StringAscii:
		return 0
	default:
		return 0
	}
}

func (d Datatype) String() string {
	switch d {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case StringAscii:
		return "string_ascii"
	default:
		return "unknown"
	}
}

// ArrayType distinguishes dense from sparse arrays.
type ArrayType uint8

const (
	Dense ArrayType = iota
	Sparse
)

// Order is a cell or tile iteration order.
type Order uint8

const (
	RowMajor Order = iota
	ColMajor
)

// Dimension describes one axis of an array's domain.
type Dimension struct {
	Name       string
	Type       Datatype
	DomainLow  int64
	DomainHigh int64
	TileExtent int64
}

// Attribute describes one value stored per cell.
type Attribute struct {
	Name            string
	Type            Datatype
	CellValNum      uint32 // number of values per cell; CellValNumVar for variable-length
	FilterPipeline  []string
}

// CellValNumVar marks an attribute as variable-length, the "var" sentinel
// value for CellValNum.
const CellValNumVar = ^uint32(0)

// Schema is the immutable, type-and-layout description of an array.
// Invariant: once installed in a registry.Entry, a Schema is
// read-only for the entry's lifetime - callers must not mutate slices
// reachable from an installed Schema.
type Schema struct {
	Dimensions    []Dimension
	Attributes    []Attribute
	CellOrder     Order
	TileOrder     Order
	TileCapacity  uint64
	ArrayType     ArrayType
	Version       uint32
}

// Validate checks internal consistency: dimension/attribute name uniqueness,
// non-empty dimension set, and sane domain bounds.
func (s *Schema) Validate() error {
	if len(s.Dimensions) == 0 {
		return errors.New(errors.CodeInvalidSchema, "schema has no dimensions")
	}
	seen := make(map[string]struct{}, len(s.Dimensions)+len(s.Attributes))
	for _, d := range s.Dimensions {
		if d.Name == "" {
			return errors.New(errors.CodeInvalidSchema, "dimension with empty name")
		}
		if _, ok := seen[d.Name]; ok {
			return errors.New(errors.CodeInvalidSchema, fmt.Sprintf("duplicate dimension name %q", d.Name))
		}
		seen[d.Name] = struct{}{}
		if d.DomainLow > d.DomainHigh {
			return errors.New(errors.CodeInvalidSchema, fmt.Sprintf("dimension %q has domain_low > domain_high", d.Name))
		}
		if d.TileExtent <= 0 {
			return errors.New(errors.CodeInvalidSchema, fmt.Sprintf("dimension %q has non-positive tile extent", d.Name))
		}
	}
	for _, a := range s.Attributes {
		if a.Name == "" {
			return errors.New(errors.CodeInvalidSchema, "attribute with empty name")
		}
		if _, ok := seen[a.Name]; ok {
			return errors.New(errors.CodeInvalidSchema, fmt.Sprintf("duplicate attribute/dimension name %q", a.Name))
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

// DomainSize returns the number of cells spanned by dimension d's domain.
func (d Dimension) DomainSize() uint64 {
	if d.DomainHigh < d.DomainLow {
		return 0
	}
	return uint64(d.DomainHigh-d.DomainLow) + 1
}

// Equal reports whether two schemas describe the same array shape. Used by
// round-trip tests (array_create; array_open_for_reads returns an equal
// schema).
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	if len(s.Dimensions) != len(o.Dimensions) || len(s.Attributes) != len(o.Attributes) {
		return false
	}
	if s.CellOrder != o.CellOrder || s.TileOrder != o.TileOrder || s.TileCapacity != o.TileCapacity || s.ArrayType != o.ArrayType {
		return false
	}
	for i := range s.Dimensions {
		if s.Dimensions[i] != o.Dimensions[i] {
			return false
		}
	}
	for i := range s.Attributes {
		a, b := s.Attributes[i], o.Attributes[i]
		if a.Name != b.Name || a.Type != b.Type || a.CellValNum != b.CellValNum {
			return false
		}
		if len(a.FilterPipeline) != len(b.FilterPipeline) {
			return false
		}
		for j := range a.FilterPipeline {
			if a.FilterPipeline[j] != b.FilterPipeline[j] {
				return false
			}
		}
	}
	return true
}
