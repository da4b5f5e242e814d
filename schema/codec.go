package schema

import (
	"encoding/json"

	"github.com/latticedb/lattice/errors"
	"github.com/latticedb/lattice/seal"
)

// ArraySchemaFile, GroupMarkerFile, KeyValueMarkerFile are the marker
// filenames the Storage Manager's object-type classifier and array_create
// look for when deciding whether a directory is an array, group, or
// key-value store.
const (
	ArraySchemaFile    = "__array_schema.json"
	GroupMarkerFile    = "__tiledb_group.json"
	KeyValueMarkerFile = "__tiledb_kv.json"
)

type wireSchema struct {
	Dimensions   []Dimension `json:"dimensions"`
	Attributes   []Attribute `json:"attributes"`
	CellOrder    Order       `json:"cell_order"`
	TileOrder    Order       `json:"tile_order"`
	TileCapacity uint64      `json:"tile_capacity"`
	ArrayType    ArrayType   `json:"array_type"`
	Version      uint32      `json:"version"`
}

// Encode serializes s to bytes suitable for writing to ArraySchemaFile via
// VFS, sealing the result under key. Unlike fragment metadata, schema
// files carry no checksum footer: a corrupt schema file fails to
// unmarshal and is reported as InvalidSchema directly.
func Encode(s *Schema, key seal.Key) ([]byte, error) {
	w := wireSchema{
		Dimensions:   s.Dimensions,
		Attributes:   s.Attributes,
		CellOrder:    s.CellOrder,
		TileOrder:    s.TileOrder,
		TileCapacity: s.TileCapacity,
		ArrayType:    s.ArrayType,
		Version:      s.Version,
	}
	plain, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "schema: encoding")
	}
	sealed, err := seal.Seal(key, plain)
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// Decode opens and unmarshals bytes produced by Encode, then validates the
// result.
func Decode(raw []byte, key seal.Key) (*Schema, error) {
	plain, err := seal.Open(key, raw)
	if err != nil {
		return nil, err // already errors.CodeEncryptionMismatch
	}
	var w wireSchema
	if err := json.Unmarshal(plain, &w); err != nil {
		return nil, errors.New(errors.CodeInvalidSchema, "schema: malformed json: "+err.Error())
	}
	s := &Schema{
		Dimensions:   w.Dimensions,
		Attributes:   w.Attributes,
		CellOrder:    w.CellOrder,
		TileOrder:    w.TileOrder,
		TileCapacity: w.TileCapacity,
		ArrayType:    w.ArrayType,
		Version:      w.Version,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
