package fragment

import (
	"encoding/json"

	"github.com/zeebo/blake3"

	"github.com/latticedb/lattice/errors"
	"github.com/latticedb/lattice/schema"
	"github.com/latticedb/lattice/seal"
)

// wireMetadata is the on-disk JSON shape of a fragment metadata file. It
// omits Info.URI (recoverable from the file's own path) and stores the
// UUID as a string.
type wireMetadata struct {
	TFirst         int64   `json:"t_first"`
	TLast          int64   `json:"t_last"`
	UUID           string  `json:"uuid"`
	Version        int     `json:"version"`
	NonEmptyDomain []MBR   `json:"non_empty_domain"`
	TileOffsets    [][]int64 `json:"tile_offsets"`
	TileSizes      [][]int64 `json:"tile_sizes"`
	MBRs           []MBR   `json:"mbrs"`
	CellNum        uint64  `json:"cell_num"`

	// SchemaVersion records the array schema version the fragment was
	// written against, so a fragment written under a newer schema version
	// than the reader's can be recognized and rejected before it's trusted.
	SchemaVersion uint32 `json:"schema_version"`
}

// checksumSize is the width of the BLAKE3 footer appended to every
// encoded metadata file, to detect truncated writes before a metadata
// file is trusted.
const checksumSize = 32

// Encode serializes md to bytes suitable for writing via VFS, sealing the
// result under key and appending a BLAKE3 checksum footer over the sealed
// bytes.
func Encode(md *Metadata, schemaVersion uint32, key seal.Key) ([]byte, error) {
	w := wireMetadata{
		TFirst:         md.Info.TFirst,
		TLast:          md.Info.TLast,
		UUID:           md.Info.UUID.String(),
		Version:        md.Info.Version,
		NonEmptyDomain: md.NonEmptyDomain,
		TileOffsets:    md.TileOffsets,
		TileSizes:      md.TileSizes,
		MBRs:           md.MBRs,
		CellNum:        md.CellNum,
		SchemaVersion:  schemaVersion,
	}
	plain, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "fragment: encoding metadata")
	}
	sealed, err := seal.Seal(key, plain)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(sealed)
	out := make([]byte, 0, len(sealed)+checksumSize)
	out = append(out, sealed...)
	out = append(out, sum[:]...)
	return out, nil
}

// Decode validates the checksum footer, opens (decrypts) the sealed body
// under key, unmarshals it, and checks it against schema's current
// version, returning the decoded metadata or the error that rejected it.
func Decode(info Info, raw []byte, currentSchemaVersion uint32, key seal.Key, sch *schema.Schema) (*Metadata, error) {
	if len(raw) < checksumSize {
		return nil, errors.New(errors.CodeInvalidFragment, "fragment: metadata file truncated")
	}
	sealed := raw[:len(raw)-checksumSize]
	footer := raw[len(raw)-checksumSize:]
	sum := blake3.Sum256(sealed)
	if !constantTimeEqual(sum[:], footer) {
		return nil, errors.New(errors.CodeInvalidFragment, "fragment: metadata checksum mismatch, truncated or corrupt write")
	}

	plain, err := seal.Open(key, sealed)
	if err != nil {
		return nil, err // already errors.CodeEncryptionMismatch
	}

	var w wireMetadata
	if err := json.Unmarshal(plain, &w); err != nil {
		return nil, errors.New(errors.CodeInvalidFragment, "fragment: malformed metadata json: "+err.Error())
	}

	if w.SchemaVersion > currentSchemaVersion {
		return nil, errors.New(errors.CodeUnsupportedVer, "fragment: written under a newer schema version than this reader understands")
	}

	if err := validateAgainstSchema(&w, sch); err != nil {
		return nil, err
	}

	return &Metadata{
		Info:           info,
		NonEmptyDomain: w.NonEmptyDomain,
		TileOffsets:    w.TileOffsets,
		TileSizes:      w.TileSizes,
		MBRs:           w.MBRs,
		CellNum:        w.CellNum,
	}, nil
}

func validateAgainstSchema(w *wireMetadata, sch *schema.Schema) error {
	if sch == nil {
		return nil
	}
	if len(w.NonEmptyDomain) != 0 && len(w.NonEmptyDomain) != len(sch.Dimensions) {
		return errors.New(errors.CodeInvalidFragment, "fragment: non_empty_domain dimensionality does not match schema")
	}
	if len(w.TileOffsets) != 0 && len(w.TileOffsets) != len(sch.Attributes) {
		return errors.New(errors.CodeInvalidFragment, "fragment: tile_offsets attribute count does not match schema")
	}
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
