package fragment

// MBR is a minimum bounding rectangle over a sparse fragment's cells, one
// pair of (low, high) per dimension.
type MBR struct {
	Low  []int64
	High []int64
}

// Metadata is a fragment's per-fragment index: its non-empty domain,
// tile offsets/sizes into the attribute files, and (for sparse fragments)
// per-tile MBRs. Once loaded for a fragment URI under an open-array entry
// it is immutable and may be shared by every reader of that entry.
type Metadata struct {
	Info Info

	// NonEmptyDomain holds one (low, high) pair per dimension describing
	// the tightest bounding box of cells actually written.
	NonEmptyDomain []MBR

	// TileOffsets/TileSizes are indexed by [attribute][tile] and describe
	// where each attribute's tiles sit within that attribute's file.
	TileOffsets [][]int64
	TileSizes   [][]int64

	// MBRs holds one minimum bounding rectangle per tile, only populated
	// for sparse arrays.
	MBRs []MBR

	// CellNum is the total number of cells the fragment covers.
	CellNum uint64
}

// TFirst and TLast are convenience accessors mirroring Info's fields, used
// by code that only has a *Metadata in hand (e.g. sorted snapshot slices).
func (m *Metadata) TFirst() int64 { return m.Info.TFirst }
func (m *Metadata) TLast() int64  { return m.Info.TLast }
