package fragment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/errors"
	"github.com/latticedb/lattice/fragment"
	"github.com/latticedb/lattice/schema"
	"github.com/latticedb/lattice/seal"
	"github.com/latticedb/lattice/vfs"
)

func sampleMetadata() *fragment.Metadata {
	info := fragment.NewURI(vfs.NewURI("/tmp/array"), 10, 20)
	return &fragment.Metadata{
		Info:           info,
		NonEmptyDomain: []fragment.MBR{{Low: []int64{0}, High: []int64{9}}},
		TileOffsets:    [][]int64{{0, 100}},
		TileSizes:      [][]int64{{100, 100}},
		CellNum:        200,
	}
}

func TestMetadataCodecRoundTrip(t *testing.T) {
	t.Run("without encryption", func(t *testing.T) {
		md := sampleMetadata()
		raw, err := fragment.Encode(md, 1, seal.Key{})
		require.NoError(t, err)

		got, err := fragment.Decode(md.Info, raw, 1, seal.Key{}, nil)
		require.NoError(t, err)
		assert.Equal(t, md.CellNum, got.CellNum)
		assert.Equal(t, md.TileOffsets, got.TileOffsets)
	})

	t.Run("with encryption", func(t *testing.T) {
		md := sampleMetadata()
		key := seal.DeriveKey([]byte("frag key"))
		raw, err := fragment.Encode(md, 1, key)
		require.NoError(t, err)

		got, err := fragment.Decode(md.Info, raw, 1, key, nil)
		require.NoError(t, err)
		assert.Equal(t, md.CellNum, got.CellNum)
	})

	t.Run("newer schema version is rejected", func(t *testing.T) {
		md := sampleMetadata()
		raw, err := fragment.Encode(md, 5, seal.Key{})
		require.NoError(t, err)

		_, err = fragment.Decode(md.Info, raw, 1, seal.Key{}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeUnsupportedVer))
	})

	t.Run("truncated checksum footer is rejected", func(t *testing.T) {
		md := sampleMetadata()
		raw, err := fragment.Encode(md, 1, seal.Key{})
		require.NoError(t, err)

		truncated := raw[:len(raw)-1]
		_, err = fragment.Decode(md.Info, truncated, 1, seal.Key{}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeInvalidFragment))
	})

	t.Run("corrupted bytes fail checksum", func(t *testing.T) {
		md := sampleMetadata()
		raw, err := fragment.Encode(md, 1, seal.Key{})
		require.NoError(t, err)

		raw[0] ^= 0xFF
		_, err = fragment.Decode(md.Info, raw, 1, seal.Key{}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeInvalidFragment))
	})

	t.Run("dimensionality mismatch against schema is rejected", func(t *testing.T) {
		md := sampleMetadata()
		raw, err := fragment.Encode(md, 1, seal.Key{})
		require.NoError(t, err)

		sch := &schema.Schema{
			Dimensions: []schema.Dimension{
				{Name: "d0", DomainLow: 0, DomainHigh: 9, TileExtent: 1},
				{Name: "d1", DomainLow: 0, DomainHigh: 9, TileExtent: 1},
			},
			Attributes: []schema.Attribute{{Name: "a0"}},
		}
		_, err = fragment.Decode(md.Info, raw, 1, seal.Key{}, sch)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeInvalidFragment))
	})
}
