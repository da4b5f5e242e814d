package consolidate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/latticedb/lattice/consolidate"
	"github.com/latticedb/lattice/fragment"
)

func frag(cellNum uint64) *fragment.Metadata {
	return &fragment.Metadata{CellNum: cellNum}
}

func TestPlan(t *testing.T) {
	params := consolidate.Params{Steps: 4, StepMinFrags: 2, StepMaxFrags: 4, StepSizeRatio: 0.3}

	t.Run("too few fragments yields no plan", func(t *testing.T) {
		steps := consolidate.Plan([]*fragment.Metadata{frag(10)}, params)
		assert.Nil(t, steps)
	})

	t.Run("similar sized fragments form one step", func(t *testing.T) {
		frags := []*fragment.Metadata{frag(100), frag(105), frag(98), frag(103)}
		steps := consolidate.Plan(frags, params)
		assert.Len(t, steps, 1)
		assert.Len(t, steps[0].Fragments, 4)
	})

	t.Run("a size break starts a new step", func(t *testing.T) {
		frags := []*fragment.Metadata{frag(100), frag(105), frag(10000), frag(10050)}
		steps := consolidate.Plan(frags, params)
		require := assert.New(t)
		require.Len(steps, 2)
		require.Len(steps[0].Fragments, 2)
		require.Len(steps[1].Fragments, 2)
	})

	t.Run("runs below the minimum are dropped", func(t *testing.T) {
		frags := []*fragment.Metadata{frag(100), frag(9999), frag(1), frag(1)}
		steps := consolidate.Plan(frags, params)
		for _, s := range steps {
			assert.GreaterOrEqual(t, len(s.Fragments), params.StepMinFrags)
		}
	})

	t.Run("a run never exceeds StepMaxFrags", func(t *testing.T) {
		frags := make([]*fragment.Metadata, 0, 10)
		for i := 0; i < 10; i++ {
			frags = append(frags, frag(100))
		}
		steps := consolidate.Plan(frags, params)
		for _, s := range steps {
			assert.LessOrEqual(t, len(s.Fragments), params.StepMaxFrags)
		}
	})

	t.Run("number of steps never exceeds Params.Steps", func(t *testing.T) {
		p := consolidate.Params{Steps: 1, StepMinFrags: 2, StepMaxFrags: 2, StepSizeRatio: 0.3}
		frags := []*fragment.Metadata{frag(100), frag(105), frag(9999), frag(10001), frag(1), frag(1)}
		steps := consolidate.Plan(frags, p)
		assert.LessOrEqual(t, len(steps), p.Steps)
	})
}
