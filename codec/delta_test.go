package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameWith(n int, set map[int][4]byte) []byte {
	pix := solid(n, [4]byte{10, 20, 30, 0xff})
	for i, c := range set {
		copy(pix[i*4:], c[:])
	}
	return pix
}

func TestDiffAndApply(t *testing.T) {
	prev := frameWith(64, nil)
	cur := frameWith(64, map[int][4]byte{
		3:  {1, 1, 1, 1},
		4:  {1, 1, 1, 1},
		5:  {1, 1, 1, 1},
		40: {9, 9, 9, 9},
	})

	d, err := Diff(prev, cur)
	require.NoError(t, err)
	require.Equal(t, 4, d.Len())
	assert.Equal(t, uint32(3), d.Changes[0].Index)
	assert.Equal(t, uint32(40), d.Changes[3].Index)

	runs := d.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, RunChange{Start: 3, Length: 3, Color: [4]byte{1, 1, 1, 1}}, runs[0])

	got, err := d.Apply(prev)
	require.NoError(t, err)
	assert.Equal(t, cur, got)

	fromChanges, err := ApplyChangeList(prev, EncodeChangeList(d))
	require.NoError(t, err)
	assert.Equal(t, cur, fromChanges)

	fromRuns, err := ApplyRunList(prev, EncodeRunList(runs))
	require.NoError(t, err)
	assert.Equal(t, cur, fromRuns)

	assert.Equal(t, RunListSize(2), d.EstimatedSize())
	assert.Equal(t, frameWith(64, nil), prev, "base must not be modified")
}

func TestZeroChangeDelta(t *testing.T) {
	prev := frameWith(16, nil)
	d, err := Diff(prev, frameWith(16, nil))
	require.NoError(t, err)
	assert.Zero(t, d.Len())

	payload := EncodeChangeList(d)
	assert.Equal(t, []byte{0, 0, 0, 0}, payload)
	got, err := ApplyChangeList(prev, payload)
	require.NoError(t, err)
	assert.Equal(t, prev, got)
}

func TestDiffSizeMismatch(t *testing.T) {
	_, err := Diff(make([]byte, 8), make([]byte, 12))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestApplyRejectsBadLists(t *testing.T) {
	base := frameWith(4, nil)

	_, err := ApplyChangeList(base, []byte{1, 0})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = ApplyChangeList(base, []byte{2, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1})
	assert.ErrorIs(t, err, ErrTruncated)

	oob := EncodeChangeList(DeltaRecord{Changes: []PixelChange{{Index: 4}}})
	_, err = ApplyChangeList(base, oob)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	longRun := EncodeRunList([]RunChange{{Start: 2, Length: 3}})
	_, err = ApplyRunList(base, longRun)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}
