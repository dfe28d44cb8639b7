package viewer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webkvm/codec"
	"webkvm/wire"
)

type fakeBlockDecoder struct{ calls int }

func (f *fakeBlockDecoder) Decode(payload []byte, w, h int) (codec.Planar, error) {
	f.calls++
	return codec.UnpackPlanar(payload, w, h)
}

func TestDecodeLegacyKeyframeThenDeltas(t *testing.T) {
	var d Decoder
	st := &clientState{}
	base := solid(4, 4, 0x10)

	rle, err := codec.EncodeRLE(base, time.Time{})
	require.NoError(t, err)
	img, err := d.Decode(st, &wire.Frame{Kind: wire.KindLegacy, Keyframe: true, Encoding: wire.EncodingRLE, Width: 4, Height: 4, Seq: 1, Payload: rle})
	require.NoError(t, err)
	assert.Equal(t, base, img.Pix)
	assert.EqualValues(t, 1, st.version)

	next := append([]byte(nil), base...)
	copy(next[4*5:], []byte{1, 2, 3, 4})
	delta, err := codec.Diff(base, next)
	require.NoError(t, err)
	img, err = d.Decode(st, &wire.Frame{Kind: wire.KindLegacy, Encoding: wire.EncodingChangeList, Width: 4, Height: 4, Seq: 2,
		Payload: codec.EncodeChangeList(delta)})
	require.NoError(t, err)
	assert.Equal(t, next, img.Pix)
	assert.EqualValues(t, 1, st.version, "deltas keep the base version")

	third := append([]byte(nil), next...)
	for i := 0; i < 8; i++ {
		copy(third[i*4:], []byte{9, 9, 9, 9})
	}
	delta, err = codec.Diff(next, third)
	require.NoError(t, err)
	img, err = d.Decode(st, &wire.Frame{Kind: wire.KindLegacy, Encoding: wire.EncodingRunList, Width: 4, Height: 4, Seq: 3,
		Payload: codec.EncodeRunList(delta.Runs())})
	require.NoError(t, err)
	assert.Equal(t, third, img.Pix)
}

func TestDecodeDeltaNeedsMatchingBase(t *testing.T) {
	var d Decoder
	st := &clientState{}
	empty := codec.EncodeChangeList(codec.DeltaRecord{})

	_, err := d.Decode(st, &wire.Frame{Kind: wire.KindLegacy, Encoding: wire.EncodingChangeList, Width: 2, Height: 2, Seq: 1, Payload: empty})
	assert.ErrorIs(t, err, ErrMissingBase)

	_, err = d.Decode(st, directFrame(5, 2, 2, 1))
	require.NoError(t, err)

	// gap in sequence
	_, err = d.Decode(st, &wire.Frame{Kind: wire.KindLegacy, Encoding: wire.EncodingChangeList, Width: 2, Height: 2, Seq: 7, Payload: empty})
	assert.ErrorIs(t, err, ErrMissingBase)
	// size change
	_, err = d.Decode(st, &wire.Frame{Kind: wire.KindLegacy, Encoding: wire.EncodingChangeList, Width: 4, Height: 1, Seq: 6, Payload: empty})
	assert.ErrorIs(t, err, ErrMissingBase)
	assert.True(t, wantsKeyframe(err))

	img, err := d.Decode(st, &wire.Frame{Kind: wire.KindLegacy, Encoding: wire.EncodingChangeList, Width: 2, Height: 2, Seq: 6, Payload: empty})
	require.NoError(t, err)
	assert.Equal(t, solid(2, 2, 1), img.Pix)
}

func TestDecodePlanar(t *testing.T) {
	var d Decoder
	pix := solid(6, 4, 0x80)
	p, err := codec.RGBAToPlanar(pix, 6, 4)
	require.NoError(t, err)

	img, err := d.Decode(&clientState{}, &wire.Frame{Kind: wire.KindPlanar, Keyframe: true, Width: 6, Height: 4, Seq: 1, Payload: p.Pack()})
	require.NoError(t, err)
	require.Len(t, img.Pix, len(pix))
	for i := 0; i < len(pix); i += 4 {
		assert.InDelta(t, 0x80, img.Pix[i], 3)
		assert.Equal(t, byte(0xff), img.Pix[i+3])
	}
}

func TestDecodeContainer(t *testing.T) {
	p, err := codec.RGBAToPlanar(solid(2, 2, 0x40), 2, 2)
	require.NoError(t, err)
	f := &wire.Frame{Kind: wire.KindContainerKey, Keyframe: true, Width: 2, Height: 2, Seq: 1, Payload: p.Pack()}

	_, err = (&Decoder{}).Decode(&clientState{}, f)
	assert.ErrorIs(t, err, ErrNoBlockDecoder)
	assert.False(t, wantsKeyframe(err))

	block := &fakeBlockDecoder{}
	img, err := (&Decoder{Block: block}).Decode(&clientState{}, f)
	require.NoError(t, err)
	assert.Equal(t, 1, block.calls)
	assert.Len(t, img.Pix, 16)
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	var d Decoder
	_, err := d.Decode(&clientState{}, &wire.Frame{Kind: wire.KindDirectCopy, Width: 0, Height: 4})
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = d.Decode(&clientState{}, &wire.Frame{Kind: wire.KindDirectCopy, Width: 1 << 20, Height: 1 << 20})
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = d.Decode(&clientState{}, &wire.Frame{Kind: wire.KindDirectCopy, Width: 2, Height: 2, Payload: make([]byte, 15)})
	assert.ErrorIs(t, err, codec.ErrSizeMismatch)

	st := &clientState{}
	_, err = d.Decode(st, &wire.Frame{Kind: wire.KindLegacy, Keyframe: true, Encoding: wire.EncodingRLE, Width: 2, Height: 2, Payload: []byte{3, 1, 2, 3}})
	assert.Error(t, err)
	assert.Nil(t, st.prev, "failed decodes leave the previous frame alone")
}

func TestDecodeLegacyRLEHeaderWithoutPayload(t *testing.T) {
	var d Decoder
	st := &clientState{}
	_, err := d.Decode(st, &wire.Frame{
		Kind:     wire.KindLegacy,
		Keyframe: true,
		Encoding: wire.EncodingRLE,
		Width:    16384,
		Height:   16384,
		Seq:      1,
	})
	assert.ErrorIs(t, err, codec.ErrTruncated)
	assert.Nil(t, st.prev)
}
