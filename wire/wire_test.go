package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalParseLegacy(t *testing.T) {
	in := &Frame{Kind: KindLegacy, Keyframe: true, Encoding: EncodingRLE, Width: 4, Height: 4, Seq: 7,
		Payload: []byte{16, 0xff, 0, 0, 0xff}}
	b, err := in.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0x01, 0x01}, b[:4])
	assert.Len(t, b, HeaderSize+5)

	out, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	in.Keyframe = false
	in.Encoding = EncodingRunList
	b, err = in.Marshal()
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), b[2])
	out, err = Parse(b)
	require.NoError(t, err)
	assert.False(t, out.Keyframe)
	assert.Equal(t, EncodingRunList, out.Encoding)
}

func TestMarshalParseSignatures(t *testing.T) {
	for kind, sig := range signatures {
		in := &Frame{Kind: kind, Keyframe: kind != KindContainerDelta, Width: 2, Height: 1, Seq: 1 << 40,
			Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
		b, err := in.Marshal()
		require.NoError(t, err, kind)
		assert.Equal(t, sig[:], b[:4])

		got, err := FromSignature(b)
		require.NoError(t, err)
		assert.Equal(t, kind, got)

		out, err := Parse(b)
		require.NoError(t, err, kind)
		assert.Equal(t, in, out)
	}
}

func TestParseRejectsShortHeaders(t *testing.T) {
	b, err := (&Frame{Kind: KindDirectCopy, Width: 1, Height: 1, Payload: make([]byte, 4)}).Marshal()
	require.NoError(t, err)
	for n := 0; n < HeaderSize; n++ {
		_, err := Parse(b[:n])
		assert.ErrorIs(t, err, ErrShortHeader, "length %d", n)
		var pe *ProtocolError
		assert.True(t, errors.As(err, &pe))
	}
}

func TestParseRejectsTruncatedPayload(t *testing.T) {
	b, err := (&Frame{Kind: KindLegacy, Keyframe: true, Width: 3, Height: 1, Payload: make([]byte, 12)}).Marshal()
	require.NoError(t, err)
	for n := HeaderSize; n < len(b); n++ {
		_, err := Parse(b[:n])
		assert.ErrorIs(t, err, ErrTruncatedFrame, "length %d", n)
	}
	_, err = Parse(b)
	assert.NoError(t, err)
}

func TestParseIgnoresTrailingBytes(t *testing.T) {
	b, err := (&Frame{Kind: KindDirectCopy, Width: 1, Height: 1, Payload: []byte{1, 2, 3, 4}}).Marshal()
	require.NoError(t, err)
	out, err := Parse(append(b, 0xde, 0xad))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, out.Payload)
}

func TestTruncatedDirectCopyDeclaringFullFrame(t *testing.T) {
	// header declares 1920x1080 RGBA, only 100 payload bytes follow
	f := &Frame{Kind: KindDirectCopy, Width: 1920, Height: 1080, Seq: 1, Payload: make([]byte, 1920*1080*4)}
	b, err := f.Marshal()
	require.NoError(t, err)

	_, err = Parse(b[:HeaderSize+100])
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestDeclaredLengthLongerThanMessage(t *testing.T) {
	b, err := (&Frame{Kind: KindLegacy, Keyframe: true, Width: 5, Height: 5, Seq: 3, Payload: make([]byte, 100)}).Marshal()
	require.NoError(t, err)

	_, err = Parse(b[:HeaderSize+50])
	assert.ErrorIs(t, err, ErrTruncatedFrame)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, HeaderSize, perr.Offset)
}

func TestUnknownSignature(t *testing.T) {
	b := make([]byte, HeaderSize)
	copy(b, "JUNK")
	_, err := Parse(b)
	assert.ErrorIs(t, err, ErrUnknownSignature)

	_, err = FromSignature([]byte{0xAA, 0xBB, 0x09, 0})
	assert.ErrorIs(t, err, ErrUnknownSignature)

	b = make([]byte, HeaderSize)
	copy(b, []byte{0xAA, 0xBB, 0x01, 0x09})
	_, err = Parse(b)
	assert.ErrorIs(t, err, ErrUnknownSignature)
}

func TestMarshalRejectsUnknownKind(t *testing.T) {
	_, err := (&Frame{Kind: Kind(99)}).Marshal()
	assert.ErrorIs(t, err, ErrUnknownSignature)
}
