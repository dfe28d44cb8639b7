package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(n int, c [4]byte) []byte {
	out := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		out = append(out, c[:]...)
	}
	return out
}

func TestEncodeRLEAllRed(t *testing.T) {
	pix := solid(16, [4]byte{0xff, 0, 0, 0xff})

	enc, err := EncodeRLE(pix, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []byte{16, 0xff, 0, 0, 0xff}, enc)

	dec, err := DecodeRLE(enc, 16)
	require.NoError(t, err)
	assert.Equal(t, pix, dec)
}

func TestEncodeRLESplitsLongRuns(t *testing.T) {
	pix := solid(600, [4]byte{1, 2, 3, 4})
	enc, err := EncodeRLE(pix, time.Time{})
	require.NoError(t, err)
	require.Len(t, enc, 3*rleEntrySize)
	assert.Equal(t, byte(255), enc[0])
	assert.Equal(t, byte(255), enc[5])
	assert.Equal(t, byte(90), enc[10])

	dec, err := DecodeRLE(enc, 600)
	require.NoError(t, err)
	assert.Equal(t, pix, dec)
}

func TestRLERoundTripMixed(t *testing.T) {
	pix := make([]byte, 0, 40*4)
	for i := 0; i < 40; i++ {
		v := byte(i / 3)
		pix = append(pix, v, v*2, v*3, 0xff)
	}
	enc, err := EncodeRLE(pix, time.Time{})
	require.NoError(t, err)
	dec, err := DecodeRLE(enc, 40)
	require.NoError(t, err)
	assert.Equal(t, pix, dec)
}

func TestEncodeRLEExpiredDeadline(t *testing.T) {
	_, err := EncodeRLE(solid(8, [4]byte{}), time.Now().Add(-time.Millisecond))
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
}

func TestDecodeRLETruncated(t *testing.T) {
	enc := []byte{4, 1, 1, 1, 1, 4, 2, 2}
	dec, err := DecodeRLE(enc, 8)
	assert.ErrorIs(t, err, ErrTruncated)
	require.Len(t, dec, 32)
	assert.Equal(t, solid(4, [4]byte{1, 1, 1, 1}), dec[:16])
}

func TestDecodeRLEOverflow(t *testing.T) {
	_, err := DecodeRLE([]byte{200, 0, 0, 0, 0}, 10)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestDecodeRLEShort(t *testing.T) {
	_, err := DecodeRLE([]byte{3, 0, 0, 0, 0}, 10)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeRLERejectsPayloadTooShortForFrame(t *testing.T) {
	dec, err := DecodeRLE(nil, 16384*16384)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Nil(t, dec, "nothing is allocated for an impossible frame")

	// two entries cover at most 510 pixels
	_, err = DecodeRLE([]byte{255, 0, 0, 0, 0, 255, 0, 0, 0, 0}, 511)
	assert.ErrorIs(t, err, ErrTruncated)
	dec, err = DecodeRLE([]byte{255, 0, 0, 0, 0, 255, 0, 0, 0, 0}, 510)
	require.NoError(t, err)
	assert.Len(t, dec, 510*4)
}
