// Package codec holds the pixel payload transforms shared by the sender and
// the viewer: run-length coding, delta records, I420 planar conversion and
// block-average downsampling. Video block codecs (VP8 and friends) stay
// outside this package behind BlockEncoder and BlockDecoder.
package codec

import (
	"errors"
	"time"
)

const bytesPerPixel = 4

var (
	ErrTruncated        = errors.New("codec: truncated payload")
	ErrSizeMismatch     = errors.New("codec: payload does not match frame size")
	ErrIndexOutOfRange  = errors.New("codec: pixel index out of range")
	ErrDeadlineExceeded = errors.New("codec: encode deadline exceeded")
)

// BlockEncoder is an external image/video codec fed with I420 planes.
type BlockEncoder interface {
	Name() string
	Encode(p Planar, keyframe bool) ([]byte, error)
}

// BlockDecoder reverses a BlockEncoder payload into I420 planes.
type BlockDecoder interface {
	Decode(payload []byte, width, height int) (Planar, error)
}

// Encoders poll the deadline once per checkEvery pixels.
const checkEvery = 4096

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}
