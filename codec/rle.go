package codec

import (
	"bytes"
	"fmt"
	"time"
)

const (
	rleEntrySize = 1 + bytesPerPixel
	maxRun       = 255
)

// EncodeRLE compresses an RGBA buffer into (count, R, G, B, A) entries.
// Runs longer than 255 pixels are split. A zero deadline disables the
// deadline check.
func EncodeRLE(pix []byte, deadline time.Time) ([]byte, error) {
	if len(pix)%bytesPerPixel != 0 {
		return nil, fmt.Errorf("rle: %d bytes is not a whole number of pixels: %w", len(pix), ErrSizeMismatch)
	}
	n := len(pix) / bytesPerPixel
	out := make([]byte, 0, 64)
	nextCheck := 0
	for i := 0; i < n; {
		if i >= nextCheck {
			if expired(deadline) {
				return nil, ErrDeadlineExceeded
			}
			nextCheck = i + checkEvery
		}
		px := pix[i*bytesPerPixel : (i+1)*bytesPerPixel]
		run := 1
		for i+run < n && run < maxRun && bytes.Equal(px, pix[(i+run)*bytesPerPixel:(i+run+1)*bytesPerPixel]) {
			run++
		}
		out = append(out, byte(run), px[0], px[1], px[2], px[3])
		i += run
	}
	return out, nil
}

// DecodeRLE expands payload into a buffer of exactly pixelCount pixels.
// Every write is bounds-checked. On truncated or oversized input the
// partially filled buffer is returned together with the error. A payload
// too short to cover pixelCount is rejected before anything is allocated.
func DecodeRLE(payload []byte, pixelCount int) ([]byte, error) {
	if pixelCount < 0 || uint64(len(payload)/rleEntrySize)*maxRun < uint64(pixelCount) {
		return nil, fmt.Errorf("rle: %d bytes cannot cover %d pixels: %w", len(payload), pixelCount, ErrTruncated)
	}
	out := make([]byte, pixelCount*bytesPerPixel)
	pos := 0
	for off := 0; off < len(payload); off += rleEntrySize {
		if off+rleEntrySize > len(payload) {
			return out, fmt.Errorf("rle: dangling %d bytes at offset %d: %w", len(payload)-off, off, ErrTruncated)
		}
		run := int(payload[off])
		color := payload[off+1 : off+rleEntrySize]
		for r := 0; r < run; r++ {
			if pos >= pixelCount {
				return out, fmt.Errorf("rle: run overflows %d pixels: %w", pixelCount, ErrSizeMismatch)
			}
			copy(out[pos*bytesPerPixel:], color)
			pos++
		}
	}
	if pos != pixelCount {
		return out, fmt.Errorf("rle: decoded %d of %d pixels: %w", pos, pixelCount, ErrTruncated)
	}
	return out, nil
}
