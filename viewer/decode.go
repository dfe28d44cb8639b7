package viewer

import (
	"errors"
	"fmt"

	"webkvm/codec"
	"webkvm/wire"
)

// MaxPixels bounds the dimensions a header may declare.
const MaxPixels = 16384 * 16384

var (
	ErrMissingBase     = errors.New("viewer: delta without matching previous frame")
	ErrNoBlockDecoder  = errors.New("viewer: no block decoder for container frame")
	ErrFrameTooLarge   = errors.New("viewer: frame dimensions out of range")
	ErrUnsupportedKind = errors.New("viewer: unsupported frame kind")
)

// Image is a decoded RGBA frame.
type Image struct {
	Pix      []byte
	Width    int
	Height   int
	Seq      uint64
	Keyframe bool
}

// clientState is the receiver state owned by the decode goroutine.
// version counts keyframes applied, so a painter can tell when the base
// image was replaced.
type clientState struct {
	version uint64
	prev    *Image
}

// Decoder turns wire frames into images. Block is optional.
type Decoder struct {
	Block codec.BlockDecoder
}

// Decode decodes f against st and, on success, makes the result the new
// previous frame.
func (d *Decoder) Decode(st *clientState, f *wire.Frame) (Image, error) {
	w, h := int(f.Width), int(f.Height)
	if w <= 0 || h <= 0 || uint64(w)*uint64(h) > MaxPixels {
		return Image{}, fmt.Errorf("%dx%d: %w", w, h, ErrFrameTooLarge)
	}
	var (
		pix []byte
		err error
	)
	switch f.Kind {
	case wire.KindDirectCopy:
		pix, err = decodeDirect(f.Payload, w, h)
	case wire.KindPlanar:
		pix, err = decodePlanar(f.Payload, w, h)
	case wire.KindContainerKey, wire.KindContainerDelta:
		pix, err = d.decodeContainer(f.Payload, w, h)
	case wire.KindLegacy:
		pix, err = decodeLegacy(st, f, w, h)
	default:
		err = fmt.Errorf("%v: %w", f.Kind, ErrUnsupportedKind)
	}
	if err != nil {
		return Image{}, fmt.Errorf("frame %d (%v): %w", f.Seq, f.Kind, err)
	}
	img := Image{Pix: pix, Width: w, Height: h, Seq: f.Seq, Keyframe: f.Keyframe}
	if f.Keyframe {
		st.version++
	}
	st.prev = &img
	return img, nil
}

func decodeDirect(payload []byte, w, h int) ([]byte, error) {
	if len(payload) != w*h*4 {
		return nil, fmt.Errorf("direct copy %d bytes for %dx%d: %w", len(payload), w, h, codec.ErrSizeMismatch)
	}
	return append([]byte(nil), payload...), nil
}

func decodePlanar(payload []byte, w, h int) ([]byte, error) {
	p, err := codec.UnpackPlanar(payload, w, h)
	if err != nil {
		return nil, err
	}
	return codec.PlanarToRGBA(p)
}

func (d *Decoder) decodeContainer(payload []byte, w, h int) ([]byte, error) {
	if d.Block == nil {
		return nil, ErrNoBlockDecoder
	}
	p, err := d.Block.Decode(payload, w, h)
	if err != nil {
		return nil, err
	}
	return codec.PlanarToRGBA(p)
}

func decodeLegacy(st *clientState, f *wire.Frame, w, h int) ([]byte, error) {
	switch f.Encoding {
	case wire.EncodingRaw:
		return decodeDirect(f.Payload, w, h)
	case wire.EncodingRLE:
		return codec.DecodeRLE(f.Payload, w*h)
	case wire.EncodingChangeList, wire.EncodingRunList:
		prev := st.prev
		if prev == nil || prev.Seq+1 != f.Seq || prev.Width != w || prev.Height != h {
			return nil, ErrMissingBase
		}
		if f.Encoding == wire.EncodingChangeList {
			return codec.ApplyChangeList(prev.Pix, f.Payload)
		}
		return codec.ApplyRunList(prev.Pix, f.Payload)
	}
	return nil, fmt.Errorf("%v: %w", f.Encoding, ErrUnsupportedKind)
}

// wantsKeyframe reports whether a decode error can be repaired by asking
// the sender for a keyframe.
func wantsKeyframe(err error) bool {
	return !errors.Is(err, ErrNoBlockDecoder) && !errors.Is(err, ErrUnsupportedKind)
}
