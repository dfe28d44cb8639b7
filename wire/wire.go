// Package wire frames encoded images for the frame channel. Every frame has
// a fixed 24 byte header followed by its payload.
//
// Legacy-tagged layout:
//
//	0..2   AA BB 01 (keyframe) | AA BB 02 (delta)
//	3      payload encoding (Raw, RLE, ChangeList, RunList)
//	4..7   width   u32 LE
//	8..11  height  u32 LE
//	12..19 seq     u64 LE
//	20..23 length  u32 LE
//
// Direct-copy family: bytes 0..3 carry an ASCII signature (ZCPY, I420,
// VP8K, VP8D) and the rest of the header is identical.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderSize = 24

const (
	legacyMagic0 = 0xAA
	legacyMagic1 = 0xBB
	legacyKey    = 0x01
	legacyDelta  = 0x02
)

var (
	ErrShortHeader      = errors.New("wire: short header")
	ErrTruncatedFrame   = errors.New("wire: truncated frame")
	ErrUnknownSignature = errors.New("wire: unknown signature")
)

// ProtocolError reports where in a message parsing failed.
type ProtocolError struct {
	Offset int
	Err    error
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
	}
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Kind is the closed set of frame layouts.
type Kind uint8

const (
	KindLegacy Kind = iota + 1
	KindDirectCopy
	KindPlanar
	KindContainerKey
	KindContainerDelta
)

var signatures = map[Kind][4]byte{
	KindDirectCopy:     {'Z', 'C', 'P', 'Y'},
	KindPlanar:         {'I', '4', '2', '0'},
	KindContainerKey:   {'V', 'P', '8', 'K'},
	KindContainerDelta: {'V', 'P', '8', 'D'},
}

func (k Kind) String() string {
	switch k {
	case KindLegacy:
		return "legacy"
	case KindDirectCopy:
		return "zcpy"
	case KindPlanar:
		return "i420"
	case KindContainerKey:
		return "vp8-key"
	case KindContainerDelta:
		return "vp8-delta"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Container reports whether the payload belongs to an external block codec.
func (k Kind) Container() bool {
	return k == KindContainerKey || k == KindContainerDelta
}

// Encoding is the payload encoding of a legacy-tagged frame.
type Encoding uint8

const (
	EncodingRaw Encoding = iota
	EncodingRLE
	EncodingChangeList
	EncodingRunList
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingRLE:
		return "rle"
	case EncodingChangeList:
		return "changes"
	case EncodingRunList:
		return "runs"
	}
	return fmt.Sprintf("encoding(%d)", uint8(e))
}

// FromSignature classifies a message by its first four bytes.
func FromSignature(b []byte) (Kind, error) {
	if len(b) < 4 {
		return 0, &ProtocolError{Offset: len(b), Err: ErrShortHeader, Detail: "signature"}
	}
	if b[0] == legacyMagic0 && b[1] == legacyMagic1 && (b[2] == legacyKey || b[2] == legacyDelta) {
		return KindLegacy, nil
	}
	for k, sig := range signatures {
		if [4]byte(b[:4]) == sig {
			return k, nil
		}
	}
	return 0, &ProtocolError{Offset: 0, Err: ErrUnknownSignature, Detail: fmt.Sprintf("% x", b[:4])}
}

// Frame is one framed image.
type Frame struct {
	Kind     Kind
	Keyframe bool
	Encoding Encoding
	Width    uint32
	Height   uint32
	Seq      uint64
	Payload  []byte
}

// Marshal writes the header and payload into a fresh buffer.
func (f *Frame) Marshal() ([]byte, error) {
	out := make([]byte, HeaderSize+len(f.Payload))
	switch f.Kind {
	case KindLegacy:
		out[0], out[1] = legacyMagic0, legacyMagic1
		out[2] = legacyDelta
		if f.Keyframe {
			out[2] = legacyKey
		}
		if f.Encoding > EncodingRunList {
			return nil, fmt.Errorf("wire: marshal %v", f.Encoding)
		}
		out[3] = byte(f.Encoding)
	default:
		sig, ok := signatures[f.Kind]
		if !ok {
			return nil, fmt.Errorf("wire: marshal %v: %w", f.Kind, ErrUnknownSignature)
		}
		copy(out, sig[:])
	}
	binary.LittleEndian.PutUint32(out[4:], f.Width)
	binary.LittleEndian.PutUint32(out[8:], f.Height)
	binary.LittleEndian.PutUint64(out[12:], f.Seq)
	binary.LittleEndian.PutUint32(out[20:], uint32(len(f.Payload)))
	copy(out[HeaderSize:], f.Payload)
	return out, nil
}

// Parse validates and splits a message. The returned payload aliases b.
// Bytes after the declared payload are ignored.
func Parse(b []byte) (*Frame, error) {
	if len(b) < HeaderSize {
		return nil, &ProtocolError{Offset: len(b), Err: ErrShortHeader,
			Detail: fmt.Sprintf("need %d bytes, have %d", HeaderSize, len(b))}
	}
	kind, err := FromSignature(b)
	if err != nil {
		return nil, err
	}
	f := &Frame{
		Kind:   kind,
		Width:  binary.LittleEndian.Uint32(b[4:]),
		Height: binary.LittleEndian.Uint32(b[8:]),
		Seq:    binary.LittleEndian.Uint64(b[12:]),
	}
	switch kind {
	case KindLegacy:
		f.Keyframe = b[2] == legacyKey
		f.Encoding = Encoding(b[3])
		if f.Encoding > EncodingRunList {
			return nil, &ProtocolError{Offset: 3, Err: ErrUnknownSignature,
				Detail: fmt.Sprintf("payload encoding %d", b[3])}
		}
	case KindDirectCopy, KindPlanar, KindContainerKey:
		f.Keyframe = true
	case KindContainerDelta:
		f.Keyframe = false
	}
	length := uint64(binary.LittleEndian.Uint32(b[20:]))
	if length > uint64(len(b)-HeaderSize) {
		return nil, &ProtocolError{Offset: HeaderSize, Err: ErrTruncatedFrame,
			Detail: fmt.Sprintf("declared %d payload bytes, have %d", length, len(b)-HeaderSize)}
	}
	f.Payload = b[HeaderSize : HeaderSize+int(length)]
	return f, nil
}
