package codec

import (
	"encoding/binary"
	"fmt"
)

const (
	changeEntrySize = 4 + bytesPerPixel
	runEntrySize    = 4 + 4 + bytesPerPixel
	listHeaderSize  = 4
)

// PixelChange sets one pixel to Color.
type PixelChange struct {
	Index uint32
	Color [4]byte
}

// RunChange sets Length consecutive pixels starting at Start to Color.
type RunChange struct {
	Start  uint32
	Length uint32
	Color  [4]byte
}

// DeltaRecord is the ordered list of pixels that differ between two frames
// of the same size. Indices are strictly increasing.
type DeltaRecord struct {
	Changes []PixelChange
}

// Diff compares two RGBA buffers of equal length pixel by pixel.
func Diff(prev, cur []byte) (DeltaRecord, error) {
	if len(prev) != len(cur) || len(cur)%bytesPerPixel != 0 {
		return DeltaRecord{}, fmt.Errorf("diff %d vs %d bytes: %w", len(prev), len(cur), ErrSizeMismatch)
	}
	var d DeltaRecord
	for i := 0; i < len(cur); i += bytesPerPixel {
		if binary.LittleEndian.Uint32(prev[i:]) == binary.LittleEndian.Uint32(cur[i:]) {
			continue
		}
		var c [4]byte
		copy(c[:], cur[i:i+bytesPerPixel])
		d.Changes = append(d.Changes, PixelChange{Index: uint32(i / bytesPerPixel), Color: c})
	}
	return d, nil
}

func (d DeltaRecord) Len() int {
	return len(d.Changes)
}

// Runs merges consecutive changes of identical color.
func (d DeltaRecord) Runs() []RunChange {
	var runs []RunChange
	for _, c := range d.Changes {
		if n := len(runs); n > 0 {
			last := &runs[n-1]
			if last.Color == c.Color && last.Start+last.Length == c.Index {
				last.Length++
				continue
			}
		}
		runs = append(runs, RunChange{Start: c.Index, Length: 1, Color: c.Color})
	}
	return runs
}

// EstimatedSize is the smaller of the change-list and run-list encodings.
func (d DeltaRecord) EstimatedSize() int {
	return min(ChangeListSize(len(d.Changes)), RunListSize(len(d.Runs())))
}

func ChangeListSize(changes int) int {
	return listHeaderSize + changes*changeEntrySize
}

func RunListSize(runs int) int {
	return listHeaderSize + runs*runEntrySize
}

// Apply returns a copy of base with every change written into it.
func (d DeltaRecord) Apply(base []byte) ([]byte, error) {
	out := append([]byte(nil), base...)
	for _, c := range d.Changes {
		off := int(c.Index) * bytesPerPixel
		if off+bytesPerPixel > len(out) {
			return nil, fmt.Errorf("change at pixel %d: %w", c.Index, ErrIndexOutOfRange)
		}
		copy(out[off:], c.Color[:])
	}
	return out, nil
}

// EncodeChangeList writes count u32 LE followed by (index u32 LE, RGBA).
func EncodeChangeList(d DeltaRecord) []byte {
	out := make([]byte, ChangeListSize(len(d.Changes)))
	binary.LittleEndian.PutUint32(out, uint32(len(d.Changes)))
	off := listHeaderSize
	for _, c := range d.Changes {
		binary.LittleEndian.PutUint32(out[off:], c.Index)
		copy(out[off+4:], c.Color[:])
		off += changeEntrySize
	}
	return out
}

// EncodeRunList writes count u32 LE followed by (start u32 LE, length u32 LE, RGBA).
func EncodeRunList(runs []RunChange) []byte {
	out := make([]byte, RunListSize(len(runs)))
	binary.LittleEndian.PutUint32(out, uint32(len(runs)))
	off := listHeaderSize
	for _, r := range runs {
		binary.LittleEndian.PutUint32(out[off:], r.Start)
		binary.LittleEndian.PutUint32(out[off+4:], r.Length)
		copy(out[off+8:], r.Color[:])
		off += runEntrySize
	}
	return out
}

// ApplyChangeList patches a copy of base with an EncodeChangeList payload.
func ApplyChangeList(base, payload []byte) ([]byte, error) {
	count, err := listCount(payload, changeEntrySize)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), base...)
	off := listHeaderSize
	for i := 0; i < count; i++ {
		px := int(binary.LittleEndian.Uint32(payload[off:])) * bytesPerPixel
		if px < 0 || px+bytesPerPixel > len(out) {
			return nil, fmt.Errorf("change %d: %w", i, ErrIndexOutOfRange)
		}
		copy(out[px:px+bytesPerPixel], payload[off+4:off+changeEntrySize])
		off += changeEntrySize
	}
	return out, nil
}

// ApplyRunList patches a copy of base with an EncodeRunList payload.
func ApplyRunList(base, payload []byte) ([]byte, error) {
	count, err := listCount(payload, runEntrySize)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), base...)
	pixels := uint64(len(out) / bytesPerPixel)
	off := listHeaderSize
	for i := 0; i < count; i++ {
		start := uint64(binary.LittleEndian.Uint32(payload[off:]))
		length := uint64(binary.LittleEndian.Uint32(payload[off+4:]))
		if start+length > pixels {
			return nil, fmt.Errorf("run %d [%d,+%d): %w", i, start, length, ErrIndexOutOfRange)
		}
		color := payload[off+8 : off+runEntrySize]
		for p := start; p < start+length; p++ {
			copy(out[p*bytesPerPixel:], color)
		}
		off += runEntrySize
	}
	return out, nil
}

func listCount(payload []byte, entry int) (int, error) {
	if len(payload) < listHeaderSize {
		return 0, fmt.Errorf("delta list header: %w", ErrTruncated)
	}
	count := uint64(binary.LittleEndian.Uint32(payload))
	if uint64(len(payload)-listHeaderSize) < count*uint64(entry) {
		return 0, fmt.Errorf("delta list declares %d entries in %d bytes: %w", count, len(payload), ErrTruncated)
	}
	return int(count), nil
}
