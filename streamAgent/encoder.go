package sagent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webkvm/codec"
	"webkvm/config"
	"webkvm/sdriver"
	"webkvm/wire"
)

// Encoded is a payload ready for framing.
type Encoded struct {
	Kind     wire.Kind
	Keyframe bool
	Encoding wire.Encoding
	Width    int
	Height   int
	Payload  []byte
	// FellBack is set when the deadline passed and the frame was replaced
	// by a direct-copy keyframe.
	FellBack bool
}

// PayloadEncoder turns frames into payloads according to tier and format.
// It is deterministic: the same inputs give the same bytes.
type PayloadEncoder struct {
	Format              Format
	Block               codec.BlockEncoder
	UltraDownsample     int
	EmergencyDownsample int
}

func NewPayloadEncoder(cfg config.TierConfig, format Format, block codec.BlockEncoder) (*PayloadEncoder, error) {
	if format == FORMAT_VP8 && block == nil {
		return nil, fmt.Errorf("%w: %s needs a block encoder", ErrUnsupportedFormat, format)
	}
	return &PayloadEncoder{
		Format:              format,
		Block:               block,
		UltraDownsample:     cfg.UltraDownsample,
		EmergencyDownsample: cfg.EmergencyDownsample,
	}, nil
}

func (e *PayloadEncoder) factor(tier Tier) int {
	switch tier {
	case TIER_ULTRA:
		return e.UltraDownsample
	case TIER_EMERGENCY:
		return e.EmergencyDownsample
	}
	return 1
}

// Prepare scales a captured frame to the resolution sent at tier. Change
// detection runs on prepared frames.
func (e *PayloadEncoder) Prepare(tier Tier, f *sdriver.Frame) (*sdriver.Frame, error) {
	k := e.factor(tier)
	if k <= 1 {
		return f, nil
	}
	pix, w, h, err := codec.Downsample(f.Pix, f.Width, f.Height, k)
	if err != nil {
		return nil, err
	}
	out := *f
	out.Pix, out.Width, out.Height = pix, w, h
	return &out, nil
}

// useBlock reports whether the external block codec handles this tier.
func (e *PayloadEncoder) useBlock(tier Tier) bool {
	if e.Block == nil {
		return false
	}
	return e.Format == FORMAT_VP8 || tier == TIER_EMERGENCY
}

// Encode produces the payload for a prepared frame. When the deadline
// passes mid-encode the result is a direct-copy keyframe of f.
func (e *PayloadEncoder) Encode(ctx context.Context, tier Tier, f *sdriver.Frame, det Detection, deadline time.Time) (Encoded, error) {
	if err := ctx.Err(); err != nil {
		return Encoded{}, err
	}
	enc, err := e.encode(tier, f, det, deadline)
	if errors.Is(err, ErrBudgetExceeded) {
		out := e.directCopy(f)
		out.FellBack = true
		return out, nil
	}
	if err != nil {
		return Encoded{}, err
	}
	enc.Width, enc.Height = f.Width, f.Height
	return enc, nil
}

func (e *PayloadEncoder) encode(tier Tier, f *sdriver.Frame, det Detection, deadline time.Time) (Encoded, error) {
	if e.Format == FORMAT_I420 {
		return e.planar(f)
	}
	if e.useBlock(tier) {
		return e.block(f, det.Keyframe, deadline)
	}
	if det.Keyframe {
		if e.Format == FORMAT_ZCPY || (tier == TIER_ULTRA && e.Format != FORMAT_RLE) {
			return e.directCopy(f), nil
		}
		return e.rleKeyframe(f, deadline)
	}
	if pastDeadline(deadline) {
		return Encoded{}, ErrBudgetExceeded
	}
	if tier == TIER_ULTRA {
		return Encoded{Kind: wire.KindLegacy, Encoding: wire.EncodingChangeList, Payload: codec.EncodeChangeList(det.Delta)}, nil
	}
	return smallestDelta(det.Delta), nil
}

func (e *PayloadEncoder) directCopy(f *sdriver.Frame) Encoded {
	return Encoded{Kind: wire.KindDirectCopy, Keyframe: true, Width: f.Width, Height: f.Height, Payload: f.Pix}
}

func (e *PayloadEncoder) rleKeyframe(f *sdriver.Frame, deadline time.Time) (Encoded, error) {
	payload, err := codec.EncodeRLE(f.Pix, deadline)
	if errors.Is(err, codec.ErrDeadlineExceeded) {
		return Encoded{}, fmt.Errorf("%w: %v", ErrBudgetExceeded, err)
	}
	if err != nil {
		return Encoded{}, err
	}
	return Encoded{Kind: wire.KindLegacy, Keyframe: true, Encoding: wire.EncodingRLE, Payload: payload}, nil
}

func (e *PayloadEncoder) planar(f *sdriver.Frame) (Encoded, error) {
	p, err := codec.RGBAToPlanar(f.Pix, f.Width, f.Height)
	if err != nil {
		return Encoded{}, err
	}
	return Encoded{Kind: wire.KindPlanar, Keyframe: true, Payload: p.Pack()}, nil
}

func (e *PayloadEncoder) block(f *sdriver.Frame, keyframe bool, deadline time.Time) (Encoded, error) {
	p, err := codec.RGBAToPlanar(f.Pix, f.Width, f.Height)
	if err != nil {
		return Encoded{}, err
	}
	if pastDeadline(deadline) {
		return Encoded{}, ErrBudgetExceeded
	}
	payload, err := e.Block.Encode(p, keyframe)
	if err != nil {
		return Encoded{}, fmt.Errorf("%s encode: %w", e.Block.Name(), err)
	}
	kind := wire.KindContainerDelta
	if keyframe {
		kind = wire.KindContainerKey
	}
	return Encoded{Kind: kind, Keyframe: keyframe, Payload: payload}, nil
}

// smallestDelta picks the change list or the run list, whichever is shorter.
func smallestDelta(d codec.DeltaRecord) Encoded {
	runs := d.Runs()
	if codec.RunListSize(len(runs)) < codec.ChangeListSize(d.Len()) {
		return Encoded{Kind: wire.KindLegacy, Encoding: wire.EncodingRunList, Payload: codec.EncodeRunList(runs)}
	}
	return Encoded{Kind: wire.KindLegacy, Encoding: wire.EncodingChangeList, Payload: codec.EncodeChangeList(d)}
}

func pastDeadline(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}
