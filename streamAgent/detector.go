package sagent

import (
	"webkvm/codec"
	"webkvm/sdriver"
)

const (
	KEY_REASON_NONE       = ""
	KEY_REASON_FIRST      = "first"
	KEY_REASON_FORCED     = "forced"
	KEY_REASON_MAX_DELTAS = "max_deltas"
	KEY_REASON_RESIZE     = "resize"
	KEY_REASON_LARGE      = "large_delta"
)

// Detection is the change detector's verdict for one frame. Delta is only
// filled for delta frames.
type Detection struct {
	Keyframe bool
	Reason   string
	Delta    codec.DeltaRecord
}

// ChangeDetector decides between a keyframe and a delta. It holds no state;
// the caller passes the previous frame and the number of deltas sent since
// the last keyframe.
type ChangeDetector struct {
	MaxConsecutiveDeltas int
	KeyframeRatio        float64
}

func (cd ChangeDetector) Detect(prev, cur *sdriver.Frame, forceKey bool, deltasSinceKey int) Detection {
	switch {
	case prev == nil:
		return Detection{Keyframe: true, Reason: KEY_REASON_FIRST}
	case forceKey:
		return Detection{Keyframe: true, Reason: KEY_REASON_FORCED}
	case deltasSinceKey >= cd.MaxConsecutiveDeltas:
		return Detection{Keyframe: true, Reason: KEY_REASON_MAX_DELTAS}
	case !prev.SameSize(cur):
		return Detection{Keyframe: true, Reason: KEY_REASON_RESIZE}
	}
	delta, err := codec.Diff(prev.Pix, cur.Pix)
	if err != nil {
		return Detection{Keyframe: true, Reason: KEY_REASON_RESIZE}
	}
	full := len(cur.Pix)
	if float64(delta.EstimatedSize()) > cd.KeyframeRatio*float64(full) {
		return Detection{Keyframe: true, Reason: KEY_REASON_LARGE}
	}
	return Detection{Reason: KEY_REASON_NONE, Delta: delta}
}
