package sagent

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTransportClosed    = errors.New("sagent: transport closed")
	ErrBudgetExceeded     = errors.New("sagent: encode budget exceeded")
	ErrShutdownTimeout    = errors.New("sagent: session did not stop within grace period")
	ErrUnsupportedFormat  = errors.New("sagent: unsupported stream format")
	ErrRegistryClosed     = errors.New("sagent: registry is shut down")
	ErrControlUnsupported = errors.New("sagent: driver does not accept input")
)

// Tier is a performance budget level. Higher is better quality.
type Tier int

const (
	TIER_EMERGENCY Tier = iota
	TIER_STANDARD
	TIER_ULTRA
)

func (t Tier) String() string {
	switch t {
	case TIER_ULTRA:
		return "ultra"
	case TIER_STANDARD:
		return "standard"
	case TIER_EMERGENCY:
		return "emergency"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

func ParseTier(s string) (Tier, error) {
	switch s {
	case "ultra":
		return TIER_ULTRA, nil
	case "standard":
		return TIER_STANDARD, nil
	case "emergency":
		return TIER_EMERGENCY, nil
	}
	return 0, fmt.Errorf("sagent: unknown tier %q", s)
}

// Format is the stream format a client asked for on connect.
type Format string

const (
	FORMAT_AUTO Format = "auto"
	FORMAT_ZCPY Format = "zcpy"
	FORMAT_RLE  Format = "rle"
	FORMAT_I420 Format = "i420"
	FORMAT_VP8  Format = "vp8"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FORMAT_AUTO, nil
	case FORMAT_AUTO, FORMAT_ZCPY, FORMAT_RLE, FORMAT_I420, FORMAT_VP8:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Transport is the client connection a session writes to. Only the
// session's writer goroutine calls it.
type Transport interface {
	WriteFrame(b []byte) error
	WriteControl(b []byte) error
}

// FrameSink replaces the frame half of a Transport, e.g. a WebRTC data
// channel negotiated after the websocket is up.
type FrameSink interface {
	WriteFrame(b []byte) error
}

// Stats is a point-in-time snapshot of one session.
type Stats struct {
	ID         string        `json:"id"`
	Monitor    int           `json:"monitor"`
	Format     Format        `json:"format"`
	Tier       string        `json:"tier"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Produced   uint64        `json:"produced"`
	Sent       uint64        `json:"sent"`
	Dropped    uint64        `json:"dropped"`
	Keyframes  uint64        `json:"keyframes"`
	Fallbacks  uint64        `json:"fallbacks"`
	Errors     uint64        `json:"errors"`
	LastEncode time.Duration `json:"last_encode_ns"`
	StartedAt  time.Time     `json:"started_at"`
	Transport  string        `json:"transport"`
}
