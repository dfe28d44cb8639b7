package sdriver

import (
	"errors"
	"time"
)

var (
	ErrNoSuchMonitor    = errors.New("sdriver: no such monitor")
	ErrUnsupportedEvent = errors.New("sdriver: unsupported input event")
	ErrDriverStopped    = errors.New("sdriver: driver stopped")
)

type PixelFormat uint8

const (
	// 4 bytes per pixel, R G B A order.
	PIXEL_FORMAT_RGBA PixelFormat = 0
)

const BytesPerPixel = 4

// Frame is one captured framebuffer. It is produced by a FrameSource and
// consumed by exactly one encode pass; nobody else keeps a reference to Pix.
type Frame struct {
	Pix        []byte
	Width      int
	Height     int
	Format     PixelFormat
	MonitorID  int
	CapturedAt time.Time
}

// NewFrame allocates a zeroed RGBA frame.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Pix:    make([]byte, width*height*BytesPerPixel),
		Width:  width,
		Height: height,
		Format: PIXEL_FORMAT_RGBA,
	}
}

func (f *Frame) PixelCount() int {
	return f.Width * f.Height
}

// SameSize reports whether both frames have identical dimensions.
func (f *Frame) SameSize(o *Frame) bool {
	return o != nil && f.Width == o.Width && f.Height == o.Height
}

type MonitorInfo struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Primary bool   `json:"primary"`
}

type DriverCaps struct {
	CanVideo   bool `json:"can_video"`
	CanAudio   bool `json:"can_audio"`
	CanControl bool `json:"can_control"`
}
