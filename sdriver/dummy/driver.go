package dummy

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"webkvm/sdriver"
)

const (
	defaultWidth  = 640
	defaultHeight = 360
	boxSize       = 32
)

// DummyDriver implements sdriver.SDriver with a synthetic desktop: a static
// gradient with a box that moves one step per captured frame. Injected input
// events are recorded instead of replayed.
type DummyDriver struct {
	width    int
	height   int
	monitors int
	static   bool

	mu       sync.Mutex
	ticks    map[int]int
	events   []sdriver.Event
	stopped  bool
	stopOnce sync.Once
}

// New creates a dummy driver. Recognised options: width, height, monitors,
// static ("true" freezes the box).
func New(opts map[string]string) (*DummyDriver, error) {
	d := &DummyDriver{
		width:    defaultWidth,
		height:   defaultHeight,
		monitors: 1,
		ticks:    make(map[int]int),
	}
	var err error
	if v, ok := opts["width"]; ok && v != "" {
		if d.width, err = parsePositive(v); err != nil {
			return nil, fmt.Errorf("dummy: width: %w", err)
		}
	}
	if v, ok := opts["height"]; ok && v != "" {
		if d.height, err = parsePositive(v); err != nil {
			return nil, fmt.Errorf("dummy: height: %w", err)
		}
	}
	if v, ok := opts["monitors"]; ok && v != "" {
		if d.monitors, err = parsePositive(v); err != nil {
			return nil, fmt.Errorf("dummy: monitors: %w", err)
		}
	}
	d.static = opts["static"] == "true"
	return d, nil
}

func (d *DummyDriver) CaptureFrame(monitorID int) (*sdriver.Frame, error) {
	if monitorID < 0 || monitorID >= d.monitors {
		return nil, sdriver.ErrNoSuchMonitor
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, sdriver.ErrDriverStopped
	}
	tick := d.ticks[monitorID]
	if !d.static {
		d.ticks[monitorID] = tick + 1
	}
	d.mu.Unlock()

	f := sdriver.NewFrame(d.width, d.height)
	f.MonitorID = monitorID
	f.CapturedAt = time.Now()
	d.paint(f, tick)
	return f, nil
}

func (d *DummyDriver) paint(f *sdriver.Frame, tick int) {
	for y := 0; y < f.Height; y++ {
		row := y * f.Width * sdriver.BytesPerPixel
		for x := 0; x < f.Width; x++ {
			i := row + x*sdriver.BytesPerPixel
			f.Pix[i] = byte(x * 255 / max(f.Width-1, 1))
			f.Pix[i+1] = byte(y * 255 / max(f.Height-1, 1))
			f.Pix[i+2] = byte(0x40 * (f.MonitorID + 1))
			f.Pix[i+3] = 0xff
		}
	}
	span := max(f.Width-boxSize, 1)
	bx := (tick * 4) % span
	by := (f.Height - boxSize) / 2
	for y := max(by, 0); y < min(by+boxSize, f.Height); y++ {
		for x := bx; x < min(bx+boxSize, f.Width); x++ {
			i := (y*f.Width + x) * sdriver.BytesPerPixel
			f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3] = 0xff, 0xff, 0xff, 0xff
		}
	}
}

func (d *DummyDriver) Monitors() ([]sdriver.MonitorInfo, error) {
	out := make([]sdriver.MonitorInfo, 0, d.monitors)
	for i := 0; i < d.monitors; i++ {
		out = append(out, sdriver.MonitorInfo{
			ID:      i,
			Name:    fmt.Sprintf("dummy-%d", i),
			Width:   d.width,
			Height:  d.height,
			Primary: i == 0,
		})
	}
	return out, nil
}

// Inject records the event; see Events.
func (d *DummyDriver) Inject(event sdriver.Event) error {
	if event == nil {
		return sdriver.ErrUnsupportedEvent
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return sdriver.ErrDriverStopped
	}
	d.events = append(d.events, event)
	return nil
}

// Events returns a copy of every injected event so far.
func (d *DummyDriver) Events() []sdriver.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sdriver.Event(nil), d.events...)
}

func (d *DummyDriver) Capabilities() sdriver.DriverCaps {
	return sdriver.DriverCaps{CanVideo: true, CanAudio: false, CanControl: true}
}

func (d *DummyDriver) Stop() error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
	})
	return nil
}

func parsePositive(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errors.New("must be positive")
	}
	return v, nil
}
