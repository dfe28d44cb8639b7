package sdriver

// FrameSource yields the current framebuffer of a monitor.
// Every call returns a freshly allocated Frame owned by the caller.
type FrameSource interface {
	CaptureFrame(monitorID int) (*Frame, error)
}

// InputInjector replays an input event on the captured desktop.
type InputInjector interface {
	Inject(event Event) error
}

// MonitorEnumerator lists the monitors a FrameSource can capture.
type MonitorEnumerator interface {
	Monitors() ([]MonitorInfo, error)
}

// SDriver is the screen backend the streaming pipeline consumes.
type SDriver interface {
	FrameSource
	InputInjector
	MonitorEnumerator
	Capabilities() DriverCaps
	Stop() error
}
