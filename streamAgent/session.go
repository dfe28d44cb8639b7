package sagent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4/pkg/media"

	"webkvm/codec"
	"webkvm/config"
	"webkvm/control"
	"webkvm/sdriver"
)

// SampleWriter receives container payloads as media samples, e.g. a pion
// VP8 track.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

type outFrame struct {
	data   []byte
	sample []byte // container payload for the video track, if any
}

type sinkBox struct {
	sink     FrameSink
	name     string
	fallback bool // the client transport itself
}

// Session streams one monitor to one client. It owns a production
// goroutine (capture, detect, encode, frame, enqueue) and a writer
// goroutine that is the only caller of the transport.
type Session struct {
	ID        string
	Monitor   int
	Format    Format
	Audio     bool
	Encrypted bool

	source   sdriver.FrameSource
	injector sdriver.InputInjector
	caps     sdriver.DriverCaps
	cfg      config.SessionConfig
	interval time.Duration
	skip     int

	tiersCfg config.TierConfig
	budget   *BudgetController
	detector ChangeDetector
	encoder  *PayloadEncoder
	log      logging.LeveledLogger

	transport Transport
	sink      atomic.Pointer[sinkBox]
	track     atomic.Pointer[SampleWriter]

	outbound chan outFrame
	control  chan []byte
	forceKey atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Session)

	startedAt time.Time
	produced  atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
	keyframes atomic.Uint64
	fallbacks atomic.Uint64
	errors    atomic.Uint64
	lastEnc   atomic.Int64
	width     atomic.Int64
	height    atomic.Int64
}

// SessionOption adjusts a session before it starts.
type SessionOption func(*Session)

// WithEncrypted marks the session as running over TLS.
func WithEncrypted(on bool) SessionOption {
	return func(s *Session) { s.Encrypted = on }
}

// WithInitialTier overrides the configured starting tier.
func WithInitialTier(t Tier) SessionOption {
	return func(s *Session) { s.budget = NewBudgetController(s.tiersCfg, t) }
}

type sessionDeps struct {
	driver  sdriver.SDriver
	cfg     *config.Config
	block   codec.BlockEncoder
	log     logging.LeveledLogger
	onClose func(*Session)
}

func newSession(parent context.Context, deps sessionDeps, client Transport, monitor int, format Format, audio bool, opts ...SessionOption) (*Session, error) {
	enc, err := NewPayloadEncoder(deps.cfg.Tiers, format, deps.block)
	if err != nil {
		return nil, err
	}
	initial, err := ParseTier(deps.cfg.Tiers.InitialTier())
	if err != nil {
		return nil, err
	}
	if format == FORMAT_RLE && initial > TIER_STANDARD {
		initial = TIER_STANDARD
	}
	caps := deps.driver.Capabilities()
	s := &Session{
		ID:        uuid.NewString(),
		Monitor:   monitor,
		Format:    format,
		Audio:     audio && caps.CanAudio,
		source:    deps.driver,
		injector:  deps.driver,
		caps:      caps,
		cfg:       deps.cfg.Session,
		interval:  deps.cfg.Capture.Interval,
		skip:      max(deps.cfg.Tiers.EmergencyFrameSkip, 1),
		tiersCfg:  deps.cfg.Tiers,
		budget:    NewBudgetController(deps.cfg.Tiers, initial),
		encoder:   enc,
		log:       deps.log,
		transport: client,
		outbound:  make(chan outFrame, deps.cfg.Session.OutboundQueueDepth),
		control:   make(chan []byte, deps.cfg.Session.ControlQueueDepth),
		done:      make(chan struct{}),
		onClose:   deps.onClose,
		startedAt: time.Now(),
		detector: ChangeDetector{
			MaxConsecutiveDeltas: deps.cfg.Session.MaxConsecutiveDeltas,
			KeyframeRatio:        deps.cfg.Session.KeyframeRatio,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if format == FORMAT_RLE {
		s.budget.SetCap(TIER_STANDARD)
	}
	s.sink.Store(&sinkBox{sink: client, name: "websocket", fallback: true})
	s.ctx, s.cancel = context.WithCancel(parent)
	return s, nil
}

func (s *Session) start() {
	s.wg.Add(2)
	go s.produce()
	go s.write()
	go func() {
		s.wg.Wait()
		if s.onClose != nil {
			s.onClose(s)
		}
		close(s.done)
	}()
}

// Done is closed once both session goroutines have exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Tier() Tier {
	return s.budget.Tier()
}

// RequestKeyframe makes the next produced frame a keyframe.
func (s *Session) RequestKeyframe() {
	s.forceKey.Store(true)
}

// ApplyQuality handles a client quality_update. The quality percentage
// caps the tier; a non-adaptive request also pins it there.
func (s *Session) ApplyQuality(m control.Message) {
	s.budget.ReportDropRate(m.DropRate)
	c := min(CapForQuality(m.Quality), s.formatCap())
	if m.Adaptive {
		s.budget.SetRange(TIER_EMERGENCY, c)
		return
	}
	s.budget.SetRange(c, c)
}

func (s *Session) formatCap() Tier {
	if s.Format == FORMAT_RLE {
		return TIER_STANDARD
	}
	return TIER_ULTRA
}

// SendControl queues a control message for the writer. It never blocks; a
// full control queue drops the message.
func (s *Session) SendControl(b []byte) bool {
	select {
	case s.control <- b:
		return true
	default:
		s.log.Warnf("session %s: control queue full, dropping message", s.ID)
		return false
	}
}

// SetFrameSink routes frames to sink instead of the client transport.
func (s *Session) SetFrameSink(sink FrameSink, name string) {
	box := &sinkBox{sink: sink, name: name}
	if sink == nil {
		box = &sinkBox{sink: s.transport, name: "websocket", fallback: true}
	}
	s.sink.Store(box)
	s.forceKey.Store(true)
	s.log.Infof("session %s: frames now go over %s", s.ID, box.name)
}

// SetVideoTrack mirrors container payloads to w. nil detaches.
func (s *Session) SetVideoTrack(w SampleWriter) {
	if w == nil {
		s.track.Store(nil)
		return
	}
	s.track.Store(&w)
	s.forceKey.Store(true)
}

func (s *Session) StreamInfo() control.Message {
	return control.Message{
		Type:      control.MSG_TYPE_STREAM_INFO,
		Width:     int(s.width.Load()),
		Height:    int(s.height.Load()),
		Codec:     string(s.Format),
		Audio:     s.Audio,
		Encrypted: s.Encrypted,
		Tier:      s.budget.Tier().String(),
	}
}

func (s *Session) Stats() Stats {
	return Stats{
		ID:         s.ID,
		Monitor:    s.Monitor,
		Format:     s.Format,
		Tier:       s.budget.Tier().String(),
		Width:      int(s.width.Load()),
		Height:     int(s.height.Load()),
		Produced:   s.produced.Load(),
		Sent:       s.sent.Load(),
		Dropped:    s.dropped.Load(),
		Keyframes:  s.keyframes.Load(),
		Fallbacks:  s.fallbacks.Load(),
		Errors:     s.errors.Load(),
		LastEncode: time.Duration(s.lastEnc.Load()),
		StartedAt:  s.startedAt,
		Transport:  s.sink.Load().name,
	}
}

// Close stops the session and waits up to the configured grace period for
// its goroutines.
func (s *Session) Close() error {
	s.closeOnce.Do(s.cancel)
	select {
	case <-s.done:
		return nil
	case <-time.After(s.cfg.ShutdownGrace):
		return fmt.Errorf("session %s: %w", s.ID, ErrShutdownTimeout)
	}
}

// enqueue hands a frame to the writer, dropping the oldest queued frame
// when the queue is full. Only the production goroutine calls it.
func (s *Session) enqueue(f outFrame) {
	for {
		select {
		case s.outbound <- f:
			return
		default:
		}
		select {
		case <-s.outbound:
			s.dropped.Add(1)
			s.forceKey.Store(true)
		default:
		}
	}
}

func (s *Session) write() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.control:
			if err := s.transport.WriteControl(msg); err != nil {
				s.fail(err)
				return
			}
		case f := <-s.outbound:
			if err := s.writeFrame(f); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *Session) writeFrame(f outFrame) error {
	if f.sample != nil {
		if tp := s.track.Load(); tp != nil {
			if err := (*tp).WriteSample(media.Sample{Data: f.sample, Duration: s.interval}); err != nil {
				s.log.Debugf("session %s: video track write: %v", s.ID, err)
			}
		}
	}
	box := s.sink.Load()
	err := box.sink.WriteFrame(f.data)
	if err != nil && !box.fallback {
		s.log.Warnf("session %s: %s write failed, back to websocket: %v", s.ID, box.name, err)
		s.sink.Store(&sinkBox{sink: s.transport, name: "websocket", fallback: true})
		s.forceKey.Store(true)
		err = s.transport.WriteFrame(f.data)
	}
	if err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

func (s *Session) fail(err error) {
	s.log.Infof("session %s: %v: %v", s.ID, ErrTransportClosed, err)
	s.closeOnce.Do(s.cancel)
}
