package sagent

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/pion/logging"
	"golang.org/x/sync/errgroup"

	"webkvm/codec"
	"webkvm/config"
	"webkvm/sdriver"
)

// Registry is the set of live sessions. Every session context derives from
// the registry's, so ShutdownAll reaches all of them.
type Registry struct {
	sync.RWMutex
	sessions map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	driver sdriver.SDriver
	cfg    *config.Config
	block  codec.BlockEncoder
	logf   logging.LoggerFactory
	log    logging.LeveledLogger
}

type RegistryOption func(*Registry)

// WithBlockEncoder enables container frames (VP8K/VP8D).
func WithBlockEncoder(enc codec.BlockEncoder) RegistryOption {
	return func(r *Registry) { r.block = enc }
}

func WithLoggerFactory(f logging.LoggerFactory) RegistryOption {
	return func(r *Registry) { r.logf = f }
}

func NewRegistry(parent context.Context, driver sdriver.SDriver, cfg *config.Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		driver:   driver,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logf == nil {
		r.logf = cfg.LoggerFactory(nil)
	}
	r.log = r.logf.NewLogger("registry")
	r.ctx, r.cancel = context.WithCancel(parent)
	return r
}

// StartSession validates the monitor, then starts streaming it to client.
func (r *Registry) StartSession(client Transport, monitor int, format Format, audio bool, opts ...SessionOption) (*Session, error) {
	if err := r.checkMonitor(monitor); err != nil {
		return nil, err
	}
	r.Lock()
	defer r.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	s, err := newSession(r.ctx, sessionDeps{
		driver:  r.driver,
		cfg:     r.cfg,
		block:   r.block,
		log:     r.logf.NewLogger("session"),
		onClose: r.remove,
	}, client, monitor, format, audio, opts...)
	if err != nil {
		return nil, err
	}
	r.sessions[s.ID] = s
	s.start()
	r.log.Infof("session %s started: monitor %d, format %s, %d active", s.ID, monitor, format, len(r.sessions))
	return s, nil
}

func (r *Registry) checkMonitor(monitor int) error {
	mons, err := r.driver.Monitors()
	if err != nil {
		return fmt.Errorf("enumerate monitors: %w", err)
	}
	for _, m := range mons {
		if m.ID == monitor {
			return nil
		}
	}
	return fmt.Errorf("monitor %d: %w", monitor, sdriver.ErrNoSuchMonitor)
}

func (r *Registry) remove(s *Session) {
	r.Lock()
	if r.sessions[s.ID] == s {
		delete(r.sessions, s.ID)
	}
	n := len(r.sessions)
	r.Unlock()
	r.log.Infof("session %s ended, %d active", s.ID, n)
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.RLock()
	defer r.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.sessions)
}

// Sessions iterates over a snapshot of the live sessions.
func (r *Registry) Sessions() iter.Seq[*Session] {
	r.RLock()
	snapshot := slices.Collect(maps.Values(r.sessions))
	r.RUnlock()
	return slices.Values(snapshot)
}

func (r *Registry) Stats() []Stats {
	out := []Stats{}
	for s := range r.Sessions() {
		out = append(out, s.Stats())
	}
	slices.SortFunc(out, func(a, b Stats) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// ShutdownAll cancels every session and waits for each to stop within its
// grace period. New sessions are refused afterwards.
func (r *Registry) ShutdownAll() error {
	r.Lock()
	r.closed = true
	r.Unlock()
	r.cancel()

	var g errgroup.Group
	for s := range r.Sessions() {
		g.Go(s.Close)
	}
	err := g.Wait()
	r.log.Infof("all sessions stopped")
	return err
}

// LogStatus prints a line per session every interval until ctx ends.
func (r *Registry) LogStatus(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		stats := r.Stats()
		r.log.Infof("status: %d sessions", len(stats))
		for _, st := range stats {
			r.log.Infof("session %s monitor %d tier %s via %s: produced %d sent %d dropped %d keyframes %d errors %d",
				st.ID, st.Monitor, st.Tier, st.Transport, st.Produced, st.Sent, st.Dropped, st.Keyframes, st.Errors)
		}
	}
}
