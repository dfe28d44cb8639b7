package viewer

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"

	"webkvm/wire"
)

// Painter displays decoded images. It is called from the paint loop only.
type Painter interface {
	Paint(img Image) error
}

// SchedulerStats are cumulative counters since the scheduler started.
type SchedulerStats struct {
	Received     uint64
	Rendered     uint64
	Dropped      uint64 // queue full on arrival
	Stale        uint64 // sequence at or below the highest accepted
	DecodeErrors uint64
	PaintErrors  uint64
	Processing   time.Duration // decode plus Paint time of rendered frames, not the wait for a paint tick
	QueueLen     int
	Depth        int
}

// AvgProcessing is the mean decode+render time per rendered frame.
func (s SchedulerStats) AvgProcessing() time.Duration {
	if s.Rendered == 0 {
		return 0
	}
	return s.Processing / time.Duration(s.Rendered)
}

type paintRequest struct {
	img    Image
	decode time.Duration
	done   chan struct{}
}

// RenderScheduler queues incoming frames, decodes them one at a time in
// arrival order, and hands each decoded image to a paint loop that runs
// on its own tick. Arrivals are dropped when stale or when the queue is
// full; queued frames are never replaced.
type RenderScheduler struct {
	mu       sync.Mutex
	queue    []*wire.Frame
	depth    int
	highest  uint64
	accepted bool
	stats    SchedulerStats

	wake    chan struct{}
	paintCh chan paintRequest

	decoder       *Decoder
	painter       Painter
	paintInterval time.Duration
	onDecodeError func(error)
	log           logging.LeveledLogger
}

func NewRenderScheduler(depth int, paintInterval time.Duration, decoder *Decoder, painter Painter, log logging.LeveledLogger) *RenderScheduler {
	return &RenderScheduler{
		depth:         max(depth, 1),
		wake:          make(chan struct{}, 1),
		paintCh:       make(chan paintRequest),
		decoder:       decoder,
		painter:       painter,
		paintInterval: paintInterval,
		log:           log,
	}
}

// OnDecodeError registers a callback run on the decode goroutine for each
// failed decode. Set it before Run.
func (r *RenderScheduler) OnDecodeError(f func(error)) {
	r.onDecodeError = f
}

// Submit offers one frame. It never blocks and reports whether the frame
// was queued.
func (r *RenderScheduler) Submit(f *wire.Frame) bool {
	r.mu.Lock()
	r.stats.Received++
	if r.accepted && f.Seq <= r.highest {
		r.stats.Stale++
		r.mu.Unlock()
		return false
	}
	if len(r.queue) >= r.depth {
		r.stats.Dropped++
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, f)
	r.highest, r.accepted = f.Seq, true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// SetDepth changes the queue bound. Frames beyond a smaller bound are
// dropped from the tail.
func (r *RenderScheduler) SetDepth(depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth = max(depth, 1)
	if extra := len(r.queue) - r.depth; extra > 0 {
		r.queue = r.queue[:r.depth]
		r.stats.Dropped += uint64(extra)
	}
}

func (r *RenderScheduler) Stats() SchedulerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stats
	st.QueueLen = len(r.queue)
	st.Depth = r.depth
	return st
}

func (r *RenderScheduler) next() *wire.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil
	}
	f := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return f
}

// Run starts the decode and paint loops and blocks until ctx ends.
func (r *RenderScheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.decodeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.paintLoop(ctx)
	}()
	wg.Wait()
}

// decodeLoop is the single decode worker. It owns the client state and
// does not start the next decode until the previous image was painted.
func (r *RenderScheduler) decodeLoop(ctx context.Context) {
	st := &clientState{}
	for {
		f := r.next()
		if f == nil {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
			}
			continue
		}

		start := time.Now()
		img, err := r.decoder.Decode(st, f)
		if err != nil {
			r.mu.Lock()
			r.stats.DecodeErrors++
			r.mu.Unlock()
			r.log.Debugf("decode: %v", err)
			if r.onDecodeError != nil {
				r.onDecodeError(err)
			}
			continue
		}

		req := paintRequest{img: img, decode: time.Since(start), done: make(chan struct{})}
		select {
		case <-ctx.Done():
			return
		case r.paintCh <- req:
		}
		select {
		case <-ctx.Done():
			return
		case <-req.done:
		}
	}
}

func (r *RenderScheduler) paintLoop(ctx context.Context) {
	ticker := time.NewTicker(r.paintInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		select {
		case req := <-r.paintCh:
			paintStart := time.Now()
			err := r.painter.Paint(req.img)
			took := req.decode + time.Since(paintStart)
			r.mu.Lock()
			if err != nil {
				r.stats.PaintErrors++
			} else {
				r.stats.Rendered++
				r.stats.Processing += took
			}
			r.mu.Unlock()
			if err != nil {
				r.log.Warnf("paint frame %d: %v", req.img.Seq, err)
			}
			close(req.done)
		default:
		}
	}
}
