package viewer

import (
	"sync"
	"time"

	"webkvm/config"
	"webkvm/control"
)

type QualityLevel int

const (
	QUALITY_LOW QualityLevel = iota
	QUALITY_MEDIUM
	QUALITY_HIGH
)

func (l QualityLevel) String() string {
	switch l {
	case QUALITY_HIGH:
		return "high"
	case QUALITY_MEDIUM:
		return "medium"
	}
	return "low"
}

// Percent is the quality sent upstream for the level.
func (l QualityLevel) Percent() int {
	switch l {
	case QUALITY_HIGH:
		return 100
	case QUALITY_MEDIUM:
		return 60
	}
	return 30
}

// Measurement is what one evaluation interval observed.
type Measurement struct {
	AvgProcessing time.Duration
	DropRate      float64
	FPS           float64
	Frames        uint64
}

// QualityController turns render statistics into a quality level. It
// changes the level by at most one step per interval. It is safe for
// concurrent use.
type QualityController struct {
	mu       sync.Mutex
	cfg      config.ViewerConfig
	adaptive bool
	level    QualityLevel
	last     time.Time
	prev     SchedulerStats
}

func NewQualityController(cfg config.ViewerConfig, adaptive bool) *QualityController {
	if cfg.QualityInterval < config.MinQualityInterval {
		cfg.QualityInterval = config.MinQualityInterval
	}
	return &QualityController{cfg: cfg, adaptive: adaptive, level: QUALITY_HIGH}
}

func (q *QualityController) Level() QualityLevel {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.level
}

// Depth is the render queue depth for the current level.
func (q *QualityController) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch q.level {
	case QUALITY_HIGH:
		return q.cfg.QueueDepthHigh
	case QUALITY_MEDIUM:
		return q.cfg.QueueDepthMedium
	}
	return q.cfg.QueueDepthLow
}

// targetFPS is lower at the low level because the sender skips frames in
// its emergency tier.
func (q *QualityController) targetFPS() float64 {
	if q.level == QUALITY_LOW {
		return q.cfg.TargetFPS / 2
	}
	return q.cfg.TargetFPS
}

// Message is the quality_update announcing the current level.
func (q *QualityController) Message(dropRate float64) control.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return control.Message{
		Type:     control.MSG_TYPE_QUALITY_UPDATE,
		Quality:  q.level.Percent(),
		Adaptive: q.adaptive,
		DropRate: dropRate,
	}
}

// Evaluate compares stats with the previous evaluation. It does nothing
// until a full interval has passed since the last one. The first call only
// records a baseline.
func (q *QualityController) Evaluate(st SchedulerStats, now time.Time) (Measurement, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.last.IsZero() {
		q.last, q.prev = now, st
		return Measurement{}, false
	}
	elapsed := now.Sub(q.last)
	if elapsed < q.cfg.QualityInterval {
		return Measurement{}, false
	}
	m := measure(q.prev, st, elapsed)
	q.last, q.prev = now, st
	if m.Frames == 0 {
		return m, false
	}

	target := q.targetFPS()
	poor := m.AvgProcessing > q.cfg.PoorProcessing || m.DropRate > q.cfg.DropRateDowngrade || m.FPS < 0.75*target
	good := m.AvgProcessing < q.cfg.GoodProcessing && m.DropRate < q.cfg.DropRateUpgrade && m.FPS >= 0.95*target
	switch {
	case poor && q.level > QUALITY_LOW:
		q.level--
		return m, true
	case good && !poor && q.level < QUALITY_HIGH:
		q.level++
		return m, true
	}
	return m, false
}

func measure(prev, cur SchedulerStats, elapsed time.Duration) Measurement {
	rendered := cur.Rendered - prev.Rendered
	dropped := (cur.Dropped - prev.Dropped) + (cur.Stale - prev.Stale)
	m := Measurement{Frames: rendered + dropped}
	if rendered > 0 {
		m.AvgProcessing = (cur.Processing - prev.Processing) / time.Duration(rendered)
	}
	if m.Frames > 0 {
		m.DropRate = float64(dropped) / float64(m.Frames)
	}
	if elapsed > 0 {
		m.FPS = float64(rendered) / elapsed.Seconds()
	}
	return m
}
