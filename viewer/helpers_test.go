package viewer

import (
	"io"
	"sync"
	"time"

	"github.com/pion/logging"

	"webkvm/config"
	"webkvm/wire"
)

func testLogger() logging.LeveledLogger {
	return config.Default().LoggerFactory(io.Discard).NewLogger("test")
}

func solid(w, h int, c byte) []byte {
	pix := make([]byte, w*h*4)
	for i := range pix {
		pix[i] = c
	}
	return pix
}

func directFrame(seq uint64, w, h int, c byte) *wire.Frame {
	return &wire.Frame{
		Kind:     wire.KindDirectCopy,
		Keyframe: true,
		Width:    uint32(w),
		Height:   uint32(h),
		Seq:      seq,
		Payload:  solid(w, h, c),
	}
}

type recordingPainter struct {
	mu     sync.Mutex
	seqs   []uint64
	images []Image
	delay  time.Duration
	err    error
}

func (p *recordingPainter) Paint(img Image) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.seqs = append(p.seqs, img.Seq)
	p.images = append(p.images, img)
	return nil
}

func (p *recordingPainter) Seqs() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.seqs...)
}
