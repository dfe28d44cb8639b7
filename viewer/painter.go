package viewer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"sync"

	"github.com/icza/mjpeg"
)

// ToRGBA wraps the image pixels without copying.
func (img Image) ToRGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    img.Pix,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
}

// SnapshotPainter keeps the latest painted image and can write it as PNG.
type SnapshotPainter struct {
	mu    sync.Mutex
	last  Image
	count uint64
}

func (p *SnapshotPainter) Paint(img Image) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = img
	p.count++
	return nil
}

// Last returns the latest image and how many were painted.
func (p *SnapshotPainter) Last() (Image, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.count
}

// WritePNG saves the latest image to path.
func (p *SnapshotPainter) WritePNG(path string) error {
	img, n := p.Last()
	if n == 0 {
		return errors.New("viewer: nothing painted yet")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := png.Encode(w, img.ToRGBA()); err != nil {
		f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RecordPainter appends painted frames to an MJPEG AVI file. The video
// size is fixed by the first frame; later frames of another size are
// scaled to it.
type RecordPainter struct {
	path    string
	fps     int32
	quality int

	aw     mjpeg.AviWriter
	width  int
	height int
	buf    bytes.Buffer
	frames int
}

func NewRecordPainter(path string, fps int, quality int) *RecordPainter {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &RecordPainter{path: path, fps: int32(max(fps, 1)), quality: quality}
}

func (p *RecordPainter) Paint(img Image) error {
	if p.aw == nil {
		aw, err := mjpeg.New(p.path, int32(img.Width), int32(img.Height), p.fps)
		if err != nil {
			return fmt.Errorf("open recording: %w", err)
		}
		p.aw, p.width, p.height = aw, img.Width, img.Height
	}
	src := img
	if img.Width != p.width || img.Height != p.height {
		src = scaleNearest(img, p.width, p.height)
	}
	p.buf.Reset()
	if err := jpeg.Encode(&p.buf, src.ToRGBA(), &jpeg.Options{Quality: p.quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	if err := p.aw.AddFrame(p.buf.Bytes()); err != nil {
		return err
	}
	p.frames++
	return nil
}

func (p *RecordPainter) Frames() int {
	return p.frames
}

// Close finalizes the AVI index. It is a no-op when nothing was recorded.
func (p *RecordPainter) Close() error {
	if p.aw == nil {
		return nil
	}
	err := p.aw.Close()
	p.aw = nil
	return err
}

func scaleNearest(img Image, w, h int) Image {
	out := Image{Pix: make([]byte, w*h*4), Width: w, Height: h, Seq: img.Seq, Keyframe: img.Keyframe}
	for y := 0; y < h; y++ {
		sy := y * img.Height / h
		for x := 0; x < w; x++ {
			sx := x * img.Width / w
			copy(out.Pix[(y*w+x)*4:(y*w+x)*4+4], img.Pix[(sy*img.Width+sx)*4:])
		}
	}
	return out
}

// MultiPainter paints to each painter in order and returns the first error.
type MultiPainter []Painter

func (m MultiPainter) Paint(img Image) error {
	var first error
	for _, p := range m {
		if err := p.Paint(img); err != nil && first == nil {
			first = err
		}
	}
	return first
}
