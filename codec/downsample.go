package codec

import "fmt"

// Downsample averages factor x factor blocks of an RGBA buffer. Pixels on
// the right and bottom edges that do not fill a whole block are dropped.
// A factor of 1 returns a copy.
func Downsample(pix []byte, width, height, factor int) ([]byte, int, int, error) {
	if width <= 0 || height <= 0 || len(pix) != width*height*bytesPerPixel {
		return nil, 0, 0, fmt.Errorf("downsample %dx%d: %w", width, height, ErrSizeMismatch)
	}
	if factor <= 1 {
		return append([]byte(nil), pix...), width, height, nil
	}
	w, h := max(width/factor, 1), max(height/factor, 1)
	out := make([]byte, w*h*bytesPerPixel)
	for by := 0; by < h; by++ {
		for bx := 0; bx < w; bx++ {
			var sum [4]int
			n := 0
			for dy := 0; dy < factor; dy++ {
				y := by*factor + dy
				if y >= height {
					break
				}
				for dx := 0; dx < factor; dx++ {
					x := bx*factor + dx
					if x >= width {
						break
					}
					i := (y*width + x) * bytesPerPixel
					sum[0] += int(pix[i])
					sum[1] += int(pix[i+1])
					sum[2] += int(pix[i+2])
					sum[3] += int(pix[i+3])
					n++
				}
			}
			o := (by*w + bx) * bytesPerPixel
			for c := 0; c < bytesPerPixel; c++ {
				out[o+c] = byte(sum[c] / n)
			}
		}
	}
	return out, w, h, nil
}
