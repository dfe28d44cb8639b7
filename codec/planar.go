package codec

import "fmt"

// Planar is an I420 image: full resolution luma and two chroma planes
// subsampled 2x2.
type Planar struct {
	Y, U, V []byte
	Width   int
	Height  int
}

// ChromaSize returns the dimensions of one chroma plane.
func ChromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// PlanarSize is the packed byte size of an I420 image.
func PlanarSize(width, height int) int {
	cw, ch := ChromaSize(width, height)
	return width*height + 2*cw*ch
}

// Pack concatenates Y, U and V.
func (p Planar) Pack() []byte {
	out := make([]byte, 0, len(p.Y)+len(p.U)+len(p.V))
	out = append(out, p.Y...)
	out = append(out, p.U...)
	return append(out, p.V...)
}

// UnpackPlanar splits a packed I420 buffer without copying.
func UnpackPlanar(buf []byte, width, height int) (Planar, error) {
	if len(buf) != PlanarSize(width, height) {
		return Planar{}, fmt.Errorf("i420 %dx%d needs %d bytes, got %d: %w",
			width, height, PlanarSize(width, height), len(buf), ErrSizeMismatch)
	}
	cw, ch := ChromaSize(width, height)
	ySize, cSize := width*height, cw*ch
	return Planar{
		Y:      buf[:ySize],
		U:      buf[ySize : ySize+cSize],
		V:      buf[ySize+cSize:],
		Width:  width,
		Height: height,
	}, nil
}

// RGBAToPlanar converts with BT.601 studio-swing integer coefficients,
// averaging each 2x2 block for chroma.
func RGBAToPlanar(pix []byte, width, height int) (Planar, error) {
	if len(pix) != width*height*bytesPerPixel {
		return Planar{}, fmt.Errorf("rgba %dx%d: %w", width, height, ErrSizeMismatch)
	}
	cw, ch := ChromaSize(width, height)
	p := Planar{
		Y:      make([]byte, width*height),
		U:      make([]byte, cw*ch),
		V:      make([]byte, cw*ch),
		Width:  width,
		Height: height,
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * bytesPerPixel
			r, g, b := int(pix[i]), int(pix[i+1]), int(pix[i+2])
			p.Y[y*width+x] = clamp(((66*r+129*g+25*b+128)>>8)+16)
		}
	}
	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			var sr, sg, sb, n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					x, y := cx*2+dx, cy*2+dy
					if x >= width || y >= height {
						continue
					}
					i := (y*width + x) * bytesPerPixel
					sr += int(pix[i])
					sg += int(pix[i+1])
					sb += int(pix[i+2])
					n++
				}
			}
			r, g, b := sr/n, sg/n, sb/n
			p.U[cy*cw+cx] = clamp(((-38*r-74*g+112*b+128)>>8)+128)
			p.V[cy*cw+cx] = clamp(((112*r-94*g-18*b+128)>>8)+128)
		}
	}
	return p, nil
}

// PlanarToRGBA converts I420 to packed RGBA (alpha 0xff). Each chroma
// sample is reused for its 2x2 luma block.
func PlanarToRGBA(p Planar) ([]byte, error) {
	cw, ch := ChromaSize(p.Width, p.Height)
	if len(p.Y) != p.Width*p.Height || len(p.U) != cw*ch || len(p.V) != cw*ch {
		return nil, fmt.Errorf("i420 planes for %dx%d: %w", p.Width, p.Height, ErrSizeMismatch)
	}
	out := make([]byte, p.Width*p.Height*bytesPerPixel)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			ci := (y/2)*cw + x/2
			c := int(p.Y[y*p.Width+x]) - 16
			d := int(p.U[ci]) - 128
			e := int(p.V[ci]) - 128
			i := (y*p.Width + x) * bytesPerPixel
			out[i] = clamp((298*c + 409*e + 128) >> 8)
			out[i+1] = clamp((298*c - 100*d - 208*e + 128) >> 8)
			out[i+2] = clamp((298*c + 516*d + 128) >> 8)
			out[i+3] = 0xff
		}
	}
	return out, nil
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
