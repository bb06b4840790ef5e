package types

import (
	"image"
	"time"
)

// Frame is a single luma frame handed from the capture source to the sensing loop.
// Frames are never modified after capture.
type Frame struct {
	Data      []byte      // Luma samples, row-major, stride == Width
	Width     int         // Frame width
	Height    int         // Frame height
	Timestamp time.Time   // Frame capture timestamp
	FrameNum  uint64      // Sequential frame number
	Preview   image.Image // Optional colour image for annotation (nil for luma-only sources)
}

// NewFrame allocates a zeroed frame of the given size.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Data:   make([]byte, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the luma sample at (x, y).
func (f *Frame) At(x, y int) byte {
	return f.Data[y*f.Width+x]
}

// Gray wraps the luma plane as an image without copying.
func (f *Frame) Gray() *image.Gray {
	return &image.Gray{
		Pix:    f.Data,
		Stride: f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// FrameFromImage converts any image to a luma frame.
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	frame := NewFrame(b.Dx(), b.Dy())
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < frame.Height; y++ {
			row := g.Pix[(y+b.Min.Y-g.Rect.Min.Y)*g.Stride+(b.Min.X-g.Rect.Min.X):]
			copy(frame.Data[y*frame.Width:(y+1)*frame.Width], row[:frame.Width])
		}
		return frame
	}
	if yc, ok := img.(*image.YCbCr); ok {
		for y := 0; y < frame.Height; y++ {
			off := yc.YOffset(b.Min.X, b.Min.Y+y)
			copy(frame.Data[y*frame.Width:(y+1)*frame.Width], yc.Y[off:off+frame.Width])
		}
		frame.Preview = img
		return frame
	}
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// ITU-R BT.601 luma on 16-bit channels
			lum := (19595*r + 38470*g + 7471*bl + 1<<15) >> 24
			frame.Data[y*frame.Width+x] = uint8(lum)
		}
	}
	frame.Preview = img
	return frame
}

// Mask is a single-channel foreground mask with the same dimensions as its frame.
// Foreground pixels are 255, background pixels 0.
type Mask struct {
	Data   []byte
	Width  int
	Height int
}

// NewMask allocates an empty mask.
func NewMask(width, height int) *Mask {
	return &Mask{
		Data:   make([]byte, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the mask value at (x, y).
func (m *Mask) At(x, y int) byte {
	return m.Data[y*m.Width+x]
}

// Count returns the number of non-zero pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v != 0 {
			n++
		}
	}
	return n
}
