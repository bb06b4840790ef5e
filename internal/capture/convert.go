package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// FromNV12 converts an NV12 buffer. The luma plane becomes the frame and the
// interleaved chroma plane is split into a 4:2:0 preview image.
func FromNV12(data []byte, width, height int) (*types.Frame, error) {
	lumaSize := width * height
	if width <= 0 || height <= 0 || len(data) < lumaSize {
		return nil, fmt.Errorf("nv12 buffer of %d bytes too small for %dx%d", len(data), width, height)
	}

	frame := types.NewFrame(width, height)
	copy(frame.Data, data[:lumaSize])

	cw, ch := (width+1)/2, (height+1)/2
	if len(data) < lumaSize+2*cw*ch {
		return frame, nil
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	copy(img.Y, frame.Data)
	uv := data[lumaSize:]
	for i := 0; i < cw*ch; i++ {
		img.Cb[i] = uv[2*i]
		img.Cr[i] = uv[2*i+1]
	}
	frame.Preview = img
	return frame, nil
}

// FromGray wraps a packed 8-bit luma buffer.
func FromGray(data []byte, width, height int) (*types.Frame, error) {
	if width <= 0 || height <= 0 || len(data) < width*height {
		return nil, fmt.Errorf("gray buffer of %d bytes too small for %dx%d", len(data), width, height)
	}
	frame := types.NewFrame(width, height)
	copy(frame.Data, data[:width*height])
	return frame, nil
}

// Decode decodes a JPEG or PNG image into a frame.
func Decode(data []byte) (*types.Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return types.FrameFromImage(img), nil
}

// Fit scales frame to width x height. Frames already at that size are
// returned unchanged.
func Fit(frame *types.Frame, width, height int) *types.Frame {
	if frame.Width == width && frame.Height == height {
		return frame
	}
	dstRect := image.Rect(0, 0, width, height)

	if frame.Preview != nil {
		dst := image.NewRGBA(dstRect)
		draw.ApproxBiLinear.Scale(dst, dstRect, frame.Preview, frame.Preview.Bounds(), draw.Src, nil)
		out := types.FrameFromImage(dst)
		out.Timestamp = frame.Timestamp
		out.FrameNum = frame.FrameNum
		return out
	}

	dst := image.NewGray(dstRect)
	src := frame.Gray()
	draw.ApproxBiLinear.Scale(dst, dstRect, src, src.Bounds(), draw.Src, nil)
	out := types.FrameFromImage(dst)
	out.Timestamp = frame.Timestamp
	out.FrameNum = frame.FrameNum
	return out
}
