//go:build withcv
// +build withcv

package capture

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// Camera reads a V4L2/USB camera through OpenCV.
type Camera struct {
	webcam   *gocv.VideoCapture
	img      gocv.Mat
	gray     gocv.Mat
	width    int
	height   int
	frameNum uint64
}

// OpenCamera opens device and requests the given size and rate.
func OpenCamera(device, width, height, fps int) (Source, error) {
	webcam, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", device, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, fmt.Errorf("camera %d did not open", device)
	}

	webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	webcam.Set(gocv.VideoCaptureFPS, float64(fps))

	logger.Info("Capture", "Camera %d opened at %.0fx%.0f", device,
		webcam.Get(gocv.VideoCaptureFrameWidth), webcam.Get(gocv.VideoCaptureFrameHeight))

	return &Camera{
		webcam: webcam,
		img:    gocv.NewMat(),
		gray:   gocv.NewMat(),
		width:  width,
		height: height,
	}, nil
}

// Read grabs the next frame. The driver paces the loop.
func (c *Camera) Read(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok := c.webcam.Read(&c.img); !ok || c.img.Empty() {
		return nil, fmt.Errorf("camera read failed")
	}
	now := time.Now()

	preview, err := c.img.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	gocv.CvtColor(c.img, &c.gray, gocv.ColorBGRToGray)

	frame, err := FromGray(c.gray.ToBytes(), c.gray.Cols(), c.gray.Rows())
	if err != nil {
		return nil, err
	}
	frame.Preview = preview
	frame = Fit(frame, c.width, c.height)
	frame.Timestamp = now
	frame.FrameNum = c.frameNum
	c.frameNum++
	return frame, nil
}

// Close releases the device.
func (c *Camera) Close() error {
	c.img.Close()
	c.gray.Close()
	return c.webcam.Close()
}
