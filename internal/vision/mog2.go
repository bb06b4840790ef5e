//go:build withcv
// +build withcv

package vision

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// MOG2Model wraps OpenCV's Gaussian-mixture background subtractor.
// Shadow detection is disabled so the mask only holds 0 and 255.
type MOG2Model struct {
	mog    gocv.BackgroundSubtractorMOG2
	fg     gocv.Mat
	width  int
	height int
}

// NewMOG2Model creates a MOG2 subtractor. Call Close to release native memory.
func NewMOG2Model(history int, varThreshold float64) *MOG2Model {
	return &MOG2Model{
		mog: gocv.NewBackgroundSubtractorMOG2WithParams(history, varThreshold, false),
		fg:  gocv.NewMat(),
	}
}

func newMOG2(history int, varThreshold float64) (BackgroundModel, error) {
	return NewMOG2Model(history, varThreshold), nil
}

// Apply feeds frame to the subtractor and copies out the foreground mask.
func (m *MOG2Model) Apply(frame *types.Frame) (*types.Mask, error) {
	if m.width == 0 {
		m.width, m.height = frame.Width, frame.Height
	}
	if frame.Width != m.width || frame.Height != m.height || len(frame.Data) != frame.Width*frame.Height {
		return nil, errors.Wrapf(ErrDimensionMismatch, "got %dx%d, model is %dx%d",
			frame.Width, frame.Height, m.width, m.height)
	}

	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8U, frame.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to wrap frame")
	}
	defer src.Close()

	m.mog.Apply(src, &m.fg)

	mask := types.NewMask(frame.Width, frame.Height)
	copy(mask.Data, m.fg.ToBytes())
	return mask, nil
}

// Close releases the native subtractor and buffers.
func (m *MOG2Model) Close() error {
	if err := m.fg.Close(); err != nil {
		return err
	}
	return m.mog.Close()
}
