// Package vision turns luma frames into a single motion point.
//
// Pipeline:
//
//	frame -> BackgroundModel.Apply -> Threshold -> CentroidExtractor.Extract -> point
//
// The default background model is a pure-Go per-pixel adaptive Gaussian. Builds
// with the withcv tag can select OpenCV's MOG2 instead.
package vision

import (
	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// ErrDimensionMismatch is returned when a frame does not match the size the
// model was seeded with. It indicates a wiring bug and is not recoverable.
var ErrDimensionMismatch = errors.New("frame dimensions do not match background model")

// ErrBackendUnavailable is returned for backends not compiled into this build.
var ErrBackendUnavailable = errors.New("background model backend not available in this build")

// BackgroundModel separates a frame into foreground and background.
// Apply updates the model on every call.
type BackgroundModel interface {
	Apply(frame *types.Frame) (*types.Mask, error)
	Close() error
}

// Variance bounds and seed value for GaussianModel.
const (
	minVariance  = 4.0
	maxVariance  = 5.0 * 15 * 15
	seedVariance = 15.0 * 15

	// foregroundRate scales the learning rate for pixels classified as foreground.
	foregroundRate = 0.1
)

// GaussianModel keeps one running Gaussian (mean, variance) per pixel.
//
// The learning rate is 1/min(n, History) so the first frames converge quickly
// and later frames are averaged over History frames. A pixel is foreground
// when its squared distance from the mean exceeds VarThreshold times the
// variance. Foreground pixels pull the mean at a tenth of the rate, so objects
// that stop are slowly absorbed into the background while moving objects leave
// no trail. They never inflate the variance.
//
// Not safe for concurrent use.
type GaussianModel struct {
	History      int
	VarThreshold float64

	mean     []float32
	variance []float32
	width    int
	height   int
	n        int
}

// NewGaussianModel creates an unseeded model.
func NewGaussianModel(history int, varThreshold float64) *GaussianModel {
	return &GaussianModel{
		History:      history,
		VarThreshold: varThreshold,
	}
}

// NewBackgroundModel creates the model named by backend ("gaussian" or "mog2").
func NewBackgroundModel(backend string, history int, varThreshold float64) (BackgroundModel, error) {
	switch backend {
	case "", "gaussian":
		return NewGaussianModel(history, varThreshold), nil
	case "mog2":
		return newMOG2(history, varThreshold)
	default:
		return nil, errors.Errorf("unknown background model %q", backend)
	}
}

// Apply classifies every pixel of frame and updates the model.
// The first frame seeds the model and yields an empty mask.
func (g *GaussianModel) Apply(frame *types.Frame) (*types.Mask, error) {
	if len(frame.Data) != frame.Width*frame.Height {
		return nil, errors.Wrapf(ErrDimensionMismatch, "frame %dx%d carries %d samples",
			frame.Width, frame.Height, len(frame.Data))
	}

	if g.mean == nil {
		g.seed(frame)
		return types.NewMask(frame.Width, frame.Height), nil
	}

	if frame.Width != g.width || frame.Height != g.height {
		return nil, errors.Wrapf(ErrDimensionMismatch, "got %dx%d, model is %dx%d",
			frame.Width, frame.Height, g.width, g.height)
	}

	g.n++
	window := g.n
	if g.History > 0 && window > g.History {
		window = g.History
	}
	alpha := float32(1) / float32(window)
	k := float32(g.VarThreshold)

	mask := types.NewMask(g.width, g.height)
	for i, v := range frame.Data {
		d := float32(v) - g.mean[i]
		d2 := d * d
		variance := g.variance[i]

		if d2 > k*variance {
			mask.Data[i] = 255
			g.mean[i] += alpha * foregroundRate * d
			continue
		}

		g.mean[i] += alpha * d
		variance += alpha * (d2 - variance)
		if variance < minVariance {
			variance = minVariance
		} else if variance > maxVariance {
			variance = maxVariance
		}
		g.variance[i] = variance
	}
	return mask, nil
}

func (g *GaussianModel) seed(frame *types.Frame) {
	g.width = frame.Width
	g.height = frame.Height
	g.mean = make([]float32, len(frame.Data))
	g.variance = make([]float32, len(frame.Data))
	for i, v := range frame.Data {
		g.mean[i] = float32(v)
		g.variance[i] = seedVariance
	}
	g.n = 1
}

// Frames returns how many frames the model has absorbed.
func (g *GaussianModel) Frames() int {
	return g.n
}

// Close releases nothing; it satisfies BackgroundModel.
func (g *GaussianModel) Close() error {
	return nil
}

// Threshold zeroes every mask value at or below cutoff and raises the rest to 255.
// The mask is modified in place and returned.
func Threshold(m *types.Mask, cutoff uint8) *types.Mask {
	for i, v := range m.Data {
		if v > cutoff {
			m.Data[i] = 255
		} else {
			m.Data[i] = 0
		}
	}
	return m
}
