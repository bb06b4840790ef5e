// Package capture supplies luma frames to the sensing loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/config"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/timeutil"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// ErrNoFrame is returned when a source had nothing new within its wait period.
var ErrNoFrame = errors.New("no new frame")

// ErrUnavailable is returned for sources not compiled into this build.
var ErrUnavailable = errors.New("capture source not available in this build")

// Source produces frames of a fixed size. Read blocks until the next frame
// is ready or ctx is cancelled. Implementations are used from one goroutine.
type Source interface {
	Read(ctx context.Context) (*types.Frame, error)
	Close() error
}

// Open creates the source selected by cfg.Camera.Source. Any error here is a
// startup failure.
func Open(cfg *config.Config, clock timeutil.Clock) (Source, error) {
	cam := cfg.Camera
	switch cam.Source {
	case config.SourceSynthetic:
		s := NewSynthetic(cam.Width, cam.Height, cam.FPS, clock)
		s.Size = objectSide(cfg.Vision.MinArea)
		s.Route(cfg.Zones.Entry, cfg.Zones.Confirm)
		return s, nil
	case config.SourceDir:
		return NewDirSource(cam.Dir, cam.Width, cam.Height)
	case config.SourceShm:
		return NewShmSource(cam.ShmName, cam.Width, cam.Height, cam.FPS)
	case config.SourceCamera:
		return OpenCamera(cam.Device, cam.Width, cam.Height, cam.FPS)
	default:
		return nil, fmt.Errorf("unknown capture source %q", cam.Source)
	}
}

// objectSide sizes the synthetic object so it clears minArea with margin.
func objectSide(minArea int) int {
	side := int(math.Ceil(math.Sqrt(float64(minArea) * 1.5)))
	if side < 16 {
		side = 16
	}
	return side
}
