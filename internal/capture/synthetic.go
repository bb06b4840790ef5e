package capture

import (
	"context"
	"math"
	"time"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/timeutil"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// Synthetic renders a bright square walking a fixed route over a dark static
// background. Each cycle shows an empty scene for IdleFrames, then moves the
// square along Waypoints at Speed pixels per frame, then removes it.
type Synthetic struct {
	Width      int
	Height     int
	Size       int // side of the square
	Speed      float64
	IdleFrames int
	Waypoints  []types.Point
	Background byte
	Object     byte

	interval time.Duration
	clock    timeutil.Clock
	last     time.Time
	frameNum uint64
}

// NewSynthetic creates a synthetic source paced at fps. Without waypoints it
// only produces empty frames.
func NewSynthetic(width, height, fps int, clock timeutil.Clock) *Synthetic {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if fps <= 0 {
		fps = 30
	}
	return &Synthetic{
		Width:      width,
		Height:     height,
		Size:       60,
		Speed:      12,
		IdleFrames: 3 * fps,
		Background: 40,
		Object:     220,
		interval:   time.Second / time.Duration(fps),
		clock:      clock,
	}
}

// Route sets a path that drops into entry from above and then crosses to
// confirm.
func (s *Synthetic) Route(entry, confirm types.Zone) {
	cx := entry.X + entry.W/2
	top := entry.Y - s.Size/2
	if top < s.Size/2 {
		top = s.Size / 2
	}
	s.Waypoints = []types.Point{
		{X: cx, Y: top},
		{X: cx, Y: entry.Y + entry.H/2},
		{X: confirm.X + confirm.W/2, Y: confirm.Y + confirm.H/2},
	}
}

// Read returns the next frame, sleeping to hold the frame rate.
func (s *Synthetic) Read(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.last.IsZero() {
		if d := s.last.Add(s.interval).Sub(s.clock.Now()); d > 0 {
			s.clock.Sleep(d)
		}
	}
	s.last = s.clock.Now()

	frame := s.Render(s.frameNum)
	frame.Timestamp = s.last
	frame.FrameNum = s.frameNum
	s.frameNum++
	return frame, nil
}

// Close does nothing.
func (s *Synthetic) Close() error {
	return nil
}

// Render draws frame n of the cycle.
func (s *Synthetic) Render(n uint64) *types.Frame {
	frame := types.NewFrame(s.Width, s.Height)
	for i := range frame.Data {
		frame.Data[i] = s.Background
	}

	p, ok := s.ObjectAt(n)
	if !ok {
		return frame
	}

	x0, y0 := p.X-s.Size/2, p.Y-s.Size/2
	for y := max(y0, 0); y < min(y0+s.Size, s.Height); y++ {
		row := frame.Data[y*s.Width:]
		for x := max(x0, 0); x < min(x0+s.Size, s.Width); x++ {
			row[x] = s.Object
		}
	}
	return frame
}

// ObjectAt returns the centre of the square in frame n, or false when the
// scene is empty.
func (s *Synthetic) ObjectAt(n uint64) (types.Point, bool) {
	length := s.routeLength()
	if length == 0 || s.Speed <= 0 {
		return types.Point{}, false
	}
	moving := int(math.Ceil(length/s.Speed)) + 1
	cycle := uint64(s.IdleFrames + moving)

	k := int(n%cycle) - s.IdleFrames
	if k < 0 {
		return types.Point{}, false
	}

	dist := math.Min(float64(k)*s.Speed, length)
	for i := 1; i < len(s.Waypoints); i++ {
		a, b := s.Waypoints[i-1], s.Waypoints[i]
		seg := math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
		if dist <= seg || i == len(s.Waypoints)-1 {
			f := 0.0
			if seg > 0 {
				f = math.Min(dist/seg, 1)
			}
			return types.Point{
				X: a.X + int(math.Round(f*float64(b.X-a.X))),
				Y: a.Y + int(math.Round(f*float64(b.Y-a.Y))),
			}, true
		}
		dist -= seg
	}
	return s.Waypoints[0], true
}

func (s *Synthetic) routeLength() float64 {
	total := 0.0
	for i := 1; i < len(s.Waypoints); i++ {
		a, b := s.Waypoints[i-1], s.Waypoints[i]
		total += math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
	}
	return total
}
