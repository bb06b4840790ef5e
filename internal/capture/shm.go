package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/shm"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// ShmSource reads the camera daemon's shared-memory ring.
type ShmSource struct {
	reader  *shm.Reader
	width   int
	height  int
	wait    time.Duration
	lastNum uint64
	started bool
}

// NewShmSource maps the segment. A missing segment means the camera daemon
// is not running, which is fatal at startup.
func NewShmSource(name string, width, height, fps int) (*ShmSource, error) {
	reader, err := shm.NewReader(name)
	if err != nil {
		return nil, err
	}

	wait := time.Second
	if fps > 0 && 4*time.Second/time.Duration(fps) > wait {
		wait = 4 * time.Second / time.Duration(fps)
	}
	return &ShmSource{
		reader: reader,
		width:  width,
		height: height,
		wait:   wait,
	}, nil
}

// Read waits on the new-frame semaphore and copies the latest slot. Frames
// already returned are skipped. A quiet producer yields ErrNoFrame.
func (s *ShmSource) Read(ctx context.Context) (*types.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := s.reader.WaitNewFrame(s.wait); err != nil {
			if errors.Is(err, shm.ErrTimeout) {
				return nil, fmt.Errorf("%w within %s", ErrNoFrame, s.wait)
			}
			return nil, err
		}

		raw, err := s.reader.ReadLatest()
		if err != nil {
			return nil, err
		}
		if raw == nil || (s.started && raw.FrameNum == s.lastNum) {
			continue
		}
		s.started = true
		s.lastNum = raw.FrameNum

		frame, err := convertRaw(raw)
		if err != nil {
			return nil, err
		}
		frame = Fit(frame, s.width, s.height)
		frame.Timestamp = raw.Timestamp
		frame.FrameNum = raw.FrameNum
		return frame, nil
	}
}

// Close unmaps the segment.
func (s *ShmSource) Close() error {
	return s.reader.Close()
}

func convertRaw(raw *shm.RawFrame) (*types.Frame, error) {
	switch raw.Format {
	case shm.FormatNV12:
		return FromNV12(raw.Data, raw.Width, raw.Height)
	case shm.FormatGray:
		return FromGray(raw.Data, raw.Width, raw.Height)
	case shm.FormatJPEG:
		return Decode(raw.Data)
	default:
		return nil, fmt.Errorf("unsupported frame format %d", raw.Format)
	}
}
