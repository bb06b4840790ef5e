package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/config"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/timeutil"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func encodeJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestFromNV12SplitsChroma(t *testing.T) {
	w, h := 4, 2
	data := make([]byte, w*h+w*h/2)
	for i := 0; i < w*h; i++ {
		data[i] = byte(i + 1)
	}
	// Two chroma samples, interleaved U,V
	copy(data[w*h:], []byte{100, 200, 110, 210})

	frame, err := FromNV12(data, w, h)
	require.NoError(t, err)
	assert.Equal(t, byte(1), frame.At(0, 0))
	assert.Equal(t, byte(8), frame.At(3, 1))

	yc, ok := frame.Preview.(*image.YCbCr)
	require.True(t, ok)
	assert.Equal(t, []byte{100, 110}, yc.Cb)
	assert.Equal(t, []byte{200, 210}, yc.Cr)
}

func TestFromNV12LumaOnly(t *testing.T) {
	frame, err := FromNV12(make([]byte, 16), 4, 4)
	require.NoError(t, err)
	assert.Nil(t, frame.Preview)

	_, err = FromNV12(make([]byte, 10), 4, 4)
	assert.Error(t, err)
}

func TestFromGray(t *testing.T) {
	frame, err := FromGray([]byte{1, 2, 3, 4, 5, 6}, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, byte(6), frame.At(2, 1))

	_, err = FromGray([]byte{1}, 3, 2)
	assert.Error(t, err)
}

func TestDecodeAndFit(t *testing.T) {
	frame, err := Decode(encodeJPEG(t, 64, 48, color.White))
	require.NoError(t, err)
	assert.Equal(t, 64, frame.Width)
	assert.InDelta(t, 255, int(frame.At(10, 10)), 3)

	scaled := Fit(frame, 32, 24)
	assert.Equal(t, 32, scaled.Width)
	assert.Equal(t, 24, scaled.Height)
	assert.InDelta(t, 255, int(scaled.At(5, 5)), 3)

	assert.Same(t, scaled, Fit(scaled, 32, 24))

	_, err = Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestFitGrayWithoutPreview(t *testing.T) {
	frame := types.NewFrame(8, 8)
	for i := range frame.Data {
		frame.Data[i] = 77
	}
	frame.FrameNum = 9

	scaled := Fit(frame, 4, 4)
	assert.Equal(t, byte(77), scaled.At(2, 2))
	assert.Equal(t, uint64(9), scaled.FrameNum)
}

func TestSyntheticRoute(t *testing.T) {
	entry := types.Zone{X: 20, Y: 150, W: 200, H: 200}
	confirm := types.Zone{X: 420, Y: 150, W: 200, H: 200}

	s := NewSynthetic(640, 480, 30, timeutil.NewMockClock(epoch))
	s.Size = 62
	s.Route(entry, confirm)

	_, ok := s.ObjectAt(0)
	assert.False(t, ok, "scene starts empty")

	first, ok := s.ObjectAt(uint64(s.IdleFrames))
	require.True(t, ok)
	assert.Less(t, first.Y, entry.Y)

	// Find the first frame inside the entry zone and check it followed a frame above it.
	var prev types.Point
	armed := false
	for n := uint64(s.IdleFrames); n < uint64(s.IdleFrames+100); n++ {
		p, ok := s.ObjectAt(n)
		if !ok {
			break
		}
		if entry.Contains(p) && prev.Y < entry.Y && prev != (types.Point{}) {
			armed = true
		}
		prev = p
	}
	assert.True(t, armed)
	assert.True(t, confirm.Contains(prev))
}

func TestSyntheticReadPacesFrames(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	s := NewSynthetic(32, 24, 10, clock)

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		frame, err := s.Read(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i), frame.FrameNum)
		assert.Equal(t, byte(40), frame.At(0, 0))
		stamps = append(stamps, frame.Timestamp)
	}
	assert.Equal(t, 100*time.Millisecond, stamps[1].Sub(stamps[0]))
	assert.Equal(t, 100*time.Millisecond, stamps[2].Sub(stamps[1]))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyntheticRenderDrawsSquare(t *testing.T) {
	s := NewSynthetic(100, 100, 30, nil)
	s.Size = 10
	s.IdleFrames = 0
	s.Waypoints = []types.Point{{X: 50, Y: 50}, {X: 50, Y: 90}}

	frame := s.Render(0)
	assert.Equal(t, byte(220), frame.At(50, 50))
	assert.Equal(t, byte(220), frame.At(45, 45))
	assert.Equal(t, byte(40), frame.At(44, 50))
	assert.Equal(t, byte(40), frame.At(55, 50))
}

func TestDirSourceReadsNewFiles(t *testing.T) {
	dir := t.TempDir()
	src, err := NewDirSource(dir, 32, 24)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	// Write then rename so the watcher sees a complete file.
	tmp := filepath.Join(t.TempDir(), "frame.jpg")
	require.NoError(t, os.WriteFile(tmp, encodeJPEG(t, 64, 48, color.Gray{Y: 128}), 0644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "0001.jpg")))

	frame, err := src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 32, frame.Width)
	assert.Equal(t, 24, frame.Height)
	assert.InDelta(t, 128, int(frame.At(16, 12)), 4)
	assert.Equal(t, uint64(0), frame.FrameNum)
}

func TestDirSourceHonoursContext(t *testing.T) {
	src, err := NewDirSource(t.TempDir(), 32, 24)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDirSourceMissingDirectory(t *testing.T) {
	_, err := NewDirSource(filepath.Join(t.TempDir(), "missing"), 32, 24)
	assert.Error(t, err)
}

func TestOpenSynthetic(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Source = config.SourceSynthetic

	src, err := Open(cfg, timeutil.NewMockClock(epoch))
	require.NoError(t, err)
	defer src.Close()

	s, ok := src.(*Synthetic)
	require.True(t, ok)
	assert.Equal(t, 62, s.Size)
	assert.Len(t, s.Waypoints, 3)
}

func TestOpenShmWithoutDaemonFails(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Source = config.SourceShm
	cfg.Camera.ShmName = "/zone_sentry_test_missing"

	_, err := Open(cfg, nil)
	assert.Error(t, err)
}
