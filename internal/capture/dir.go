package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// DirSource turns image files dropped into a directory into frames. Files are
// read as they are created or rewritten; writers should rename complete
// files into place, although partially written files are skipped and picked
// up again on the next write event.
type DirSource struct {
	dir     string
	width   int
	height  int
	watcher *fsnotify.Watcher

	frameNum uint64
	lastName string
	lastMod  time.Time
	lastSize int64
}

// NewDirSource starts watching dir. Frames are scaled to width x height.
func NewDirSource(dir string, width, height int) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat frame directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logger.Info("Capture", "Watching %s for frames", dir)
	return &DirSource{
		dir:     dir,
		width:   width,
		height:  height,
		watcher: watcher,
	}, nil
}

// Read waits for the next complete image file.
func (d *DirSource) Read(ctx context.Context) (*types.Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case event, ok := <-d.watcher.Events:
			if !ok {
				return nil, io.EOF
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isImageFile(event.Name) {
				continue
			}
			frame, err := d.load(event.Name)
			if err != nil {
				return nil, err
			}
			if frame == nil {
				continue
			}
			return frame, nil

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("watcher error: %w", err)
		}
	}
}

// load decodes path. It returns nil without error for files that are still
// being written or were already delivered.
func (d *DirSource) load(path string) (*types.Frame, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, nil
	}
	if path == d.lastName && info.ModTime().Equal(d.lastMod) && info.Size() == d.lastSize {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	frame, err := Decode(data)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			logger.Debug("Capture", "Skipping partial file %s", filepath.Base(path))
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	d.lastName, d.lastMod, d.lastSize = path, info.ModTime(), info.Size()

	frame = Fit(frame, d.width, d.height)
	frame.Timestamp = time.Now()
	frame.FrameNum = d.frameNum
	d.frameNum++
	return frame, nil
}

// Close stops the watcher.
func (d *DirSource) Close() error {
	return d.watcher.Close()
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
