package sensing

import (
	"image"
	"sync"
	"time"
)

// Snapshot is one stored annotated frame.
type Snapshot struct {
	Image     image.Image
	Timestamp time.Time
	FrameNum  uint64
}

// FrameSlot holds the latest annotated frame. Writers replace the image
// rather than mutating it, so readers may use a loaded image after the lock
// is released.
type FrameSlot struct {
	mu   sync.RWMutex
	snap Snapshot
	ok   bool
}

// NewFrameSlot returns an empty slot.
func NewFrameSlot() *FrameSlot {
	return &FrameSlot{}
}

// Store replaces the current frame.
func (s *FrameSlot) Store(img image.Image, ts time.Time, frameNum uint64) {
	s.mu.Lock()
	s.snap = Snapshot{Image: img, Timestamp: ts, FrameNum: frameNum}
	s.ok = img != nil
	s.mu.Unlock()
}

// Load returns the current frame, or false before the first Store.
func (s *FrameSlot) Load() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.ok
}
