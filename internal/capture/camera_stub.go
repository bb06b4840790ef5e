//go:build !withcv
// +build !withcv

package capture

import "fmt"

// OpenCamera needs OpenCV; build with -tags withcv.
func OpenCamera(device, width, height, fps int) (Source, error) {
	return nil, fmt.Errorf("camera %d: %w", device, ErrUnavailable)
}
