//go:build !withcv
// +build !withcv

package vision

func newMOG2(int, float64) (BackgroundModel, error) {
	return nil, ErrBackendUnavailable
}
