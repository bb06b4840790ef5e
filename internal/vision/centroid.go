package vision

import (
	"image"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// Region is one 8-connected group of foreground pixels.
type Region struct {
	Bounds   image.Rectangle
	Area     int // pixel count
	Centroid types.Point
}

// CentroidExtractor reduces a mask to the centre of its largest region.
type CentroidExtractor struct {
	// MinArea is exclusive: a region needs more pixels than this to count.
	MinArea int
}

// Extract returns the centroid of the largest region, or false when no region
// has more than MinArea pixels. Equal areas resolve to the region found first
// in row-major order.
func (c CentroidExtractor) Extract(m *types.Mask) (types.Point, bool) {
	best, ok := Largest(Regions(m))
	if !ok || best.Area <= c.MinArea {
		return types.Point{}, false
	}
	return best.Centroid, true
}

// Largest picks the region with the greatest area, keeping the earliest on ties.
func Largest(regions []Region) (Region, bool) {
	if len(regions) == 0 {
		return Region{}, false
	}
	best := regions[0]
	for _, r := range regions[1:] {
		if r.Area > best.Area {
			best = r
		}
	}
	return best, true
}

// Regions labels the 8-connected foreground regions of m in row-major order
// of their first pixel.
func Regions(m *types.Mask) []Region {
	w, h := m.Width, m.Height
	if w == 0 || h == 0 {
		return nil
	}

	visited := make([]bool, len(m.Data))
	var regions []Region
	var stack []int

	for start, v := range m.Data {
		if v == 0 || visited[start] {
			continue
		}

		var count, sumX, sumY int
		minX, minY := w, h
		maxX, maxY := -1, -1

		visited[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := idx%w, idx/w
			count++
			sumX += x
			sumY += y
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)

			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
						continue
					}
					n := ny*w + nx
					if m.Data[n] != 0 && !visited[n] {
						visited[n] = true
						stack = append(stack, n)
					}
				}
			}
		}

		if count == 0 {
			continue
		}
		regions = append(regions, Region{
			Bounds:   image.Rect(minX, minY, maxX+1, maxY+1),
			Area:     count,
			Centroid: types.Point{X: sumX / count, Y: sumY / count},
		})
	}
	return regions
}
