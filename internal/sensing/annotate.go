package sensing

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// Overlay colours
var (
	ColorActive   = color.RGBA{0, 255, 0, 255}
	ColorInactive = color.RGBA{255, 0, 0, 255}
	ColorCentroid = color.RGBA{255, 0, 255, 255}
)

const (
	EntryLabel   = "ZONE 1 (Entry)"
	ConfirmLabel = "ZONE 2 (Confirm)"

	zoneThickness  = 2
	centroidRadius = 5
)

// Annotate renders frame as RGBA with both zones and the centroid drawn on
// top. A zone is drawn in ColorActive while the centroid is inside it.
func Annotate(frame *types.Frame, entry, confirm types.Zone, centroid types.Point, present bool) *image.RGBA {
	bounds := image.Rect(0, 0, frame.Width, frame.Height)
	img := image.NewRGBA(bounds)
	if frame.Preview != nil && frame.Preview.Bounds().Size() == bounds.Size() {
		draw.Draw(img, bounds, frame.Preview, frame.Preview.Bounds().Min, draw.Src)
	} else {
		draw.Draw(img, bounds, frame.Gray(), image.Point{}, draw.Src)
	}

	drawZone(img, entry, EntryLabel, present && entry.Contains(centroid))
	drawZone(img, confirm, ConfirmLabel, present && confirm.Contains(centroid))

	if present {
		fillCircle(img, image.Pt(centroid.X, centroid.Y), centroidRadius, ColorCentroid)
	}
	return img
}

func drawZone(img *image.RGBA, z types.Zone, label string, active bool) {
	col := ColorInactive
	if active {
		col = ColorActive
	}
	drawRectangle(img, z.Rect(), col, zoneThickness)

	// Label sits above the zone, or just inside it when there is no room.
	face := basicfont.Face7x13
	y := z.Y - 5
	if y < face.Ascent {
		y = z.Y + zoneThickness + face.Ascent
	}
	addLabel(img, label, image.Pt(z.X, y), col)
}

func addLabel(img draw.Image, text string, pt image.Point, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(pt.X, pt.Y),
	}
	d.DrawString(text)
}

func drawRectangle(img *image.RGBA, rect image.Rectangle, col color.RGBA, thickness int) {
	b := img.Bounds()
	for i := 0; i < thickness; i++ {
		edges := []image.Rectangle{
			image.Rect(rect.Min.X, rect.Min.Y+i, rect.Max.X, rect.Min.Y+i+1),
			image.Rect(rect.Min.X, rect.Max.Y-i-1, rect.Max.X, rect.Max.Y-i),
			image.Rect(rect.Min.X+i, rect.Min.Y, rect.Min.X+i+1, rect.Max.Y),
			image.Rect(rect.Max.X-i-1, rect.Min.Y, rect.Max.X-i, rect.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(img, e.Intersect(b), image.NewUniform(col), image.Point{}, draw.Src)
		}
	}
}

func fillCircle(img *image.RGBA, c image.Point, r int, col color.RGBA) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(c.X+dx, c.Y+dy, col)
			}
		}
	}
}
