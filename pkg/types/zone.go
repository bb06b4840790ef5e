package types

import (
	"fmt"
	"image"
)

// Point is an integer pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Zone is an axis-aligned detection rectangle given as origin plus size.
type Zone struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Contains reports whether p lies strictly inside the zone.
// Points on any edge are outside.
func (z Zone) Contains(p Point) bool {
	return z.X < p.X && p.X < z.X+z.W &&
		z.Y < p.Y && p.Y < z.Y+z.H
}

// Top returns the y coordinate of the upper edge.
func (z Zone) Top() int {
	return z.Y
}

// Rect returns the zone as an image rectangle.
func (z Zone) Rect() image.Rectangle {
	return image.Rect(z.X, z.Y, z.X+z.W, z.Y+z.H)
}

// Valid reports whether the zone has a positive size.
func (z Zone) Valid() bool {
	return z.W > 0 && z.H > 0
}

// Fits reports whether the zone lies within a frame of the given size.
func (z Zone) Fits(width, height int) bool {
	return z.X >= 0 && z.Y >= 0 && z.X+z.W <= width && z.Y+z.H <= height
}

func (z Zone) String() string {
	return fmt.Sprintf("[x=%d y=%d w=%d h=%d]", z.X, z.Y, z.W, z.H)
}
