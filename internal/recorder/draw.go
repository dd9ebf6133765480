package recorder

import (
	"image"
	"image/color"
	"math"
)

const rippleRadius = 15

func drawRect(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	drawLine(img, x0, y0, x1, y0, c)
	drawLine(img, x1, y0, x1, y1, c)
	drawLine(img, x1, y1, x0, y1, c)
	drawLine(img, x0, y1, x0, y0, c)
}

// drawLine draws a line between two points using Bresenham's algorithm
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx := 1
	if x1 > x2 {
		sx = -1
	}
	sy := 1
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy

	for {
		setPixelSafe(img, x1, y1, c)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

// drawRipple marks where keystrokes were sent
func drawRipple(img *image.RGBA, x, y int, c color.RGBA) {
	for angle := 0.0; angle < 360; angle++ {
		rad := angle * math.Pi / 180
		px := x + int(rippleRadius*math.Cos(rad))
		py := y + int(rippleRadius*math.Sin(rad))
		setPixelSafe(img, px, py, c)
		setPixelSafe(img, px+1, py, c)
		setPixelSafe(img, px, py+1, c)
	}
}

func setPixelSafe(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
