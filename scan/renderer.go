package scan

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	backgroundColor = color.RGBA{240, 240, 240, 255}
	referenceColor  = color.RGBA{40, 40, 40, 255}
	beforeColor     = color.RGBA{160, 160, 160, 255}
	normalColor     = color.RGBA{100, 149, 237, 255}
	textColor       = color.RGBA{0, 0, 0, 255}
)

// AlignmentRenderer draws one batch: the reference walls, the scan under the
// transform it started from (grey) and under the refined transform (robot color).
// World Y points up; the image is flipped so it reads like a floor plan.
type AlignmentRenderer struct {
	Batch       *CorrespondenceBatch
	Before      RigidTransform
	After       RigidTransform
	Color       string  // hex color of the refined scan and robot marker
	Scale       float64 // pixels per world unit
	Padding     int     // pixels around the drawing
	MaxSize     int     // largest width or height in pixels
	ShowNormals bool    // draw each correspondence's normal at its reference point
}

// NewAlignmentRenderer creates a renderer with defaults suited to metric scans
func NewAlignmentRenderer(batch *CorrespondenceBatch, before, after RigidTransform) *AlignmentRenderer {
	return &AlignmentRenderer{
		Batch:   batch,
		Before:  before,
		After:   after,
		Color:   "#FF0000",
		Scale:   100, // 1 cm per pixel
		Padding: 30,
		MaxSize: 4000,
	}
}

func (r *AlignmentRenderer) scanPoints() []Point {
	points := make([]Point, len(r.Batch.Correspondences))
	for i, c := range r.Batch.Correspondences {
		points[i] = c.P
	}
	return points
}

// worldBounds covers the walls, both scan placements, the matched points and the robot
func (r *AlignmentRenderer) worldBounds() (minX, minY, maxX, maxY float64) {
	scan := r.scanPoints()
	matched := make([]Point, 0, len(r.Batch.Correspondences)+2)
	for _, c := range r.Batch.Correspondences {
		matched = append(matched, c.Pi)
	}
	matched = append(matched, Point{X: r.Before.X, Y: r.Before.Y}, Point{X: r.After.X, Y: r.After.Y})

	b := Bounds(r.Batch.Segments, r.Before.ApplyAll(scan), r.After.ApplyAll(scan), matched)
	return b.Min[0], b.Min[1], b.Max[0], b.Max[1]
}

// layout returns the image size and the world-to-pixel mapping
func (r *AlignmentRenderer) layout() (width, height int, toImage func(Point) (int, int)) {
	minX, minY, maxX, maxY := r.worldBounds()

	scale := r.Scale
	if scale <= 0 {
		scale = 100
	}
	maxSize := r.MaxSize
	if maxSize <= 0 {
		maxSize = 4000
	}

	spanX := maxX - minX
	spanY := maxY - minY
	if limit := float64(maxSize - 2*r.Padding); limit > 0 {
		if spanX*scale > limit {
			scale = limit / spanX
		}
		if spanY*scale > limit {
			scale = limit / spanY
		}
	}

	width = int(spanX*scale) + 2*r.Padding + 1
	height = int(spanY*scale) + 2*r.Padding + 1

	toImage = func(p Point) (int, int) {
		x := int((p.X-minX)*scale) + r.Padding
		y := height - 1 - (int((p.Y-minY)*scale) + r.Padding)
		return x, y
	}
	return width, height, toImage
}

// Render draws the alignment into a new image
func (r *AlignmentRenderer) Render() *image.RGBA {
	width, height, toImage := r.layout()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, backgroundColor)
		}
	}

	for _, s := range r.Batch.Segments {
		x0, y0 := toImage(s.A)
		x1, y1 := toImage(s.B)
		drawLine(img, x0, y0, x1, y1, referenceColor, 1)
	}

	if r.ShowNormals {
		for _, c := range r.Batch.Correspondences {
			x0, y0 := toImage(c.Pi)
			// Normals are drawn 12 px long regardless of scale
			x1, y1 := x0+int(math.Round(12*c.Normal.X)), y0-int(math.Round(12*c.Normal.Y))
			drawLine(img, x0, y0, x1, y1, normalColor, 0)
		}
	}

	scan := r.scanPoints()
	for _, p := range r.Before.ApplyAll(scan) {
		x, y := toImage(p)
		drawSquare(img, x, y, 2, beforeColor)
	}

	robotColor := parseHexColor(r.Color)
	for _, p := range r.After.ApplyAll(scan) {
		x, y := toImage(p)
		drawCircle(img, x, y, 2, robotColor)
	}

	rx, ry := toImage(Point{X: r.After.X, Y: r.After.Y})
	drawRobotMarker(img, rx, ry, 8, r.After.Theta, robotColor)

	r.drawLegend(img)
	return img
}

func (r *AlignmentRenderer) drawLegend(img *image.RGBA) {
	label := r.Batch.RobotID
	if label == "" {
		label = "scan"
	}
	drawText(img, 10, 15, label, textColor)

	if len(r.Batch.Correspondences) == 0 {
		return
	}
	drawText(img, 10, 33, fmt.Sprintf("rmse %.4f -> %.4f",
		RMSE(r.Batch.Correspondences, r.Before), RMSE(r.Batch.Correspondences, r.After)), textColor)
	pose := PoseOf(r.After)
	drawText(img, 10, 51, fmt.Sprintf("pose (%.3f, %.3f) %.2f deg", pose.X, pose.Y, pose.Angle), textColor)
}

// WritePNG encodes the rendered image as PNG
func (r *AlignmentRenderer) WritePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG renders the alignment to a PNG file
func (r *AlignmentRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return r.WritePNG(f)
}

// drawLine draws a line by sampling at sub-pixel steps, thickened by radius pixels
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA, radius int) {
	steps := int(math.Max(math.Abs(float64(x1-x0)), math.Abs(float64(y1-y0))))
	if steps == 0 {
		drawSquare(img, x0, y0, 2*radius, c)
		return
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(float64(x0) + t*float64(x1-x0)))
		y := int(math.Round(float64(y0) + t*float64(y1-y0)))
		drawSquare(img, x, y, 2*radius, c)
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setPixel(img, cx+dx, cy+dy, c)
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			setPixel(img, cx+dx, cy+dy, c)
		}
	}
}

// drawRobotMarker draws a filled circle with a heading line.
// theta is CCW in world space, so the line's Y is negated for image space.
func drawRobotMarker(img *image.RGBA, cx, cy, radius int, theta float64, c color.RGBA) {
	drawCircle(img, cx, cy, radius+2, referenceColor)
	drawCircle(img, cx, cy, radius, c)
	length := float64(radius) * 1.8
	hx := cx + int(math.Round(length*math.Cos(theta)))
	hy := cy - int(math.Round(length*math.Sin(theta)))
	drawLine(img, cx, cy, hx, hy, referenceColor, 1)
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B" to color.RGBA
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) == 0 {
		return defaultColor
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
