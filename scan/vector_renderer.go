package scan

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer draws an alignment as vector graphics.
// Canvas units are millimetres; Scale converts world units to them.
type VectorRenderer struct {
	Batch       *CorrespondenceBatch
	Before      RigidTransform
	After       RigidTransform
	Color       string
	Scale       float64           // canvas mm per world unit
	Padding     float64           // canvas mm around the drawing
	Resolution  canvas.Resolution // Resolution for PNG output (default: 300 DPI)
	GridSpacing float64           // Grid spacing in world units; 0 disables
	ShowNormals bool
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(batch *CorrespondenceBatch, before, after RigidTransform) *VectorRenderer {
	return &VectorRenderer{
		Batch:       batch,
		Before:      before,
		After:       after,
		Color:       "#FF0000",
		Scale:       20.0, // 1 m -> 20 mm
		Padding:     10.0,
		Resolution:  canvas.DPI(300),
		GridSpacing: 1.0,
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// worldBounds reuses the raster renderer's extent so both outputs frame the same area
func (r *VectorRenderer) worldBounds() (minX, minY, maxX, maxY float64) {
	ar := AlignmentRenderer{Batch: r.Batch, Before: r.Before, After: r.After}
	return ar.worldBounds()
}

func (r *VectorRenderer) size(minX, minY, maxX, maxY float64) (width, height float64) {
	return (maxX-minX)*r.Scale + 2*r.Padding, (maxY-minY)*r.Scale + 2*r.Padding
}

// RenderToSVG writes the alignment as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, maxX, maxY := r.worldBounds()
	width, height := r.size(minX, minY, maxX, maxY)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, maxX, maxY, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the alignment as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, maxX, maxY := r.worldBounds()
	width, height := r.size(minX, minY, maxX, maxY)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, maxX, maxY, width, height)

	// Rasterizer implements draw.Image
	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, maxX, maxY, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// Canvas Y already points up, so world coordinates only need shifting and scaling
	toCanvas := func(p Point) (float64, float64) {
		return (p.X-minX)*r.Scale + r.Padding, (p.Y-minY)*r.Scale + r.Padding
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.2
		gridStyle.Dashes = []float64{1.0, 1.0}

		for x := math.Ceil(minX/r.GridSpacing) * r.GridSpacing; x <= maxX; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			gridPath.MoveTo(toCanvas(Point{X: x, Y: minY}))
			gridPath.LineTo(toCanvas(Point{X: x, Y: maxY}))
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := math.Ceil(minY/r.GridSpacing) * r.GridSpacing; y <= maxY; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			gridPath.MoveTo(toCanvas(Point{X: minX, Y: y}))
			gridPath.LineTo(toCanvas(Point{X: maxX, Y: y}))
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	wallStyle := canvas.DefaultStyle
	wallStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	wallStyle.Stroke = canvas.Paint{Color: referenceColor}
	wallStyle.StrokeWidth = 1.0
	for _, s := range r.Batch.Segments {
		cp := &canvas.Path{}
		cp.MoveTo(toCanvas(s.A))
		cp.LineTo(toCanvas(s.B))
		renderer.RenderPath(cp, wallStyle, canvas.Identity)
	}

	if r.ShowNormals {
		normalStyle := canvas.DefaultStyle
		normalStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		normalStyle.Stroke = canvas.Paint{Color: normalColor}
		normalStyle.StrokeWidth = 0.3
		for _, c := range r.Batch.Correspondences {
			x, y := toCanvas(c.Pi)
			cp := &canvas.Path{}
			cp.MoveTo(x, y)
			cp.LineTo(x+3*c.Normal.X, y+3*c.Normal.Y)
			renderer.RenderPath(cp, normalStyle, canvas.Identity)
		}
	}

	scan := make([]Point, len(r.Batch.Correspondences))
	for i, c := range r.Batch.Correspondences {
		scan[i] = c.P
	}
	robotColor := parseHexColor(r.Color)

	r.renderPoints(renderer, toCanvas, r.Before.ApplyAll(scan), beforeColor, 0.6)
	r.renderPoints(renderer, toCanvas, r.After.ApplyAll(scan), robotColor, 0.8)

	// Robot marker with heading
	cx, cy := toCanvas(Point{X: r.After.X, Y: r.After.Y})

	markerStyle := canvas.DefaultStyle
	markerStyle.Fill = canvas.Paint{Color: robotColor}
	markerStyle.Stroke = canvas.Paint{Color: canvas.Black}
	markerStyle.StrokeWidth = 0.5
	renderer.RenderPath(canvas.Circle(3.0).Translate(cx, cy), markerStyle, canvas.Identity)

	dirStyle := canvas.DefaultStyle
	dirStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	dirStyle.Stroke = canvas.Paint{Color: canvas.Black}
	dirStyle.StrokeWidth = 0.8

	dirPath := &canvas.Path{}
	dirPath.MoveTo(cx, cy)
	dirPath.LineTo(cx+6*math.Cos(r.After.Theta), cy+6*math.Sin(r.After.Theta))
	renderer.RenderPath(dirPath, dirStyle, canvas.Identity)
}

func (r *VectorRenderer) renderPoints(renderer canvasRenderer, toCanvas func(Point) (float64, float64), points []Point, c color.RGBA, radius float64) {
	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: c}
	style.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, p := range points {
		x, y := toCanvas(p)
		renderer.RenderPath(canvas.Circle(radius).Translate(x, y), style, canvas.Identity)
	}
}
