package scan

import "math"

// RigidTransform is a 2D pose: rotation by Theta (radians) followed by translation (X, Y).
// Values are never mutated; every update produces a new transform.
type RigidTransform struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// NewRigidTransform creates a transform from a translation and a rotation in radians
func NewRigidTransform(x, y, theta float64) RigidTransform {
	return RigidTransform{X: x, Y: y, Theta: theta}
}

// Identity returns the transform that leaves every point unchanged
func Identity() RigidTransform {
	return RigidTransform{}
}

// Apply rotates p by Theta and then translates it by (X, Y)
func (t RigidTransform) Apply(p Point) Point {
	cos := math.Cos(t.Theta)
	sin := math.Sin(t.Theta)
	return Point{
		X: cos*p.X - sin*p.Y + t.X,
		Y: sin*p.X + cos*p.Y + t.Y,
	}
}

// ApplyAll maps every point, preserving order and length
func (t RigidTransform) ApplyAll(points []Point) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = t.Apply(p)
	}
	return result
}

// Inverse returns the transform that undoes t
func (t RigidTransform) Inverse() RigidTransform {
	cos := math.Cos(t.Theta)
	sin := math.Sin(t.Theta)
	return RigidTransform{
		X:     -t.X*cos - t.Y*sin,
		Y:     t.X*sin - t.Y*cos,
		Theta: -t.Theta,
	}
}

// Compose returns t after other: applying the result equals applying other first, then t
func (t RigidTransform) Compose(other RigidTransform) RigidTransform {
	origin := t.Apply(Point{X: other.X, Y: other.Y})
	return RigidTransform{
		X:     origin.X,
		Y:     origin.Y,
		Theta: NormalizeAngle(t.Theta + other.Theta),
	}
}

// Rotation returns the 2x2 rotation matrix in row-major order
func (t RigidTransform) Rotation() [4]float64 {
	cos := math.Cos(t.Theta)
	sin := math.Sin(t.Theta)
	return [4]float64{cos, -sin, sin, cos}
}

// Degrees returns the rotation angle in degrees
func (t RigidTransform) Degrees() float64 {
	return t.Theta * 180 / math.Pi
}

// NormalizeAngle wraps an angle in radians to (-pi, pi]
func NormalizeAngle(theta float64) float64 {
	theta = math.Mod(theta, 2*math.Pi)
	if theta <= -math.Pi {
		theta += 2 * math.Pi
	} else if theta > math.Pi {
		theta -= 2 * math.Pi
	}
	return theta
}

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// ToAffine expresses the rigid transform as an affine matrix
func (t RigidTransform) ToAffine() AffineMatrix {
	r := t.Rotation()
	return AffineMatrix{A: r[0], B: r[1], Tx: t.X, C: r[2], D: r[3], Ty: t.Y}
}

// RigidFromAffine extracts the rotation (via atan2(C, A)) and translation of an affine matrix.
// Any scale or shear is discarded.
func RigidFromAffine(m AffineMatrix) RigidTransform {
	return RigidTransform{X: m.Tx, Y: m.Ty, Theta: math.Atan2(m.C, m.A)}
}

// TransformPoint applies an affine transform to a point
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}
