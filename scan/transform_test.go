package scan

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const epsilon = 1e-10

// almostEqual checks if two floats are equal within epsilon tolerance
func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// pointsEqual checks if two points are equal within epsilon tolerance
func pointsEqual(p1, p2 Point) bool {
	return almostEqual(p1.X, p2.X) && almostEqual(p1.Y, p2.Y)
}

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestRigidTransformApply(t *testing.T) {
	tests := []struct {
		name      string
		transform RigidTransform
		point     Point
		want      Point
	}{
		{
			name:      "identity",
			transform: Identity(),
			point:     Point{X: 3, Y: -4},
			want:      Point{X: 3, Y: -4},
		},
		{
			name:      "translation only",
			transform: NewRigidTransform(10, 15, 0),
			point:     Point{X: 5, Y: 5},
			want:      Point{X: 15, Y: 20},
		},
		{
			name:      "90 degree rotation",
			transform: NewRigidTransform(0, 0, math.Pi/2),
			point:     Point{X: 1, Y: 0},
			want:      Point{X: 0, Y: 1},
		},
		{
			name:      "rotation then translation",
			transform: NewRigidTransform(1, 2, math.Pi),
			point:     Point{X: 1, Y: 1},
			want:      Point{X: 0, Y: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.transform.Apply(tt.point)
			if !pointsEqual(got, tt.want) {
				t.Errorf("Apply(%v) = %v, want %v", tt.point, got, tt.want)
			}
		})
	}
}

func TestIdentityLeavesPointsUnchanged(t *testing.T) {
	points := []Point{{X: 0, Y: 0}, {X: 1.5, Y: -2.25}, {X: -1e6, Y: 3e-7}}
	got := Identity().ApplyAll(points)
	if diff := cmp.Diff(points, got); diff != "" {
		t.Errorf("Identity().ApplyAll() mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyAllPreservesOrder(t *testing.T) {
	tr := NewRigidTransform(0.5, -1, 0.3)
	points := []Point{{X: 1, Y: 0}, {X: 0, Y: 1}, {X: -2, Y: 3}}

	got := tr.ApplyAll(points)
	if len(got) != len(points) {
		t.Fatalf("ApplyAll() returned %d points, want %d", len(got), len(points))
	}
	for i, p := range points {
		if !pointsEqual(got[i], tr.Apply(p)) {
			t.Errorf("ApplyAll()[%d] = %v, want %v", i, got[i], tr.Apply(p))
		}
	}

	if len(tr.ApplyAll(nil)) != 0 {
		t.Error("ApplyAll(nil) should be empty")
	}
}

func TestInverseRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		tr := NewRigidTransform(rng.Float64()*20-10, rng.Float64()*20-10, rng.Float64()*2*math.Pi-math.Pi)
		p := Point{X: rng.Float64()*100 - 50, Y: rng.Float64()*100 - 50}

		back := tr.Inverse().Apply(tr.Apply(p))
		if diff := cmp.Diff(p, back, approx); diff != "" {
			t.Fatalf("transform %+v: inverse(apply(p)) mismatch (-want +got):\n%s", tr, diff)
		}

		forward := tr.Apply(tr.Inverse().Apply(p))
		if diff := cmp.Diff(p, forward, approx); diff != "" {
			t.Fatalf("transform %+v: apply(inverse(p)) mismatch (-want +got):\n%s", tr, diff)
		}
	}
}

func TestCompose(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 100; i++ {
		a := NewRigidTransform(rng.NormFloat64(), rng.NormFloat64(), rng.Float64()*6-3)
		b := NewRigidTransform(rng.NormFloat64(), rng.NormFloat64(), rng.Float64()*6-3)
		p := Point{X: rng.NormFloat64() * 5, Y: rng.NormFloat64() * 5}

		want := a.Apply(b.Apply(p))
		got := a.Compose(b).Apply(p)
		if diff := cmp.Diff(want, got, approx); diff != "" {
			t.Fatalf("a.Compose(b) should apply b first (-want +got):\n%s", diff)
		}

		if theta := a.Compose(b).Theta; theta <= -math.Pi || theta > math.Pi {
			t.Fatalf("composed angle %v not normalized", theta)
		}
	}

	tr := NewRigidTransform(1, 2, 0.4)
	if got := tr.Compose(tr.Inverse()); !almostEqual(got.X, 0) || !almostEqual(got.Y, 0) || !almostEqual(got.Theta, 0) {
		t.Errorf("t.Compose(t.Inverse()) = %+v, want identity", got)
	}
}

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi / 2},
		{0.25, 0.25},
	}

	for _, tt := range tests {
		if got := NormalizeAngle(tt.in); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAffineRoundTrip(t *testing.T) {
	tr := NewRigidTransform(-3, 4.5, -2.1)
	m := tr.ToAffine()

	p := Point{X: 1.25, Y: -0.75}
	if got, want := TransformPoint(p, m), tr.Apply(p); !pointsEqual(got, want) {
		t.Errorf("TransformPoint(ToAffine) = %v, want %v", got, want)
	}

	back := RigidFromAffine(m)
	if diff := cmp.Diff(tr, back, approx); diff != "" {
		t.Errorf("RigidFromAffine(ToAffine()) mismatch (-want +got):\n%s", diff)
	}

	r := tr.Rotation()
	if det := r[0]*r[3] - r[1]*r[2]; !almostEqual(det, 1) {
		t.Errorf("rotation determinant = %v, want 1", det)
	}
}

func TestPoseConversion(t *testing.T) {
	pose := Pose{X: 1, Y: -2, Angle: 90}
	tr := pose.Transform()
	if !almostEqual(tr.Theta, math.Pi/2) {
		t.Errorf("Theta = %v, want pi/2", tr.Theta)
	}
	if diff := cmp.Diff(pose, PoseOf(tr), approx); diff != "" {
		t.Errorf("PoseOf(Transform()) mismatch (-want +got):\n%s", diff)
	}
}

func TestPolar(t *testing.T) {
	p := FromPolar(2, math.Pi/6)
	r, bearing := p.Polar()
	if !almostEqual(r, 2) || !almostEqual(bearing, math.Pi/6) {
		t.Errorf("Polar() = (%v, %v), want (2, pi/6)", r, bearing)
	}
}
