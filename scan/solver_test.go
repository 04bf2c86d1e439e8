package scan

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// squareCorrespondences samples the walls of the square [-2, 2]^2 and expresses each
// sample in the scan frame of a robot at truth, optionally with Gaussian noise.
// Applying truth to the scan points puts them back on the walls.
func squareCorrespondences(truth RigidTransform, noise float64, rng *rand.Rand) []Correspondence {
	inv := truth.Inverse()
	var corrs []Correspondence
	for k := 0; k <= 20; k++ {
		u := -2 + 4*float64(k)/20
		for _, wall := range []struct{ p, n Point }{
			{Point{X: u, Y: -2}, Point{X: 0, Y: -1}},
			{Point{X: u, Y: 2}, Point{X: 0, Y: 1}},
			{Point{X: -2, Y: u}, Point{X: -1, Y: 0}},
			{Point{X: 2, Y: u}, Point{X: 1, Y: 0}},
		} {
			p := inv.Apply(wall.p)
			if noise > 0 {
				p.X += rng.NormFloat64() * noise
				p.Y += rng.NormFloat64() * noise
			}
			corrs = append(corrs, NewCorrespondence(p, wall.p, wall.n))
		}
	}
	return corrs
}

var squareTruth = NewRigidTransform(0.3, -0.2, 0.15)

func TestPartition(t *testing.T) {
	m := mat.NewSymDense(4, []float64{
		1, 2, 3, 4,
		2, 5, 6, 7,
		3, 6, 8, 9,
		4, 7, 9, 10,
	})
	a, b, d := Partition(m)

	assert.True(t, mat.Equal(a, mat.NewDense(2, 2, []float64{1, 2, 2, 5})))
	assert.True(t, mat.Equal(b, mat.NewDense(2, 2, []float64{3, 4, 6, 7})))
	assert.True(t, mat.Equal(d, mat.NewDense(2, 2, []float64{8, 9, 9, 10})))
}

func TestLagrangeMultiplierNoiseFree(t *testing.T) {
	cm := Accumulate(squareCorrespondences(squareTruth, 0, nil), Identity())

	lambda, err := LagrangeMultiplier(cm, DefaultSolverConfig())
	require.NoError(t, err)
	assert.InDelta(t, 0, lambda, 1e-6)
}

func TestLagrangeMultiplierIsQuarticRoot(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	cm := Accumulate(squareCorrespondences(squareTruth, 0.05, rng), Identity())
	cfg := DefaultSolverConfig()

	co, err := MultiplierPolynomial(cm, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1.0, co[0])

	lambda, err := LagrangeMultiplier(cm, cfg)
	require.NoError(t, err)

	scale := 0.0
	for i, c := range co {
		scale += math.Abs(c) * math.Pow(math.Abs(lambda), float64(4-i))
	}
	assert.InDelta(t, 0, real(evalQuartic(co, complex(lambda, 0))), 1e-8*scale)
}

func TestSolveStepEnforcesUnitRotation(t *testing.T) {
	rng := rand.New(rand.NewSource(4))

	for trial := 0; trial < 20; trial++ {
		truth := NewRigidTransform(rng.Float64()*2-1, rng.Float64()*2-1, rng.Float64()*1.2-0.6)
		cm := Accumulate(squareCorrespondences(truth, 0.05, rng), Identity())

		step, err := SolveStep(cm, DefaultSolverConfig())
		require.NoError(t, err)

		norm := math.Hypot(step.State[2], step.State[3])
		assert.InDelta(t, 1, norm, 1e-6, "trial %d: |(c, s)| = %v, lambda = %v", trial, norm, step.Lambda)
	}
}

func TestSolveStepUnconstrained(t *testing.T) {
	cfg := DefaultSolverConfig()
	cfg.Multiplier = MultiplierUnconstrained

	t.Run("noise free data is already feasible", func(t *testing.T) {
		cm := Accumulate(squareCorrespondences(squareTruth, 0, nil), Identity())
		step, err := SolveStep(cm, cfg)
		require.NoError(t, err)

		assert.Equal(t, 0.0, step.Lambda)
		assert.InDelta(t, squareTruth.X, step.Delta.X, 1e-9)
		assert.InDelta(t, squareTruth.Y, step.Delta.Y, 1e-9)
		assert.InDelta(t, squareTruth.Theta, step.Delta.Theta, 1e-9)
	})

	t.Run("noisy data leaves the unit circle", func(t *testing.T) {
		rng := rand.New(rand.NewSource(5))
		cm := Accumulate(squareCorrespondences(squareTruth, 0.05, rng), Identity())
		step, err := SolveStep(cm, cfg)
		require.NoError(t, err)

		norm := math.Hypot(step.State[2], step.State[3])
		assert.Greater(t, math.Abs(norm-1), 1e-9)
	})
}

func TestSolveStepConstrainedCostNoWorse(t *testing.T) {
	// The constrained optimum can never beat the unconstrained minimum
	rng := rand.New(rand.NewSource(6))
	cm := Accumulate(squareCorrespondences(squareTruth, 0.05, rng), Identity())

	constrained, err := SolveStep(cm, DefaultSolverConfig())
	require.NoError(t, err)

	cfg := DefaultSolverConfig()
	cfg.Multiplier = MultiplierUnconstrained
	free, err := SolveStep(cm, cfg)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, constrained.Cost, free.Cost-1e-9*math.Abs(free.Cost))
}

func TestSolveStepErrors(t *testing.T) {
	tests := []struct {
		name           string
		corrs          []Correspondence
		wantInsuff     bool
		wantDegenerate bool
	}{
		{
			name:       "empty set",
			corrs:      nil,
			wantInsuff: true,
		},
		{
			name: "single correspondence",
			corrs: []Correspondence{
				NewCorrespondence(Point{X: 1, Y: 0}, Point{X: 1, Y: 0}, Point{X: 1, Y: 0}),
			},
			wantInsuff:     true,
			wantDegenerate: true,
		},
		{
			name: "parallel normals",
			corrs: []Correspondence{
				NewCorrespondence(Point{X: 1, Y: -1}, Point{X: 1, Y: -1}, Point{X: 1, Y: 0}),
				NewCorrespondence(Point{X: 1, Y: 0}, Point{X: 1, Y: 0}, Point{X: 1, Y: 0}),
				NewCorrespondence(Point{X: 1, Y: 1}, Point{X: 1, Y: 1}, Point{X: -2, Y: 0}),
				NewCorrespondence(Point{X: 1, Y: 2}, Point{X: 1, Y: 2}, Point{X: 3, Y: 0}),
			},
			wantInsuff:     true,
			wantDegenerate: true,
		},
		{
			name: "all scan points coincide",
			corrs: []Correspondence{
				NewCorrespondence(Point{X: 1, Y: 0.5}, Point{X: 1, Y: 0.5}, Point{X: 1, Y: 0}),
				NewCorrespondence(Point{X: 1, Y: 0.5}, Point{X: 1, Y: 0.5}, Point{X: 0, Y: 1}),
				NewCorrespondence(Point{X: 1, Y: 0.5}, Point{X: 1, Y: 0.5}, Point{X: 1, Y: 0}),
				NewCorrespondence(Point{X: 1, Y: 0.5}, Point{X: 1, Y: 0.5}, Point{X: 0, Y: 1}),
			},
			wantDegenerate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SolveStep(Accumulate(tt.corrs, Identity()), DefaultSolverConfig())
			require.Error(t, err)
			assert.Equal(t, tt.wantInsuff, errors.Is(err, ErrInsufficientData), "ErrInsufficientData: %v", err)
			assert.Equal(t, tt.wantDegenerate, errors.Is(err, ErrDegenerateConfiguration), "ErrDegenerateConfiguration: %v", err)
		})
	}
}

func TestSolverConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SolverConfig
		wantErr bool
	}{
		{"zero value", SolverConfig{}, false},
		{"defaults", DefaultSolverConfig(), false},
		{"unconstrained", SolverConfig{Multiplier: MultiplierUnconstrained}, false},
		{"unknown multiplier", SolverConfig{Multiplier: "bogus"}, true},
		{"negative iterations", SolverConfig{Iterations: -1}, true},
		{"negative epsilon", SolverConfig{ConvergenceEpsilon: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSolverConfigDefaults(t *testing.T) {
	cfg := SolverConfig{}.withDefaults()
	assert.Equal(t, 5, cfg.Iterations)
	assert.Equal(t, MultiplierConstrained, cfg.Multiplier)
	assert.Equal(t, 1e-9, cfg.rootTolerance())
	assert.Equal(t, DefaultQualityThresholds(), cfg.Quality)

	cfg.ExactRoots = true
	assert.Equal(t, 0.0, cfg.rootTolerance())
}
