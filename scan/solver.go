package scan

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MultiplierMode selects how the Lagrange multiplier of the rotation constraint is chosen
type MultiplierMode string

const (
	// MultiplierConstrained uses the greatest real root of the secular quartic
	MultiplierConstrained MultiplierMode = "constrained"
	// MultiplierUnconstrained fixes lambda = 0, which reduces the step to the
	// unconstrained least-squares solution
	MultiplierUnconstrained MultiplierMode = "unconstrained"
)

// SolverConfig holds the knobs of the closed-form point-to-line update
type SolverConfig struct {
	Iterations         int               `yaml:"iterations" json:"iterations"`                 // Refinement rounds per update call
	Multiplier         MultiplierMode    `yaml:"multiplier" json:"multiplier"`                 // constrained or unconstrained
	RootTolerance      float64           `yaml:"rootTolerance" json:"rootTolerance"`           // Relative |imag| accepted as a real root
	ExactRoots         bool              `yaml:"exactRoots" json:"exactRoots"`                 // Demand imag == 0 exactly (ignores RootTolerance)
	SingularThreshold  float64           `yaml:"singularThreshold" json:"singularThreshold"`   // det(X)/|X|_F^2 below this is singular
	ConvergenceEpsilon float64           `yaml:"convergenceEpsilon" json:"convergenceEpsilon"` // Stop early once a round moves less than this; 0 runs every round
	Quality            QualityThresholds `yaml:"quality" json:"quality"`
	Debug              bool              `yaml:"debug" json:"debug"` // Log lambda for every round
}

// DefaultSolverConfig returns the defaults used when a field is left zero
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Iterations:        5,
		Multiplier:        MultiplierConstrained,
		RootTolerance:     1e-9,
		SingularThreshold: 1e-10,
		Quality:           DefaultQualityThresholds(),
	}
}

// withDefaults fills zero fields from DefaultSolverConfig
func (c SolverConfig) withDefaults() SolverConfig {
	def := DefaultSolverConfig()
	if c.Iterations <= 0 {
		c.Iterations = def.Iterations
	}
	if c.Multiplier == "" {
		c.Multiplier = def.Multiplier
	}
	if c.RootTolerance <= 0 {
		c.RootTolerance = def.RootTolerance
	}
	if c.SingularThreshold <= 0 {
		c.SingularThreshold = def.SingularThreshold
	}
	if c.Quality == (QualityThresholds{}) {
		c.Quality = def.Quality
	}
	return c
}

// rootTolerance returns the tolerance handed to the quartic's real-root filter
func (c SolverConfig) rootTolerance() float64 {
	if c.ExactRoots {
		return 0
	}
	return c.RootTolerance
}

// Validate checks values that cannot be defaulted
func (c SolverConfig) Validate() error {
	switch c.Multiplier {
	case "", MultiplierConstrained, MultiplierUnconstrained:
	default:
		return fmt.Errorf("solver.multiplier must be %q or %q, got %q", MultiplierConstrained, MultiplierUnconstrained, c.Multiplier)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("solver.iterations must not be negative, got %d", c.Iterations)
	}
	if c.ConvergenceEpsilon < 0 {
		return fmt.Errorf("solver.convergenceEpsilon must not be negative, got %g", c.ConvergenceEpsilon)
	}
	return nil
}

// Partition splits the 4x4 cost matrix into its 2x2 blocks M = [A B; B' D]
func Partition(m mat.Symmetric) (a, b, d *mat.Dense) {
	full := mat.DenseCopyOf(m)
	a = mat.DenseCopyOf(full.Slice(0, 2, 0, 2))
	b = mat.DenseCopyOf(full.Slice(0, 2, 2, 4))
	d = mat.DenseCopyOf(full.Slice(2, 4, 2, 4))
	return a, b, d
}

// nearSingular reports whether a 2x2 block is singular relative to scale, the
// Frobenius norm of the block it was derived from
func nearSingular(m mat.Matrix, scale, threshold float64) (float64, bool) {
	det := mat.Det(m)
	return det, scale == 0 || math.Abs(det) <= threshold*scale*scale
}

// schur holds the reduced rotation-only problem (S + lambda*I) r = h
type schur struct {
	s  *mat.Dense    // D - B'A^-1 B
	sa *mat.Dense    // det(S) * S^-1
	h  *mat.VecDense // (B'A^-1 g1 - g2) / 2
}

func reduce(cm CostMatrices, cfg SolverConfig) (schur, error) {
	if cm.N == 0 {
		return schur{}, fmt.Errorf("no correspondences: %w", ErrInsufficientData)
	}

	a, b, d := Partition(cm.M)
	// A is the sum of the normals' outer products, so it is singular exactly when
	// the normals span fewer than two directions.
	if det, singular := nearSingular(a, mat.Norm(a, 2), cfg.SingularThreshold); singular {
		return schur{}, fmt.Errorf("%w: translation block singular (det=%g, %d correspondences): %w",
			ErrInsufficientData, det, cm.N, ErrDegenerateConfiguration)
	}

	var aInv mat.Dense
	if err := aInv.Inverse(a); err != nil {
		return schur{}, fmt.Errorf("inverting translation block: %v: %w", err, ErrDegenerateConfiguration)
	}

	var btAInv mat.Dense
	btAInv.Mul(b.T(), &aInv)

	var coupling mat.Dense
	coupling.Mul(&btAInv, b)

	s := new(mat.Dense)
	s.Sub(d, &coupling)

	// S is a difference of two matrices of D's size, so judge it against D
	detS, singular := nearSingular(s, mat.Norm(d, 2), cfg.SingularThreshold)
	if singular {
		return schur{}, fmt.Errorf("schur complement singular (det=%g): %w", detS, ErrDegenerateConfiguration)
	}

	var sInv mat.Dense
	if err := sInv.Inverse(s); err != nil {
		return schur{}, fmt.Errorf("inverting schur complement: %v: %w", err, ErrDegenerateConfiguration)
	}
	sa := new(mat.Dense)
	sa.Scale(detS, &sInv)

	h := new(mat.VecDense)
	h.MulVec(&btAInv, cm.G.SliceVec(0, 2))
	h.SubVec(h, cm.G.SliceVec(2, 4))
	h.ScaleVec(0.5, h)

	return schur{s: s, sa: sa, h: h}, nil
}

// MultiplierPolynomial returns the coefficients (highest degree first) of the secular
// quartic whose greatest real root is the multiplier enforcing |r| = 1:
//
//	|(S_A + lambda*I) h|^2 = (lambda^2 + tr(S)*lambda + det(S))^2
func MultiplierPolynomial(cm CostMatrices, cfg SolverConfig) ([5]float64, error) {
	cfg = cfg.withDefaults()
	red, err := reduce(cm, cfg)
	if err != nil {
		return [5]float64{}, err
	}
	return red.polynomial(), nil
}

func (red schur) polynomial() [5]float64 {
	tr := mat.Trace(red.s)
	det := mat.Det(red.s)

	var sah mat.VecDense
	sah.MulVec(red.sa, red.h)

	hh := mat.Dot(red.h, red.h)
	hSah := mat.Dot(red.h, &sah)
	sahSah := mat.Dot(&sah, &sah)

	return [5]float64{
		1,
		2 * tr,
		tr*tr + 2*det - hh,
		2*tr*det - 2*hSah,
		det*det - sahSah,
	}
}

// LagrangeMultiplier returns the greatest real root of the multiplier quartic
func LagrangeMultiplier(cm CostMatrices, cfg SolverConfig) (float64, error) {
	cfg = cfg.withDefaults()
	red, err := reduce(cm, cfg)
	if err != nil {
		return 0, err
	}
	return red.multiplier(cfg)
}

func (red schur) multiplier(cfg SolverConfig) (float64, error) {
	co := red.polynomial()
	roots, err := SolveQuartic(co[0], co[1], co[2], co[3], co[4], LargestModulus)
	if err != nil {
		return 0, fmt.Errorf("multiplier quartic: %v: %w", err, ErrDegenerateConfiguration)
	}
	lambda, ok := roots.GreatestReal(cfg.rootTolerance())
	if !ok {
		return 0, fmt.Errorf("quartic %v has roots %v: %w", co, roots.Roots, ErrNoRealMultiplier)
	}
	return lambda, nil
}

// StepResult is the outcome of one closed-form solve
type StepResult struct {
	Delta  RigidTransform     // Correction to compose onto the transform the step was accumulated with
	Lambda float64            // Multiplier used
	State  [StateSize]float64 // Raw solution (tx, ty, c, s)
	Cost   float64            // x'Mx + g'x at the solution
}

// SolveStep minimises x'Mx + g'x subject to x'Wx = 1 and returns the rigid correction
// x = -(2M + 2*lambda*W)^-1 g, with theta = atan2(x3, x2).
func SolveStep(cm CostMatrices, cfg SolverConfig) (StepResult, error) {
	cfg = cfg.withDefaults()
	red, err := reduce(cm, cfg)
	if err != nil {
		return StepResult{}, err
	}

	lambda := 0.0
	if cfg.Multiplier == MultiplierConstrained {
		if lambda, err = red.multiplier(cfg); err != nil {
			return StepResult{}, err
		}
	}

	k := mat.NewDense(StateSize, StateSize, nil)
	k.Scale(2, cm.M)
	var lw mat.Dense
	lw.Scale(2*lambda, cm.W)
	k.Add(k, &lw)

	x := mat.NewVecDense(StateSize, nil)
	if err := x.SolveVec(k, cm.G); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 0) {
			return StepResult{}, fmt.Errorf("solving for state (lambda=%g): %v: %w", lambda, err, ErrDegenerateConfiguration)
		}
	}
	x.ScaleVec(-1, x)

	if x.AtVec(2) == 0 && x.AtVec(3) == 0 {
		return StepResult{}, fmt.Errorf("rotation part of the state vanished (lambda=%g): %w", lambda, ErrDegenerateConfiguration)
	}

	res := StepResult{
		Delta:  NewRigidTransform(x.AtVec(0), x.AtVec(1), math.Atan2(x.AtVec(3), x.AtVec(2))),
		Lambda: lambda,
		Cost:   cm.Cost(x),
	}
	for i := range res.State {
		res.State[i] = x.AtVec(i)
	}
	return res, nil
}
