package scan

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

// xi is the primitive cube root of unity used to walk the three Cardano branches
var xi = complex(-0.5, math.Sqrt(3)/2)

// CubicKind classifies a cubic's roots at a given tolerance
type CubicKind int

const (
	ThreeRealRoots CubicKind = iota
	OneRealRoot
	// AllComplex only shows up when the tolerance is tighter than the rounding
	// noise of the complex branches (e.g. exact comparison with three real roots).
	AllComplex
)

func (k CubicKind) String() string {
	switch k {
	case ThreeRealRoots:
		return "three-real"
	case OneRealRoot:
		return "one-real"
	case AllComplex:
		return "all-complex"
	default:
		return fmt.Sprintf("CubicKind(%d)", int(k))
	}
}

// CubicRoots holds the three Cardano branches of a cubic in branch order (k = 0, 1, 2)
type CubicRoots struct {
	Roots [3]complex128
}

// SolveCubic returns the roots of a*x^3 + b*x^2 + c*x + d = 0.
// The cubic is depressed with x = t - b/(3a) and each branch of Cardano's formula
// is evaluated in complex arithmetic, since the discriminant term may be negative
// even when all three roots are real.
func SolveCubic(a, b, c, d float64) (CubicRoots, error) {
	if a == 0 {
		return CubicRoots{}, fmt.Errorf("cubic %gx^3%+gx^2%+gx%+g: %w", a, b, c, d, ErrDomain)
	}

	p := c/a - b*b/(3*a*a)
	q := 2*b*b*b/(27*a*a*a) + d/a - b*c/(3*a*a)
	shift := complex(-b/(3*a), 0)

	inside := cmplx.Sqrt(complex(q*q/4+p*p*p/27, 0))
	w := complex(-q/2, 0) + inside
	// Take the larger of -q/2 +/- inside to avoid cancellation; u and v are symmetric.
	if alt := complex(-q/2, 0) - inside; cmplx.Abs(alt) > cmplx.Abs(w) {
		w = alt
	}
	u := cmplx.Pow(w, 1.0/3)

	var roots CubicRoots
	branch := complex(1, 0)
	for k := 0; k < 3; k++ {
		uk := branch * u
		var vk complex128
		if uk != 0 {
			// Pairing v = -p/(3u) keeps u*v = -p/3 on every branch
			vk = complex(-p/3, 0) / uk
		}
		roots.Roots[k] = shift + uk + vk
		branch *= xi
	}
	return roots, nil
}

// isReal reports whether z's imaginary part is zero within a tolerance relative to
// its magnitude. A tolerance of 0 demands an exactly zero imaginary part.
func isReal(z complex128, tol float64) bool {
	if tol == 0 {
		return imag(z) == 0
	}
	return math.Abs(imag(z)) <= tol*math.Max(1, math.Abs(real(z)))
}

// realParts returns the real parts of the roots considered real, largest first
func realParts(roots []complex128, tol float64) []float64 {
	var result []float64
	for _, z := range roots {
		if isReal(z, tol) {
			result = append(result, real(z))
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(result)))
	return result
}

// RealRoots returns the real roots at the given tolerance, largest first
func (r CubicRoots) RealRoots(tol float64) []float64 {
	return realParts(r.Roots[:], tol)
}

// Classify reports how many of the roots are real at the given tolerance
func (r CubicRoots) Classify(tol float64) CubicKind {
	switch n := len(r.RealRoots(tol)); {
	case n == 0:
		return AllComplex
	case n < 3:
		return OneRealRoot
	default:
		return ThreeRealRoots
	}
}

// CubicSelector picks one root out of a solved cubic
type CubicSelector func(CubicRoots) complex128

// FirstComplexBranch returns the first branch with a non-zero imaginary part, or the
// last branch when all three are exactly real.
func FirstComplexBranch(r CubicRoots) complex128 {
	for _, z := range r.Roots {
		if imag(z) != 0 {
			return z
		}
	}
	return r.Roots[len(r.Roots)-1]
}

// LargestModulus returns the root with the largest absolute value. For a Ferrari
// resolvent this is non-zero whenever any root is.
func LargestModulus(r CubicRoots) complex128 {
	best := r.Roots[0]
	for _, z := range r.Roots[1:] {
		if cmplx.Abs(z) > cmplx.Abs(best) {
			best = z
		}
	}
	return best
}

// LargestReal returns a selector that picks the largest real root at tol, falling
// back to LargestModulus when none qualifies.
func LargestReal(tol float64) CubicSelector {
	return func(r CubicRoots) complex128 {
		if reals := r.RealRoots(tol); len(reals) > 0 {
			return complex(reals[0], 0)
		}
		return LargestModulus(r)
	}
}
