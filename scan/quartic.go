package scan

import (
	"fmt"
	"math"
	"math/cmplx"
)

// QuarticKind classifies a quartic's roots at a given tolerance
type QuarticKind int

const (
	FourRealRoots QuarticKind = iota
	TwoRealRoots
	NoRealRoots
)

func (k QuarticKind) String() string {
	switch k {
	case FourRealRoots:
		return "four-real"
	case TwoRealRoots:
		return "two-real"
	case NoRealRoots:
		return "no-real"
	default:
		return fmt.Sprintf("QuarticKind(%d)", int(k))
	}
}

// QuarticRoots holds the four Ferrari roots together with the resolvent root used
type QuarticRoots struct {
	Roots     [4]complex128
	Resolvent complex128
}

// SolveQuartic returns the roots of a*x^4 + b*x^3 + c*x^2 + d*x + e = 0 using Ferrari's
// method. The resolvent cubic 8m^3 + 8pm^2 + (2p^2 - 8r)m - q^2 = 0 is solved with
// SolveCubic and the caller picks which of its roots drives the factorisation.
func SolveQuartic(a, b, c, d, e float64, resolvent CubicSelector) (QuarticRoots, error) {
	if a == 0 {
		return QuarticRoots{}, fmt.Errorf("quartic %gx^4%+gx^3%+gx^2%+gx%+g: %w", a, b, c, d, e, ErrDomain)
	}
	if resolvent == nil {
		resolvent = LargestModulus
	}

	// Depressed quartic y^4 + p*y^2 + q*y + r with x = y - b/(4a)
	p := (8*a*c - 3*b*b) / (8 * a * a)
	q := (b*b*b - 4*a*b*c + 8*a*a*d) / (8 * a * a * a)
	r := (-3*b*b*b*b + 256*a*a*a*e - 64*a*a*b*d + 16*a*b*b*c) / (256 * a * a * a * a)
	shift := complex(-b/(4*a), 0)

	cubic, err := SolveCubic(8, 8*p, 2*p*p-8*r, -q*q)
	if err != nil {
		return QuarticRoots{}, err
	}
	m := resolvent(cubic)

	var roots QuarticRoots
	roots.Resolvent = m

	if m == 0 {
		// m = 0 is a resolvent root only when q = 0: y^4 + p*y^2 + r is quadratic in y^2
		disc := cmplx.Sqrt(complex(p*p-4*r, 0))
		y1 := cmplx.Sqrt((complex(-p, 0) + disc) / 2)
		y2 := cmplx.Sqrt((complex(-p, 0) - disc) / 2)
		roots.Roots = [4]complex128{shift + y1, shift - y1, shift + y2, shift - y2}
		return roots, nil
	}

	s := cmplx.Sqrt(2 * m)
	t := complex(2*q, 0) / s // sqrt(2)*q/sqrt(m) on the same branch as s
	base := complex(2*p, 0) + 2*m
	plus := cmplx.Sqrt(-(base + t))
	minus := cmplx.Sqrt(-(base - t))

	roots.Roots = [4]complex128{
		shift + (s+plus)/2,
		shift + (s-plus)/2,
		shift + (-s+minus)/2,
		shift + (-s-minus)/2,
	}
	return roots, nil
}

// RealRoots returns the real roots at the given tolerance, largest first
func (r QuarticRoots) RealRoots(tol float64) []float64 {
	return realParts(r.Roots[:], tol)
}

// Classify reports how many of the roots are real at the given tolerance
func (r QuarticRoots) Classify(tol float64) QuarticKind {
	switch n := len(r.RealRoots(tol)); {
	case n == 0:
		return NoRealRoots
	case n < 4:
		return TwoRealRoots
	default:
		return FourRealRoots
	}
}

// GreatestReal returns the greatest root whose imaginary part is zero within tol
func (r QuarticRoots) GreatestReal(tol float64) (float64, bool) {
	reals := r.RealRoots(tol)
	if len(reals) == 0 {
		return 0, false
	}
	return reals[0], true
}

// GreatestRealOrZero is the strict rule: only exactly-real roots count
// and 0 is returned when there are none. Callers must tolerate a spurious zero.
func (r QuarticRoots) GreatestRealOrZero() float64 {
	best := 0.0
	for _, z := range r.Roots {
		if imag(z) == 0 {
			best = math.Max(best, real(z))
		}
	}
	return best
}

// GreatestRealRoot solves the quartic and returns its greatest real root at tol
func GreatestRealRoot(a, b, c, d, e, tol float64) (float64, error) {
	roots, err := SolveQuartic(a, b, c, d, e, LargestModulus)
	if err != nil {
		return 0, err
	}
	root, ok := roots.GreatestReal(tol)
	if !ok {
		return 0, fmt.Errorf("roots %v at tolerance %g: %w", roots.Roots, tol, ErrNoRealMultiplier)
	}
	return root, nil
}
