package scan

import "errors"

var (
	// ErrInsufficientData is returned when the correspondences cannot constrain
	// the four-parameter state (empty set or fewer than two normal directions).
	ErrInsufficientData = errors.New("insufficient correspondence data")

	// ErrDegenerateConfiguration is returned when the translation block A, the
	// Schur complement S or the final linear system is singular.
	ErrDegenerateConfiguration = errors.New("degenerate correspondence configuration")

	// ErrNoRealMultiplier is returned when the multiplier quartic has no real root
	// within the configured tolerance.
	ErrNoRealMultiplier = errors.New("no real lagrange multiplier")

	// ErrDomain is returned by the closed-form root solvers for a zero leading coefficient.
	ErrDomain = errors.New("leading coefficient must be non-zero")
)
