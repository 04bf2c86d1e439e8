package scan

import (
	"fmt"
	"log"
	"math"
)

// UpdateResult contains the result of one update call
type UpdateResult struct {
	Transform   RigidTransform `json:"transform"`   // Refined transform
	Multipliers []float64      `json:"multipliers"` // Lambda used in each round
	Iterations  int            `json:"iterations"`  // Rounds actually run
	Converged   bool           `json:"converged"`   // Last round moved less than ConvergenceEpsilon
	RMSEBefore  float64        `json:"rmseBefore"`  // Point-to-line RMSE under the input transform
	RMSEAfter   float64        `json:"rmseAfter"`   // Point-to-line RMSE under the refined transform
	Quality     Quality        `json:"quality"`     // Grade of RMSEAfter
}

// UpdateTransform refines current against a fixed set of point-to-line correspondences.
// Each round re-accumulates the cost with the latest estimate, solves the constrained
// step and composes the correction onto the estimate. Correspondences are not
// re-associated; that is the caller's outer loop. On error no transform is returned
// and the caller should keep current.
func UpdateTransform(corrs []Correspondence, current RigidTransform, cfg SolverConfig) (UpdateResult, error) {
	if err := cfg.Validate(); err != nil {
		return UpdateResult{}, err
	}
	cfg = cfg.withDefaults()

	if len(corrs) == 0 {
		return UpdateResult{}, fmt.Errorf("empty correspondence set: %w", ErrInsufficientData)
	}

	result := UpdateResult{
		RMSEBefore:  RMSE(corrs, current),
		Multipliers: make([]float64, 0, cfg.Iterations),
	}

	estimate := current
	for i := 0; i < cfg.Iterations; i++ {
		cm := Accumulate(corrs, estimate)
		step, err := SolveStep(cm, cfg)
		if err != nil {
			return UpdateResult{}, fmt.Errorf("round %d: %w", i+1, err)
		}

		estimate = step.Delta.Compose(estimate)
		result.Multipliers = append(result.Multipliers, step.Lambda)
		result.Iterations = i + 1

		if cfg.Debug {
			log.Printf("[DEBUG] round %d: lambda=%g delta=(%.6f, %.6f, %.6f rad) cost=%g",
				i+1, step.Lambda, step.Delta.X, step.Delta.Y, step.Delta.Theta, step.Cost)
		}

		if cfg.ConvergenceEpsilon > 0 &&
			math.Hypot(step.Delta.X, step.Delta.Y) < cfg.ConvergenceEpsilon &&
			math.Abs(step.Delta.Theta) < cfg.ConvergenceEpsilon {
			result.Converged = true
			break
		}
	}

	result.Transform = estimate
	result.RMSEAfter = RMSE(corrs, estimate)
	result.Quality = cfg.Quality.Grade(result.RMSEAfter)
	return result, nil
}
