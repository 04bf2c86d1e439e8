package scan

import "math"

// Quality represents the assessed quality of a match from its point-to-line RMSE
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	// QualityUnknown is reported when there is nothing to measure
	QualityUnknown Quality = "unknown"
)

// QualityThresholds are the RMSE upper bounds for each grade, in scan units
type QualityThresholds struct {
	Excellent float64 `yaml:"excellent" json:"excellent"`
	Good      float64 `yaml:"good" json:"good"`
	Fair      float64 `yaml:"fair" json:"fair"`
}

// DefaultQualityThresholds returns thresholds for metric scans (meters)
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		Excellent: 0.05,
		Good:      0.15,
		Fair:      0.30,
	}
}

// Grade maps an RMSE to a quality grade
func (q QualityThresholds) Grade(rmse float64) Quality {
	switch {
	case math.IsNaN(rmse) || math.IsInf(rmse, 0):
		return QualityUnknown
	case rmse < q.Excellent:
		return QualityExcellent
	case rmse < q.Good:
		return QualityGood
	case rmse < q.Fair:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Residuals returns the signed point-to-line distance of every correspondence under t
func Residuals(corrs []Correspondence, t RigidTransform) []float64 {
	result := make([]float64, len(corrs))
	for i, c := range corrs {
		result[i] = c.Residual(t)
	}
	return result
}

// RMSE returns the root mean square point-to-line residual, or NaN for an empty set
func RMSE(corrs []Correspondence, t RigidTransform) float64 {
	if len(corrs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, r := range Residuals(corrs, t) {
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(corrs)))
}
