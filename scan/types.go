package scan

import "math"

// Point represents a 2D coordinate
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// FromPolar builds a point from a range/bearing pair (bearing in radians, CCW from +X)
func FromPolar(r, bearing float64) Point {
	return Point{X: r * math.Cos(bearing), Y: r * math.Sin(bearing)}
}

// Polar returns the range and bearing of the point as seen from the origin
func (p Point) Polar() (r, bearing float64) {
	return math.Hypot(p.X, p.Y), math.Atan2(p.Y, p.X)
}

// Correspondence pairs a scan point with a reference line.
// Pi is a point on the matched line and Normal is the line's unit normal.
type Correspondence struct {
	P      Point `json:"p"`
	Pi     Point `json:"pi"`
	Normal Point `json:"normal"`
}

// NewCorrespondence creates a correspondence, normalizing n to unit length.
// A zero normal is kept as-is and contributes nothing to the cost.
func NewCorrespondence(p, pi, n Point) Correspondence {
	length := math.Hypot(n.X, n.Y)
	if length > 0 {
		n = Point{X: n.X / length, Y: n.Y / length}
	}
	return Correspondence{P: p, Pi: pi, Normal: n}
}

// CorrespondenceFromSegment matches scan point p against the reference segment a-b.
// Pi is the projection of p onto the segment (clamped to its endpoints) and the
// normal is the left-hand perpendicular of a->b.
func CorrespondenceFromSegment(p, a, b Point) Correspondence {
	dx := b.X - a.X
	dy := b.Y - a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return Correspondence{P: p, Pi: a}
	}

	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	pi := Point{X: a.X + t*dx, Y: a.Y + t*dy}

	return NewCorrespondence(p, pi, Point{X: -dy, Y: dx})
}

// Residual returns the signed point-to-line distance of the scan point once mapped by t
func (c Correspondence) Residual(t RigidTransform) float64 {
	q := t.Apply(c.P)
	return (q.X-c.Pi.X)*c.Normal.X + (q.Y-c.Pi.Y)*c.Normal.Y
}

// Pose is the JSON/YAML form of a rigid transform with the angle in degrees
type Pose struct {
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	Angle float64 `json:"angle" yaml:"angle"` // degrees, CCW
}

// Transform converts the pose into a RigidTransform
func (p Pose) Transform() RigidTransform {
	return NewRigidTransform(p.X, p.Y, p.Angle*math.Pi/180)
}

// PoseOf converts a RigidTransform into its degree-based pose form
func PoseOf(t RigidTransform) Pose {
	return Pose{X: t.X, Y: t.Y, Angle: t.Degrees()}
}

// CorrespondenceBatch is one set of correspondences delivered by the matching front end
type CorrespondenceBatch struct {
	RobotID         string           `json:"robotId,omitempty"`
	BatchID         string           `json:"batchId,omitempty"`
	Initial         *Pose            `json:"initial,omitempty"`
	Correspondences []Correspondence `json:"correspondences"`
	Segments        []Segment        `json:"segments,omitempty"` // Reference walls, used for rendering/export only
}

// PoseUpdate is the published result of one update call
type PoseUpdate struct {
	RobotID     string    `json:"robotId"`
	BatchID     string    `json:"batchId"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Angle       float64   `json:"angle"` // degrees
	RMSEBefore  float64   `json:"rmseBefore"`
	RMSEAfter   float64   `json:"rmseAfter"`
	Quality     Quality   `json:"quality"`
	Multipliers []float64 `json:"multipliers,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}

// PoseUpdateOf builds the publishable form of an update result
func PoseUpdateOf(robotID, batchID string, res UpdateResult, timestamp int64) PoseUpdate {
	return PoseUpdate{
		RobotID:     robotID,
		BatchID:     batchID,
		X:           res.Transform.X,
		Y:           res.Transform.Y,
		Angle:       res.Transform.Degrees(),
		RMSEBefore:  res.RMSEBefore,
		RMSEAfter:   res.RMSEAfter,
		Quality:     res.Quality,
		Multipliers: res.Multipliers,
		Timestamp:   timestamp,
	}
}

// RobotConfig defines a robot whose correspondence batches are matched
type RobotConfig struct {
	ID      string `yaml:"id" json:"id"`
	Topic   string `yaml:"topic" json:"topic"`                         // MQTT topic carrying correspondence batches
	Color   string `yaml:"color,omitempty" json:"color,omitempty"`     // Hex color used when rendering
	Initial *Pose  `yaml:"initial,omitempty" json:"initial,omitempty"` // Starting pose; identity when omitted
}

// GetInitial returns the configured initial transform or identity
func (rc *RobotConfig) GetInitial() RigidTransform {
	if rc.Initial != nil {
		return rc.Initial.Transform()
	}
	return Identity()
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	MQTT   MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	Solver SolverConfig  `yaml:"solver" json:"solver"`
	Robots []RobotConfig `yaml:"robots" json:"robots"`
}

// GetRobotByID returns the robot config for the given ID
func (c *Config) GetRobotByID(id string) *RobotConfig {
	for i := range c.Robots {
		if c.Robots[i].ID == id {
			return &c.Robots[i]
		}
	}
	return nil
}
