package scan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Batch encodings accepted by DecodeBatch:
//
//   - plain JSON: a CorrespondenceBatch object
//   - GeoJSON FeatureCollection, where each feature is one of
//     a LineString reference wall with an optional "scan": [x, y] property (the scan
//     point matched against the nearest edge of the wall),
//     a Polygon room outline (reference only), or
//     a Point scan point with "pi": [x, y] and "normal": [x, y] properties.
//     robotId, batchId and initial ({x, y, angle}) are read from the collection's
//     foreign members.

// DecodeBatch decodes a correspondence batch from JSON or GeoJSON bytes
func DecodeBatch(data []byte) (*CorrespondenceBatch, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding batch: %w", err)
	}

	if probe.Type == "FeatureCollection" {
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("decoding GeoJSON batch: %w", err)
		}
		return BatchFromFeatureCollection(fc)
	}

	var batch CorrespondenceBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decoding JSON batch: %w", err)
	}
	for i, c := range batch.Correspondences {
		batch.Correspondences[i] = NewCorrespondence(c.P, c.Pi, c.Normal)
	}
	return &batch, nil
}

// LoadBatch reads and decodes a batch file
func LoadBatch(path string) (*CorrespondenceBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	return DecodeBatch(data)
}

// BatchFromFeatureCollection builds a batch from a GeoJSON feature collection
func BatchFromFeatureCollection(fc *geojson.FeatureCollection) (*CorrespondenceBatch, error) {
	batch := &CorrespondenceBatch{
		RobotID: memberString(fc.ExtraMembers, "robotId"),
		BatchID: memberString(fc.ExtraMembers, "batchId"),
	}

	initial := Identity()
	if raw, ok := fc.ExtraMembers["initial"]; ok {
		pose, err := poseFromMember(raw)
		if err != nil {
			return nil, fmt.Errorf("initial: %w", err)
		}
		batch.Initial = &pose
		initial = pose.Transform()
	}

	// Optional Douglas-Peucker tolerance for densely traced walls
	tolerance, _ := fc.ExtraMembers["wallTolerance"].(float64)
	if tolerance < 0 {
		return nil, fmt.Errorf("wallTolerance must not be negative, got %g", tolerance)
	}

	for i, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.LineString:
			g = SimplifyLineString(g, tolerance)
			segments := SegmentsFromLineString(g)
			if len(segments) == 0 {
				return nil, fmt.Errorf("feature %d: wall needs at least two vertices", i)
			}
			batch.Segments = append(batch.Segments, segments...)

			raw, ok := f.Properties["scan"]
			if !ok {
				continue
			}
			p, err := pointFromMember(raw)
			if err != nil {
				return nil, fmt.Errorf("feature %d scan: %w", i, err)
			}
			// Pick the edge closest to the scan point as seen from the initial pose
			_, idx := planar.DistanceFromWithIndex(g, orbPoint(initial.Apply(p)))
			if idx < 0 {
				idx = 0
			}
			batch.Correspondences = append(batch.Correspondences, segments[idx].Match(p))

		case orb.Polygon:
			for _, ring := range g {
				batch.Segments = append(batch.Segments, SegmentsFromRing(SimplifyRing(ring, tolerance))...)
			}

		case orb.Point:
			pi, err := pointFromMember(f.Properties["pi"])
			if err != nil {
				return nil, fmt.Errorf("feature %d pi: %w", i, err)
			}
			n, err := pointFromMember(f.Properties["normal"])
			if err != nil {
				return nil, fmt.Errorf("feature %d normal: %w", i, err)
			}
			batch.Correspondences = append(batch.Correspondences, NewCorrespondence(pointFromOrb(g), pi, n))

		default:
			return nil, fmt.Errorf("feature %d: unsupported geometry %T", i, f.Geometry)
		}
	}

	return batch, nil
}

// memberString reads an optional string member, ignoring values of other types
func memberString(p geojson.Properties, key string) string {
	s, _ := p[key].(string)
	return s
}

// pointFromMember reads an [x, y] array decoded from JSON
func pointFromMember(raw interface{}) (Point, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Point{}, fmt.Errorf("expected [x, y], got %v", raw)
	}
	x, okX := values[0].(float64)
	y, okY := values[1].(float64)
	if !okX || !okY {
		return Point{}, fmt.Errorf("expected numeric [x, y], got %v", raw)
	}
	return Point{X: x, Y: y}, nil
}

// poseFromMember re-decodes a foreign member object into a Pose
func poseFromMember(raw interface{}) (Pose, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return Pose{}, err
	}
	var pose Pose
	if err := json.Unmarshal(data, &pose); err != nil {
		return Pose{}, err
	}
	return pose, nil
}

// AlignmentFeatureCollection exports the reference walls, the scan before and after
// the update, and the refined pose as GeoJSON.
func AlignmentFeatureCollection(batch *CorrespondenceBatch, before, after RigidTransform) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"robotId": batch.RobotID,
		"batchId": batch.BatchID,
		"pose":    PoseOf(after),
	}

	for _, s := range batch.Segments {
		f := geojson.NewFeature(s.LineString())
		f.Properties["layer"] = "reference"
		fc.Append(f)
	}

	scanPoints := make([]Point, len(batch.Correspondences))
	for i, c := range batch.Correspondences {
		scanPoints[i] = c.P
	}

	for _, layer := range []struct {
		name string
		t    RigidTransform
	}{{"scan-before", before}, {"scan-after", after}} {
		var mp orb.MultiPoint
		for _, p := range layer.t.ApplyAll(scanPoints) {
			mp = append(mp, orbPoint(p))
		}
		f := geojson.NewFeature(mp)
		f.Properties["layer"] = layer.name
		if len(batch.Correspondences) > 0 {
			f.Properties["rmse"] = RMSE(batch.Correspondences, layer.t)
		}
		fc.Append(f)
	}

	return fc
}

// WriteAlignmentGeoJSON writes AlignmentFeatureCollection to path
func WriteAlignmentGeoJSON(path string, batch *CorrespondenceBatch, before, after RigidTransform) error {
	data, err := AlignmentFeatureCollection(batch, before, after).MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling alignment GeoJSON: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("formatting alignment GeoJSON: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing alignment GeoJSON: %w", err)
	}
	return nil
}
