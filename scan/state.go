package scan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// LivePose is a robot's latest refined pose in the reference frame
type LivePose struct {
	RobotID   string    `json:"robotId"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Angle     float64   `json:"angle"` // degrees, 0 = East, CCW
	RMSE      float64   `json:"rmse"`
	Quality   Quality   `json:"quality"`
	BatchID   string    `json:"batchId"`
	Timestamp time.Time `json:"timestamp"`
	Color     string    `json:"color"` // hex color for this robot
}

// Transform returns the pose as a RigidTransform
func (lp *LivePose) Transform() RigidTransform {
	return Pose{X: lp.X, Y: lp.Y, Angle: lp.Angle}.Transform()
}

// PoseTracker tracks each robot's refined pose between batches.
// The stored pose seeds the next update for that robot.
type PoseTracker struct {
	mu        sync.RWMutex
	poses     map[string]*LivePose
	batches   map[string]*CorrespondenceBatch // last batch per robot, kept for rendering
	previous  map[string]RigidTransform       // pose the last batch started from
	colors    map[string]string               // robot ID -> hex color
	cachePath string                          // path to pose cache file; empty disables persistence
}

// NewPoseTracker creates a new pose tracker
func NewPoseTracker() *PoseTracker {
	return &PoseTracker{
		poses:    make(map[string]*LivePose),
		batches:  make(map[string]*CorrespondenceBatch),
		previous: make(map[string]RigidTransform),
		colors:   make(map[string]string),
	}
}

// NewPoseTrackerWithCache creates a tracker that persists poses to cachePath.
// If the file exists, the cached poses are loaded on creation.
func NewPoseTrackerWithCache(cachePath string) *PoseTracker {
	pt := NewPoseTracker()
	pt.cachePath = cachePath
	if cachePath != "" {
		if poses, err := LoadPoses(cachePath); err == nil {
			for id, p := range poses {
				pt.poses[id] = p
			}
		}
	}
	return pt
}

// SetColor sets the render color for a robot
func (pt *PoseTracker) SetColor(robotID, hexColor string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.colors[robotID] = hexColor
	if p, ok := pt.poses[robotID]; ok {
		p.Color = hexColor
	}
}

// Current returns the pose the next batch for robotID should start from.
// The second return value is false when nothing has been recorded yet.
func (pt *PoseTracker) Current(robotID string) (RigidTransform, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	p, ok := pt.poses[robotID]
	if !ok {
		return Identity(), false
	}
	return p.Transform(), true
}

// Record stores the outcome of an update for a robot and persists the poses
func (pt *PoseTracker) Record(batch *CorrespondenceBatch, start RigidTransform, res UpdateResult) error {
	pt.mu.Lock()

	color := pt.colors[batch.RobotID]
	if color == "" {
		color = "#FF0000" // default red
	}

	pt.poses[batch.RobotID] = &LivePose{
		RobotID:   batch.RobotID,
		X:         res.Transform.X,
		Y:         res.Transform.Y,
		Angle:     res.Transform.Degrees(),
		RMSE:      res.RMSEAfter,
		Quality:   res.Quality,
		BatchID:   batch.BatchID,
		Timestamp: time.Now(),
		Color:     color,
	}
	pt.batches[batch.RobotID] = batch
	pt.previous[batch.RobotID] = start

	var snapshot map[string]*LivePose
	cachePath := pt.cachePath
	if cachePath != "" {
		snapshot = pt.copyPoses()
	}
	pt.mu.Unlock()

	if cachePath != "" {
		if err := SavePoses(snapshot, cachePath); err != nil {
			return err
		}
	}
	return nil
}

// Reset forgets the pose of a robot so its next batch starts from its initial pose
func (pt *PoseTracker) Reset(robotID string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.poses, robotID)
	delete(pt.batches, robotID)
	delete(pt.previous, robotID)
}

// GetPoses returns copies of all current poses
func (pt *PoseTracker) GetPoses() map[string]*LivePose {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.copyPoses()
}

func (pt *PoseTracker) copyPoses() map[string]*LivePose {
	result := make(map[string]*LivePose, len(pt.poses))
	for k, v := range pt.poses {
		copy := *v
		result[k] = &copy
	}
	return result
}

// RobotIDs returns the IDs of all tracked robots, sorted
func (pt *PoseTracker) RobotIDs() []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	ids := make([]string, 0, len(pt.poses))
	for id := range pt.poses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastAlignment returns the last batch of a robot with the transforms before and after its update
func (pt *PoseTracker) LastAlignment(robotID string) (*CorrespondenceBatch, RigidTransform, RigidTransform, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	batch, ok := pt.batches[robotID]
	if !ok {
		return nil, RigidTransform{}, RigidTransform{}, false
	}
	return batch, pt.previous[robotID], pt.poses[robotID].Transform(), true
}

// SavePoses writes poses to disk as JSON.
func SavePoses(poses map[string]*LivePose, path string) error {
	data, err := json.MarshalIndent(poses, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal poses: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pose cache: %w", err)
	}
	return nil
}

// LoadPoses reads poses from a JSON file on disk.
func LoadPoses(path string) (map[string]*LivePose, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pose cache: %w", err)
	}
	var poses map[string]*LivePose
	if err := json.Unmarshal(data, &poses); err != nil {
		return nil, fmt.Errorf("unmarshal pose cache: %w", err)
	}
	return poses, nil
}
