package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/kwv/tudoscan/scan"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(tracker *scan.PoseTracker, config *scan.Config, gridSpacing float64) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Robots    int       `json:"robots"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Robots:    len(tracker.RobotIDs()),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Latest refined pose per robot
	mux.HandleFunc("/poses", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(tracker.GetPoses()); err != nil {
			log.Printf("Error encoding poses: %v", err)
		}
	})

	mux.HandleFunc("/alignment.svg", func(w http.ResponseWriter, r *http.Request) {
		batch, before, after, ok := lastAlignment(w, r, tracker)
		if !ok {
			return
		}

		vr := scan.NewVectorRenderer(batch, before, after)
		vr.Color = configColor(config, batch.RobotID)
		vr.GridSpacing = gridSpacing
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := vr.RenderToSVG(w); err != nil {
			log.Printf("Error rendering alignment SVG for %s: %v", batch.RobotID, err)
		}
	})

	mux.HandleFunc("/alignment.png", func(w http.ResponseWriter, r *http.Request) {
		batch, before, after, ok := lastAlignment(w, r, tracker)
		if !ok {
			return
		}

		renderer := scan.NewAlignmentRenderer(batch, before, after)
		renderer.Color = configColor(config, batch.RobotID)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.WritePNG(w); err != nil {
			log.Printf("Error encoding alignment PNG for %s: %v", batch.RobotID, err)
		}
	})

	mux.HandleFunc("/alignment.geojson", func(w http.ResponseWriter, r *http.Request) {
		batch, before, after, ok := lastAlignment(w, r, tracker)
		if !ok {
			return
		}

		data, err := scan.AlignmentFeatureCollection(batch, before, after).MarshalJSON()
		if err != nil {
			http.Error(w, "Failed to encode alignment", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(data); err != nil {
			log.Printf("Error writing alignment GeoJSON for %s: %v", batch.RobotID, err)
		}
	})

	return mux
}

// lastAlignment resolves the ?robot= query parameter, writing an error response when
// the robot is missing or has no batch yet.
func lastAlignment(w http.ResponseWriter, r *http.Request, tracker *scan.PoseTracker) (*scan.CorrespondenceBatch, scan.RigidTransform, scan.RigidTransform, bool) {
	log.Printf("[HTTP] %s request from %s", r.URL.Path, r.RemoteAddr)

	robotID := r.URL.Query().Get("robot")
	if robotID == "" {
		ids := tracker.RobotIDs()
		if len(ids) != 1 {
			http.Error(w, "robot query parameter is required", http.StatusBadRequest)
			return nil, scan.RigidTransform{}, scan.RigidTransform{}, false
		}
		robotID = ids[0]
	}

	batch, before, after, ok := tracker.LastAlignment(robotID)
	if !ok {
		http.Error(w, "No alignment available for "+robotID, http.StatusNotFound)
		return nil, scan.RigidTransform{}, scan.RigidTransform{}, false
	}
	return batch, before, after, true
}

// configColor returns the robot's configured color, or the default red
func configColor(config *scan.Config, robotID string) string {
	if config == nil {
		return "#FF0000"
	}
	if rc := config.GetRobotByID(robotID); rc != nil && rc.Color != "" {
		return rc.Color
	}
	return "#FF0000"
}
