package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/tudoscan/scan"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *scan.Config
	Tracker    *scan.PoseTracker
	MQTTClient *scan.MQTTClient
	Publisher  *scan.Publisher
	Out        io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	BatchFile    string
	Robot        string
	Initial      string
	Iterations   int
	Multiplier   string
	Debug        bool
	OutputFile   string
	ExportFile   string
	RenderFormat string
	GridSpacing  float64
	ShowNormals  bool
	PoseCache    string
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Tracker: scan.NewPoseTracker(),
		Out:     os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.BatchFile = opts.BatchFile
	a.Robot = opts.Robot
	a.Initial = opts.Initial
	a.Iterations = opts.Iterations
	a.Multiplier = opts.Multiplier
	a.Debug = opts.Debug
	a.OutputFile = opts.OutputFile
	a.ExportFile = opts.ExportFile
	a.RenderFormat = opts.RenderFormat
	a.GridSpacing = opts.GridSpacing
	a.ShowNormals = opts.ShowNormals
	a.PoseCache = opts.PoseCache
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// solverConfig merges the config file's solver section with the CLI overrides
func (a *App) solverConfig() (scan.SolverConfig, error) {
	var cfg scan.SolverConfig
	if a.Config != nil {
		cfg = a.Config.Solver
	}
	if a.Iterations > 0 {
		cfg.Iterations = a.Iterations
	}
	if a.Multiplier != "" {
		cfg.Multiplier = scan.MultiplierMode(a.Multiplier)
	}
	if a.Debug {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

// loadOptionalConfig loads the config file when it exists. Batch mode works without one.
func (a *App) loadOptionalConfig() error {
	if a.ConfigFile == "" {
		return nil
	}
	if _, err := os.Stat(a.ConfigFile); os.IsNotExist(err) {
		return nil
	}
	config, err := scan.LoadConfig(a.ConfigFile)
	if err != nil {
		return err
	}
	a.Config = config
	return nil
}

// parseInitial parses an "X,Y,DEGREES" pose
func parseInitial(s string) (scan.RigidTransform, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return scan.RigidTransform{}, fmt.Errorf("initial pose %q: expected X,Y,DEGREES", s)
	}

	var values [3]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return scan.RigidTransform{}, fmt.Errorf("initial pose %q: %w", s, err)
		}
		values[i] = v
	}
	return scan.Pose{X: values[0], Y: values[1], Angle: values[2]}.Transform(), nil
}

// robotConfig returns the config entry for robotID, or nil
func (a *App) robotConfig(robotID string) *scan.RobotConfig {
	if a.Config == nil || robotID == "" {
		return nil
	}
	return a.Config.GetRobotByID(robotID)
}

// batchStart picks the transform a CLI batch starts from: --initial, then the
// batch's own initial pose, then the robot's configured pose, then identity.
func (a *App) batchStart(batch *scan.CorrespondenceBatch, robotID string) (scan.RigidTransform, error) {
	if a.Initial != "" {
		return parseInitial(a.Initial)
	}
	if batch.Initial != nil {
		return batch.Initial.Transform(), nil
	}
	if rc := a.robotConfig(robotID); rc != nil {
		return rc.GetInitial(), nil
	}
	return scan.Identity(), nil
}

// batchReport is what RunBatch prints
type batchReport struct {
	scan.PoseUpdate
	Iterations int  `json:"iterations"`
	Converged  bool `json:"converged"`
}

// loadBatch reads the batch from a file or, for http(s) sources, from the network
func (a *App) loadBatch() (*scan.CorrespondenceBatch, error) {
	if scan.IsBatchURL(a.BatchFile) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		return scan.FetchBatch(ctx, a.BatchFile)
	}
	return scan.LoadBatch(a.BatchFile)
}

// RunBatch refines the pose for one batch file and prints the result as JSON
func (a *App) RunBatch() error {
	if err := a.loadOptionalConfig(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	batch, err := a.loadBatch()
	if err != nil {
		return err
	}

	robotID := a.Robot
	if robotID == "" {
		robotID = batch.RobotID
	}
	batch.RobotID = robotID

	start, err := a.batchStart(batch, robotID)
	if err != nil {
		return err
	}

	cfg, err := a.solverConfig()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "Refining pose from %d correspondences (start: %.3f, %.3f, %.2f°)\n",
		len(batch.Correspondences), start.X, start.Y, start.Degrees())

	res, err := scan.UpdateTransform(batch.Correspondences, start, cfg)
	if err != nil {
		return fmt.Errorf("updating transform: %w", err)
	}

	report := batchReport{
		PoseUpdate: scan.PoseUpdateOf(robotID, batch.BatchID, res, time.Now().Unix()),
		Iterations: res.Iterations,
		Converged:  res.Converged,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	fmt.Fprintln(a.Out, string(data))

	if a.OutputFile != "" {
		if err := a.renderAlignment(a.OutputFile, batch, start, res.Transform); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Saved alignment render to %s\n", a.OutputFile)
	}

	if a.ExportFile != "" {
		if err := scan.WriteAlignmentGeoJSON(a.ExportFile, batch, start, res.Transform); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Saved alignment GeoJSON to %s\n", a.ExportFile)
	}

	return nil
}

// renderAlignment writes the alignment image, choosing the renderer from the file extension
func (a *App) renderAlignment(path string, batch *scan.CorrespondenceBatch, before, after scan.RigidTransform) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".png" && ext != ".svg" {
		return fmt.Errorf("unsupported render format %q (use .png or .svg)", ext)
	}

	if ext == ".png" && a.RenderFormat != "vector" {
		r := scan.NewAlignmentRenderer(batch, before, after)
		r.Color = configColor(a.Config, batch.RobotID)
		r.ShowNormals = a.ShowNormals
		return r.SavePNG(path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	vr := scan.NewVectorRenderer(batch, before, after)
	vr.Color = configColor(a.Config, batch.RobotID)
	vr.GridSpacing = a.GridSpacing
	vr.ShowNormals = a.ShowNormals
	if ext == ".svg" {
		return vr.RenderToSVG(f)
	}
	return vr.RenderToPNG(f)
}

// serviceStart picks the transform a live batch starts from: the batch's own
// initial pose, then the robot's last refined pose, then its configured pose.
func (a *App) serviceStart(robotID string, batch *scan.CorrespondenceBatch) scan.RigidTransform {
	if batch.Initial != nil {
		return batch.Initial.Transform()
	}
	if current, ok := a.Tracker.Current(robotID); ok {
		return current
	}
	if rc := a.robotConfig(robotID); rc != nil {
		return rc.GetInitial()
	}
	return scan.Identity()
}

// handleBatch applies one batch received over MQTT and publishes the outcome
func (a *App) handleBatch(robotID string, batch *scan.CorrespondenceBatch, err error) {
	if err != nil {
		log.Printf("Error receiving batch for %s: %v", robotID, err)
		a.publishError(robotID, "", err)
		return
	}

	cfg, err := a.solverConfig()
	if err != nil {
		log.Printf("Invalid solver config: %v", err)
		return
	}

	start := a.serviceStart(robotID, batch)
	res, err := scan.UpdateTransform(batch.Correspondences, start, cfg)
	if err != nil {
		log.Printf("%s: batch %s rejected: %v", robotID, batch.BatchID, err)
		a.publishError(robotID, batch.BatchID, err)
		return
	}

	if err := a.Tracker.Record(batch, start, res); err != nil {
		log.Printf("Warning: failed to persist pose cache: %v", err)
	}

	log.Printf("%s: batch %s (%d correspondences) rmse %.4f -> %.4f (%s) in %d rounds",
		robotID, batch.BatchID, len(batch.Correspondences), res.RMSEBefore, res.RMSEAfter, res.Quality, res.Iterations)

	if a.Publisher != nil {
		update := scan.PoseUpdateOf(robotID, batch.BatchID, res, time.Now().Unix())
		if err := a.Publisher.PublishPose(update); err != nil {
			log.Printf("Error publishing pose for %s: %v", robotID, err)
		}
	}
}

func (a *App) publishError(robotID, batchID string, updateErr error) {
	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.PublishError(robotID, batchID, updateErr); err != nil {
		log.Printf("Error publishing error for %s: %v", robotID, err)
	}
}

// setupService loads the config and pose cache and starts MQTT when enabled.
// It returns the HTTP handler to serve when HTTP mode is on.
func (a *App) setupService() (http.Handler, error) {
	config, err := scan.LoadConfig(a.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w (looked at %s)", err, a.ConfigFile)
	}
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)

	if _, err := a.solverConfig(); err != nil {
		return nil, err
	}

	if a.PoseCache != "" {
		a.Tracker = scan.NewPoseTrackerWithCache(a.PoseCache)
		if ids := a.Tracker.RobotIDs(); len(ids) > 0 {
			log.Printf("Resumed %d robot poses from %s", len(ids), a.PoseCache)
		}
	}

	for _, rc := range config.Robots {
		if rc.Color != "" {
			a.Tracker.SetColor(rc.ID, rc.Color)
		}
	}

	if a.MqttMode {
		if err := config.ValidateForService(); err != nil {
			return nil, err
		}

		mqttClient, err := scan.InitMQTT(config, a.handleBatch)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return nil, fmt.Errorf("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient

		a.Publisher = scan.NewPublisher(mqttClient.GetClient(), config.MQTT.PublishPrefix)
		fmt.Fprintln(a.Out, "MQTT pose publisher initialized")
	}

	if !a.HttpMode {
		return nil, nil
	}
	return newHTTPServer(a.Tracker, a.Config, a.GridSpacing), nil
}

// RunService runs MQTT and/or HTTP mode until interrupted
func (a *App) RunService() {
	fmt.Fprintln(a.Out, "Starting tudoscan service...")

	httpServer, err := a.setupService()
	if err != nil {
		log.Fatal(err)
	}

	if httpServer != nil {
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
			log.Printf("[HTTP] Server stopped unexpectedly")
		}()
	}

	a.printServiceInfo()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.Out, "Service stopped")
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintln(a.Out, "  Subscribed topics:")
		for _, rc := range a.Config.Robots {
			fmt.Fprintf(a.Out, "    - %s (%s)\n", rc.Topic, rc.ID)
		}
		prefix := scan.DefaultPublishPrefix
		if a.Publisher != nil {
			prefix = a.Publisher.Prefix()
		}
		fmt.Fprintf(a.Out, "  Publishing to: %s/{robotID}/pose\n", prefix)
		fmt.Fprintf(a.Out, "  Rejected batches: %s/{robotID}/error\n", prefix)
		fmt.Fprintf(a.Out, "  Combined poses: %s/poses\n", prefix)
	}

	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET /health                      - Health check")
		fmt.Fprintln(a.Out, "  GET /poses                       - Latest pose per robot")
		fmt.Fprintln(a.Out, "  GET /alignment.svg?robot=ID      - Last alignment as SVG")
		fmt.Fprintln(a.Out, "  GET /alignment.png?robot=ID      - Last alignment as PNG")
		fmt.Fprintln(a.Out, "  GET /alignment.geojson?robot=ID  - Last alignment as GeoJSON")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
