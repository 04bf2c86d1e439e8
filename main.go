package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the command line options
type AppOptions struct {
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

// Application is the set of entry points run dispatches to
type Application interface {
	ApplyOptions(opts AppOptions)
	RunBatch() error
	RunService()
}

func main() {
	app := NewApp()
	if err := run(os.Args[1:], os.Stdout, app); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the selected mode
func run(args []string, out io.Writer, app Application) error {
	fs := flag.NewFlagSet("tudoscan", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.BatchFile, "batch", "", "Apply one correspondence batch (JSON or GeoJSON file, or http(s) URL) and exit")
	fs.StringVar(&opts.Robot, "robot", "", "Robot ID whose configured initial pose seeds --batch")
	fs.StringVar(&opts.Initial, "initial", "", "Initial pose for --batch as X,Y,DEGREES (overrides the batch and config)")
	fs.IntVar(&opts.Iterations, "iterations", 0, "Refinement rounds per batch (0 = config or default)")
	fs.StringVar(&opts.Multiplier, "multiplier", "", "Multiplier mode: constrained or unconstrained")
	fs.BoolVar(&opts.Debug, "debug", false, "Log the Lagrange multiplier of every round")
	fs.StringVar(&opts.OutputFile, "output", "", "Render the alignment of --batch to this file (.png or .svg)")
	fs.StringVar(&opts.ExportFile, "export", "", "Export the alignment of --batch as GeoJSON to this file")
	fs.StringVar(&opts.RenderFormat, "format", "raster", "PNG render format: raster or vector")
	fs.Float64Var(&opts.GridSpacing, "grid-spacing", 1.0, "Grid line spacing in world units for vector output (0 disables)")
	fs.BoolVar(&opts.ShowNormals, "normals", false, "Draw correspondence normals when rendering")
	fs.StringVar(&opts.PoseCache, "pose-cache", ".pose-cache.json", "Path to the pose cache file for service mode")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode for live pose updates")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for poses and alignment images")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "tudoscan version: %s\n", Version)
	app.ApplyOptions(opts)

	if opts.BatchFile != "" {
		return app.RunBatch()
	}

	if opts.MqttMode || opts.HttpMode {
		app.RunService()
		return nil
	}

	fmt.Fprintln(out, "tudoscan service starting...")
	fmt.Fprintln(out, "Use --batch=FILE to refine a pose from one correspondence batch")
	fmt.Fprintln(out, "Use --batch=FILE --output=alignment.svg to render the result")
	fmt.Fprintln(out, "Use --batch=FILE --export=alignment.geojson to export the result")
	fmt.Fprintln(out, "Use --mqtt to run MQTT service mode")
	fmt.Fprintln(out, "Use --http to run HTTP server mode")
	fmt.Fprintln(out, "Use --mqtt --http to run both MQTT and HTTP together")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - MQTT settings, solver settings and robots")
	fmt.Fprintln(out, "  .pose-cache.json - Last refined pose per robot (service mode)")
	return nil
}
