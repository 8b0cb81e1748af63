package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joselamego/IntelligentTrafficControl/internal/api"
	"github.com/joselamego/IntelligentTrafficControl/internal/camera"
	"github.com/joselamego/IntelligentTrafficControl/internal/config"
	"github.com/joselamego/IntelligentTrafficControl/internal/db"
	"github.com/joselamego/IntelligentTrafficControl/internal/gpio"
	"github.com/joselamego/IntelligentTrafficControl/internal/monitoring"
	"github.com/joselamego/IntelligentTrafficControl/internal/phase"
	"github.com/joselamego/IntelligentTrafficControl/internal/stream"
	"github.com/joselamego/IntelligentTrafficControl/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address")
	configPath  = flag.String("config", "", "Path to controller JSON config (defaults built in)")
	minArea     = flag.Int("min-area", config.DefaultMinArea, "Minimum contour area, in pixels, that counts as motion (overrides min_area in -config)")
	devMode     = flag.Bool("dev", false, "Run with synthetic cameras and recorded lamp outputs")
	dbPath      = flag.String("db-path", "lightcontrol.db", "Path to the transition log database (empty disables it)")
	gpioBackend = flag.String("gpio", gpio.BackendSysfs, "Lamp output backend: sysfs, serial, record or disabled")
	serialPort  = flag.String("serial-port", "/dev/ttyUSB0", "Relay board serial port (with -gpio=serial)")
	videoDir    = flag.String("video-dir", camera.DefaultDeviceDir, "Directory scanned for video* camera nodes")
	alwaysOn    = flag.Bool("always-on", false, "Keep capturing and scheduling with no viewers connected")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		path := fs.String("db-path", "lightcontrol.db", "Path to the transition log database")
		fs.Parse(os.Args[2:])
		if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("starting %s", version.String())

	var minAreaOverride *int
	if flagPassed(flag.CommandLine, "min-area") {
		minAreaOverride = minArea
	}
	cfg, err := loadConfig(*configPath, minAreaOverride)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	out := openOutput(cfg, outputFlags{backend: *gpioBackend, serialPort: *serialPort, dev: *devMode})

	var store *db.DB
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Printf("transition log disabled: failed to open %s: %v", *dbPath, err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	ctrlOpts := phase.OptionsFromConfig(cfg)
	if store != nil {
		ctrlOpts.Recorder = store
	}
	controller := phase.NewController(out, ctrlOpts)

	hubOpts := stream.OptionsFromConfig(cfg)
	hubOpts.Scheduler = controller
	hubOpts.AlwaysOn = *alwaysOn
	if *devMode {
		hubOpts.Open = testPatternOpener(camera.OptionsFromConfig(cfg))
	} else {
		hubOpts.Open = deviceOpener(*videoDir, camera.OptionsFromConfig(cfg))
	}
	hub := stream.NewHub(hubOpts)
	if *alwaysOn {
		hub.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiOpts := api.Options{Stream: hub}
		if store != nil {
			apiOpts.Store = store
		}
		apiServer := api.NewServer(controller, cfg, apiOpts)

		mux := http.NewServeMux()
		hub.AttachRoutes(mux)
		apiServer.AttachRoutes(mux)

		// mount the admin debugging routes (accessible only locally or over Tailscale)
		apiServer.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("serving on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// streams never finish on their own, so closing the hub ends them
		if err := hub.Close(); err != nil {
			log.Printf("stream hub close error: %v", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	controller.Shutdown()
	if err := out.Close(); err != nil {
		monitoring.Warnf("failed to release lamp outputs: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
