package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ayusman/fingertrack/internal/config"
	"github.com/ayusman/fingertrack/internal/server"
	"github.com/ayusman/fingertrack/internal/store"
	"github.com/ayusman/fingertrack/internal/tracking"
	"github.com/ayusman/fingertrack/internal/tray"
)

const (
	// trayCalibration is the calibration length used by the tray menu.
	trayCalibration = 5 * time.Second
	// trayRefresh is how often the tray menu shows new finger counts.
	trayRefresh = 250 * time.Millisecond
	// shutdownTimeout bounds the HTTP server shutdown.
	shutdownTimeout = 3 * time.Second
)

func main() {
	dataDir, err := config.DefaultDir()
	if err != nil {
		log.Fatalf("Failed to resolve data directory: %v", err)
	}
	defaultConfig, err := config.DefaultPath()
	if err != nil {
		log.Fatalf("Failed to resolve config path: %v", err)
	}

	addr := flag.String("addr", ":8090", "HTTP listen address")
	configPath := flag.String("config", defaultConfig, "tracking parameters file")
	dbPath := flag.String("db", filepath.Join(dataDir, "fingertrack.db"), "calibration history database")
	webDir := flag.String("web", "", "static dashboard directory (searched for when empty)")
	headless := flag.Bool("headless", false, "run without the system tray")
	autostart := flag.Bool("start", false, "start tracking immediately")
	flag.Parse()

	fmt.Println("Fingertrack - Hand and Finger Tracking")

	params, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Using default tracking parameters: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	tracker := tracking.New(tracking.Options{
		Params:     params,
		ConfigPath: *configPath,
		Recorder:   st.Calibrations(),
	})
	defer tracker.Close()

	if *autostart {
		if err := tracker.Start(); err != nil {
			log.Printf("Failed to start tracking: %v", err)
		}
	}

	staticDir := *webDir
	if staticDir == "" {
		staticDir = findWebDir(dataDir)
	}
	if staticDir != "" {
		fmt.Printf("Serving static files from: %s\n", staticDir)
	}

	srv := server.New(server.Config{
		StaticDir: staticDir,
		Store:     st,
		Tracker:   tracker,
	})
	defer srv.Close()

	httpServer := &http.Server{Addr: *addr, Handler: srv}
	go func() {
		fmt.Printf("Starting server on %s\n", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *headless {
		<-ctx.Done()
	} else {
		runTray(ctx, stop, tracker, dashboardURL(*addr))
	}

	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// runTray shows the tray menu until it is quit or ctx is cancelled.
func runTray(ctx context.Context, cancel context.CancelFunc, tracker *tracking.Tracker, url string) {
	t := tray.New()

	t.OnToggle(func(enabled bool) error {
		if !enabled {
			tracker.Stop()
			return nil
		}
		if err := tracker.Start(); err != nil {
			log.Printf("Failed to start tracking: %v", err)
			return err
		}
		return nil
	})

	t.OnCalibrate(func() {
		if _, err := tracker.Calibrate(ctx, trayCalibration); err != nil {
			log.Printf("Calibration failed: %v", err)
		}
	})

	t.OnDashboard(func() {
		if err := openBrowser(url); err != nil {
			log.Printf("Open %s in a browser (%v)", url, err)
		}
	})

	t.OnQuit(cancel)

	go func() {
		ticker := time.NewTicker(trayRefresh)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				t.Quit()
				return
			case <-ticker.C:
				t.Update(tracker.State())
			}
		}
	}()

	t.Run()
}

// dashboardURL turns a listen address into a browsable URL.
func dashboardURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

// openBrowser opens url with the platform's default handler.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	dataWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(dataWebDir); err == nil && info.IsDir() {
		return dataWebDir
	}

	return ""
}
