// CLADC server — continuous learning and autonomous development core.
// Consumes learning events and experiences from the platform bus, runs the
// improvement pipeline and monitoring loops, and serves the Control API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/omni-platform/cladc/pkg/api"
	"github.com/omni-platform/cladc/pkg/bus"
	"github.com/omni-platform/cladc/pkg/capability"
	"github.com/omni-platform/cladc/pkg/config"
	"github.com/omni-platform/cladc/pkg/coordinator"
	"github.com/omni-platform/cladc/pkg/persistence"
	"github.com/omni-platform/cladc/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// buildBackends selects the messaging backends. With a Postgres DSN both
// broker roles run over NOTIFY/LISTEN; without one the in-memory bus keeps
// the process self-contained for development.
func buildBackends(cfg *config.Config) map[bus.BackendKind]bus.Backend {
	if dsn := cfg.Bus.PostgresDSN; dsn != "" {
		slog.Info("Using PostgreSQL bus backends")
		return map[bus.BackendKind]bus.Backend{
			bus.KindKafka: bus.NewPGBackend(dsn),
			bus.KindAMQP:  bus.NewPGBackend(dsn),
		}
	}
	slog.Info("No bus DSN configured, using in-memory backends")
	return map[bus.BackendKind]bus.Backend{
		bus.KindKafka: bus.NewMemBackend(),
		bus.KindAMQP:  bus.NewMemBackend(),
	}
}

// buildRuntime selects the capability runtime. A configured service URL
// means training and inference run out of process; otherwise the built-in
// simulator stands in.
func buildRuntime() (capability.Runtime, func(), error) {
	baseURL := os.Getenv("CAPABILITY_SERVICE_URL")
	if baseURL == "" {
		slog.Info("No capability service configured, using simulator")
		sim := capability.NewSimulator(time.Now().UnixNano())
		return sim, func() {}, nil
	}

	grpcTarget := os.Getenv("CAPABILITY_GRPC_ADDR")
	client, err := capability.NewRemoteClient(baseURL, grpcTarget)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Capability service client initialized", "url", baseURL, "grpc", grpcTarget)
	return client, func() {
		if err := client.Close(); err != nil {
			slog.Error("Error closing capability client", "error", err)
		}
	}, nil
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpAddr := getEnv("HTTP_ADDR", ":8090")

	slog.Info("Starting CLADC",
		"version", version.Full(),
		"http_addr", httpAddr,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Open the snapshot store
	snap, err := persistence.NewStore(cfg.Paths.DataDir)
	if err != nil {
		slog.Error("Failed to open snapshot store", "error", err)
		os.Exit(1)
	}

	// 3. Build the bus adapter
	adapter := bus.NewAdapter(bus.DefaultRoutingTable(), buildBackends(cfg),
		cfg.Bus.InitialBackoff, cfg.Bus.MaxBackoff)

	// 4. Build the capability runtime
	runtime, closeRuntime, err := buildRuntime()
	if err != nil {
		slog.Error("Failed to initialize capability runtime", "error", err)
		os.Exit(1)
	}
	defer closeRuntime()

	// 5. Assemble and start the coordinator
	coord, err := coordinator.New(cfg, adapter, runtime, snap)
	if err != nil {
		slog.Error("Failed to assemble coordinator", "error", err)
		os.Exit(1)
	}
	if err := coord.Start(ctx); err != nil {
		slog.Error("Failed to start coordinator", "error", err)
		os.Exit(1)
	}

	// 6. Start the Control API (non-blocking)
	server := api.NewServer(coord, nil)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Run(httpAddr); err != nil {
			slog.Error("Control API server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("CLADC started successfully", "http_addr", httpAddr)

	// 7. Wait for shutdown signal, server error, or fatal component failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	case err := <-coord.Fatal():
		slog.Error("Fatal component failure triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop accepting requests, then drain components
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		slog.Error("Control API shutdown error", "error", err)
	}

	coord.Stop(ctx)

	slog.Info("Shutdown complete")
}
