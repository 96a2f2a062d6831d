// Command biped runs the motion core of the walking robot: it connects the
// motor-driver board, brings the legs to their initial pose and walks toward
// the configured target, over and over, until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"biped/internal/logging"
	"biped/internal/management"
)

type MotionSystem struct {
	infrastructure *management.InfrastructureManager
	application    *management.ApplicationManager
	logger         *logging.Logger
	running        bool
}

func NewMotionSystem(configPath string) (*MotionSystem, error) {
	infrastructure, err := management.NewInfrastructureManager(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create infrastructure manager: %w", err)
	}
	return &MotionSystem{
		infrastructure: infrastructure,
		logger:         logging.GetLogger("biped"),
	}, nil
}

func (ms *MotionSystem) Start(ctx context.Context) error {
	if ms.running {
		return fmt.Errorf("system is already running")
	}
	ms.logger.Info("Starting motion system...")

	if err := ms.infrastructure.Start(ctx); err != nil {
		return fmt.Errorf("failed to start infrastructure layer: %w", err)
	}

	application, err := management.NewApplicationManager(ms.infrastructure)
	if err != nil {
		return fmt.Errorf("failed to create application manager: %w", err)
	}
	ms.application = application

	if err := ms.application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application layer: %w", err)
	}

	ms.running = true
	ms.printSystemInfo()
	return nil
}

// Stop shuts the layers down in reverse start order.
func (ms *MotionSystem) Stop() error {
	if !ms.running {
		return fmt.Errorf("system is not running")
	}
	ms.logger.Info("Stopping motion system...")

	var errs error
	if ms.application != nil {
		if err := ms.application.Stop(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("application layer stop error: %w", err))
		}
	}
	if err := ms.infrastructure.Stop(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("infrastructure layer stop error: %w", err))
	}

	ms.running = false
	return errs
}

func (ms *MotionSystem) printSystemInfo() {
	cfg := ms.infrastructure.GetSystemConfig()

	fmt.Println("==========================================")
	fmt.Println("  Biped Motion Core")
	fmt.Println("==========================================")
	fmt.Printf("  Link: %s (%s)\n", cfg.Link.Protocol, ms.infrastructure.Link().Status())
	fmt.Printf("  Control iteration: %v\n", cfg.Motion.Iteration)
	fmt.Printf("  Actuators: %d\n", len(cfg.Actuators))
	fmt.Printf("  Walking: %v, target (%.2f, %.2f) m\n", cfg.Motion.Enabled, cfg.Motion.Walk.TargetX, cfg.Motion.Walk.TargetY)
	if cfg.StatusServer.Enabled {
		fmt.Printf("  Status API: http://%s/api/status\n", cfg.StatusServer.Address)
	}
	if cfg.Telemetry.Enabled {
		fmt.Printf("  Telemetry: %s (%s/%s)\n", cfg.Telemetry.URL, cfg.Telemetry.Org, cfg.Telemetry.Bucket)
	}
	fmt.Println("==========================================")
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	system, err := NewMotionSystem(*configPath)
	if err != nil {
		log.Fatalf("Failed to create motion system: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := system.Start(ctx); err != nil {
		log.Fatalf("Failed to start motion system: %v", err)
	}

	<-ctx.Done()
	fmt.Println("\nReceived shutdown signal...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan error, 1)
	go func() { done <- system.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("Errors during shutdown: %v", err)
		}
		fmt.Println("Motion system shutdown complete")
	case <-shutdownCtx.Done():
		log.Println("Shutdown timeout reached, forcing exit")
		os.Exit(1)
	}
}
