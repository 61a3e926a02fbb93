// Field controller service entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agrinet/field-controller/internal/config"
	"github.com/agrinet/field-controller/internal/diag"
	"github.com/agrinet/field-controller/internal/display"
	"github.com/agrinet/field-controller/internal/engine"
	"github.com/agrinet/field-controller/internal/hw"
)

var (
	configFile string
	simulate   bool
	debugLog   bool

	rootCmd = &cobra.Command{
		Use:   "field-controller",
		Short: "AgriNet field controller",
		Long:  "Irrigation monitoring and actuation controller for AgriNet field deployments. Reads the sensor suite, drives the valve and ships telemetry to the ingest service.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the controller service",
		RunE:  runController,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("AgriNet Field Controller v0.3.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/agrinet/field-controller.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
	runCmd.Flags().BoolVar(&simulate, "simulate", false, "Run against fake hardware")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*zap.SugaredLogger, error) {
	zcfg := zap.NewProductionConfig()
	if debugLog {
		zcfg = zap.NewDevelopmentConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func runController(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	deps, cleanup, err := buildHardware(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	// A watchdog expiry means a task wedged the cooperative loop. There is
	// no way to preempt it, so exit and let the service manager restart us.
	onWatchdog := func() {
		log.Errorw("watchdog expired, exiting for supervisor restart")
		os.Exit(2)
	}

	eng, err := engine.New(cfg, deps, log, onWatchdog)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	diagSrv := diag.NewServer(cfg.Diag.Listen, eng, log)
	go func() {
		if err := diagSrv.Start(); err != nil {
			log.Errorw("diagnostics server failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Infow("received signal, shutting down", "signal", sig.String())
		eng.Stop()
	}()

	log.Infow("starting field controller", "device", cfg.Device.ID, "simulate", simulate)
	err = eng.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if serr := diagSrv.Shutdown(shutdownCtx); serr != nil {
		log.Warnw("diagnostics server shutdown error", "error", serr)
	}

	if err != nil && err != context.Canceled {
		return err
	}
	log.Infow("shutdown complete")
	return nil
}

// buildHardware returns the real peripheral hub or the simulated suite.
func buildHardware(cfg *config.Config, log *zap.SugaredLogger) (engine.Deps, func(), error) {
	if simulate {
		channels := hw.NewFakeChannels(map[hw.Channel][]int{
			hw.ChannelLight:      {650},
			hw.ChannelRain:       {1010},
			hw.ChannelAirQuality: {240},
			hw.ChannelSoil:       {180},
		})
		deps := engine.Deps{
			Probe:    &hw.FakeProbe{Temperature: 21.5, Humidity: 48},
			Channels: channels,
			Actuator: &hw.FakeActuator{},
			Display:  display.ConsoleDriver{},
		}
		return deps, func() {}, nil
	}

	hub, err := hw.NewHub(hw.HubConfig{
		CommandURL: cfg.Hardware.CommandURL,
		Timeout:    time.Duration(cfg.Hardware.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return engine.Deps{}, nil, fmt.Errorf("failed to connect peripheral hub: %w", err)
	}

	driver, err := display.NewZMQDriver(cfg.Display.Endpoint, log)
	if err != nil {
		hub.Close()
		return engine.Deps{}, nil, fmt.Errorf("failed to connect display daemon: %w", err)
	}

	deps := engine.Deps{
		Probe:    hub,
		Channels: hub,
		Actuator: hub,
		Display:  driver,
	}
	cleanup := func() {
		if err := driver.Close(); err != nil {
			log.Warnw("error closing display driver", "error", err)
		}
		if err := hub.Close(); err != nil {
			log.Warnw("error closing peripheral hub", "error", err)
		}
	}
	return deps, cleanup, nil
}
