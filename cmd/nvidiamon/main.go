package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/nvidiamon/internal/alert"
	"codeberg.org/mutker/nvidiamon/internal/config"
	"codeberg.org/mutker/nvidiamon/internal/gpu"
	"codeberg.org/mutker/nvidiamon/internal/logger"
	"codeberg.org/mutker/nvidiamon/internal/monitor"
	"codeberg.org/mutker/nvidiamon/internal/pid"
	"codeberg.org/mutker/nvidiamon/internal/sink"
	"codeberg.org/mutker/nvidiamon/internal/telemetry"
)

var (
	cfg       *config.Config
	gpuSource gpu.Source
)

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	gpuSource, err = gpu.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize GPU source")
	}
}

func main() {
	defer gpuSource.Shutdown()

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer pid.Remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	thresholds := alert.NewStore(cfg.Thresholds())
	state := alert.NewStateMachine(cfg.CooldownPeriod())

	collector, err := telemetry.NewService(telemetry.Config{
		DBPath:  cfg.TelemetryDB,
		Enabled: cfg.Telemetry,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer collector.Close()

	// The sound sink is always registered so a reload can enable it;
	// while disabled it ignores every event.
	soundSink := sink.NewSoundSink(cfg.SoundFile, cfg.Sound, nil)

	sinks := []sink.Sink{sink.NewLogSink(), soundSink}
	if cfg.Telemetry {
		sinks = append(sinks, telemetry.NewEventSink(collector))
	}

	dispatcher := sink.NewDispatcher(sinks...)
	defer dispatcher.Close()

	engine := monitor.New(gpuSource, thresholds, state, dispatcher, monitor.Settings{
		Interval:         cfg.PollInterval(),
		FailureThreshold: cfg.FailureThreshold,
	})
	if cfg.Telemetry {
		engine.SetRecorder(collector)
	}

	cfg.Watch(func(updated config.Config) {
		thresholds.Swap(updated.Thresholds())
		state.SetCooldown(updated.CooldownPeriod())
		soundSink.Configure(updated.SoundFile, updated.Sound)
		engine.UpdateSettings(monitor.Settings{
			Interval:         updated.PollInterval(),
			FailureThreshold: updated.FailureThreshold,
		})
		logger.SetLogLevel(logger.ParseLevel(updated.LogLevel))
	})

	if err := engine.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("error in monitoring loop")
	}

	logger.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
