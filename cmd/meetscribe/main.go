package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/api"
	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/events"
	"github.com/snarg/meetscribe/internal/pipeline"
	"github.com/snarg/meetscribe/internal/provider"
	"github.com/snarg/meetscribe/internal/provider/cloudasr"
	"github.com/snarg/meetscribe/internal/provider/speakerlab"
	"github.com/snarg/meetscribe/internal/provider/vosk"
	"github.com/snarg/meetscribe/internal/provider/wespeaker"
	"github.com/snarg/meetscribe/internal/provider/whisperapi"
	"github.com/snarg/meetscribe/internal/provider/whisperlocal"
	"github.com/snarg/meetscribe/internal/session"
	"github.com/snarg/meetscribe/internal/voiceprint"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace..fatal)")
	flag.StringVar(&overrides.EngineDir, "engine-dir", "", "directory holding inference engine scripts")
	flag.StringVar(&overrides.TempDir, "temp-dir", "", "directory for temporary audio files")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("meetscribe starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(cfg.EventRingSize)
	store := voiceprint.NewStore()

	// Voiceprint provider
	vpLog := log.With().Str("component", "voiceprint").Logger()
	vp, err := buildVoiceprint(cfg, store, vpLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build voiceprint provider")
	}

	// Realtime session engine. Each session gets its own transcriber
	// instance since a realtime provider carries one stream.
	factory, err := realtimeFactory(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build realtime provider")
	}
	engine := session.NewEngine(session.EngineConfig{
		Capacity:        cfg.SessionCapacity,
		IdleTimeout:     cfg.SessionIdleTimeout,
		SweepInterval:   cfg.SweepInterval,
		DefaultLanguage: cfg.Language,
	}, factory, bus, log.With().Str("component", "sessions").Logger())
	engine.Start()

	// Batch pipeline
	batch, err := buildBatch(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build batch provider")
	}
	orch := pipeline.NewOrchestrator(batch, vp, pipeline.Config{
		TempDir:          cfg.TempDir,
		MatchThreshold:   cfg.MatchThreshold,
		MaxSentenceChars: cfg.MaxSentenceChars,
	}, log)
	orch.Bus = bus

	checkers := map[string]api.HealthChecker{
		"batch_transcription": batch,
	}
	if vp != nil {
		checkers["voiceprint"] = vp
	}
	if probe, err := factory(); err == nil {
		checkers["realtime_transcription"] = probe
	}

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, api.Deps{
		Engine:     engine,
		Pipeline:   orch,
		Voiceprint: vp,
		Store:      store,
		Bus:        bus,
		Checkers:   checkers,
	}, version, startTime, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	engine.Stop(shutdownCtx)

	log.Info().Msg("meetscribe stopped")
}

func realtimeFactory(cfg *config.Config, log zerolog.Logger) (session.TranscriberFactory, error) {
	switch cfg.RealtimeProvider {
	case "vosk":
		return func() (provider.Transcriber, error) {
			return vosk.New(vosk.Config{
				PythonBin:    cfg.PythonBin,
				EngineDir:    cfg.EngineDir,
				ModelDir:     cfg.VoskModelDir,
				ReadyTimeout: cfg.StreamReadyTimeout,
				StopGrace:    cfg.StopGrace,
			}, log), nil
		}, nil
	case "cloudasr":
		if cfg.CloudASRURL == "" {
			return nil, fmt.Errorf("cloudasr provider requires CLOUD_ASR_URL")
		}
		return func() (provider.Transcriber, error) {
			return cloudasr.New(cloudasr.Config{
				URL:   cfg.CloudASRURL,
				Token: cfg.CloudASRToken,
			}, log), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown realtime provider %q", cfg.RealtimeProvider)
	}
}

func buildBatch(cfg *config.Config, log zerolog.Logger) (provider.Transcriber, error) {
	switch cfg.BatchProvider {
	case "whisper-local":
		return whisperlocal.New(whisperlocal.Config{
			PythonBin: cfg.PythonBin,
			EngineDir: cfg.EngineDir,
			Model:     cfg.WhisperLocalModel,
			Timeout:   cfg.WhisperTimeout,
		}, log), nil
	case "whisper-api":
		if cfg.WhisperURL == "" {
			return nil, fmt.Errorf("whisper-api provider requires WHISPER_URL")
		}
		return whisperapi.New(whisperapi.Config{
			URL:     cfg.WhisperURL,
			Model:   cfg.WhisperModel,
			APIKey:  cfg.WhisperAPIKey,
			Timeout: cfg.WhisperTimeout,
		}), nil
	case "vosk":
		return vosk.New(vosk.Config{
			PythonBin: cfg.PythonBin,
			EngineDir: cfg.EngineDir,
			ModelDir:  cfg.VoskModelDir,
			StopGrace: cfg.StopGrace,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown batch provider %q", cfg.BatchProvider)
	}
}

func buildVoiceprint(cfg *config.Config, store *voiceprint.Store, log zerolog.Logger) (provider.Voiceprint, error) {
	switch cfg.VoiceprintProvider {
	case "wespeaker":
		return wespeaker.New(wespeaker.Config{
			PythonBin: cfg.PythonBin,
			EngineDir: cfg.EngineDir,
			Threshold: cfg.IdentifyThreshold,
		}, store, log), nil
	case "speakerlab":
		return speakerlab.New(speakerlab.Config{
			PythonBin: cfg.PythonBin,
			EngineDir: cfg.EngineDir,
			Threshold: cfg.IdentifyThreshold,
		}, store, log), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown voiceprint provider %q", cfg.VoiceprintProvider)
	}
}
