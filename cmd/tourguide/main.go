// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command tourguide wires every orchestration-engine component
// (AudioOutput, TtsQueue, AskDriver, TourPipeline, InterruptEpoch,
// TourController, RunCoordinator, InputIngest, OfflineScriptPlayer)
// into one running client process, the way cmd/assistant/main.go wires
// STT/LLM/TTS/audio for a voice assistant.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rapidaai/tourguide/internal/askdriver"
	"github.com/rapidaai/tourguide/internal/audiooutput"
	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/config"
	"github.com/rapidaai/tourguide/internal/epoch"
	"github.com/rapidaai/tourguide/internal/inputingest"
	"github.com/rapidaai/tourguide/internal/offlineplayer"
	"github.com/rapidaai/tourguide/internal/prompt"
	"github.com/rapidaai/tourguide/internal/runcoordinator"
	"github.com/rapidaai/tourguide/internal/store"
	"github.com/rapidaai/tourguide/internal/tourcontroller"
	"github.com/rapidaai/tourguide/internal/tourpipeline"
	"github.com/rapidaai/tourguide/internal/transport"
	"github.com/rapidaai/tourguide/internal/ttsqueue"
	"github.com/rapidaai/tourguide/internal/voicecommand"
	"github.com/rapidaai/tourguide/pkg/types"
)

func main() {
	v, err := config.InitConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := commons.NewLogger(commons.Config{
		Level: cfg.LogLevel, Filename: cfg.LogFile, Console: true,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	settingsStore, err := store.Open(cfg.StoreDSN, logger)
	if err != nil {
		logger.Errorf("store: %v", err)
		os.Exit(1)
	}
	defer settingsStore.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infow("shutting down")
		cancel()
	}()

	engine := wire(ctx, cfg, logger, settingsStore)

	if err := engine.ingest.StartWakeListening(ctx); err != nil {
		logger.Warnw("wake listener failed to start", "err", err.Error())
	}
	go engine.watchHealth(ctx)

	logger.Infow("tourguide orchestration engine started", "client_id", cfg.ClientID)
	runCommandLoop(ctx, engine)
}

// engine bundles every wired component main needs to talk to after
// construction — the handful RunCommandLoop dispatches text into, plus
// the health-driven offline fallback.
type engine struct {
	logger  commons.Logger
	client  *transport.Client
	run     *runcoordinator.RunCoordinator
	ctrl    *tourcontroller.Controller
	ingest  *inputingest.Ingest
	offline *offlineplayer.Player
	cfg     *config.AppConfig
}

func wire(ctx context.Context, cfg *config.AppConfig, logger commons.Logger, settingsStore store.Store) *engine {
	ep := epoch.New(logger)

	client := transport.New(transport.Endpoints{
		Ask:        cfg.AskBaseURL,
		TTS:        cfg.TTSBaseURL,
		ASR:        cfg.ASRBaseURL,
		Tour:       cfg.TourBaseURL,
		Recordings: cfg.RecordingsBaseURL,
		Health:     cfg.HealthBaseURL,
		Events:     cfg.EventsBaseURL,
		Offline:    cfg.OfflineBaseURL,
	}, orDefault(cfg.RequestTimeout, 30*time.Second), logger)

	sink := audiooutput.NewFakeSink() // no in-repo platform audio-device binding; see DESIGN.md
	mic := inputingest.NewFakeMicSource()

	ttsURLBuilder := transport.NewTTSURLBuilder(client, cfg.ClientID, transport.TTSOptions{})

	queue := ttsqueue.New(ttsqueue.Config{
		MaxPreGenerate: cfg.MaxPreGenerate,
		PlayerConfig: audiooutput.PlayerConfig{
			PreferredSampleRate: orDefaultInt(cfg.PreferredSampleRate, 16000),
			MaxHeaderBytes:      orDefaultInt(cfg.MaxHeaderBytes, 65536),
			PrebufferMs:         orDefaultInt(cfg.JitterPrebufferMs, 250),
			ChunkMs:             orDefaultInt(cfg.JitterChunkMs, 120),
			Thresholds: audiooutput.SanityThresholds{
				ZCRThreshold: orDefaultFloat(cfg.SanityZCRThreshold, 0.35),
				RMSFloor:     orDefaultFloat(cfg.SanityRMSFloor, 0.002),
				RMSCeil:      orDefaultFloat(cfg.SanityRMSCeil, 0.20),
				PeakFloor:    orDefaultFloat(cfg.SanityPeakFloor, 0.02),
				PeakCeil:     orDefaultFloat(cfg.SanityPeakCeil, 0.98),
			},
		},
	}, logger, ep, sink, ttsURLBuilder, ttsURLBuilder, ttsqueue.Hooks{})

	driver := askdriver.New(logger, ep, client, queue, cfg.ClientID, askdriver.Hooks{})

	builder, err := prompt.NewBuilder(logger)
	if err != nil {
		logger.Errorf("prompt builder: %v", err)
		os.Exit(1)
	}

	pipeline := tourpipeline.New(tourpipeline.Config{
		MaxPrefetchAhead: cfg.MaxPrefetchAhead,
	}, logger, ep, client, driver, builder, queue, cfg.ClientID)

	settings, err := settingsStore.LoadSettings(ctx)
	if err != nil {
		logger.Warnw("load persisted settings failed, guide defaults to enabled", "err", err.Error())
		settings = &types.PersistedSettings{GuideEnabled: true}
	}
	loadStopsInto(ctx, client, pipeline, logger)

	// TourController and RunCoordinator depend on each other
	// (Interrupter), so construct RunCoordinator with a nil controller
	// first, then backfill once the controller exists — the same
	// two-phase pattern this module's tests use.
	coordinator := runcoordinator.New(runcoordinator.Config{
		HighPriorityCooldown: cfg.HighPriorityCooldown,
		GuideEnabled:         settings.GuideEnabled,
	}, logger, ep, driver, nil, voicecommand.New(), cfg.ClientID)
	ctrl := tourcontroller.New(logger, ep, queue, pipeline, coordinator, orDefaultInt(cfg.PreferredSampleRate, 16000))
	coordinator.SetController(ctrl)

	ing := inputingest.New(inputingest.Config{
		MinPressDuration:       cfg.MinPressDuration,
		WakeHoldWindow:         cfg.WakeHoldWindow,
		WakeResumeDelay:        cfg.WakeResumeDelay,
		StopGraceNonContinuous: cfg.StopGraceNormal,
		StopGraceContinuous:    cfg.StopGraceContinuous,
	}, cfg.ASRBaseURL, logger, client, mic, cfg.ClientID, func(text string) {
		if err := coordinator.Submit(context.Background(), text, cfg.ClientID, runcoordinator.PriorityNormal, false, false, nil); err != nil {
			logger.Warnw("submit failed", "err", err.Error())
		}
	})

	offline := offlineplayer.New(logger, client, ttsURLBuilder, sink, audiooutput.PlayerConfig{
		PreferredSampleRate: orDefaultInt(cfg.PreferredSampleRate, 16000),
		MaxHeaderBytes:      orDefaultInt(cfg.MaxHeaderBytes, 65536),
		PrebufferMs:         orDefaultInt(cfg.JitterPrebufferMs, 250),
		ChunkMs:             orDefaultInt(cfg.JitterChunkMs, 120),
		Thresholds:          audiooutput.DefaultSanityThresholds(),
	}, cfg.ClientID, nil)

	return &engine{logger: logger, client: client, run: coordinator, ctrl: ctrl, ingest: ing, offline: offline, cfg: cfg}
}

// watchHealth polls GET /api/health and starts the offline script player
// once the remote RAG connection is down; it stops the offline player
// again once health recovers.
func (e *engine) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health, err := e.client.Health(ctx)
			if err != nil {
				e.logger.Debugw("health probe failed", "err", err.Error())
				continue
			}
			if !health.RagflowConnected && !e.offline.IsPlaying() {
				if err := e.offline.Start(ctx); err != nil {
					e.logger.Warnw("offline player start failed", "err", err.Error())
				}
				continue
			}
			if health.RagflowConnected && e.offline.IsPlaying() {
				e.offline.Stop()
			}
		}
	}
}

// loadStopsInto fetches GET /api/tour/stops and seeds the pipeline with
// them; a failure here is non-fatal (TourController.Start will simply
// have zero stops to drive until the next successful load).
func loadStopsInto(ctx context.Context, client *transport.Client, pipeline *tourpipeline.Pipeline, logger commons.Logger) {
	names, err := client.TourStops(ctx)
	if err != nil {
		logger.Warnw("load tour stops failed", "err", err.Error())
		return
	}
	stops := make([]tourpipeline.Stop, len(names))
	for i, name := range names {
		stops[i] = tourpipeline.Stop{Name: name}
	}
	pipeline.SetStops(stops)
}

// runCommandLoop is a minimal stdin-driven harness standing in for a
// real UI: each line typed is submitted as a user question, and a
// handful of bare words drive the tour state machine directly for
// manual testing.
func runCommandLoop(ctx context.Context, e *engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "start":
			_ = e.ctrl.Start(ctx, 0, true)
		case "next":
			_ = e.ctrl.Next(ctx)
		case "prev":
			_ = e.ctrl.Prev(ctx)
		case "pause":
			e.ctrl.Pause("manual", false)
		case "continue":
			_ = e.ctrl.Continue(ctx)
		case "reset":
			e.ctrl.Reset()
		default:
			if err := e.run.Submit(ctx, line, e.cfg.ClientID, runcoordinator.PriorityNormal, false, false, nil); err != nil {
				fmt.Fprintf(os.Stderr, "submit failed: %v\n", err)
			}
		}
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultFloat(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
