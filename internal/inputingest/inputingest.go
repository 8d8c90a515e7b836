// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package inputingest implements C8: the press-to-talk recorder and the
// wake-word streaming listener that feed recognized text into
// RunCoordinator.
package inputingest

import (
	"context"
	"time"

	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/transport"
)

// Config carries every C8 tunable; Recorder and WakeListener each use the
// subset relevant to their mode.
type Config struct {
	Mode                   Mode
	SampleRate             int
	MinPressDuration       time.Duration
	StopGraceNonContinuous time.Duration
	StopGraceContinuous    time.Duration
	WakeWord               string
	WakeHoldWindow         time.Duration
	WakeResumeDelay        time.Duration
	Backoff                BackoffPolicy
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeHTTP
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.MinPressDuration <= 0 {
		c.MinPressDuration = 900 * time.Millisecond
	}
	if c.StopGraceNonContinuous <= 0 {
		c.StopGraceNonContinuous = 8 * time.Second
	}
	if c.StopGraceContinuous <= 0 {
		c.StopGraceContinuous = 2 * time.Second
	}
	if c.WakeHoldWindow <= 0 {
		c.WakeHoldWindow = 8 * time.Second
	}
	if c.WakeResumeDelay <= 0 {
		c.WakeResumeDelay = 1200 * time.Millisecond
	}
	if (c.Backoff == BackoffPolicy{}) {
		c.Backoff = DefaultBackoffPolicy()
	}
	return c
}

// Ingest ties the press-to-talk Recorder and the continuous WakeListener
// together behind a shared-microphone pause/resume handshake — the mic
// stream is never captured concurrently by both — and routes accepted
// text to a single callback.
type Ingest struct {
	cfg      Config
	logger   commons.Logger
	clientID string

	Recorder *Recorder
	Wake     *WakeListener

	onAccepted func(text string)
}

// New wires a Recorder and a WakeListener sharing mic. onAccepted is
// called with recognized text: for press-to-talk, once PressRelease
// resolves a non-empty result; for the wake listener, once a gated final
// arrives (partials are not forwarded).
func New(cfg Config, wsBaseURL string, logger commons.Logger, client *transport.Client, mic MicSource, clientID string, onAccepted func(text string)) *Ingest {
	cfg = cfg.withDefaults()
	ing := &Ingest{cfg: cfg, logger: logger, clientID: clientID, onAccepted: onAccepted}

	ing.Recorder = NewRecorder(cfg, wsBaseURL, logger, client, mic, clientID, Hooks{
		OnInfo:  func(msg string) { logger.Debugw("inputingest: rec info", "message", msg) },
		OnError: func(err error) { logger.Warnw("inputingest: rec error", "err", err.Error()) },
	})
	ing.Wake = NewWakeListener(cfg, wsBaseURL, logger, mic, Hooks{
		OnWake: func() { logger.Infow("inputingest: wake word detected") },
		OnFinal: func(text string) {
			if text != "" && ing.onAccepted != nil {
				ing.onAccepted(text)
			}
		},
		OnError: func(err error) { logger.Warnw("inputingest: wake error", "err", err.Error()) },
	})
	return ing
}

// StartWakeListening starts the background wake-word session (a no-op
// if no wake word is configured).
func (ing *Ingest) StartWakeListening(ctx context.Context) error {
	return ing.Wake.Start(ctx)
}

func (ing *Ingest) StopWakeListening() {
	ing.Wake.Stop()
}

// PressBegin starts a manual press-to-talk capture, pausing the wake
// listener first so the two never contend for the microphone.
func (ing *Ingest) PressBegin(ctx context.Context) error {
	ing.Wake.Pause()
	return ing.Recorder.Begin(ctx)
}

// PressRelease ends the capture, resumes the wake listener after
// Config.WakeResumeDelay, and — on a non-empty result — invokes
// onAccepted before returning the recognized text to the caller.
func (ing *Ingest) PressRelease(ctx context.Context) (string, error) {
	text, err := ing.Recorder.Release(ctx)
	ing.Wake.ResumeAfterDelay()
	if err != nil {
		return "", err
	}
	if text != "" && ing.onAccepted != nil {
		ing.onAccepted(text)
	}
	return text, nil
}

// SetContinuous propagates the continuous-tour flag to the recorder's
// stop-grace window selection.
func (ing *Ingest) SetContinuous(continuous bool) {
	ing.Recorder.SetContinuous(continuous)
}
