// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package inputingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/transport"
)

// WakeListener is the continuous /ws/asr role=wake session: partials/
// finals are gated behind a wake event and a sliding wake-hold window,
// and the socket auto-reconnects with exponential backoff on
// disconnect.
type WakeListener struct {
	cfg       Config
	wsBaseURL string
	logger    commons.Logger
	mic       MicSource
	hooks     Hooks

	mu            sync.Mutex
	running       bool
	paused        bool
	woken         bool
	wakeHoldUntil time.Time
	cancel        context.CancelFunc
}

func NewWakeListener(cfg Config, wsBaseURL string, logger commons.Logger, mic MicSource, hooks Hooks) *WakeListener {
	return &WakeListener{cfg: cfg.withDefaults(), wsBaseURL: wsBaseURL, logger: logger, mic: mic, hooks: hooks}
}

// Start is a no-op when no wake word is configured — wake-word gating
// is opt-in.
func (w *WakeListener) Start(ctx context.Context) error {
	if w.cfg.WakeWord == "" {
		return nil
	}
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("inputingest: wake listener already running")
	}
	w.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	go w.runLoop(loopCtx)
	return nil
}

func (w *WakeListener) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause suspends the wake listener's mic use so press-to-talk can take
// the shared, never-concurrent microphone.
func (w *WakeListener) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// ResumeAfterDelay un-pauses WakeResumeDelay after a press-to-talk
// release (1.2s by default).
func (w *WakeListener) ResumeAfterDelay() {
	time.AfterFunc(w.cfg.WakeResumeDelay, func() {
		w.mu.Lock()
		w.paused = false
		w.mu.Unlock()
	})
}

func (w *WakeListener) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *WakeListener) runLoop(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if w.isPaused() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if err := w.runSession(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := w.cfg.Backoff.Next(attempt)
			attempt++
			w.logger.Warnw("inputingest: wake listener reconnecting", "err", err.Error(), "delay_ms", delay.Milliseconds())
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
	}
}

func (w *WakeListener) runSession(ctx context.Context) error {
	session, err := transport.DialASR(ctx, w.wsBaseURL, "wake", w.cfg.SampleRate, &transport.WakeConfig{Word: w.cfg.WakeWord}, w.logger)
	if err != nil {
		return fmt.Errorf("inputingest: dial wake session: %w", err)
	}
	defer session.Close()

	frames, err := w.mic.Start(ctx)
	if err != nil {
		return fmt.Errorf("inputingest: start mic: %w", err)
	}
	defer w.mic.Stop()

	done := make(chan error, 2)
	go func() {
		for f := range frames {
			if w.isPaused() {
				continue
			}
			if err := session.SendPCM(f); err != nil {
				done <- err
				return
			}
		}
	}()
	go func() {
		for {
			frame, err := session.ReadFrame()
			if err != nil {
				done <- err
				return
			}
			w.handleFrame(frame)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

func (w *WakeListener) handleFrame(frame *transport.ASRServerFrame) {
	switch frame.Type {
	case "wake":
		w.mu.Lock()
		w.woken = true
		w.wakeHoldUntil = time.Now().Add(w.cfg.WakeHoldWindow)
		w.mu.Unlock()
		if w.hooks.OnWake != nil {
			w.hooks.OnWake()
		}
	case "partial":
		if !w.acceptGated() {
			return
		}
		if w.hooks.OnPartial != nil {
			w.hooks.OnPartial(frame.Text)
		}
	case "final":
		if !w.acceptGated() {
			return
		}
		if w.hooks.OnFinal != nil {
			w.hooks.OnFinal(frame.Text)
		}
	case "info":
		if w.hooks.OnInfo != nil {
			w.hooks.OnInfo(frame.Message)
		}
	case "error":
		if w.hooks.OnError != nil {
			w.hooks.OnError(fmt.Errorf("inputingest: wake asr error: %s", frame.Message))
		}
	}
}

// acceptGated reports whether a partial/final should be accepted, and
// refreshes the sliding wake-hold window on acceptance: after wake, the
// window keeps subsequent partials active, and every accepted partial/
// final refreshes it.
func (w *WakeListener) acceptGated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.woken {
		return false
	}
	if time.Now().After(w.wakeHoldUntil) {
		w.woken = false
		return false
	}
	w.wakeHoldUntil = time.Now().Add(w.cfg.WakeHoldWindow)
	return true
}
