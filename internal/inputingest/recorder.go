// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package inputingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/tourguide/internal/audiooutput"
	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/transport"
)

// Mode selects which of the two wire modes the press-to-talk recorder
// speaks: a one-shot HTTP upload or a streaming websocket session.
type Mode string

const (
	ModeHTTP       Mode = "http"
	ModeStreamingWS Mode = "ws"
)

// ErrPressTooShort is returned when a press-to-talk gesture released
// before Config.MinPressDuration elapsed (the minimum-duration guard,
// >=900ms by default).
var ErrPressTooShort = errors.New("inputingest: press released before minimum duration")

// Hooks lets the caller observe ASR events as they arrive, independent of
// the eventual Begin/Release return value.
type Hooks struct {
	OnPartial func(text string)
	OnFinal   func(text string)
	OnInfo    func(message string)
	OnError   func(err error)
	OnWake    func()
}

// Recorder implements the press-to-talk half of C8: a minimum-duration
// guard, then either an HTTP one-shot multipart POST or a streaming
// /ws/asr role=rec session.
type Recorder struct {
	cfg      Config
	wsBaseURL string
	logger   commons.Logger
	client   *transport.Client
	mic      MicSource
	clientID string
	hooks    Hooks

	mu          sync.Mutex
	active      bool
	continuous  bool
	startedAt   time.Time
	pcmBuf      []byte
	cancel      context.CancelFunc
	wsSession   *transport.ASRSession
	lastPartial string
	finalCh     chan string
	seq         int
}

func NewRecorder(cfg Config, wsBaseURL string, logger commons.Logger, client *transport.Client, mic MicSource, clientID string, hooks Hooks) *Recorder {
	return &Recorder{cfg: cfg.withDefaults(), wsBaseURL: wsBaseURL, logger: logger, client: client, mic: mic, clientID: clientID, hooks: hooks}
}

// SetContinuous toggles the stop-grace duration used on Release between
// the 8s non-continuous and 2s continuous values.
func (r *Recorder) SetContinuous(continuous bool) {
	r.mu.Lock()
	r.continuous = continuous
	r.mu.Unlock()
}

func (r *Recorder) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Begin starts capture on press. Returns an error if a capture is
// already in flight.
func (r *Recorder) Begin(ctx context.Context) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return fmt.Errorf("inputingest: recorder already active")
	}
	r.active = true
	r.startedAt = time.Now()
	r.pcmBuf = nil
	r.lastPartial = ""
	captureCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	frames, err := r.mic.Start(captureCtx)
	if err != nil {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("inputingest: start mic: %w", err)
	}

	if r.cfg.Mode == ModeStreamingWS {
		return r.beginStreaming(captureCtx, frames)
	}
	r.beginHTTPCollection(frames)
	return nil
}

func (r *Recorder) beginHTTPCollection(frames <-chan []byte) {
	go func() {
		for f := range frames {
			r.mu.Lock()
			r.pcmBuf = append(r.pcmBuf, f...)
			r.mu.Unlock()
		}
	}()
}

func (r *Recorder) beginStreaming(ctx context.Context, frames <-chan []byte) error {
	session, err := transport.DialASR(ctx, r.wsBaseURL, "rec", r.cfg.SampleRate, nil, r.logger)
	if err != nil {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
		r.cancel()
		return fmt.Errorf("inputingest: dial rec session: %w", err)
	}

	r.mu.Lock()
	r.wsSession = session
	r.finalCh = make(chan string, 1)
	r.mu.Unlock()

	go r.pumpFrames(frames, session)
	go r.readServerFrames(session)
	return nil
}

func (r *Recorder) pumpFrames(frames <-chan []byte, session *transport.ASRSession) {
	for f := range frames {
		if err := session.SendPCM(f); err != nil {
			r.logger.Warnw("inputingest: send pcm frame failed", "err", err.Error())
			return
		}
	}
}

func (r *Recorder) readServerFrames(session *transport.ASRSession) {
	for {
		frame, err := session.ReadFrame()
		if err != nil {
			r.mu.Lock()
			if r.finalCh != nil {
				close(r.finalCh)
				r.finalCh = nil
			}
			r.mu.Unlock()
			return
		}
		switch frame.Type {
		case "partial":
			r.mu.Lock()
			r.lastPartial = frame.Text
			r.mu.Unlock()
			if r.hooks.OnPartial != nil {
				r.hooks.OnPartial(frame.Text)
			}
		case "final":
			if r.hooks.OnFinal != nil {
				r.hooks.OnFinal(frame.Text)
			}
			r.mu.Lock()
			if r.finalCh != nil {
				select {
				case r.finalCh <- frame.Text:
				default:
				}
			}
			r.mu.Unlock()
		case "info":
			if r.hooks.OnInfo != nil {
				r.hooks.OnInfo(frame.Message)
			}
		case "error":
			if r.hooks.OnError != nil {
				r.hooks.OnError(fmt.Errorf("inputingest: asr error: %s", frame.Message))
			}
		}
	}
}

// Release ends capture. In HTTP mode it encodes the captured PCM to WAV
// and POSTs it; in streaming mode it sends {type:'stop'} and waits up to
// the stop-grace window for a `final` frame before falling back to the
// last seen partial.
func (r *Recorder) Release(ctx context.Context) (string, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return "", fmt.Errorf("inputingest: recorder not active")
	}
	elapsed := time.Since(r.startedAt)
	r.active = false
	cancel := r.cancel
	mode := r.cfg.Mode
	r.mu.Unlock()

	r.mic.Stop()

	if mode == ModeStreamingWS {
		return r.releaseStreaming(elapsed, cancel)
	}
	return r.releaseHTTP(ctx, elapsed, cancel)
}

func (r *Recorder) releaseHTTP(ctx context.Context, elapsed time.Duration, cancel context.CancelFunc) (string, error) {
	defer cancel()
	if elapsed < r.cfg.MinPressDuration {
		return "", ErrPressTooShort
	}
	r.mu.Lock()
	pcm := r.pcmBuf
	r.mu.Unlock()

	wav := append(audiooutput.BuildWAVHeader(r.cfg.SampleRate, 1, len(pcm)), pcm...)
	text, err := r.client.SpeechToText(ctx, r.clientID, r.nextRequestID(), wav)
	if err != nil {
		return "", fmt.Errorf("inputingest: speech_to_text: %w", err)
	}
	return text, nil
}

func (r *Recorder) releaseStreaming(elapsed time.Duration, cancel context.CancelFunc) (string, error) {
	r.mu.Lock()
	session := r.wsSession
	continuous := r.continuous
	r.mu.Unlock()

	if elapsed < r.cfg.MinPressDuration {
		if session != nil {
			session.Close()
		}
		cancel()
		return "", ErrPressTooShort
	}

	if session != nil {
		if err := session.Stop(); err != nil {
			r.logger.Warnw("inputingest: send stop frame failed", "err", err.Error())
		}
	}

	grace := r.cfg.StopGraceNonContinuous
	if continuous {
		grace = r.cfg.StopGraceContinuous
	}

	var text string
	var ok bool
	r.mu.Lock()
	finalCh := r.finalCh
	r.mu.Unlock()
	if finalCh != nil {
		select {
		case text, ok = <-finalCh:
		case <-time.After(grace):
		}
	}

	if session != nil {
		session.Close()
	}
	cancel()

	if ok {
		return text, nil
	}
	r.mu.Lock()
	partial := r.lastPartial
	r.mu.Unlock()
	return partial, nil
}

func (r *Recorder) nextRequestID() string {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()
	return fmt.Sprintf("%s-rec-%d", r.clientID, seq)
}
