// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tourcontroller implements C6: the start/pause/continue/next/
// prev/jumpTo/reset command surface, the manual-pause resume buffer, and
// audio-context sample-rate reconciliation.
package tourcontroller

import (
	"context"
	"fmt"
	"sync"

	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/epoch"
	"github.com/rapidaai/tourguide/internal/prompt"
	"github.com/rapidaai/tourguide/internal/tourpipeline"
	"github.com/rapidaai/tourguide/internal/ttsqueue"
	"github.com/rapidaai/tourguide/pkg/types"
)

// Interrupter is the one RunCoordinator capability TourController needs.
// Kept as a narrow local interface so this package never imports
// runcoordinator, which in turn depends on this one — breaking what
// would otherwise be an import cycle. Start, Next, Prev and JumpTo ask
// this for an interrupt before changing the current stop; Pause and
// Reset bump the epoch directly, and Continue does not interrupt.
type Interrupter interface {
	Interrupt(reason string) epoch.Epoch
}

// Controller drives the tour state machine over the modes idle, running
// and interrupted (Pause moves to interrupted; TourModeReady is not set
// here), with transitions for start/pause/continue/next/prev/jumpTo/reset.
type Controller struct {
	logger      commons.Logger
	epoch       *epoch.InterruptEpoch
	queue       *ttsqueue.TtsQueue
	pipeline    *tourpipeline.Pipeline
	interrupter Interrupter

	// preferredSampleRate is the AudioOutput context's target rate;
	// reconcileAudioContext reports whether a re-unlock is needed instead
	// of performing one itself (AudioOutput/player construction is owned
	// by whatever wires this controller together).
	preferredSampleRate int

	mu          sync.Mutex
	state       types.TourState
	resume      *types.ResumeBuffer
	continuous  bool
	currentRate int
}

func New(logger commons.Logger, ep *epoch.InterruptEpoch, queue *ttsqueue.TtsQueue, pipeline *tourpipeline.Pipeline, interrupter Interrupter, preferredSampleRate int) *Controller {
	return &Controller{
		logger:              logger,
		epoch:               ep,
		queue:               queue,
		pipeline:            pipeline,
		interrupter:         interrupter,
		preferredSampleRate: preferredSampleRate,
		state:               types.TourState{Mode: types.TourModeIdle, StopIndex: -1},
		resume:              types.NewResumeBuffer(),
		currentRate:         preferredSampleRate,
	}
}

func (c *Controller) State() types.TourState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(mutate func(*types.TourState)) {
	c.mu.Lock()
	mutate(&c.state)
	c.mu.Unlock()
}

// ReconcileAudioContext reports whether the output context must be
// closed and re-unlocked at the preferred rate before starting playback:
// true whenever existingRate differs from the preferred rate.
func (c *Controller) ReconcileAudioContext(existingRate int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	needsReconcile := existingRate != c.preferredSampleRate
	if needsReconcile {
		c.currentRate = c.preferredSampleRate
	} else {
		c.currentRate = existingRate
	}
	return needsReconcile
}

// Start begins the tour at stopIndex; interrupts whatever is currently
// playing and clears the resume buffer first.
func (c *Controller) Start(ctx context.Context, stopIndex int, continuous bool) error {
	c.interrupter.Interrupt("tour_start")
	c.clearResumeBuffer()

	c.mu.Lock()
	c.continuous = continuous
	c.state.Mode = types.TourModeRunning
	c.state.StopIndex = stopIndex
	c.state.StopName = c.pipeline.StopName(stopIndex)
	c.state.LastAction = "start"
	c.mu.Unlock()

	return c.pipeline.GoToStop(ctx, stopIndex, prompt.ActionStart, continuous)
}

// Next advances to stopIndex+1.
func (c *Controller) Next(ctx context.Context) error {
	c.interrupter.Interrupt("tour_next")
	c.clearResumeBuffer()

	next := c.State().StopIndex + 1
	if next >= c.pipeline.StopCount() {
		return fmt.Errorf("tourcontroller: next: no more stops")
	}

	c.setState(func(s *types.TourState) {
		s.Mode = types.TourModeRunning
		s.StopIndex = next
		s.StopName = c.pipeline.StopName(next)
		s.LastAction = "next"
	})
	return c.pipeline.GoToStop(ctx, next, prompt.ActionNext, c.continuousFlag())
}

// Prev retreats to stopIndex-1.
func (c *Controller) Prev(ctx context.Context) error {
	c.interrupter.Interrupt("tour_prev")
	c.clearResumeBuffer()

	prev := c.State().StopIndex - 1
	if prev < 0 {
		return fmt.Errorf("tourcontroller: prev: already at first stop")
	}

	c.setState(func(s *types.TourState) {
		s.Mode = types.TourModeRunning
		s.StopIndex = prev
		s.StopName = c.pipeline.StopName(prev)
		s.LastAction = "prev"
	})
	return c.pipeline.GoToStop(ctx, prev, prompt.ActionNext, c.continuousFlag())
}

// JumpTo jumps directly to stopIndex.
func (c *Controller) JumpTo(ctx context.Context, stopIndex int) error {
	if stopIndex < 0 || stopIndex >= c.pipeline.StopCount() {
		return fmt.Errorf("tourcontroller: jumpTo: stop %d out of range", stopIndex)
	}
	c.interrupter.Interrupt("tour_jump")
	c.clearResumeBuffer()

	c.setState(func(s *types.TourState) {
		s.Mode = types.TourModeRunning
		s.StopIndex = stopIndex
		s.StopName = c.pipeline.StopName(stopIndex)
		s.LastAction = "jump"
	})
	return c.pipeline.GoToStop(ctx, stopIndex, prompt.ActionNext, c.continuousFlag())
}

// Pause captures the ResumeBuffer for the currently-playing turn and
// moves the tour from running to interrupted on a user-initiated pause.
func (c *Controller) Pause(reason string, isQuestionTurn bool) {
	c.epoch.Bump(reason)
	c.pipeline.Pause(reason)

	stopIndex := c.State().StopIndex
	if isQuestionTurn {
		c.captureQuestionResume()
	} else if stopIndex >= 0 {
		c.captureStopResume(stopIndex)
	}
	c.queue.Stop(reason)

	c.setState(func(s *types.TourState) {
		s.Mode = types.TourModeInterrupted
		s.LastAction = "pause"
	})
}

func (c *Controller) captureQuestionResume() {
	text := c.queue.CaptureAllPendingText()
	audio := c.queue.CaptureAllPendingAudio()
	if len(text) == 0 && len(audio) == 0 {
		return
	}
	c.mu.Lock()
	c.resume.Question = &types.ResumeEntry{StopIndex: -1, Segments: text, AudioSegments: audio}
	c.mu.Unlock()
}

func (c *Controller) captureStopResume(stopIndex int) {
	text := c.queue.CapturePendingTextByStopIndex(stopIndex)
	audio := c.queue.CapturePendingAudioByStopIndex(stopIndex)
	if len(text) == 0 && len(audio) == 0 {
		return
	}
	c.mu.Lock()
	c.resume.ByStopIndex[stopIndex] = types.ResumeEntry{StopIndex: stopIndex, Segments: text, AudioSegments: audio}
	c.mu.Unlock()
}

// Continue implements the 4-step resume algorithm: replay the captured
// question turn, then the captured tour-stop turn, move to running, and
// finally kick off next-stop prefetch if a tour stop was resumed under a
// continuous tour. It does NOT interrupt first — resuming is the
// opposite of interrupting.
func (c *Controller) Continue(ctx context.Context) error {
	requestID := "resume"

	// Step 1: the "_question" slot, if any, replays first and becomes
	// the current stop index.
	c.mu.Lock()
	question := c.resume.Question
	c.resume.Question = nil
	c.mu.Unlock()

	resumedSomething := false
	if question != nil {
		c.replayEntry(ctx, requestID, *question)
		resumedSomething = true
		c.setState(func(s *types.TourState) { s.StopIndex = question.StopIndex })
	}

	// Step 2+3: tour-stop resume at the current stop index, then consume
	// the slot so a second continue never replays the same audio.
	stopIndex := c.State().StopIndex
	c.mu.Lock()
	entry, hasStopResume := c.resume.ByStopIndex[stopIndex]
	delete(c.resume.ByStopIndex, stopIndex)
	c.mu.Unlock()

	wasTourStop := false
	if hasStopResume {
		c.replayEntry(ctx, requestID, entry)
		resumedSomething = true
		wasTourStop = true
	}

	c.setState(func(s *types.TourState) {
		s.Mode = types.TourModeRunning
		s.LastAction = "continue"
	})

	if !resumedSomething {
		// No resume content: issue a fresh prompt for the current stop.
		return c.pipeline.GoToStop(ctx, stopIndex, prompt.ActionContinue, c.continuousFlag())
	}

	// Step 4: once resume has drained, schedule next-stop prefetch if the
	// resumed content was a tour stop under a continuous tour.
	if wasTourStop && c.continuousFlag() {
		c.pipeline.PrefetchFrom(stopIndex)
	}
	return nil
}

func (c *Controller) replayEntry(ctx context.Context, requestIDPrefix string, entry types.ResumeEntry) {
	requestID := fmt.Sprintf("%s-%d", requestIDPrefix, entry.StopIndex)
	c.queue.ResetForRun(requestID)
	c.queue.EnsureRunning(ctx)

	for _, seg := range entry.Segments {
		c.queue.EnqueueText(seg.Text, seg.StopIndex)
	}
	for _, seg := range entry.AudioSegments {
		if len(seg.PrefetchedWavBytes) > 0 {
			c.queue.EnqueueWavBytes(seg.PrefetchedWavBytes, seg.StopIndex, seg.Text)
		} else if seg.RecordedAudioURL != "" {
			c.queue.EnqueueAudioURL(seg.RecordedAudioURL, seg.StopIndex, seg.Text)
		}
	}
	c.queue.MarkRagDone()

	if err := c.queue.WaitForIdle(ctx); err != nil {
		c.logger.Warnw("tourcontroller: resume replay wait for idle did not complete cleanly", "err", err.Error())
	}
}

// Reset returns the controller to idle from any state.
func (c *Controller) Reset() {
	c.epoch.Bump("reset")
	c.pipeline.Interrupt("reset")
	c.queue.Stop("reset")
	c.clearResumeBuffer()

	c.setState(func(s *types.TourState) {
		*s = types.TourState{Mode: types.TourModeIdle, StopIndex: -1}
	})
}

func (c *Controller) clearResumeBuffer() {
	c.mu.Lock()
	c.resume = types.NewResumeBuffer()
	c.mu.Unlock()
}

func (c *Controller) continuousFlag() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.continuous
}
