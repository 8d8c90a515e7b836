// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package runcoordinator implements C7: the submit policy that decides
// whether a user's text goes to the tour-command fast path, the
// group-mode queue, or straight to AskDriver.
package runcoordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rapidaai/tourguide/internal/askdriver"
	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/epoch"
	"github.com/rapidaai/tourguide/internal/tourcontroller"
	"github.com/rapidaai/tourguide/pkg/types"
)

// ErrMissingAgent is returned when agent mode is requested without a
// selected agent.
var ErrMissingAgent = errors.New("runcoordinator: missing_agent")

// Priority is a submitted question's queueing priority.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// TourCommand is what a CommandParser extracts from free text.
type TourCommand struct {
	Action    string // start, next, prev, pause, continue, jump, reset
	StopIndex int
}

// CommandParser recognizes tour-control utterances ("next stop", "go
// back", "pause please") and reports a confidence in [0,1]. RunCoordinator
// only acts on it at confidence >= 0.75.
type CommandParser interface {
	Parse(text string) (cmd TourCommand, confidence float64, ok bool)
}

// QueuedQuestion is one FIFO entry of the group-mode queue.
type QueuedQuestion struct {
	Speaker       string
	Priority      Priority
	Text          string
	UseAgent      bool
	SelectedAgent *string
}

// Config carries RunCoordinator's tunables.
type Config struct {
	HighPriorityCooldown time.Duration
	GuideEnabled         bool
}

func (c Config) withDefaults() Config {
	if c.HighPriorityCooldown <= 0 {
		c.HighPriorityCooldown = 4 * time.Second
	}
	return c
}

// RunCoordinator is the single entry point for user text, voice-command
// fast-pathing, and group-mode queueing.
type RunCoordinator struct {
	cfg        Config
	logger     commons.Logger
	epoch      *epoch.InterruptEpoch
	driver     *askdriver.Driver
	controller *tourcontroller.Controller
	parser     CommandParser
	clientID   string

	mu                          sync.Mutex
	activeRun                   bool
	lastSpeaker                 string
	lastHighPriorityInterruptAt time.Time
	queue                       []QueuedQuestion
}

func New(cfg Config, logger commons.Logger, ep *epoch.InterruptEpoch, driver *askdriver.Driver, controller *tourcontroller.Controller, parser CommandParser, clientID string) *RunCoordinator {
	return &RunCoordinator{
		cfg:        cfg.withDefaults(),
		logger:     logger,
		epoch:      ep,
		driver:     driver,
		controller: controller,
		parser:     parser,
		clientID:   clientID,
	}
}

// SetController backfills the Controller reference once constructed.
// Needed because TourController.New takes an Interrupter (satisfied by
// *RunCoordinator) and RunCoordinator.New takes a *tourcontroller.Controller
// — each depends on the other, so callers outside this package construct
// RunCoordinator with a nil controller, build the Controller from it, then
// call this.
func (r *RunCoordinator) SetController(controller *tourcontroller.Controller) {
	r.controller = controller
}

// Interrupt implements tourcontroller.Interrupter: it bumps the epoch,
// cancels whatever AskDriver turn is in flight, and clears the
// active-run flag so a queued group-mode question can proceed.
func (r *RunCoordinator) Interrupt(reason string) epoch.Epoch {
	next := r.epoch.Bump(reason)
	r.driver.AbortCurrent(reason)
	r.setActiveRun(false)
	return next
}

func (r *RunCoordinator) setActiveRun(v bool) {
	r.mu.Lock()
	r.activeRun = v
	r.mu.Unlock()
}

func (r *RunCoordinator) isActiveRun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeRun
}

// Submit routes text to the tour-command fast path, the group-mode
// queue, or straight to AskDriver. A recognized tour command runs
// synchronously through the controller before Submit returns; for an
// ask-turn (or queued wait) it returns immediately and the turn proceeds
// asynchronously on the cooperative single-threaded scheduling model the
// rest of this package assumes.
func (r *RunCoordinator) Submit(ctx context.Context, text, speaker string, priority Priority, groupMode, useAgent bool, selectedAgent *string) error {
	if text == "" {
		return nil
	}
	if useAgent && selectedAgent == nil {
		return ErrMissingAgent
	}

	if r.cfg.GuideEnabled && r.parser != nil {
		if cmd, confidence, ok := r.parser.Parse(text); ok && confidence >= 0.75 {
			return r.executeTourCommand(ctx, cmd)
		}
	}

	if groupMode {
		return r.submitGroupMode(ctx, text, speaker, priority, useAgent, selectedAgent)
	}

	r.startAsk(ctx, text, speaker, useAgent, selectedAgent)
	return nil
}

func (r *RunCoordinator) executeTourCommand(ctx context.Context, cmd TourCommand) error {
	switch cmd.Action {
	case "start":
		return r.controller.Start(ctx, cmd.StopIndex, r.cfg.GuideEnabled)
	case "next":
		return r.controller.Next(ctx)
	case "prev":
		return r.controller.Prev(ctx)
	case "jump":
		return r.controller.JumpTo(ctx, cmd.StopIndex)
	case "pause":
		r.controller.Pause("voice_command", false)
		return nil
	case "continue":
		return r.controller.Continue(ctx)
	case "reset":
		r.controller.Reset()
		return nil
	default:
		return nil
	}
}

func (r *RunCoordinator) submitGroupMode(ctx context.Context, text, speaker string, priority Priority, useAgent bool, selectedAgent *string) error {
	q := QueuedQuestion{Speaker: speaker, Priority: priority, Text: text, UseAgent: useAgent, SelectedAgent: selectedAgent}

	if r.isActiveRun() && priority == PriorityHigh {
		if r.onHighPriorityCooldown() {
			r.enqueue(q)
			return nil
		}
		r.mu.Lock()
		r.lastHighPriorityInterruptAt = time.Now()
		r.mu.Unlock()
		r.Interrupt("high_priority_preempt")
		r.startAsk(ctx, text, speaker, useAgent, selectedAgent)
		return nil
	}

	r.enqueue(q)
	return nil
}

func (r *RunCoordinator) onHighPriorityCooldown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastHighPriorityInterruptAt.IsZero() {
		return false
	}
	return time.Since(r.lastHighPriorityInterruptAt) < r.cfg.HighPriorityCooldown
}

func (r *RunCoordinator) enqueue(q QueuedQuestion) {
	r.mu.Lock()
	r.queue = append(r.queue, q)
	r.mu.Unlock()
}

// MaybeStartNextQueuedQuestion picks the next queued question once the
// active run has gone idle, preferring a different speaker than
// lastSpeaker and preferring high over normal priority. The owning
// component (wherever AskDriver.Run's completion is observed) calls
// this after every ask-turn finishes.
func (r *RunCoordinator) MaybeStartNextQueuedQuestion(ctx context.Context) {
	r.mu.Lock()
	if r.activeRun || len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	idx := pickNextQueuedIndex(r.queue, r.lastSpeaker)
	q := r.queue[idx]
	r.queue = append(r.queue[:idx], r.queue[idx+1:]...)
	r.mu.Unlock()

	r.startAsk(ctx, q.Text, q.Speaker, q.UseAgent, q.SelectedAgent)
}

// pickNextQueuedIndex implements a FIFO-with-fairness tie-break: strict
// FIFO within a priority band, "different speaker than last wins" as
// the tie-break, high priority before normal.
func pickNextQueuedIndex(queue []QueuedQuestion, lastSpeaker string) int {
	best := -1
	for i, q := range queue {
		if best == -1 {
			best = i
			continue
		}
		if higherPriority(q.Priority, queue[best].Priority) {
			best = i
			continue
		}
		if q.Priority == queue[best].Priority && q.Speaker != lastSpeaker && queue[best].Speaker == lastSpeaker {
			best = i
		}
	}
	return best
}

func higherPriority(a, b Priority) bool {
	return a == PriorityHigh && b != PriorityHigh
}

func (r *RunCoordinator) startAsk(ctx context.Context, text, speaker string, useAgent bool, selectedAgent *string) {
	r.mu.Lock()
	r.activeRun = true
	r.lastSpeaker = speaker
	r.mu.Unlock()

	go func() {
		defer func() {
			r.setActiveRun(false)
			r.MaybeStartNextQueuedQuestion(ctx)
		}()

		req := types.TurnRequest{
			RequestID:    r.nextRequestID(),
			ClientID:     r.clientID,
			Kind:         types.KindUserQuestion,
			QuestionText: text,
		}
		if useAgent {
			req.AgentID = selectedAgent
		}
		if err := r.driver.Run(ctx, req); err != nil {
			r.logger.Errorw("runcoordinator: ask failed", "err", err.Error())
		}
	}()
}

func (r *RunCoordinator) nextRequestID() string {
	return r.clientID + "-" + uuid.New().String()
}
