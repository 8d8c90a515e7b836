// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package askdriver implements C3: drives a single ask-turn end to end,
// parsing the /api/ask SSE protocol and pushing segments into TtsQueue.
package askdriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/epoch"
	"github.com/rapidaai/tourguide/internal/transport"
	"github.com/rapidaai/tourguide/internal/ttsqueue"
	"github.com/rapidaai/tourguide/pkg/types"
)

// Hooks are the side effects a driven ask-turn fires, kept as plain
// function fields so this package doesn't depend on TourController/
// TourPipeline/RunCoordinator.
type Hooks struct {
	OnIntent func(intent string, confidence float64)
	OnChunk  func(fullAnswer string)
	// OnTourDone fires once the turn's TtsQueue has gone idle, only for
	// TurnRequests whose Kind starts a continuous tour (tour_start,
	// tour_continue, tour_next with Guide.Continuous) — TourPipeline
	// wires this to kick off next-stop prefetch.
	OnTourDone func(req types.TurnRequest, fullAnswer string)
}

// Driver drives one ask-turn at a time.
type Driver struct {
	logger   commons.Logger
	epoch    *epoch.InterruptEpoch
	client   *transport.Client
	queue    *ttsqueue.TtsQueue
	clientID string
	hooks    Hooks

	mu              sync.Mutex
	loading         bool
	activeRequestID string
	cancelCurrent   context.CancelFunc
}

func New(logger commons.Logger, ep *epoch.InterruptEpoch, client *transport.Client, queue *ttsqueue.TtsQueue, clientID string, hooks Hooks) *Driver {
	return &Driver{logger: logger, epoch: ep, client: client, queue: queue, clientID: clientID, hooks: hooks}
}

// SetTourDoneHook installs (or replaces) the OnTourDone hook. TourPipeline
// calls this once during wiring so it can drive the continuous-tour chain
// without AskDriver depending on tourpipeline's package.
func (d *Driver) SetTourDoneHook(fn func(req types.TurnRequest, fullAnswer string)) {
	d.mu.Lock()
	d.hooks.OnTourDone = fn
	d.mu.Unlock()
}

func (d *Driver) IsLoading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loading
}

func (d *Driver) setLoading(v bool) {
	d.mu.Lock()
	d.loading = v
	d.mu.Unlock()
}

// Cancel posts /api/cancel for the given request.
func (d *Driver) Cancel(ctx context.Context, requestID, reason string) error {
	return d.client.Cancel(ctx, requestID, d.clientID, reason)
}

// AbortCurrent aborts whatever ask-turn is currently in flight: it cancels
// the run's own context (unblocking the SSE read immediately instead of
// draining it to completion), notifies the remote side best-effort, and
// stops the shared TtsQueue so any audio already playing halts too. Safe
// to call when nothing is running.
func (d *Driver) AbortCurrent(reason string) {
	d.mu.Lock()
	cancel := d.cancelCurrent
	requestID := d.activeRequestID
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.queue.Stop(reason)

	if requestID != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.Cancel(ctx, requestID, reason); err != nil {
				d.logger.Warnw("askdriver: remote cancel failed", "request_id", requestID, "err", err.Error())
			}
		}()
	}
}

// Run drives req to completion: opens the SSE stream, dispatches every
// frame, and awaits the resulting TtsRun going idle. Every externally
// visible effect is gated on the epoch snapshotted at entry, so a stale
// epoch turns all of them into no-ops. The turn runs under its own
// cancellable context, derived from ctx, so AbortCurrent can unblock the
// in-flight read the moment an interrupt arrives rather than waiting
// for the stream to drain.
func (d *Driver) Run(ctx context.Context, req types.TurnRequest) error {
	snap := d.epoch.Snapshot()
	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.loading = true
	d.activeRequestID = req.RequestID
	d.cancelCurrent = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.loading = false
		d.activeRequestID = ""
		d.cancelCurrent = nil
		d.mu.Unlock()
		cancel()
	}()

	d.queue.ResetForRun(req.RequestID)
	d.queue.EnsureRunning(runCtx)

	body, err := d.client.AskStream(runCtx, buildAskRequest(req, d.clientID))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		d.logger.Errorw("askdriver: ask stream failed", "request_id", req.RequestID, "err", err.Error())
		return fmt.Errorf("askdriver: ask stream: %w", err)
	}

	reader := transport.NewSSEReader(body)
	defer reader.Close()

	var fullAnswer strings.Builder
	sawSegment := false

	for {
		frame, readErr := reader.Next(runCtx)
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if errors.Is(readErr, context.Canceled) {
				return nil
			}
			d.logger.Errorw("askdriver: sse read failed", "request_id", req.RequestID, "err", readErr.Error())
			break
		}

		if !d.epoch.IsCurrent(snap) {
			continue // stale: drain without effects
		}

		if frame.Meta != nil && d.hooks.OnIntent != nil {
			d.hooks.OnIntent(frame.Meta.Intent, frame.Meta.IntentConfidence)
		}

		if !frame.Done {
			if frame.Chunk != "" {
				fullAnswer.WriteString(frame.Chunk)
				if d.hooks.OnChunk != nil {
					d.hooks.OnChunk(fullAnswer.String())
				}
			}
			if frame.Segment != "" {
				d.queue.EnqueueText(frame.Segment, req.StopIndex)
				sawSegment = true
			}
			continue
		}

		// frame.Done
		if !sawSegment && fullAnswer.Len() > 0 {
			d.queue.EnqueueText(fullAnswer.String(), req.StopIndex)
		}
		d.queue.MarkRagDone()
		break
	}

	if err := d.queue.WaitForIdle(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warnw("askdriver: wait for idle did not complete cleanly", "request_id", req.RequestID, "err", err.Error())
	}

	if d.epoch.IsCurrent(snap) && d.hooks.OnTourDone != nil && isTourRoot(req) {
		d.hooks.OnTourDone(req, fullAnswer.String())
	}
	return nil
}

func isTourRoot(req types.TurnRequest) bool {
	switch req.Kind {
	case types.KindTourStart, types.KindTourContinue, types.KindTourNext:
		return req.Guide != nil && req.Guide.Continuous
	default:
		return false
	}
}

func buildAskRequest(req types.TurnRequest, clientID string) transport.AskRequest {
	return transport.AskRequest{
		Question:    req.QuestionText,
		RequestID:   req.RequestID,
		ClientID:    clientID,
		AgentID:     req.AgentID,
		RecordingID: req.RecordingID,
		Guide:       req.Guide,
		Kind:        string(req.Kind),
	}
}
