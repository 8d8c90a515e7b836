// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tourpipeline implements C4: the continuous-tour loop, prompt
// construction for each stop, and a single-in-flight next-stop
// prefetcher with caching and chaining.
package tourpipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rapidaai/tourguide/internal/askdriver"
	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/epoch"
	"github.com/rapidaai/tourguide/internal/prompt"
	"github.com/rapidaai/tourguide/internal/transport"
	"github.com/rapidaai/tourguide/internal/ttsqueue"
	"github.com/rapidaai/tourguide/pkg/types"
)

// Stop is one entry of a resolved tour plan.
type Stop struct {
	Name      string
	DurationS float64
}

// Config carries TourPipeline's tunables (MaxPrefetchAhead and the
// AudienceProfile passed to every prompt), kept separate from
// config.AppConfig to avoid an import cycle.
type Config struct {
	MaxPrefetchAhead int
	AudienceProfile  string
}

func (c Config) withDefaults() Config {
	if c.MaxPrefetchAhead <= 0 {
		c.MaxPrefetchAhead = 1
	}
	return c
}

// Pipeline drives a continuous guided tour: one stop at a time through
// AskDriver, with the next stop's answer prefetched and cached ahead of
// time so the transition plays with zero new network latency.
type Pipeline struct {
	cfg     Config
	logger  commons.Logger
	epoch   *epoch.InterruptEpoch
	client  *transport.Client
	driver  *askdriver.Driver
	builder *prompt.Builder
	queue   *ttsqueue.TtsQueue

	clientID string

	mu               sync.Mutex
	active           bool
	continuous       bool
	stops            []Stop
	currentStopIndex int
	lastTail         string
	cache            map[int]types.PrefetchEntry
	prefetchCancel   context.CancelFunc
	seq              int
}

func New(cfg Config, logger commons.Logger, ep *epoch.InterruptEpoch, client *transport.Client, driver *askdriver.Driver, builder *prompt.Builder, queue *ttsqueue.TtsQueue, clientID string) *Pipeline {
	p := &Pipeline{
		cfg:              cfg.withDefaults(),
		logger:           logger,
		epoch:            ep,
		client:           client,
		driver:           driver,
		builder:          builder,
		queue:            queue,
		clientID:         clientID,
		cache:            make(map[int]types.PrefetchEntry),
		currentStopIndex: -1,
	}
	driver.SetTourDoneHook(p.onStopDone)
	return p
}

// SetStops installs the tour's stops; cmd/tourguide loads them from
// /api/tour/stops.
func (p *Pipeline) SetStops(stops []Stop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops = stops
}

func (p *Pipeline) CurrentStopIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentStopIndex
}

func (p *Pipeline) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// StartContinuousTour captures the epoch, marks the pipeline active, and
// drives startIndex through AskDriver (or a cache replay). AskDriver's
// done handler (wired as OnTourDone) continues the chain via
// maybePrefetchNextStop + advancing to the next stop.
func (p *Pipeline) StartContinuousTour(ctx context.Context, startIndex int, continuous bool) error {
	return p.GoToStop(ctx, startIndex, prompt.ActionStart, continuous)
}

// GoToStop plays stopIndex directly (from the cache if prefetched),
// marking the pipeline active at stopIndex. TourController uses this for
// start/next/prev/jumpTo; a non-continuous tour passes continuous=false
// so onStopDone won't chain to the following stop on its own.
func (p *Pipeline) GoToStop(ctx context.Context, stopIndex int, action prompt.Action, continuous bool) error {
	p.mu.Lock()
	p.active = true
	p.continuous = continuous
	p.currentStopIndex = stopIndex
	p.mu.Unlock()

	return p.driveStop(ctx, stopIndex, action)
}

// Pause marks the pipeline inactive without discarding the prefetch
// cache: active becomes false but nothing cached is thrown away.
func (p *Pipeline) Pause(reason string) {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
	p.logger.Infow("tourpipeline: paused", "reason", reason)
}

// Interrupt marks the pipeline inactive, aborts any in-flight prefetch,
// clears the cache, and resets the current stop index to -1.
func (p *Pipeline) Interrupt(reason string) {
	p.abortPrefetch(reason)
	p.mu.Lock()
	p.active = false
	p.currentStopIndex = -1
	p.cache = make(map[int]types.PrefetchEntry)
	p.mu.Unlock()
	p.logger.Infow("tourpipeline: interrupted", "reason", reason)
}

func (p *Pipeline) abortPrefetch(reason string) {
	p.mu.Lock()
	cancel := p.prefetchCancel
	p.prefetchCancel = nil
	p.mu.Unlock()
	if cancel != nil {
		p.logger.Debugw("tourpipeline: abort prefetch", "reason", reason)
		cancel()
	}
}

func (p *Pipeline) nextRequestID() string {
	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("tour-%s-%d", p.clientID, p.seq)
	p.mu.Unlock()
	return id
}

func (p *Pipeline) stopAt(i int) (Stop, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.stops) {
		return Stop{}, false
	}
	return p.stops[i], true
}

func (p *Pipeline) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stops)
}

// StopCount reports how many stops the installed tour plan holds.
func (p *Pipeline) StopCount() int {
	return p.stopCount()
}

// StopName returns stop i's name, or "" if i is out of range.
func (p *Pipeline) StopName(i int) string {
	s, ok := p.stopAt(i)
	if !ok {
		return ""
	}
	return s.Name
}

func (p *Pipeline) cachedEntry(i int) (types.PrefetchEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.cache[i]
	return e, ok
}

func (p *Pipeline) storeCachedEntry(i int, e types.PrefetchEntry) {
	p.mu.Lock()
	p.cache[i] = e
	p.mu.Unlock()
}

// driveStop answers one tour stop, replaying from the cache when
// available and otherwise going through AskDriver.
func (p *Pipeline) driveStop(ctx context.Context, stopIndex int, action prompt.Action) error {
	if !p.IsActive() {
		return nil
	}
	stop, ok := p.stopAt(stopIndex)
	if !ok {
		p.logger.Warnw("tourpipeline: drive stop out of range", "stop_index", stopIndex)
		return nil
	}

	if entry, hit := p.cachedEntry(stopIndex); hit {
		return p.replayPrefetchToQueue(ctx, stopIndex, entry)
	}

	p.mu.Lock()
	tail := p.lastTail
	p.mu.Unlock()

	questionText, err := p.builder.Build(prompt.Params{
		Action:          action,
		StopIndex:       stopIndex,
		StopName:        stop.Name,
		DurationS:       stop.DurationS,
		PreviousTail:    tail,
		Continuous:      p.continuousFlag(),
		AudienceProfile: p.cfg.AudienceProfile,
	})
	if err != nil {
		p.logger.Errorw("tourpipeline: prompt build failed", "stop_index", stopIndex, "err", err.Error())
		return fmt.Errorf("tourpipeline: build prompt: %w", err)
	}

	si := stopIndex
	req := types.TurnRequest{
		RequestID:    p.nextRequestID(),
		ClientID:     p.clientID,
		Kind:         kindForAction(action),
		StopIndex:    &si,
		QuestionText: questionText,
		Guide: &types.GuideParams{
			Enabled:    true,
			Continuous: p.continuousFlag(),
			StopName:   stop.Name,
			StopIndex:  stopIndex,
			DurationS:  stop.DurationS,
		},
	}
	return p.driver.Run(ctx, req)
}

func (p *Pipeline) continuousFlag() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.continuous
}

func kindForAction(a prompt.Action) types.TurnRequestKind {
	switch a {
	case prompt.ActionStart:
		return types.KindTourStart
	case prompt.ActionContinue:
		return types.KindTourContinue
	default:
		return types.KindTourNext
	}
}

// replayPrefetchToQueue re-enqueues a cached entry's segments into
// TtsQueue in original order and drives it to idle exactly like a live
// AskDriver run would.
func (p *Pipeline) replayPrefetchToQueue(ctx context.Context, stopIndex int, entry types.PrefetchEntry) error {
	requestID := p.nextRequestID()
	p.queue.ResetForRun(requestID)
	p.queue.EnsureRunning(ctx)

	si := stopIndex
	for _, seg := range entry.Segments {
		seg.StopIndex = &si
		p.queue.EnqueueText(seg.Text, seg.StopIndex)
	}
	for _, seg := range entry.AudioSegments {
		seg.StopIndex = &si
		if len(seg.PrefetchedWavBytes) > 0 {
			p.queue.EnqueueWavBytes(seg.PrefetchedWavBytes, seg.StopIndex, seg.Text)
		} else if seg.RecordedAudioURL != "" {
			p.queue.EnqueueAudioURL(seg.RecordedAudioURL, seg.StopIndex, seg.Text)
		}
	}
	p.queue.MarkRagDone()

	if err := p.queue.WaitForIdle(ctx); err != nil {
		p.logger.Warnw("tourpipeline: replay wait for idle did not complete cleanly", "stop_index", stopIndex, "err", err.Error())
	}

	req := types.TurnRequest{StopIndex: &si, Kind: types.KindTourNext, Guide: &types.GuideParams{Continuous: p.continuousFlag()}}
	p.onStopDone(req, entry.AnswerText)
	return nil
}

// onStopDone is wired as AskDriver's OnTourDone hook: it kicks off
// next-stop prefetch and, for a continuous tour, advances to the next
// stop once this one's queue has gone idle.
func (p *Pipeline) onStopDone(req types.TurnRequest, fullAnswer string) {
	if req.StopIndex == nil {
		return
	}
	stopIndex := *req.StopIndex
	p.mu.Lock()
	p.currentStopIndex = stopIndex
	p.lastTail = prompt.CompressTail(fullAnswer)
	tail := p.lastTail
	continuous := p.continuous
	active := p.active
	p.mu.Unlock()

	p.maybePrefetchNextStop(stopIndex, tail)

	if !active || !continuous {
		return
	}
	next := stopIndex + 1
	if next >= p.stopCount() {
		return
	}
	go func() {
		if err := p.driveStop(context.Background(), next, prompt.ActionNext); err != nil {
			p.logger.Errorw("tourpipeline: drive next stop failed", "stop_index", next, "err", err.Error())
		}
	}()
}

// maybePrefetchNextStop starts (or chains into) a prefetch for
// stopIndex+1 when it falls within the look-ahead window and isn't
// already cached.
func (p *Pipeline) maybePrefetchNextStop(stopIndex int, tail string) {
	next := stopIndex + 1
	if next >= p.stopCount() {
		return
	}
	if next > p.CurrentStopIndex()+p.cfg.MaxPrefetchAhead {
		return
	}
	if _, hit := p.cachedEntry(next); hit {
		return
	}
	p.startPrefetch(next, tail)
}

// PrefetchFrom kicks off (or chains into) a prefetch for stopIndex+1,
// using the pipeline's last-recorded tail. TourController calls this
// after a manual-pause resume drains.
func (p *Pipeline) PrefetchFrom(stopIndex int) {
	p.mu.Lock()
	tail := p.lastTail
	p.mu.Unlock()
	p.maybePrefetchNextStop(stopIndex, tail)
}

func (p *Pipeline) startPrefetch(stopIndex int, tail string) {
	p.abortPrefetch("superseded by newer prefetch")

	snap := p.epoch.Snapshot()
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.prefetchCancel = cancel
	p.mu.Unlock()

	go p.runPrefetch(ctx, snap, stopIndex, tail)
}

func (p *Pipeline) runPrefetch(ctx context.Context, snap epoch.Epoch, stopIndex int, tail string) {
	stop, ok := p.stopAt(stopIndex)
	if !ok {
		return
	}

	text, err := p.builder.Build(prompt.Params{
		Action:          prompt.ActionContinue,
		StopIndex:       stopIndex,
		StopName:        stop.Name,
		DurationS:       stop.DurationS,
		PreviousTail:    tail,
		Continuous:      true,
		AudienceProfile: p.cfg.AudienceProfile,
	})
	if err != nil {
		p.logger.Errorw("tourpipeline: prefetch prompt build failed", "stop_index", stopIndex, "err", err.Error())
		return
	}

	si := stopIndex
	askReq := transport.AskRequest{
		Question:  text,
		RequestID: p.nextRequestID(),
		ClientID:  p.clientID,
		Kind:      string(types.KindAskPrefetch),
		Guide:     &types.GuideParams{Enabled: true, Continuous: true, StopName: stop.Name, StopIndex: si},
	}

	body, err := p.client.AskStream(ctx, askReq)
	if err != nil {
		p.logger.Debugw("tourpipeline: prefetch ask failed", "stop_index", stopIndex, "err", err.Error())
		return
	}
	defer body.Close()

	reader := transport.NewSSEReader(body)
	defer reader.Close()

	var fullAnswer []byte
	var segments []types.Segment
	seq := 0
	for {
		frame, readErr := reader.Next(ctx)
		if readErr != nil {
			break
		}
		if !frame.Done {
			if frame.Chunk != "" {
				fullAnswer = append(fullAnswer, frame.Chunk...)
			}
			if frame.Segment != "" {
				segments = append(segments, types.Segment{Seq: seq, StopIndex: &si, Text: frame.Segment})
				seq++
			}
			continue
		}
		if len(segments) == 0 && len(fullAnswer) > 0 {
			segments = append(segments, types.Segment{Seq: 0, StopIndex: &si, Text: string(fullAnswer)})
		}
		break
	}

	if ctx.Err() != nil || !p.epoch.IsCurrent(snap) {
		return // aborted/interrupted/bumped mid-prefetch: discard, never publish stale work
	}

	entry := types.PrefetchEntry{
		StopIndex:  stopIndex,
		AnswerText: string(fullAnswer),
		Tail:       prompt.CompressTail(string(fullAnswer)),
		Segments:   segments,
	}
	p.storeCachedEntry(stopIndex, entry)
	p.logger.Infow("tourpipeline: prefetch cached", "stop_index", stopIndex, "segments", len(segments))

	// Chain: cover the case where this prefetch itself completed before
	// the live stop advanced past it.
	p.maybePrefetchNextStop(stopIndex, entry.Tail)
}
