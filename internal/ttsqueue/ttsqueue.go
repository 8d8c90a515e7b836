// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package ttsqueue implements the ordered text->audio pipeline: a
// generator worker that turns queued text into synthesized-audio
// references under a bounded pre-generation cap, and a player worker
// that plays them in order, both scoped to a single TtsRun and both
// exiting when the run drains or is superseded.
package ttsqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rapidaai/tourguide/internal/audiooutput"
	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/epoch"
	"github.com/rapidaai/tourguide/pkg/types"
)

// URLBuilder builds the synthesis request URL for a queued text
// segment: request_id, client_id, a running segment_index counter,
// voice/speed/provider and stop_index. No recording_id parameter is
// included.
type URLBuilder interface {
	BuildTTSStreamURL(requestID string, segmentIndex int, seg types.Segment) string
}

// AudioFetcher retrieves bytes for URL-backed AudioItems.
type AudioFetcher interface {
	// FetchStream opens a streaming body for a synthesized-TTS URL.
	FetchStream(ctx context.Context, url string) (ReadCloser, error)
	// FetchBuffer retrieves a recorded-audio URL as a whole finished buffer.
	FetchBuffer(ctx context.Context, url string) ([]byte, error)
}

// ReadCloser is the streaming-body type ttsqueue needs: an alias of
// io.ReadCloser, so transport's FetchStream matches AudioFetcher and
// tests can return any reader wrapped in io.NopCloser.
type ReadCloser = io.ReadCloser

// Hooks are the side effects TtsQueue invokes on the owning component
// (TourController / AskDriver wiring), kept as plain function fields so
// this package has no dependency on its callers.
type Hooks struct {
	// OnStopIndexChange fires exactly once per transition between two
	// consecutive played items whose StopIndex differs.
	OnStopIndexChange func(prev, next *int)
	// OnAbnormalAudio fires when the sanity probe fails fatally.
	OnAbnormalAudio func(kind audiooutput.AbnormalKind)
	// OnPlayEnd fires once on a clean drain (rag_done && queues empty).
	OnPlayEnd func()
}

// Config tunes the queue.
type Config struct {
	MaxPreGenerate        int
	GeneratorPollInterval time.Duration
	PlayerPollInterval    time.Duration
	PlayerConfig          audiooutput.PlayerConfig
}

func (c Config) withDefaults() Config {
	if c.MaxPreGenerate <= 0 {
		c.MaxPreGenerate = 2
	}
	if c.GeneratorPollInterval <= 0 {
		c.GeneratorPollInterval = 50 * time.Millisecond
	}
	if c.PlayerPollInterval <= 0 {
		c.PlayerPollInterval = 50 * time.Millisecond
	}
	return c
}

// run is one TtsRun's mutable state: its local generation token, the
// text/audio queues, the dedup set, and the done-latches the worker
// loops publish when they exit.
type run struct {
	cond *sync.Cond

	token     uint64
	requestID string
	ragDone   bool
	stopped   bool
	stopReason string

	seenText   map[string]bool
	textQueue  []types.Segment
	audioQueue []types.AudioItem

	playing       *types.AudioItem
	lastStopIndex *int

	started       bool
	generatorDone bool
	playerDone    bool

	// activePlayer and activeItemCancel track whatever is currently being
	// played, so Stop/ResetForRun can reach in and abort it immediately
	// instead of waiting for it to drain on its own.
	activePlayer     *audiooutput.Player
	activeItemCancel context.CancelFunc
}

func newRun(token uint64, requestID string) *run {
	return &run{
		cond:      sync.NewCond(&sync.Mutex{}),
		token:     token,
		requestID: requestID,
		seenText:  make(map[string]bool),
	}
}

func (r *run) isStopped() bool {
	r.cond.L.Lock()
	defer r.cond.L.Unlock()
	return r.stopped
}

// TtsQueue is the per-client singleton coordinating one TtsRun at a
// time; ResetForRun retires the previous run (if any) and starts a new
// one lazily on EnsureRunning.
type TtsQueue struct {
	cfg    Config
	logger commons.Logger
	epoch  *epoch.InterruptEpoch
	sink   audiooutput.Sink

	urlBuilder URLBuilder
	fetcher    AudioFetcher
	hooks      Hooks

	mu      sync.Mutex
	seq     int
	token   uint64
	current *run
}

func New(cfg Config, logger commons.Logger, ep *epoch.InterruptEpoch, sink audiooutput.Sink, urlBuilder URLBuilder, fetcher AudioFetcher, hooks Hooks) *TtsQueue {
	return &TtsQueue{
		cfg:        cfg.withDefaults(),
		logger:     logger,
		epoch:      ep,
		sink:       sink,
		urlBuilder: urlBuilder,
		fetcher:    fetcher,
		hooks:      hooks,
	}
}

// ResetForRun stops the current run (if any) and starts a fresh one,
// clearing both queues and the dedup set. Workers are started lazily by
// EnsureRunning.
func (q *TtsQueue) ResetForRun(requestID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil {
		q.stopLocked(q.current, "reset")
	}
	q.token++
	q.seq = 0
	q.current = newRun(q.token, requestID)
	q.logger.Debugw("ttsqueue: reset for run", "request_id", requestID, "token", q.token)
}

// stopLocked marks r stopped and immediately aborts whatever it is
// currently playing or fetching: it cancels the active item's context
// (unblocking any in-flight network read) and stops the active Player
// (disconnecting the sink so already-scheduled audio halts at once).
func (q *TtsQueue) stopLocked(r *run, reason string) {
	r.cond.L.Lock()
	r.stopped = true
	r.stopReason = reason
	player := r.activePlayer
	cancel := r.activeItemCancel
	r.cond.L.Unlock()

	if cancel != nil {
		cancel()
	}
	if player != nil {
		player.Stop()
	}
	r.cond.Broadcast()
}

// Stop ends the current run with reason, waking any blocked workers.
func (q *TtsQueue) Stop(reason string) {
	q.mu.Lock()
	r := q.current
	q.mu.Unlock()
	if r == nil {
		return
	}
	q.stopLocked(r, reason)
}

// EnsureRunning starts the generator and player goroutines for the
// current run if they have not already been started.
func (q *TtsQueue) EnsureRunning(ctx context.Context) {
	q.mu.Lock()
	r := q.current
	q.mu.Unlock()
	if r == nil {
		return
	}

	r.cond.L.Lock()
	alreadyStarted := r.started
	r.started = true
	r.cond.L.Unlock()
	if alreadyStarted {
		return
	}

	snap := q.epoch.Snapshot()
	go q.generatorLoop(ctx, r, snap)
	go q.playerLoop(ctx, r, snap)
}

// EnqueueText dedups against the run's seen-text set, assigns seq, and
// appends to the text queue. Returns false if dropped as a duplicate.
func (q *TtsQueue) EnqueueText(text string, stopIndex *int) bool {
	q.mu.Lock()
	r := q.current
	q.mu.Unlock()
	if r == nil || text == "" {
		return false
	}

	r.cond.L.Lock()
	defer r.cond.L.Unlock()
	if r.seenText[text] {
		return false
	}
	r.seenText[text] = true

	seg := types.Segment{Seq: q.nextSeq(), StopIndex: stopIndex, Text: text}
	r.textQueue = append(r.textQueue, seg)
	q.logger.Debugw("ttsqueue: enqueue", "seq", seg.Seq, "len", len(text))
	r.cond.Broadcast()
	return true
}

// EnqueueWavBytes bypasses synthesis entirely.
func (q *TtsQueue) EnqueueWavBytes(wav []byte, stopIndex *int, text string) {
	q.mu.Lock()
	r := q.current
	q.mu.Unlock()
	if r == nil {
		return
	}
	r.cond.L.Lock()
	defer r.cond.L.Unlock()
	r.audioQueue = append(r.audioQueue, types.AudioItem{
		Seq: q.nextSeq(), StopIndex: stopIndex, Text: text,
		Kind: types.AudioItemKindBuffered, WavBytes: wav,
	})
	r.cond.Broadcast()
}

// EnqueueAudioURL appends a pre-recorded-audio item; the player fetches
// and decodes it as a finished buffer.
func (q *TtsQueue) EnqueueAudioURL(url string, stopIndex *int, text string) {
	q.mu.Lock()
	r := q.current
	q.mu.Unlock()
	if r == nil {
		return
	}
	r.cond.L.Lock()
	defer r.cond.L.Unlock()
	r.audioQueue = append(r.audioQueue, types.AudioItem{
		Seq: q.nextSeq(), StopIndex: stopIndex, Text: text,
		Kind: types.AudioItemKindBuffered, URL: url,
	})
	r.cond.Broadcast()
}

func (q *TtsQueue) nextSeq() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return q.seq
}

// MarkRagDone signals that no more text will arrive for this run.
func (q *TtsQueue) MarkRagDone() {
	q.mu.Lock()
	r := q.current
	q.mu.Unlock()
	if r == nil {
		return
	}
	r.cond.L.Lock()
	r.ragDone = true
	r.cond.L.Unlock()
	r.cond.Broadcast()
}

// CapturePendingTextByStopIndex returns the ordered, deduped set of
// still-unplayed text segments for idx, including the currently-playing
// item if it matches and carries text.
func (q *TtsQueue) CapturePendingTextByStopIndex(idx int) []types.Segment {
	q.mu.Lock()
	r := q.current
	q.mu.Unlock()
	if r == nil {
		return nil
	}
	r.cond.L.Lock()
	defer r.cond.L.Unlock()

	var out []types.Segment
	if r.playing != nil && matchesStopIndex(r.playing.StopIndex, idx) && r.playing.Text != "" {
		out = append(out, types.Segment{Seq: r.playing.Seq, StopIndex: r.playing.StopIndex, Text: r.playing.Text})
	}
	for _, s := range r.textQueue {
		if matchesStopIndex(s.StopIndex, idx) {
			out = append(out, s)
		}
	}
	return out
}

// CapturePendingAudioByStopIndex is the audio-queue analogue, used for
// recorded-tour playback resume.
func (q *TtsQueue) CapturePendingAudioByStopIndex(idx int) []types.Segment {
	q.mu.Lock()
	r := q.current
	q.mu.Unlock()
	if r == nil {
		return nil
	}
	r.cond.L.Lock()
	defer r.cond.L.Unlock()

	var out []types.Segment
	if r.playing != nil && matchesStopIndex(r.playing.StopIndex, idx) && r.playing.Text == "" {
		out = append(out, audioItemToSegment(*r.playing))
	}
	for _, a := range r.audioQueue {
		if matchesStopIndex(a.StopIndex, idx) {
			out = append(out, audioItemToSegment(a))
		}
	}
	return out
}

// CaptureAllPendingText returns every still-unplayed text segment
// regardless of stop index, including the currently-playing item if it
// carries text. Used by TourController to capture the "_question" resume
// slot, which has no stop index to key on.
func (q *TtsQueue) CaptureAllPendingText() []types.Segment {
	q.mu.Lock()
	r := q.current
	q.mu.Unlock()
	if r == nil {
		return nil
	}
	r.cond.L.Lock()
	defer r.cond.L.Unlock()

	var out []types.Segment
	if r.playing != nil && r.playing.Text != "" {
		out = append(out, types.Segment{Seq: r.playing.Seq, StopIndex: r.playing.StopIndex, Text: r.playing.Text})
	}
	out = append(out, r.textQueue...)
	return out
}

// CaptureAllPendingAudio is the audio-queue analogue of CaptureAllPendingText.
func (q *TtsQueue) CaptureAllPendingAudio() []types.Segment {
	q.mu.Lock()
	r := q.current
	q.mu.Unlock()
	if r == nil {
		return nil
	}
	r.cond.L.Lock()
	defer r.cond.L.Unlock()

	var out []types.Segment
	if r.playing != nil && r.playing.Text == "" {
		out = append(out, audioItemToSegment(*r.playing))
	}
	for _, a := range r.audioQueue {
		out = append(out, audioItemToSegment(a))
	}
	return out
}

func audioItemToSegment(a types.AudioItem) types.Segment {
	seg := types.Segment{Seq: a.Seq, StopIndex: a.StopIndex, Text: a.Text}
	if a.Kind == types.AudioItemKindBuffered && a.URL != "" {
		seg.RecordedAudioURL = a.URL
	} else {
		seg.PrefetchedWavBytes = a.WavBytes
	}
	return seg
}

func matchesStopIndex(si *int, idx int) bool {
	return si != nil && *si == idx
}

// WaitForIdle blocks until the current run's generator and player have
// both exited and both queues are empty, or ctx is done.
func (q *TtsQueue) WaitForIdle(ctx context.Context) error {
	q.mu.Lock()
	r := q.current
	q.mu.Unlock()
	if r == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.cond.L.Lock()
		for !(r.generatorDone && r.playerDone && len(r.textQueue) == 0 && len(r.audioQueue) == 0) && !r.stopped {
			r.cond.Wait()
		}
		r.cond.L.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- generator worker ---

func (q *TtsQueue) generatorLoop(ctx context.Context, r *run, snap epoch.Epoch) {
	for {
		// A stale epoch with no accompanying Stop()/ResetForRun() must
		// still unwind this run the same way an explicit stop does —
		// otherwise generatorDone never latches and WaitForIdle blocks
		// forever.
		if (ctx.Err() != nil || !q.epoch.IsCurrent(snap)) && !r.isStopped() {
			q.stopLocked(r, "epoch_stale")
		}

		r.cond.L.Lock()
		if r.stopped {
			r.generatorDone = true
			r.cond.L.Unlock()
			r.cond.Broadcast()
			return
		}
		if len(r.audioQueue) >= q.cfg.MaxPreGenerate {
			r.cond.L.Unlock()
			time.Sleep(q.cfg.GeneratorPollInterval)
			continue
		}
		if len(r.textQueue) == 0 {
			if r.ragDone {
				r.generatorDone = true
				r.cond.L.Unlock()
				r.cond.Broadcast()
				return
			}
			r.cond.L.Unlock()
			time.Sleep(q.cfg.GeneratorPollInterval)
			continue
		}

		seg := r.textQueue[0]
		r.textQueue = r.textQueue[1:]
		r.cond.L.Unlock()

		var item types.AudioItem
		if len(seg.PrefetchedWavBytes) > 0 {
			item = types.AudioItem{Seq: seg.Seq, StopIndex: seg.StopIndex, Text: seg.Text, Kind: types.AudioItemKindBuffered, WavBytes: seg.PrefetchedWavBytes}
		} else {
			url := ""
			if q.urlBuilder != nil {
				url = q.urlBuilder.BuildTTSStreamURL(r.requestID, seg.Seq, seg)
			}
			item = types.AudioItem{Seq: seg.Seq, StopIndex: seg.StopIndex, Text: seg.Text, Kind: types.AudioItemKindStream, URL: url}
		}

		r.cond.L.Lock()
		r.audioQueue = append(r.audioQueue, item)
		r.cond.L.Unlock()
		r.cond.Broadcast()
	}
}

// --- player worker ---

func (q *TtsQueue) playerLoop(ctx context.Context, r *run, snap epoch.Epoch) {
	for {
		// Same reasoning as generatorLoop: an epoch bump with no explicit
		// Stop() must still abort whatever is playing and latch playerDone,
		// or WaitForIdle blocks forever and the old audio keeps playing.
		if (ctx.Err() != nil || !q.epoch.IsCurrent(snap)) && !r.isStopped() {
			q.stopLocked(r, "epoch_stale")
		}

		r.cond.L.Lock()
		if r.stopped {
			r.playerDone = true
			r.cond.L.Unlock()
			r.cond.Broadcast()
			return
		}
		if len(r.audioQueue) == 0 {
			if r.ragDone {
				r.playerDone = true
				r.cond.L.Unlock()
				r.cond.Broadcast()
				if q.epoch.IsCurrent(snap) && q.hooks.OnPlayEnd != nil {
					q.hooks.OnPlayEnd()
				}
				return
			}
			r.cond.L.Unlock()
			time.Sleep(q.cfg.PlayerPollInterval)
			continue
		}

		item := r.audioQueue[0]
		r.audioQueue = r.audioQueue[1:]
		r.playing = &item

		if q.epoch.IsCurrent(snap) && q.hooks.OnStopIndexChange != nil && stopIndexChanged(r.lastStopIndex, item.StopIndex) {
			prev := r.lastStopIndex
			r.lastStopIndex = item.StopIndex
			r.cond.L.Unlock()
			q.hooks.OnStopIndexChange(prev, item.StopIndex)
		} else {
			r.lastStopIndex = item.StopIndex
			r.cond.L.Unlock()
		}

		err := q.playItem(ctx, r, item)

		r.cond.L.Lock()
		r.playing = nil
		r.cond.L.Unlock()
		r.cond.Broadcast()

		if err != nil {
			if errors.Is(err, audiooutput.ErrAudioAbnormal) && q.epoch.IsCurrent(snap) {
				kind := sanityKindFromErr(err)
				if q.hooks.OnAbnormalAudio != nil {
					q.hooks.OnAbnormalAudio(kind)
				}
				q.logger.Warnw("ttsqueue: tts_audio_abnormal", "kind", string(kind))
				q.Stop("audio_abnormal")
				r.cond.L.Lock()
				r.playerDone = true
				r.cond.L.Unlock()
				r.cond.Broadcast()
				return
			}
			q.logger.Errorw("ttsqueue: player item failed", "err", err.Error())
			r.cond.L.Lock()
			r.playerDone = true
			r.cond.L.Unlock()
			r.cond.Broadcast()
			return
		}
	}
}

func stopIndexChanged(prev, next *int) bool {
	if prev == nil && next == nil {
		return false
	}
	if prev == nil || next == nil {
		return true
	}
	return *prev != *next
}

func sanityKindFromErr(err error) audiooutput.AbnormalKind {
	msg := err.Error()
	for _, k := range []audiooutput.AbnormalKind{audiooutput.AbnormalWhiteNoise, audiooutput.AbnormalSilence, audiooutput.AbnormalClipping} {
		if strings.HasSuffix(msg, string(k)) {
			return k
		}
	}
	return ""
}

// playItem plays one item under its own cancellable context, publishing
// both the Player and the cancel func onto r for the duration so
// stopLocked can reach in and abort mid-play — cancelling the context
// unblocks any in-flight network read immediately (net/http ties body
// reads to the request context the same way AskStream's does), and
// Player.Stop disconnects the sink so already-scheduled audio halts too.
func (q *TtsQueue) playItem(ctx context.Context, r *run, item types.AudioItem) error {
	itemCtx, cancel := context.WithCancel(ctx)
	player := audiooutput.NewPlayer(q.sink, q.logger, q.cfg.PlayerConfig)

	r.cond.L.Lock()
	r.activePlayer = player
	r.activeItemCancel = cancel
	r.cond.L.Unlock()
	defer func() {
		cancel()
		r.cond.L.Lock()
		r.activePlayer = nil
		r.activeItemCancel = nil
		r.cond.L.Unlock()
	}()

	switch item.Kind {
	case types.AudioItemKindBuffered:
		buf := item.WavBytes
		if len(buf) == 0 && item.URL != "" {
			if q.fetcher == nil {
				return fmt.Errorf("ttsqueue: no fetcher configured for buffered URL item")
			}
			fetched, err := q.fetcher.FetchBuffer(itemCtx, item.URL)
			if err != nil {
				return fmt.Errorf("ttsqueue: fetch buffered audio: %w", err)
			}
			buf = fetched
		}
		return player.PlayFinishedBuffer(buf)

	default: // AudioItemKindStream
		if q.fetcher == nil {
			return fmt.Errorf("ttsqueue: no fetcher configured for stream item")
		}
		body, err := q.fetcher.FetchStream(itemCtx, item.URL)
		if err != nil {
			return fmt.Errorf("ttsqueue: fetch tts stream: %w", err)
		}
		defer body.Close()

		buf := make([]byte, 4096)
		for {
			if player.Stopped() {
				return nil
			}
			n, readErr := body.Read(buf)
			if n > 0 {
				if feedErr := player.FeedStream(buf[:n]); feedErr != nil {
					return feedErr
				}
			}
			if readErr != nil {
				if errors.Is(readErr, context.Canceled) {
					return nil
				}
				if readErr == io.EOF {
					break
				}
				return fmt.Errorf("ttsqueue: read tts stream: %w", readErr)
			}
		}
		player.FinishStream()
		return nil
	}
}
