// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiooutput

import (
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/tourguide/internal/commons"
)

// FallbackStage identifies which rung of the escalation chain a Player is
// currently on: WebAudio stream -> decode-then-play fallback -> plain
// <audio>-element fallback, in that order. A Go client has no DOM, so
// StageElementFallback is realized as "hand the fully-buffered,
// already-patched WAV to the Sink in one shot" — still a strictly
// simpler code path than streamed scheduling, which is the property the
// escalation exists to preserve.
type FallbackStage int

const (
	StageStream FallbackStage = iota
	StageDecodeThenPlay
	StageElementFallback
)

func (s FallbackStage) String() string {
	switch s {
	case StageStream:
		return "stream"
	case StageDecodeThenPlay:
		return "decode_then_play"
	case StageElementFallback:
		return "element_fallback"
	default:
		return "unknown"
	}
}

// JitterScheduler implements the streaming jitter buffer: prebuffer
// ~250ms, then schedule ~120ms chunks back to back, each chunk's start
// time clamped against the sink's current clock, resetting forward with
// a margin on underrun.
type JitterScheduler struct {
	mu     sync.Mutex
	sink   Sink
	logger commons.Logger

	bytesPerMs    float64
	prebufferMs   int
	chunkMs       int
	nextStartTime time.Duration
	prebuffered   bool
	pending       []byte
}

// NewJitterScheduler builds a scheduler for mono PCM16LE audio at
// sampleRate, prebuffering prebufferMs before the first chunk and then
// scheduling chunkMs chunks.
func NewJitterScheduler(sink Sink, logger commons.Logger, sampleRate, prebufferMs, chunkMs int) *JitterScheduler {
	return &JitterScheduler{
		sink:        sink,
		logger:      logger,
		bytesPerMs:  float64(sampleRate) * 2 / 1000,
		prebufferMs: prebufferMs,
		chunkMs:     chunkMs,
	}
}

func (j *JitterScheduler) chunkBytes() int {
	n := int(j.bytesPerMs * float64(j.chunkMs))
	if n%2 == 1 {
		n++ // stay sample-aligned
	}
	return n
}

func (j *JitterScheduler) prebufferBytes() int {
	return int(j.bytesPerMs * float64(j.prebufferMs))
}

// Push appends newly-decoded PCM to the buffer and schedules as many
// whole chunks as are now available. Prebuffering gates the very first
// chunk only.
func (j *JitterScheduler) Push(pcm []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.pending = append(j.pending, pcm...)
	if !j.prebuffered {
		if len(j.pending) < j.prebufferBytes() {
			return
		}
		j.prebuffered = true
		j.nextStartTime = j.sink.Now()
	}
	j.scheduleLocked()
}

// Flush schedules whatever remains in the pending buffer even if it's
// short of a full chunk — called once the source signals end of stream.
func (j *JitterScheduler) Flush() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.pending) == 0 {
		return
	}
	if !j.prebuffered {
		j.prebuffered = true
		j.nextStartTime = j.sink.Now()
	}
	startAt := j.nextChunkStart()
	j.sink.ScheduleAt(startAt, j.pending)
	j.nextStartTime = startAt + time.Duration(j.chunkMs)*time.Millisecond
	j.pending = nil
}

func (j *JitterScheduler) scheduleLocked() {
	size := j.chunkBytes()
	for len(j.pending) >= size {
		chunk := j.pending[:size]
		j.pending = j.pending[size:]

		startAt := j.nextChunkStart()
		j.sink.ScheduleAt(startAt, chunk)
		j.nextStartTime = startAt + time.Duration(j.chunkMs)*time.Millisecond
	}
}

// nextChunkStart applies the underrun-recovery and forward-clamp rules,
// in that order: a schedule that has fallen more than 20ms behind the
// sink's clock is treated as an underrun and given a 60ms recovery
// margin before the ordinary "at least 10ms from now" clamp is applied.
func (j *JitterScheduler) nextChunkStart() time.Duration {
	now := j.sink.Now()
	if j.nextStartTime < now-20*time.Millisecond {
		j.logger.Warnw("audiooutput: schedule underrun", "next_start_ms", j.nextStartTime.Milliseconds(), "now_ms", now.Milliseconds())
		j.nextStartTime = now + 60*time.Millisecond
	}
	startAt := j.nextStartTime
	if floor := now + 10*time.Millisecond; startAt < floor {
		startAt = floor
	}
	return startAt
}

// Player orchestrates one TTS audio item's playback: incremental WAV
// parsing, jitter-buffered streaming scheduling, sanity probing of the
// first window, and the three-stage fallback escalation.
type Player struct {
	logger    commons.Logger
	sink      Sink
	parser    *StreamParser
	scheduler *JitterScheduler
	resampler *Resampler
	probe     *SanityProbe
	stage     FallbackStage

	preferredSampleRate int
	thresholds          SanityThresholds
	maxHeaderBytes       int
	prebufferMs          int
	chunkMs              int

	mu       sync.Mutex
	stopped  bool
	abnormal AbnormalKind
}

// PlayerConfig groups the tunables a Player needs; fields mirror the
// AudioOutput (C1) fields of config.AppConfig so callers can pass their
// values directly without an import cycle.
type PlayerConfig struct {
	PreferredSampleRate int
	MaxHeaderBytes      int
	PrebufferMs         int
	ChunkMs             int
	Thresholds          SanityThresholds
}

func NewPlayer(sink Sink, logger commons.Logger, cfg PlayerConfig) *Player {
	return &Player{
		logger:              logger,
		sink:                sink,
		parser:              NewStreamParser(cfg.MaxHeaderBytes),
		preferredSampleRate: cfg.PreferredSampleRate,
		thresholds:          cfg.Thresholds,
		maxHeaderBytes:      cfg.MaxHeaderBytes,
		prebufferMs:         cfg.PrebufferMs,
		chunkMs:             cfg.ChunkMs,
		stage:               StageStream,
	}
}

// FeedStream hands the player another chunk of a growing HTTP/WS
// response body. It parses the header once enough bytes have arrived,
// probes the first ~250ms of PCM for abnormal content, resamples to the
// sink's preferred rate if needed, and schedules playback. A non-nil
// error means the stream must stop and the caller should fall back to
// the next stage (see Stage/Escalate).
func (p *Player) FeedStream(chunk []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}

	pcm, format, err := p.parser.Feed(chunk)
	if err != nil {
		return fmt.Errorf("audiooutput: stream parse failed: %w", err)
	}
	if format != nil {
		p.onFormat(format)
	}
	if len(pcm) == 0 {
		return nil
	}
	return p.consume(pcm)
}

func (p *Player) onFormat(format *Format) {
	p.probe = NewSanityProbe(int(format.SampleRate), 250, p.thresholds)
	if int(format.SampleRate) != p.preferredSampleRate {
		p.resampler = NewResampler(int(format.SampleRate), p.preferredSampleRate)
	} else {
		p.resampler = nil
	}
	p.scheduler = NewJitterScheduler(p.sink, p.logger, p.preferredSampleRate, p.prebufferMs, p.chunkMs)
}

func (p *Player) consume(pcm []byte) error {
	if p.probe != nil && p.abnormal == "" {
		if kind, evaluated := p.probe.Feed(pcm); evaluated && kind != "" {
			p.abnormal = kind
			p.logger.Warnw("audiooutput: abnormal tts audio detected", "kind", string(kind))
			return fmt.Errorf("%w: %s", ErrAudioAbnormal, kind)
		}
	}
	if p.resampler != nil {
		pcm = p.resampler.Feed(pcm)
	}
	if p.scheduler != nil {
		p.scheduler.Push(pcm)
	}
	return nil
}

// FinishStream flushes any partial final chunk once the source signals
// end of stream with no error.
func (p *Player) FinishStream() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler != nil {
		p.scheduler.Flush()
	}
}

// PlayFinishedBuffer handles the finished-buffer mode: the whole WAV is
// already in memory (e.g. a prefetched or cached audio item), so it's
// patched, parsed in one pass, and handed to the sink as a single
// scheduled item rather than chunk-by-chunk.
func (p *Player) PlayFinishedBuffer(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}

	if err := PatchFinishedBuffer(buf); err != nil {
		return fmt.Errorf("audiooutput: patch failed: %w", err)
	}

	parser := NewStreamParser(p.maxHeaderBytes)
	pcm, format, err := parser.Feed(buf)
	if err != nil {
		return fmt.Errorf("audiooutput: finished-buffer parse failed: %w", err)
	}
	if format == nil {
		return fmt.Errorf("audiooutput: finished buffer never reached data chunk")
	}
	p.onFormat(format)
	if p.probe != nil {
		if kind, evaluated := p.probe.Feed(pcm); evaluated && kind != "" {
			p.abnormal = kind
			p.logger.Warnw("audiooutput: abnormal tts audio detected", "kind", string(kind))
			return fmt.Errorf("%w: %s", ErrAudioAbnormal, kind)
		}
	}
	if p.resampler != nil {
		pcm = p.resampler.Feed(pcm)
	}
	if len(pcm) > 0 {
		p.sink.ScheduleAt(p.sink.Now(), pcm)
	}
	return nil
}

// Escalate moves the player to the next fallback stage after a
// streaming failure. It returns false once the chain is exhausted.
func (p *Player) Escalate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage >= StageElementFallback {
		return false
	}
	p.stage++
	p.logger.Warnw("audiooutput: escalating playback fallback", "stage", p.stage.String())
	return true
}

func (p *Player) Stage() FallbackStage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// Stop aborts playback immediately: disconnects the sink and marks the
// player stopped so any in-flight FeedStream calls become no-ops. This
// is the single cancellation point for mid-playback interruption.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.sink.Stop()
}

func (p *Player) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
