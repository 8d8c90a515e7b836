// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiooutput

import (
	"sync"
	"time"
)

// Sink is the output-context abstraction: something with a clock and a
// way to schedule PCM buffers to start playing at an explicit point on
// that clock. A headless Go process has no default audio device, and this
// module ships no device-backed Sink: cmd/tourguide and the tests both
// use FakeSink.
type Sink interface {
	// Now returns the sink's current output-context time.
	Now() time.Duration
	// ScheduleAt schedules pcm to start playing at startAt (on the same
	// clock as Now). Implementations must not block past enqueueing.
	ScheduleAt(startAt time.Duration, pcm []byte)
	// Stop aborts all outstanding scheduled buffers immediately.
	Stop()
}

// ScheduledChunk records one FakeSink.ScheduleAt call for assertions.
type ScheduledChunk struct {
	StartAt time.Duration
	PCM     []byte
}

// FakeSink is an in-memory Sink, used by the tests and by cmd/tourguide:
// Now() is driven explicitly by Advance, and every ScheduleAt call is
// recorded in order.
type FakeSink struct {
	mu       sync.Mutex
	now      time.Duration
	Chunks   []ScheduledChunk
	Stopped  bool
}

func NewFakeSink() *FakeSink { return &FakeSink{} }

func (f *FakeSink) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *FakeSink) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d
}

func (f *FakeSink) ScheduleAt(startAt time.Duration, pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte{}, pcm...)
	f.Chunks = append(f.Chunks, ScheduledChunk{StartAt: startAt, PCM: cp})
}

func (f *FakeSink) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stopped = true
}
