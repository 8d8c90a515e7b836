// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package epoch implements InterruptEpoch (C5): the single source of
// truth for "is this callback still relevant." Every async callback
// dispatched by a user action must capture Snapshot() at dispatch time
// and check IsCurrent(epoch) before any externally-visible effect.
package epoch

import (
	"sync/atomic"

	"github.com/rapidaai/tourguide/internal/commons"
)

// Epoch is an opaque snapshot of InterruptEpoch's counter at a point in
// time. Callbacks carry it around, they never interpret its value.
type Epoch uint64

// InterruptEpoch is the process-wide monotonic counter. It is mutated
// only through Bump — never decremented, never reset except by
// construction.
type InterruptEpoch struct {
	counter atomic.Uint64
	logger  commons.Logger
}

// New constructs an InterruptEpoch starting at epoch 0.
func New(logger commons.Logger) *InterruptEpoch {
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &InterruptEpoch{logger: logger}
}

// Snapshot returns the current epoch. Call this at the moment a
// user-triggered async chain is dispatched.
func (e *InterruptEpoch) Snapshot() Epoch {
	return Epoch(e.counter.Load())
}

// IsCurrent reports whether the given snapshot is still the live epoch.
// A false result means bump() has happened since the snapshot was taken
// and every subsequent externally-visible effect the caller was about to
// perform MUST be skipped.
func (e *InterruptEpoch) IsCurrent(snapshot Epoch) bool {
	return Epoch(e.counter.Load()) == snapshot
}

// Bump atomically invalidates every in-flight callback captured before
// this call and returns the new epoch. Called exactly once per interrupt.
func (e *InterruptEpoch) Bump(reason string) Epoch {
	next := Epoch(e.counter.Add(1))
	e.logger.Infow("epoch bumped", "reason", reason, "epoch", uint64(next))
	return next
}

// Guard is a small helper that closes over a captured snapshot so call
// sites can write `if !guard.Stale() { ... }` instead of repeating
// epoch.IsCurrent(snapshot) at every effect point.
type Guard struct {
	epoch    *InterruptEpoch
	snapshot Epoch
}

// Capture snapshots the current epoch into a reusable Guard.
func (e *InterruptEpoch) Capture() Guard {
	return Guard{epoch: e, snapshot: e.Snapshot()}
}

// Stale reports true once Bump has invalidated this guard's snapshot.
func (g Guard) Stale() bool {
	return !g.epoch.IsCurrent(g.snapshot)
}

// Snapshot returns the epoch this guard captured.
func (g Guard) Snapshot() Epoch {
	return g.snapshot
}
