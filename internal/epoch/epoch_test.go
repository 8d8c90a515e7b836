// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package epoch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/rapidaai/tourguide/internal/commons"
)

func TestSnapshotAndIsCurrent(t *testing.T) {
	e := New(commons.NewNopLogger())
	snap := e.Snapshot()
	assert.True(t, e.IsCurrent(snap))

	e.Bump("user_stop")
	assert.False(t, e.IsCurrent(snap))
	assert.True(t, e.IsCurrent(e.Snapshot()))
}

func TestGuard_StaleAfterBump(t *testing.T) {
	e := New(commons.NewNopLogger())
	guard := e.Capture()
	assert.False(t, guard.Stale())

	e.Bump("interrupt")
	assert.True(t, guard.Stale())
}

func TestBump_EveryCallbackCapturedBeforeProducesNoEffects(t *testing.T) {
	// For every epoch snapshot e and every async callback captured at e:
	// once bump() has run after that callback was dispatched, the
	// callback must produce zero externally-visible effects.
	e := New(commons.NewNopLogger())

	var effects int
	var mu sync.Mutex
	dispatch := func() {
		g := e.Capture()
		// simulate suspension before the effect point
		if g.Stale() {
			return
		}
		mu.Lock()
		effects++
		mu.Unlock()
	}

	dispatch()
	e.Bump("user_stop")
	dispatch2 := e.Capture()
	e.Bump("second_interrupt")
	assert.True(t, dispatch2.Stale())

	assert.Equal(t, 1, effects)
}

func TestBump_IsMonotonicAndNeverReused(t *testing.T) {
	e := New(commons.NewNopLogger())
	seen := map[Epoch]bool{e.Snapshot(): true}
	for i := 0; i < 100; i++ {
		next := e.Bump("loop")
		assert.False(t, seen[next], "epoch %d reused", next)
		seen[next] = true
	}
}
