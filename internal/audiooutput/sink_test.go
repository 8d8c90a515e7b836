// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiooutput

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeSink_AdvanceMovesClock(t *testing.T) {
	s := NewFakeSink()
	assert.Equal(t, time.Duration(0), s.Now())
	s.Advance(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, s.Now())
}

func TestFakeSink_RecordsScheduledChunksInOrder(t *testing.T) {
	s := NewFakeSink()
	s.ScheduleAt(10*time.Millisecond, []byte{1, 2})
	s.ScheduleAt(20*time.Millisecond, []byte{3, 4})

	assert.Len(t, s.Chunks, 2)
	assert.Equal(t, 10*time.Millisecond, s.Chunks[0].StartAt)
	assert.Equal(t, []byte{3, 4}, s.Chunks[1].PCM)
}

func TestFakeSink_StopMarksStopped(t *testing.T) {
	s := NewFakeSink()
	assert.False(t, s.Stopped)
	s.Stop()
	assert.True(t, s.Stopped)
}
