// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tourcontroller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/tourguide/internal/askdriver"
	"github.com/rapidaai/tourguide/internal/audiooutput"
	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/epoch"
	"github.com/rapidaai/tourguide/internal/prompt"
	"github.com/rapidaai/tourguide/internal/tourpipeline"
	"github.com/rapidaai/tourguide/internal/transport"
	"github.com/rapidaai/tourguide/internal/ttsqueue"
	"github.com/rapidaai/tourguide/pkg/types"
)

type fakeInterrupter struct {
	ep     *epoch.InterruptEpoch
	count  int
	reason string
}

func (f *fakeInterrupter) Interrupt(reason string) epoch.Epoch {
	f.count++
	f.reason = reason
	return f.ep.Bump(reason)
}

func newTestController(t *testing.T, segment string) (*Controller, *fakeInterrupter) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"segment\":%q}\n\n", segment)
		fmt.Fprint(w, "data: {\"done\":true}\n\n")
	}))
	t.Cleanup(srv.Close)

	logger := commons.NewNopLogger()
	ep := epoch.New(logger)
	client := transport.New(transport.Endpoints{Ask: srv.URL}, 2*time.Second, logger)
	sink := audiooutput.NewFakeSink()
	queue := ttsqueue.New(ttsqueue.Config{
		MaxPreGenerate: 2,
		PlayerConfig: audiooutput.PlayerConfig{
			PreferredSampleRate: 16000, MaxHeaderBytes: 65536, PrebufferMs: 50, ChunkMs: 40,
			Thresholds: audiooutput.DefaultSanityThresholds(),
		},
	}, logger, ep, sink, urlBuilder{}, fetcher{}, ttsqueue.Hooks{})
	driver := askdriver.New(logger, ep, client, queue, "client-1", askdriver.Hooks{})
	builder, err := prompt.NewBuilder(logger)
	require.NoError(t, err)

	p := tourpipeline.New(tourpipeline.Config{MaxPrefetchAhead: 1}, logger, ep, client, driver, builder, queue, "client-1")
	p.SetStops([]tourpipeline.Stop{{Name: "A", DurationS: 20}, {Name: "B", DurationS: 20}, {Name: "C", DurationS: 20}})

	interrupter := &fakeInterrupter{ep: ep}
	c := New(logger, ep, queue, p, interrupter, 16000)
	return c, interrupter
}

type urlBuilder struct{}

func (urlBuilder) BuildTTSStreamURL(requestID string, segmentIndex int, seg types.Segment) string {
	return ""
}

type fetcher struct{}

func (fetcher) FetchStream(ctx context.Context, url string) (ttsqueue.ReadCloser, error) {
	pcm := make([]byte, 20)
	wav := append(audiooutput.BuildWAVHeader(16000, 1, len(pcm)), pcm...)
	return io.NopCloser(&sliceReader{data: wav}), nil
}

func (fetcher) FetchBuffer(ctx context.Context, url string) ([]byte, error) { return nil, nil }

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func TestController_Start_InterruptsAndMovesToRunning(t *testing.T) {
	c, interrupter := newTestController(t, "Hello A.")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx, 0, false))
	assert.Equal(t, 1, interrupter.count)
	assert.Equal(t, "tour_start", interrupter.reason)
	assert.Equal(t, 0, c.State().StopIndex)
	assert.Equal(t, "A", c.State().StopName)
}

func TestController_Next_AdvancesStopIndex(t *testing.T) {
	c, _ := newTestController(t, "Hello.")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx, 0, false))
	require.NoError(t, c.Next(ctx))
	assert.Equal(t, 1, c.State().StopIndex)
}

func TestController_Prev_ErrorsAtFirstStop(t *testing.T) {
	c, _ := newTestController(t, "Hello.")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx, 0, false))
	err := c.Prev(ctx)
	assert.Error(t, err)
}

func TestController_JumpTo_OutOfRangeErrors(t *testing.T) {
	c, _ := newTestController(t, "Hello.")
	ctx := context.Background()
	err := c.JumpTo(ctx, 99)
	assert.Error(t, err)
}

func TestController_Reset_ReturnsToIdle(t *testing.T) {
	c, _ := newTestController(t, "Hello.")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx, 0, false))
	c.Reset()
	assert.Equal(t, -1, c.State().StopIndex)
}

func TestController_ContinueWithNoResume_IssuesFreshPrompt(t *testing.T) {
	c, _ := newTestController(t, "Hello again.")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx, 0, false))
	require.NoError(t, c.Continue(ctx))
}

func TestController_Pause_MovesToInterruptedThenContinueRuns(t *testing.T) {
	c, _ := newTestController(t, "Hello A.")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx, 0, false))
	c.Pause("user_pause", false)
	assert.Equal(t, "interrupted", string(c.State().Mode))

	require.NoError(t, c.Continue(ctx))
	assert.Equal(t, "running", string(c.State().Mode))
}

func TestController_ReconcileAudioContext_DetectsRateMismatch(t *testing.T) {
	c, _ := newTestController(t, "Hello.")
	assert.True(t, c.ReconcileAudioContext(48000))
	assert.False(t, c.ReconcileAudioContext(16000))
}
