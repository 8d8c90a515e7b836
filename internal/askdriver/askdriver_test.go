// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package askdriver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/tourguide/internal/audiooutput"
	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/epoch"
	"github.com/rapidaai/tourguide/internal/transport"
	"github.com/rapidaai/tourguide/internal/ttsqueue"
	"github.com/rapidaai/tourguide/pkg/types"
)

type fakeURLBuilder struct{}

func (fakeURLBuilder) BuildTTSStreamURL(requestID string, segmentIndex int, seg types.Segment) string {
	return fmt.Sprintf("http://fake/%s/%d", requestID, segmentIndex)
}

type fakeFetcher struct{}

func (fakeFetcher) FetchStream(ctx context.Context, url string) (ttsqueue.ReadCloser, error) {
	pcm := make([]byte, 50)
	wav := append(audiooutput.BuildWAVHeader(16000, 1, len(pcm)), pcm...)
	return io.NopCloser(&sliceReader{data: wav}), nil
}

func (fakeFetcher) FetchBuffer(ctx context.Context, url string) ([]byte, error) {
	return nil, nil
}

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

func newTestDriver(t *testing.T, askHandler http.HandlerFunc) (*Driver, *audiooutput.FakeSink, *int32) {
	srv := httptest.NewServer(askHandler)
	t.Cleanup(srv.Close)

	sink := audiooutput.NewFakeSink()
	ep := epoch.New(commons.NewNopLogger())
	client := transport.New(transport.Endpoints{Ask: srv.URL}, 2*time.Second, commons.NewNopLogger())

	var playEndCount int32
	var mu sync.Mutex
	q := ttsqueue.New(ttsqueue.Config{
		MaxPreGenerate: 2,
		PlayerConfig: audiooutput.PlayerConfig{
			PreferredSampleRate: 16000, MaxHeaderBytes: 65536, PrebufferMs: 250, ChunkMs: 120,
			Thresholds: audiooutput.DefaultSanityThresholds(),
		},
	}, commons.NewNopLogger(), ep, sink, fakeURLBuilder{}, fakeFetcher{}, ttsqueue.Hooks{
		OnPlayEnd: func() { mu.Lock(); playEndCount++; mu.Unlock() },
	})

	d := New(commons.NewNopLogger(), ep, client, q, "client-1", Hooks{})
	return d, sink, &playEndCount
}

func TestDriver_PlainAsk_S1(t *testing.T) {
	d, sink, playEndCount := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		frames := []string{
			`data: {"chunk":"X is "}`,
			`data: {"chunk":"a thing."}`,
			`data: {"segment":"X is a thing."}`,
			`data: {"done":true}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "%s\n\n", f)
			if flusher != nil {
				flusher.Flush()
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req := types.TurnRequest{RequestID: "req-1", ClientID: "client-1", Kind: types.KindUserQuestion, QuestionText: "What is X?"}

	var gotAnswer string
	d.hooks.OnChunk = func(full string) { gotAnswer = full }

	require.NoError(t, d.Run(ctx, req))
	assert.Equal(t, "X is a thing.", gotAnswer)
	assert.Equal(t, int32(1), *playEndCount)
	assert.NotEmpty(t, sink.Chunks)
	assert.False(t, d.IsLoading())
}

func TestDriver_NoSegmentFallsBackToFullAnswer(t *testing.T) {
	d, sink, playEndCount := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"chunk\":\"only chunks, no segment.\"}\n\n")
		fmt.Fprint(w, "data: {\"done\":true}\n\n")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req := types.TurnRequest{RequestID: "req-2", ClientID: "client-1", Kind: types.KindUserQuestion, QuestionText: "q"}
	require.NoError(t, d.Run(ctx, req))
	assert.Equal(t, int32(1), *playEndCount)
	assert.NotEmpty(t, sink.Chunks)
}

func TestDriver_IntentMetaFiresHook(t *testing.T) {
	d, _, _ := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"meta\":{\"intent\":\"ask_question\",\"intent_confidence\":0.9}}\n\n")
		fmt.Fprint(w, "data: {\"done\":true}\n\n")
	})

	var gotIntent string
	var gotConf float64
	d.hooks.OnIntent = func(intent string, conf float64) { gotIntent = intent; gotConf = conf }

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req := types.TurnRequest{RequestID: "req-3", ClientID: "client-1", Kind: types.KindUserQuestion}
	require.NoError(t, d.Run(ctx, req))
	assert.Equal(t, "ask_question", gotIntent)
	assert.InDelta(t, 0.9, gotConf, 0.0001)
}
