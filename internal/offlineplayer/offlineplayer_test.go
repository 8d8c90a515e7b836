// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package offlineplayer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/tourguide/internal/audiooutput"
	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/internal/transport"
)

type fakeFetcher struct{}

func (fakeFetcher) FetchBuffer(ctx context.Context, url string) ([]byte, error) {
	pcm := make([]byte, 40)
	return append(audiooutput.BuildWAVHeader(16000, 1, len(pcm)), pcm...), nil
}

type erroringFetcher struct{}

var errFetchFailed = errors.New("fetch failed")

func (erroringFetcher) FetchBuffer(ctx context.Context, url string) ([]byte, error) {
	if url == "bad" {
		return nil, errFetchFailed
	}
	return fakeFetcher{}.FetchBuffer(ctx, url)
}

func newTestServer(t *testing.T) (*httptest.Server, *eventRecorder) {
	rec := &eventRecorder{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/offline/manifest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"North Wing","items":[
			{"id":"i1","stop_id":"s1","stop_name":"Entrance","audio_url":"a1"},
			{"id":"i2","stop_id":"s2","stop_name":"Hall","audio_url":"a2"}
		]}`))
	})
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		var ev map[string]interface{}
		json.NewDecoder(r.Body).Decode(&ev)
		rec.add(ev["name"].(string))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rec
}

type eventRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *eventRecorder) add(name string) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.names...)
}

func (r *eventRecorder) contains(name string) bool {
	for _, n := range r.snapshot() {
		if n == name {
			return true
		}
	}
	return false
}

func TestPlayer_PlaysAllItemsInOrderAndEmitsLifecycleEvents(t *testing.T) {
	srv, rec := newTestServer(t)
	logger := commons.NewNopLogger()
	client := transport.New(transport.Endpoints{Offline: srv.URL, Events: srv.URL}, 2*time.Second, logger)
	sink := audiooutput.NewFakeSink()

	p := New(logger, client, fakeFetcher{}, sink, audiooutput.PlayerConfig{
		PreferredSampleRate: 16000, MaxHeaderBytes: 65536, PrebufferMs: 50, ChunkMs: 40,
		Thresholds: audiooutput.DefaultSanityThresholds(),
	}, "client-1", nil)

	require.NoError(t, p.Start(context.Background()))

	require.Eventually(t, func() bool { return rec.contains("offline_play_end") }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, rec.contains("offline_play_start"))
	assert.True(t, rec.contains("offline_item_start"))
	assert.True(t, rec.contains("offline_item_end"))
	assert.False(t, p.IsPlaying())
}

func TestPlayer_Stop_BumpsTokenAndEmitsCancelled(t *testing.T) {
	srv, rec := newTestServer(t)
	logger := commons.NewNopLogger()
	client := transport.New(transport.Endpoints{Offline: srv.URL, Events: srv.URL}, 2*time.Second, logger)
	sink := audiooutput.NewFakeSink()

	p := New(logger, client, fakeFetcher{}, sink, audiooutput.PlayerConfig{
		PreferredSampleRate: 16000, MaxHeaderBytes: 65536, PrebufferMs: 50, ChunkMs: 40,
		Thresholds: audiooutput.DefaultSanityThresholds(),
	}, "client-1", nil)

	require.NoError(t, p.Start(context.Background()))
	p.Stop()

	assert.False(t, p.IsPlaying())
	require.Eventually(t, func() bool { return rec.contains("offline_play_cancelled") }, time.Second, 10*time.Millisecond)
}

func TestPlayer_ItemFetchFailure_EmitsFailedAndContinues(t *testing.T) {
	rec := &eventRecorder{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/offline/manifest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"North Wing","items":[
			{"id":"i1","stop_id":"s1","stop_name":"Entrance","audio_url":"bad"},
			{"id":"i2","stop_id":"s2","stop_name":"Hall","audio_url":"a2"}
		]}`))
	})
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		var ev map[string]interface{}
		json.NewDecoder(r.Body).Decode(&ev)
		rec.add(ev["name"].(string))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	logger := commons.NewNopLogger()
	client := transport.New(transport.Endpoints{Offline: srv.URL, Events: srv.URL}, 2*time.Second, logger)
	sink := audiooutput.NewFakeSink()

	p := New(logger, client, erroringFetcher{}, sink, audiooutput.PlayerConfig{
		PreferredSampleRate: 16000, MaxHeaderBytes: 65536, PrebufferMs: 50, ChunkMs: 40,
		Thresholds: audiooutput.DefaultSanityThresholds(),
	}, "client-1", nil)

	require.NoError(t, p.Start(context.Background()))

	require.Eventually(t, func() bool { return rec.contains("offline_play_end") }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, rec.contains("offline_item_failed"))
}
