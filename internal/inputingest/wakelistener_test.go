// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package inputingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/tourguide/internal/commons"
)

func TestWakeListener_NoWakeWordConfigured_StartIsNoop(t *testing.T) {
	w := NewWakeListener(Config{}, "", commons.NewNopLogger(), NewFakeMicSource(), Hooks{})
	require.NoError(t, w.Start(context.Background()))
}

func TestWakeListener_GatesPartialsUntilWakeThenAcceptsWithinHoldWindow(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		var start map[string]interface{}
		require.NoError(t, conn.ReadJSON(&start))

		require.NoError(t, conn.WriteJSON(map[string]string{"type": "partial", "text": "before wake"}))
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "wake"}))
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "partial", "text": "after wake"}))
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	var mu sync.Mutex
	var accepted []string
	var wakeCount int32

	mic := NewFakeMicSource()
	w := NewWakeListener(Config{WakeWord: "hey guide", WakeHoldWindow: 5 * time.Second}, wsURL(srv.URL), commons.NewNopLogger(), mic, Hooks{
		OnWake: func() { atomic.AddInt32(&wakeCount, 1) },
		OnPartial: func(text string) {
			mu.Lock()
			accepted = append(accepted, text)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, a := range accepted {
			if a == "after wake" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, a := range accepted {
		require.NotEqual(t, "before wake", a)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&wakeCount))
}

func TestWakeListener_PauseSuspendsUntilResumeAfterDelay(t *testing.T) {
	w := NewWakeListener(Config{WakeWord: "hey guide", WakeResumeDelay: 30 * time.Millisecond}, "ws://unused", commons.NewNopLogger(), NewFakeMicSource(), Hooks{})
	w.Pause()
	require.True(t, w.isPaused())

	w.ResumeAfterDelay()
	require.True(t, w.isPaused())

	require.Eventually(t, func() bool { return !w.isPaused() }, 200*time.Millisecond, 5*time.Millisecond)
}
