// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/pkg/types"
)

func TestClient_CancelPostsRequestBody(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Endpoints{Ask: srv.URL}, 2*time.Second, commons.NewNopLogger())
	err := c.Cancel(context.Background(), "req-1", "client-1", "user_stop")
	require.NoError(t, err)
	assert.Equal(t, "req-1", got["request_id"])
	assert.Equal(t, "user_stop", got["reason"])
}

func TestClient_HealthParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HealthResponse{RagflowConnected: true})
	}))
	defer srv.Close()

	c := New(Endpoints{Health: srv.URL}, 2*time.Second, commons.NewNopLogger())
	resp, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.RagflowConnected)
}

func TestClient_TourPlanPostsAndParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req TourPlanRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "hall-a", req.Zone)
		json.NewEncoder(w).Encode(TourPlanResponse{Stops: []string{"A", "B"}, StopDurationsS: []float64{30, 45}})
	}))
	defer srv.Close()

	c := New(Endpoints{Tour: srv.URL}, 2*time.Second, commons.NewNopLogger())
	resp, err := c.TourPlan(context.Background(), TourPlanRequest{Zone: "hall-a", Profile: "adult", DurationS: 60})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, resp.Stops)
}

func TestClient_AskStreamReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "req-1", req.RequestID)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"chunk\":\"hi\"}\n\n"))
	}))
	defer srv.Close()

	c := New(Endpoints{Ask: srv.URL}, 2*time.Second, commons.NewNopLogger())
	body, err := c.AskStream(context.Background(), AskRequest{RequestID: "req-1", ClientID: "c1", Question: "hi?"})
	require.NoError(t, err)
	defer body.Close()

	r := NewSSEReader(body)
	frame, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi", frame.Chunk)
}

func TestClient_EmitClientEventNeverErrorsOnFailedSend(t *testing.T) {
	c := New(Endpoints{Events: "http://127.0.0.1:1"}, 50*time.Millisecond, commons.NewNopLogger())
	// No server listening on that port; EmitClientEvent must swallow the error.
	c.EmitClientEvent(context.Background(), types.NewClientEvent("client-1", "play_end", nil, time.Unix(0, 0)))
}

func TestClient_EmitClientEventNoopWithoutEndpoint(t *testing.T) {
	c := New(Endpoints{}, 2*time.Second, commons.NewNopLogger())
	c.EmitClientEvent(context.Background(), types.NewClientEvent("client-1", "play_end", nil, time.Unix(0, 0)))
}
