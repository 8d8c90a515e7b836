// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package transport implements the client wrappers for every external
// interface the backend exposes: the ask/cancel/tour/recordings/health
// REST calls via go-resty, the streaming /api/ask and TTS bodies read
// directly off net/http, the ASR one-shot multipart POST, and the
// streaming /ws/asr client (internal/transport/asr.go).
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rapidaai/tourguide/internal/commons"
	"github.com/rapidaai/tourguide/pkg/types"
)

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Question         string             `json:"question"`
	RequestID        string             `json:"request_id"`
	ClientID         string             `json:"client_id"`
	ConversationName *string            `json:"conversation_name,omitempty"`
	AgentID          *string            `json:"agent_id,omitempty"`
	RecordingID      *string            `json:"recording_id,omitempty"`
	Guide            *types.GuideParams `json:"guide,omitempty"`
	Kind             string             `json:"kind,omitempty"`
}

// TourPlanRequest is the body of POST /api/tour/plan.
type TourPlanRequest struct {
	Zone          string   `json:"zone"`
	Profile       string   `json:"profile"`
	DurationS     float64  `json:"duration_s"`
	StopsOverride []string `json:"stops_override,omitempty"`
}

// TourPlanResponse is the response of POST /api/tour/plan.
type TourPlanResponse struct {
	Stops           []string  `json:"stops"`
	StopDurationsS  []float64 `json:"stop_durations_s"`
	StopTargetChars []int     `json:"stop_target_chars"`
}

// RecordingStopResponse is the response of GET /api/recordings/{id}/stop/{i}.
type RecordingStopResponse struct {
	AnswerText string                  `json:"answer_text"`
	Tail       string                  `json:"tail"`
	Chunks     []string                `json:"chunks"`
	Segments   []RecordingStopSegment  `json:"segments"`
}

// RecordingStopSegment is one entry of RecordingStopResponse.Segments.
type RecordingStopSegment struct {
	AudioURL string `json:"audio_url"`
	Text     string `json:"text"`
}

// HealthResponse is the response of GET /api/health.
type HealthResponse struct {
	RagflowConnected bool `json:"ragflow_connected"`
}

// Client wraps go-resty for the non-streaming endpoints and net/http
// for the streaming ones, each used for the kind of call it fits best.
type Client struct {
	rest   *resty.Client
	http   *http.Client
	logger commons.Logger
	base   Endpoints
}

// Endpoints names the base URLs for every external interface — split out
// because production deployments may route ask/tts/asr/tour traffic
// through different hosts.
type Endpoints struct {
	Ask        string
	TTS        string
	ASR        string
	Tour       string
	Recordings string
	Health     string
	Events     string
	Offline    string
}

func New(endpoints Endpoints, requestTimeout time.Duration, logger commons.Logger) *Client {
	rest := resty.New().SetTimeout(requestTimeout)
	return &Client{
		rest:   rest,
		http:   &http.Client{Timeout: 0}, // streaming bodies manage their own deadlines via context
		logger: logger,
		base:   endpoints,
	}
}

// AskStream opens the streaming /api/ask response body. The caller reads
// SSE frames off it with NewSSEReader and must Close it when done.
func (c *Client) AskStream(ctx context.Context, req AskRequest) (io.ReadCloser, error) {
	httpReq, err := newJSONRequest(ctx, http.MethodPost, c.base.Ask+"/api/ask", req)
	if err != nil {
		return nil, fmt.Errorf("transport: build ask request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport: ask stream request: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("transport: ask stream: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Cancel posts {request_id, client_id, reason} to /api/cancel.
func (c *Client) Cancel(ctx context.Context, requestID, clientID, reason string) error {
	_, err := c.rest.R().SetContext(ctx).SetBody(map[string]string{
		"request_id": requestID, "client_id": clientID, "reason": reason,
	}).Post(c.base.Ask + "/api/cancel")
	if err != nil {
		return fmt.Errorf("transport: cancel: %w", err)
	}
	return nil
}

// TextToSpeechStream opens the streaming RIFF/WAVE response body for one
// synthesis request URL (already built by ttsqueue's URLBuilder).
func (c *Client) TextToSpeechStream(ctx context.Context, url string) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build tts stream request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport: tts stream request: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("transport: tts stream: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// TextToSpeechSaved fetches a full WAV buffer from the saved-audio endpoint.
func (c *Client) TextToSpeechSaved(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.rest.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("transport: text_to_speech_saved: %w", err)
	}
	return resp.Body(), nil
}

// SpeechToText POSTs a multipart form with a captured WAV buffer to the
// one-shot ASR endpoint.
func (c *Client) SpeechToText(ctx context.Context, clientID, requestID string, wav []byte) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	resp, err := c.rest.R().SetContext(ctx).
		SetFileReader("audio", "capture.wav", newByteReadSeeker(wav)).
		SetFormData(map[string]string{"client_id": clientID, "request_id": requestID}).
		SetResult(&out).
		Post(c.base.ASR + "/api/speech_to_text")
	if err != nil {
		return "", fmt.Errorf("transport: speech_to_text: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("transport: speech_to_text: status %d", resp.StatusCode())
	}
	return out.Text, nil
}

// TourMeta fetches GET /api/tour/meta into an arbitrary map (the shape is
// deployment-specific metadata outside this module's data model).
func (c *Client) TourMeta(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if _, err := c.rest.R().SetContext(ctx).SetResult(&out).Get(c.base.Tour + "/api/tour/meta"); err != nil {
		return nil, fmt.Errorf("transport: tour meta: %w", err)
	}
	return out, nil
}

// TourStops fetches GET /api/tour/stops.
func (c *Client) TourStops(ctx context.Context) ([]string, error) {
	var out struct {
		Stops []string `json:"stops"`
	}
	if _, err := c.rest.R().SetContext(ctx).SetResult(&out).Get(c.base.Tour + "/api/tour/stops"); err != nil {
		return nil, fmt.Errorf("transport: tour stops: %w", err)
	}
	return out.Stops, nil
}

// TourPlan posts POST /api/tour/plan.
func (c *Client) TourPlan(ctx context.Context, req TourPlanRequest) (*TourPlanResponse, error) {
	var out TourPlanResponse
	resp, err := c.rest.R().SetContext(ctx).SetBody(req).SetResult(&out).Post(c.base.Tour + "/api/tour/plan")
	if err != nil {
		return nil, fmt.Errorf("transport: tour plan: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("transport: tour plan: status %d", resp.StatusCode())
	}
	return &out, nil
}

// RecordingStop fetches GET /api/recordings/{id}/stop/{i}.
func (c *Client) RecordingStop(ctx context.Context, recordingID string, stopIndex int) (*RecordingStopResponse, error) {
	var out RecordingStopResponse
	url := fmt.Sprintf("%s/api/recordings/%s/stop/%d", c.base.Recordings, recordingID, stopIndex)
	resp, err := c.rest.R().SetContext(ctx).SetResult(&out).Get(url)
	if err != nil {
		return nil, fmt.Errorf("transport: recording stop: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("transport: recording stop: status %d", resp.StatusCode())
	}
	return &out, nil
}

// OfflineManifestResponse is the response of GET /api/offline/manifest,
// the manifest OfflineScriptPlayer (C9) loads.
type OfflineManifestResponse struct {
	Title string                   `json:"title"`
	Items []OfflineManifestItemDTO `json:"items"`
}

// OfflineManifestItemDTO is one entry of OfflineManifestResponse.Items.
type OfflineManifestItemDTO struct {
	ID       string `json:"id"`
	StopID   string `json:"stop_id"`
	StopName string `json:"stop_name"`
	AudioURL string `json:"audio_url"`
}

// OfflineManifest fetches GET /api/offline/manifest.
func (c *Client) OfflineManifest(ctx context.Context) (*OfflineManifestResponse, error) {
	var out OfflineManifestResponse
	resp, err := c.rest.R().SetContext(ctx).SetResult(&out).Get(c.base.Offline + "/api/offline/manifest")
	if err != nil {
		return nil, fmt.Errorf("transport: offline manifest: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("transport: offline manifest: status %d", resp.StatusCode())
	}
	return &out, nil
}

// Health fetches GET /api/health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if _, err := c.rest.R().SetContext(ctx).SetResult(&out).Get(c.base.Health + "/api/health"); err != nil {
		return nil, fmt.Errorf("transport: health: %w", err)
	}
	return &out, nil
}

// EmitClientEvent best-effort POSTs a ClientEvent; failures are logged,
// never surfaced — a deliberately fire-and-forget contract.
func (c *Client) EmitClientEvent(ctx context.Context, ev types.ClientEvent) {
	if c.base.Events == "" {
		return
	}
	_, err := c.rest.R().SetContext(ctx).SetBody(ev).Post(c.base.Events + "/api/events")
	if err != nil {
		c.logger.Debugw("transport: client event send failed", "name", ev.Name, "err", err.Error())
	}
}

func newJSONRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, error) {
	buf, err := marshalJSON(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
