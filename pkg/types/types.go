// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package types holds the data model shared across the orchestration
// engine's components: turns, segments, tour state, the resume/prefetch
// caches, client events and the persisted settings.
package types

import (
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// TurnRequestKind enumerates the kinds of ask-turn a TurnRequest can carry.
type TurnRequestKind string

const (
	KindUserQuestion TurnRequestKind = "user_question"
	KindTourStart     TurnRequestKind = "tour_start"
	KindTourContinue  TurnRequestKind = "tour_continue"
	KindTourNext      TurnRequestKind = "tour_next"
	KindTourPrev      TurnRequestKind = "tour_prev"
	KindTourJump      TurnRequestKind = "tour_jump"
	KindAskPrefetch   TurnRequestKind = "ask_prefetch"
)

// GuideParams carries the optional guide parameters of a TurnRequest.
type GuideParams struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	DurationS    float64 `json:"duration_s,omitempty" mapstructure:"duration_s"`
	TargetChars  int     `json:"target_chars,omitempty" mapstructure:"target_chars"`
	Style        string  `json:"style,omitempty" mapstructure:"style"`
	Continuous   bool    `json:"continuous,omitempty" mapstructure:"continuous"`
	StopName     string  `json:"stop_name,omitempty" mapstructure:"stop_name"`
	StopIndex    int     `json:"stop_index,omitempty" mapstructure:"stop_index"`
	TourAction   string  `json:"tour_action,omitempty" mapstructure:"tour_action"`
	ActionType   string  `json:"action_type,omitempty" mapstructure:"action_type"`
}

// TurnRequest is a single ask-turn. Created by RunCoordinator or
// TourController; consumed by AskDriver; destroyed when the turn's TTS
// goes idle or it is interrupted.
type TurnRequest struct {
	RequestID    string
	ClientID     string
	Kind         TurnRequestKind
	StopIndex    *int
	QuestionText string
	Guide        *GuideParams
	AgentID      *string
	RecordingID  *string
}

// Segment is an indivisible unit pushed to the TTS pipeline. Insertion
// order MUST equal playback order.
type Segment struct {
	Seq                int
	StopIndex          *int
	Text               string
	PrefetchedWavBytes []byte
	RecordedAudioURL   string
}

// HasSynthesisText reports whether this segment requires TTS synthesis
// (as opposed to carrying already-decoded audio or a recorded-audio URL).
func (s Segment) HasSynthesisText() bool {
	return s.Text != "" && len(s.PrefetchedWavBytes) == 0 && s.RecordedAudioURL == ""
}

// AudioItemKind distinguishes TtsQueue's playback paths for an
// AudioItem.
type AudioItemKind string

const (
	// AudioItemKindStream is a synthesized-TTS URL to be played via
	// AudioOutput's streaming mode.
	AudioItemKindStream AudioItemKind = "stream"
	// AudioItemKindBuffered is a finished byte buffer (either already in
	// WavBytes, or fetched whole from URL) played via AudioOutput's
	// finished-buffer mode.
	AudioItemKindBuffered AudioItemKind = "buffered"
)

// AudioItem is the queue element inside TtsQueue once a Segment has been
// turned into (or bypassed to) a playable audio reference.
type AudioItem struct {
	Seq       int
	StopIndex *int
	Text      string
	Kind      AudioItemKind
	URL       string
	WavBytes  []byte
}

// TourMode enumerates TourState.Mode.
type TourMode string

const (
	TourModeIdle        TourMode = "idle"
	TourModeReady       TourMode = "ready"
	TourModeRunning     TourMode = "running"
	TourModeInterrupted TourMode = "interrupted"
)

// TourState is the persisted (best-effort) state of the guided tour.
type TourState struct {
	Mode          TourMode
	StopIndex     int // in [-1, N)
	StopName      string
	LastAnswerTail string // <= 80 chars
	LastAction    string
}

// PrefetchEntry is a cached prefetched answer for a tour stop, written
// only by TourPipeline's single active prefetcher.
type PrefetchEntry struct {
	StopIndex     int
	AnswerText    string
	Tail          string
	Segments      []Segment
	AudioSegments []Segment
	CreatedAt     time.Time
}

// ResumeBuffer captures the segments still pending at the moment of a
// manual pause, keyed by stop index, plus a `_question` slot for paused
// user-question turns.
type ResumeBuffer struct {
	ByStopIndex map[int]ResumeEntry
	Question    *ResumeEntry
}

// ResumeEntry is one captured, still-unplayed set of segments.
type ResumeEntry struct {
	StopIndex     int
	Segments      []Segment
	AudioSegments []Segment
}

// NewResumeBuffer returns an empty, ready-to-use ResumeBuffer.
func NewResumeBuffer() *ResumeBuffer {
	return &ResumeBuffer{ByStopIndex: make(map[int]ResumeEntry)}
}

// ClientEvent is the fire-and-forget observability event shape posted
// to /api/events.
type ClientEvent struct {
	RequestID string                 `json:"request_id,omitempty"`
	ClientID  string                 `json:"client_id"`
	Kind      string                 `json:"kind,omitempty"`
	Name      string                 `json:"name"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	TClientMs int64                  `json:"t_client_ms"`
}

// NewClientEvent stamps TClientMs using the supplied clock (tests pass a
// fixed time; production passes time.Now).
func NewClientEvent(clientID, name string, fields map[string]interface{}, now time.Time) ClientEvent {
	return ClientEvent{
		ClientID:  clientID,
		Name:      name,
		Fields:    fields,
		TClientMs: now.UnixMilli(),
	}
}

// Timestamp wraps a timestamppb.Timestamp for the handful of data-model
// fields that cross process/transport boundaries and benefit from a
// wire-stable representation, matching the teacher's use of
// timestamppb.Now() on its own streamed messages.
type Timestamp = timestamppb.Timestamp

// PersistedSettings is the typed projection of the small key/value
// store.
type PersistedSettings struct {
	GuideEnabled          bool
	ContinuousTour        bool
	GuideDuration         float64
	GuideStyle            string
	TourZone              string
	AudienceProfile       string
	GroupMode             bool
	SpeakerName           string
	TourSelectedStopIndex int
	ClientID              string
	TourState             TourState
}
