// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/rapidaai/tourguide/pkg/types"
)

// TTSOptions carries the voice/speed/provider query parameters for
// GET /api/text_to_speech_stream.
type TTSOptions struct {
	Provider string
	Voice    string
	Speed    float64
}

// TTSURLBuilder builds synthesis request URLs and fetches their audio. It
// satisfies ttsqueue.URLBuilder, ttsqueue.AudioFetcher, and
// offlineplayer.AudioFetcher structurally — those packages define their
// own narrow interfaces rather than importing transport, so this is the
// one concrete type production wiring passes to all three.
type TTSURLBuilder struct {
	client   *Client
	clientID string
	opts     TTSOptions
}

func NewTTSURLBuilder(client *Client, clientID string, opts TTSOptions) *TTSURLBuilder {
	return &TTSURLBuilder{client: client, clientID: clientID, opts: opts}
}

// BuildTTSStreamURL builds GET /api/text_to_speech_stream with
// text=…&request_id=…&client_id=…&segment_index=…
// [&tts_provider&tts_voice&tts_speed&stop_index].
func (b *TTSURLBuilder) BuildTTSStreamURL(requestID string, segmentIndex int, seg types.Segment) string {
	q := url.Values{}
	q.Set("text", seg.Text)
	q.Set("request_id", requestID)
	q.Set("client_id", b.clientID)
	q.Set("segment_index", fmt.Sprintf("%d", segmentIndex))
	if b.opts.Provider != "" {
		q.Set("tts_provider", b.opts.Provider)
	}
	if b.opts.Voice != "" {
		q.Set("tts_voice", b.opts.Voice)
	}
	if b.opts.Speed > 0 {
		q.Set("tts_speed", fmt.Sprintf("%g", b.opts.Speed))
	}
	if seg.StopIndex != nil {
		q.Set("stop_index", fmt.Sprintf("%d", *seg.StopIndex))
	}
	return b.client.base.TTS + "/api/text_to_speech_stream?" + q.Encode()
}

// FetchStream opens the streaming TTS body for a URL built above.
func (b *TTSURLBuilder) FetchStream(ctx context.Context, url string) (io.ReadCloser, error) {
	return b.client.TextToSpeechStream(ctx, url)
}

// FetchBuffer retrieves a finished buffer for a recorded-audio or
// offline-manifest URL — both are plain GETs, so this reuses the same
// saved-audio path as /api/text_to_speech_saved.
func (b *TTSURLBuilder) FetchBuffer(ctx context.Context, url string) ([]byte, error) {
	return b.client.TextToSpeechSaved(ctx, url)
}
