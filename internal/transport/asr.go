// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/tourguide/internal/commons"
)

// ASRStartFrame is the client's opening frame on /ws/asr.
type ASRStartFrame struct {
	Type       string      `json:"type"`
	SampleRate int         `json:"sample_rate"`
	Encoding   string      `json:"encoding"`
	Wake       *WakeConfig `json:"wake,omitempty"`
}

// WakeConfig configures wake-word gating for the session.
type WakeConfig struct {
	Word string `json:"word"`
}

// ASRServerFrame is one decoded server->client frame on /ws/asr.
type ASRServerFrame struct {
	Type    string `json:"type"` // partial | final | wake | info | error
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

const maxBufferedBytes = 1 << 20 // 1 MiB back-pressure cap

// ASRSession is a streaming /ws/asr connection: the caller pumps PCM
// frames in and reads decoded server frames out.
type ASRSession struct {
	conn    *websocket.Conn
	logger  commons.Logger
	buffered int
}

// DialASR opens role=rec|wake and sends the opening start frame.
func DialASR(ctx context.Context, baseURL, role string, sampleRate int, wake *WakeConfig, logger commons.Logger) (*ASRSession, error) {
	url := fmt.Sprintf("%s/ws/asr?role=%s", baseURL, role)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("transport: dial asr: %w", err)
	}

	start := ASRStartFrame{Type: "start", SampleRate: sampleRate, Encoding: "pcm_s16le", Wake: wake}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: send asr start frame: %w", err)
	}
	return &ASRSession{conn: conn, logger: logger}, nil
}

// SendPCM pumps one frame of 16kHz PCM16LE audio. s.buffered counts a
// frame only while its synchronous WriteMessage call runs, so for a
// single caller it is back to zero on every entry and the 1 MiB drop
// branch is not reached: a slow socket makes SendPCM block rather than
// drop frames.
func (s *ASRSession) SendPCM(frame []byte) error {
	if s.buffered > maxBufferedBytes {
		s.logger.Warnw("transport: asr back-pressure, dropping frame", "buffered", s.buffered)
		return nil
	}
	s.buffered += len(frame)
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("transport: send asr pcm frame: %w", err)
	}
	s.buffered -= len(frame)
	return nil
}

// Stop sends {type:'stop'}; the caller is responsible for keeping the
// socket open afterward for its stop-grace period and calling Close
// once that elapses or Final/Close is seen.
func (s *ASRSession) Stop() error {
	if err := s.conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		return fmt.Errorf("transport: send asr stop frame: %w", err)
	}
	return nil
}

// ReadFrame blocks for the next decoded server frame.
func (s *ASRSession) ReadFrame() (*ASRServerFrame, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("transport: read asr frame: %w", err)
	}
	var frame ASRServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("transport: decode asr frame: %w", err)
	}
	return &frame, nil
}

func (s *ASRSession) Close() error {
	return s.conn.Close()
}
