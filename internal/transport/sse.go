// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// AskFrame is one decoded `data: {...}` line of the /api/ask SSE
// protocol.
type AskFrame struct {
	Chunk   string    `json:"chunk,omitempty"`
	Segment string    `json:"segment,omitempty"`
	Meta    *AskMeta  `json:"meta,omitempty"`
	Done    bool      `json:"done,omitempty"`
}

// AskMeta is the optional intent-classification metadata of a frame.
type AskMeta struct {
	Intent           string  `json:"intent,omitempty"`
	IntentConfidence float64 `json:"intent_confidence,omitempty"`
}

// SSEReader reads line-delimited `data: <json>` frames off a streaming
// HTTP response body, generalizing the teacher's `responseListener`
// read-loop (continuous read, JSON-decode-per-frame, dispatch) from a
// WebSocket frame loop to an SSE body.
type SSEReader struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
}

func NewSSEReader(body io.ReadCloser) *SSEReader {
	return &SSEReader{scanner: bufio.NewScanner(body), body: body}
}

// Next blocks for the next AskFrame, returning io.EOF when the stream
// ends cleanly or ctx.Err() when the context is done first.
func (r *SSEReader) Next(ctx context.Context) (*AskFrame, error) {
	type result struct {
		frame *AskFrame
		err   error
	}
	ch := make(chan result, 1)

	go func() {
		for r.scanner.Scan() {
			line := r.scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			var frame AskFrame
			if err := json.Unmarshal([]byte(payload), &frame); err != nil {
				ch <- result{nil, fmt.Errorf("transport: decode sse frame: %w", err)}
				return
			}
			ch <- result{&frame, nil}
			return
		}
		if err := r.scanner.Err(); err != nil {
			ch <- result{nil, err}
			return
		}
		ch <- result{nil, io.EOF}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.frame, res.err
	}
}

func (r *SSEReader) Close() error {
	return r.body.Close()
}
