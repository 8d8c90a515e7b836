// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEReader_ParsesFramesInOrder(t *testing.T) {
	body := strings.Join([]string{
		`data: {"chunk":"X is "}`,
		``,
		`data: {"chunk":"a thing."}`,
		``,
		`data: {"segment":"X is a thing."}`,
		``,
		`data: {"done":true}`,
		``,
	}, "\n")

	r := NewSSEReader(io.NopCloser(strings.NewReader(body)))
	ctx := context.Background()

	f1, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "X is ", f1.Chunk)

	f2, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a thing.", f2.Chunk)

	f3, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "X is a thing.", f3.Segment)

	f4, err := r.Next(ctx)
	require.NoError(t, err)
	assert.True(t, f4.Done)

	_, err = r.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestSSEReader_SkipsNonDataLines(t *testing.T) {
	body := ": comment\nevent: message\ndata: {\"chunk\":\"ok\"}\n\n"
	r := NewSSEReader(io.NopCloser(strings.NewReader(body)))
	f, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", f.Chunk)
}

func TestSSEReader_RespectsContextCancellation(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewSSEReader(io.NopCloser(pr))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Next(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestSSEReader_MetaFrameParses(t *testing.T) {
	body := `data: {"meta":{"intent":"ask_question","intent_confidence":0.91}}` + "\n\n"
	r := NewSSEReader(io.NopCloser(strings.NewReader(body)))
	f, err := r.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f.Meta)
	assert.Equal(t, "ask_question", f.Meta.Intent)
	assert.InDelta(t, 0.91, f.Meta.IntentConfidence, 0.0001)
}
