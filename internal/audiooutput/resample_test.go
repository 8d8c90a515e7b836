// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiooutput

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResampler_PassThroughWhenRatesMatch(t *testing.T) {
	r := NewResampler(16000, 16000)
	in := []byte{1, 2, 3, 4, 5, 6}
	out := r.Feed(in)
	assert.Equal(t, in, out)
}

func TestResampler_UpsampleProducesMoreSamplesOverTime(t *testing.T) {
	r := NewResampler(8000, 16000)
	in := int16ToBytes([]int16{0, 1000, 2000, 3000, 4000, 5000, 6000, 7000})
	out := r.Feed(in)
	outSamples := bytesToInt16(out)
	// Roughly doubling the sample count; exact count depends on carry state.
	assert.Greater(t, len(outSamples), len(bytesToInt16(in)))
}

func TestResampler_DownsampleProducesFewerSamples(t *testing.T) {
	r := NewResampler(16000, 8000)
	in := make([]int16, 160)
	for i := range in {
		in[i] = int16(i * 10)
	}
	out := r.Feed(int16ToBytes(in))
	outSamples := bytesToInt16(out)
	assert.Less(t, len(outSamples), len(in))
}

func TestResampler_CarryBufferPreservesContinuityAcrossFeeds(t *testing.T) {
	// Feeding a ramp in many small (13-sample) calls should still produce
	// a gap-free, non-decreasing resampled ramp (since the source ramp
	// itself is monotonic): the carry buffer bridges the call boundaries.
	full := make([]int16, 400)
	for i := range full {
		full[i] = int16(i)
	}

	r := NewResampler(8000, 11025)
	var streamed []int16
	for i := 0; i < len(full); i += 13 {
		end := i + 13
		if end > len(full) {
			end = len(full)
		}
		out := r.Feed(int16ToBytes(full[i:end]))
		streamed = append(streamed, bytesToInt16(out)...)
	}

	require.NotEmpty(t, streamed)
	for i := 1; i < len(streamed); i++ {
		assert.GreaterOrEqual(t, streamed[i], streamed[i-1])
	}
}

func TestBytesInt16RoundTrip(t *testing.T) {
	samples := []int16{-32768, -1, 0, 1, 32767}
	assert.Equal(t, samples, bytesToInt16(int16ToBytes(samples)))
}
