// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiooutput

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sineWavePCM(sampleRate, windowMs int, freqHz, amplitude float64) []byte {
	n := sampleRate * windowMs / 1000
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(int16(v*32767)))
	}
	return out
}

func silencePCM(sampleRate, windowMs int) []byte {
	return make([]byte, sampleRate*windowMs/1000*2)
}

// clippedPCM is a near-full-scale square wave with a single transition
// partway through the window, so its zero-crossing rate stays low (ruling
// out the white_noise_suspected branch) while peak and RMS both saturate.
func clippedPCM(sampleRate, windowMs int) []byte {
	n := sampleRate * windowMs / 1000
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(32700)
		if i < n/2 {
			v = -32700
		}
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(v))
	}
	return out
}

func TestSanityProbe_DetectsSilence(t *testing.T) {
	probe := NewSanityProbe(16000, 250, DefaultSanityThresholds())
	kind, evaluated := probe.Feed(silencePCM(16000, 250))
	assert.True(t, evaluated)
	assert.Equal(t, AbnormalSilence, kind)
}

func TestSanityProbe_DetectsClipping(t *testing.T) {
	probe := NewSanityProbe(16000, 250, DefaultSanityThresholds())
	kind, evaluated := probe.Feed(clippedPCM(16000, 250))
	assert.True(t, evaluated)
	assert.Equal(t, AbnormalClipping, kind)
}

func TestSanityProbe_DetectsWhiteNoise(t *testing.T) {
	// A very high-frequency tone near Nyquist gives a high zero-crossing
	// rate at moderate amplitude, matching the white_noise_suspected case.
	probe := NewSanityProbe(16000, 250, DefaultSanityThresholds())
	kind, evaluated := probe.Feed(sineWavePCM(16000, 250, 7900, 0.3))
	assert.True(t, evaluated)
	assert.Equal(t, AbnormalWhiteNoise, kind)
}

func TestSanityProbe_NormalSpeechLikeToneIsFine(t *testing.T) {
	probe := NewSanityProbe(16000, 250, DefaultSanityThresholds())
	kind, evaluated := probe.Feed(sineWavePCM(16000, 250, 220, 0.3))
	assert.True(t, evaluated)
	assert.Equal(t, AbnormalKind(""), kind)
}

func TestSanityProbe_DoesNotEvaluateUntilWindowFull(t *testing.T) {
	probe := NewSanityProbe(16000, 250, DefaultSanityThresholds())
	_, evaluated := probe.Feed(silencePCM(16000, 100))
	assert.False(t, evaluated)
}

func TestSanityProbe_OnlyEvaluatesOnce(t *testing.T) {
	probe := NewSanityProbe(16000, 250, DefaultSanityThresholds())
	_, evaluated := probe.Feed(silencePCM(16000, 250))
	assert.True(t, evaluated)

	kind, evaluated := probe.Feed(clippedPCM(16000, 250))
	assert.True(t, evaluated)
	assert.Equal(t, AbnormalKind(""), kind)
}
