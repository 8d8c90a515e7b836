// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiooutput

import (
	"encoding/binary"
	"math"
)

// SanityThresholds configures the probe below.
type SanityThresholds struct {
	ZCRThreshold      float64
	WhiteNoiseRMSFloor float64
	RMSFloor          float64
	RMSCeil           float64
	PeakFloor         float64
	PeakCeil          float64
}

// DefaultSanityThresholds returns the probe's standard threshold set.
func DefaultSanityThresholds() SanityThresholds {
	return SanityThresholds{
		ZCRThreshold:       0.35,
		WhiteNoiseRMSFloor: 0.05,
		RMSFloor:           0.002,
		RMSCeil:            0.20,
		PeakFloor:          0.02,
		PeakCeil:           0.98,
	}
}

// SanityProbe accumulates the first ~0.25s of PCM16 mono samples and
// computes peak, RMS and zero-crossing rate.
type SanityProbe struct {
	thresholds SanityThresholds
	maxSamples int
	samples    []int16
	done       bool
}

// NewSanityProbe builds a probe that evaluates after windowMs milliseconds
// of audio at sampleRate have been fed (defaults to 250ms).
func NewSanityProbe(sampleRate int, windowMs int, thresholds SanityThresholds) *SanityProbe {
	if windowMs <= 0 {
		windowMs = 250
	}
	return &SanityProbe{
		thresholds: thresholds,
		maxSamples: sampleRate * windowMs / 1000,
	}
}

// Feed appends PCM16LE bytes to the probe's window. Returns the detected
// AbnormalKind (empty if none, or if the window isn't full yet) and
// whether the probe has now completed its evaluation window.
func (p *SanityProbe) Feed(pcm []byte) (kind AbnormalKind, evaluated bool) {
	if p.done {
		return "", true
	}
	for i := 0; i+1 < len(pcm) && len(p.samples) < p.maxSamples; i += 2 {
		p.samples = append(p.samples, int16(binary.LittleEndian.Uint16(pcm[i:i+2])))
	}
	if len(p.samples) < p.maxSamples {
		return "", false
	}
	p.done = true
	return p.evaluate(), true
}

func (p *SanityProbe) evaluate() AbnormalKind {
	peak, sumSquares := 0.0, 0.0
	crossings := 0
	for i, s := range p.samples {
		v := float64(s) / 32768.0
		if math.Abs(v) > peak {
			peak = math.Abs(v)
		}
		sumSquares += v * v
		if i > 0 && ((p.samples[i-1] >= 0) != (s >= 0)) {
			crossings++
		}
	}
	rms := math.Sqrt(sumSquares / float64(len(p.samples)))
	zcr := float64(crossings) / float64(len(p.samples)-1)

	switch {
	case zcr > p.thresholds.ZCRThreshold && rms > p.thresholds.WhiteNoiseRMSFloor:
		return AbnormalWhiteNoise
	case peak < p.thresholds.PeakFloor && rms < p.thresholds.RMSFloor:
		return AbnormalSilence
	case peak > p.thresholds.PeakCeil && rms > p.thresholds.RMSCeil:
		return AbnormalClipping
	default:
		return ""
	}
}
