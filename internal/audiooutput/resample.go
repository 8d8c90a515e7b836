// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiooutput

import "encoding/binary"

// Resampler linearly interpolates mono PCM16LE audio from one sample
// rate to another, keeping a carry buffer across calls so fractional
// source positions straddle reads without clicks.
type Resampler struct {
	fromRate int
	toRate   int
	carry    []int16 // trailing samples from the previous Feed, for interpolation continuity
	pos      float64 // fractional read position into (carry ++ new samples)
}

// NewResampler builds a resampler from fromRate to toRate. If the rates
// are equal, Feed is a pass-through.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{fromRate: fromRate, toRate: toRate}
}

// Feed resamples a chunk of PCM16LE mono audio, returning PCM16LE output
// at toRate.
func (r *Resampler) Feed(pcm []byte) []byte {
	if r.fromRate == r.toRate {
		return pcm
	}

	in := bytesToInt16(pcm)
	samples := append(r.carry, in...)

	ratio := float64(r.fromRate) / float64(r.toRate)
	var out []int16

	pos := r.pos
	for {
		i0 := int(pos)
		i1 := i0 + 1
		if i1 >= len(samples) {
			break
		}
		frac := pos - float64(i0)
		v := float64(samples[i0])*(1-frac) + float64(samples[i1])*frac
		out = append(out, int16(v))
		pos += ratio
	}

	// Keep whatever trailing samples we couldn't interpolate through yet,
	// and carry the fractional remainder forward.
	consumedWhole := int(pos)
	if consumedWhole > len(samples)-1 {
		consumedWhole = len(samples) - 1
	}
	if consumedWhole < 0 {
		consumedWhole = 0
	}
	r.carry = append([]int16{}, samples[consumedWhole:]...)
	r.pos = pos - float64(consumedWhole)

	return int16ToBytes(out)
}

func bytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}
