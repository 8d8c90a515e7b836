// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package inputingest

import "time"

// BackoffPolicy is the wake-listener's WS reconnect schedule: 500ms
// initial, growing by Multiplier (1.7x) up to an 8s cap. No external
// backoff library is wired here — see DESIGN.md.
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Initial: 500 * time.Millisecond, Max: 8 * time.Second, Multiplier: 1.7}
}

// Next returns the delay to use after the attempt-th consecutive failure
// (attempt starts at 0 for the first retry) and never exceeds Max.
func (p BackoffPolicy) Next(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.Max) {
			return p.Max
		}
	}
	if time.Duration(d) > p.Max {
		return p.Max
	}
	return time.Duration(d)
}
