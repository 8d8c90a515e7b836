// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiooutput

import "errors"

// Sentinel errors for the "protocol violation" and "abnormal audio
// content" taxonomies, so callers can errors.Is/As to decide
// fallback/degrade behavior.
var (
	ErrUnsupportedFormat   = errors.New("audiooutput: unsupported audio format or bit depth")
	ErrHeaderTooLarge      = errors.New("audiooutput: RIFF header exceeds maximum size")
	ErrChannelCountChanged = errors.New("audiooutput: channel count changed mid-stream")
	ErrAudioAbnormal       = errors.New("audiooutput: tts_audio_abnormal")
)

// AbnormalKind names the specific sanity-probe failure.
type AbnormalKind string

const (
	AbnormalWhiteNoise AbnormalKind = "white_noise_suspected"
	AbnormalSilence    AbnormalKind = "silence_suspected"
	AbnormalClipping   AbnormalKind = "clipping_suspected"
)
