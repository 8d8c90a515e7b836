// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/tourguide/internal/commons"
)

func TestCompressTail_StripsBlacklistedPhrases(t *testing.T) {
	out := CompressTail("接下来我们来到下一站，欢迎来到博物馆。")
	for _, phrase := range transitionPhrases {
		assert.NotContains(t, out, phrase)
	}
}

func TestCompressTail_TruncatesToMaxChars(t *testing.T) {
	long := strings.Repeat("字", 200)
	out := CompressTail(long)
	assert.LessOrEqual(t, len([]rune(out)), maxTailChars)
}

func TestBuilder_BuildIncludesStopNumberAndName(t *testing.T) {
	b, err := NewBuilder(commons.NewNopLogger())
	require.NoError(t, err)

	out, err := b.Build(Params{Action: ActionStart, StopIndex: 0, StopName: "兵马俑"})
	require.NoError(t, err)
	assert.Contains(t, out, "第1站")
	assert.Contains(t, out, "兵马俑")
}

func TestBuilder_ContinueIncludesCompressedTailAndContinuityDirective(t *testing.T) {
	b, err := NewBuilder(commons.NewNopLogger())
	require.NoError(t, err)

	out, err := b.Build(Params{
		Action:       ActionContinue,
		StopIndex:    1,
		StopName:     "大雁塔",
		PreviousTail: "接下来让我们继续欣赏。",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "不要使用欢迎语")
	for _, phrase := range transitionPhrases {
		assert.NotContains(t, out, phrase)
	}
}

func TestBuilder_StartDoesNotIncludeContinuityDirective(t *testing.T) {
	b, err := NewBuilder(commons.NewNopLogger())
	require.NoError(t, err)

	out, err := b.Build(Params{Action: ActionStart, StopIndex: 0, StopName: "序厅", PreviousTail: "ignored"})
	require.NoError(t, err)
	assert.NotContains(t, out, "不要使用欢迎语")
}

func TestBuilder_EstimatesTargetCharsFromDuration(t *testing.T) {
	b, err := NewBuilder(commons.NewNopLogger())
	require.NoError(t, err)

	out, err := b.Build(Params{Action: ActionStart, StopIndex: 0, StopName: "大殿", DurationS: 30})
	require.NoError(t, err)
	assert.Contains(t, out, "目标字数约")
}
