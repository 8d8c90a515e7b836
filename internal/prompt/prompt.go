// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package prompt builds TourPipeline's per-stop prompts: title
// composition, duration/audience hints, and continuity-directive tail
// compression for continuous-tour transitions.
package prompt

import (
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/pkoukk/tiktoken-go"

	"github.com/rapidaai/tourguide/internal/commons"
)

// transitionPhrases is the blacklist stripped from a compressed tail,
// kept as a named constant: it is part of the contract between
// prompt-building and the remote model, not an incidental detail.
var transitionPhrases = []string{
	"接下来", "下一站", "欢迎来到", "现在我们来到", "让我们继续",
}

const maxTailChars = 80

const titleTemplate = `第{{ stop_number }}站「{{ stop_name }}」{% if total %} / 共{{ total }}站{% endif %}
{% if duration_s %}本站讲解时长约{{ duration_s }}秒，目标字数约{{ target_chars }}字。{% endif %}
{% if audience_profile %}面向听众：{{ audience_profile }}。{% endif %}
{% if continuity_directive %}{{ continuity_directive }}{% endif %}
{% if tail %}上一站的结尾：「{{ tail }}」{% endif %}`

// Action enumerates the continuous-tour actions a prompt can be built for.
type Action string

const (
	ActionStart    Action = "start"
	ActionContinue Action = "continue"
	ActionNext     Action = "next"
)

// Params carries everything the prompt builder needs for one stop.
type Params struct {
	Action          Action
	StopIndex       int
	StopName        string
	TotalStops      int // 0 if unknown
	DurationS       float64
	TargetChars     int
	AudienceProfile string
	PreviousTail    string // only used for Continue/continuous Next
	Continuous      bool
}

// Builder renders tour-stop prompts with pongo2. When only a duration is
// given it derives the character budget from the duration and uses
// tiktoken-go only to log budgets that look too large.
type Builder struct {
	logger  commons.Logger
	tmpl    *pongo2.Template
	encoder *tiktoken.Tiktoken
}

func NewBuilder(logger commons.Logger) (*Builder, error) {
	tmpl, err := pongo2.FromString(titleTemplate)
	if err != nil {
		return nil, fmt.Errorf("prompt: parse template: %w", err)
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("prompt: load tokenizer: %w", err)
	}
	return &Builder{logger: logger, tmpl: tmpl, encoder: enc}, nil
}

// Build renders the full prompt text for one stop.
func (b *Builder) Build(p Params) (string, error) {
	targetChars := p.TargetChars
	if targetChars == 0 && p.DurationS > 0 {
		targetChars = b.estimateTargetChars(p.DurationS)
	}

	ctx := pongo2.Context{
		"stop_number":  p.StopIndex + 1,
		"stop_name":    p.StopName,
		"duration_s":   p.DurationS,
		"target_chars": targetChars,
		"audience_profile": p.AudienceProfile,
	}
	if p.TotalStops > 0 {
		ctx["total"] = p.TotalStops
	}

	if (p.Action == ActionContinue || (p.Action == ActionNext && p.Continuous)) && p.PreviousTail != "" {
		ctx["tail"] = CompressTail(p.PreviousTail)
		ctx["continuity_directive"] = "请直接承接上文继续讲解，不要使用欢迎语，也不要提前透露后续站点的内容。"
	}

	out, err := b.tmpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("prompt: render: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// maxAnswerTokens bounds how large a duration-derived character budget is
// allowed to imply; past this the estimate is logged as suspicious
// (likely a bad duration_s from the caller) but still returned.
const maxAnswerTokens = 2000

// estimateTargetChars converts a spoken duration into a character budget
// using a rough 2.3 characters/second-of-speech rate, and sanity-checks
// the result against the tokenizer so a caller-supplied duration_s that
// would blow the model's practical answer budget gets logged.
func (b *Builder) estimateTargetChars(durationS float64) int {
	chars := int(durationS * 2.3)
	if chars <= 0 {
		return 0
	}
	tokens := b.encoder.Encode(strings.Repeat("字", chars), nil, nil)
	if len(tokens) > maxAnswerTokens {
		b.logger.Warnw("prompt: duration-derived budget exceeds sanity cap", "duration_s", durationS, "chars", chars, "tokens", len(tokens))
	}
	return chars
}

// CompressTail strips the transition-phrase blacklist from the previous
// stop's closing text and truncates to maxTailChars.
func CompressTail(tail string) string {
	compressed := tail
	for _, phrase := range transitionPhrases {
		compressed = strings.ReplaceAll(compressed, phrase, "")
	}
	compressed = strings.TrimSpace(compressed)

	runes := []rune(compressed)
	if len(runes) > maxTailChars {
		runes = runes[len(runes)-maxTailChars:]
	}
	return string(runes)
}
