// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package voicecommand recognizes tour-control utterances ("next stop",
// "go back", "pause please") out of recognized free text, satisfying
// runcoordinator.CommandParser.
package voicecommand

import (
	"regexp"
	"strconv"

	"github.com/rapidaai/tourguide/internal/runcoordinator"
)

type rule struct {
	pattern    *regexp.Regexp
	action     string
	confidence float64
}

// Parser matches recognized text against a small set of rules, most
// specific first. Every rule fires at a fixed confidence; there is no
// ML classifier here — see DESIGN.md for why a rule table was kept
// instead of wiring an intent-classification library.
type Parser struct {
	rules []rule
}

func New() *Parser {
	return &Parser{rules: []rule{
		{regexp.MustCompile(`(?i)jump to stop (\d+)|go to stop (\d+)`), "jump", 0.9},
		{regexp.MustCompile(`(?i)next stop|go forward|move on`), "next", 0.9},
		{regexp.MustCompile(`(?i)previous stop|go back|last stop`), "prev", 0.9},
		{regexp.MustCompile(`(?i)pause( the)? tour|hold on|wait a moment`), "pause", 0.85},
		{regexp.MustCompile(`(?i)continue( the)? tour|resume|keep going`), "continue", 0.85},
		{regexp.MustCompile(`(?i)start( the)? tour|begin( the)? tour`), "start", 0.85},
		{regexp.MustCompile(`(?i)reset( the)? tour|start over`), "reset", 0.8},
	}}
}

// Parse implements runcoordinator.CommandParser.
func (p *Parser) Parse(text string) (runcoordinator.TourCommand, float64, bool) {
	for _, r := range p.rules {
		m := r.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		cmd := runcoordinator.TourCommand{Action: r.action}
		if r.action == "jump" {
			cmd.StopIndex = firstGroupIndex(m)
		}
		return cmd, r.confidence, true
	}
	return runcoordinator.TourCommand{}, 0, false
}

func firstGroupIndex(m []string) int {
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if n, err := strconv.Atoi(g); err == nil {
			return n - 1 // "stop 1" means StopIndex 0
		}
	}
	return 0
}
