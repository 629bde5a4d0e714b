// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

// Package analysis produces arrangement suggestions from a session's
// recent edit history. Suggestions are deterministic: the same history
// yields the same advice, so clients can cache and tests can assert.
package analysis

import (
	"context"

	"github.com/cadenzalab/cadenza/internal/models"
)

// Suggestion is one piece of arrangement advice for a session.
type Suggestion struct {
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Confidence float64 `json:"confidence"`
}

// Suggestion kinds.
const (
	KindHarmony     = "harmony"
	KindRhythm      = "rhythm"
	KindArrangement = "arrangement"
	KindDynamics    = "dynamics"
)

// Provider computes suggestions for a session from its recent changes,
// newest first.
type Provider interface {
	Suggest(ctx context.Context, session *models.Session, recent []models.Change) ([]Suggestion, error)
}

// RulesProvider derives suggestions from simple structural heuristics on
// the change log. No model, no randomness.
type RulesProvider struct{}

// NewRulesProvider returns the default provider.
func NewRulesProvider() *RulesProvider {
	return &RulesProvider{}
}

// Suggest inspects the distribution of recent change kinds and returns
// advice sorted by confidence.
func (p *RulesProvider) Suggest(_ context.Context, session *models.Session, recent []models.Change) ([]Suggestion, error) {
	counts := make(map[string]int, len(recent))
	for _, c := range recent {
		counts[c.ChangeType]++
	}
	total := len(recent)

	var suggestions []Suggestion

	if total == 0 {
		return []Suggestion{{
			Kind:       KindArrangement,
			Title:      "Start with a sketch",
			Detail:     "No edits yet. Lay down a chord progression or a simple melody to give collaborators something to react to.",
			Confidence: 1.0,
		}}, nil
	}

	noteEdits := counts[models.ChangeNoteAdd] + counts[models.ChangeNoteRemove] + counts[models.ChangeNoteEdit]
	chordEdits := counts[models.ChangeChordAdd] + counts[models.ChangeChordRemove] + counts[models.ChangeChordEdit]

	if noteEdits > 0 && chordEdits == 0 {
		suggestions = append(suggestions, Suggestion{
			Kind:       KindHarmony,
			Title:      "Add harmonic support",
			Detail:     "Recent work is all melodic. A chord layer under the melody would anchor the key.",
			Confidence: ratio(noteEdits, total),
		})
	}
	if chordEdits > 0 && noteEdits == 0 {
		suggestions = append(suggestions, Suggestion{
			Kind:       KindArrangement,
			Title:      "Write a lead line",
			Detail:     "The harmony is taking shape but nothing carries the melody yet.",
			Confidence: ratio(chordEdits, total),
		})
	}
	if counts[models.ChangeTempoChange] >= 3 {
		suggestions = append(suggestions, Suggestion{
			Kind:       KindRhythm,
			Title:      "Settle the tempo",
			Detail:     "The tempo has changed several times recently. Locking it in will make timing edits easier for everyone.",
			Confidence: ratio(counts[models.ChangeTempoChange], total),
		})
	}
	if counts[models.ChangeInstrumentAdd] >= 4 {
		suggestions = append(suggestions, Suggestion{
			Kind:       KindDynamics,
			Title:      "Thin the texture",
			Detail:     "Many instruments were added in a short span. Consider which voices carry the section and rest the others.",
			Confidence: ratio(counts[models.ChangeInstrumentAdd], total),
		})
	}

	if len(suggestions) == 0 {
		suggestions = append(suggestions, Suggestion{
			Kind:       KindArrangement,
			Title:      "Keep building",
			Detail:     "The composition is developing evenly. A contrasting section could be the next step.",
			Confidence: 0.3,
		})
	}

	return suggestions, nil
}

func ratio(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
