// Package matcher maps a fuzzy element description to a concrete,
// uniquely-identified node. Strategies are tried in fixed priority
// order and short-circuit on the first candidate that clears the
// acceptance bar; weaker candidates are kept as alternatives for the
// executor's recovery path.
package matcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/polzovatel/stepwright/internal/browser"
	"github.com/polzovatel/stepwright/internal/cache"
	"github.com/polzovatel/stepwright/internal/fingerprint"
	"github.com/polzovatel/stepwright/internal/grammar"
)

// ErrElementNotFound is the sentinel for an exhausted cascade.
var ErrElementNotFound = errors.New("element not found")

// OrdinalError reports a request for the k-th element of a cluster
// smaller than k. Never silently clamped.
type OrdinalError struct {
	Requested int
	Available int
}

func (e *OrdinalError) Error() string {
	return fmt.Sprintf("ordinal %d requested but only %d matching elements", e.Requested, e.Available)
}

// Strategy names, reported on MatchedElement.Method and persisted in
// the element cache.
const (
	MethodAXTree   = "ax-tree"
	MethodSemantic = "semantic-locator"
	MethodFreeText = "free-text"
	MethodRoleOnly = "role-only"
	MethodFrame    = "frame"
	MethodCached   = "cached"
	MethodHealed   = "self-healed"
)

// MatchedElement is the resolution result. Locator addresses exactly
// one node; BroadLocator keeps the pre-narrowing handle for count
// queries. Never cached directly, only its fingerprint is persisted.
type MatchedElement struct {
	Locator      browser.Locator
	BroadLocator browser.Locator
	Confidence   float64
	Method       string
	Description  string
	Alternatives []Alternative
}

// Alternative is a below-threshold candidate kept for recovery.
type Alternative struct {
	Locator     browser.Locator
	Confidence  float64
	Method      string
	Description string
}

const (
	// actionBarFactor relaxes the bar for actions and queries: a wrong
	// click is more recoverable than a false-positive assertion.
	actionBarFactor = 0.75

	// alternativeBarSlack is how far below the bar the best leftover
	// candidate may sit and still be accepted before frame search.
	alternativeBarSlack = 0.1
)

// Matcher resolves parsed targets against a page.
type Matcher struct {
	threshold float64
	store     *cache.Store
	healer    *fingerprint.Healer
	log       zerolog.Logger
}

type Option func(*Matcher)

// WithThreshold overrides the base acceptance threshold.
func WithThreshold(t float64) Option {
	return func(m *Matcher) {
		if t > 0 {
			m.threshold = t
		}
	}
}

// WithCache wires the element cache: consulted before the cascade,
// and fed page-level resolution stats.
func WithCache(s *cache.Store) Option {
	return func(m *Matcher) { m.store = s }
}

// WithHealer enables fingerprint self-healing of cached entries.
func WithHealer(h *fingerprint.Healer) Option {
	return func(m *Matcher) { m.healer = h }
}

func New(log zerolog.Logger, opts ...Option) *Matcher {
	m := &Matcher{
		threshold: cache.ThresholdDefault,
		log:       log.With().Str("comp", "matcher").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Find runs the cascade for one parsed step. Returns
// ErrElementNotFound when every strategy is exhausted, and an
// OrdinalError when the requested ordinal exceeds the candidate
// cluster.
func (m *Matcher) Find(ctx context.Context, page browser.Page, step *grammar.ParsedStep) (*MatchedElement, error) {
	bar := m.acceptanceBar(page, step)
	log := m.log.With().Str("target", step.Target.RawText).Logger()

	if healed := m.consultCache(ctx, page, step); healed != nil {
		log.Debug().Str("method", healed.Method).Float64("conf", healed.Confidence).Msg("resolved from cache")
		m.recordOutcome(page, true, healed.Confidence)
		return healed, nil
	}

	var alternatives []Alternative
	var strategies []func(context.Context, browser.Page, *grammar.ParsedStep) (*MatchedElement, error)
	// Count-style intents need a meaningful pre-narrowing handle, which
	// only the locator-backed strategies produce.
	if step.Intent != grammar.IntentGetCount && step.Intent != grammar.IntentAssertCount {
		strategies = append(strategies, m.axTreeStrategy)
	}
	strategies = append(strategies, m.semanticStrategy, m.freeTextStrategy, m.roleOnlyStrategy)
	for _, strat := range strategies {
		candidate, err := strat(ctx, page, step)
		if err != nil {
			m.recordOutcome(page, false, 0)
			return nil, err
		}
		if candidate == nil {
			continue
		}
		if candidate.Confidence >= bar {
			candidate.Alternatives = alternatives
			log.Debug().Str("method", candidate.Method).Float64("conf", candidate.Confidence).Msg("resolved")
			m.recordOutcome(page, true, candidate.Confidence)
			return candidate, nil
		}
		alternatives = append(alternatives, Alternative{
			Locator:     candidate.Locator,
			Confidence:  candidate.Confidence,
			Method:      candidate.Method,
			Description: candidate.Description,
		})
	}

	// Best leftover candidate, accepted on a slightly relaxed bar.
	if best := bestAlternative(alternatives); best != nil && best.Confidence >= bar-alternativeBarSlack {
		log.Debug().Str("method", best.Method).Float64("conf", best.Confidence).Msg("accepted alternative")
		m.recordOutcome(page, true, best.Confidence)
		return &MatchedElement{
			Locator:      best.Locator,
			Confidence:   best.Confidence,
			Method:       best.Method,
			Description:  best.Description,
			Alternatives: removeAlternative(alternatives, best),
		}, nil
	}

	if candidate := m.frameStrategy(ctx, page, step); candidate != nil && candidate.Confidence >= bar-alternativeBarSlack {
		candidate.Alternatives = alternatives
		log.Debug().Float64("conf", candidate.Confidence).Msg("resolved inside frame")
		m.recordOutcome(page, true, candidate.Confidence)
		return candidate, nil
	}

	m.recordOutcome(page, false, 0)
	if m.store != nil {
		m.store.RecordFailure(page.URL(), step.RawText)
	}
	return nil, fmt.Errorf("%w: %q", ErrElementNotFound, step.Target.RawText)
}

func (m *Matcher) acceptanceBar(page browser.Page, step *grammar.ParsedStep) float64 {
	bar := m.threshold
	if m.store != nil {
		bar = m.store.RecommendedThreshold(page.URL())
	}
	if step.Category != grammar.CategoryAssertion {
		bar *= actionBarFactor
	}
	return bar
}

// consultCache tries the learned locator via fingerprint self-healing.
// A heal miss debits the entry so repeat failures evict it.
func (m *Matcher) consultCache(ctx context.Context, page browser.Page, step *grammar.ParsedStep) *MatchedElement {
	if m.store == nil || m.healer == nil {
		return nil
	}
	entry := m.store.Get(page.URL(), step.RawText)
	if entry == nil || entry.Fingerprint == nil {
		return nil
	}
	healed, err := m.healer.SelfHeal(ctx, page, entry.Fingerprint)
	if err != nil || healed == nil {
		m.store.RecordFailure(page.URL(), step.RawText)
		return nil
	}
	method := MethodCached
	if healed.Score < 1.0 {
		method = MethodHealed
	}
	return &MatchedElement{
		Locator:     healed.Locator,
		Confidence:  healed.Confidence,
		Method:      method,
		Description: healed.Description,
	}
}

func (m *Matcher) recordOutcome(page browser.Page, success bool, confidence float64) {
	if m.store == nil {
		return
	}
	m.store.UpdatePageStats(page.URL(), success, confidence)
}

func bestAlternative(alts []Alternative) *Alternative {
	var best *Alternative
	for i := range alts {
		if best == nil || alts[i].Confidence > best.Confidence {
			best = &alts[i]
		}
	}
	return best
}

func removeAlternative(alts []Alternative, drop *Alternative) []Alternative {
	out := make([]Alternative, 0, len(alts))
	for i := range alts {
		if &alts[i] == drop {
			continue
		}
		out = append(out, alts[i])
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
