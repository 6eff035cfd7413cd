// Package grammar converts natural-language test instructions into
// structured steps with a deterministic, ordered rule table. No model
// inference is involved: an instruction either matches a rule or it
// doesn't, and a nil result is the expected signal for the heuristic
// fallback, not a fault.
package grammar

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMemoTTL = 5 * time.Minute

	baseConfidence     = 0.8
	elementTypeBonus   = 0.05
	descriptorBonus    = 0.05
	valueBonus         = 0.05
	ordinalBonus       = 0.03
	genericRulePenalty = 0.02
)

// Engine matches instructions against an ordered rule table in two
// passes: verbatim first, synonym-normalized second.
type Engine struct {
	mu        sync.RWMutex
	rules     []Rule
	memo      map[string]memoEntry
	memoTTL   time.Duration
	lastSweep time.Time
	log       zerolog.Logger
}

type memoEntry struct {
	step    *ParsedStep // nil means "memoized miss"
	expires time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMemoTTL overrides the default 5-minute memoization TTL.
func WithMemoTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.memoTTL = ttl
		}
	}
}

// NewEngine builds an engine with the built-in rule table.
func NewEngine(log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		rules:     builtinRules(),
		memo:      make(map[string]memoEntry),
		memoTTL:   defaultMemoTTL,
		lastSweep: time.Now(),
		log:       log,
	}
	for _, opt := range opts {
		opt(e)
	}
	sort.SliceStable(e.rules, func(i, j int) bool { return e.rules[i].Priority < e.rules[j].Priority })
	return e
}

// Register adds a rule at runtime and invalidates the memo cache.
func (e *Engine) Register(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("grammar: rule id required")
	}
	if r.Pattern == nil {
		return fmt.Errorf("grammar: rule %s has no pattern", r.ID)
	}
	if r.Extract == nil {
		return fmt.Errorf("grammar: rule %s has no extractor", r.ID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.rules {
		if existing.ID == r.ID {
			return fmt.Errorf("grammar: rule %s already registered", r.ID)
		}
	}
	// Copy-on-write: Parse iterates the slice it captured without holding
	// the lock, so the live backing array must never be re-sorted.
	rules := make([]Rule, 0, len(e.rules)+1)
	rules = append(rules, e.rules...)
	rules = append(rules, r)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	e.rules = rules
	e.memo = make(map[string]memoEntry)
	e.log.Debug().Str("rule", r.ID).Int("priority", r.Priority).Msg("rule registered")
	return nil
}

// Rules returns a copy of the registered rule table.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Parse converts an instruction into a ParsedStep, or nil when no rule
// matches at either pass.
func (e *Engine) Parse(instruction string) *ParsedStep {
	raw := strings.TrimSpace(instruction)
	if raw == "" {
		return nil
	}

	if step, ok := e.memoLookup(raw); ok {
		return step
	}

	masked, quoted := extractQuoted(raw)

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	// Pass 1: verbatim text, so verb-specific rules like "press ... key"
	// win before a synonym substitution could rewrite the verb.
	step := matchRules(rules, masked, quoted, raw)
	if step == nil {
		// Pass 2: synonym-normalized retry.
		normalized := normalizeSynonyms(masked)
		if normalized != masked {
			step = matchRules(rules, normalized, quoted, raw)
		}
	}

	e.memoStore(raw, step)
	if step != nil {
		e.log.Debug().
			Str("rule", step.MatchedRuleID).
			Str("intent", step.Intent).
			Float64("confidence", step.Confidence).
			Msg("parsed")
	}
	return step.Clone()
}

func matchRules(rules []Rule, text string, quoted []string, raw string) *ParsedStep {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "."))
	for i := range rules {
		r := &rules[i]
		m := r.Pattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		return buildStep(r, m, quoted, raw)
	}
	return nil
}

func buildStep(r *Rule, m []string, quoted []string, raw string) *ParsedStep {
	ex := r.Extract(m, quoted)

	step := &ParsedStep{
		Category:      r.Category,
		Intent:        r.Intent,
		RawText:       raw,
		Modifiers:     ex.Modifiers,
		MatchedRuleID: r.ID,
	}
	if ex.Target != "" {
		step.Target = parseTarget(ex.Target, ex.ElementType)
	}

	params := make(map[string]string, len(ex.Params)+2)
	for k, v := range ex.Params {
		params[k] = v
	}
	if ex.Value != "" {
		params["value"] = ex.Value
	}
	if ex.Expected != "" {
		params["expected"] = ex.Expected
	}
	if len(params) > 0 {
		step.Parameters = params
	}

	step.Confidence = scoreConfidence(step, r)
	return step
}

// scoreConfidence applies the heuristic from the parse contract: a solid
// base with small bonuses for every piece of structure the rule managed
// to extract.
func scoreConfidence(step *ParsedStep, r *Rule) float64 {
	c := baseConfidence
	if step.Target.ElementType != "" {
		c += elementTypeBonus
	}
	if len(step.Target.Descriptors) > 0 {
		c += descriptorBonus
	}
	if step.Parameters["value"] != "" {
		c += valueBonus
	}
	if step.Target.Ordinal != 0 {
		c += ordinalBonus
	}
	if r.Priority >= genericPriority {
		c -= genericRulePenalty
	}
	if c > 1 {
		c = 1
	}
	return c
}

func (e *Engine) memoLookup(raw string) (*ParsedStep, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepLocked()
	entry, ok := e.memo[raw]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.step.Clone(), true
}

func (e *Engine) memoStore(raw string, step *ParsedStep) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memo[raw] = memoEntry{step: step.Clone(), expires: time.Now().Add(e.memoTTL)}
}

// sweepLocked drops expired memo entries at most once per TTL window.
func (e *Engine) sweepLocked() {
	now := time.Now()
	if now.Sub(e.lastSweep) < e.memoTTL {
		return
	}
	for k, v := range e.memo {
		if now.After(v.expires) {
			delete(e.memo, k)
		}
	}
	e.lastSweep = now
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

func cutSuffixFold(s, suffix string) (string, bool) {
	if len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix) {
		return s[:len(s)-len(suffix)], true
	}
	return s, false
}
