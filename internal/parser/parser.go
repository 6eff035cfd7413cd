// Package parser layers the deterministic grammar engine over a last-ditch
// heuristic matcher. The grammar is always tried first; the heuristic only
// runs when no rule fires at either grammar pass, and its results carry a
// visibly lower confidence.
package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/stepwright/internal/grammar"
)

// ErrParseFailed is returned when neither the grammar nor the heuristic
// fallback can interpret an instruction. It is never retried.
var ErrParseFailed = errors.New("instruction could not be parsed")

const (
	fallbackBase       = 0.5
	fallbackTargetBump = 0.1
	fallbackCeiling    = 0.6
)

// Parser resolves instructions to steps, grammar first.
type Parser struct {
	engine *grammar.Engine
	log    zerolog.Logger
}

func New(engine *grammar.Engine, log zerolog.Logger) *Parser {
	return &Parser{engine: engine, log: log}
}

// Parse returns a step for the instruction or ErrParseFailed. Fallback
// parses are identifiable by an empty MatchedRuleID.
func (p *Parser) Parse(instruction string) (*grammar.ParsedStep, error) {
	if step := p.engine.Parse(instruction); step != nil {
		return step, nil
	}
	if step := p.heuristic(instruction); step != nil {
		p.log.Debug().
			Str("instruction", instruction).
			Str("intent", step.Intent).
			Float64("confidence", step.Confidence).
			Msg("heuristic fallback parse")
		return step, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrParseFailed, instruction)
}

// fallbackVerbs maps a recognizable verb anywhere in the instruction to an
// intent. Order matters: earlier entries are more specific.
var fallbackVerbs = []struct {
	verb     string
	intent   string
	category grammar.Category
}{
	{"double click", grammar.IntentDoubleClick, grammar.CategoryAction},
	{"right click", grammar.IntentRightClick, grammar.CategoryAction},
	{"click", grammar.IntentClick, grammar.CategoryAction},
	{"tap", grammar.IntentClick, grammar.CategoryAction},
	{"press", grammar.IntentClick, grammar.CategoryAction},
	{"type", grammar.IntentFill, grammar.CategoryAction},
	{"fill", grammar.IntentFill, grammar.CategoryAction},
	{"enter", grammar.IntentFill, grammar.CategoryAction},
	{"select", grammar.IntentSelect, grammar.CategoryAction},
	{"choose", grammar.IntentSelect, grammar.CategoryAction},
	{"uncheck", grammar.IntentUncheck, grammar.CategoryAction},
	{"check", grammar.IntentCheck, grammar.CategoryAction},
	{"hover", grammar.IntentHover, grammar.CategoryAction},
	{"scroll", grammar.IntentScroll, grammar.CategoryAction},
	{"navigate", grammar.IntentNavigate, grammar.CategoryAction},
	{"open", grammar.IntentClick, grammar.CategoryAction},
	{"wait", grammar.IntentWaitFor, grammar.CategoryAction},
	{"verify", grammar.IntentAssertVisible, grammar.CategoryAssertion},
	{"should", grammar.IntentAssertVisible, grammar.CategoryAssertion},
	{"count", grammar.IntentGetCount, grammar.CategoryQuery},
	{"read", grammar.IntentGetText, grammar.CategoryQuery},
	{"get", grammar.IntentGetText, grammar.CategoryQuery},
}

// heuristic is the secondary NLP matcher: verb-keyword scan plus crude
// target extraction. Good enough to keep loosely-phrased instructions
// moving, bad enough that its confidence never exceeds 0.6.
func (p *Parser) heuristic(instruction string) *grammar.ParsedStep {
	text := strings.TrimSpace(instruction)
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	for _, fv := range fallbackVerbs {
		idx := indexWord(lower, fv.verb)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(text[idx+len(fv.verb):])
		rest = strings.TrimPrefix(rest, "on ")
		rest = strings.TrimPrefix(rest, "the ")

		step := &grammar.ParsedStep{
			Category:   fv.category,
			Intent:     fv.intent,
			RawText:    text,
			Confidence: fallbackBase,
		}
		if rest != "" {
			step.Target = targetFromText(rest)
			if len(step.Target.Descriptors) > 0 {
				step.Confidence += fallbackTargetBump
			}
		}
		if step.Confidence > fallbackCeiling {
			step.Confidence = fallbackCeiling
		}
		return step
	}
	return nil
}

// indexWord finds needle at a word boundary, or -1.
func indexWord(haystack, needle string) int {
	idx := strings.Index(haystack, needle)
	for idx >= 0 {
		beforeOK := idx == 0 || haystack[idx-1] == ' '
		after := idx + len(needle)
		afterOK := after == len(haystack) || haystack[after] == ' '
		if beforeOK && afterOK {
			return idx
		}
		next := strings.Index(haystack[idx+1:], needle)
		if next < 0 {
			return -1
		}
		idx += 1 + next
	}
	return -1
}

func targetFromText(text string) grammar.ElementTarget {
	target := grammar.ElementTarget{RawText: text}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, `.,!?:;'"`)
		if w == "" || w == "the" || w == "a" || w == "an" {
			continue
		}
		target.Descriptors = append(target.Descriptors, w)
	}
	return target
}
