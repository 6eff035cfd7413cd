// Package decompose splits compound instructions into atomic ones:
// conditionals ("if X is visible, click Y"), repetitions ("click Add 3
// times") and conjunctions ("fill A then click B"). Splitting never
// touches quoted payloads.
package decompose

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a sub-instruction.
type Kind string

const (
	KindPlain       Kind = "plain"
	KindConditional Kind = "conditional"
	KindLoop        Kind = "loop"
)

// Loop counts are capped so a typo can't spin the runner for hours.
const maxLoopCount = 100

// SubInstruction is one atomic unit of work for the runner.
type SubInstruction struct {
	Kind Kind
	// Text is the action instruction to run (for all kinds).
	Text string
	// Conditional fields: run Text only when Element satisfies Check.
	Element string
	Check   string // visible/present/checked/enabled
	Negate  bool
	// Loop field: run Text Count times.
	Count int
}

// Result is the outcome of decomposing one raw instruction.
type Result struct {
	Steps         []SubInstruction
	WasDecomposed bool
}

var (
	conditionalRe = regexp.MustCompile(`(?i)^(if|when|unless) (?:the )?(.+?) (?:is|are) (not )?(visible|hidden|present|absent|checked|unchecked|enabled|disabled)(?:,| then) (.+)$`)
	loopPrefixRe  = regexp.MustCompile(`(?i)^repeat (\d+) times?:? (.+)$`)
	loopSuffixRe  = regexp.MustCompile(`(?i)^(.+?),? (\d+) times$`)
	connectiveRe  = regexp.MustCompile(`(?i)\s*(?:,\s*then\s+|\s+then\s+|,?\s*after that,?\s+|,?\s*followed by\s+|,\s*and\s+|\s+and\s+|;\s*)`)
)

// actionVerbs gates conjunction splitting: a fragment only counts as an
// instruction when it starts with one of these.
var actionVerbs = map[string]bool{
	"click": true, "tap": true, "press": true, "double": true, "right": true,
	"force": true, "type": true, "fill": true, "enter": true, "input": true,
	"write": true, "clear": true, "select": true, "choose": true, "pick": true,
	"check": true, "uncheck": true, "tick": true, "untick": true,
	"hover": true, "focus": true, "upload": true, "drag": true,
	"scroll": true, "navigate": true, "go": true, "open": true, "visit": true,
	"reload": true, "refresh": true, "wait": true, "verify": true,
	"ensure": true, "confirm": true, "assert": true, "make": true,
	"get": true, "read": true, "count": true, "take": true, "set": true,
}

// Decompose splits a compound instruction. When no compound form applies
// the instruction is returned unchanged with WasDecomposed=false.
func Decompose(instruction string) Result {
	text := strings.TrimSpace(instruction)
	if text == "" {
		return Result{Steps: nil, WasDecomposed: false}
	}

	masked, quoted := shieldQuoted(text)

	if m := conditionalRe.FindStringSubmatch(masked); m != nil {
		negate := strings.TrimSpace(m[3]) != ""
		check := strings.ToLower(m[4])
		// "unless" and the negative states flip the check.
		if strings.EqualFold(m[1], "unless") {
			negate = !negate
		}
		check, flipped := canonicalCheck(check)
		if flipped {
			negate = !negate
		}
		return Result{
			Steps: []SubInstruction{{
				Kind:    KindConditional,
				Text:    restoreQuoted(m[5], quoted),
				Element: restoreQuoted(strings.TrimSpace(m[2]), quoted),
				Check:   check,
				Negate:  negate,
			}},
			WasDecomposed: true,
		}
	}

	if m := loopPrefixRe.FindStringSubmatch(masked); m != nil {
		return loopResult(m[2], m[1], quoted)
	}
	if m := loopSuffixRe.FindStringSubmatch(masked); m != nil {
		// Only a real action reads as "<action> N times".
		if startsWithActionVerb(m[1]) {
			return loopResult(m[1], m[2], quoted)
		}
	}

	if steps, ok := splitConjunction(masked, quoted); ok {
		return Result{Steps: steps, WasDecomposed: true}
	}

	return Result{
		Steps:         []SubInstruction{{Kind: KindPlain, Text: text}},
		WasDecomposed: false,
	}
}

// canonicalCheck maps negative state words onto their positive check plus
// a negation flip.
func canonicalCheck(state string) (string, bool) {
	switch state {
	case "hidden":
		return "visible", true
	case "absent":
		return "present", true
	case "unchecked":
		return "checked", true
	case "disabled":
		return "enabled", true
	default:
		return state, false
	}
}

func loopResult(action, count string, quoted []string) Result {
	n, err := strconv.Atoi(count)
	if err != nil || n < 1 {
		n = 1
	}
	if n > maxLoopCount {
		n = maxLoopCount
	}
	return Result{
		Steps: []SubInstruction{{
			Kind:  KindLoop,
			Text:  restoreQuoted(strings.TrimSpace(action), quoted),
			Count: n,
		}},
		WasDecomposed: true,
	}
}

// splitConjunction splits on sequencing connectives, but only accepts the
// split when every fragment independently looks like an instruction.
func splitConjunction(masked string, quoted []string) ([]SubInstruction, bool) {
	parts := connectiveRe.Split(masked, -1)
	if len(parts) < 2 {
		return nil, false
	}
	steps := make([]SubInstruction, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || !startsWithActionVerb(p) {
			return nil, false
		}
		steps = append(steps, SubInstruction{Kind: KindPlain, Text: restoreQuoted(p, quoted)})
	}
	return steps, true
}

func startsWithActionVerb(fragment string) bool {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(fragment)))
	if len(fields) == 0 {
		return false
	}
	return actionVerbs[strings.Trim(fields[0], ".,!?")]
}

// shieldQuoted replaces quoted substrings with placeholders so connective
// words inside a quoted value can never cause a split there.
func shieldQuoted(text string) (string, []string) {
	var b strings.Builder
	var quoted []string
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\'' && r != '"' {
			b.WriteRune(r)
			continue
		}
		end := -1
		for j := i + 1; j < len(runes); j++ {
			if runes[j] == r {
				end = j
				break
			}
		}
		if end < 0 {
			b.WriteRune(r)
			continue
		}
		quoted = append(quoted, string(runes[i:end+1]))
		b.WriteString("__Q" + strconv.Itoa(len(quoted)-1) + "__")
		i = end
	}
	return b.String(), quoted
}

var shieldRe = regexp.MustCompile(`__Q(\d+)__`)

func restoreQuoted(text string, quoted []string) string {
	return shieldRe.ReplaceAllStringFunc(text, func(m string) string {
		idx, err := strconv.Atoi(shieldRe.FindStringSubmatch(m)[1])
		if err != nil || idx < 0 || idx >= len(quoted) {
			return m
		}
		return quoted[idx]
	})
}
