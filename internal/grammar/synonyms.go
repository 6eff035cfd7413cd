package grammar

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// synonymTable maps phrasing variants to the canonical verb/word the rule
// patterns are written against. Substitution is longest-variant-first at
// word boundaries so "go to" is rewritten before "go" ever could be.
var synonymTable = map[string]string{
	"tap":        "click",
	"tap on":     "click",
	"push":       "click",
	"hit":        "click",
	"left click": "click",
	"left-click": "click",
	"write":      "type",
	"key in":     "type",
	"input":      "type",
	"pick":       "select",
	"choose":     "select",
	"opt for":    "select",
	"tick":       "check",
	"untick":     "uncheck",
	"mouse over": "hover",
	"mouseover":  "hover",
	"visit":      "navigate to",
	"browse to":  "navigate to",
	"go to":      "navigate to",
	"refresh":    "reload",
	"ensure":     "verify",
	"confirm":    "verify",
	"assert":     "verify",
	"make sure":  "verify",
	"check that": "verify that",
	"displayed":  "visible",
	"shown":      "visible",
	"invisible":  "hidden",
	"textbox":    "field",
	"text box":   "field",
	"input box":  "field",
	"drop down":  "dropdown",
	"drop-down":  "dropdown",
	"pause":      "wait",
	"pause for":  "wait",
}

var (
	synonymOnce sync.Once
	synonymSubs []synonymSub
)

type synonymSub struct {
	re          *regexp.Regexp
	replacement string
}

// normalizeSynonyms rewrites variants to canonical words, case-insensitive,
// at word boundaries only. Applied as "Pass 2" after verbatim matching so
// verb-specific rules get first crack at the original text.
func normalizeSynonyms(text string) string {
	synonymOnce.Do(func() {
		variants := make([]string, 0, len(synonymTable))
		for v := range synonymTable {
			variants = append(variants, v)
		}
		sort.Slice(variants, func(i, j int) bool {
			if len(variants[i]) != len(variants[j]) {
				return len(variants[i]) > len(variants[j])
			}
			return variants[i] < variants[j]
		})
		for _, v := range variants {
			re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(v) + `\b`)
			synonymSubs = append(synonymSubs, synonymSub{re: re, replacement: synonymTable[v]})
		}
	})
	out := text
	for _, sub := range synonymSubs {
		out = sub.re.ReplaceAllString(out, sub.replacement)
	}
	return out
}

// extractQuoted pulls single/double-quoted substrings out of the
// instruction and replaces each with a positional placeholder so the rule
// patterns are never confused by arbitrary quoted content.
func extractQuoted(text string) (masked string, quoted []string) {
	var b strings.Builder
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
		quoted = append(quoted, string(runes[i+1:end]))
		b.WriteString(placeholder(len(quoted) - 1))
		i = end
	}
	return b.String(), quoted
}

func placeholder(idx int) string {
	return "__QUOTED_" + strconv.Itoa(idx) + "__"
}

var placeholderRe = regexp.MustCompile(`__QUOTED_(\d+)__`)

// resolveQuoted substitutes placeholders back with their original payloads.
func resolveQuoted(text string, quoted []string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx < 0 || idx >= len(quoted) {
			return m
		}
		return quoted[idx]
	})
}
