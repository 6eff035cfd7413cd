package grammar

import (
	"regexp"
	"strconv"
	"strings"
)

// elementTypes maps the trailing noun of a target phrase to an ARIA role
// hint for the resolver.
var elementTypes = map[string]string{
	"button":   "button",
	"link":     "link",
	"field":    "textbox",
	"input":    "textbox",
	"box":      "textbox",
	"area":     "textbox",
	"checkbox": "checkbox",
	"radio":    "radio",
	"dropdown": "combobox",
	"combobox": "combobox",
	"selector": "combobox",
	"tab":      "tab",
	"menu":     "menu",
	"option":   "option",
	"heading":  "heading",
	"header":   "heading",
	"image":    "img",
	"icon":     "img",
	"row":      "row",
	"cell":     "cell",
	"slider":   "slider",
	"toggle":   "switch",
	"switch":   "switch",
	"dialog":   "dialog",
	"modal":    "dialog",
	"popup":    "dialog",
	"table":    "table",
	"list":     "list",
	"item":     "listitem",
	"form":     "form",
	"banner":   "banner",
	"alert":    "alert",
}

var ordinalWords = map[string]int{
	"first":   1,
	"second":  2,
	"third":   3,
	"fourth":  4,
	"fifth":   5,
	"sixth":   6,
	"seventh": 7,
	"eighth":  8,
	"ninth":   9,
	"tenth":   10,
	"last":    -1,
}

var positionWords = map[string]string{
	"top":        "top",
	"topmost":    "top",
	"bottom":     "bottom",
	"bottommost": "bottom",
	"left":       "left",
	"leftmost":   "left",
	"right":      "right",
	"rightmost":  "right",
}

var (
	numericOrdinalRe = regexp.MustCompile(`^(\d+)(?:st|nd|rd|th)$`)
	relationRe       = regexp.MustCompile(`(?i)\s+(near|next to|beside|above|below|to the left of|to the right of|relative to|inside|within|in the)\s+(.+)$`)
)

var relationNames = map[string]string{
	"near":            "near",
	"next to":         "near",
	"beside":          "near",
	"above":           "above",
	"below":           "below",
	"to the left of":  "left-of",
	"to the right of": "right-of",
	"relative to":     "near",
	"inside":          "within",
	"within":          "within",
	"in the":          "within",
}

// parseTarget turns the raw target phrase into an ElementTarget:
// ordinal and position cues are lifted out, a trailing noun becomes the
// element-type hint, and the remaining words become descriptors.
// TargetFromText parses a free-form target phrase outside of rule
// extraction, e.g. a drag destination.
func TargetFromText(raw string) ElementTarget {
	return parseTarget(raw, "")
}

func parseTarget(raw string, typeHint string) ElementTarget {
	target := ElementTarget{RawText: strings.TrimSpace(raw)}

	phrase := target.RawText
	if m := relationRe.FindStringSubmatch(phrase); m != nil {
		target.Relation = relationNames[strings.ToLower(m[1])]
		target.RelativeTo = strings.TrimSpace(stripArticles(m[2]))
		phrase = phrase[:len(phrase)-len(m[0])]
	}

	words := strings.Fields(strings.ToLower(phrase))
	descriptors := make([]string, 0, len(words))
	for _, w := range words {
		trimmed := strings.Trim(w, ".,!?:;")
		switch {
		case trimmed == "the" || trimmed == "a" || trimmed == "an":
		case ordinalWords[trimmed] != 0 && target.Ordinal == 0:
			target.Ordinal = ordinalWords[trimmed]
		case numericOrdinalRe.MatchString(trimmed) && target.Ordinal == 0:
			n, _ := strconv.Atoi(numericOrdinalRe.FindStringSubmatch(trimmed)[1])
			target.Ordinal = n
		case positionWords[trimmed] != "" && target.Position == "":
			target.Position = positionWords[trimmed]
		default:
			if trimmed != "" {
				descriptors = append(descriptors, trimmed)
			}
		}
	}

	if typeHint != "" {
		target.ElementType = typeHint
	}
	// A trailing noun like "button" or "field" is a role hint, not a
	// descriptor.
	if len(descriptors) > 0 {
		if role, ok := elementTypes[descriptors[len(descriptors)-1]]; ok {
			if target.ElementType == "" {
				target.ElementType = role
			}
			descriptors = descriptors[:len(descriptors)-1]
		}
	}
	target.Descriptors = descriptors
	return target
}

func stripArticles(s string) string {
	lower := strings.ToLower(s)
	for _, art := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(lower, art) {
			return s[len(art):]
		}
	}
	return s
}
