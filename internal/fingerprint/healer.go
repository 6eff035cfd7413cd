package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/stepwright/internal/browser"
	"github.com/polzovatel/stepwright/internal/fuzzy"
)

const (
	// DefaultMinScore is the weighted-LCS score a candidate must clear.
	DefaultMinScore = 0.5

	// healConfidenceFactor discounts healed matches: they are inherently
	// less certain than a direct strategy hit.
	healConfidenceFactor = 0.8

	maxCandidates = 50
)

// Match is a healed element: the locator of the best-scoring candidate
// with an already-discounted confidence.
type Match struct {
	Locator     browser.Locator
	Confidence  float64
	Score       float64
	Description string
}

// Healer re-locates a previously-fingerprinted element after the page
// changed under it.
type Healer struct {
	minScore float64
	log      zerolog.Logger
}

func NewHealer(log zerolog.Logger, minScore float64) *Healer {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Healer{
		minScore: minScore,
		log:      log.With().Str("comp", "healer").Logger(),
	}
}

// SelfHeal gathers same-tag and interactive candidates, scores each
// against the stored fingerprint and returns the best one above the
// minimum score, or nil when nothing clears it.
func (h *Healer) SelfHeal(ctx context.Context, page browser.Page, fp *Fingerprint) (*Match, error) {
	if fp == nil {
		return nil, fmt.Errorf("self-heal: nil fingerprint")
	}
	candidates, err := h.collect(ctx, page, fp.Tag)
	if err != nil {
		return nil, err
	}

	best := -1
	bestScore := 0.0
	for i := range candidates {
		score := Score(fp, &candidates[i].Fingerprint)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 || bestScore < h.minScore {
		h.log.Debug().
			Int("candidates", len(candidates)).
			Float64("best", bestScore).
			Msg("self-heal found no candidate above threshold")
		return nil, nil
	}

	winner := candidates[best]
	h.log.Info().
		Str("selector", winner.Selector).
		Float64("score", bestScore).
		Msg("self-healed element")
	return &Match{
		Locator:     page.BySelector(winner.Selector),
		Confidence:  bestScore * healConfidenceFactor,
		Score:       bestScore,
		Description: describeCandidate(&winner.Fingerprint),
	}, nil
}

type candidate struct {
	Fingerprint
	Selector string `json:"selector"`
}

func (h *Healer) collect(ctx context.Context, page browser.Page, tag string) ([]candidate, error) {
	val, err := page.Evaluate(ctx, candidateScript, map[string]any{
		"tag":   strings.ToLower(strings.TrimSpace(tag)),
		"limit": maxCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("collect heal candidates: %w", err)
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("encode heal candidates: %w", err)
	}
	var out []candidate
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode heal candidates: %w", err)
	}
	return out, nil
}

func describeCandidate(fp *Fingerprint) string {
	switch {
	case fp.Text != "":
		return fmt.Sprintf("%s %q", fp.Tag, truncate(fp.Text, 40))
	case fp.AriaLabel != "":
		return fmt.Sprintf("%s labeled %q", fp.Tag, fp.AriaLabel)
	case fp.ID != "":
		return fmt.Sprintf("%s#%s", fp.Tag, fp.ID)
	default:
		return fp.Tag
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// attrWeights fixes the reliability of each fingerprint attribute: what
// the element says about itself (text, labels, identity) outweighs
// where it happens to sit on the screen.
var attrWeights = struct {
	text, ariaLabel, id, name, placeholder, path, title, value,
	href, alt, classes, dataAttrs, siblings, htmlFor, role, attrType,
	parentID, parentTag, parentClass, tag, position, size float64
}{
	text:        10,
	ariaLabel:   8,
	id:          8,
	name:        7,
	placeholder: 6,
	path:        5,
	title:       5,
	value:       5,
	href:        4,
	alt:         4,
	classes:     4,
	dataAttrs:   4,
	siblings:    3,
	htmlFor:     3,
	role:        3,
	attrType:    3,
	parentID:    3,
	parentTag:   2,
	parentClass: 2,
	tag:         2,
	position:    1,
	size:        1,
}

// Score compares two fingerprints with weighted LCS. Only attributes
// present on both sides count; the result is normalized to [0,1].
func Score(stored, live *Fingerprint) float64 {
	var total, max float64

	add := func(weight float64, a, b string) {
		if a == "" || b == "" {
			return
		}
		max += weight
		total += weight * stringSimilarity(a, b)
	}
	addNum := func(weight float64, a, b float64) {
		if a == 0 && b == 0 {
			return
		}
		max += weight
		total += weight * proximity(a, b)
	}

	w := attrWeights
	add(w.text, stored.Text, live.Text)
	add(w.ariaLabel, stored.AriaLabel, live.AriaLabel)
	add(w.id, stored.ID, live.ID)
	add(w.name, stored.Name, live.Name)
	add(w.placeholder, stored.Placeholder, live.Placeholder)
	add(w.path, stored.Path, live.Path)
	add(w.title, stored.Title, live.Title)
	add(w.value, stored.Value, live.Value)
	add(w.href, stored.Href, live.Href)
	add(w.alt, stored.Alt, live.Alt)
	add(w.classes, stored.Classes, live.Classes)
	add(w.dataAttrs, joinDataAttrs(stored.DataAttrs), joinDataAttrs(live.DataAttrs))
	add(w.siblings, strings.Join(stored.Siblings, "|"), strings.Join(live.Siblings, "|"))
	add(w.htmlFor, stored.For, live.For)
	add(w.role, stored.Role, live.Role)
	add(w.attrType, stored.Type, live.Type)
	add(w.parentID, stored.ParentID, live.ParentID)
	add(w.parentTag, stored.ParentTag, live.ParentTag)
	add(w.parentClass, stored.ParentClass, live.ParentClass)
	add(w.tag, stored.Tag, live.Tag)
	addNum(w.position, stored.X+stored.Y, live.X+live.Y)
	addNum(w.size, stored.Width+stored.Height, live.Width+live.Height)

	if max == 0 {
		return 0
	}
	return total / max
}

func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la == lb {
		return 1.0
	}
	longest := len(la)
	if len(lb) > longest {
		longest = len(lb)
	}
	if longest == 0 {
		return 0
	}
	return float64(fuzzy.LCSLength(la, lb)) / float64(longest)
}

func proximity(a, b float64) float64 {
	if a == b {
		return 1.0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	denom := a
	if b > denom {
		denom = b
	}
	if denom < 1 {
		denom = 1
	}
	ratio := 1 - diff/denom
	if ratio < 0 {
		return 0
	}
	return ratio
}

func joinDataAttrs(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
		b.WriteByte(';')
	}
	return b.String()
}

// candidateScript gathers up to limit candidate nodes (same tag first,
// then other interactive elements) and fingerprints each together with
// a structural selector that uniquely addresses it.
const candidateScript = `({ tag, limit }) => {
	const attr = (el, name) => (el.getAttribute(name) || "").trim();

	const describe = (el) => {
		const dataAttrs = {};
		let dataCount = 0;
		for (const a of el.attributes) {
			if (!a.name.startsWith("data-")) continue;
			dataAttrs[a.name] = a.value.slice(0, 80);
			if (++dataCount >= 10) break;
		}
		const siblings = [];
		if (el.parentElement) {
			for (const sib of el.parentElement.children) {
				if (sib === el) continue;
				const text = (sib.innerText || sib.textContent || "").trim().slice(0, 60);
				if (text) siblings.push(text);
				if (siblings.length >= 3) break;
			}
		}
		const path = [];
		let node = el;
		while (node && node.tagName && path.length < 15) {
			let part = node.tagName.toLowerCase();
			if (node.id) part += "#" + node.id;
			path.unshift(part);
			node = node.parentElement;
		}
		const rect = el.getBoundingClientRect();
		const parent = el.parentElement;
		return {
			tag: el.tagName.toLowerCase(),
			id: el.id || "",
			name: attr(el, "name"),
			classes: typeof el.className === "string" ? el.className.trim() : "",
			type: attr(el, "type"),
			role: attr(el, "role"),
			ariaLabel: attr(el, "aria-label"),
			ariaLabelledby: attr(el, "aria-labelledby"),
			ariaDescribedby: attr(el, "aria-describedby"),
			ariaExpanded: attr(el, "aria-expanded"),
			ariaChecked: attr(el, "aria-checked"),
			ariaDisabled: attr(el, "aria-disabled"),
			title: attr(el, "title"),
			alt: attr(el, "alt"),
			placeholder: attr(el, "placeholder"),
			text: (el.innerText || el.textContent || "").trim().slice(0, 200),
			value: typeof el.value === "string" ? el.value.slice(0, 120) : "",
			href: attr(el, "href"),
			for: attr(el, "for"),
			dataAttrs,
			parentTag: parent ? parent.tagName.toLowerCase() : "",
			parentId: parent ? (parent.id || "") : "",
			parentClass: (parent && typeof parent.className === "string") ? parent.className.trim() : "",
			siblings,
			path: path.join(">"),
			x: Math.round(rect.x),
			y: Math.round(rect.y),
			width: Math.round(rect.width),
			height: Math.round(rect.height),
		};
	};

	const structuralSelector = (el) => {
		if (el.id) return "#" + CSS.escape(el.id);
		const parts = [];
		let node = el;
		while (node && node.tagName && node.tagName.toLowerCase() !== "html") {
			const nodeTag = node.tagName.toLowerCase();
			if (node.id) {
				parts.unshift("#" + CSS.escape(node.id));
				break;
			}
			const parent = node.parentElement;
			if (!parent) {
				parts.unshift(nodeTag);
				break;
			}
			const siblings = Array.from(parent.children).filter((c) => c.tagName === node.tagName);
			const idx = siblings.indexOf(node) + 1;
			parts.unshift(nodeTag + ":nth-of-type(" + idx + ")");
			node = parent;
		}
		return parts.join(" > ");
	};

	const seen = new Set();
	const out = [];
	const grab = (selector) => {
		let nodes;
		try {
			nodes = document.querySelectorAll(selector);
		} catch (e) {
			return;
		}
		for (const el of nodes) {
			if (out.length >= limit) return;
			if (seen.has(el)) continue;
			seen.add(el);
			const rect = el.getBoundingClientRect();
			if (rect.width === 0 && rect.height === 0) continue;
			const fp = describe(el);
			fp.selector = structuralSelector(el);
			out.push(fp);
		}
	};

	if (tag) grab(tag);
	grab("a,button,input,select,textarea,[role],[onclick],[data-testid]");
	return out;
}`
