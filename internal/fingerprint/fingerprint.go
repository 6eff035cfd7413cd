// Package fingerprint captures a descriptive attribute snapshot of a
// matched element and re-locates it later when the original locator
// stops working. The snapshot is what the element cache persists.
package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/polzovatel/stepwright/internal/browser"
)

// Fingerprint is the attribute snapshot of one element, captured in a
// single script evaluation at successful-match time. Compared during
// self-healing, never mutated.
type Fingerprint struct {
	Tag     string `json:"tag"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Classes string `json:"classes"`
	Type    string `json:"type"`
	Role    string `json:"role"`

	AriaLabel       string `json:"ariaLabel"`
	AriaLabelledBy  string `json:"ariaLabelledby"`
	AriaDescribedBy string `json:"ariaDescribedby"`
	AriaExpanded    string `json:"ariaExpanded"`
	AriaChecked     string `json:"ariaChecked"`
	AriaDisabled    string `json:"ariaDisabled"`

	Title       string `json:"title"`
	Alt         string `json:"alt"`
	Placeholder string `json:"placeholder"`

	Text  string `json:"text"`
	Value string `json:"value"`
	Href  string `json:"href"`
	For   string `json:"for"`

	DataAttrs map[string]string `json:"dataAttrs,omitempty"`

	ParentTag   string `json:"parentTag"`
	ParentID    string `json:"parentId"`
	ParentClass string `json:"parentClass"`

	Siblings []string `json:"siblings,omitempty"`
	Path     string   `json:"path"`

	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Capture reads the element's attributes in one evaluation pass.
func Capture(ctx context.Context, loc browser.Locator) (*Fingerprint, error) {
	val, err := loc.Evaluate(ctx, captureScript, nil)
	if err != nil {
		return nil, fmt.Errorf("capture fingerprint: %w", err)
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("encode fingerprint: %w", err)
	}
	var fp Fingerprint
	if err := json.Unmarshal(raw, &fp); err != nil {
		return nil, fmt.Errorf("decode fingerprint: %w", err)
	}
	return &fp, nil
}

// captureScript runs against a single element node.
const captureScript = `(el) => {
	const attr = (name) => (el.getAttribute(name) || "").trim();

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
		name: attr("name"),
		classes: (el.className && typeof el.className === "string") ? el.className.trim() : "",
		type: attr("type"),
		role: attr("role"),
		ariaLabel: attr("aria-label"),
		ariaLabelledby: attr("aria-labelledby"),
		ariaDescribedby: attr("aria-describedby"),
		ariaExpanded: attr("aria-expanded"),
		ariaChecked: attr("aria-checked"),
		ariaDisabled: attr("aria-disabled"),
		title: attr("title"),
		alt: attr("alt"),
		placeholder: attr("placeholder"),
		text: (el.innerText || el.textContent || "").trim().slice(0, 200),
		value: typeof el.value === "string" ? el.value.slice(0, 120) : "",
		href: attr("href"),
		for: attr("for"),
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
}`
