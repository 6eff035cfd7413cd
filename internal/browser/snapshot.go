package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const snapshotLimit = 300

// Snapshot returns the interactive-element view of the page, collected
// by a single script evaluation. The result is cached per URL for a
// short TTL so one instruction does not re-walk the DOM on every
// strategy attempt.
func (p *pwPage) Snapshot(ctx context.Context) ([]AXNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := p.page.URL()
	if p.snapCache != nil && p.snapCacheURL == url && time.Since(p.snapCacheAt) < p.snapshotTTL {
		return p.snapCache, nil
	}

	val, err := p.page.Evaluate(snapshotScript, snapshotLimit)
	if err != nil {
		return nil, wrap(err)
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	var nodes []AXNode
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	p.snapCache = nodes
	p.snapCacheURL = url
	p.snapCacheAt = time.Now()
	return nodes, nil
}

func (p *pwPage) InvalidateSnapshot() {
	p.snapCache = nil
	p.snapCacheURL = ""
}

// snapshotScript walks visible interactive elements (shadow DOM
// included) and reports role, accessible name, value, state, a stable
// selector and the bounding box for each.
const snapshotScript = `(limit) => {
	const implicitRole = (el) => {
		const tag = el.tagName.toLowerCase();
		switch (tag) {
		case "a": return el.hasAttribute("href") ? "link" : "generic";
		case "button": return "button";
		case "select": return "combobox";
		case "textarea": return "textbox";
		case "img": return "img";
		case "h1": case "h2": case "h3": case "h4": case "h5": case "h6": return "heading";
		case "input": {
			const type = (el.getAttribute("type") || "text").toLowerCase();
			switch (type) {
			case "button": case "submit": case "reset": case "image": return "button";
			case "checkbox": return "checkbox";
			case "radio": return "radio";
			case "range": return "slider";
			case "number": return "spinbutton";
			case "search": return "searchbox";
			default: return "textbox";
			}
		}
		default: return tag;
		}
	};

	const labelText = (el) => {
		if (el.labels && el.labels.length > 0) {
			return (el.labels[0].innerText || "").trim();
		}
		const labelled = el.getAttribute("aria-labelledby");
		if (labelled) {
			const ref = document.getElementById(labelled.split(/\s+/)[0]);
			if (ref) return (ref.innerText || "").trim();
		}
		return "";
	};

	const accessibleName = (el) => {
		const aria = (el.getAttribute("aria-label") || "").trim();
		if (aria) return aria;
		const label = labelText(el);
		if (label) return label;
		const tag = el.tagName.toLowerCase();
		if (tag === "input" || tag === "textarea" || tag === "select") {
			return (el.getAttribute("placeholder") || el.getAttribute("name") || el.getAttribute("title") || "").trim();
		}
		if (tag === "img") {
			return (el.getAttribute("alt") || el.getAttribute("title") || "").trim();
		}
		return (el.innerText || el.textContent || el.value || "").trim().slice(0, 120);
	};

	const segment = (el) => {
		if (el.id) return "#" + CSS.escape(el.id);
		const testId = el.getAttribute("data-testid");
		if (testId) return '[data-testid="' + testId.replace(/"/g, "") + '"]';
		const name = el.getAttribute("name");
		if (name) return el.tagName.toLowerCase() + '[name="' + name.replace(/"/g, "") + '"]';
		const tag = el.tagName.toLowerCase();
		const parent = el.parentElement;
		if (!parent) return tag;
		const siblings = Array.from(parent.children).filter((c) => c.tagName === el.tagName);
		const idx = siblings.indexOf(el) + 1;
		return siblings.length > 1 && idx > 0 ? tag + ":nth-of-type(" + idx + ")" : tag;
	};

	// A bare nth-of-type segment is only unique among siblings; chain the
	// segments up to an id/testid/name anchor or the document root.
	const buildSelector = (el) => {
		const parts = [];
		let cur = el;
		while (cur && cur.nodeType === 1) {
			const seg = segment(cur);
			parts.unshift(seg);
			if (seg.startsWith("#") || seg.startsWith("[") || seg.includes("[name=")) break;
			cur = cur.parentElement;
		}
		return parts.join(" > ");
	};

	const walk = (root, out) => {
		if (!root || out.length >= limit) return;
		let nodes;
		try {
			nodes = root.querySelectorAll("a,button,input,select,textarea,label,h1,h2,h3,h4,h5,h6,[role],[tabindex],[onclick],[data-testid]");
		} catch (e) {
			return;
		}
		for (const el of nodes) {
			if (out.length >= limit) break;
			const rect = el.getBoundingClientRect();
			if (rect.width === 0 && rect.height === 0) continue;
			const role = (el.getAttribute("role") || implicitRole(el)).toLowerCase();
			const name = accessibleName(el);
			if (!name && role === "generic") continue;
			out.push({
				role,
				name,
				value: typeof el.value === "string" ? el.value.slice(0, 120) : "",
				disabled: el.disabled === true || el.getAttribute("aria-disabled") === "true",
				checked: el.checked === true || el.getAttribute("aria-checked") === "true",
				selector: buildSelector(el),
				x: Math.round(rect.x),
				y: Math.round(rect.y),
				width: Math.round(rect.width),
				height: Math.round(rect.height),
			});
			if (el.shadowRoot) walk(el.shadowRoot, out);
		}
	};

	const out = [];
	walk(document, out);
	return out;
}`
