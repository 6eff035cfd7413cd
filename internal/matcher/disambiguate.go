package matcher

import (
	"context"
	"math"

	"github.com/polzovatel/stepwright/internal/browser"
	"github.com/polzovatel/stepwright/internal/fuzzy"
	"github.com/polzovatel/stepwright/internal/grammar"
)

const (
	// Any disambiguation costs a little confidence; falling through to
	// "first" with no signal at all costs more.
	penaltyDisambiguated = -0.05
	penaltyFallbackFirst = -0.15

	disambiguationScanCap = 10
	anchorMinSimilarity   = 0.6
)

// containerTextScript reads the text of the candidate's enclosing
// section-like container, for descriptor-overlap disambiguation.
const containerTextScript = `(el) => {
	const c = el.closest("section,form,table,fieldset,article,nav,aside,li,tr,[role='dialog'],div[id]");
	return c ? (c.innerText || "").slice(0, 400) : "";
}`

// disambiguateNodes picks one node out of an equally-plausible cluster
// using, in order: a position cue, a relative-to cue, container text
// overlap, then first-with-penalty.
func (m *Matcher) disambiguateNodes(ctx context.Context, page browser.Page, cluster []scoredNode, target grammar.ElementTarget) (scoredNode, float64, error) {
	if target.Position != "" {
		idx := extremumNode(cluster, target.Position)
		return cluster[idx], penaltyDisambiguated, nil
	}

	if target.RelativeTo != "" {
		if ax, ay, ok := m.anchorCenter(ctx, page, target.RelativeTo); ok {
			bestIdx, bestDist := 0, math.MaxFloat64
			for i, c := range cluster {
				cx, cy := c.node.BBox().Center()
				if d := distance(cx, cy, ax, ay); d < bestDist {
					bestIdx, bestDist = i, d
				}
			}
			return cluster[bestIdx], penaltyDisambiguated, nil
		}
	}

	if idx := m.bestContainerOverlap(ctx, page, cluster, target.Descriptors); idx >= 0 {
		return cluster[idx], penaltyDisambiguated, nil
	}

	return cluster[0], penaltyFallbackFirst, nil
}

func extremumNode(cluster []scoredNode, position string) int {
	best := 0
	for i := 1; i < len(cluster); i++ {
		cx, cy := cluster[i].node.BBox().Center()
		bx, by := cluster[best].node.BBox().Center()
		switch position {
		case "top":
			if cy < by {
				best = i
			}
		case "bottom":
			if cy > by {
				best = i
			}
		case "left":
			if cx < bx {
				best = i
			}
		case "right":
			if cx > bx {
				best = i
			}
		}
	}
	return best
}

// anchorCenter locates the "relative to X" anchor through the snapshot
// and returns its center.
func (m *Matcher) anchorCenter(ctx context.Context, page browser.Page, anchor string) (float64, float64, bool) {
	nodes, err := page.Snapshot(ctx)
	if err != nil {
		return 0, 0, false
	}
	bestIdx, bestSim := -1, anchorMinSimilarity
	for i, node := range nodes {
		if sim := fuzzy.Similarity(anchor, node.Name); sim >= bestSim {
			bestIdx, bestSim = i, sim
		}
	}
	if bestIdx < 0 {
		return 0, 0, false
	}
	x, y := nodes[bestIdx].BBox().Center()
	return x, y, true
}

func (m *Matcher) bestContainerOverlap(ctx context.Context, page browser.Page, cluster []scoredNode, descriptors []string) int {
	if len(descriptors) == 0 {
		return -1
	}
	limit := len(cluster)
	if limit > disambiguationScanCap {
		limit = disambiguationScanCap
	}
	bestIdx, bestHits := -1, 0
	for i := 0; i < limit; i++ {
		text := m.containerText(ctx, page.BySelector(cluster[i].node.Selector).First())
		hits := descriptorHits(text, descriptors)
		if hits > bestHits {
			bestIdx, bestHits = i, hits
		}
	}
	return bestIdx
}

// disambiguateLocator is the locator-handle variant of the same policy,
// used by the semantic, free-text and frame strategies.
func (m *Matcher) disambiguateLocator(ctx context.Context, page browser.Page, loc browser.Locator, n int, target grammar.ElementTarget) (browser.Locator, float64) {
	limit := n
	if limit > disambiguationScanCap {
		limit = disambiguationScanCap
	}

	if target.Position != "" {
		if idx := m.extremumLocator(ctx, loc, limit, target.Position); idx >= 0 {
			return loc.Nth(idx), penaltyDisambiguated
		}
	}

	if target.RelativeTo != "" {
		if box, err := page.ByText(target.RelativeTo, false).First().BoundingBox(ctx); err == nil && box != nil {
			ax, ay := box.Center()
			bestIdx, bestDist := -1, math.MaxFloat64
			for i := 0; i < limit; i++ {
				cand, err := loc.Nth(i).BoundingBox(ctx)
				if err != nil || cand == nil {
					continue
				}
				cx, cy := cand.Center()
				if d := distance(cx, cy, ax, ay); d < bestDist {
					bestIdx, bestDist = i, d
				}
			}
			if bestIdx >= 0 {
				return loc.Nth(bestIdx), penaltyDisambiguated
			}
		}
	}

	if len(target.Descriptors) > 0 {
		bestIdx, bestHits := -1, 0
		for i := 0; i < limit; i++ {
			text := m.containerText(ctx, loc.Nth(i))
			if hits := descriptorHits(text, target.Descriptors); hits > bestHits {
				bestIdx, bestHits = i, hits
			}
		}
		if bestIdx >= 0 {
			return loc.Nth(bestIdx), penaltyDisambiguated
		}
	}

	return loc.First(), penaltyFallbackFirst
}

func (m *Matcher) extremumLocator(ctx context.Context, loc browser.Locator, limit int, position string) int {
	bestIdx := -1
	var bestX, bestY float64
	for i := 0; i < limit; i++ {
		box, err := loc.Nth(i).BoundingBox(ctx)
		if err != nil || box == nil {
			continue
		}
		cx, cy := box.Center()
		if bestIdx < 0 {
			bestIdx, bestX, bestY = i, cx, cy
			continue
		}
		switch position {
		case "top":
			if cy < bestY {
				bestIdx, bestX, bestY = i, cx, cy
			}
		case "bottom":
			if cy > bestY {
				bestIdx, bestX, bestY = i, cx, cy
			}
		case "left":
			if cx < bestX {
				bestIdx, bestX, bestY = i, cx, cy
			}
		case "right":
			if cx > bestX {
				bestIdx, bestX, bestY = i, cx, cy
			}
		}
	}
	return bestIdx
}

func (m *Matcher) containerText(ctx context.Context, loc browser.Locator) string {
	val, err := loc.Evaluate(ctx, containerTextScript, nil)
	if err != nil {
		return ""
	}
	text, _ := val.(string)
	return text
}

func descriptorHits(text string, descriptors []string) int {
	if text == "" {
		return 0
	}
	hits := 0
	for _, word := range descriptors {
		if containsFold(text, word) {
			hits++
		}
	}
	return hits
}

func distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x1-x2, y1-y2)
}
