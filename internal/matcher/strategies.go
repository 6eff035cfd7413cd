package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/polzovatel/stepwright/internal/browser"
	"github.com/polzovatel/stepwright/internal/fuzzy"
	"github.com/polzovatel/stepwright/internal/grammar"
)

// Accessibility-tree scoring weights.
const (
	weightRole     = 0.3
	weightName     = 0.4
	weightLabel    = 0.2
	weightPosition = 0.1

	// clusterFactor bounds the top-scoring cluster used for ordinal
	// selection: everything within 80% of the best score.
	clusterFactor = 0.8

	// neutralScore stands in for signals with nothing to compare;
	// position is always neutral here and refined at selection time.
	neutralScore = 0.5

	minAXScore = 0.35
)

var interactiveRoles = map[string]bool{
	"button":     true,
	"link":       true,
	"textbox":    true,
	"searchbox":  true,
	"checkbox":   true,
	"radio":      true,
	"combobox":   true,
	"listbox":    true,
	"option":     true,
	"tab":        true,
	"menuitem":   true,
	"slider":     true,
	"spinbutton": true,
	"switch":     true,
}

type scoredNode struct {
	node  browser.AXNode
	score float64
}

// axTreeStrategy scores every snapshot node against the target and
// picks within the top cluster. Snapshot failures fall through to the
// next strategy rather than aborting resolution.
func (m *Matcher) axTreeStrategy(ctx context.Context, page browser.Page, step *grammar.ParsedStep) (*MatchedElement, error) {
	nodes, err := page.Snapshot(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("snapshot unavailable, skipping ax-tree strategy")
		return nil, nil
	}

	query := step.Target.DescriptorText()
	role := step.Target.ElementType
	var candidates []scoredNode
	for _, node := range nodes {
		score := axScore(node, role, query, step.Target.Descriptors)
		if score >= minAXScore {
			candidates = append(candidates, scoredNode{node: node, score: score})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	best := candidates[0].score
	cluster := candidates[:0:0]
	for _, c := range candidates {
		if c.score >= best*clusterFactor {
			cluster = append(cluster, c)
		}
	}
	// Restore document order inside the cluster so ordinals mean what
	// the user means by "second".
	sort.SliceStable(cluster, func(i, j int) bool {
		if cluster[i].node.Y != cluster[j].node.Y {
			return cluster[i].node.Y < cluster[j].node.Y
		}
		return cluster[i].node.X < cluster[j].node.X
	})

	chosen, penalty, err := m.pickFromCluster(ctx, page, cluster, step.Target)
	if err != nil {
		return nil, err
	}

	return &MatchedElement{
		Locator:      page.BySelector(chosen.node.Selector).First(),
		BroadLocator: page.BySelector(chosen.node.Selector),
		Confidence:   clamp01(chosen.score + penalty),
		Method:       MethodAXTree,
		Description:  fmt.Sprintf("%s %q", chosen.node.Role, chosen.node.Name),
	}, nil
}

func (m *Matcher) pickFromCluster(ctx context.Context, page browser.Page, cluster []scoredNode, target grammar.ElementTarget) (scoredNode, float64, error) {
	switch ord := target.Ordinal; {
	case ord == -1:
		return cluster[len(cluster)-1], 0, nil
	case ord > 0:
		if ord > len(cluster) {
			return scoredNode{}, 0, &OrdinalError{Requested: ord, Available: len(cluster)}
		}
		return cluster[ord-1], 0, nil
	case len(cluster) == 1:
		return cluster[0], 0, nil
	}
	return m.disambiguateNodes(ctx, page, cluster, target)
}

func axScore(node browser.AXNode, role, query string, descriptors []string) float64 {
	var roleScore float64
	switch {
	case role != "" && node.Role == role:
		roleScore = 1.0
	case role == "" && interactiveRoles[node.Role]:
		roleScore = 0.6
	default:
		roleScore = 0.2
	}

	nameScore := neutralScore
	if query != "" {
		switch {
		case strings.EqualFold(node.Name, query):
			nameScore = 1.0
		case containsFold(node.Name, query):
			nameScore = maxf(fuzzy.Similarity(query, node.Name), 0.9)
		default:
			nameScore = fuzzy.Similarity(query, node.Name)
		}
	}

	labelScore := neutralScore
	if len(descriptors) > 0 {
		found := 0
		for _, word := range descriptors {
			if containsFold(node.Name, word) {
				found++
			}
		}
		labelScore = float64(found) / float64(len(descriptors))
	}

	return weightRole*roleScore + weightName*nameScore +
		weightLabel*labelScore + weightPosition*neutralScore
}

// Semantic locator confidences.
const (
	confRoleExact   = 0.9
	confRoleInexact = 0.82
	confLabelExact  = 0.8
	confLabel       = 0.75
	confPlaceholder = 0.72
)

// semanticStrategy tries role-with-name, label, then placeholder
// lookups, each only when the previous found nothing. Selection-style
// intents flip the order: two same-role dropdowns are told apart by
// their labels, so label lookup goes first. Exact name before inexact.
func (m *Matcher) semanticStrategy(ctx context.Context, page browser.Page, step *grammar.ParsedStep) (*MatchedElement, error) {
	name := step.Target.DescriptorText()
	role := step.Target.ElementType

	type attempt struct {
		loc  browser.Locator
		conf float64
		desc string
	}
	var attempts []attempt
	if name != "" {
		labelAttempts := []attempt{
			{page.ByLabel(name, true), confLabelExact, fmt.Sprintf("label %q", name)},
			{page.ByLabel(name, false), confLabel, fmt.Sprintf("label ~%q", name)},
		}
		roleAttempts := []attempt{}
		if role != "" {
			roleAttempts = []attempt{
				{page.ByRole(role, name, true), confRoleExact, fmt.Sprintf("%s %q", role, name)},
				{page.ByRole(role, name, false), confRoleInexact, fmt.Sprintf("%s ~%q", role, name)},
			}
		}
		if step.Intent == grammar.IntentSelect {
			attempts = append(labelAttempts, roleAttempts...)
		} else {
			attempts = append(roleAttempts, labelAttempts...)
		}
		attempts = append(attempts, attempt{page.ByPlaceholder(name), confPlaceholder, fmt.Sprintf("placeholder %q", name)})
	}

	for _, a := range attempts {
		n, err := a.loc.Count(ctx)
		if err != nil || n == 0 {
			continue
		}
		return m.narrow(ctx, page, a.loc, n, step.Target, a.conf, MethodSemantic, a.desc)
	}
	return nil, nil
}

// Free-text confidences decay with match count: a phrase matching many
// nodes is weak evidence.
const (
	confPhrase    = 0.75
	confWord      = 0.65
	confDecayStep = 0.03
	confPhraseMin = 0.45
	confWordMin   = 0.4
	minWordLength = 3
)

func (m *Matcher) freeTextStrategy(ctx context.Context, page browser.Page, step *grammar.ParsedStep) (*MatchedElement, error) {
	phrase := step.Target.DescriptorText()
	if phrase == "" {
		return nil, nil
	}

	loc := page.ByText(phrase, step.Modifiers.Exact)
	if n, err := loc.Count(ctx); err == nil && n > 0 {
		conf := decayConfidence(confPhrase, n, confPhraseMin)
		return m.narrow(ctx, page, loc, n, step.Target, conf, MethodFreeText, fmt.Sprintf("text %q", phrase))
	}

	for _, word := range step.Target.Descriptors {
		if len(word) < minWordLength {
			continue
		}
		loc := page.ByText(word, false)
		n, err := loc.Count(ctx)
		if err != nil || n == 0 {
			continue
		}
		conf := decayConfidence(confWord, n, confWordMin)
		return m.narrow(ctx, page, loc, n, step.Target, conf, MethodFreeText, fmt.Sprintf("text ~%q", word))
	}
	return nil, nil
}

func decayConfidence(base float64, matches int, floor float64) float64 {
	conf := base - confDecayStep*float64(matches-1)
	if conf < floor {
		return floor
	}
	return conf
}

const roleOnlyScanCap = 20

// roleOnlyStrategy is the weakest signal: role without name. A lone
// node is verified against the descriptors; with several same-role
// nodes and no text match, the match is rejected outright instead of
// defaulting to the first.
func (m *Matcher) roleOnlyStrategy(ctx context.Context, page browser.Page, step *grammar.ParsedStep) (*MatchedElement, error) {
	role := step.Target.ElementType
	if role == "" {
		return nil, nil
	}
	loc := page.ByRole(role, "", false)
	n, err := loc.Count(ctx)
	if err != nil || n == 0 {
		return nil, nil
	}

	query := step.Target.DescriptorText()

	if ord := step.Target.Ordinal; ord != 0 && query == "" {
		if ord == -1 {
			return m.roleOnlyResult(loc.Last(), loc, 0.62, fmt.Sprintf("last %s", role)), nil
		}
		if ord > n {
			return nil, &OrdinalError{Requested: ord, Available: n}
		}
		return m.roleOnlyResult(loc.Nth(ord-1), loc, 0.62, fmt.Sprintf("%s #%d", role, ord)), nil
	}

	if n == 1 {
		if query == "" {
			return m.roleOnlyResult(loc.First(), loc, 0.68, fmt.Sprintf("only %s", role)), nil
		}
		text, err := loc.First().Text(ctx)
		if err != nil {
			return nil, nil
		}
		sim := fuzzy.Similarity(query, text)
		if sim < 0.3 {
			return nil, nil
		}
		return m.roleOnlyResult(loc.First(), loc, clamp01(0.4+0.35*sim), fmt.Sprintf("%s %q", role, query)), nil
	}

	if query == "" {
		m.log.Debug().Str("role", role).Int("count", n).Msg("role-only search ambiguous, rejecting")
		return nil, nil
	}
	bestIdx, bestSim := -1, 0.0
	limit := n
	if limit > roleOnlyScanCap {
		limit = roleOnlyScanCap
	}
	for i := 0; i < limit; i++ {
		text, err := loc.Nth(i).Text(ctx)
		if err != nil {
			continue
		}
		if sim := fuzzy.Similarity(query, text); sim >= 0.7 && sim > bestSim {
			bestIdx, bestSim = i, sim
		}
	}
	if bestIdx < 0 {
		m.log.Debug().Str("role", role).Int("count", n).Msg("no role-only candidate text-matched, rejecting")
		return nil, nil
	}
	return m.roleOnlyResult(loc.Nth(bestIdx), loc, clamp01(0.5+0.3*bestSim), fmt.Sprintf("%s %q", role, query)), nil
}

func (m *Matcher) roleOnlyResult(loc, broad browser.Locator, conf float64, desc string) *MatchedElement {
	return &MatchedElement{
		Locator:      loc,
		BroadLocator: broad,
		Confidence:   conf,
		Method:       MethodRoleOnly,
		Description:  desc,
	}
}

const (
	confFrameRole = 0.68
	confFrameText = 0.62
)

// frameStrategy repeats role/label/text search inside each non-top
// sub-document. Engaged only after everything on the main document
// failed.
func (m *Matcher) frameStrategy(ctx context.Context, page browser.Page, step *grammar.ParsedStep) *MatchedElement {
	frames := page.Frames()
	if len(frames) == 0 {
		return nil
	}
	name := step.Target.DescriptorText()
	role := step.Target.ElementType

	for _, frame := range frames {
		type attempt struct {
			loc  browser.Locator
			conf float64
			desc string
		}
		var attempts []attempt
		if role != "" && name != "" {
			attempts = append(attempts, attempt{frame.ByRole(role, name, false), confFrameRole, fmt.Sprintf("frame %s %q", role, name)})
		}
		if name != "" {
			attempts = append(attempts,
				attempt{frame.ByLabel(name, false), confFrameRole, fmt.Sprintf("frame label %q", name)},
				attempt{frame.ByText(name, false), confFrameText, fmt.Sprintf("frame text %q", name)},
			)
		}
		for _, a := range attempts {
			n, err := a.loc.Count(ctx)
			if err != nil || n == 0 {
				continue
			}
			res, err := m.narrow(ctx, page, a.loc, n, step.Target, a.conf, MethodFrame, a.desc)
			if err != nil {
				continue
			}
			return res
		}
	}
	return nil
}

// narrow guarantees the returned locator addresses exactly one node,
// via ordinal selection or disambiguation of a multi-node handle.
func (m *Matcher) narrow(ctx context.Context, page browser.Page, loc browser.Locator, n int, target grammar.ElementTarget, conf float64, method, desc string) (*MatchedElement, error) {
	result := &MatchedElement{
		BroadLocator: loc,
		Confidence:   clamp01(conf),
		Method:       method,
		Description:  desc,
	}
	switch ord := target.Ordinal; {
	case ord == -1:
		result.Locator = loc.Last()
	case ord > 0:
		if ord > n {
			return nil, &OrdinalError{Requested: ord, Available: n}
		}
		result.Locator = loc.Nth(ord - 1)
	case n == 1:
		result.Locator = loc.First()
	default:
		narrowed, penalty := m.disambiguateLocator(ctx, page, loc, n, target)
		result.Locator = narrowed
		result.Confidence = clamp01(conf + penalty)
	}
	return result, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
