package matcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/stepwright/internal/browser/browsertest"
	"github.com/polzovatel/stepwright/internal/cache"
	"github.com/polzovatel/stepwright/internal/fingerprint"
	"github.com/polzovatel/stepwright/internal/grammar"
)

func newMatcher(opts ...Option) *Matcher {
	return New(zerolog.Nop(), opts...)
}

func actionStep(intent string, target grammar.ElementTarget) *grammar.ParsedStep {
	return &grammar.ParsedStep{
		Category: grammar.CategoryAction,
		Intent:   intent,
		Target:   target,
		RawText:  "test step: " + target.RawText,
	}
}

func checkoutPage() *browsertest.Page {
	return &browsertest.Page{
		URLValue: "https://shop.example.com/checkout",
		Nodes: []*browsertest.Node{
			{Role: "button", Name: "Submit", Text: "Submit", Selector: "#submit", X: 100, Y: 400, W: 120, H: 40},
			{Role: "button", Name: "Cancel", Text: "Cancel", Selector: "#cancel", X: 240, Y: 400, W: 120, H: 40},
			{Role: "textbox", Name: "Email", Label: "Email", Placeholder: "you@example.com", Selector: "#email", X: 100, Y: 100, W: 300, H: 30},
		},
	}
}

func TestFindSubmitButtonViaAXTree(t *testing.T) {
	m := newMatcher()
	page := checkoutPage()
	step := actionStep(grammar.IntentClick, grammar.ElementTarget{
		ElementType: "button",
		Descriptors: []string{"submit"},
		RawText:     "submit button",
	})

	match, err := m.Find(context.Background(), page, step)
	require.NoError(t, err)
	assert.Equal(t, MethodAXTree, match.Method)
	assert.GreaterOrEqual(t, match.Confidence, 0.8)
	assert.LessOrEqual(t, match.Confidence, 1.0)

	require.NoError(t, match.Locator.Click(context.Background(), false))
	require.Len(t, page.Actions, 1)
	assert.Equal(t, "#submit", page.Actions[0].Selector)
}

func TestTwoSaveButtonsFallbackFirstWithPenalty(t *testing.T) {
	m := newMatcher()
	page := &browsertest.Page{
		URLValue: "https://shop.example.com/settings",
		Nodes: []*browsertest.Node{
			{Role: "button", Name: "Save", Selector: "#save-a", X: 100, Y: 100, W: 80, H: 30},
			{Role: "button", Name: "Save", Selector: "#save-b", X: 100, Y: 500, W: 80, H: 30},
		},
	}
	target := grammar.ElementTarget{ElementType: "button", Descriptors: []string{"save"}, RawText: "save button"}

	match, err := m.Find(context.Background(), page, actionStep(grammar.IntentClick, target))
	require.NoError(t, err)
	// Undisambiguated fallback to the first candidate costs confidence.
	assert.InDelta(t, 0.95+penaltyFallbackFirst, match.Confidence, 1e-9)

	require.NoError(t, match.Locator.Click(context.Background(), false))
	assert.Equal(t, "#save-a", page.Actions[0].Selector)
}

func TestOrdinalSelectsDeterministically(t *testing.T) {
	m := newMatcher()
	page := &browsertest.Page{
		URLValue: "https://shop.example.com/settings",
		Nodes: []*browsertest.Node{
			{Role: "button", Name: "Save", Selector: "#save-a", X: 100, Y: 100, W: 80, H: 30},
			{Role: "button", Name: "Save", Selector: "#save-b", X: 100, Y: 500, W: 80, H: 30},
		},
	}
	target := grammar.ElementTarget{ElementType: "button", Descriptors: []string{"save"}, Ordinal: 2, RawText: "second save button"}

	match, err := m.Find(context.Background(), page, actionStep(grammar.IntentClick, target))
	require.NoError(t, err)
	require.NoError(t, match.Locator.Click(context.Background(), false))
	assert.Equal(t, "#save-b", page.Actions[0].Selector)
}

func TestOrdinalBeyondClusterHardFails(t *testing.T) {
	m := newMatcher()
	page := checkoutPage()
	target := grammar.ElementTarget{ElementType: "button", Descriptors: []string{"submit"}, Ordinal: 5, RawText: "fifth submit button"}

	_, err := m.Find(context.Background(), page, actionStep(grammar.IntentClick, target))
	var ordErr *OrdinalError
	require.ErrorAs(t, err, &ordErr)
	assert.Equal(t, 5, ordErr.Requested)
	assert.Equal(t, 1, ordErr.Available)
}

func TestPositionCueDisambiguates(t *testing.T) {
	m := newMatcher()
	page := &browsertest.Page{
		URLValue: "https://shop.example.com/settings",
		Nodes: []*browsertest.Node{
			{Role: "button", Name: "Save", Selector: "#save-a", X: 100, Y: 500, W: 80, H: 30},
			{Role: "button", Name: "Save", Selector: "#save-b", X: 100, Y: 100, W: 80, H: 30},
		},
	}
	target := grammar.ElementTarget{ElementType: "button", Descriptors: []string{"save"}, Position: "top", RawText: "top save button"}

	match, err := m.Find(context.Background(), page, actionStep(grammar.IntentClick, target))
	require.NoError(t, err)
	assert.InDelta(t, 0.95+penaltyDisambiguated, match.Confidence, 1e-9)

	require.NoError(t, match.Locator.Click(context.Background(), false))
	assert.Equal(t, "#save-b", page.Actions[0].Selector)
}

func TestRelativeCuePicksNearestCandidate(t *testing.T) {
	m := newMatcher()
	page := &browsertest.Page{
		URLValue: "https://shop.example.com/users",
		Nodes: []*browsertest.Node{
			{Role: "button", Name: "Delete", Selector: "#del-a", X: 400, Y: 100, W: 60, H: 24},
			{Role: "button", Name: "Delete", Selector: "#del-b", X: 400, Y: 300, W: 60, H: 24},
			{Role: "cell", Name: "Alice", Text: "Alice", Selector: "#row-alice", X: 100, Y: 300, W: 80, H: 24},
		},
	}
	target := grammar.ElementTarget{
		ElementType: "button",
		Descriptors: []string{"delete"},
		RelativeTo:  "Alice",
		Relation:    "near",
		RawText:     "delete button near Alice",
	}

	match, err := m.Find(context.Background(), page, actionStep(grammar.IntentClick, target))
	require.NoError(t, err)
	require.NoError(t, match.Locator.Click(context.Background(), false))
	assert.Equal(t, "#del-b", page.Actions[0].Selector)
}

func TestSemanticFallbackWhenSnapshotFails(t *testing.T) {
	m := newMatcher()
	page := checkoutPage()
	page.SnapshotErr = errors.New("snapshot unavailable")
	target := grammar.ElementTarget{ElementType: "textbox", Descriptors: []string{"email"}, RawText: "email field"}

	match, err := m.Find(context.Background(), page, actionStep(grammar.IntentFill, target))
	require.NoError(t, err)
	assert.Equal(t, MethodSemantic, match.Method)
	assert.InDelta(t, confRoleExact, match.Confidence, 1e-9)
}

func TestSelectIntentPrefersLabelOverRole(t *testing.T) {
	m := newMatcher()
	page := &browsertest.Page{
		URLValue:    "https://shop.example.com/checkout",
		SnapshotErr: errors.New("snapshot unavailable"),
		Nodes: []*browsertest.Node{
			{Role: "combobox", Name: "Choose", Label: "Country", Selector: "#country"},
			{Role: "combobox", Name: "Choose", Label: "Currency", Selector: "#currency"},
		},
	}
	target := grammar.ElementTarget{ElementType: "combobox", Descriptors: []string{"currency"}, RawText: "currency dropdown"}

	match, err := m.Find(context.Background(), page, actionStep(grammar.IntentSelect, target))
	require.NoError(t, err)
	assert.Equal(t, MethodSemantic, match.Method)

	require.NoError(t, match.Locator.SelectOption(context.Background(), "EUR"))
	assert.Equal(t, "#currency", page.Actions[0].Selector)
}

func TestFreeTextStrategy(t *testing.T) {
	m := newMatcher()
	page := &browsertest.Page{
		URLValue: "https://shop.example.com/",
		Nodes: []*browsertest.Node{
			{Role: "", Text: "Welcome aboard", Selector: "#hero"},
		},
	}
	target := grammar.ElementTarget{Descriptors: []string{"welcome"}, RawText: "welcome"}

	match, err := m.Find(context.Background(), page, actionStep(grammar.IntentClick, target))
	require.NoError(t, err)
	assert.Equal(t, MethodFreeText, match.Method)
}

func TestRoleOnlyRejectsAmbiguousMatches(t *testing.T) {
	m := newMatcher()
	page := &browsertest.Page{
		URLValue: "https://shop.example.com/",
		Nodes: []*browsertest.Node{
			{Role: "button", Selector: "#a"},
			{Role: "button", Selector: "#b"},
		},
	}
	target := grammar.ElementTarget{ElementType: "button", Descriptors: []string{"xyzzy"}, RawText: "xyzzy button"}

	_, err := m.Find(context.Background(), page, actionStep(grammar.IntentClick, target))
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestFrameSearchIsLastResort(t *testing.T) {
	m := newMatcher()
	inner := &browsertest.Page{
		Nodes: []*browsertest.Node{
			{Role: "button", Name: "Pay", Selector: "#pay", X: 10, Y: 10, W: 80, H: 30},
		},
	}
	page := &browsertest.Page{
		URLValue:  "https://shop.example.com/checkout",
		SubFrames: []*browsertest.Frame{{URLValue: "https://pay.example.com/widget", Inner: inner}},
	}
	target := grammar.ElementTarget{ElementType: "button", Descriptors: []string{"pay"}, RawText: "pay button"}

	match, err := m.Find(context.Background(), page, actionStep(grammar.IntentClick, target))
	require.NoError(t, err)
	assert.Equal(t, MethodFrame, match.Method)

	require.NoError(t, match.Locator.Click(context.Background(), false))
	assert.Equal(t, "#pay", inner.Actions[0].Selector)
}

func TestCountIntentKeepsBroadLocator(t *testing.T) {
	m := newMatcher()
	page := &browsertest.Page{
		URLValue: "https://shop.example.com/cart",
		Nodes: []*browsertest.Node{
			{Role: "listitem", Name: "Item one", Text: "Item one", Selector: "#i1"},
			{Role: "listitem", Name: "Item two", Text: "Item two", Selector: "#i2"},
			{Role: "listitem", Name: "Item three", Text: "Item three", Selector: "#i3"},
		},
	}
	step := &grammar.ParsedStep{
		Category: grammar.CategoryQuery,
		Intent:   grammar.IntentGetCount,
		Target:   grammar.ElementTarget{ElementType: "listitem", Descriptors: []string{"item"}, RawText: "item elements"},
		RawText:  "count the item elements",
	}

	match, err := m.Find(context.Background(), page, step)
	require.NoError(t, err)
	require.NotNil(t, match.BroadLocator)
	n, err := match.BroadLocator.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCacheHitShortCircuitsCascade(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "elements.json"), zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	m := newMatcher(
		WithCache(store),
		WithHealer(fingerprint.NewHealer(zerolog.Nop(), 0)),
	)
	page := checkoutPage()
	// Heal candidates come back from the page-level script evaluation.
	page.EvalResult = []any{map[string]any{
		"tag":      "button",
		"text":     "Submit",
		"selector": "#submit",
	}}

	step := actionStep(grammar.IntentClick, grammar.ElementTarget{
		ElementType: "button",
		Descriptors: []string{"submit"},
		RawText:     "submit button",
	})
	store.Put(page.URL(), step.RawText, MethodAXTree, `button "Submit"`, 0.95,
		&fingerprint.Fingerprint{Tag: "button", Text: "Submit"})

	match, err := m.Find(context.Background(), page, step)
	require.NoError(t, err)
	assert.Equal(t, MethodCached, match.Method)
	assert.InDelta(t, 0.8, match.Confidence, 1e-9)
	assert.Zero(t, page.SnapshotCalls, "cache hit must not take a snapshot")
}

func TestConfidenceAlwaysInBounds(t *testing.T) {
	m := newMatcher()
	page := checkoutPage()
	targets := []grammar.ElementTarget{
		{ElementType: "button", Descriptors: []string{"submit"}, RawText: "submit button"},
		{ElementType: "textbox", Descriptors: []string{"email"}, RawText: "email field"},
		{Descriptors: []string{"cancel"}, RawText: "cancel"},
	}
	for _, target := range targets {
		match, err := m.Find(context.Background(), page, actionStep(grammar.IntentClick, target))
		require.NoError(t, err, target.RawText)
		assert.GreaterOrEqual(t, match.Confidence, 0.0)
		assert.LessOrEqual(t, match.Confidence, 1.0)
	}
}
