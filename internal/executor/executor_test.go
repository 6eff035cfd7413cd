package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/stepwright/internal/browser/browsertest"
	"github.com/polzovatel/stepwright/internal/cache"
	"github.com/polzovatel/stepwright/internal/fingerprint"
	"github.com/polzovatel/stepwright/internal/grammar"
	"github.com/polzovatel/stepwright/internal/matcher"
)

func newExecutor(opts ...Option) *Executor {
	opts = append(opts,
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithAssertTimeout(0),
	)
	return New(matcher.New(zerolog.Nop()), zerolog.Nop(), opts...)
}

func step(category grammar.Category, intent string, target grammar.ElementTarget, params map[string]string) *grammar.ParsedStep {
	if params == nil {
		params = map[string]string{}
	}
	return &grammar.ParsedStep{
		Category:   category,
		Intent:     intent,
		Target:     target,
		Parameters: params,
		RawText:    intent + " " + target.RawText,
	}
}

func loginPage() *browsertest.Page {
	return &browsertest.Page{
		URLValue:   "https://app.example.com/login",
		TitleValue: "Sign in",
		Nodes: []*browsertest.Node{
			{Role: "textbox", Name: "Email", Label: "Email", Selector: "#email", X: 10, Y: 10, W: 200, H: 30},
			{Role: "button", Name: "Log in", Text: "Log in", Selector: "#login", X: 10, Y: 60, W: 100, H: 30},
			{Role: "checkbox", Name: "Remember me", Selector: "#remember", X: 10, Y: 100, W: 20, H: 20},
		},
	}
}

func TestClickAction(t *testing.T) {
	ex := newExecutor()
	page := loginPage()
	s := step(grammar.CategoryAction, grammar.IntentClick,
		grammar.ElementTarget{ElementType: "button", Descriptors: []string{"log", "in"}, RawText: "log in button"}, nil)

	val, err := ex.Execute(context.Background(), page, s)
	require.NoError(t, err)
	assert.Nil(t, val, "actions return no value")

	require.NotEmpty(t, page.Actions)
	assert.Equal(t, "click", page.Actions[0].Op)
	assert.Equal(t, "#login", page.Actions[0].Selector)
	assert.Positive(t, page.InvalidateCalls, "clicks invalidate the snapshot")
}

func TestFillUsesValueParameter(t *testing.T) {
	ex := newExecutor()
	page := loginPage()
	s := step(grammar.CategoryAction, grammar.IntentFill,
		grammar.ElementTarget{ElementType: "textbox", Descriptors: []string{"email"}, RawText: "email field"},
		map[string]string{"value": "a@b.com"})

	_, err := ex.Execute(context.Background(), page, s)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", page.Nodes[0].Value)
}

func TestAssertVisibleReturnsTrue(t *testing.T) {
	ex := newExecutor()
	page := loginPage()
	s := step(grammar.CategoryAssertion, grammar.IntentAssertVisible,
		grammar.ElementTarget{ElementType: "button", Descriptors: []string{"log", "in"}, RawText: "log in button"}, nil)

	val, err := ex.Execute(context.Background(), page, s)
	require.NoError(t, err)
	assert.Equal(t, true, val)
}

func TestAbsenceIsPass(t *testing.T) {
	ex := newExecutor()
	page := loginPage()
	s := step(grammar.CategoryAssertion, grammar.IntentAssertHidden,
		grammar.ElementTarget{Descriptors: []string{"error", "banner"}, RawText: "error banner"}, nil)

	val, err := ex.Execute(context.Background(), page, s)
	require.NoError(t, err)
	assert.Equal(t, true, val, "asserting absence of a missing element passes")
}

func TestAssertNotPresentFailsWhenElementExists(t *testing.T) {
	ex := newExecutor()
	page := loginPage()
	s := step(grammar.CategoryAssertion, grammar.IntentAssertNotPresent,
		grammar.ElementTarget{ElementType: "button", Descriptors: []string{"log", "in"}, RawText: "log in button"}, nil)

	_, err := ex.Execute(context.Background(), page, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still present")
}

func TestAssertTextEqualsMismatchSurfacesBothSides(t *testing.T) {
	ex := newExecutor()
	page := loginPage()
	s := step(grammar.CategoryAssertion, grammar.IntentAssertTextEquals,
		grammar.ElementTarget{ElementType: "button", Descriptors: []string{"log", "in"}, RawText: "log in button"},
		map[string]string{"expected": "Sign in"})

	_, err := ex.Execute(context.Background(), page, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Sign in"`)
	assert.Contains(t, err.Error(), `"Log in"`)
}

func TestRecoveryScrollIntoViewAndRetry(t *testing.T) {
	ex := newExecutor()
	page := loginPage()
	page.Nodes[1].FailActions = map[string]int{"click": 1}
	s := step(grammar.CategoryAction, grammar.IntentClick,
		grammar.ElementTarget{ElementType: "button", Descriptors: []string{"log", "in"}, RawText: "log in button"}, nil)

	_, err := ex.Execute(context.Background(), page, s)
	require.NoError(t, err)

	ops := make([]string, 0, len(page.Actions))
	for _, a := range page.Actions {
		ops = append(ops, a.Op)
	}
	assert.Equal(t, []string{"scrollIntoView", "click"}, ops)
}

func TestRecoveryFallsBackToAlternative(t *testing.T) {
	ex := newExecutor()
	page := loginPage()
	page.Nodes[1].FailActions = map[string]int{"click": 10, "scrollIntoView": 10}
	match := &matcher.MatchedElement{
		Locator:     page.BySelector("#login").First(),
		Confidence:  0.9,
		Method:      matcher.MethodAXTree,
		Description: "flaky button",
		Alternatives: []matcher.Alternative{
			{Locator: page.BySelector("#remember").First(), Confidence: 0.5, Method: matcher.MethodFreeText},
			{Locator: page.BySelector("#email").First(), Confidence: 0.6, Method: matcher.MethodSemantic},
		},
	}
	s := step(grammar.CategoryAction, grammar.IntentClick,
		grammar.ElementTarget{ElementType: "button", RawText: "log in button"}, nil)

	_, err := ex.performWithRecovery(context.Background(), page, s, match)
	require.NoError(t, err)

	// The higher-confidence alternative is tried first.
	last := page.Actions[len(page.Actions)-1]
	assert.Equal(t, "click", last.Op)
	assert.Equal(t, "#email", last.Selector)
}

func TestExecutionFailureCarriesContextAndScreenshot(t *testing.T) {
	dir := t.TempDir()
	ex := newExecutor(WithScreenshotDir(dir))
	page := loginPage()
	page.Nodes[1].FailActions = map[string]int{"click": 10, "scrollIntoView": 10}
	s := step(grammar.CategoryAction, grammar.IntentClick,
		grammar.ElementTarget{ElementType: "button", Descriptors: []string{"log", "in"}, RawText: "log in button"}, nil)

	_, err := ex.Execute(context.Background(), page, s)
	require.Error(t, err)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, s.RawText, execErr.Instruction)
	assert.Equal(t, matcher.MethodAXTree, execErr.Method)
	assert.Greater(t, execErr.Confidence, 0.0)

	require.Len(t, page.Screenshots, 1)
	assert.Equal(t, dir, filepath.Dir(page.Screenshots[0]))
}

func TestResolutionFailureIsWrapped(t *testing.T) {
	ex := newExecutor()
	page := loginPage()
	s := step(grammar.CategoryAction, grammar.IntentClick,
		grammar.ElementTarget{Descriptors: []string{"nonexistent"}, RawText: "nonexistent widget"}, nil)

	_, err := ex.Execute(context.Background(), page, s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, matcher.ErrElementNotFound))
}

func TestQueryGetText(t *testing.T) {
	ex := newExecutor()
	page := loginPage()
	s := step(grammar.CategoryQuery, grammar.IntentGetText,
		grammar.ElementTarget{ElementType: "button", Descriptors: []string{"log", "in"}, RawText: "log in button"}, nil)

	val, err := ex.Execute(context.Background(), page, s)
	require.NoError(t, err)
	assert.Equal(t, "Log in", val)
}

func TestQueryGetCount(t *testing.T) {
	ex := newExecutor()
	page := &browsertest.Page{
		URLValue: "https://app.example.com/cart",
		Nodes: []*browsertest.Node{
			{Role: "row", Name: "Row one", Text: "Row one", Selector: "#r1"},
			{Role: "row", Name: "Row two", Text: "Row two", Selector: "#r2"},
		},
	}
	s := step(grammar.CategoryQuery, grammar.IntentGetCount,
		grammar.ElementTarget{ElementType: "row", Descriptors: []string{"row"}, RawText: "rows"}, nil)

	val, err := ex.Execute(context.Background(), page, s)
	require.NoError(t, err)
	assert.Equal(t, 2, val)
}

func TestPageLevelIntents(t *testing.T) {
	ex := newExecutor()
	page := loginPage()

	_, err := ex.Execute(context.Background(), page,
		step(grammar.CategoryAction, grammar.IntentNavigate, grammar.ElementTarget{}, map[string]string{"url": "https://app.example.com/home"}))
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/home", page.URL())

	_, err = ex.Execute(context.Background(), page,
		step(grammar.CategoryAction, grammar.IntentPressKey, grammar.ElementTarget{}, map[string]string{"key": "Enter"}))
	require.NoError(t, err)

	val, err := ex.Execute(context.Background(), page,
		step(grammar.CategoryQuery, grammar.IntentGetTitle, grammar.ElementTarget{}, nil))
	require.NoError(t, err)
	assert.Equal(t, "Sign in", val)

	val, err = ex.Execute(context.Background(), page,
		step(grammar.CategoryAssertion, grammar.IntentAssertTitle, grammar.ElementTarget{}, map[string]string{"expected": "Sign in"}))
	require.NoError(t, err)
	assert.Equal(t, true, val)

	_, err = ex.Execute(context.Background(), page,
		step(grammar.CategoryAssertion, grammar.IntentAssertURL, grammar.ElementTarget{}, map[string]string{"expected": "/home", "mode": "contains"}))
	require.NoError(t, err)
}

func TestWaitDurationParsing(t *testing.T) {
	d, err := waitDuration(map[string]string{"duration": "3", "unit": "seconds"})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = waitDuration(map[string]string{"duration": "250", "unit": "ms"})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = waitDuration(map[string]string{"duration": "soon"})
	assert.Error(t, err)
}

func TestSuccessfulStepIsLearned(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "elements.json"), zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	ex := newExecutor(WithCache(store))
	page := loginPage()
	s := step(grammar.CategoryAction, grammar.IntentClick,
		grammar.ElementTarget{ElementType: "button", Descriptors: []string{"log", "in"}, RawText: "log in button"}, nil)

	_, err = ex.Execute(context.Background(), page, s)
	require.NoError(t, err)

	entry := store.Get(page.URL(), s.RawText)
	require.NotNil(t, entry)
	assert.Equal(t, matcher.MethodAXTree, entry.Strategy)
	assert.Equal(t, 1, entry.SuccessCount)
}

func TestLearnPreservesWinningStrategyOnCacheHit(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "elements.json"), zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	m := matcher.New(zerolog.Nop(),
		matcher.WithCache(store),
		matcher.WithHealer(fingerprint.NewHealer(zerolog.Nop(), 0)),
	)
	ex := New(m, zerolog.Nop(),
		WithCache(store),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithAssertTimeout(0),
	)

	page := loginPage()
	page.EvalResult = []any{map[string]any{
		"tag":      "button",
		"text":     "Log in",
		"selector": "#login",
	}}

	s := step(grammar.CategoryAction, grammar.IntentClick,
		grammar.ElementTarget{ElementType: "button", Descriptors: []string{"log", "in"}, RawText: "log in button"}, nil)
	store.Put(page.URL(), s.RawText, matcher.MethodAXTree, `button "Log in"`, 0.95,
		&fingerprint.Fingerprint{Tag: "button", Text: "Log in"})

	_, err = ex.Execute(context.Background(), page, s)
	require.NoError(t, err)

	entry := store.Get(page.URL(), s.RawText)
	require.NotNil(t, entry)
	assert.Equal(t, matcher.MethodAXTree, entry.Strategy, "cache-hit relearn must not overwrite the winning strategy")
	assert.Equal(t, 2, entry.SuccessCount)
}
