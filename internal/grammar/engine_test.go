package grammar

import (
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return NewEngine(zerolog.Nop(), opts...)
}

func TestParseClickQuotedButton(t *testing.T) {
	e := newTestEngine(t)
	step := e.Parse(`Click the "Submit" button`)
	require.NotNil(t, step)
	assert.Equal(t, CategoryAction, step.Category)
	assert.Equal(t, IntentClick, step.Intent)
	assert.Equal(t, "button", step.Target.ElementType)
	assert.Equal(t, []string{"submit"}, step.Target.Descriptors)
	assert.GreaterOrEqual(t, step.Confidence, 0.8)
}

func TestParseFillIntent(t *testing.T) {
	e := newTestEngine(t)
	step := e.Parse(`Type 'a@b.com' in the Email field`)
	require.NotNil(t, step)
	assert.Equal(t, IntentFill, step.Intent)
	assert.Equal(t, "a@b.com", step.Parameters["value"])
	assert.Contains(t, step.Target.Descriptors, "email")
	assert.Equal(t, "textbox", step.Target.ElementType)
}

func TestParseSynonymSecondPass(t *testing.T) {
	e := newTestEngine(t)
	step := e.Parse("Tap the Login button")
	require.NotNil(t, step)
	assert.Equal(t, IntentClick, step.Intent)

	step = e.Parse("Make sure the Error banner is hidden")
	require.NotNil(t, step)
	assert.Equal(t, IntentAssertHidden, step.Intent)
	assert.True(t, step.Modifiers.Negated)
}

func TestParsePressBeatsClickSynonym(t *testing.T) {
	// "press" must hit the key rule verbatim before any synonym pass
	// could turn it into a click.
	e := newTestEngine(t)
	step := e.Parse("Press the Enter key")
	require.NotNil(t, step)
	assert.Equal(t, IntentPressKey, step.Intent)
	assert.Equal(t, "Enter", step.Parameters["key"])
}

func TestParseAssertions(t *testing.T) {
	e := newTestEngine(t)
	cases := map[string]string{
		"Verify the Success message is visible":   IntentAssertVisible,
		"Verify the Error banner is hidden":       IntentAssertHidden,
		"Verify the Error banner is not present":  IntentAssertNotPresent,
		"Check that the Download link exists":     IntentAssertPresent,
		"Verify the Submit button is disabled":    IntentAssertDisabled,
		"Verify the Submit button is enabled":     IntentAssertEnabled,
		"Verify the Terms checkbox is checked":    IntentAssertChecked,
		`Verify the Total is '42.00'`:             IntentAssertTextEquals,
		`Verify the summary contains "paid"`:      IntentAssertTextContains,
		`Verify the page title is "Dashboard"`:    IntentAssertTitle,
		`Verify the URL contains "/checkout"`:     IntentAssertURL,
		"Verify there are 3 rows":                 IntentAssertCount,
		`Verify the Quantity field has value "2"`: IntentAssertValue,
	}
	for text, intent := range cases {
		step := e.Parse(text)
		require.NotNil(t, step, "instruction %q", text)
		assert.Equal(t, CategoryAssertion, step.Category, "instruction %q", text)
		assert.Equal(t, intent, step.Intent, "instruction %q", text)
	}
}

func TestParseTextEqualsExpectedValue(t *testing.T) {
	e := newTestEngine(t)
	step := e.Parse(`Verify the Total is '42.00'`)
	require.NotNil(t, step)
	assert.Equal(t, "42.00", step.Parameters["expected"])
	assert.Equal(t, []string{"total"}, step.Target.Descriptors)
}

func TestParseQueries(t *testing.T) {
	e := newTestEngine(t)
	cases := map[string]string{
		"Get the page title":               IntentGetTitle,
		"Get the current URL":              IntentGetURL,
		"Get the text of the heading":      IntentGetText,
		"Get the value of the Email field": IntentGetValue,
		"How many rows are there?":         IntentGetCount,
		"Read the confirmation message":    IntentGetText,
	}
	for text, intent := range cases {
		step := e.Parse(text)
		require.NotNil(t, step, "instruction %q", text)
		assert.Equal(t, CategoryQuery, step.Category, "instruction %q", text)
		assert.Equal(t, intent, step.Intent, "instruction %q", text)
	}
}

func TestParseOrdinalAndPosition(t *testing.T) {
	e := newTestEngine(t)

	step := e.Parse("Click the second Save button")
	require.NotNil(t, step)
	assert.Equal(t, 2, step.Target.Ordinal)
	assert.Equal(t, []string{"save"}, step.Target.Descriptors)

	step = e.Parse("Click the last row")
	require.NotNil(t, step)
	assert.Equal(t, -1, step.Target.Ordinal)

	step = e.Parse("Click the 3rd item")
	require.NotNil(t, step)
	assert.Equal(t, 3, step.Target.Ordinal)

	step = e.Parse("Click the top Login button")
	require.NotNil(t, step)
	assert.Equal(t, "top", step.Target.Position)
}

func TestParseRelativeTarget(t *testing.T) {
	e := newTestEngine(t)
	step := e.Parse("Click the Edit button next to Alice")
	require.NotNil(t, step)
	assert.Equal(t, "near", step.Target.Relation)
	assert.Equal(t, "Alice", step.Target.RelativeTo)
	assert.Equal(t, []string{"edit"}, step.Target.Descriptors)
}

func TestParseUnknownReturnsNil(t *testing.T) {
	e := newTestEngine(t)
	assert.Nil(t, e.Parse("flurb the wuzzle backwards"))
	assert.Nil(t, e.Parse(""))
}

func TestParseIdempotent(t *testing.T) {
	e := newTestEngine(t)
	first := e.Parse("Click the Login button")
	second := e.Parse("Click the Login button")
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first, second)

	// A cache hit must hand back an independent copy.
	second.Parameters = map[string]string{"poisoned": "yes"}
	second.Target.Descriptors[0] = "mutated"
	third := e.Parse("Click the Login button")
	assert.Equal(t, first, third)
}

func TestParseMemoTTL(t *testing.T) {
	e := newTestEngine(t, WithMemoTTL(10*time.Millisecond))
	require.NotNil(t, e.Parse("Click the Login button"))
	time.Sleep(20 * time.Millisecond)
	// Expired entries are re-parsed, not returned.
	step := e.Parse("Click the Login button")
	require.NotNil(t, step)
	assert.Equal(t, IntentClick, step.Intent)
}

func TestRegisterInvalidatesMemo(t *testing.T) {
	e := newTestEngine(t)
	// Memoize a miss first.
	assert.Nil(t, e.Parse("frobnicate the widget"))

	err := e.Register(Rule{
		ID:       "frobnicate",
		Pattern:  regexp.MustCompile(`(?i)^frobnicate (?:the )?(.+)$`),
		Category: CategoryAction,
		Intent:   IntentClick,
		Priority: 20,
		Extract:  targetOnly,
	})
	require.NoError(t, err)

	step := e.Parse("frobnicate the widget")
	require.NotNil(t, step)
	assert.Equal(t, "frobnicate", step.MatchedRuleID)
}

func TestRegisterConcurrentWithParse(t *testing.T) {
	e := newTestEngine(t)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				step := e.Parse(`Click the "Submit" button`)
				if assert.NotNil(t, step) {
					assert.Equal(t, IntentClick, step.Intent)
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		err := e.Register(Rule{
			ID:       fmt.Sprintf("custom-%d", i),
			Pattern:  regexp.MustCompile(fmt.Sprintf(`(?i)^custom%d (?:the )?(.+)$`, i)),
			Category: CategoryAction,
			Intent:   IntentClick,
			Priority: 10 + i%30,
			Extract:  targetOnly,
		})
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	assert.Len(t, e.Rules(), len(builtinRules())+200)
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEngine(t)
	assert.Error(t, e.Register(Rule{}))
	assert.Error(t, e.Register(Rule{ID: "x", Pattern: regexp.MustCompile("x")}))
	// Duplicate IDs are rejected.
	r := Rule{ID: "click", Pattern: regexp.MustCompile("x"), Extract: targetOnly}
	assert.Error(t, e.Register(r))
}

func TestConfidenceBounds(t *testing.T) {
	e := newTestEngine(t)
	for _, r := range e.Rules() {
		for _, example := range r.Examples {
			step := e.Parse(example)
			require.NotNil(t, step, "example %q of rule %s", example, r.ID)
			assert.GreaterOrEqual(t, step.Confidence, 0.0)
			assert.LessOrEqual(t, step.Confidence, 1.0)
		}
	}
}

func TestQuotedExtraction(t *testing.T) {
	masked, quoted := extractQuoted(`Type 'a and b' in the "Notes" field`)
	assert.Equal(t, "Type __QUOTED_0__ in the __QUOTED_1__ field", masked)
	require.Len(t, quoted, 2)
	assert.Equal(t, "a and b", quoted[0])
	assert.Equal(t, "Notes", quoted[1])

	// Unterminated quotes stay verbatim.
	masked, quoted = extractQuoted(`Click the 'broken`)
	assert.Equal(t, `Click the 'broken`, masked)
	assert.Empty(t, quoted)
}
