package parser

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/stepwright/internal/grammar"
)

func newParser(t *testing.T) *Parser {
	t.Helper()
	return New(grammar.NewEngine(zerolog.Nop()), zerolog.Nop())
}

func TestGrammarWinsOverFallback(t *testing.T) {
	p := newParser(t)
	step, err := p.Parse("Click the Login button")
	require.NoError(t, err)
	assert.NotEmpty(t, step.MatchedRuleID)
	assert.GreaterOrEqual(t, step.Confidence, 0.8)
}

func TestHeuristicFallback(t *testing.T) {
	p := newParser(t)
	// Oddly phrased: no grammar rule matches, the verb scan still does.
	step, err := p.Parse("please would you click Login now")
	require.NoError(t, err)
	assert.Empty(t, step.MatchedRuleID)
	assert.Equal(t, grammar.IntentClick, step.Intent)
	assert.LessOrEqual(t, step.Confidence, 0.6)
	assert.Contains(t, step.Target.Descriptors, "login")
}

func TestParseFailure(t *testing.T) {
	p := newParser(t)
	_, err := p.Parse("zxcvbnm qwerty")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParseFailed))
}

func TestIndexWordBoundaries(t *testing.T) {
	assert.Equal(t, -1, indexWord("unclickable things", "click"))
	assert.Equal(t, 0, indexWord("click here", "click"))
	assert.Equal(t, 7, indexWord("please click here", "click"))
}
