package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJaroWinkler(t *testing.T) {
	assert.Equal(t, 1.0, JaroWinkler("submit", "submit"))
	assert.Equal(t, 1.0, JaroWinkler("Submit", "submit"))
	assert.Equal(t, 0.0, JaroWinkler("", "submit"))

	// Transposition-tolerant: close but not equal.
	s := JaroWinkler("login", "logni")
	assert.Greater(t, s, 0.8)
	assert.Less(t, s, 1.0)

	// Shared prefix boosts only strings that are already similar.
	similar := JaroWinkler("username", "usernam")
	assert.Greater(t, similar, jaro("username", "usernam"))
	dissimilar := JaroWinkler("abxyzqrs", "abcdefgh")
	assert.Equal(t, jaro("abxyzqrs", "abcdefgh"), dissimilar)
}

func TestNGramOverlap(t *testing.T) {
	assert.InDelta(t, 1.0, NGramOverlap("email", "email", 2), 1e-9)
	assert.Equal(t, 0.0, NGramOverlap("", "email", 2))

	partial := NGramOverlap("error banner", "error dialog", 2)
	assert.Greater(t, partial, 0.0)
	assert.Less(t, partial, 1.0)

	// Strings shorter than the n-gram size use character-set overlap.
	assert.Greater(t, NGramOverlap("a", "ab", 2), 0.0)
}

func TestTokenSimilarity(t *testing.T) {
	// Reordering does not hurt token alignment.
	assert.InDelta(t, 1.0, TokenSimilarity("save draft button", "button save draft"), 1e-9)

	// Pairs below the 0.7 bar do not count.
	assert.Equal(t, 0.0, TokenSimilarity("alpha", "zzzz"))

	half := TokenSimilarity("save draft", "save")
	assert.InDelta(t, 0.5, half, 1e-9)
}

func TestEditDistanceScore(t *testing.T) {
	assert.Equal(t, 1.0, EditDistanceScore("ok", "ok"))
	assert.Equal(t, 0.0, EditDistanceScore("ab", "xy"))
	assert.InDelta(t, 0.75, EditDistanceScore("abcd", "abcx"), 1e-9)
}

func TestLCSLength(t *testing.T) {
	assert.Equal(t, 4, LCSLength("abcd", "abcd"))
	assert.Equal(t, 3, LCSLength("abcd", "abd"))
	assert.Equal(t, 0, LCSLength("", "abd"))
	assert.Equal(t, 2, LCSLength("xaybz", "ab"))
}

func TestSimilarityBounds(t *testing.T) {
	pairs := [][2]string{
		{"Submit", "Submit Application"},
		{"Email", "E-mail address"},
		{"x", "y"},
		{"", ""},
		{"Save", "Save"},
		{"the total amount", "total"},
	}
	for _, p := range pairs {
		s := Similarity(p[0], p[1])
		assert.GreaterOrEqual(t, s, 0.0, "pair %v", p)
		assert.LessOrEqual(t, s, 1.0, "pair %v", p)
	}
}

func TestSimilarityShortStrings(t *testing.T) {
	// For short strings the edit-distance path must be allowed to win.
	require.GreaterOrEqual(t, Similarity("ok", "ok"), 1.0)
	short := Similarity("no", "no!")
	assert.GreaterOrEqual(t, short, EditDistanceScore("no", "no!"))
}

func TestSimilarityOrdering(t *testing.T) {
	// An exact label should always beat a loosely related one.
	exact := Similarity("login button", "login button")
	near := Similarity("login button", "login")
	far := Similarity("login button", "privacy policy")
	assert.Greater(t, exact, near)
	assert.Greater(t, near, far)
}
