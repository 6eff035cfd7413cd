package decompose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainInstructionUnchanged(t *testing.T) {
	res := Decompose("Click the Login button")
	assert.False(t, res.WasDecomposed)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, KindPlain, res.Steps[0].Kind)
	assert.Equal(t, "Click the Login button", res.Steps[0].Text)
}

func TestConditional(t *testing.T) {
	res := Decompose("If the cookie banner is visible, click the Accept button")
	require.True(t, res.WasDecomposed)
	require.Len(t, res.Steps, 1)
	s := res.Steps[0]
	assert.Equal(t, KindConditional, s.Kind)
	assert.Equal(t, "cookie banner", s.Element)
	assert.Equal(t, "visible", s.Check)
	assert.False(t, s.Negate)
	assert.Equal(t, "click the Accept button", s.Text)
}

func TestConditionalNegations(t *testing.T) {
	res := Decompose("If the spinner is not visible, click Continue")
	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].Negate)

	// "unless" flips, "hidden" flips again: same as plain visible.
	res = Decompose("Unless the dialog is hidden, click Close")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "visible", res.Steps[0].Check)
	assert.False(t, res.Steps[0].Negate)

	res = Decompose("When the checkbox is unchecked, check the Terms checkbox")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "checked", res.Steps[0].Check)
	assert.True(t, res.Steps[0].Negate)
}

func TestLoopForms(t *testing.T) {
	res := Decompose("Repeat 3 times: click the Add button")
	require.True(t, res.WasDecomposed)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, KindLoop, res.Steps[0].Kind)
	assert.Equal(t, 3, res.Steps[0].Count)
	assert.Equal(t, "click the Add button", res.Steps[0].Text)

	res = Decompose("Click the Add button 5 times")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, KindLoop, res.Steps[0].Kind)
	assert.Equal(t, 5, res.Steps[0].Count)
	assert.Equal(t, "Click the Add button", res.Steps[0].Text)
}

func TestLoopCountCap(t *testing.T) {
	res := Decompose("Repeat 5000 times: click the Add button")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, maxLoopCount, res.Steps[0].Count)
}

func TestConjunctionSplit(t *testing.T) {
	res := Decompose("Fill the Email field with 'a@b.com' then click the Submit button")
	require.True(t, res.WasDecomposed)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "Fill the Email field with 'a@b.com'", res.Steps[0].Text)
	assert.Equal(t, "click the Submit button", res.Steps[1].Text)

	res = Decompose("Click Save and verify the toast is visible")
	require.Len(t, res.Steps, 2)
}

func TestConjunctionRequiresActionVerbs(t *testing.T) {
	// "terms and conditions" must not split: the second fragment is not
	// an instruction.
	res := Decompose("Click the terms and conditions link")
	assert.False(t, res.WasDecomposed)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "Click the terms and conditions link", res.Steps[0].Text)
}

func TestQuotedStringInvariance(t *testing.T) {
	// Splitting keywords inside quoted payloads never cause a split.
	inputs := []string{
		`Type 'salt and pepper' in the Search field`,
		`Type "first then second" in the Notes field`,
		`Fill the Bio field with 'this and that, then more'`,
	}
	for _, in := range inputs {
		res := Decompose(in)
		assert.False(t, res.WasDecomposed, "input %q", in)
		require.Len(t, res.Steps, 1, "input %q", in)
		assert.Equal(t, in, res.Steps[0].Text, "input %q", in)
	}
}

func TestQuotedRestoredAfterSplit(t *testing.T) {
	res := Decompose(`Type 'a and b' in the Email field then click Save`)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, `Type 'a and b' in the Email field`, res.Steps[0].Text)
	assert.Equal(t, "click Save", res.Steps[1].Text)
}

func TestEmptyInstruction(t *testing.T) {
	res := Decompose("   ")
	assert.False(t, res.WasDecomposed)
	assert.Empty(t, res.Steps)
}
