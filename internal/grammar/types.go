package grammar

import "regexp"

// Category splits instructions by what the caller gets back: actions
// return nothing, assertions return true, queries return a value.
type Category string

const (
	CategoryAction    Category = "action"
	CategoryAssertion Category = "assertion"
	CategoryQuery     Category = "query"
)

// Intent names the concrete operation the executor dispatches on.
const (
	IntentClick        = "click"
	IntentDoubleClick  = "doubleClick"
	IntentRightClick   = "rightClick"
	IntentFill         = "fill"
	IntentClear        = "clear"
	IntentSelect       = "select"
	IntentCheck        = "check"
	IntentUncheck      = "uncheck"
	IntentHover        = "hover"
	IntentFocus        = "focus"
	IntentPressKey     = "pressKey"
	IntentUpload       = "upload"
	IntentDrag         = "drag"
	IntentScroll       = "scroll"
	IntentScrollTo     = "scrollTo"
	IntentNavigate     = "navigate"
	IntentReload       = "reload"
	IntentGoBack       = "goBack"
	IntentGoForward    = "goForward"
	IntentWait         = "wait"
	IntentWaitFor      = "waitFor"
	IntentScreenshot   = "screenshot"
	IntentSetCookie    = "setCookie"
	IntentClearCookies = "clearCookies"
	IntentClearStorage = "clearStorage"

	IntentAssertVisible      = "assertVisible"
	IntentAssertHidden       = "assertHidden"
	IntentAssertPresent      = "assertPresent"
	IntentAssertNotPresent   = "assertNotPresent"
	IntentAssertEnabled      = "assertEnabled"
	IntentAssertDisabled     = "assertDisabled"
	IntentAssertChecked      = "assertChecked"
	IntentAssertUnchecked    = "assertUnchecked"
	IntentAssertTextEquals   = "assertTextEquals"
	IntentAssertTextContains = "assertTextContains"
	IntentAssertValue        = "assertValue"
	IntentAssertCount        = "assertCount"
	IntentAssertTitle        = "assertTitle"
	IntentAssertURL          = "assertURL"

	IntentGetText      = "getText"
	IntentGetValue     = "getValue"
	IntentGetAttribute = "getAttribute"
	IntentGetCount     = "getCount"
	IntentGetTitle     = "getTitle"
	IntentGetURL       = "getURL"
)

// Modifiers carry cross-cutting flags extracted alongside the intent.
type Modifiers struct {
	Negated         bool `json:"negated,omitempty"`
	Exact           bool `json:"exact,omitempty"`
	Force           bool `json:"force,omitempty"`
	CaseInsensitive bool `json:"caseInsensitive,omitempty"`
}

// ElementTarget is the structured form of a fuzzy element description.
// Descriptors drive both role inference and fuzzy text search.
type ElementTarget struct {
	ElementType string   `json:"elementType,omitempty"`
	Descriptors []string `json:"descriptors"`
	// Ordinal is 1-based; -1 means "last"; 0 means not given.
	Ordinal    int    `json:"ordinal,omitempty"`
	Position   string `json:"position,omitempty"` // top/bottom/left/right
	RelativeTo string `json:"relativeTo,omitempty"`
	Relation   string `json:"relation,omitempty"` // near/above/below/left-of/right-of/within
	RawText    string `json:"rawText"`
}

// DescriptorText joins the descriptors back into a search phrase.
func (t ElementTarget) DescriptorText() string {
	out := ""
	for i, d := range t.Descriptors {
		if i > 0 {
			out += " "
		}
		out += d
	}
	return out
}

// ParsedStep is the immutable result of parsing one instruction.
type ParsedStep struct {
	Category      Category          `json:"category"`
	Intent        string            `json:"intent"`
	Target        ElementTarget     `json:"target"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	RawText       string            `json:"rawText"`
	Confidence    float64           `json:"confidence"`
	Modifiers     Modifiers         `json:"modifiers"`
	MatchedRuleID string            `json:"matchedRuleId,omitempty"`
}

// Clone returns a deep copy so cache hits can never leak mutations back
// into the memoized step.
func (p *ParsedStep) Clone() *ParsedStep {
	if p == nil {
		return nil
	}
	out := *p
	if p.Parameters != nil {
		out.Parameters = make(map[string]string, len(p.Parameters))
		for k, v := range p.Parameters {
			out.Parameters[k] = v
		}
	}
	out.Target.Descriptors = append([]string(nil), p.Target.Descriptors...)
	return &out
}

// Extraction is what a rule's extractor produces from the capture groups
// and the resolved quoted strings.
type Extraction struct {
	Target      string
	ElementType string
	Value       string
	Expected    string
	Params      map[string]string
	Modifiers   Modifiers
}

// Rule pairs a pattern with an extractor. Rules are data: the engine
// scans them in ascending priority order and the first match wins.
type Rule struct {
	ID       string
	Pattern  *regexp.Regexp
	Category Category
	Intent   string
	// Priority: lower is tried first. Generic catch-all rules sit at the
	// high end and take a small confidence penalty.
	Priority int
	Extract  func(m []string, quoted []string) Extraction
	Examples []string
}
