package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/polzovatel/stepwright/internal/browser"
	"github.com/polzovatel/stepwright/internal/grammar"
)

// pageLevel handles every intent that needs no element resolution.
func (ex *Executor) pageLevel(ctx context.Context, page browser.Page, step *grammar.ParsedStep) (bool, any, error) {
	switch step.Intent {
	case grammar.IntentNavigate:
		return true, nil, page.Navigate(ctx, step.Parameters["url"])
	case grammar.IntentReload:
		return true, nil, page.Reload(ctx)
	case grammar.IntentGoBack:
		return true, nil, page.GoBack(ctx)
	case grammar.IntentGoForward:
		return true, nil, page.GoForward(ctx)
	case grammar.IntentPressKey:
		return true, nil, page.PressKey(ctx, step.Parameters["key"])
	case grammar.IntentScroll:
		return true, nil, page.Scroll(ctx, step.Parameters["direction"], 0)
	case grammar.IntentWait:
		d, err := waitDuration(step.Parameters)
		if err != nil {
			return true, nil, err
		}
		return true, nil, ex.sleep(ctx, d)
	case grammar.IntentScreenshot:
		path := step.Parameters["path"]
		if path == "" {
			path = filepath.Join(ex.screenshotDir, "screenshot-"+time.Now().Format("20060102-150405")+".png")
		}
		return true, nil, page.Screenshot(ctx, path)
	case grammar.IntentSetCookie:
		return true, nil, page.SetCookie(ctx, step.Parameters["name"], step.Parameters["value"])
	case grammar.IntentClearCookies:
		return true, nil, page.ClearCookies(ctx)
	case grammar.IntentClearStorage:
		scope := step.Parameters["scope"]
		if scope == "" {
			scope = "local"
		}
		return true, nil, page.ClearStorage(ctx, scope)
	case grammar.IntentGetTitle:
		title, err := page.Title(ctx)
		return true, title, err
	case grammar.IntentGetURL:
		return true, page.URL(), nil
	case grammar.IntentAssertTitle:
		val, err := ex.pollPageAssertion(ctx, step, func() (string, bool) {
			title, err := page.Title(ctx)
			if err != nil {
				return "", false
			}
			return title, compareText(title, step.Parameters["expected"], step.Modifiers, false)
		})
		return true, val, err
	case grammar.IntentAssertURL:
		contains := step.Parameters["mode"] == "contains"
		val, err := ex.pollPageAssertion(ctx, step, func() (string, bool) {
			url := page.URL()
			return url, compareText(url, step.Parameters["expected"], step.Modifiers, contains)
		})
		return true, val, err
	}
	return false, nil, nil
}

func waitDuration(params map[string]string) (time.Duration, error) {
	n, err := strconv.Atoi(params["duration"])
	if err != nil {
		return 0, fmt.Errorf("bad wait duration %q", params["duration"])
	}
	unit := time.Second
	switch params["unit"] {
	case "ms", "millisecond", "milliseconds":
		unit = time.Millisecond
	}
	return time.Duration(n) * unit, nil
}

func (ex *Executor) performAction(ctx context.Context, page browser.Page, step *grammar.ParsedStep, loc browser.Locator) error {
	switch step.Intent {
	case grammar.IntentClick:
		return loc.Click(ctx, step.Modifiers.Force)
	case grammar.IntentDoubleClick:
		return loc.DoubleClick(ctx)
	case grammar.IntentRightClick:
		return loc.RightClick(ctx)
	case grammar.IntentFill:
		return loc.Fill(ctx, step.Parameters["value"])
	case grammar.IntentClear:
		return loc.Clear(ctx)
	case grammar.IntentSelect:
		// "Select the Premium option" carries no value: it is a click on
		// the option itself.
		if value := step.Parameters["value"]; value != "" {
			return loc.SelectOption(ctx, value)
		}
		return loc.Click(ctx, false)
	case grammar.IntentCheck:
		return loc.Check(ctx)
	case grammar.IntentUncheck:
		return loc.Uncheck(ctx)
	case grammar.IntentHover:
		return loc.Hover(ctx)
	case grammar.IntentFocus:
		return loc.Focus(ctx)
	case grammar.IntentUpload:
		return loc.SetFiles(ctx, step.Parameters["file"])
	case grammar.IntentDrag:
		return ex.performDrag(ctx, page, step, loc)
	case grammar.IntentScrollTo:
		return loc.ScrollIntoView(ctx)
	case grammar.IntentWaitFor:
		return loc.WaitVisible(ctx, 0)
	default:
		return fmt.Errorf("unsupported action intent %q", step.Intent)
	}
}

func (ex *Executor) performDrag(ctx context.Context, page browser.Page, step *grammar.ParsedStep, loc browser.Locator) error {
	destText := step.Parameters["destination"]
	destStep := &grammar.ParsedStep{
		Category: grammar.CategoryAction,
		Intent:   grammar.IntentClick,
		Target:   grammar.TargetFromText(destText),
		RawText:  destText,
	}
	dest, err := ex.matcher.Find(ctx, page, destStep)
	if err != nil {
		return fmt.Errorf("drag destination: %w", err)
	}
	return loc.DragTo(ctx, dest.Locator)
}

// performAssertion polls the condition until the deadline; a condition
// that never holds is an error, never a false return value.
func (ex *Executor) performAssertion(ctx context.Context, page browser.Page, step *grammar.ParsedStep, loc, broad browser.Locator) (any, error) {
	check, err := ex.assertionCheck(step, loc, broad)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(ex.assertTimeout)
	var detail string
	for {
		var ok bool
		ok, detail = check(ctx)
		if ok {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("assertion %s failed: %s", step.Intent, detail)
		}
		if err := ex.sleep(ctx, pollInterval); err != nil {
			return nil, err
		}
	}
}

func (ex *Executor) assertionCheck(step *grammar.ParsedStep, loc, broad browser.Locator) (func(context.Context) (bool, string), error) {
	expected := step.Parameters["expected"]
	switch step.Intent {
	case grammar.IntentAssertVisible:
		return boolCheck(loc.IsVisible, true, "element is not visible"), nil
	case grammar.IntentAssertHidden:
		return boolCheck(loc.IsVisible, false, "element is still visible"), nil
	case grammar.IntentAssertPresent:
		return countCheck(broad, func(n int) bool { return n > 0 }, "element is not present"), nil
	case grammar.IntentAssertNotPresent:
		return countCheck(broad, func(n int) bool { return n == 0 }, "element is still present"), nil
	case grammar.IntentAssertEnabled:
		return boolCheck(loc.IsEnabled, true, "element is disabled"), nil
	case grammar.IntentAssertDisabled:
		return boolCheck(loc.IsEnabled, false, "element is enabled"), nil
	case grammar.IntentAssertChecked:
		return boolCheck(loc.IsChecked, true, "element is not checked"), nil
	case grammar.IntentAssertUnchecked:
		return boolCheck(loc.IsChecked, false, "element is checked"), nil
	case grammar.IntentAssertTextEquals:
		return textCheck(loc.Text, expected, step.Modifiers, false), nil
	case grammar.IntentAssertTextContains:
		return textCheck(loc.Text, expected, step.Modifiers, true), nil
	case grammar.IntentAssertValue:
		return textCheck(loc.Value, expected, step.Modifiers, false), nil
	case grammar.IntentAssertCount:
		want, err := parseExpectedInt(step)
		if err != nil {
			return nil, err
		}
		return countCheck(broad, func(n int) bool { return n == want },
			fmt.Sprintf("expected %d elements", want)), nil
	default:
		return nil, fmt.Errorf("unsupported assertion intent %q", step.Intent)
	}
}

func boolCheck(read func(context.Context) (bool, error), want bool, failDetail string) func(context.Context) (bool, string) {
	return func(ctx context.Context) (bool, string) {
		got, err := read(ctx)
		if err != nil {
			return false, err.Error()
		}
		return got == want, failDetail
	}
}

func countCheck(broad browser.Locator, pass func(int) bool, failDetail string) func(context.Context) (bool, string) {
	return func(ctx context.Context) (bool, string) {
		n, err := broad.Count(ctx)
		if err != nil {
			return false, err.Error()
		}
		return pass(n), fmt.Sprintf("%s (found %d)", failDetail, n)
	}
}

func textCheck(read func(context.Context) (string, error), expected string, mods grammar.Modifiers, contains bool) func(context.Context) (bool, string) {
	return func(ctx context.Context) (bool, string) {
		got, err := read(ctx)
		if err != nil {
			return false, err.Error()
		}
		return compareText(got, expected, mods, contains),
			fmt.Sprintf("expected %q, got %q", expected, got)
	}
}

// compareText applies the step modifiers: "exactly" skips trimming,
// "ignoring case" folds.
func compareText(actual, expected string, mods grammar.Modifiers, contains bool) bool {
	a, e := actual, expected
	if !mods.Exact {
		a = strings.TrimSpace(a)
		e = strings.TrimSpace(e)
	}
	if mods.CaseInsensitive {
		a = strings.ToLower(a)
		e = strings.ToLower(e)
	}
	if contains {
		return strings.Contains(a, e)
	}
	return a == e
}

func (ex *Executor) pollPageAssertion(ctx context.Context, step *grammar.ParsedStep, check func() (string, bool)) (any, error) {
	deadline := time.Now().Add(ex.assertTimeout)
	var got string
	for {
		var ok bool
		got, ok = check()
		if ok {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("assertion %s failed: expected %q, got %q",
				step.Intent, step.Parameters["expected"], got)
		}
		if err := ex.sleep(ctx, pollInterval); err != nil {
			return nil, err
		}
	}
}

func (ex *Executor) performQuery(ctx context.Context, step *grammar.ParsedStep, loc, broad browser.Locator) (any, error) {
	switch step.Intent {
	case grammar.IntentGetText:
		text, err := loc.Text(ctx)
		return text, err
	case grammar.IntentGetValue:
		val, err := loc.Value(ctx)
		return val, err
	case grammar.IntentGetAttribute:
		val, err := loc.Attribute(ctx, step.Parameters["attribute"])
		return val, err
	case grammar.IntentGetCount:
		n, err := broad.Count(ctx)
		return n, err
	default:
		return nil, fmt.Errorf("unsupported query intent %q", step.Intent)
	}
}
