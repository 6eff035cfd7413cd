// Package executor dispatches parsed steps onto the browser driver,
// with the recovery policy around every element operation: scroll into
// view and retry once, then fall back to the lower-confidence
// alternatives kept by the resolver.
package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/stepwright/internal/browser"
	"github.com/polzovatel/stepwright/internal/cache"
	"github.com/polzovatel/stepwright/internal/fingerprint"
	"github.com/polzovatel/stepwright/internal/grammar"
	"github.com/polzovatel/stepwright/internal/matcher"
)

const (
	// Assertions get one extra resolution attempt: they typically
	// follow navigations and the page may still be settling.
	actionResolveAttempts = 3
	assertResolveAttempts = 4

	resolveBackoffBase = 2 * time.Second
	resolveBackoffMax  = 4 * time.Second

	pollInterval         = 250 * time.Millisecond
	defaultAssertTimeout = 5 * time.Second

	recoveryWait = 500 * time.Millisecond
)

// Error carries enough context to diagnose a failed step without
// re-running it.
type Error struct {
	Instruction string
	Method      string
	Confidence  float64
	Err         error
}

func (e *Error) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("execute %q: %v", e.Instruction, e.Err)
	}
	return fmt.Sprintf("execute %q: %v (method=%s, confidence=%.2f)", e.Instruction, e.Err, e.Method, e.Confidence)
}

func (e *Error) Unwrap() error { return e.Err }

// Executor runs one parsed step at a time against a page.
type Executor struct {
	matcher       *matcher.Matcher
	store         *cache.Store
	screenshotDir string
	assertTimeout time.Duration
	sleep         func(context.Context, time.Duration) error
	log           zerolog.Logger
}

type Option func(*Executor)

// WithScreenshotDir enables best-effort failure screenshots.
func WithScreenshotDir(dir string) Option {
	return func(e *Executor) { e.screenshotDir = dir }
}

// WithCache wires the element cache: successful element steps persist
// the matched node's fingerprint for the next run.
func WithCache(s *cache.Store) Option {
	return func(e *Executor) { e.store = s }
}

// WithAssertTimeout overrides the polling-assertion deadline.
func WithAssertTimeout(d time.Duration) Option {
	return func(e *Executor) { e.assertTimeout = d }
}

// WithSleep overrides the backoff/poll sleeper. Test hook.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

func New(m *matcher.Matcher, log zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		matcher:       m,
		assertTimeout: defaultAssertTimeout,
		sleep:         sleepCtx,
		log:           log.With().Str("comp", "executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs one step: queries return a value, assertions return
// true, actions return nil. Failures are returned as errors, never as
// values.
func (ex *Executor) Execute(ctx context.Context, page browser.Page, step *grammar.ParsedStep) (any, error) {
	if handled, val, err := ex.pageLevel(ctx, page, step); handled {
		if err != nil {
			ex.failureScreenshot(ctx, page)
			return nil, &Error{Instruction: step.RawText, Err: err}
		}
		return val, nil
	}

	match, err := ex.resolve(ctx, page, step)
	if err != nil {
		if isAbsenceIntent(step.Intent) && errors.Is(err, matcher.ErrElementNotFound) {
			return true, nil
		}
		ex.failureScreenshot(ctx, page)
		return nil, &Error{Instruction: step.RawText, Err: err}
	}

	val, err := ex.performWithRecovery(ctx, page, step, match)
	if err != nil {
		ex.failureScreenshot(ctx, page)
		return nil, &Error{
			Instruction: step.RawText,
			Method:      match.Method,
			Confidence:  match.Confidence,
			Err:         err,
		}
	}

	ex.learn(ctx, page, step, match)
	if mutatingIntents[step.Intent] {
		page.InvalidateSnapshot()
	}
	return val, nil
}

// isAbsenceIntent reports whether failing to find the target is itself
// the asserted condition.
func isAbsenceIntent(intent string) bool {
	return intent == grammar.IntentAssertNotPresent || intent == grammar.IntentAssertHidden
}

func (ex *Executor) resolve(ctx context.Context, page browser.Page, step *grammar.ParsedStep) (*matcher.MatchedElement, error) {
	attempts := actionResolveAttempts
	if step.Category == grammar.CategoryAssertion {
		attempts = assertResolveAttempts
	}
	if isAbsenceIntent(step.Intent) {
		// Not finding the element is the expected outcome; one look is
		// enough.
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := resolveBackoffBase << uint(attempt-1)
			if backoff > resolveBackoffMax {
				backoff = resolveBackoffMax
			}
			if err := ex.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			page.InvalidateSnapshot()
		}
		match, err := ex.matcher.Find(ctx, page, step)
		if err == nil {
			return match, nil
		}
		var ordErr *matcher.OrdinalError
		if errors.As(err, &ordErr) {
			return nil, err
		}
		lastErr = err
		ex.log.Debug().Err(err).Int("attempt", attempt+1).Str("step", step.RawText).Msg("resolution failed")
	}
	return nil, lastErr
}

// performWithRecovery runs the operation and, on failure, the recovery
// ladder. Recovery never nests: a failing recovery attempt is final for
// that rung.
func (ex *Executor) performWithRecovery(ctx context.Context, page browser.Page, step *grammar.ParsedStep, match *matcher.MatchedElement) (any, error) {
	val, err := ex.perform(ctx, page, step, match.Locator, match.BroadLocator)
	if err == nil {
		return val, nil
	}
	firstErr := err

	// (a) Scroll into view, settle, retry the same step once.
	if scrollErr := match.Locator.ScrollIntoView(ctx); scrollErr == nil {
		if sleepErr := ex.sleep(ctx, recoveryWait); sleepErr != nil {
			return nil, sleepErr
		}
		if val, err = ex.perform(ctx, page, step, match.Locator, match.BroadLocator); err == nil {
			ex.log.Info().Str("step", step.RawText).Msg("recovered after scroll-into-view")
			return val, nil
		}
	}

	// (b) Lower-confidence alternatives, best first.
	for _, alt := range sortedAlternatives(match.Alternatives) {
		val, err = ex.perform(ctx, page, step, alt.Locator, alt.Locator)
		if err == nil {
			ex.log.Info().
				Str("step", step.RawText).
				Str("method", alt.Method).
				Float64("conf", alt.Confidence).
				Msg("recovered via alternative locator")
			return val, nil
		}
	}

	return nil, firstErr
}

func sortedAlternatives(alts []matcher.Alternative) []matcher.Alternative {
	out := make([]matcher.Alternative, len(alts))
	copy(out, alts)
	for i := 0; i < len(out)-1; i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Confidence > out[i].Confidence {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (ex *Executor) perform(ctx context.Context, page browser.Page, step *grammar.ParsedStep, loc, broad browser.Locator) (any, error) {
	switch step.Category {
	case grammar.CategoryAction:
		return nil, ex.performAction(ctx, page, step, loc)
	case grammar.CategoryAssertion:
		return ex.performAssertion(ctx, page, step, loc, broad)
	case grammar.CategoryQuery:
		return ex.performQuery(ctx, step, loc, broad)
	default:
		return nil, fmt.Errorf("unknown step category %q", step.Category)
	}
}

// learn persists the matched node's fingerprint so the next run skips
// the cascade. Cached and healed matches are already in the store.
func (ex *Executor) learn(ctx context.Context, page browser.Page, step *grammar.ParsedStep, match *matcher.MatchedElement) {
	if ex.store == nil || match.Locator == nil {
		return
	}
	if match.Method == matcher.MethodCached || match.Method == matcher.MethodHealed {
		// Keep the strategy that originally won; "cached"/"self-healed"
		// say how this run resolved, not how to resolve from scratch.
		strategy := match.Method
		if entry := ex.store.Get(page.URL(), step.RawText); entry != nil && entry.Strategy != "" {
			strategy = entry.Strategy
		}
		ex.store.Put(page.URL(), step.RawText, strategy, match.Description, match.Confidence, nil)
		return
	}
	fp, err := fingerprint.Capture(ctx, match.Locator)
	if err != nil {
		ex.log.Debug().Err(err).Msg("fingerprint capture failed, caching without one")
		fp = nil
	}
	ex.store.Put(page.URL(), step.RawText, match.Method, match.Description, match.Confidence, fp)
}

func (ex *Executor) failureScreenshot(ctx context.Context, page browser.Page) {
	if ex.screenshotDir == "" {
		return
	}
	path := filepath.Join(ex.screenshotDir, "failure-"+uuid.NewString()+".png")
	if err := page.Screenshot(ctx, path); err != nil {
		ex.log.Warn().Err(err).Msg("failure screenshot could not be captured")
		return
	}
	ex.log.Info().Str("path", path).Msg("failure screenshot captured")
}

// mutatingIntents lists element operations after which the
// accessibility snapshot can no longer be trusted.
var mutatingIntents = map[string]bool{
	grammar.IntentClick:       true,
	grammar.IntentDoubleClick: true,
	grammar.IntentRightClick:  true,
	grammar.IntentFill:        true,
	grammar.IntentClear:       true,
	grammar.IntentSelect:      true,
	grammar.IntentCheck:       true,
	grammar.IntentUncheck:     true,
	grammar.IntentUpload:      true,
	grammar.IntentDrag:        true,
}

func parseExpectedInt(step *grammar.ParsedStep) (int, error) {
	raw := strings.TrimSpace(step.Parameters["expected"])
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("expected a number, got %q", raw)
	}
	return n, nil
}
