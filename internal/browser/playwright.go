package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout    = 30 * time.Second
	defaultActionTimeout = 10 * time.Second
	defaultSnapshotTTL   = 500 * time.Millisecond
)

// Timeouts are enforced by the underlying driver call, not by our own
// clock. Navigation is floored at 30s.
type Timeouts struct {
	Action     time.Duration
	Navigation time.Duration
}

func (t Timeouts) normalized() Timeouts {
	if t.Action <= 0 {
		t.Action = defaultActionTimeout
	}
	if t.Navigation < defaultNavTimeout {
		t.Navigation = defaultNavTimeout
	}
	return t
}

// Launcher owns the playwright lifecycle.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

func NewLauncher(ctx context.Context, headless bool) (*Launcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: b, headless: headless}, nil
}

// NewPage opens a fresh context + page.
func (l *Launcher) NewPage(ctx context.Context, timeouts Timeouts, snapshotTTL time.Duration) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bc, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bc.NewPage()
	if err != nil {
		_ = bc.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	timeouts = timeouts.normalized()
	page.SetDefaultTimeout(float64(timeouts.Action.Milliseconds()))
	// An unanswered native dialog blocks every later action on the page.
	page.OnDialog(func(d playwright.Dialog) {
		_ = d.Accept()
	})
	if snapshotTTL <= 0 {
		snapshotTTL = defaultSnapshotTTL
	}
	return &pwPage{
		context:     bc,
		page:        page,
		timeouts:    timeouts,
		snapshotTTL: snapshotTTL,
	}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

type pwPage struct {
	context  playwright.BrowserContext
	page     playwright.Page
	timeouts Timeouts

	snapshotTTL  time.Duration
	snapCache    []AXNode
	snapCacheURL string
	snapCacheAt  time.Time
}

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, err := p.page.Title()
	return title, wrap(err)
}

func (p *pwPage) ByRole(role, name string, exact bool) Locator {
	aria := playwright.AriaRole(strings.ToLower(strings.TrimSpace(role)))
	opts := playwright.PageGetByRoleOptions{}
	if name != "" {
		opts.Name = name
		opts.Exact = playwright.Bool(exact)
	}
	return &pwLocator{loc: p.page.GetByRole(aria, opts), timeouts: p.timeouts}
}

func (p *pwPage) ByLabel(text string, exact bool) Locator {
	return &pwLocator{
		loc:      p.page.GetByLabel(text, playwright.PageGetByLabelOptions{Exact: playwright.Bool(exact)}),
		timeouts: p.timeouts,
	}
}

func (p *pwPage) ByPlaceholder(text string) Locator {
	return &pwLocator{loc: p.page.GetByPlaceholder(text), timeouts: p.timeouts}
}

func (p *pwPage) ByText(text string, exact bool) Locator {
	return &pwLocator{
		loc:      p.page.GetByText(text, playwright.PageGetByTextOptions{Exact: playwright.Bool(exact)}),
		timeouts: p.timeouts,
	}
}

func (p *pwPage) BySelector(selector string) Locator {
	return &pwLocator{loc: p.page.Locator(selector), timeouts: p.timeouts}
}

func (p *pwPage) Frames() []Frame {
	var out []Frame
	for _, f := range p.page.Frames() {
		if f == p.page.MainFrame() {
			continue
		}
		out = append(out, &pwFrame{frame: f, timeouts: p.timeouts})
	}
	return out
}

func (p *pwPage) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, err := p.page.Evaluate(script, args...)
	return val, wrap(err)
}

func (p *pwPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.Contains(url, "://") {
		url = "https://" + url
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(p.timeouts.Navigation.Milliseconds())),
	})
	p.InvalidateSnapshot()
	return wrap(err)
}

func (p *pwPage) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Reload()
	p.InvalidateSnapshot()
	return wrap(err)
}

func (p *pwPage) GoBack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.GoBack()
	p.InvalidateSnapshot()
	return wrap(err)
}

func (p *pwPage) GoForward(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.GoForward()
	p.InvalidateSnapshot()
	return wrap(err)
}

func (p *pwPage) PressKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(p.page.Keyboard().Press(key))
}

func (p *pwPage) Scroll(ctx context.Context, direction string, distance int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Evaluate(scrollScript, map[string]any{
		"dir":  strings.ToLower(direction),
		"dist": distance,
	})
	return wrap(err)
}

func (p *pwPage) SetCookie(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(p.context.AddCookies([]playwright.OptionalCookie{{
		Name:  name,
		Value: value,
		URL:   playwright.String(p.page.URL()),
	}}))
}

func (p *pwPage) ClearCookies(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(p.context.ClearCookies())
}

func (p *pwPage) ClearStorage(ctx context.Context, scope string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	script := "() => localStorage.clear()"
	if scope == "session" {
		script = "() => sessionStorage.clear()"
	}
	_, err := p.page.Evaluate(script)
	return wrap(err)
}

func (p *pwPage) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("screenshot dir: %w", err)
		}
	}
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return wrap(err)
}

func (p *pwPage) Close(ctx context.Context) error {
	_ = ctx
	if p.page != nil {
		_ = p.page.Close()
	}
	if p.context != nil {
		return wrap(p.context.Close())
	}
	return nil
}

type pwFrame struct {
	frame    playwright.Frame
	timeouts Timeouts
}

func (f *pwFrame) URL() string { return f.frame.URL() }

func (f *pwFrame) ByRole(role, name string, exact bool) Locator {
	aria := playwright.AriaRole(strings.ToLower(strings.TrimSpace(role)))
	opts := playwright.FrameGetByRoleOptions{}
	if name != "" {
		opts.Name = name
		opts.Exact = playwright.Bool(exact)
	}
	return &pwLocator{loc: f.frame.GetByRole(aria, opts), timeouts: f.timeouts}
}

func (f *pwFrame) ByLabel(text string, exact bool) Locator {
	return &pwLocator{
		loc:      f.frame.GetByLabel(text, playwright.FrameGetByLabelOptions{Exact: playwright.Bool(exact)}),
		timeouts: f.timeouts,
	}
}

func (f *pwFrame) ByText(text string, exact bool) Locator {
	return &pwLocator{
		loc:      f.frame.GetByText(text, playwright.FrameGetByTextOptions{Exact: playwright.Bool(exact)}),
		timeouts: f.timeouts,
	}
}

type pwLocator struct {
	loc      playwright.Locator
	timeouts Timeouts
}

func (l *pwLocator) actionMS() *float64 {
	return playwright.Float(float64(l.timeouts.Action.Milliseconds()))
}

func (l *pwLocator) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := l.loc.Count()
	return n, wrap(err)
}

func (l *pwLocator) Nth(i int) Locator {
	return &pwLocator{loc: l.loc.Nth(i), timeouts: l.timeouts}
}

func (l *pwLocator) First() Locator {
	return &pwLocator{loc: l.loc.First(), timeouts: l.timeouts}
}

func (l *pwLocator) Last() Locator {
	return &pwLocator{loc: l.loc.Last(), timeouts: l.timeouts}
}

func (l *pwLocator) Click(ctx context.Context, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := playwright.LocatorClickOptions{Timeout: l.actionMS()}
	if force {
		opts.Force = playwright.Bool(true)
	}
	return wrap(l.loc.Click(opts))
}

func (l *pwLocator) DoubleClick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(l.loc.Dblclick(playwright.LocatorDblclickOptions{Timeout: l.actionMS()}))
}

func (l *pwLocator) RightClick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(l.loc.Click(playwright.LocatorClickOptions{
		Button:  playwright.MouseButtonRight,
		Timeout: l.actionMS(),
	}))
}

func (l *pwLocator) Fill(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(l.loc.Fill(text, playwright.LocatorFillOptions{Timeout: l.actionMS()}))
}

func (l *pwLocator) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(l.loc.Clear(playwright.LocatorClearOptions{Timeout: l.actionMS()}))
}

func (l *pwLocator) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(l.loc.Check(playwright.LocatorCheckOptions{Timeout: l.actionMS()}))
}

func (l *pwLocator) Uncheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(l.loc.Uncheck(playwright.LocatorUncheckOptions{Timeout: l.actionMS()}))
}

func (l *pwLocator) Hover(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(l.loc.Hover(playwright.LocatorHoverOptions{Timeout: l.actionMS()}))
}

func (l *pwLocator) Focus(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(l.loc.Focus(playwright.LocatorFocusOptions{Timeout: l.actionMS()}))
}

func (l *pwLocator) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(l.loc.Press(key, playwright.LocatorPressOptions{Timeout: l.actionMS()}))
}

func (l *pwLocator) SelectOption(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Prefer the visible label; fall back to the option value.
	_, err := l.loc.SelectOption(playwright.SelectOptionValues{Labels: &[]string{value}})
	if err != nil {
		_, err = l.loc.SelectOption(playwright.SelectOptionValues{Values: &[]string{value}})
	}
	return wrap(err)
}

func (l *pwLocator) SetFiles(ctx context.Context, paths ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	files := make([]playwright.InputFile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read upload file: %w", err)
		}
		files = append(files, playwright.InputFile{
			Name:   filepath.Base(path),
			Buffer: data,
		})
	}
	return wrap(l.loc.SetInputFiles(files))
}

func (l *pwLocator) DragTo(ctx context.Context, dest Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, ok := dest.(*pwLocator)
	if !ok {
		return fmt.Errorf("drag target is not a playwright locator")
	}
	return wrap(l.loc.DragTo(target.loc, playwright.LocatorDragToOptions{Timeout: l.actionMS()}))
}

func (l *pwLocator) ScrollIntoView(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(l.loc.ScrollIntoViewIfNeeded())
}

func (l *pwLocator) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := l.loc.InnerText(playwright.LocatorInnerTextOptions{Timeout: l.actionMS()})
	return text, wrap(err)
}

func (l *pwLocator) Value(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	val, err := l.loc.InputValue(playwright.LocatorInputValueOptions{Timeout: l.actionMS()})
	return val, wrap(err)
}

func (l *pwLocator) Attribute(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	val, err := l.loc.GetAttribute(name)
	return val, wrap(err)
}

func (l *pwLocator) BoundingBox(ctx context.Context) (*Rect, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	box, err := l.loc.BoundingBox()
	if err != nil {
		return nil, wrap(err)
	}
	if box == nil {
		return nil, nil
	}
	return &Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (l *pwLocator) IsVisible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := l.loc.IsVisible()
	return ok, wrap(err)
}

func (l *pwLocator) IsEnabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := l.loc.IsEnabled()
	return ok, wrap(err)
}

func (l *pwLocator) IsChecked(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := l.loc.IsChecked()
	return ok, wrap(err)
}

func (l *pwLocator) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, err := l.loc.Evaluate(script, arg)
	return val, wrap(err)
}

func (l *pwLocator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = l.timeouts.Action
	}
	return wrap(l.loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

const scrollScript = `({ dir, dist }) => {
	const distance = Number(dist) || Math.max(window.innerHeight || 0, 600);
	switch (dir) {
	case "up":
		window.scrollBy(0, -distance);
		break;
	case "top":
		window.scrollTo(0, 0);
		break;
	case "bottom":
		window.scrollTo(0, document.body.scrollHeight);
		break;
	default:
		window.scrollBy(0, distance);
	}
	return window.scrollY;
}`
