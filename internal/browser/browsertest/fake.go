// Package browsertest provides an in-memory fake of the browser driver
// for resolver and executor tests.
package browsertest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/polzovatel/stepwright/internal/browser"
)

// Node is one fake DOM element.
type Node struct {
	Role        string
	Name        string
	Label       string
	Placeholder string
	Text        string
	Value       string
	Selector    string

	Attrs         map[string]string
	ContainerText string

	X, Y, W, H float64

	Hidden   bool
	Disabled bool
	Checked  bool

	// FailActions makes the named operations fail that many times
	// before succeeding, for recovery-path tests.
	FailActions map[string]int
}

func (n *Node) failing(op string) error {
	if n.FailActions == nil {
		return nil
	}
	if remaining := n.FailActions[op]; remaining > 0 {
		n.FailActions[op] = remaining - 1
		return errors.New(op + " failed on " + n.Selector)
	}
	return nil
}

// Action is one recorded driver operation.
type Action struct {
	Op       string
	Selector string
	Arg      string
}

// Page is the fake top document.
type Page struct {
	URLValue   string
	TitleValue string
	Nodes      []*Node
	SubFrames  []*Frame

	SnapshotErr     error
	SnapshotCalls   int
	InvalidateCalls int

	Actions     []Action
	Screenshots []string

	// EvalResult is returned from page-level Evaluate calls.
	EvalResult any
}

var _ browser.Page = (*Page)(nil)

func (p *Page) record(op, selector, arg string) {
	p.Actions = append(p.Actions, Action{Op: op, Selector: selector, Arg: arg})
}

func (p *Page) URL() string { return p.URLValue }

func (p *Page) Title(ctx context.Context) (string, error) { return p.TitleValue, nil }

func (p *Page) Snapshot(ctx context.Context) ([]browser.AXNode, error) {
	p.SnapshotCalls++
	if p.SnapshotErr != nil {
		return nil, p.SnapshotErr
	}
	var out []browser.AXNode
	for _, n := range p.Nodes {
		if n.Hidden {
			continue
		}
		out = append(out, browser.AXNode{
			Role:     n.Role,
			Name:     n.Name,
			Value:    n.Value,
			Disabled: n.Disabled,
			Checked:  n.Checked,
			Selector: n.Selector,
			X:        n.X,
			Y:        n.Y,
			Width:    n.W,
			Height:   n.H,
		})
	}
	return out, nil
}

func (p *Page) InvalidateSnapshot() { p.InvalidateCalls++ }

func (p *Page) filter(match func(*Node) bool) *Locator {
	var hits []*Node
	for _, n := range p.Nodes {
		if match(n) {
			hits = append(hits, n)
		}
	}
	return &Locator{page: p, nodes: hits}
}

func (p *Page) ByRole(role, name string, exact bool) browser.Locator {
	return p.filter(func(n *Node) bool {
		if n.Role != role {
			return false
		}
		if name == "" {
			return true
		}
		if exact {
			return strings.EqualFold(n.Name, name)
		}
		return containsFold(n.Name, name)
	})
}

func (p *Page) ByLabel(text string, exact bool) browser.Locator {
	return p.filter(func(n *Node) bool {
		if n.Label == "" {
			return false
		}
		if exact {
			return strings.EqualFold(n.Label, text)
		}
		return containsFold(n.Label, text)
	})
}

func (p *Page) ByPlaceholder(text string) browser.Locator {
	return p.filter(func(n *Node) bool {
		return n.Placeholder != "" && containsFold(n.Placeholder, text)
	})
}

func (p *Page) ByText(text string, exact bool) browser.Locator {
	return p.filter(func(n *Node) bool {
		if n.Text == "" {
			return false
		}
		if exact {
			return strings.EqualFold(n.Text, text)
		}
		return containsFold(n.Text, text)
	})
}

func (p *Page) BySelector(selector string) browser.Locator {
	return p.filter(func(n *Node) bool { return n.Selector == selector })
}

func (p *Page) Frames() []browser.Frame {
	var out []browser.Frame
	for _, f := range p.SubFrames {
		out = append(out, f)
	}
	return out
}

func (p *Page) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	p.record("evaluate", "", "")
	return p.EvalResult, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.URLValue = url
	p.record("navigate", "", url)
	return nil
}

func (p *Page) Reload(ctx context.Context) error    { p.record("reload", "", ""); return nil }
func (p *Page) GoBack(ctx context.Context) error    { p.record("goBack", "", ""); return nil }
func (p *Page) GoForward(ctx context.Context) error { p.record("goForward", "", ""); return nil }

func (p *Page) PressKey(ctx context.Context, key string) error {
	p.record("pressKey", "", key)
	return nil
}

func (p *Page) Scroll(ctx context.Context, direction string, distance int) error {
	p.record("scroll", "", direction)
	return nil
}

func (p *Page) SetCookie(ctx context.Context, name, value string) error {
	p.record("setCookie", "", name+"="+value)
	return nil
}

func (p *Page) ClearCookies(ctx context.Context) error { p.record("clearCookies", "", ""); return nil }

func (p *Page) ClearStorage(ctx context.Context, scope string) error {
	p.record("clearStorage", "", scope)
	return nil
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	p.Screenshots = append(p.Screenshots, path)
	return nil
}

func (p *Page) Close(ctx context.Context) error { return nil }

// Frame is a fake sub-document backed by its own node list.
type Frame struct {
	URLValue string
	Inner    *Page
}

var _ browser.Frame = (*Frame)(nil)

func (f *Frame) URL() string { return f.URLValue }

func (f *Frame) ByRole(role, name string, exact bool) browser.Locator {
	return f.Inner.ByRole(role, name, exact)
}

func (f *Frame) ByLabel(text string, exact bool) browser.Locator {
	return f.Inner.ByLabel(text, exact)
}

func (f *Frame) ByText(text string, exact bool) browser.Locator {
	return f.Inner.ByText(text, exact)
}

// Locator is a fake multi-node handle.
type Locator struct {
	page  *Page
	nodes []*Node
}

var _ browser.Locator = (*Locator)(nil)

var errNoNodes = errors.New("locator matched no nodes")

func (l *Locator) one() (*Node, error) {
	if len(l.nodes) == 0 {
		return nil, errNoNodes
	}
	return l.nodes[0], nil
}

func (l *Locator) Count(ctx context.Context) (int, error) { return len(l.nodes), nil }

func (l *Locator) Nth(i int) browser.Locator {
	if i < 0 || i >= len(l.nodes) {
		return &Locator{page: l.page}
	}
	return &Locator{page: l.page, nodes: l.nodes[i : i+1]}
}

func (l *Locator) First() browser.Locator { return l.Nth(0) }
func (l *Locator) Last() browser.Locator  { return l.Nth(len(l.nodes) - 1) }

func (l *Locator) act(op, arg string) error {
	n, err := l.one()
	if err != nil {
		return err
	}
	if err := n.failing(op); err != nil {
		return err
	}
	l.page.record(op, n.Selector, arg)
	return nil
}

func (l *Locator) Click(ctx context.Context, force bool) error {
	arg := ""
	if force {
		arg = "force"
	}
	return l.act("click", arg)
}

func (l *Locator) DoubleClick(ctx context.Context) error { return l.act("doubleClick", "") }
func (l *Locator) RightClick(ctx context.Context) error  { return l.act("rightClick", "") }

func (l *Locator) Fill(ctx context.Context, text string) error {
	if err := l.act("fill", text); err != nil {
		return err
	}
	l.nodes[0].Value = text
	return nil
}

func (l *Locator) Clear(ctx context.Context) error {
	if err := l.act("clear", ""); err != nil {
		return err
	}
	l.nodes[0].Value = ""
	return nil
}

func (l *Locator) Check(ctx context.Context) error {
	if err := l.act("check", ""); err != nil {
		return err
	}
	l.nodes[0].Checked = true
	return nil
}

func (l *Locator) Uncheck(ctx context.Context) error {
	if err := l.act("uncheck", ""); err != nil {
		return err
	}
	l.nodes[0].Checked = false
	return nil
}

func (l *Locator) Hover(ctx context.Context) error { return l.act("hover", "") }
func (l *Locator) Focus(ctx context.Context) error { return l.act("focus", "") }

func (l *Locator) Press(ctx context.Context, key string) error { return l.act("press", key) }

func (l *Locator) SelectOption(ctx context.Context, value string) error {
	if err := l.act("select", value); err != nil {
		return err
	}
	l.nodes[0].Value = value
	return nil
}

func (l *Locator) SetFiles(ctx context.Context, paths ...string) error {
	return l.act("upload", strings.Join(paths, ","))
}

func (l *Locator) DragTo(ctx context.Context, dest browser.Locator) error {
	target, ok := dest.(*Locator)
	if ok && len(target.nodes) > 0 {
		return l.act("drag", target.nodes[0].Selector)
	}
	return l.act("drag", "")
}

func (l *Locator) ScrollIntoView(ctx context.Context) error { return l.act("scrollIntoView", "") }

func (l *Locator) Text(ctx context.Context) (string, error) {
	n, err := l.one()
	if err != nil {
		return "", err
	}
	return n.Text, nil
}

func (l *Locator) Value(ctx context.Context) (string, error) {
	n, err := l.one()
	if err != nil {
		return "", err
	}
	return n.Value, nil
}

func (l *Locator) Attribute(ctx context.Context, name string) (string, error) {
	n, err := l.one()
	if err != nil {
		return "", err
	}
	return n.Attrs[name], nil
}

func (l *Locator) BoundingBox(ctx context.Context) (*browser.Rect, error) {
	n, err := l.one()
	if err != nil {
		return nil, err
	}
	return &browser.Rect{X: n.X, Y: n.Y, Width: n.W, Height: n.H}, nil
}

func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	n, err := l.one()
	if err != nil {
		return false, err
	}
	return !n.Hidden, nil
}

func (l *Locator) IsEnabled(ctx context.Context) (bool, error) {
	n, err := l.one()
	if err != nil {
		return false, err
	}
	return !n.Disabled, nil
}

func (l *Locator) IsChecked(ctx context.Context) (bool, error) {
	n, err := l.one()
	if err != nil {
		return false, err
	}
	return n.Checked, nil
}

// Evaluate returns the node's container text, which is what the
// resolver's disambiguation script asks for.
func (l *Locator) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	n, err := l.one()
	if err != nil {
		return nil, err
	}
	return n.ContainerText, nil
}

func (l *Locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	n, err := l.one()
	if err != nil {
		return err
	}
	if n.Hidden {
		return errors.New("element not visible: " + n.Selector)
	}
	return nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
