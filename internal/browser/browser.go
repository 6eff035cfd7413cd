// Package browser is the driver boundary: everything the engine needs
// from a browser automation backend, and a Playwright implementation of
// it. The engine never assumes more than these primitives.
package browser

import (
	"context"
	"time"
)

// Rect is a bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the box middle point.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// AXNode is one entry of the page's accessibility-style snapshot:
// a role/name-labeled view of the interactive surface, independent of
// raw DOM structure.
type AXNode struct {
	Role     string  `json:"role"`
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Disabled bool    `json:"disabled"`
	Checked  bool    `json:"checked"`
	Selector string  `json:"selector"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// BBox returns the node's bounding box.
func (n AXNode) BBox() Rect {
	return Rect{X: n.X, Y: n.Y, Width: n.Width, Height: n.Height}
}

// Page is one browser tab/page handle.
type Page interface {
	URL() string
	Title(ctx context.Context) (string, error)

	// Snapshot returns the accessibility-style snapshot, cached per URL
	// with a short TTL; InvalidateSnapshot forces the next call fresh.
	Snapshot(ctx context.Context) ([]AXNode, error)
	InvalidateSnapshot()

	ByRole(role, name string, exact bool) Locator
	ByLabel(text string, exact bool) Locator
	ByPlaceholder(text string) Locator
	ByText(text string, exact bool) Locator
	BySelector(selector string) Locator

	// Frames lists embedded sub-documents, excluding the top document.
	Frames() []Frame

	Evaluate(ctx context.Context, script string, args ...any) (any, error)

	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error

	PressKey(ctx context.Context, key string) error
	Scroll(ctx context.Context, direction string, distance int) error

	SetCookie(ctx context.Context, name, value string) error
	ClearCookies(ctx context.Context) error
	ClearStorage(ctx context.Context, scope string) error

	Screenshot(ctx context.Context, path string) error
	Close(ctx context.Context) error
}

// Frame is an embedded sub-document searched only as a last resort.
type Frame interface {
	URL() string
	ByRole(role, name string, exact bool) Locator
	ByLabel(text string, exact bool) Locator
	ByText(text string, exact bool) Locator
}

// Locator is an opaque handle to zero or more nodes. The matcher narrows
// a multi-node handle with Nth/First/Last before ever returning it.
type Locator interface {
	Count(ctx context.Context) (int, error)
	Nth(i int) Locator
	First() Locator
	Last() Locator

	Click(ctx context.Context, force bool) error
	DoubleClick(ctx context.Context) error
	RightClick(ctx context.Context) error
	Fill(ctx context.Context, text string) error
	Clear(ctx context.Context) error
	Check(ctx context.Context) error
	Uncheck(ctx context.Context) error
	Hover(ctx context.Context) error
	Focus(ctx context.Context) error
	Press(ctx context.Context, key string) error
	SelectOption(ctx context.Context, value string) error
	SetFiles(ctx context.Context, paths ...string) error
	DragTo(ctx context.Context, dest Locator) error
	ScrollIntoView(ctx context.Context) error

	Text(ctx context.Context) (string, error)
	Value(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	BoundingBox(ctx context.Context) (*Rect, error)
	IsVisible(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	IsChecked(ctx context.Context) (bool, error)

	Evaluate(ctx context.Context, script string, arg any) (any, error)
	WaitVisible(ctx context.Context, timeout time.Duration) error
}
