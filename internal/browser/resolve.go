package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

// Kind selects the query language of a Locator.
type Kind int

const (
	CSS Kind = iota
	XPath
)

// Locator is one strategy in a lookup waterfall. The upstream web
// client is an unversioned third party; selectors rotate between
// releases, so every capability is located through an ordered list of
// candidates where the first non-empty result wins.
type Locator struct {
	Name  string
	Query string
	Kind  Kind
}

// Scope is the subset of rod.Page and rod.Element used for lookups.
type Scope interface {
	Element(selector string) (*rod.Element, error)
	ElementX(xpath string) (*rod.Element, error)
	Elements(selector string) (rod.Elements, error)
	ElementsX(xpath string) (rod.Elements, error)
}

// NoWaitPage returns a page scope whose queries return immediately
// instead of sleeping until the element appears.
func NoWaitPage(p *rod.Page) Scope {
	return p.Sleeper(rod.NotFoundSleeper)
}

// NoWaitElement returns an element scope with the same semantics.
func NoWaitElement(el *rod.Element) Scope {
	return el.Sleeper(rod.NotFoundSleeper)
}

// firstHit runs query over the locators in order and returns the first
// result reported as a hit.
func firstHit[T any](locs []Locator, query func(Locator) (T, bool)) (T, *Locator, bool) {
	for i := range locs {
		if v, ok := query(locs[i]); ok {
			return v, &locs[i], true
		}
	}
	var zero T
	return zero, nil, false
}

// First returns the first element any locator resolves. Lookup errors
// count as a miss and fall through to the next candidate.
func First(scope Scope, locs []Locator) (*rod.Element, *Locator, bool) {
	return firstHit(locs, func(l Locator) (*rod.Element, bool) {
		var el *rod.Element
		var err error
		if l.Kind == XPath {
			el, err = scope.ElementX(l.Query)
		} else {
			el, err = scope.Element(l.Query)
		}
		if err != nil || el == nil {
			return nil, false
		}
		return el, true
	})
}

// FirstSet returns the first non-empty result set any locator yields.
// Result sets are never merged across locators.
func FirstSet(scope Scope, locs []Locator) (rod.Elements, *Locator, bool) {
	return firstHit(locs, func(l Locator) (rod.Elements, bool) {
		var els rod.Elements
		var err error
		if l.Kind == XPath {
			els, err = scope.ElementsX(l.Query)
		} else {
			els, err = scope.Elements(l.Query)
		}
		if err != nil || len(els) == 0 {
			return nil, false
		}
		return els, true
	})
}

// ErrNotReady is returned when no locator matched before the deadline.
var ErrNotReady = errors.New("no locator matched before deadline")

// AwaitAny polls the waterfall against an explicit readiness predicate
// until one locator matches or the timeout elapses.
func AwaitAny(ctx context.Context, page *rod.Page, locs []Locator, timeout, poll time.Duration) (*rod.Element, *Locator, error) {
	scope := NoWaitPage(page)
	deadline := time.Now().Add(timeout)
	for {
		if el, loc, ok := First(scope, locs); ok {
			return el, loc, nil
		}
		if time.Now().After(deadline) {
			return nil, nil, ErrNotReady
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// TextOf extracts trimmed text via a locator waterfall within scope,
// best effort. An element that resolves but has empty text falls
// through to the next candidate.
func TextOf(scope Scope, locs []Locator) (string, bool) {
	txt, _, ok := firstHit(locs, func(l Locator) (string, bool) {
		var el *rod.Element
		var err error
		if l.Kind == XPath {
			el, err = scope.ElementX(l.Query)
		} else {
			el, err = scope.Element(l.Query)
		}
		if err != nil || el == nil {
			return "", false
		}
		s, err := el.Text()
		if err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", false
		}
		return s, true
	})
	return txt, ok
}
