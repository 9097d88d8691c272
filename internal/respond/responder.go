// Package respond opens a matched conversation and injects the canned
// reply through the message composer.
package respond

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/codealisha99/loyalL/internal/browser"
	"github.com/codealisha99/loyalL/internal/watch"
)

// state tracks a conversation through one reply attempt. None of it is
// observable outside the process; only the dedupe record survives a
// crash.
type state int

const (
	stateUnread state = iota
	stateOpened
	stateReplied
	stateFailed
	stateBackToList
)

func (s state) String() string {
	switch s {
	case stateUnread:
		return "unread"
	case stateOpened:
		return "opened"
	case stateReplied:
		return "replied"
	case stateFailed:
		return "failed"
	case stateBackToList:
		return "back_to_list"
	default:
		return "unknown"
	}
}

var (
	headerLocators = []browser.Locator{
		{Name: "header-testid", Query: `header [data-testid="conversation-info-header"]`, Kind: browser.CSS},
		{Name: "header-title", Query: `//header//span[@dir="auto"]`, Kind: browser.XPath},
		{Name: "main-header", Query: `#main header`, Kind: browser.CSS},
	}

	inputLocators = []browser.Locator{
		{Name: "composer-title", Query: `//div[@title="Type a message"]`, Kind: browser.XPath},
		{Name: "composer-tab", Query: `div[contenteditable="true"][data-tab="10"]`, Kind: browser.CSS},
		{Name: "footer-editable", Query: `footer div[contenteditable="true"]`, Kind: browser.CSS},
		{Name: "any-editable", Query: `div[contenteditable="true"]`, Kind: browser.CSS},
	}

	sendLocators = []browser.Locator{
		{Name: "send-testid", Query: `button[data-testid="compose-btn-send"]`, Kind: browser.CSS},
		{Name: "send-span", Query: `//span[@data-testid="send"]`, Kind: browser.XPath},
		{Name: "send-aria", Query: `button[aria-label="Send"]`, Kind: browser.CSS},
	}

	backLocators = []browser.Locator{
		{Name: "back-testid", Query: `//span[@data-testid="back"]`, Kind: browser.XPath},
		{Name: "back-aria", Query: `button[aria-label="Back"]`, Kind: browser.CSS},
	}
)

const (
	openConfirmAttempts = 5
	openConfirmPoll     = 400 * time.Millisecond
)

// Responder drives the reply flow. Element and interaction failures
// are non-fatal and fall through to the next candidate; only running
// out of candidates fails the conversation.
type Responder struct {
	log *zap.Logger
}

// New creates a responder.
func New(log *zap.Logger) *Responder {
	return &Responder{log: log}
}

// Reply drives one conversation through
// unread -> opened -> replied|failed -> back_to_list.
func (r *Responder) Reply(ctx context.Context, page *rod.Page, conv watch.Conversation) error {
	log := r.log.With(zap.String("name", conv.Name))
	st := stateUnread

	if err := r.open(conv); err != nil {
		log.Warn("could not open conversation", zap.Error(err))
		return err
	}
	st = stateOpened

	defer func() {
		r.backToList(ctx, page, log)
		log.Debug("conversation finished", zap.Stringer("state", st), zap.String("final", stateBackToList.String()))
	}()

	if err := r.confirmOpened(ctx, page); err != nil {
		st = stateFailed
		log.Warn("conversation header never appeared", zap.Error(err))
		return err
	}

	if err := r.compose(page, Sanitize(conv.Reply), log); err != nil {
		st = stateFailed
		log.Warn("reply failed", zap.Error(err))
		return err
	}

	st = stateReplied
	log.Info("reply sent", zap.String("preview", conv.Preview))
	return nil
}

// open clicks the unread marker, then the enclosing row, then falls
// back to a script click.
func (r *Responder) open(conv watch.Conversation) error {
	if err := conv.Marker.Click(proto.InputMouseButtonLeft, 1); err == nil {
		return nil
	}
	if conv.Container != nil {
		if err := conv.Container.Click(proto.InputMouseButtonLeft, 1); err == nil {
			return nil
		}
	}
	if _, err := conv.Marker.Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("all click strategies failed: %w", err)
	}
	return nil
}

// confirmOpened polls for a conversation header marker, bounded by a
// fixed attempt count.
func (r *Responder) confirmOpened(ctx context.Context, page *rod.Page) error {
	scope := browser.NoWaitPage(page)
	for attempt := 0; attempt < openConfirmAttempts; attempt++ {
		if _, loc, ok := browser.First(scope, headerLocators); ok {
			r.log.Debug("conversation open confirmed", zap.String("marker", loc.Name))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(openConfirmPoll):
		}
	}
	return fmt.Errorf("no header marker after %d attempts", openConfirmAttempts)
}

// compose locates the editable input, clears it, injects the text and
// submits.
func (r *Responder) compose(page *rod.Page, text string, log *zap.Logger) error {
	el, loc, ok := browser.First(browser.NoWaitPage(page), inputLocators)
	if !ok {
		return fmt.Errorf("no message input found")
	}
	log.Debug("message input located", zap.String("locator", loc.Name))

	if err := el.Focus(); err != nil {
		log.Debug("focus failed", zap.Error(err))
	}

	// Select any draft so the typed text replaces it.
	if err := el.SelectAllText(); err != nil {
		log.Debug("select-all failed", zap.Error(err))
	}

	if err := el.Input(text); err != nil {
		log.Debug("keystroke input failed, assigning DOM property", zap.Error(err))
		if _, evalErr := el.Eval(`(text) => {
			this.textContent = text;
			this.dispatchEvent(new InputEvent('input', {bubbles: true}));
		}`, text); evalErr != nil {
			return fmt.Errorf("inject reply text: %w", evalErr)
		}
	}

	return r.submit(page, el, log)
}

// submit clicks a send control, or synthesizes Enter when no control
// can be found or clicked.
func (r *Responder) submit(page *rod.Page, composer *rod.Element, log *zap.Logger) error {
	if btn, loc, ok := browser.First(browser.NoWaitPage(page), sendLocators); ok {
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err == nil {
			log.Debug("submitted via send control", zap.String("locator", loc.Name))
			return nil
		}
		log.Debug("send control click failed, synthesizing Enter")
	}

	if err := composer.Type(input.Enter); err != nil {
		return fmt.Errorf("synthesize enter: %w", err)
	}
	log.Debug("submitted via synthesized Enter")
	return nil
}

// backToList returns to the chat list via the back control, falling
// back to history navigation. Best effort.
func (r *Responder) backToList(ctx context.Context, page *rod.Page, log *zap.Logger) {
	if btn, _, ok := browser.First(browser.NoWaitPage(page), backLocators); ok {
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err == nil {
			return
		}
	}
	if err := page.Context(ctx).NavigateBack(); err != nil {
		log.Debug("could not navigate back to chat list", zap.Error(err))
	}
}
