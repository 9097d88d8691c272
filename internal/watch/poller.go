package watch

import (
	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/codealisha99/loyalL/internal/browser"
	"github.com/codealisha99/loyalL/internal/dedupe"
)

// Locator waterfalls for the chat-list scrape. The upstream client is
// unversioned; each capability carries several selector generations.
var (
	unreadLocators = []browser.Locator{
		{Name: "unread-testid", Query: `//span[@data-testid="msg-unread"]`, Kind: browser.XPath},
		{Name: "unread-aria", Query: `span[aria-label*="unread message"]`, Kind: browser.CSS},
		{Name: "unread-class", Query: `//span[contains(@class, "unread")]`, Kind: browser.XPath},
	}

	nameLocators = []browser.Locator{
		{Name: "title-dir-span", Query: `span[dir="auto"][title]`, Kind: browser.CSS},
		{Name: "title-span", Query: `span[title]`, Kind: browser.CSS},
	}

	previewLocators = []browser.Locator{
		{Name: "last-msg-testid", Query: `span[data-testid="last-msg-status"]`, Kind: browser.CSS},
		{Name: "secondary-ltr", Query: `.//div[contains(@class, "_ak8k")]//span[@dir="ltr"]`, Kind: browser.XPath},
		{Name: "ltr-span", Query: `span[dir="ltr"]`, Kind: browser.CSS},
	}
)

// conversationContainer matches an enclosing chat-list row.
const conversationContainer = `[role="listitem"], [data-testid="cell-frame-container"], div[class*="chat"]`

// maxAncestorLevels bounds the walk from an unread marker up to its
// conversation row when no container selector matches.
const maxAncestorLevels = 6

// Conversation is one unread chat selected for a reply this cycle.
type Conversation struct {
	Name        string
	Preview     string
	Fingerprint string
	Reply       string

	// Marker is the unread badge; Container the enclosing row. Either
	// is a click target for opening the conversation.
	Marker    *rod.Element
	Container *rod.Element
}

// Handled reports fingerprints that already received a reply.
type Handled interface {
	Contains(fp string) bool
}

// Poller runs one scan per control-loop tick. It never mutates the
// dedupe store; recording happens only after the responder acted.
type Poller struct {
	table   *TriggerTable
	handled Handled
	log     *zap.Logger
}

// NewPoller creates a poller over the given trigger table.
func NewPoller(table *TriggerTable, handled Handled, log *zap.Logger) *Poller {
	return &Poller{table: table, handled: handled, log: log}
}

// SetTable swaps the trigger table. Called from the control loop after
// a live reload; the poller itself is single threaded.
func (p *Poller) SetTable(table *TriggerTable) {
	p.table = table
}

// Scan queries the unread-marker waterfall (first non-empty set wins),
// resolves each marker's conversation row, extracts name and preview
// best effort, and returns the conversations whose previews match a
// trigger and are not yet handled. The second return is the number of
// unread markers seen, which counts as activity for the watchdog.
//
// Element misses never error; only a failed page health check does,
// so a returned error always means the driver needs recovery.
func (p *Poller) Scan(page *rod.Page) ([]Conversation, int, error) {
	if err := browser.Health(page); err != nil {
		return nil, 0, err
	}

	scope := browser.NoWaitPage(page)

	markers, loc, ok := browser.FirstSet(scope, unreadLocators)
	if !ok {
		return nil, 0, nil
	}
	p.log.Debug("unread markers found",
		zap.Int("count", len(markers)),
		zap.String("locator", loc.Name))

	var out []Conversation
	for _, marker := range markers {
		container := conversationRoot(marker)

		cscope := browser.NoWaitElement(container)
		name, _ := browser.TextOf(cscope, nameLocators)
		preview, found := browser.TextOf(cscope, previewLocators)
		if !found {
			if s, err := container.Text(); err == nil {
				preview = s
			}
		}
		if name == "" && preview == "" {
			p.log.Debug("marker without name or preview, skipping")
			continue
		}

		fp := dedupe.Fingerprint(name, preview)
		if p.handled.Contains(fp) {
			continue
		}

		reply, matched := p.table.Match(preview)
		if !matched {
			continue
		}

		p.log.Info("trigger matched",
			zap.String("name", name),
			zap.String("preview", preview))
		out = append(out, Conversation{
			Name:        name,
			Preview:     preview,
			Fingerprint: fp,
			Reply:       reply,
			Marker:      marker,
			Container:   container,
		})
	}
	return out, len(markers), nil
}

// conversationRoot walks a bounded number of ancestor levels from an
// unread marker, returning the first ancestor that looks like a chat
// row, or the topmost visited ancestor as a general fallback.
func conversationRoot(el *rod.Element) *rod.Element {
	node := el
	for i := 0; i < maxAncestorLevels; i++ {
		parent, err := node.Parent()
		if err != nil || parent == nil {
			return node
		}
		if ok, _ := parent.Matches(conversationContainer); ok {
			return parent
		}
		node = parent
	}
	return node
}
