// Package bot runs the single-threaded control loop: poll the chat
// list, match triggers, reply, record the fingerprint. A watchdog
// reloads the page after prolonged inactivity and a bounded restart
// budget guards browser startup.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/codealisha99/loyalL/internal/browser"
	"github.com/codealisha99/loyalL/internal/config"
	"github.com/codealisha99/loyalL/internal/dedupe"
	"github.com/codealisha99/loyalL/internal/respond"
	"github.com/codealisha99/loyalL/internal/watch"
)

const shutdownGrace = 10 * time.Second

// driver is the browser lifecycle as the control loop sees it.
type driver interface {
	Start(ctx context.Context) error
	AwaitReady(ctx context.Context) error
	Reload(ctx context.Context) error
	Restart(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Page() *rod.Page
}

// scanner yields the matched conversations for one tick.
type scanner interface {
	Scan(page *rod.Page) ([]watch.Conversation, int, error)
	SetTable(table *watch.TriggerTable)
}

// Bot wires the session manager, poller, responder and dedupe store
// together. Everything runs on the goroutine that calls Run; the only
// other goroutine is the fsnotify watcher, which communicates through
// a flag.
type Bot struct {
	cfg       *config.Config
	log       *zap.Logger
	session   driver
	poller    scanner
	responder *respond.Responder
	store     *dedupe.Store
	watcher   *watch.Watcher

	lastActivity time.Time
}

// New builds a bot from configuration. The trigger table is loaded
// here so a broken trigger file fails fast instead of at first match.
func New(cfg *config.Config, log *zap.Logger) (*Bot, error) {
	table, err := watch.LoadTriggers(cfg.Triggers.Path)
	if err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}

	store := dedupe.New(cfg.Dedupe.Path, cfg.Dedupe.MaxEntries, cfg.Dedupe.FlushEvery, log)

	session := browser.NewManager(browser.Config{
		ProfileDir:     cfg.Browser.ProfileDir,
		TargetURL:      cfg.Browser.TargetURL,
		Headless:       cfg.Browser.Headless,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		LoadTimeout:    cfg.GetLoadTimeout(),
		SessionStore:   cfg.Browser.SessionStore,
	}, log)

	return &Bot{
		cfg:       cfg,
		log:       log,
		session:   session,
		poller:    watch.NewPoller(table, store, log),
		responder: respond.New(log),
		store:     store,
	}, nil
}

// Run drives the loop until ctx is cancelled or the restart budget is
// exhausted.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.store.Load(); err != nil {
		b.log.Warn("dedupe store unreadable, starting empty", zap.Error(err))
	}

	if b.cfg.Triggers.Path != "" {
		w, err := watch.NewWatcher(b.cfg.Triggers.Path, b.log)
		if err != nil {
			b.log.Warn("trigger file not watched", zap.Error(err))
		} else {
			b.watcher = w
		}
	}

	if err := b.startWithBudget(ctx); err != nil {
		b.cleanup()
		return err
	}
	defer b.cleanup()

	b.lastActivity = time.Now()
	ticker := time.NewTicker(b.cfg.GetPollInterval())
	defer ticker.Stop()

	faults := 0
	for {
		select {
		case <-ctx.Done():
			b.log.Info("interrupt received, shutting down")
			return nil
		case <-ticker.C:
			b.maybeReloadTriggers()

			if err := b.cycle(ctx); err != nil {
				if ctx.Err() != nil {
					b.log.Info("interrupt received, shutting down")
					return nil
				}
				faults++
				b.log.Warn("poll cycle fault", zap.Error(err), zap.Int("consecutive", faults))
				if faults > b.cfg.Poll.FaultCap {
					if err := b.recover(ctx); err != nil {
						return err
					}
					faults = 0
				}
				continue
			}
			faults = 0

			if time.Since(b.lastActivity) > b.cfg.GetWatchdogThreshold() {
				b.log.Info("watchdog: no activity, reloading page",
					zap.Duration("threshold", b.cfg.GetWatchdogThreshold()))
				if err := b.session.Reload(ctx); err != nil {
					b.log.Warn("watchdog reload failed", zap.Error(err))
					if err := b.recover(ctx); err != nil {
						return err
					}
				}
				b.lastActivity = time.Now()
			}
		}
	}
}

// cycle runs one scan and replies to every matched conversation, at
// most one reply per conversation. A conversation is recorded whether
// the reply succeeded or failed; both states are terminal, so a broken
// conversation cannot wedge the loop.
//
// A returned error always means a driver-level fault: element misses
// are absorbed by the selector waterfalls, and a failed reply only
// escalates when the page itself stopped responding.
func (b *Bot) cycle(ctx context.Context) error {
	page := b.session.Page()

	convs, markers, err := b.poller.Scan(page)
	if err != nil {
		return err
	}
	if markers > 0 {
		b.lastActivity = time.Now()
	}

	for _, conv := range convs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		replyErr := b.responder.Reply(ctx, page, conv)
		b.store.Add(conv.Fingerprint)
		if replyErr == nil {
			b.lastActivity = time.Now()
			continue
		}
		if herr := browser.Health(page); herr != nil {
			return fmt.Errorf("reply failed with dead page: %w", herr)
		}
	}
	return nil
}

// startWithBudget starts the browser and waits for readiness, tearing
// down and relaunching up to the restart budget on load timeout.
func (b *Bot) startWithBudget(ctx context.Context) error {
	budget := b.cfg.Browser.RestartBudget
	var lastErr error

	for attempt := 0; attempt <= budget; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 0 {
			b.log.Warn("restarting browser",
				zap.Int("attempt", attempt),
				zap.Int("budget", budget),
				zap.Error(lastErr))
		}

		var err error
		if attempt == 0 {
			err = b.session.Start(ctx)
		} else {
			err = b.session.Restart(ctx)
		}
		if err != nil {
			lastErr = err
			continue
		}

		if err := b.session.AwaitReady(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("browser never became ready after %d restarts: %w", budget, lastErr)
}

// recover first tries a page reload, then a full restart within the
// budget. Failure here is fatal for the process.
func (b *Bot) recover(ctx context.Context) error {
	b.log.Warn("recovering session")
	if err := b.session.Reload(ctx); err == nil {
		return nil
	}
	return b.startWithBudget(ctx)
}

// maybeReloadTriggers swaps in a fresh trigger table when the watcher
// flagged a change. A file that fails to parse keeps the old table.
func (b *Bot) maybeReloadTriggers() {
	if b.watcher == nil || !b.watcher.Dirty() {
		return
	}

	table, err := watch.LoadTriggers(b.cfg.Triggers.Path)
	if err != nil {
		b.log.Warn("trigger reload failed, keeping previous table", zap.Error(err))
		return
	}
	b.poller.SetTable(table)
	b.log.Info("trigger table reloaded", zap.Int("entries", table.Len()))
}

// cleanup flushes the dedupe store and shuts the browser down, best
// effort, under its own deadline since the run context is usually
// already cancelled.
func (b *Bot) cleanup() {
	if err := b.store.Flush(); err != nil {
		b.log.Warn("final dedupe flush failed", zap.Error(err))
	}

	if b.watcher != nil {
		if err := b.watcher.Close(); err != nil {
			b.log.Warn("trigger watcher close failed", zap.Error(err))
		}
		b.watcher = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := b.session.Shutdown(ctx); err != nil {
		b.log.Warn("browser shutdown failed", zap.Error(err))
	}
}
