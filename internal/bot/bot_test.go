package bot

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codealisha99/loyalL/internal/config"
	"github.com/codealisha99/loyalL/internal/dedupe"
	"github.com/codealisha99/loyalL/internal/respond"
	"github.com/codealisha99/loyalL/internal/watch"
)

// fakeDriver satisfies the driver interface without a browser and
// records lifecycle calls. The ready hook decides what AwaitReady
// reports, so tests can model a page that stays dead until relaunch.
type fakeDriver struct {
	reloads  atomic.Int32
	restarts atomic.Int32
	reloaded chan struct{}

	reloadErr error
	ready     func(d *fakeDriver) error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{reloaded: make(chan struct{}, 1)}
}

func (d *fakeDriver) Start(context.Context) error { return nil }

func (d *fakeDriver) AwaitReady(context.Context) error {
	if d.ready != nil {
		return d.ready(d)
	}
	return nil
}

func (d *fakeDriver) Reload(context.Context) error {
	d.reloads.Add(1)
	select {
	case d.reloaded <- struct{}{}:
	default:
	}
	return d.reloadErr
}

func (d *fakeDriver) Restart(context.Context) error {
	d.restarts.Add(1)
	return nil
}

func (d *fakeDriver) Shutdown(context.Context) error { return nil }

func (d *fakeDriver) Page() *rod.Page { return nil }

// faultyScanner fails every scan the way a dead devtools connection
// would.
type faultyScanner struct {
	scans atomic.Int32
}

func (s *faultyScanner) Scan(*rod.Page) ([]watch.Conversation, int, error) {
	s.scans.Add(1)
	return nil, 0, errors.New("page unresponsive: devtools connection lost")
}

func (s *faultyScanner) SetTable(*watch.TriggerTable) {}

func newTestBot(t *testing.T, drv driver, sc scanner) *Bot {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Poll.Interval = "1ms"
	cfg.Poll.FaultCap = 2
	cfg.Triggers.Path = ""
	cfg.Dedupe.Path = filepath.Join(t.TempDir(), "replied.json")

	return &Bot{
		cfg:       cfg,
		log:       zap.NewNop(),
		session:   drv,
		poller:    sc,
		responder: respond.New(zap.NewNop()),
		store:     dedupe.New(cfg.Dedupe.Path, 100, 5, zap.NewNop()),
	}
}

func TestRun_ScanFaultsTripRecovery(t *testing.T) {
	drv := newFakeDriver()
	sc := &faultyScanner{}
	b := newTestBot(t, drv, sc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// Consecutive scan faults past the cap must reload the page well
	// before the watchdog threshold would.
	select {
	case <-drv.reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("fault cap never triggered recovery")
	}

	cancel()
	require.NoError(t, <-done)

	assert.GreaterOrEqual(t, sc.scans.Load(), int32(b.cfg.Poll.FaultCap+1),
		"recovery must wait for the cap, not fire on the first fault")
	assert.Zero(t, drv.restarts.Load(), "a successful reload must not escalate to a restart")
}

func TestRun_RecoveryEscalatesToRestart(t *testing.T) {
	drv := newFakeDriver()
	drv.reloadErr = errors.New("reload failed")
	// The page stays dead through reloads; only a relaunch revives it.
	drv.ready = func(d *fakeDriver) error {
		if d.reloads.Load() > 0 && d.restarts.Load() == 0 {
			return errors.New("page still unresponsive")
		}
		return nil
	}
	sc := &faultyScanner{}
	b := newTestBot(t, drv, sc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case <-drv.reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("fault cap never triggered recovery")
	}
	assert.Eventually(t, func() bool { return drv.restarts.Load() > 0 },
		5*time.Second, time.Millisecond,
		"a failed reload must fall back to a relaunch")

	cancel()
	require.NoError(t, <-done)
}

func TestRun_ExhaustedRestartBudgetIsFatal(t *testing.T) {
	drv := newFakeDriver()
	drv.ready = func(*fakeDriver) error {
		return errors.New("login pending")
	}
	b := newTestBot(t, drv, &faultyScanner{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := b.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never became ready")

	assert.Equal(t, int32(b.cfg.Browser.RestartBudget), drv.restarts.Load(),
		"every restart in the budget must be spent before giving up")
}
