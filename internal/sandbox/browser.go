package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/mender/internal/config"
)

var errBrowserClosed = errors.New("browser is closed")

// Browser owns one Chrome process shared by every sandbox pass. The process
// starts on first use and each pass gets its own tab.
type Browser struct {
	cfg          config.BrowserConfig
	blockNetwork bool
	loadTimeout  time.Duration
	logger       *zap.Logger
	tabs         *semaphore.Weighted

	startOnce     sync.Once
	startErr      error
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewBrowser prepares a browser. Nothing is launched until a page is opened.
func NewBrowser(cfg config.BrowserConfig, sandboxCfg config.SandboxConfig, logger *zap.Logger) *Browser {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	loadTimeout := sandboxCfg.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = 10 * time.Second
	}
	return &Browser{
		cfg:          cfg,
		blockNetwork: sandboxCfg.BlockNetwork,
		loadTimeout:  loadTimeout,
		logger:       logger.Named("browser"),
		tabs:         semaphore.NewWeighted(int64(concurrency)),
	}
}

// execOptions translates the browser config into chromedp allocator options.
func execOptions(cfg config.BrowserConfig, blockNetwork bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if blockNetwork {
		// Every host resolves to nothing, so documents cannot reach the network.
		opts = append(opts, chromedp.Flag("host-resolver-rules", "MAP * ~NOTFOUND"))
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(arg, "--")
		if key, value, ok := strings.Cut(arg, "="); ok {
			opts = append(opts, chromedp.Flag(key, value))
			continue
		}
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

func (b *Browser) start() error {
	b.startOnce.Do(func() {
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOptions(b.cfg, b.blockNetwork)...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx,
			chromedp.WithLogf(b.logger.Sugar().Debugf),
			chromedp.WithErrorf(b.logger.Sugar().Debugf),
		)

		launched := make(chan error, 1)
		go func() { launched <- chromedp.Run(browserCtx) }()

		timeout := b.cfg.LaunchTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		select {
		case err := <-launched:
			if err != nil {
				b.startErr = fmt.Errorf("failed to launch browser: %w", err)
			}
		case <-time.After(timeout):
			b.startErr = fmt.Errorf("browser did not start within %s", timeout)
		}

		if b.startErr != nil {
			browserCancel()
			allocCancel()
			return
		}
		b.allocCancel, b.browserCtx, b.browserCancel = allocCancel, browserCtx, browserCancel
		b.logger.Info("Browser started", zap.Int("concurrency", b.cfg.Concurrency))
	})
	return b.startErr
}

// open creates a new tab. The tab is released by the returned session's Close.
func (b *Browser) open(ctx context.Context) (pageSession, error) {
	if err := b.tabs.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	release := func() { b.tabs.Release(1) }

	if err := b.start(); err != nil {
		release()
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	p := &cdpPage{
		ctx:         tabCtx,
		cancel:      tabCancel,
		release:     release,
		loadTimeout: b.loadTimeout,
		logger:      b.logger,
	}

	// Create the target before attaching listeners to it.
	if err := attach(ctx, tabCtx, tabCancel, chromedp.Run, chromedp.EmulateViewport(int64(b.cfg.ViewportWidth), int64(b.cfg.ViewportHeight))); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	p.listen()
	if err := p.run(ctx, runtime.Enable(), log.Enable()); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to enable page events: %w", err)
	}
	return p, nil
}

// attach runs the first actions on a new tab. chromedp binds the target's
// event loop to the context of a tab's first Run, so that context must be the
// tab context itself and never one derived from it. The caller's ctx may still
// abort the attach, which cancels the tab.
func attach(ctx, tabCtx context.Context, tabCancel context.CancelFunc, run func(context.Context, ...chromedp.Action) error, actions ...chromedp.Action) error {
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()
	if err := run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Close shuts the browser down. Pages cannot be opened afterwards.
func (b *Browser) Close() error {
	b.startOnce.Do(func() { b.startErr = errBrowserClosed })
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}
