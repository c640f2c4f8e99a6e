package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// MinContentLength is the text length below which a page is assumed to be
// rendered client side.
const MinContentLength = 200

// ShouldUseBrowser reports whether extracted text is too short to be useful.
func ShouldUseBrowser(extractedText string) bool {
	return len(strings.TrimSpace(extractedText)) < MinContentLength
}

// PageRenderer returns the HTML of a page after client-side rendering.
type PageRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Renderer renders pages as tabs of one headless Chrome, started on first
// use and kept until Close. Chrome or Chromium must be installed.
type Renderer struct {
	timeout time.Duration
	settle  time.Duration
	tabs    chan struct{}
	logger  *zap.Logger

	mu      sync.Mutex
	browser context.Context
	stop    []context.CancelFunc
	closed  bool
}

// NewRenderer creates a Renderer with at most maxTabs pages open at once.
func NewRenderer(timeout time.Duration, maxTabs int, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		timeout: timeout,
		settle:  2 * time.Second,
		tabs:    make(chan struct{}, max(1, maxTabs)),
		logger:  logger,
	}
}

// start launches Chrome if it is not running yet.
func (r *Renderer) start() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("renderer is closed")
	}
	if r.browser != nil {
		return r.browser, nil
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(),
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	r.logger.Info("headless browser started")
	r.browser = browserCtx
	r.stop = []context.CancelFunc{cancelBrowser, cancelAlloc}
	return browserCtx, nil
}

// Render opens url in a new tab and returns its HTML once the body is ready.
func (r *Renderer) Render(ctx context.Context, url string) (string, error) {
	select {
	case r.tabs <- struct{}{}:
		defer func() { <-r.tabs }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	browser, err := r.start()
	if err != nil {
		return "", err
	}

	tabCtx, cancel := chromedp.NewContext(browser)
	defer cancel()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.timeout)
	defer cancelTimeout()
	// The tab belongs to the browser, not the caller; stop it when the caller gives up.
	stopAfter := context.AfterFunc(ctx, cancel)
	defer stopAfter()

	var html string
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(r.settle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser rendering failed: %w", err)
	}

	r.logger.Debug("rendered page", zap.String("url", url), zap.Int("bytes", len(html)))
	return html, nil
}

// Close shuts Chrome down. Render fails afterwards.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, cancel := range r.stop {
		cancel()
	}
	r.stop = nil
	r.browser = nil
}
