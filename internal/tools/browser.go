package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
)

// BrowserTool renders a page in headless Chrome, for sites readability can't
// handle (heavy client-side rendering). The browser stays warm between calls
// until 'close'.
type BrowserTool struct {
	mu            sync.Mutex
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func NewBrowserTool() *BrowserTool {
	return &BrowserTool{}
}

func (b *BrowserTool) Name() string {
	return "browser"
}

func (b *BrowserTool) Description() string {
	return "Render a webpage in a headless browser. Actions: 'content' (page HTML), 'screenshot', 'close'."
}

func (b *BrowserTool) initBrowser(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.cleanup()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	return chromedp.Run(b.browserCtx)
}

func (b *BrowserTool) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.allocCtx = nil
}

func (b *BrowserTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	action := stringParam(params, "action")
	target := stringParam(params, "url")

	if action == "close" {
		b.mu.Lock()
		b.cleanup()
		b.mu.Unlock()
		return "Browser closed.", nil
	}
	if target == "" {
		return nil, fmt.Errorf("browser requires a 'url' parameter")
	}

	if err := b.initBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	actionCtx, cancel := context.WithTimeout(b.browserCtx, 60*time.Second)
	defer cancel()

	switch action {
	case "", "content":
		var html string
		err := chromedp.Run(actionCtx,
			chromedp.Navigate(target),
			chromedp.ActionFunc(func(ctx context.Context) error {
				node, err := dom.GetDocument().Do(ctx)
				if err != nil {
					return err
				}
				html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
				return err
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to get page content: %w", err)
		}
		if len(html) > 50000 {
			html = html[:50000] + "\n... (content truncated) ..."
		}
		return html, nil

	case "screenshot":
		var buf []byte
		err := chromedp.Run(actionCtx,
			chromedp.Navigate(target),
			chromedp.CaptureScreenshot(&buf),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to capture screenshot: %w", err)
		}
		os.MkdirAll("screenshots", 0755)
		path := filepath.Join("screenshots", fmt.Sprintf("page_%d.png", time.Now().Unix()))
		if err := os.WriteFile(path, buf, 0644); err != nil {
			return nil, fmt.Errorf("failed to save screenshot: %w", err)
		}
		absPath, _ := filepath.Abs(path)
		return fmt.Sprintf("Screenshot saved to %s", absPath), nil

	default:
		return nil, fmt.Errorf("unknown browser action %q", action)
	}
}
