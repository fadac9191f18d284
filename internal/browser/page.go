package browser

import (
	"context"
	"fmt"
	"sync"

	"chatimport/internal/capture"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

// Page is one import's browser tab. It must be closed by whoever opened it.
type Page struct {
	id        string
	page      *rod.Page
	incognito *rod.Browser
	recorder  *capture.Recorder
	cache     *capture.Cache
	log       *zap.Logger
	release   func()

	closeOnce sync.Once
}

// ID identifies the page in logs.
func (p *Page) ID() string {
	return p.id
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}
	return nil
}

// WaitElement blocks until selector matches or ctx ends.
func (p *Page) WaitElement(ctx context.Context, selector string) error {
	_, err := p.page.Context(ctx).Element(selector)
	return err
}

// Evaluate calls a JS function with args, awaits a returned promise, and
// returns the result as JSON.
func (p *Page) Evaluate(ctx context.Context, js string, args ...interface{}) ([]byte, error) {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, err
	}
	return res.Value.MarshalJSON()
}

// HTML returns the serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

// Images returns the bodies captured from this page's network traffic.
func (p *Page) Images() *capture.Cache {
	return p.cache
}

// Close stops capture, closes the tab and disposes its incognito context.
// Safe to call more than once.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.recorder.Stop()
		if cerr := p.page.Close(); cerr != nil {
			err = cerr
		}
		if cerr := p.incognito.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.cache.Reset()
		if p.release != nil {
			p.release()
		}
		p.log.Debug("page closed")
	})
	return err
}
