// Package images resolves image URLs found in a transcript to bytes and
// persists them as attachments.
package images

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatimport/internal/capture"

	"go.uber.org/zap"
)

// Tier names reported to observers.
const (
	TierCache    = "cache"
	TierDataURI  = "data_uri"
	TierRerender = "rerender"
	TierFailed   = "failed"
)

// DefaultRenderTimeout bounds the in-page re-render of one image.
const DefaultRenderTimeout = 10 * time.Second

// Image is a resolved image body.
type Image struct {
	Data        []byte
	ContentType string
}

// Resolver is one tier of the fallback chain. A nil image with a nil error is
// a miss; an error is a failed attempt. Either way the next tier is tried.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, url string) (*Image, error)
}

// Chain tries resolvers in order and returns the first image produced.
type Chain struct {
	resolvers []Resolver
	log       *zap.Logger
}

// NewChain builds a chain over resolvers in priority order.
func NewChain(log *zap.Logger, resolvers ...Resolver) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{resolvers: resolvers, log: log}
}

// Resolve returns the first image any tier produces and the tier's name, or
// nil and TierFailed. Tier errors are logged, never returned.
func (c *Chain) Resolve(ctx context.Context, url string) (*Image, string) {
	for _, r := range c.resolvers {
		if ctx.Err() != nil {
			break
		}
		img, err := r.Resolve(ctx, url)
		if err != nil {
			c.log.Debug("resolver failed", zap.String("tier", r.Name()), zap.String("url", truncate(url)), zap.Error(err))
			continue
		}
		if img != nil && len(img.Data) > 0 {
			return img, r.Name()
		}
	}
	return nil, TierFailed
}

// Lookup is the read side of a page's interception cache.
type Lookup interface {
	Lookup(url string) (capture.Entry, bool)
}

// CacheResolver serves bodies captured from the page's network stream.
type CacheResolver struct {
	Cache Lookup
}

func (CacheResolver) Name() string { return TierCache }

func (r CacheResolver) Resolve(_ context.Context, url string) (*Image, error) {
	if r.Cache == nil {
		return nil, nil
	}
	e, ok := r.Cache.Lookup(url)
	if !ok {
		return nil, nil
	}
	return &Image{Data: e.Data, ContentType: e.ContentType}, nil
}

// DataURIResolver decodes inline base64 images.
type DataURIResolver struct{}

func (DataURIResolver) Name() string { return TierDataURI }

func (DataURIResolver) Resolve(_ context.Context, url string) (*Image, error) {
	if !IsDataURI(url) {
		return nil, nil
	}
	return DecodeDataURI(url)
}

// Evaluator runs a script in the page and returns its JSON result.
type Evaluator interface {
	Evaluate(ctx context.Context, js string, args ...interface{}) ([]byte, error)
}

// RerenderJS loads src into an <img>, draws it onto a canvas and returns the
// canvas as a PNG data URL.
const RerenderJS = `(src, timeoutMs) => new Promise((resolve, reject) => {
	const img = new Image();
	img.crossOrigin = 'anonymous';
	const timer = setTimeout(() => reject(new Error('image load timed out')), timeoutMs);
	img.onload = () => {
		clearTimeout(timer);
		try {
			if (!img.naturalWidth || !img.naturalHeight) {
				reject(new Error('image has no dimensions'));
				return;
			}
			const canvas = document.createElement('canvas');
			canvas.width = img.naturalWidth;
			canvas.height = img.naturalHeight;
			canvas.getContext('2d').drawImage(img, 0, 0);
			resolve(canvas.toDataURL('image/png'));
		} catch (e) {
			reject(e);
		}
	};
	img.onerror = () => {
		clearTimeout(timer);
		reject(new Error('image failed to load'));
	};
	img.src = src;
})`

// RenderResolver re-renders the image inside the page. It covers images the
// network layer never saw, such as ones served from the browser cache.
type RenderResolver struct {
	Page    Evaluator
	Timeout time.Duration
}

func (RenderResolver) Name() string { return TierRerender }

func (r RenderResolver) Resolve(ctx context.Context, url string) (*Image, error) {
	if r.Page == nil {
		return nil, nil
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultRenderTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := r.Page.Evaluate(ctx, RerenderJS, url, timeout.Milliseconds())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("re-render timed out after %s: %w", timeout, err)
		}
		return nil, fmt.Errorf("re-render: %w", err)
	}
	var dataURL string
	if err := json.Unmarshal(raw, &dataURL); err != nil {
		return nil, fmt.Errorf("decode re-render result: %w", err)
	}
	return DecodeDataURI(dataURL)
}

func truncate(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
