// Package importer turns a public share URL into a normalized conversation
// with its images stored locally.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatimport/internal/browser"
	"chatimport/internal/capture"
	"chatimport/internal/conversation"
	"chatimport/internal/extract"
	"chatimport/internal/images"
	"chatimport/internal/logging"
	"chatimport/internal/platform"

	"go.uber.org/zap"
)

// Default stage timeouts.
const (
	DefaultNavigationTimeout = 60 * time.Second
	DefaultReadyTimeout      = 10 * time.Second
	DefaultSettleDelay       = 5 * time.Second
	DefaultExtractTimeout    = 30 * time.Second
)

// Page is a browser tab owned by one import.
type Page interface {
	extract.Page
	ID() string
	Navigate(ctx context.Context, url string) error
	Images() *capture.Cache
	Close() error
}

// PageOpener hands out fresh pages.
type PageOpener interface {
	OpenPage(ctx context.Context) (Page, error)
}

type browserPages struct {
	mgr *browser.SessionManager
}

// BrowserPages adapts a SessionManager to PageOpener.
func BrowserPages(mgr *browser.SessionManager) PageOpener {
	return browserPages{mgr: mgr}
}

func (b browserPages) OpenPage(ctx context.Context) (Page, error) {
	p, err := b.mgr.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Metrics receives import and image outcomes.
type Metrics interface {
	ObserveImport(platform, outcome string, elapsed time.Duration)
	ImageResolved(tier string)
}

// Options configures an Importer. Zero durations use the defaults.
type Options struct {
	NavigationTimeout time.Duration
	ReadyTimeout      time.Duration
	ExtractTimeout    time.Duration
	ImageTimeout      time.Duration
	SettleDelay       time.Duration
	// JobTimeout bounds a whole import when positive.
	JobTimeout time.Duration

	Store   images.Store
	Logger  *zap.Logger
	Metrics Metrics
	Now     func() time.Time
}

// Importer runs imports. It is safe for concurrent use; each call owns its
// own page.
type Importer struct {
	pages PageOpener
	opts  Options
	log   *zap.Logger
}

// New creates an Importer.
func New(pages PageOpener, opts Options) (*Importer, error) {
	if pages == nil {
		return nil, errors.New("page opener required")
	}
	if opts.Store == nil {
		return nil, errors.New("image store required")
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = DefaultExtractTimeout
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = images.DefaultRenderTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{pages: pages, opts: opts, log: log}, nil
}

// Import scrapes shareURL and returns the normalized conversation. The page
// it opens is closed before Import returns, whatever the outcome. A job whose
// context ends before every image is resolved fails with KindAborted.
func (im *Importer) Import(ctx context.Context, shareURL string) (result *conversation.ImportResult, err error) {
	start := time.Now()
	url := platform.Normalize(shareURL)
	id := platform.Unsupported
	defer func() {
		im.record(id, err, time.Since(start))
	}()

	if url == "" {
		return nil, newError(KindInvalidInput, shareURL, nil)
	}
	id = platform.Detect(url)
	strategy, ok := extract.For(id)
	if !ok {
		return nil, newError(KindUnsupportedPlatform, url, nil)
	}

	log := im.log.With(zap.String("platform", string(id)), zap.String("url", url))
	log.Info("import started")

	if im.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, im.opts.JobTimeout)
		defer cancel()
	}

	page, err := im.pages.OpenPage(ctx)
	if err != nil {
		return nil, im.fail(ctx, log, KindBrowserUnavailable, url, err)
	}
	log = log.With(zap.String("page", page.ID()))
	defer func() {
		if cerr := page.Close(); cerr != nil {
			log.Warn("page close failed", zap.Error(cerr))
			return
		}
		log.Debug("page released")
	}()

	timer := logging.StartTimer(log, "navigate")
	navCtx, cancel := context.WithTimeout(ctx, im.opts.NavigationTimeout)
	err = page.Navigate(navCtx, url)
	cancel()
	timer.StopWithThreshold(im.opts.NavigationTimeout / 2)
	if err != nil {
		return nil, im.fail(ctx, log, KindNavigationFailed, url, err)
	}

	timer = logging.StartTimer(log, "extract")
	ex, err := strategy.Extract(ctx, page, extract.Options{
		ReadyTimeout: im.opts.ReadyTimeout,
		EvalTimeout:  im.opts.ExtractTimeout,
		SettleDelay:  im.opts.SettleDelay,
		Logger:       log,
	})
	timer.StopWithThreshold(im.opts.ReadyTimeout + im.opts.SettleDelay + im.opts.ExtractTimeout/2)
	if err != nil {
		kind := KindExtractionFailed
		if errors.Is(err, extract.ErrNotReady) {
			kind = KindNavigationFailed
		}
		return nil, im.fail(ctx, log, kind, url, err)
	}

	turns := conversation.Normalize(ex.Entries)
	if len(turns) == 0 {
		return nil, im.fail(ctx, log, KindEmptyConversation, url, nil)
	}

	chain := images.NewChain(log,
		images.CacheResolver{Cache: page.Images()},
		images.DataURIResolver{},
		images.RenderResolver{Page: page, Timeout: im.opts.ImageTimeout},
	)
	persister := images.NewPersister(chain, im.opts.Store, log)
	if im.opts.Metrics != nil {
		persister.Observe = im.opts.Metrics.ImageResolved
	}
	timer = logging.StartTimer(log, "images")
	for i := range turns {
		turns[i].Attachments = persister.Attach(ctx, turns[i].ImageURLs)
	}
	timer.Stop()
	if cerr := ctx.Err(); cerr != nil {
		return nil, im.fail(ctx, log, KindAborted, url, cerr)
	}

	result = &conversation.ImportResult{
		Platform:   id,
		Title:      ex.Title,
		SourceURL:  url,
		ImportedAt: im.opts.Now().UTC(),
		Turns:      turns,
	}
	log.Info("import finished",
		zap.Int("turns", len(turns)),
		zap.Int("attachments", result.AttachmentCount()),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// fail classifies and logs a failed stage. Any failure after the job context
// has ended is reported as KindAborted.
func (im *Importer) fail(ctx context.Context, log *zap.Logger, kind ErrorKind, url string, original error) error {
	if cerr := ctx.Err(); cerr != nil && kind != KindAborted {
		kind = KindAborted
		if original == nil {
			original = cerr
		} else {
			original = fmt.Errorf("%w: %v", cerr, original)
		}
	}
	err := newError(kind, url, original)
	log.Error("import failed", zap.String("kind", kind.String()), zap.Error(err))
	return err
}

func (im *Importer) record(id platform.ID, err error, elapsed time.Duration) {
	if im.opts.Metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		if kind, ok := KindOf(err); ok {
			outcome = kind.String()
		}
	}
	label := string(id)
	if id == platform.Unsupported {
		label = "unsupported"
	}
	im.opts.Metrics.ObserveImport(label, outcome, elapsed)
}

// Describe is a one-line summary of a result for logs and CLI output.
func Describe(r *conversation.ImportResult) string {
	return fmt.Sprintf("%s %q: %d turns, %d attachments", r.Platform.DisplayName(), r.Title, len(r.Turns), r.AttachmentCount())
}
