package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

type pendingResponse struct {
	url         string
	contentType string
}

// bodyReader fetches a finished response body from the browser.
type bodyReader func(ctx context.Context, id proto.NetworkRequestID) (*proto.NetworkGetResponseBodyResult, error)

// Recorder subscribes to one page's network events and fills a Cache with the
// bodies of image responses. It must be attached before navigation starts.
type Recorder struct {
	cache      *Cache
	classifier *Classifier
	log        *zap.Logger
	read       bodyReader

	// pending is only touched by the subscription goroutine.
	pending map[proto.NetworkRequestID]pendingResponse

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	reads    sync.WaitGroup
	stopOnce sync.Once
}

func newRecorder(cache *Cache, classifier *Classifier, log *zap.Logger, read bodyReader) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		cache:      cache,
		classifier: classifier,
		log:        log,
		read:       read,
		pending:    make(map[proto.NetworkRequestID]pendingResponse),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Attach enables the network domain on page and starts recording into cache.
// The subscription lives until Stop is called.
func Attach(page *rod.Page, cache *Cache, classifier *Classifier, log *zap.Logger) (*Recorder, error) {
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("enable network domain: %w", err)
	}

	r := newRecorder(cache, classifier, log, func(ctx context.Context, id proto.NetworkRequestID) (*proto.NetworkGetResponseBodyResult, error) {
		return proto.NetworkGetResponseBody{RequestID: id}.Call(page.Context(ctx))
	})
	wait := page.Context(r.ctx).EachEvent(
		r.onResponse,
		r.onFinished,
		r.onFailed,
	)
	r.run(wait)
	return r, nil
}

// run drives wait on its own goroutine; wait must return once r.ctx ends.
func (r *Recorder) run(wait func()) {
	go func() {
		defer close(r.done)
		wait()
	}()
}

func (r *Recorder) onResponse(ev *proto.NetworkResponseReceived) {
	if ev.Response == nil {
		return
	}
	if !r.classifier.IsImage(ev.Response.URL, ev.Response.MIMEType) {
		return
	}
	r.pending[ev.RequestID] = pendingResponse{url: ev.Response.URL, contentType: ev.Response.MIMEType}
}

// onFinished fans the body read out so slow reads never stall the event loop.
func (r *Recorder) onFinished(ev *proto.NetworkLoadingFinished) {
	p, ok := r.pending[ev.RequestID]
	if !ok {
		return
	}
	delete(r.pending, ev.RequestID)
	r.reads.Add(1)
	go func() {
		defer r.reads.Done()
		r.readBody(ev.RequestID, p)
	}()
}

func (r *Recorder) onFailed(ev *proto.NetworkLoadingFailed) {
	delete(r.pending, ev.RequestID)
}

func (r *Recorder) readBody(id proto.NetworkRequestID, p pendingResponse) {
	res, err := r.read(r.ctx, id)
	if err != nil {
		r.log.Debug("response body unavailable", zap.String("url", p.url), zap.Error(err))
		return
	}

	data := []byte(res.Body)
	if res.Base64Encoded {
		data, err = base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			r.log.Warn("response body decode failed", zap.String("url", p.url), zap.Error(err))
			return
		}
	}
	if len(data) == 0 {
		return
	}

	ct := MediaType(p.contentType)
	if !strings.HasPrefix(ct, "image/") {
		ct = MediaType(http.DetectContentType(data))
	}
	if r.cache.Store(p.url, Entry{Data: data, ContentType: ct}) {
		r.log.Debug("captured image", zap.String("url", p.url), zap.String("content_type", ct), zap.Int("bytes", len(data)))
	}
}

// Stop ends the subscription and waits for in-flight body reads. Safe to call
// more than once.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		<-r.done
		r.reads.Wait()
	})
}
