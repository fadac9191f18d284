package importer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"chatimport/internal/capture"
	"chatimport/internal/conversation"
	"chatimport/internal/extract"
	"chatimport/internal/images"
	"chatimport/internal/platform"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var pixel, _ = base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

type fakePage struct {
	mu        sync.Mutex
	navErr    error
	ready     bool
	title     string
	entries   []conversation.RawEntry
	cache     *capture.Cache
	renders   map[string]string
	closed    int
	navigated string
	// stalled re-renders only return once their context ends.
	stalled map[string]bool
}

func newFakePage() *fakePage {
	return &fakePage{ready: true, cache: capture.NewCache()}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.navigated = url
	return p.navErr
}

func (p *fakePage) WaitElement(ctx context.Context, selector string) error {
	if p.ready {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePage) Evaluate(ctx context.Context, js string, args ...interface{}) ([]byte, error) {
	switch js {
	case extract.TitleJS:
		return json.Marshal(p.title)
	case extract.EntriesJS:
		return json.Marshal(p.entries)
	case images.RerenderJS:
		if p.stalled[args[0].(string)] {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if uri, ok := p.renders[args[0].(string)]; ok {
			return json.Marshal(uri)
		}
		return nil, errors.New("image failed to load")
	}
	return nil, fmt.Errorf("unexpected script")
}

func (p *fakePage) HTML(ctx context.Context) (string, error) { return "<html></html>", nil }

func (p *fakePage) ID() string { return "page-1" }

func (p *fakePage) Images() *capture.Cache { return p.cache }

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type fakeOpener struct {
	page   *fakePage
	err    error
	opened int
}

func (o *fakeOpener) OpenPage(ctx context.Context) (Page, error) {
	o.opened++
	if o.err != nil {
		return nil, o.err
	}
	return o.page, nil
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *memStore) Put(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[name] = data
	return nil
}

type observed struct {
	platform, outcome string
}

type fakeMetrics struct {
	imports []observed
	tiers   []string
}

func (m *fakeMetrics) ObserveImport(platform, outcome string, _ time.Duration) {
	m.imports = append(m.imports, observed{platform, outcome})
}

func (m *fakeMetrics) ImageResolved(tier string) { m.tiers = append(m.tiers, tier) }

var importedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newImporter(t *testing.T, opener PageOpener, store images.Store, m Metrics) *Importer {
	t.Helper()
	im, err := New(opener, Options{
		ReadyTimeout: 50 * time.Millisecond,
		ImageTimeout: 50 * time.Millisecond,
		Store:        store,
		Metrics:      m,
		Now:          func() time.Time { return importedAt },
	})
	require.NoError(t, err)
	return im
}

func TestImport_EndToEnd(t *testing.T) {
	const imgURL = "https://claude.ai/api/org/files/f1/preview"
	page := newFakePage()
	page.title = "Greetings"
	page.entries = []conversation.RawEntry{
		{Role: conversation.RoleAssistant, Text: "Hi there!", ImageURLs: []string{imgURL}, Top: 200},
		{Role: conversation.RoleUser, Text: "  Hello  ", Top: 100},
	}
	page.cache.Store(imgURL, capture.Entry{Data: pixel, ContentType: "image/png"})

	store := &memStore{}
	metrics := &fakeMetrics{}
	opener := &fakeOpener{page: page}
	im := newImporter(t, opener, store, metrics)

	got, err := im.Import(context.Background(), " https://claude.ai/share/abc-123 ")
	require.NoError(t, err)

	require.Len(t, got.Turns, 2)
	require.Len(t, got.Turns[1].Attachments, 1)
	filename := got.Turns[1].Attachments[0].Filename

	want := &conversation.ImportResult{
		Platform:   platform.Claude,
		Title:      "Greetings",
		SourceURL:  "https://claude.ai/share/abc-123",
		ImportedAt: importedAt,
		Turns: []conversation.Turn{
			{Role: conversation.RoleUser, Content: "Hello", Attachments: []conversation.Attachment{}},
			{Role: conversation.RoleAssistant, Content: "Hi there!", Attachments: []conversation.Attachment{{
				Filename:    filename,
				OriginalURL: imgURL,
				MimeType:    "image/png",
				SizeBytes:   int64(len(pixel)),
			}}},
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(conversation.Turn{}, "ImageURLs")); diff != "" {
		t.Errorf("Import() mismatch (-want +got):\n%s", diff)
	}

	assert.Regexp(t, `^[0-9a-f-]{36}\.png$`, filename)
	assert.Equal(t, pixel, store.files[filename])
	assert.Equal(t, "https://claude.ai/share/abc-123", page.navigated)
	assert.Equal(t, 1, page.closed)
	assert.Equal(t, []observed{{"claude", "success"}}, metrics.imports)
	assert.Equal(t, []string{images.TierCache}, metrics.tiers)

	// The user turn serializes with an empty attachment list, not null.
	raw, err := json.Marshal(got.Turns[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"Hello","attachments":[]}`, string(raw))
}

func TestImport_ImageFailuresDoNotAbort(t *testing.T) {
	page := newFakePage()
	page.entries = []conversation.RawEntry{
		{Role: conversation.RoleUser, Text: "Look", ImageURLs: []string{
			"https://chatgpt.com/backend-api/estuary/content?id=1",
			"https://chatgpt.com/backend-api/estuary/content?id=2",
			"data:image/png;base64," + base64.StdEncoding.EncodeToString(pixel),
		}, Top: 1},
	}
	page.renders = map[string]string{
		"https://chatgpt.com/backend-api/estuary/content?id=1": "data:image/png;base64," + base64.StdEncoding.EncodeToString(pixel),
	}
	metrics := &fakeMetrics{}
	im := newImporter(t, &fakeOpener{page: page}, &memStore{}, metrics)

	got, err := im.Import(context.Background(), "https://chatgpt.com/share/xyz")
	require.NoError(t, err)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "Imported from ChatGPT", got.Title)
	assert.Len(t, got.Turns[0].Attachments, 2)
	assert.Equal(t, []string{images.TierRerender, images.TierFailed, images.TierDataURI}, metrics.tiers)
}

func TestImport_JobTimeoutDuringImagesAborts(t *testing.T) {
	const slow = "https://claude.ai/api/o/files/slow/preview"
	const cached = "https://claude.ai/api/o/files/cached/preview"
	page := newFakePage()
	page.entries = []conversation.RawEntry{
		{Role: conversation.RoleUser, Text: "first", ImageURLs: []string{slow}, Top: 1},
		{Role: conversation.RoleAssistant, Text: "second", ImageURLs: []string{cached}, Top: 2},
	}
	page.stalled = map[string]bool{slow: true}
	page.cache.Store(cached, capture.Entry{Data: pixel, ContentType: "image/png"})
	metrics := &fakeMetrics{}

	im, err := New(&fakeOpener{page: page}, Options{
		ImageTimeout: 5 * time.Second,
		JobTimeout:   50 * time.Millisecond,
		Store:        &memStore{},
		Metrics:      metrics,
	})
	require.NoError(t, err)

	start := time.Now()
	result, err := im.Import(context.Background(), "https://claude.ai/share/abc")
	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Less(t, time.Since(start), 4*time.Second, "job timeout must cut the re-render short")
	assert.Equal(t, 1, page.closed)
	assert.Equal(t, []observed{{"claude", "aborted"}}, metrics.imports)
}

func TestImport_CancelledJobAborts(t *testing.T) {
	page := newFakePage()
	page.entries = []conversation.RawEntry{{Role: conversation.RoleUser, Text: "hi", Top: 1}}
	im := newImporter(t, &fakeOpener{page: page}, &memStore{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := im.Import(ctx, "https://chatgpt.com/share/abc")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, page.closed)
}

func TestImport_SchemelessURL(t *testing.T) {
	page := newFakePage()
	page.entries = []conversation.RawEntry{{Role: conversation.RoleUser, Text: "hi", Top: 1}}
	im := newImporter(t, &fakeOpener{page: page}, &memStore{}, nil)

	got, err := im.Import(context.Background(), "claude.ai/share/abc")
	require.NoError(t, err)
	assert.Equal(t, "https://claude.ai/share/abc", page.navigated)
	assert.Equal(t, "https://claude.ai/share/abc", got.SourceURL)
	assert.Equal(t, platform.Claude, got.Platform)
}

func TestImport_InvalidInput(t *testing.T) {
	opener := &fakeOpener{page: newFakePage()}
	im := newImporter(t, opener, &memStore{}, nil)

	_, err := im.Import(context.Background(), "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Zero(t, opener.opened)
}

func TestImport_UnsupportedPlatformOpensNoPage(t *testing.T) {
	opener := &fakeOpener{page: newFakePage()}
	metrics := &fakeMetrics{}
	im := newImporter(t, opener, &memStore{}, metrics)

	for _, u := range []string{"https://example.com/share/1", "https://notclaude.ai/share/1", "not a url"} {
		_, err := im.Import(context.Background(), u)
		assert.ErrorIs(t, err, ErrUnsupportedPlatform, u)
	}
	assert.Zero(t, opener.opened)
	assert.Equal(t, observed{"unsupported", "unsupported_platform"}, metrics.imports[0])
}

func TestImport_BrowserUnavailable(t *testing.T) {
	im := newImporter(t, &fakeOpener{err: errors.New("chrome not found")}, &memStore{}, nil)

	_, err := im.Import(context.Background(), "https://claude.ai/share/abc")
	assert.ErrorIs(t, err, ErrBrowserUnavailable)
	assert.Contains(t, err.Error(), "chrome not found")
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
}

func TestImport_NavigationFailureClosesPage(t *testing.T) {
	page := newFakePage()
	page.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	im := newImporter(t, &fakeOpener{page: page}, &memStore{}, nil)

	_, err := im.Import(context.Background(), "https://claude.ai/share/abc")
	assert.ErrorIs(t, err, ErrNavigationFailed)
	assert.Equal(t, 1, page.closed)
}

func TestImport_ReadinessTimeoutClosesPage(t *testing.T) {
	page := newFakePage()
	page.ready = false
	metrics := &fakeMetrics{}
	im := newImporter(t, &fakeOpener{page: page}, &memStore{}, metrics)

	_, err := im.Import(context.Background(), "https://chatgpt.com/share/abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNavigationFailed)
	assert.ErrorIs(t, err, extract.ErrNotReady)
	assert.Equal(t, 1, page.closed, "page must be closed on failure")
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Equal(t, []observed{{"chatgpt", "navigation_failed"}}, metrics.imports)
}

func TestImport_EmptyConversation(t *testing.T) {
	page := newFakePage()
	page.entries = []conversation.RawEntry{
		{Role: conversation.RoleUser, Text: "   ", Top: 1},
		{Role: conversation.RoleAssistant, Text: "", ImageURLs: []string{"https://x/a.png"}, Top: 2},
	}
	im := newImporter(t, &fakeOpener{page: page}, &memStore{}, nil)

	result, err := im.Import(context.Background(), "https://claude.ai/share/abc")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrEmptyConversation)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Equal(t, 1, page.closed)
}

func TestImport_ConcurrentJobsUseOwnPages(t *testing.T) {
	store := &memStore{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := fmt.Sprintf("https://claude.ai/api/o/files/%d/preview", i)
			page := newFakePage()
			page.entries = []conversation.RawEntry{{Role: conversation.RoleUser, Text: "hi", ImageURLs: []string{u}}}
			page.cache.Store(u, capture.Entry{Data: pixel, ContentType: "image/png"})
			im := newImporter(t, &fakeOpener{page: page}, store, nil)

			got, err := im.Import(context.Background(), "https://claude.ai/share/x")
			if assert.NoError(t, err) {
				assert.Equal(t, 1, got.AttachmentCount())
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, store.files, 4)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, Options{Store: &memStore{}})
	assert.Error(t, err)
	_, err = New(&fakeOpener{}, Options{})
	assert.Error(t, err)

	im, err := New(&fakeOpener{}, Options{Store: &memStore{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultNavigationTimeout, im.opts.NavigationTimeout)
	assert.Equal(t, DefaultReadyTimeout, im.opts.ReadyTimeout)
	assert.Equal(t, images.DefaultRenderTimeout, im.opts.ImageTimeout)
	assert.Equal(t, DefaultExtractTimeout, im.opts.ExtractTimeout)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{newError(KindInvalidInput, "", nil), http.StatusBadRequest},
		{newError(KindUnsupportedPlatform, "u", nil), http.StatusBadRequest},
		{newError(KindEmptyConversation, "u", nil), http.StatusBadRequest},
		{newError(KindBrowserUnavailable, "u", os.ErrNotExist), http.StatusInternalServerError},
		{newError(KindNavigationFailed, "u", context.DeadlineExceeded), http.StatusInternalServerError},
		{newError(KindExtractionFailed, "u", errors.New("bad json")), http.StatusInternalServerError},
		{newError(KindAborted, "u", context.Canceled), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", newError(KindEmptyConversation, "u", nil)), http.StatusBadRequest},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), "%v", tt.err)
	}
}

func TestImportError(t *testing.T) {
	err := newError(KindNavigationFailed, "https://claude.ai/share/a", context.DeadlineExceeded)
	assert.Equal(t, "failed to load conversation: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrNavigationFailed)
	assert.NotErrorIs(t, err, ErrExtractionFailed)

	kind, ok := KindOf(fmt.Errorf("outer: %w", err))
	require.True(t, ok)
	assert.Equal(t, "navigation_failed", kind.String())

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, "aborted", KindAborted.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}
