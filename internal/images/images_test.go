package images

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatimport/internal/capture"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG.
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func pngDataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngPixel)
}

// =============================================================================
// DATA URI
// =============================================================================

func TestDecodeDataURI(t *testing.T) {
	img, err := DecodeDataURI(pngDataURI())
	require.NoError(t, err)
	assert.Equal(t, pngPixel, img.Data)
	assert.Equal(t, "image/png", img.ContentType)
}

func TestDecodeDataURI_Variants(t *testing.T) {
	raw := base64.RawStdEncoding.EncodeToString([]byte("GIF89a"))

	img, err := DecodeDataURI("data:image/gif;base64," + raw)
	require.NoError(t, err, "unpadded payloads decode")
	assert.Equal(t, []byte("GIF89a"), img.Data)

	img, err = DecodeDataURI("DATA:Image/JPEG;name=x.jpg;BASE64,/9j/\n4A==")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.ContentType)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0}, img.Data)
}

func TestDecodeDataURI_Rejects(t *testing.T) {
	for name, uri := range map[string]string{
		"not a data uri":  "https://example.com/a.png",
		"no separator":    "data:image/png;base64",
		"not base64":      "data:image/svg+xml,%3Csvg%3E",
		"not an image":    "data:text/plain;base64,aGVsbG8=",
		"malformed":       "data:image/png;base64,!!!not*base64!!!",
		"empty payload":   "data:image/png;base64,",
		"truncated quads": "data:image/png;base64,A",
	} {
		t.Run(name, func(t *testing.T) {
			img, err := DecodeDataURI(uri)
			assert.Error(t, err)
			assert.Nil(t, img)
		})
	}
}

// =============================================================================
// EXTENSIONS
// =============================================================================

func TestExtension(t *testing.T) {
	tests := []struct {
		contentType string
		url         string
		want        string
	}{
		{"image/png", "https://x/a.jpg", "png"},
		{"image/jpeg", "", "jpg"},
		{"image/JPG; q=1", "", "jpg"},
		{"image/gif", "", "gif"},
		{"image/webp", "", "webp"},
		{"application/octet-stream", "https://x/photo.JPEG?size=large", "jpg"},
		{"", "https://x/anim.gif", "gif"},
		{"image/svg+xml", "https://x/vector.svg", "png"},
		{"", "https://x/files/abc/preview", "png"},
		{"", "data:image/webp;base64,AAAA", "png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Extension(tt.contentType, tt.url), "Extension(%q, %q)", tt.contentType, tt.url)
	}
}

func TestMimeType(t *testing.T) {
	assert.Equal(t, "image/webp", MimeType("image/webp", "webp"))
	assert.Equal(t, "image/svg+xml", MimeType("image/svg+xml", "png"))
	assert.Equal(t, "image/jpeg", MimeType("application/octet-stream", "jpg"))
	assert.Equal(t, "image/png", MimeType("", "bin"))
}

// =============================================================================
// RESOLVER CHAIN
// =============================================================================

type fakeEvaluator struct {
	mu      sync.Mutex
	calls   []string
	results map[string]string
	block   map[string]bool
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, js string, args ...interface{}) ([]byte, error) {
	if js != RerenderJS {
		return nil, errors.New("unexpected script")
	}
	src := args[0].(string)
	f.mu.Lock()
	f.calls = append(f.calls, src)
	f.mu.Unlock()

	if f.block[src] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out, ok := f.results[src]
	if !ok {
		return nil, errors.New("image failed to load")
	}
	return json.Marshal(out)
}

func TestChain_CacheBeatsDataURI(t *testing.T) {
	uri := pngDataURI()
	cache := capture.NewCache()
	cache.Store(uri, capture.Entry{Data: []byte("from-network"), ContentType: "image/webp"})
	eval := &fakeEvaluator{}

	chain := NewChain(nil, CacheResolver{Cache: cache}, DataURIResolver{}, RenderResolver{Page: eval})
	img, tier := chain.Resolve(context.Background(), uri)

	require.NotNil(t, img)
	assert.Equal(t, TierCache, tier)
	assert.Equal(t, []byte("from-network"), img.Data)
	assert.Equal(t, "image/webp", img.ContentType)
	assert.Empty(t, eval.calls, "later tiers are not consulted")
}

func TestChain_FallsThroughTiers(t *testing.T) {
	cache := capture.NewCache()
	eval := &fakeEvaluator{results: map[string]string{"https://x/cached-by-browser.png": pngDataURI()}}
	chain := NewChain(nil, CacheResolver{Cache: cache}, DataURIResolver{}, RenderResolver{Page: eval})

	img, tier := chain.Resolve(context.Background(), pngDataURI())
	require.NotNil(t, img)
	assert.Equal(t, TierDataURI, tier)

	img, tier = chain.Resolve(context.Background(), "https://x/cached-by-browser.png")
	require.NotNil(t, img)
	assert.Equal(t, TierRerender, tier)
	assert.Equal(t, pngPixel, img.Data)
	assert.Equal(t, "image/png", img.ContentType)

	img, tier = chain.Resolve(context.Background(), "https://x/missing.png")
	assert.Nil(t, img)
	assert.Equal(t, TierFailed, tier)
}

func TestChain_MalformedDataURIFallsThrough(t *testing.T) {
	bad := "data:image/png;base64,%%%"
	eval := &fakeEvaluator{}
	chain := NewChain(nil, DataURIResolver{}, RenderResolver{Page: eval})

	img, tier := chain.Resolve(context.Background(), bad)
	assert.Nil(t, img)
	assert.Equal(t, TierFailed, tier)
	assert.Equal(t, []string{bad}, eval.calls)
}

func TestRenderResolver_Timeout(t *testing.T) {
	eval := &fakeEvaluator{block: map[string]bool{"https://x/slow.png": true}}
	r := RenderResolver{Page: eval, Timeout: 30 * time.Millisecond}

	start := time.Now()
	img, err := r.Resolve(context.Background(), "https://x/slow.png")
	assert.Nil(t, img)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

// =============================================================================
// PERSISTER
// =============================================================================

func TestPersister_TimedOutImageIsOmitted(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	cache := capture.NewCache()
	cache.Store("https://x/one.png", capture.Entry{Data: pngPixel, ContentType: "image/png"})
	eval := &fakeEvaluator{
		results: map[string]string{"https://x/three": pngDataURI()},
		block:   map[string]bool{"https://x/two.jpg": true},
	}
	chain := NewChain(nil, CacheResolver{Cache: cache}, DataURIResolver{}, RenderResolver{Page: eval, Timeout: 20 * time.Millisecond})

	var tiers []string
	p := NewPersister(chain, store, nil)
	p.Observe = func(tier string) { tiers = append(tiers, tier) }

	urls := []string{"https://x/one.png", "https://x/two.jpg", "https://x/three"}
	attachments := p.Attach(context.Background(), urls)

	require.Len(t, attachments, 2)
	assert.Equal(t, "https://x/one.png", attachments[0].OriginalURL)
	assert.Equal(t, "https://x/three", attachments[1].OriginalURL)
	assert.Equal(t, []string{TierCache, TierFailed, TierRerender}, tiers)

	for _, a := range attachments {
		assert.Equal(t, "image/png", a.MimeType)
		assert.Equal(t, int64(len(pngPixel)), a.SizeBytes)
		assert.Equal(t, ".png", filepath.Ext(a.Filename))

		data, err := os.ReadFile(store.Path(a.Filename))
		require.NoError(t, err)
		assert.Equal(t, pngPixel, data)
	}
	assert.NotEqual(t, attachments[0].Filename, attachments[1].Filename, "filenames are unique")
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, []byte) error { return errors.New("disk full") }

func TestPersister_StoreFailureSkipsImage(t *testing.T) {
	chain := NewChain(nil, DataURIResolver{})
	var tiers []string
	p := NewPersister(chain, failingStore{}, nil)
	p.Observe = func(tier string) { tiers = append(tiers, tier) }

	attachments := p.Attach(context.Background(), []string{pngDataURI()})
	assert.Empty(t, attachments)
	assert.NotNil(t, attachments)
	assert.Equal(t, []string{TierFailed}, tiers)
}

func TestPersister_ExtensionFromContentType(t *testing.T) {
	cache := capture.NewCache()
	cache.Store("https://x/files/abc/preview", capture.Entry{Data: []byte("jpegbytes"), ContentType: "image/jpeg"})
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	p := NewPersister(NewChain(nil, CacheResolver{Cache: cache}), store, nil)
	p.NewName = func(ext string) string { return "fixed." + ext }

	attachments := p.Attach(context.Background(), []string{"https://x/files/abc/preview"})
	require.Len(t, attachments, 1)
	assert.Equal(t, "fixed.jpg", attachments[0].Filename)
	assert.Equal(t, "image/jpeg", attachments[0].MimeType)
	assert.FileExists(t, filepath.Join(store.Root(), "fixed.jpg"))
}

// =============================================================================
// FILE STORE
// =============================================================================

func TestFileStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "imported")
	store, err := NewFileStore(root)
	require.NoError(t, err)
	assert.DirExists(t, root)

	require.NoError(t, store.Put(context.Background(), "a.png", []byte("abc")))
	data, err := os.ReadFile(filepath.Join(root, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	assert.Error(t, store.Put(context.Background(), "../escape.png", []byte("x")))
	assert.Error(t, store.Put(context.Background(), "", []byte("x")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, store.Put(ctx, "late.png", []byte("x")))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")

	_, err = NewFileStore(" ")
	assert.Error(t, err)
}
