// Package extract scrapes a rendered share page into positionally ordered raw
// transcript entries, one strategy per supported platform.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"chatimport/internal/conversation"
	"chatimport/internal/platform"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// ErrNotReady is returned when the readiness selector never appears.
var ErrNotReady = errors.New("conversation did not render")

// Page is the subset of a browser page the strategies drive.
type Page interface {
	WaitElement(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, js string, args ...interface{}) ([]byte, error)
	HTML(ctx context.Context) (string, error)
}

// Options tunes a single extraction.
type Options struct {
	ReadyTimeout time.Duration
	// EvalTimeout bounds each script evaluation and the document read.
	EvalTimeout time.Duration
	// SettleDelay is applied after readiness by strategies whose front end
	// keeps hydrating after the first turn renders.
	SettleDelay time.Duration
	Logger      *zap.Logger
}

func (o Options) readyTimeout() time.Duration {
	if o.ReadyTimeout <= 0 {
		return 10 * time.Second
	}
	return o.ReadyTimeout
}

func (o Options) evalTimeout() time.Duration {
	if o.EvalTimeout <= 0 {
		return 30 * time.Second
	}
	return o.EvalTimeout
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Extraction is the raw output of a strategy.
type Extraction struct {
	Title   string
	Entries []conversation.RawEntry
}

// Strategy knows one platform's share-page markup.
type Strategy interface {
	Platform() platform.ID
	Extract(ctx context.Context, page Page, opts Options) (*Extraction, error)
}

// selectorStrategy is a Strategy described entirely by selector data.
type selectorStrategy struct {
	platform          platform.ID
	readySelector     string
	titleSelectors    []string
	userSelector      string
	assistantSelector string
	// textSelector narrows the text node inside a turn element; the element
	// itself is used when it does not match.
	textSelector string
	// excludeImages are lowercase substrings marking UI images (icons,
	// avatars, emoji) that are never conversation content.
	excludeImages []string
	settles       bool
}

var uiImagePatterns = []string{"icon", "avatar", "emoji", "favicon", "logo", "sprite"}

var strategies = map[platform.ID]*selectorStrategy{
	platform.Claude: {
		platform:          platform.Claude,
		readySelector:     `[class*="font-user"], [class*="font-claude"]`,
		titleSelectors:    []string{"h1", "title", `[class*="title"]`},
		userSelector:      `[class*="font-user"]`,
		assistantSelector: `[class*="font-claude"]`,
		excludeImages:     append([]string{"/_next/static/", "/images/claude"}, uiImagePatterns...),
		settles:           true,
	},
	platform.ChatGPT: {
		platform:          platform.ChatGPT,
		readySelector:     `[data-message-author-role]`,
		titleSelectors:    []string{"h1", "title"},
		userSelector:      `[data-message-author-role="user"]`,
		assistantSelector: `[data-message-author-role="assistant"]`,
		textSelector:      `[class*="markdown"], [class*="message"], .prose, .whitespace-pre-wrap`,
		excludeImages:     append([]string{"/_next/static/", "cdn.oaistatic.com", "s.gravatar.com", "lh3.googleusercontent.com"}, uiImagePatterns...),
	},
}

// For returns the strategy registered for id.
func For(id platform.ID) (Strategy, bool) {
	s, ok := strategies[id]
	if !ok {
		return nil, false
	}
	return s, true
}

func (s *selectorStrategy) Platform() platform.ID { return s.platform }

// Extract waits for the conversation to render, then reads the title and all
// turn elements ordered by their top edge.
func (s *selectorStrategy) Extract(ctx context.Context, page Page, opts Options) (*Extraction, error) {
	log := opts.logger().With(zap.String("platform", string(s.platform)))

	readyCtx, cancel := context.WithTimeout(ctx, opts.readyTimeout())
	err := page.WaitElement(readyCtx, s.readySelector)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for %s: %v", ErrNotReady, s.readySelector, err)
	}

	if s.settles && opts.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.SettleDelay):
		}
	}

	title := s.title(ctx, page, opts.evalTimeout(), log)

	evalCtx, cancel := context.WithTimeout(ctx, opts.evalTimeout())
	raw, err := page.Evaluate(evalCtx, EntriesJS, s.userSelector, s.assistantSelector, s.textSelector)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("collect turns: %w", err)
	}
	var nodes []conversation.RawEntry
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}

	entries := s.entries(nodes)
	log.Debug("extracted entries", zap.Int("elements", len(nodes)), zap.Int("entries", len(entries)))
	return &Extraction{Title: title, Entries: entries}, nil
}

// entries drops blank or unknown-role nodes, filters UI images and orders the
// rest by vertical position. The sort is stable so elements sharing a top edge
// keep their collection order.
func (s *selectorStrategy) entries(nodes []conversation.RawEntry) []conversation.RawEntry {
	out := make([]conversation.RawEntry, 0, len(nodes))
	for _, n := range nodes {
		text := strings.TrimSpace(n.Text)
		if text == "" || !n.Role.Valid() {
			continue
		}
		out = append(out, conversation.RawEntry{
			Role:      n.Role,
			Text:      text,
			ImageURLs: s.contentImages(n.ImageURLs),
			Top:       n.Top,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Top < out[j].Top })
	return out
}

func (s *selectorStrategy) contentImages(urls []string) []string {
	var keep []string
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] || s.isUIImage(u) {
			continue
		}
		seen[u] = true
		keep = append(keep, u)
	}
	return keep
}

func (s *selectorStrategy) isUIImage(u string) bool {
	if strings.HasPrefix(u, "data:") {
		// Inline payloads are content; their text is base64 and would
		// false-match the substring patterns.
		return false
	}
	lower := strings.ToLower(u)
	for _, p := range s.excludeImages {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func (s *selectorStrategy) title(ctx context.Context, page Page, timeout time.Duration, log *zap.Logger) string {
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	raw, err := page.Evaluate(evalCtx, TitleJS, s.titleSelectors)
	cancel()
	if err == nil {
		var title string
		if err := json.Unmarshal(raw, &title); err == nil {
			if title = strings.TrimSpace(title); title != "" {
				return title
			}
		}
	} else {
		log.Debug("title selectors failed", zap.Error(err))
	}

	htmlCtx, cancel := context.WithTimeout(ctx, timeout)
	src, err := page.HTML(htmlCtx)
	cancel()
	if err == nil {
		if title := MetaTitle(src); title != "" {
			return title
		}
	}
	return DefaultTitle(s.platform)
}

// DefaultTitle is used when a page exposes no title.
func DefaultTitle(id platform.ID) string {
	return "Imported from " + id.DisplayName()
}

// MetaTitle reads the Open Graph or Twitter card title from an HTML document.
func MetaTitle(src string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return ""
	}
	for _, sel := range []string{`meta[property="og:title"]`, `meta[name="twitter:title"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
