// Package capture records image bodies seen on a page's network stream so that
// extracted image URLs can be resolved without a second fetch.
package capture

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".avif": true,
	".bmp":  true,
}

// DefaultVendorPatterns match image-hosting paths used by the supported
// platforms that serve images without an extension or an image MIME type.
var DefaultVendorPatterns = []string{
	`/api/[^/]+/files/[^/]+/(preview|thumbnail|contents)`,
	`files\.oaiusercontent\.com`,
	`/backend-api/(estuary/content|files/[^/]+/download)`,
	`oaidalleapiprodscus\.blob\.core\.windows\.net`,
}

// Classifier decides whether a network response carries an image.
type Classifier struct {
	vendor []*regexp.Regexp
}

// NewClassifier compiles the given vendor path patterns.
func NewClassifier(patterns []string) (*Classifier, error) {
	c := &Classifier{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		c.vendor = append(c.vendor, re)
	}
	return c, nil
}

// DefaultClassifier returns a classifier using DefaultVendorPatterns.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultVendorPatterns)
	if err != nil {
		panic(err)
	}
	return c
}

// IsImage reports whether a response looks image-bearing: an image MIME type,
// an image file extension, or a known vendor image path. Inline data URLs are
// never captured.
func (c *Classifier) IsImage(rawURL, contentType string) bool {
	if rawURL == "" || strings.HasPrefix(rawURL, "data:") {
		return false
	}
	if strings.HasPrefix(MediaType(contentType), "image/") {
		return true
	}
	if hasImageExtension(rawURL) {
		return true
	}
	for _, re := range c.vendor {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// MediaType lowercases a Content-Type and strips its parameters.
func MediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func hasImageExtension(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return imageExtensions[strings.ToLower(path.Ext(u.Path))]
}
