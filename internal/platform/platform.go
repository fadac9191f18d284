// Package platform maps chat share URLs to the platform that rendered them.
package platform

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ID identifies a supported source platform.
type ID string

const (
	// Unsupported is returned for URLs no strategy can handle.
	Unsupported ID = ""
	Claude      ID = "claude"
	ChatGPT     ID = "chatgpt"
)

// Info describes a supported platform.
type Info struct {
	ID    ID       `json:"id" yaml:"id"`
	Name  string   `json:"name" yaml:"name"`
	Hosts []string `json:"hosts" yaml:"hosts"`
}

var supported = []Info{
	{ID: Claude, Name: "Claude", Hosts: []string{"claude.ai"}},
	{ID: ChatGPT, Name: "ChatGPT", Hosts: []string{"chatgpt.com", "chat.openai.com"}},
}

// Supported returns the platforms share links can be imported from, in display order.
func Supported() []Info {
	out := make([]Info, len(supported))
	for i, info := range supported {
		info.Hosts = append([]string(nil), info.Hosts...)
		out[i] = info
	}
	return out
}

// DisplayName returns the human name of the platform, or "unknown".
func (id ID) DisplayName() string {
	for _, info := range supported {
		if info.ID == id {
			return info.Name
		}
	}
	return "unknown"
}

// Detect returns the platform a share URL belongs to, or Unsupported.
// Matching is done on the URL host (exact host, subdomain, or registrable
// domain), never on the path or query.
func Detect(raw string) ID {
	host := hostOf(raw)
	if host == "" {
		return Unsupported
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		domain = host
	}
	for _, info := range supported {
		for _, h := range info.Hosts {
			if host == h || domain == h || strings.HasSuffix(host, "."+h) {
				return info.ID
			}
		}
	}
	return Unsupported
}

// Normalize trims raw and gives links pasted without a scheme an https one,
// so the result can be navigated to directly.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "", strings.Contains(raw, "://"):
		return raw
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	}
	return "https://" + raw
}

// hostOf extracts a lowercase hostname from a normalized URL.
func hostOf(raw string) string {
	n := Normalize(raw)
	if n == "" {
		return ""
	}
	u, err := url.Parse(n)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}
