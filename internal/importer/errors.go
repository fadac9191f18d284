package importer

import (
	"errors"
	"net/http"
)

// ErrorKind classifies import failures for callers.
type ErrorKind int

const (
	// KindInvalidInput means the share URL was missing.
	KindInvalidInput ErrorKind = iota

	// KindUnsupportedPlatform means the URL belongs to no known platform.
	KindUnsupportedPlatform

	// KindBrowserUnavailable means no page could be opened.
	KindBrowserUnavailable

	// KindNavigationFailed means the page did not load or never became ready.
	KindNavigationFailed

	// KindExtractionFailed means the page loaded but could not be scraped.
	KindExtractionFailed

	// KindEmptyConversation means scraping produced zero turns.
	KindEmptyConversation

	// KindAborted means the job was cancelled or ran out of time.
	KindAborted
)

// String returns the kind name, also used as the metrics outcome label.
func (k ErrorKind) String() string {
	names := []string{
		"invalid_input",
		"unsupported_platform",
		"browser_unavailable",
		"navigation_failed",
		"extraction_failed",
		"empty_conversation",
		"aborted",
	}
	if int(k) >= 0 && int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// Summary is the human readable headline for the kind.
func (k ErrorKind) Summary() string {
	switch k {
	case KindInvalidInput:
		return "share URL is required"
	case KindUnsupportedPlatform:
		return "unsupported platform: only Claude.ai and ChatGPT share links are supported"
	case KindBrowserUnavailable:
		return "browser unavailable"
	case KindNavigationFailed:
		return "failed to load conversation"
	case KindEmptyConversation:
		return "no messages found: the shared conversation appears to be empty or could not be parsed"
	case KindAborted:
		return "import cancelled or timed out"
	default:
		return "failed to import conversation"
	}
}

// Sentinels for errors.Is. Any *ImportError of the same kind matches.
var (
	ErrInvalidInput        = &ImportError{Kind: KindInvalidInput}
	ErrUnsupportedPlatform = &ImportError{Kind: KindUnsupportedPlatform}
	ErrBrowserUnavailable  = &ImportError{Kind: KindBrowserUnavailable}
	ErrNavigationFailed    = &ImportError{Kind: KindNavigationFailed}
	ErrExtractionFailed    = &ImportError{Kind: KindExtractionFailed}
	ErrEmptyConversation   = &ImportError{Kind: KindEmptyConversation}
	ErrAborted             = &ImportError{Kind: KindAborted}
)

// ImportError is the classified error returned by Import.
type ImportError struct {
	Kind     ErrorKind
	URL      string
	Original error
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	if e.Original == nil {
		return e.Kind.Summary()
	}
	return e.Kind.Summary() + ": " + e.Original.Error()
}

// Unwrap returns the original error for errors.Is/As compatibility.
func (e *ImportError) Unwrap() error {
	return e.Original
}

// Is matches any ImportError of the same kind.
func (e *ImportError) Is(target error) bool {
	t, ok := target.(*ImportError)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, url string, original error) *ImportError {
	return &ImportError{Kind: kind, URL: url, Original: original}
}

// KindOf returns the kind of err, and false when err is not an ImportError.
func KindOf(err error) (ErrorKind, bool) {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return 0, false
}

// StatusCode maps err to an HTTP status. Bad input and empty conversations
// are the caller's problem; everything else is a server-side failure.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case KindInvalidInput, KindUnsupportedPlatform, KindEmptyConversation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
