// Package conversation holds the platform-agnostic transcript model produced by
// an import and the normalizer that folds scraped fragments into turns.
package conversation

import (
	"time"

	"chatimport/internal/platform"
)

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two dialogue roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Attachment is an image recovered from a turn and written to durable storage.
type Attachment struct {
	Filename    string `json:"filename" yaml:"filename"`
	OriginalURL string `json:"originalUrl" yaml:"original_url"`
	SizeBytes   int64  `json:"sizeBytes" yaml:"size_bytes"`
	MimeType    string `json:"mimeType" yaml:"mime_type"`
}

// Turn is one logical contribution to the dialogue.
type Turn struct {
	Role        Role         `json:"role" yaml:"role"`
	Content     string       `json:"content" yaml:"content"`
	Attachments []Attachment `json:"attachments" yaml:"attachments"`

	// ImageURLs are the candidate image sources gathered during extraction.
	// They are resolved into Attachments and are not part of the result payload.
	ImageURLs []string `json:"-" yaml:"-"`
}

// ImportResult is the normalized conversation returned to the caller.
type ImportResult struct {
	Platform   platform.ID `json:"platform" yaml:"platform"`
	Title      string      `json:"title" yaml:"title"`
	SourceURL  string      `json:"sourceUrl" yaml:"source_url"`
	ImportedAt time.Time   `json:"importedAt" yaml:"imported_at"`
	Turns      []Turn      `json:"turns" yaml:"turns"`
}

// AttachmentCount returns the number of attachments across all turns.
func (r *ImportResult) AttachmentCount() int {
	n := 0
	for _, t := range r.Turns {
		n += len(t.Attachments)
	}
	return n
}

// RawEntry is a single scraped DOM element before merging.
// Top is the element's vertical page offset at scrape time.
type RawEntry struct {
	Role      Role     `json:"role"`
	Text      string   `json:"text"`
	ImageURLs []string `json:"images"`
	Top       float64  `json:"top"`
}
