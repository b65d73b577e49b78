// Package share receives content shared from other applications and makes
// sure each share is submitted exactly once.
package share

import (
	"encoding/json"
	"strings"
	"time"
)

// File is one shared file as the source describes it. Sources differ in
// which fields they fill.
type File struct {
	Path     string `json:"path,omitempty"`
	URI      string `json:"uri,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Location returns the path, falling back to the URI
func (f File) Location() string {
	if f.Path != "" {
		return f.Path
	}
	return f.URI
}

// Event is a single share delivery
type Event struct {
	Text       string
	WebURL     string
	Files      []File
	CapturedAt time.Time
}

// Key identifies an event for deduplication. Two deliveries of the same
// share compare equal.
type Key string

// Key derives the composite identity from text, URL, file paths and capture time
func (e Event) Key() Key {
	paths := make([]string, len(e.Files))
	for i, f := range e.Files {
		paths[i] = f.Location()
	}
	data, _ := json.Marshal(struct {
		Text      string   `json:"text"`
		WebURL    string   `json:"webUrl"`
		Files     []string `json:"files"`
		Timestamp int64    `json:"timestamp"`
	}{e.Text, e.WebURL, paths, e.CapturedAt.UnixMilli()})
	return Key(data)
}

// SharedURL returns the web URL, else the text
func (e Event) SharedURL() string {
	if e.WebURL != "" {
		return strings.TrimSpace(e.WebURL)
	}
	return strings.TrimSpace(e.Text)
}

// Source is an inbound share mechanism. It may deliver the same event more
// than once until it is acknowledged.
type Source interface {
	HasEvent() bool
	Payload() Event
	Error() error
	Acknowledge() error
}
