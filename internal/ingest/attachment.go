// Package ingest turns picked, captured and shared content into uploadable attachments.
package ingest

import "github.com/google/uuid"

// Attachment is the normalized unit handed to the upload pipeline
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
	Type string `json:"type"`
}

// Kind is what a raw asset contains
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindVideo
	KindDocument
)

// Source identifies where an asset came from
type Source int

const (
	SourceDocument Source = iota
	SourceCamera
	SourceLibrary
	SourceShare
)

func (s Source) String() string {
	switch s {
	case SourceCamera:
		return "camera"
	case SourceLibrary:
		return "library"
	case SourceShare:
		return "share"
	default:
		return "document"
	}
}

// ParseSource maps a name to a Source, defaulting to SourceDocument
func ParseSource(name string) Source {
	switch name {
	case "camera":
		return SourceCamera
	case "library", "photos":
		return SourceLibrary
	case "share":
		return SourceShare
	default:
		return SourceDocument
	}
}

// Asset is a raw item as a picker or share source delivered it.
// Any field may be empty.
type Asset struct {
	URI      string
	Name     string
	MimeType string
	Kind     Kind
}

// IDGenerator generates attachment IDs
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}
