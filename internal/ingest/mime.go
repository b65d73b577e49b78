package ingest

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const defaultMimeType = "application/octet-stream"

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
}

// TypeFor picks the MIME type: the declared one when it is specific,
// else the extension table, else application/octet-stream.
func TypeFor(declared, name string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" && strings.Contains(declared, "/") {
		return declared
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return defaultMimeType
}

// NameFor picks the display name: the declared one, else the URI's final
// path segment, else the placeholder.
func NameFor(declared, uri, placeholder string) string {
	if name := strings.TrimSpace(declared); name != "" {
		return name
	}
	if name := lastSegment(uri); name != "" {
		return name
	}
	return placeholder
}

// placeholderFor returns the synthetic name used when nothing else is known
func placeholderFor(source Source, index int) string {
	switch source {
	case SourceShare:
		return fmt.Sprintf("shared-file-%d", index)
	case SourceCamera:
		return "photo.jpg"
	default:
		return "unnamed"
	}
}

func lastSegment(uri string) string {
	if uri == "" {
		return ""
	}
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" {
		p = u.Path
	}
	p = strings.TrimRight(filepath.ToSlash(p), "/")
	if p == "" {
		return ""
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// kindOf guesses the asset kind from its declared kind or resolved type
func kindOf(a Asset, mimeType string) Kind {
	if a.Kind != KindUnknown {
		return a.Kind
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindDocument
	}
}

// withExtension swaps the extension of name for ext
func withExtension(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}
