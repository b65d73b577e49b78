package ingest

import (
	"context"
	"log/slog"
)

// Normalizer converts raw assets into Attachments
type Normalizer struct {
	converter   *Converter
	idGenerator IDGenerator
}

// NewNormalizer creates a Normalizer with UUID attachment IDs
func NewNormalizer(converter *Converter) *Normalizer {
	return NewNormalizerWithDeps(converter, uuidGenerator{})
}

// NewNormalizerWithDeps creates a Normalizer with a custom ID generator for testing
func NewNormalizerWithDeps(converter *Converter, idGen IDGenerator) *Normalizer {
	return &Normalizer{
		converter:   converter,
		idGenerator: idGen,
	}
}

// Normalize produces one Attachment for the asset. Camera and library images
// are re-encoded to JPEG; everything else passes through. It never drops an
// asset: a failed conversion falls back to the original file.
func (n *Normalizer) Normalize(ctx context.Context, a Asset, source Source, index int) Attachment {
	id := n.idGenerator.Generate()
	name := NameFor(a.Name, a.URI, placeholderFor(source, index))
	mimeType := TypeFor(a.MimeType, name)

	att := Attachment{
		ID:   id,
		Name: name,
		URI:  a.URI,
		Type: mimeType,
	}

	if !convertible(source) || kindOf(a, mimeType) != KindImage || n.converter == nil {
		return att
	}
	if ctx.Err() != nil {
		return att
	}

	conv := n.converter.ToJPEG(a.URI, name, id)
	if !conv.Converted {
		slog.Warn("Failed to convert image, uploading original", "uri", a.URI, "name", name, "error", conv.Err)
		return att
	}

	slog.Debug("Image converted", "uri", a.URI, "output", conv.URI)
	att.URI = conv.URI
	att.Name = conv.Name
	att.Type = "image/jpeg"
	return att
}

// NormalizeAll normalizes assets in order; the result has the same length
func (n *Normalizer) NormalizeAll(ctx context.Context, assets []Asset, source Source) []Attachment {
	out := make([]Attachment, 0, len(assets))
	for i, a := range assets {
		out = append(out, n.Normalize(ctx, a, source, i))
	}
	return out
}

func convertible(source Source) bool {
	return source == SourceCamera || source == SourceLibrary
}
