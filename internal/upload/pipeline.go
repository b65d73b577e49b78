// Package upload runs attachments through the two-step upload protocol and
// coordinates batches of them.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/zombor/dealsafe/internal/api"
	"github.com/zombor/dealsafe/internal/failure"
	"github.com/zombor/dealsafe/internal/ingest"
	"github.com/zombor/dealsafe/internal/voucher"
)

// Client is the guarded backend surface the pipeline needs, satisfied by *auth.Client
type Client interface {
	UploadFile(ctx context.Context, filename, mimeType string, content io.Reader) (*api.FileRef, error)
	Analyze(ctx context.Context, ref api.FileRef) (*voucher.Voucher, error)
	UploadURL(ctx context.Context, url string) (*voucher.Voucher, error)
}

// Opener opens an attachment's local resource
type Opener func(uri string) (io.ReadCloser, error)

// Pipeline uploads one attachment: raw bytes first, then analysis of the
// returned blob. The steps never overlap and are not retried.
type Pipeline struct {
	client Client
	open   Opener
}

// NewPipeline creates a Pipeline reading attachments from the local filesystem
func NewPipeline(client Client) *Pipeline {
	return NewPipelineWithOpener(client, ingest.Open)
}

// NewPipelineWithOpener creates a Pipeline with a custom opener for testing
func NewPipelineWithOpener(client Client, open Opener) *Pipeline {
	return &Pipeline{
		client: client,
		open:   open,
	}
}

// UploadFile uploads and analyzes an attachment
func (p *Pipeline) UploadFile(ctx context.Context, a ingest.Attachment) (*voucher.Voucher, error) {
	mimeType := a.Type
	if mimeType == "" {
		mimeType = ingest.TypeFor("", a.Name)
	}

	f, err := p.open(a.URI)
	if err != nil {
		return nil, &failure.TransportError{Op: "open attachment", Err: err}
	}
	defer f.Close()

	slog.Info("Uploading attachment", "name", a.Name, "type", mimeType)

	ref, err := p.client.UploadFile(ctx, a.Name, mimeType, f)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", a.Name, err)
	}

	slog.Info("File uploaded, analyzing", "name", a.Name, "url", ref.URL, "size", ref.Size)

	v, err := p.client.Analyze(ctx, *ref)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", a.Name, err)
	}

	slog.Info("Analysis complete", "name", a.Name, "voucher_id", v.ID, "valid", v.IsValid)
	return v, nil
}

// UploadURL has the backend fetch and analyze a remote resource
func (p *Pipeline) UploadURL(ctx context.Context, url string) (*voucher.Voucher, error) {
	slog.Info("Submitting shared URL", "url", url)
	v, err := p.client.UploadURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", url, err)
	}
	slog.Info("Upload and analysis complete", "url", url, "voucher_id", v.ID)
	return v, nil
}
