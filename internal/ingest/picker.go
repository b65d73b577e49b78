package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zombor/dealsafe/internal/failure"
)

// ErrCanceled is returned by Pick when the user backed out
var ErrCanceled = errors.New("picker canceled")

// Permission is the outcome of a permission request
type Permission struct {
	Granted     bool
	CanAskAgain bool
}

// Picker is a camera, photo library or document picker
type Picker interface {
	RequestPermission(ctx context.Context) (Permission, error)
	Pick(ctx context.Context) ([]Asset, error)
}

// Collect asks for permission, picks and normalizes. A canceled pick returns
// no attachments and no error.
func Collect(ctx context.Context, picker Picker, source Source, n *Normalizer) ([]Attachment, error) {
	perm, err := picker.RequestPermission(ctx)
	if err != nil {
		return nil, fmt.Errorf("requesting %s permission: %w", source, err)
	}
	if !perm.Granted {
		return nil, permissionDenied(source, perm.CanAskAgain)
	}

	assets, err := picker.Pick(ctx)
	if errors.Is(err, ErrCanceled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("picking from %s: %w", source, err)
	}
	return n.NormalizeAll(ctx, assets, source), nil
}

func permissionDenied(source Source, canAskAgain bool) error {
	switch source {
	case SourceCamera:
		if !canAskAgain {
			return failure.Invalid("Camera Permission Required", "Camera access is needed to take photos. Please enable it in your device settings.")
		}
		return failure.Invalid("Permission required", "Camera permission is required to take photos")
	case SourceLibrary:
		if !canAskAgain {
			return failure.Invalid("Photo Library Permission Required", "Photo library access is needed to select photos. Please enable it in your device settings.")
		}
		return failure.Invalid("Permission required", "Media library permission is required to choose photos")
	default:
		return failure.Invalid("Permission required", "File access is required to choose documents")
	}
}

// FilePicker picks local files given on the command line. Permission is
// granted when every path is readable.
type FilePicker struct {
	Paths []string
}

// RequestPermission implements Picker
func (p FilePicker) RequestPermission(ctx context.Context) (Permission, error) {
	for _, path := range p.Paths {
		f, err := os.Open(path)
		if errors.Is(err, os.ErrPermission) {
			return Permission{Granted: false, CanAskAgain: false}, nil
		}
		if err == nil {
			f.Close()
		}
	}
	return Permission{Granted: true}, nil
}

// Pick implements Picker
func (p FilePicker) Pick(ctx context.Context) ([]Asset, error) {
	if len(p.Paths) == 0 {
		return nil, ErrCanceled
	}
	assets := make([]Asset, 0, len(p.Paths))
	for _, path := range p.Paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", path, err)
		}
		assets = append(assets, Asset{URI: "file://" + abs, Name: filepath.Base(path)})
	}
	return assets, nil
}
