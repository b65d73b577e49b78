package ingest

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/heic"
	"github.com/nfnt/resize"
)

// DefaultQuality is the JPEG quality used when re-encoding images
const DefaultQuality = 80

// Conversion is the result of re-encoding an image: either the converted
// file or, when Converted is false, the untouched original.
type Conversion struct {
	URI       string
	Name      string
	Converted bool
	Err       error
}

// Converter re-encodes images to JPEG
type Converter struct {
	workDir      string
	quality      int
	maxDimension uint
}

// NewConverter creates a Converter that writes its output to workDir.
// maxDimension of 0 keeps the original size.
func NewConverter(workDir string, quality int, maxDimension uint) (*Converter, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	return &Converter{
		workDir:      workDir,
		quality:      quality,
		maxDimension: maxDimension,
	}, nil
}

// ToJPEG converts the image at uri. It never fails: on any error the
// original uri and name come back with Converted false and Err set.
func (c *Converter) ToJPEG(uri, name, id string) Conversion {
	out, err := c.convert(uri, id)
	if err != nil {
		return Conversion{URI: uri, Name: name, Err: err}
	}
	return Conversion{URI: out, Name: withExtension(name, ".jpg"), Converted: true}
}

func (c *Converter) convert(uri, id string) (string, error) {
	f, err := Open(uri)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}

	img, err := decodeImage(data)
	if err != nil {
		return "", err
	}

	if c.maxDimension > 0 {
		b := img.Bounds()
		if uint(b.Dx()) > c.maxDimension || uint(b.Dy()) > c.maxDimension {
			img = resize.Thumbnail(c.maxDimension, c.maxDimension, img, resize.Lanczos3)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return "", fmt.Errorf("encoding JPEG: %w", err)
	}

	out := filepath.Join(c.workDir, id+".jpg")
	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("writing converted image: %w", err)
	}
	return out, nil
}

// decodeImage decodes JPEG, PNG, GIF and HEIC/HEIF data
func decodeImage(data []byte) (image.Image, error) {
	if isHEIC(data) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// isHEIC checks for an ftyp box with a HEIC-family brand at offset 4
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// Open opens a local resource handle, either a plain path or a file:// URI
func Open(uri string) (io.ReadCloser, error) {
	p := strings.TrimPrefix(uri, "file://")
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", uri, err)
	}
	return f, nil
}
