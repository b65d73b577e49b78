package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// voucherScanPrompt is shared by all providers
const voucherScanPrompt = `You are analyzing a purchase voucher, gift card, coupon or experience gift. Read all text in the image and extract the following:

1. **Is it a voucher**: true only if the document entitles the holder to a product, service or discount.
2. **Validity**: a voucher is valid unless it is clearly expired, already redeemed, void, or unreadable. If invalid, give a short reason.
3. **Number of persons**: how many people the voucher covers, if stated.
4. **Redemption method**: how it is redeemed, e.g. "online code", "show at counter", "book by phone".
5. **Redemption value**: the value or what is included, e.g. "500 DKK", "2-course dinner for 2".
6. **Description**: one sentence naming the merchant and the offer.
7. **Expiry date**: in YYYY-MM-DD format.
8. **Usage steps**: the ordered steps the holder follows to redeem it.
9. **Confidence**: how sure you are of the extraction, from 0 to 1.

Return ONLY valid JSON in this exact format:
{
  "is_voucher": true,
  "is_valid": true,
  "rejection_reason": null,
  "number_of_persons": 2,
  "redemption_method": "Book online with code",
  "redemption_value": "Dinner for 2",
  "description": "Merchant - Offer",
  "expires_at": "YYYY-MM-DD",
  "usage_steps": ["Step one", "Step two"],
  "confidence_score": 0.9
}

Important:
- If you cannot find a field, use null for that field
- rejection_reason must be null when is_valid is true
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("%w: supported formats are JPEG, PNG, GIF, HEIC, HEIF and PDF", ErrUnsupportedFormat)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIF family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// prepareImageData returns PNG data for any supported input
func prepareImageData(data []byte, contentType string) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	switch {
	case mimeType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF")):
		pngData, err := pdfToImage(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, nil
	case mimeType == "image/png" && !isHEICFormat(data):
		return data, nil
	case strings.HasPrefix(mimeType, "image/") || mimeType == "" || mimeType == "application/octet-stream":
		pngData, err := imageToPNG(data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
}
