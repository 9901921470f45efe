// Package media prepares item images before upload.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
)

// DefaultMaxDimension bounds the longer side of an uploaded image.
const DefaultMaxDimension = 1600

// MaxUploadBytes is the largest image accepted before preparation.
const MaxUploadBytes = 10 << 20

const jpegQuality = 85

// Prepared is an image ready for upload.
type Prepared struct {
	Data        []byte
	Ext         string // without the dot
	ContentType string
	Width       int
	Height      int
	Resized     bool
}

// Prepare validates data as an image and downscales it so neither side
// exceeds maxDim. Images already within bounds are returned unchanged.
// JPEG stays JPEG; every other format is re-encoded as PNG when resized.
// maxDim <= 0 uses DefaultMaxDimension.
func Prepare(data []byte, maxDim int) (*Prepared, error) {
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "image is empty")
	}
	if len(data) > MaxUploadBytes {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "image is %d bytes, limit is %d", len(data), MaxUploadBytes)
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unsupported image type %s", mt.String())
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to decode image", err)
	}
	bounds := img.Bounds()

	out := &Prepared{
		Data:        data,
		Ext:         strings.TrimPrefix(mt.Extension(), "."),
		ContentType: mt.String(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}
	if out.Width <= maxDim && out.Height <= maxDim {
		return out, nil
	}

	resized := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	format := imaging.PNG
	if mt.Is("image/jpeg") {
		format = imaging.JPEG
	}
	encoded, err := encode(resized, format)
	if err != nil {
		return nil, err
	}

	rb := resized.Bounds()
	out.Data = encoded
	out.Width = rb.Dx()
	out.Height = rb.Dy()
	out.Resized = true
	if format == imaging.JPEG {
		out.Ext, out.ContentType = "jpg", "image/jpeg"
	} else {
		out.Ext, out.ContentType = "png", "image/png"
	}
	return out, nil
}

func encode(img image.Image, format imaging.Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
