package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

// TestPrepareSmallImageUnchanged verifies images within bounds pass through.
func TestPrepareSmallImageUnchanged(t *testing.T) {
	data := encodePNG(t, testImage(40, 20))

	got, err := Prepare(data, 100)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if got.Resized {
		t.Error("small image should not be resized")
	}
	if !bytes.Equal(got.Data, data) {
		t.Error("data changed for small image")
	}
	if got.Ext != "png" || got.ContentType != "image/png" {
		t.Errorf("ext = %q, type = %q", got.Ext, got.ContentType)
	}
	if got.Width != 40 || got.Height != 20 {
		t.Errorf("size = %dx%d, want 40x20", got.Width, got.Height)
	}
}

// TestPrepareDownscalesPNG verifies the longer side is bounded and the
// aspect ratio kept.
func TestPrepareDownscalesPNG(t *testing.T) {
	got, err := Prepare(encodePNG(t, testImage(200, 100)), 50)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if !got.Resized {
		t.Fatal("expected resize")
	}
	if got.Width != 50 || got.Height != 25 {
		t.Errorf("size = %dx%d, want 50x25", got.Width, got.Height)
	}

	decoded, format, err := image.Decode(bytes.NewReader(got.Data))
	if err != nil {
		t.Fatalf("output does not decode: %v", err)
	}
	if format != "png" || decoded.Bounds().Dx() != 50 {
		t.Errorf("decoded %s %v", format, decoded.Bounds())
	}
}

func TestPrepareKeepsJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(120, 240), nil); err != nil {
		t.Fatalf("jpeg.Encode failed: %v", err)
	}

	got, err := Prepare(buf.Bytes(), 60)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if got.Ext != "jpg" || got.ContentType != "image/jpeg" {
		t.Errorf("ext = %q, type = %q", got.Ext, got.ContentType)
	}
	if got.Width != 30 || got.Height != 60 {
		t.Errorf("size = %dx%d, want 30x60", got.Width, got.Height)
	}
}

func TestPrepareRejectsNonImages(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("just some text, not a picture")},
		{"truncated png", encodePNG(t, testImage(10, 10))[:20]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Prepare(tt.data, 0)
			if !apperrors.Is(err, apperrors.ErrInvalid) {
				t.Errorf("Prepare error = %v, want INVALID_INPUT", err)
			}
		})
	}
}
