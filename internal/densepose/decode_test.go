package densepose

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodeTestPNG(t *testing.T, width, height int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeImage(t *testing.T) {
	payload := encodeTestPNG(t, 12, 8)

	img, err := DecodeImage(payload)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if img.Width != 12 || img.Height != 8 {
		t.Fatalf("expected 12x8, got %dx%d", img.Width, img.Height)
	}
	if img.Format != "png" {
		t.Fatalf("expected png format, got %q", img.Format)
	}
	if len(img.Raw) == 0 {
		t.Fatal("expected raw bytes to be retained")
	}
}

func TestDecodeImageStripsDataURLHeader(t *testing.T) {
	payload := "data:image/png;base64," + encodeTestPNG(t, 4, 4)

	img, err := DecodeImage(payload)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if img.Width != 4 || img.Height != 4 {
		t.Fatalf("expected 4x4, got %dx%d", img.Width, img.Height)
	}
}

func TestDecodeImageTrimsSurroundingWhitespace(t *testing.T) {
	payload := "\n  " + encodeTestPNG(t, 4, 4) + "\t\n"

	if _, err := DecodeImage(payload); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
}

func TestDecodeImageRejectsMalformedBase64(t *testing.T) {
	_, err := DecodeImage("this is !!! not base64 ???")
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}

func TestDecodeImageRejectsNonImagePayload(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("definitely not pixels"))

	_, err := DecodeImage(payload)
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}

func TestNewResponseMarshalsEmptyInstanceList(t *testing.T) {
	data, err := json.Marshal(NewResponse(nil))
	if err != nil {
		t.Fatalf("failed to marshal response: %v", err)
	}
	want := `{"num_instances":0,"instances":[]}`
	if string(data) != want {
		t.Fatalf("unexpected payload: %s", data)
	}
}
