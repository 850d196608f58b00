package densepose

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// ErrInvalidImage marks request payloads that cannot be decoded, either
// because the base64 text is malformed or because the bytes are not a
// supported image format. Handlers map it to a client error.
var ErrInvalidImage = errors.New("cannot decode request image")

// DecodeImage turns the base64 payload of an analysis request into pixels.
// A data URL header ("data:image/png;base64,....") is stripped when present.
func DecodeImage(payload string) (*Image, error) {
	encoded := strings.TrimSpace(payload)
	if strings.HasPrefix(encoded, "data:image") {
		if idx := strings.IndexByte(encoded, ','); idx >= 0 {
			encoded = encoded[idx+1:]
		}
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	decoded, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := decoded.Bounds()
	return &Image{
		Raw:     raw,
		Decoded: decoded,
		Format:  format,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
	}, nil
}
