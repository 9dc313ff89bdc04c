package qrcode

import (
	"fmt"

	qr "github.com/skip2/go-qrcode"
)

// Renderer turns an opaque payload into a displayable matrix code image.
type Renderer interface {
	RenderPNG(data string, size int) ([]byte, error)
}

type pngRenderer struct {
	level qr.RecoveryLevel
}

// NewPNGRenderer returns a Renderer producing PNG images with medium
// error correction, enough for phone-camera scanning of dense payloads.
func NewPNGRenderer() Renderer {
	return &pngRenderer{level: qr.Medium}
}

func (r *pngRenderer) RenderPNG(data string, size int) ([]byte, error) {
	if data == "" {
		return nil, fmt.Errorf("empty payload")
	}
	if size <= 0 {
		size = 256
	}

	png, err := qr.Encode(data, r.level, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR image: %w", err)
	}
	return png, nil
}
