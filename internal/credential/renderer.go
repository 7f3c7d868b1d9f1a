package credential

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// DefaultQRSize is the rendered image edge in pixels.
const DefaultQRSize = 256

// Render turns an encoded token into a scannable QR code PNG. Gate
// scanning reliability matters more than image density, so callers should
// normally pass qrcode.Highest.
func Render(token string, size int, level qrcode.RecoveryLevel) ([]byte, error) {
	if token == "" {
		return nil, fmt.Errorf("credential: cannot render empty token")
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(token, level, size)
	if err != nil {
		return nil, fmt.Errorf("credential: render QR: %w", err)
	}
	return png, nil
}

// RenderDefault renders at the default size and the highest recovery level.
func RenderDefault(token string) ([]byte, error) {
	return Render(token, DefaultQRSize, qrcode.Highest)
}
