package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// GenerateTicketID mints a "TKT-" prefixed identifier, 8 random bytes hex
// encoded. Identifiers are stable and public; they carry no secret.
func GenerateTicketID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process has bigger problems
		return fmt.Sprintf("TKT-%s", uuid.NewString())
	}
	return fmt.Sprintf("TKT-%X", buf)
}

// GenerateCredentialSecret produces a high-entropy value bound to one
// ticket. 32 random bytes, URL-safe base64, never derivable from the
// ticket id.
func GenerateCredentialSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate credential secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateRequestID tags a request for log correlation.
func GenerateRequestID() string {
	return uuid.NewString()
}
