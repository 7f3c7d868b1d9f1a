package credential

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Prefix namespaces every token this system mints so scanners can tell
// ours apart from arbitrary QR content before attempting a decode.
const Prefix = "EVX1:"

// checksumLen is the number of SHA-256 bytes appended to the payload.
// 10 bytes bounds the chance of a corrupted token slipping through at 2^-80.
const checksumLen = 10

var (
	// ErrMalformed means the token does not have the expected structure:
	// wrong prefix, wrong segment count, or invalid base64.
	ErrMalformed = errors.New("credential: malformed token")
	// ErrUnrecognized means the structure parsed but the checksum does not
	// match, so the token is tampered with or belongs to another system.
	ErrUnrecognized = errors.New("credential: unrecognized token")
)

var encoding = base64.RawURLEncoding

// Encode maps a ticket identity to its opaque scannable token. It is a
// pure function: same inputs, same token.
func Encode(ticketID, secret string) string {
	id := encoding.EncodeToString([]byte(ticketID))
	sec := encoding.EncodeToString([]byte(secret))
	sum := checksum(id, sec)
	return Prefix + id + "." + sec + "." + encoding.EncodeToString(sum)
}

// Decode reverses Encode. It never touches storage; a successful decode
// proves only that the token is ours and intact, not that the ticket is
// still valid.
func Decode(token string) (ticketID, secret string, err error) {
	body, ok := strings.CutPrefix(token, Prefix)
	if !ok {
		return "", "", fmt.Errorf("%w: missing %q prefix", ErrMalformed, Prefix)
	}

	parts := strings.Split(body, ".")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}

	idBytes, err := encoding.DecodeString(parts[0])
	if err != nil {
		return "", "", fmt.Errorf("%w: ticket segment: %v", ErrMalformed, err)
	}
	secBytes, err := encoding.DecodeString(parts[1])
	if err != nil {
		return "", "", fmt.Errorf("%w: secret segment: %v", ErrMalformed, err)
	}
	sum, err := encoding.DecodeString(parts[2])
	if err != nil {
		return "", "", fmt.Errorf("%w: checksum segment: %v", ErrMalformed, err)
	}
	if len(sum) != checksumLen {
		return "", "", fmt.Errorf("%w: checksum length %d", ErrMalformed, len(sum))
	}

	expected := checksum(parts[0], parts[1])
	if !bytesEqual(sum, expected) {
		return "", "", ErrUnrecognized
	}

	return string(idBytes), string(secBytes), nil
}

func checksum(idSegment, secretSegment string) []byte {
	h := sha256.New()
	h.Write([]byte(idSegment))
	h.Write([]byte("."))
	h.Write([]byte(secretSegment))
	return h.Sum(nil)[:checksumLen]
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
