package payment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidSignature is returned when an X-VERIFY header does not match.
var ErrInvalidSignature = errors.New("invalid X-VERIFY signature")

// XVerify signs a gateway request: sha256hex(payload + path + saltKey)
// followed by "###" and the salt index. payload is the base64 request body,
// or empty for GET requests.
func XVerify(payload, path, saltKey, saltIndex string) string {
	sum := sha256.Sum256([]byte(payload + path + saltKey))
	return hex.EncodeToString(sum[:]) + "###" + saltIndex
}

// VerifyCallback checks the X-VERIFY header of a server-to-server callback,
// which signs the base64 response field with no path.
func VerifyCallback(header, response, saltKey, saltIndex string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrInvalidSignature
	}
	want := XVerify(response, "", saltKey, saltIndex)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(header)), []byte(want)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
