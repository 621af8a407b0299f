package store

import (
	"crypto/rand"
	"encoding/base64"
)

// NewToken mints an opaque, URL-safe capability token. 24 random bytes
// keeps parity with the tokens already in circulation.
func NewToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic("store: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
