package apitest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const csrfRandLength = 32

func csrfMessage(cookie, randValue string) []byte {
	return fmt.Appendf(nil, "%d!%s!%d!%s", len(cookie), cookie, len(randValue), randValue)
}

// newCSRFToken binds a token to the csrftoken cookie the same way Django masks it per request:
// every call returns a different token that validates against the same cookie.
func newCSRFToken(cookie string, key []byte) string {
	buf := make([]byte, csrfRandLength)
	_, _ = rand.Read(buf)
	randValue := hex.EncodeToString(buf)

	hash := hmac.New(sha256.New, key)
	hash.Write(csrfMessage(cookie, randValue))

	return hex.EncodeToString(hash.Sum(nil)) + "." + randValue
}

func validCSRFToken(token, cookie string, key []byte) bool {
	mac, randValue, ok := strings.Cut(token, ".")
	if !ok || cookie == "" {
		return false
	}

	received, err := hex.DecodeString(mac)
	if err != nil {
		return false
	}

	hash := hmac.New(sha256.New, key)
	hash.Write(csrfMessage(cookie, randValue))

	return hmac.Equal(received, hash.Sum(nil))
}

func randomString() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
