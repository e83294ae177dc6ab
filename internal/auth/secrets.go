package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Token secrets are opaque URL-safe base64 over a 16-byte selector plus a
// 32-byte verifier. The selector indexes the row; only an argon2id hash of
// the verifier is stored.
const (
	selectorLen = 16
	verifierLen = 32
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// GenerateSecret mints a fresh secret and returns it with the selector used
// to look the token up later.
func GenerateSecret() (secret, selector string, verifier []byte, err error) {
	raw := make([]byte, selectorLen+verifierLen)
	if _, err = rand.Read(raw); err != nil {
		return "", "", nil, fmt.Errorf("failed to generate token secret: %w", err)
	}
	secret = base64.RawURLEncoding.EncodeToString(raw)
	selector = hex.EncodeToString(raw[:selectorLen])
	verifier = raw[selectorLen:]
	return secret, selector, verifier, nil
}

// SplitSecret recovers the selector and verifier from a presented secret.
func SplitSecret(secret string) (selector string, verifier []byte, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil || len(raw) != selectorLen+verifierLen {
		return "", nil, fmt.Errorf("malformed token secret")
	}
	return hex.EncodeToString(raw[:selectorLen]), raw[selectorLen:], nil
}

// HashVerifier derives an argon2id encoding of the verifier.
func HashVerifier(verifier []byte) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2.IDKey(verifier, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifySecret checks a presented verifier against a stored encoding.
func VerifySecret(encoded string, verifier []byte) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var memory, timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey(verifier, salt, timeCost, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
