package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for API key hashing. Keys are checked once per token
// grant, not per request, so the memory-hard cost stays affordable.
const (
	hashTime    = 1
	hashMemory  = 64 * 1024 // KiB
	hashThreads = 4
	hashLen     = 32
	hashSaltLen = 16
)

// HashAPIKey derives an Argon2id digest of key under a fresh random salt.
// The result carries both parts base64-encoded, separated by '$'.
func HashAPIKey(key string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	digest := argon2.IDKey([]byte(key), salt, hashTime, hashMemory, hashThreads, hashLen)
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(digest), nil
}

// VerifyAPIKey re-derives the digest for key under the stored salt and
// compares in constant time.
func VerifyAPIKey(key, stored string) (bool, error) {
	saltPart, digestPart, found := strings.Cut(stored, "$")
	if !found {
		return false, fmt.Errorf("auth: invalid hash format")
	}
	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(digestPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode digest: %w", err)
	}
	got := argon2.IDKey([]byte(key), salt, hashTime, hashMemory, hashThreads, hashLen)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// DummyVerify burns one Argon2id derivation so that failed lookups take as
// long as a real verification. Keeps token-grant timing from revealing
// whether a client id exists.
func DummyVerify() {
	argon2.IDKey([]byte("vitalia"), make([]byte, hashSaltLen), hashTime, hashMemory, hashThreads, hashLen)
}
