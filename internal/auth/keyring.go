package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/ashita-ai/mathmentor/internal/model"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// ErrInvalidKey is returned when an API key matches no configured role.
var ErrInvalidKey = errors.New("auth: invalid api key")

// HashAPIKey hashes an API key with Argon2id as "salt$hash" in base64.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(sum), nil
}

// VerifyAPIKey checks an API key against a HashAPIKey result.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	saltB64, sumB64, ok := strings.Cut(encoded, "$")
	if !ok {
		return false, fmt.Errorf("auth: invalid hash format")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(sumB64)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// KeyRing maps API keys to roles. Only hashes are kept in memory.
type KeyRing struct {
	entries []keyEntry
}

type keyEntry struct {
	role model.Role
	hash string
}

// NewKeyRing hashes the non-empty keys in keys. A ring with no keys rejects
// every key.
func NewKeyRing(keys map[model.Role]string) (*KeyRing, error) {
	kr := &KeyRing{}
	for _, role := range []model.Role{model.RoleAdmin, model.RoleReviewer, model.RoleStudent} {
		key := keys[role]
		if key == "" {
			continue
		}
		h, err := HashAPIKey(key)
		if err != nil {
			return nil, err
		}
		kr.entries = append(kr.entries, keyEntry{role: role, hash: h})
	}
	return kr, nil
}

// Len is the number of configured keys.
func (kr *KeyRing) Len() int { return len(kr.entries) }

// Authenticate returns the role for apiKey. Every entry is checked so the
// time taken does not reveal which role matched.
func (kr *KeyRing) Authenticate(apiKey string) (model.Role, error) {
	var match model.Role
	for _, e := range kr.entries {
		ok, err := VerifyAPIKey(apiKey, e.hash)
		if err != nil {
			return "", err
		}
		if ok && match == "" {
			match = e.role
		}
	}
	if match == "" {
		if len(kr.entries) == 0 {
			// Equalize timing with the configured case.
			_ = argon2.IDKey([]byte(apiKey), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
		}
		return "", ErrInvalidKey
	}
	return match, nil
}
