package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mathmentor/internal/auth"
	"github.com/ashita-ai/mathmentor/internal/model"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyAPIKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = auth.VerifyAPIKey("test-key-123", "no-separator")
	assert.Error(t, err)
}

func TestKeyRing(t *testing.T) {
	kr, err := auth.NewKeyRing(map[model.Role]string{
		model.RoleAdmin:    "admin-key",
		model.RoleReviewer: "reviewer-key",
		model.RoleStudent:  "",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, kr.Len())

	tests := []struct {
		key     string
		want    model.Role
		wantErr bool
	}{
		{"admin-key", model.RoleAdmin, false},
		{"reviewer-key", model.RoleReviewer, false},
		{"", "", true},
		{"student-key", "", true},
	}
	for _, tt := range tests {
		role, err := kr.Authenticate(tt.key)
		if tt.wantErr {
			assert.ErrorIs(t, err, auth.ErrInvalidKey, tt.key)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, role)
	}

	empty, err := auth.NewKeyRing(nil)
	require.NoError(t, err)
	_, err = empty.Authenticate("anything")
	assert.ErrorIs(t, err, auth.ErrInvalidKey)
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken("prof.lee", model.RoleReviewer)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "prof.lee", claims.Subject)
	assert.Equal(t, model.RoleReviewer, claims.Role)
}

func TestIssueToken_InvalidSubject(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	_, _, err = mgr.IssueToken("no spaces allowed", model.RoleStudent)
	assert.Error(t, err)
}

func TestValidateToken_OtherManager(t *testing.T) {
	a, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	b, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := a.IssueToken("student1", model.RoleStudent)
	require.NoError(t, err)
	_, err = b.ValidateToken(token)
	assert.Error(t, err)
}

// newTestJWTManagerWithKey creates a JWTManager backed by a real Ed25519 key pair
// written to temp PEM files, and returns the raw private key for forging tokens.
func newTestJWTManagerWithKey(t *testing.T) (*auth.JWTManager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dir := t.TempDir()

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPath := filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}), 0o600))

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), 0o600))

	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	return mgr, priv
}

func forgeToken(t *testing.T, privKey ed25519.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(privKey)
	require.NoError(t, err)
	return signed
}

func TestValidateToken_Forged(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)
	now := time.Now().UTC()
	base := func() auth.Claims {
		return auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "student1",
				Issuer:    "mathmentor",
				Audience:  jwt.ClaimStrings{"mathmentor"},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				ID:        uuid.New().String(),
			},
			Role: model.RoleStudent,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *auth.Claims)
		wantErr string
	}{
		{"valid", func(*auth.Claims) {}, ""},
		{"wrong issuer", func(c *auth.Claims) { c.Issuer = "not-mathmentor" }, "invalid issuer"},
		{"empty issuer", func(c *auth.Claims) { c.Issuer = "" }, "iss claim is required"},
		{"wrong audience", func(c *auth.Claims) { c.Audience = jwt.ClaimStrings{"other"} }, "invalid audience"},
		{"expired", func(c *auth.Claims) { c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute)) }, "expired"},
		{"no expiry", func(c *auth.Claims) { c.ExpiresAt = nil }, "exp claim is required"},
		{"unknown role", func(c *auth.Claims) { c.Role = "superuser" }, "invalid role"},
		{"malformed subject", func(c *auth.Claims) { c.Subject = "two words" }, "invalid subject"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			_, err := mgr.ValidateToken(forgeToken(t, privKey, &c))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewJWTManager_MismatchedKeys(t *testing.T) {
	_, privA := newTestJWTManagerWithKey(t)
	pubB, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dir := t.TempDir()
	privBytes, err := x509.MarshalPKCS8PrivateKey(privA)
	require.NoError(t, err)
	privPath := filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}), 0o600))
	pubBytes, err := x509.MarshalPKIXPublicKey(pubB)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), 0o600))

	_, err = auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}
