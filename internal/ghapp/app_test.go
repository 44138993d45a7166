package ghapp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autodev/internal/config"
)

func testKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, block
}

func TestNewRejectsBadInput(t *testing.T) {
	_, keyPEM := testKey(t)

	_, err := New(0, keyPEM, "")
	require.ErrorIs(t, err, ErrAuth)

	_, err = New(1, []byte("not a key"), "")
	require.ErrorIs(t, err, ErrAuth)
}

func TestJWTClaims(t *testing.T) {
	key, keyPEM := testKey(t)
	app, err := New(123456, keyPEM, "")
	require.NoError(t, err)

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	app.now = func() time.Time { return fixed }

	signed, err := app.JWT()
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(tok *jwt.Token) (interface{}, error) {
		assert.Equal(t, "RS256", tok.Method.Alg())
		return &key.PublicKey, nil
	}, jwt.WithoutClaimsValidation())
	require.NoError(t, err)

	assert.Equal(t, "123456", claims.Issuer)
	assert.Equal(t, fixed.Add(-time.Minute), claims.IssuedAt.Time.UTC())
	assert.Equal(t, fixed.Add(10*time.Minute), claims.ExpiresAt.Time.UTC())
}

func TestInstallationTokenMintsPerCall(t *testing.T) {
	key, keyPEM := testKey(t)
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/installations/42/access_tokens", r.URL.Path)

		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		_, err := jwt.Parse(bearer, func(*jwt.Token) (interface{}, error) { return &key.PublicKey, nil })
		assert.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      fmt.Sprintf("ghs_installation_%d", n),
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	app, err := New(7, keyPEM, srv.URL)
	require.NoError(t, err)

	cred, err := app.InstallationToken(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "ghs_installation_1", cred.Token.Value())
	assert.Equal(t, int64(42), cred.InstallationID)
	assert.True(t, cred.ExpiresAt.After(time.Now()))

	// a second task on the same installation gets its own token
	again, err := app.InstallationToken(context.Background(), 42)
	require.NoError(t, err)
	assert.NotSame(t, cred, again)
	assert.Equal(t, "ghs_installation_2", again.Token.Value())
	assert.Equal(t, int32(2), calls.Load())
}

func TestInstallationTokenFailure(t *testing.T) {
	_, keyPEM := testKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer srv.Close()

	app, err := New(7, keyPEM, srv.URL)
	require.NoError(t, err)

	_, err = app.InstallationToken(context.Background(), 99)
	require.ErrorIs(t, err, ErrAuth)
}

func TestLoad(t *testing.T) {
	_, keyPEM := testKey(t)
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, keyPEM, 0o600))

	app, err := Load(config.GitHubConfig{AppID: 5, PrivateKeyPath: path})
	require.NoError(t, err)
	assert.Equal(t, int64(5), app.ID())

	_, err = Load(config.GitHubConfig{AppID: 5, PrivateKeyPath: filepath.Join(t.TempDir(), "missing.pem")})
	require.ErrorIs(t, err, ErrAuth)
}
