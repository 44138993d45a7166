// Package ghapp authenticates as a GitHub App and mints short-lived
// installation tokens for agent tasks.
package ghapp

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v68/github"

	"github.com/autodev/internal/config"
)

const (
	// GitHub rejects app JWTs that live longer than ten minutes.
	jwtLifetime = 10 * time.Minute
	// Backdate iat to absorb clock drift between us and GitHub.
	jwtClockSkew = 60 * time.Second
)

// ErrAuth wraps every failure to obtain an installation token.
var ErrAuth = errors.New("github app authentication failed")

// Credential is an installation access token.
type Credential struct {
	Token          config.Secret
	ExpiresAt      time.Time
	InstallationID int64
}

// App signs JWTs for one GitHub App and exchanges them for installation tokens.
type App struct {
	id     int64
	key    *rsa.PrivateKey
	apiURL *url.URL
	now    func() time.Time
}

// New parses a PEM encoded RSA key. apiURL may be empty for github.com.
func New(appID int64, privateKeyPEM []byte, apiURL string) (*App, error) {
	if appID <= 0 {
		return nil, fmt.Errorf("%w: app id is required", ErrAuth)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrAuth, err)
	}

	app := &App{id: appID, key: key, now: time.Now}
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
		}
		app.apiURL = u
	}
	return app, nil
}

// Load reads the private key named in the github config section.
func Load(cfg config.GitHubConfig) (*App, error) {
	pem, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key: %v", ErrAuth, err)
	}
	return New(cfg.AppID, pem, cfg.APIURL)
}

// ID returns the app id.
func (a *App) ID() int64 {
	return a.id
}

// JWT returns a signed RS256 app token valid for ten minutes.
func (a *App) JWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtClockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
		Issuer:    strconv.FormatInt(a.id, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("%w: sign jwt: %v", ErrAuth, err)
	}
	return signed, nil
}

// InstallationToken mints a new token scoped to one installation. Every call
// goes to GitHub; a token belongs to the single task that asked for it.
func (a *App) InstallationToken(ctx context.Context, installationID int64) (*Credential, error) {
	signed, err := a.JWT()
	if err != nil {
		return nil, err
	}
	client := github.NewClient(nil).WithAuthToken(signed)
	if a.apiURL != nil {
		client.BaseURL = a.apiURL
	}

	tok, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: installation %d: %v", ErrAuth, installationID, err)
	}
	return &Credential{
		Token:          config.Secret(tok.GetToken()),
		ExpiresAt:      tok.GetExpiresAt().Time,
		InstallationID: installationID,
	}, nil
}
