package github

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

const (
	// KeyringService is the keychain service name for fel.
	KeyringService = "fel-github"

	// TokenCacheDir is the directory for token cache files.
	TokenCacheDir = ".config/fel" //nolint:gosec // Not a credential, just a directory name
	// TokenCacheFile is the filename for cached tokens.
	TokenCacheFile = "github-tokens.json" //nolint:gosec // Not a credential, just a filename
)

// TokenCache stores one OAuth token per GitHub host.
type TokenCache interface {
	Get() (*oauth2.Token, error)
	Set(token *oauth2.Token) error
	Clear() error
}

type cachedToken struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

func (c *cachedToken) toOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    c.TokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}

func fromOAuth2Token(t *oauth2.Token) *cachedToken {
	return &cachedToken{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// NewTokenCache creates a token cache for host, preferring the system
// keychain and falling back to a file when no keychain is reachable.
func NewTokenCache(host string) TokenCache {
	if host == "" {
		host = "github.com"
	}

	probe := KeyringService + "-probe"
	if err := keyring.Set(probe, host, "ok"); err == nil {
		_ = keyring.Delete(probe, host)
		return &KeychainTokenCache{service: KeyringService, host: host}
	}

	return &FileTokenCache{path: tokenCachePath(), host: host}
}

// KeychainTokenCache uses macOS keychain / Linux secret service / Windows credential manager.
type KeychainTokenCache struct {
	service string
	host    string
}

// Get retrieves the cached token from keychain.
func (k *KeychainTokenCache) Get() (*oauth2.Token, error) {
	data, err := keyring.Get(k.service, k.host)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, felerrors.NewGitHubErrorWithCause("TokenCache.Get", "failed to read from keychain", err)
	}

	var cached cachedToken
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return nil, felerrors.NewGitHubErrorWithCause("TokenCache.Get", "failed to parse cached token", err)
	}
	return cached.toOAuth2Token(), nil
}

// Set stores the token in keychain.
func (k *KeychainTokenCache) Set(token *oauth2.Token) error {
	data, err := json.Marshal(fromOAuth2Token(token))
	if err != nil {
		return felerrors.NewGitHubErrorWithCause("TokenCache.Set", "failed to serialize token", err)
	}
	if err := keyring.Set(k.service, k.host, string(data)); err != nil {
		return felerrors.NewGitHubErrorWithCause("TokenCache.Set", "failed to save to keychain", err)
	}
	return nil
}

// Clear removes the token from keychain.
func (k *KeychainTokenCache) Clear() error {
	err := keyring.Delete(k.service, k.host)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return felerrors.NewGitHubErrorWithCause("TokenCache.Clear", "failed to clear keychain", err)
	}
	return nil
}

// FileTokenCache keeps tokens for every host in one JSON file readable only
// by the owner. It is the fallback for headless systems.
type FileTokenCache struct {
	path string
	host string
}

func (f *FileTokenCache) load() (map[string]*cachedToken, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*cachedToken{}, nil
		}
		return nil, felerrors.NewGitHubErrorWithCause("TokenCache.Get", "failed to read token file", err)
	}
	tokens := map[string]*cachedToken{}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, felerrors.NewGitHubErrorWithCause("TokenCache.Get", "failed to parse token file", err)
	}
	return tokens, nil
}

func (f *FileTokenCache) save(tokens map[string]*cachedToken) error {
	if len(tokens) == 0 {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return felerrors.NewGitHubErrorWithCause("TokenCache.Clear", "failed to remove token file", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return felerrors.NewGitHubErrorWithCause("TokenCache.Set", "failed to create config directory", err)
	}
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return felerrors.NewGitHubErrorWithCause("TokenCache.Set", "failed to serialize tokens", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return felerrors.NewGitHubErrorWithCause("TokenCache.Set", "failed to write token file", err)
	}
	return nil
}

// Get retrieves the cached token for the host.
func (f *FileTokenCache) Get() (*oauth2.Token, error) {
	tokens, err := f.load()
	if err != nil {
		return nil, err
	}
	cached, ok := tokens[f.host]
	if !ok {
		return nil, nil
	}
	return cached.toOAuth2Token(), nil
}

// Set stores the token for the host, keeping other hosts' tokens.
func (f *FileTokenCache) Set(token *oauth2.Token) error {
	tokens, err := f.load()
	if err != nil {
		return err
	}
	tokens[f.host] = fromOAuth2Token(token)
	return f.save(tokens)
}

// Clear removes the host's token.
func (f *FileTokenCache) Clear() error {
	tokens, err := f.load()
	if err != nil {
		return err
	}
	delete(tokens, f.host)
	return f.save(tokens)
}

func tokenCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, TokenCacheDir, TokenCacheFile)
}
