package github

import (
	"testing"

	"thoreinstein.com/fel/pkg/config"
	"thoreinstein.com/fel/pkg/git"
)

var testRepo = &git.RepoURL{Host: "github.com", Owner: "octo", Repo: "widgets"}

func clearTokenEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("FEL_GITHUB_TOKEN", "")
}

func TestNewClient_NilConfig(t *testing.T) {
	if _, err := NewClient(nil, testRepo, false, nil); err == nil {
		t.Error("NewClient(nil) should return error")
	}
}

func TestNewClient_UnknownRepository(t *testing.T) {
	if _, err := NewClient(&config.GitHubConfig{}, &git.RepoURL{Host: "github.com"}, false, nil); err == nil {
		t.Error("NewClient without owner/repo should return error")
	}
}

func TestNewClient_UnknownAuthMethod(t *testing.T) {
	clearTokenEnv(t)
	cfg := &config.GitHubConfig{AuthMethod: "unknown"}
	if _, err := NewClient(cfg, testRepo, false, nil); err == nil {
		t.Error("NewClient with unknown auth should return error")
	}
}

func TestNewClient_TokenAuthMissingToken(t *testing.T) {
	clearTokenEnv(t)
	cfg := &config.GitHubConfig{AuthMethod: "token"}
	if _, err := NewClient(cfg, testRepo, false, nil); err == nil {
		t.Error("NewClient with token auth but no token should return error")
	}
}

func TestNewClient_TokenPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		cfgToken string
	}{
		{"GITHUB_TOKEN", map[string]string{"GITHUB_TOKEN": "a"}, ""},
		{"FEL_GITHUB_TOKEN", map[string]string{"FEL_GITHUB_TOKEN": "b"}, ""},
		{"config token", nil, "c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTokenEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := &config.GitHubConfig{AuthMethod: "gh_cli", Token: tt.cfgToken}

			client, err := NewClient(cfg, testRepo, false, nil)
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if _, ok := client.(*APIClient); !ok {
				t.Errorf("NewClient() = %T, want *APIClient when a token is available", client)
			}
		})
	}
}

func TestNewClient_OAuthWithoutClientID(t *testing.T) {
	clearTokenEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg := &config.GitHubConfig{AuthMethod: "oauth"}
	if _, err := NewClient(cfg, testRepo, false, nil); err == nil {
		t.Error("NewClient with oauth and no client_id or cached token should return error")
	}
}
