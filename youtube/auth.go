package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// AuthConfig selects how the Data API client authenticates.
type AuthConfig struct {
	// APIKey is used when no token is configured. It cannot list "my" playlists.
	APIKey string
	// TokenFile holds a JSON-encoded oauth2.Token.
	TokenFile string
	// ClientSecretsFile is the Google OAuth client JSON used to refresh TokenFile.
	ClientSecretsFile string
}

// ClientOptions returns the API client options for cfg. An OAuth token takes
// precedence over an API key.
func ClientOptions(ctx context.Context, cfg AuthConfig) ([]option.ClientOption, error) {
	if cfg.TokenFile != "" {
		if _, err := os.Stat(cfg.TokenFile); err == nil {
			ts, err := TokenSource(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return []option.ClientOption{option.WithTokenSource(ts)}, nil
		}
	}
	if cfg.APIKey != "" {
		return []option.ClientOption{option.WithAPIKey(cfg.APIKey)}, nil
	}
	return nil, ErrNotAuthenticated
}

// OAuthConfig loads the OAuth client from a Google client secrets file with
// read-only YouTube scope.
func OAuthConfig(secretsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(secretsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	conf, err := google.ConfigFromJSON(data, youtube.YoutubeReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	return conf, nil
}

// TokenSource returns a token source seeded from cfg.TokenFile. Refreshed
// tokens are written back to the file. Without a secrets file the stored
// token is used as-is until it expires.
func TokenSource(ctx context.Context, cfg AuthConfig) (oauth2.TokenSource, error) {
	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	if cfg.ClientSecretsFile == "" {
		return oauth2.StaticTokenSource(tok), nil
	}
	conf, err := OAuthConfig(cfg.ClientSecretsFile)
	if err != nil {
		return nil, err
	}
	return &savingTokenSource{
		base: conf.TokenSource(ctx, tok),
		path: cfg.TokenFile,
		last: tok.AccessToken,
	}, nil
}

// Exchange trades an authorization code for a token and stores it at tokenFile.
func Exchange(ctx context.Context, conf *oauth2.Config, code, tokenFile string) error {
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	return SaveToken(tokenFile, tok)
}

// LoadToken reads a JSON-encoded token.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("parse token: %w", ErrNotAuthenticated)
	}
	return &tok, nil
}

// SaveToken writes tok as JSON readable only by the owner.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

type savingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			log.Printf("youtube: persist refreshed token: %v", err)
		} else {
			s.last = tok.AccessToken
		}
	}
	return tok, nil
}
