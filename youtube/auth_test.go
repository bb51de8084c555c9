package youtube

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestSaveLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	tok := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := SaveToken(path, tok); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("token file mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken() error = %v", err)
	}
	if got.AccessToken != tok.AccessToken || got.RefreshToken != tok.RefreshToken || !got.Expiry.Equal(tok.Expiry) {
		t.Errorf("LoadToken() = %+v, want %+v", got, tok)
	}
}

func TestLoadToken_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	os.WriteFile(path, []byte(`{}`), 0600)

	if _, err := LoadToken(path); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("LoadToken() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestClientOptions(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token.json")
	SaveToken(tokenFile, &oauth2.Token{AccessToken: "a"})

	tests := []struct {
		name    string
		cfg     AuthConfig
		wantErr error
	}{
		{"token", AuthConfig{TokenFile: tokenFile}, nil},
		{"api key", AuthConfig{APIKey: "key"}, nil},
		{"missing token falls back to key", AuthConfig{TokenFile: filepath.Join(dir, "none.json"), APIKey: "key"}, nil},
		{"nothing", AuthConfig{}, ErrNotAuthenticated},
		{"bad secrets", AuthConfig{TokenFile: tokenFile, ClientSecretsFile: filepath.Join(dir, "missing.json")}, os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ClientOptions(context.Background(), tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ClientOptions() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ClientOptions() error = %v", err)
			}
			if len(opts) != 1 {
				t.Errorf("len(opts) = %d, want 1", len(opts))
			}
		})
	}
}

type fakeTokenSource struct {
	tokens []*oauth2.Token
}

func (f *fakeTokenSource) Token() (*oauth2.Token, error) {
	tok := f.tokens[0]
	if len(f.tokens) > 1 {
		f.tokens = f.tokens[1:]
	}
	return tok, nil
}

func TestSavingTokenSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	ts := &savingTokenSource{
		base: &fakeTokenSource{tokens: []*oauth2.Token{{AccessToken: "old"}, {AccessToken: "new", RefreshToken: "r"}}},
		path: path,
		last: "old",
	}

	ts.Token()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("unchanged token should not be written")
	}

	ts.Token()
	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken() error = %v", err)
	}
	if got.AccessToken != "new" {
		t.Errorf("persisted token = %q, want new", got.AccessToken)
	}
}
