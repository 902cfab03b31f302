package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"

	"github.com/rkozlov/garmin-headless-auth/internal/config"
)

// mailboxAccessToken produces an access token for the SASL OAUTHBEARER
// exchange from the stored refresh token, reusing a cached access token
// while it is still valid. The refreshed token is written back to the
// cache file so restarts do not burn refresh-token exchanges.
func mailboxAccessToken(ctx context.Context, cfg *config.MailboxConfig) (string, error) {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}

	base := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	cached := loadCachedToken(cfg.TokenPath)
	source := base
	if cached != nil {
		source = oauth2.ReuseTokenSource(cached, base)
	}

	tok, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to obtain mailbox access token: %w", err)
	}

	if cfg.TokenPath != "" && (cached == nil || tok.AccessToken != cached.AccessToken) {
		saveCachedToken(cfg.TokenPath, tok)
	}

	return tok.AccessToken, nil
}

// loadCachedToken reads a previously cached token; any problem means no cache.
func loadCachedToken(path string) *oauth2.Token {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		slog.Debug("ignoring unreadable mailbox token cache", "path", path, "error", err)
		return nil
	}
	return &tok
}

// saveCachedToken persists the token cache; failures are logged and dropped,
// the cache is an optimization only.
func saveCachedToken(path string, tok *oauth2.Token) {
	data, err := json.Marshal(tok)
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		slog.Debug("failed to write mailbox token cache", "path", path, "error", err)
	}
}
