// Package mfa resolves one-time verification codes for pending login
// challenges through an ordered chain of strategies. The first strategy
// that yields a valid code wins; strategies never run concurrently.
package mfa

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rkozlov/garmin-headless-auth/internal/mailbox"
)

// Strategy is one source of verification codes. Configured reports whether
// the strategy has the configuration it needs; unconfigured strategies are
// skipped and never suggested to the operator.
type Strategy interface {
	Name() string
	Configured() bool
	// Resolve returns a code, or an empty string when the source has none.
	// Errors are not fatal to the chain.
	Resolve(ctx context.Context) (string, error)
}

// staticStrategy returns a pre-shared code from configuration. No I/O;
// useful for CI runs where the operator exports the code up front.
type staticStrategy struct {
	code string
}

func (s *staticStrategy) Name() string     { return "pre-set code (GARMIN_MFA_CODE)" }
func (s *staticStrategy) Configured() bool { return s.code != "" }

func (s *staticStrategy) Resolve(ctx context.Context) (string, error) {
	return s.code, nil
}

// fileStrategy reads a code dropped into a well-known transient file.
// The file is deleted immediately after a successful read: deletion is
// the consumption boundary, so two processes sharing the path cannot
// both use the code.
type fileStrategy struct {
	path string
}

func (s *fileStrategy) Name() string     { return fmt.Sprintf("code file (%s)", s.path) }
func (s *fileStrategy) Configured() bool { return s.path != "" }

func (s *fileStrategy) Resolve(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read code file: %w", err)
	}

	code := strings.TrimSpace(string(data))
	if code == "" {
		return "", nil
	}

	if err := os.Remove(s.path); err != nil {
		return "", fmt.Errorf("refusing code that could be consumed twice: %w", err)
	}

	slog.Debug("code file consumed", "path", s.path)
	return code, nil
}

// mailboxStrategy searches the monitored inbox for the provider's
// verification mail. It blocks for a settle delay before the first search
// because the mail is sent asynchronously after the challenge is raised.
type mailboxStrategy struct {
	finder *mailbox.Finder
	wait   time.Duration
}

func (s *mailboxStrategy) Name() string     { return "monitored mailbox" }
func (s *mailboxStrategy) Configured() bool { return s.finder != nil }

// ExtraTimeout extends the per-strategy budget by the settle delay so the
// search itself still gets the full timeout.
func (s *mailboxStrategy) ExtraTimeout() time.Duration { return s.wait }

func (s *mailboxStrategy) Resolve(ctx context.Context) (string, error) {
	if s.wait > 0 {
		slog.Info("waiting for verification mail to arrive", "delay", s.wait)
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	code, err := s.finder.FindCode(ctx)
	if err != nil {
		if err == mailbox.ErrNoCode {
			return "", nil
		}
		return "", err
	}
	return code, nil
}

// webhookStrategy fetches a code from an operator-supplied endpoint.
// The endpoint contract is trivial: GET returns the code as plain text.
type webhookStrategy struct {
	url        string
	httpClient *http.Client
}

func newWebhookStrategy(url string) *webhookStrategy {
	return &webhookStrategy{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *webhookStrategy) Name() string     { return "webhook endpoint" }
func (s *webhookStrategy) Configured() bool { return s.url != "" }

func (s *webhookStrategy) Resolve(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build webhook request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("failed to read webhook response: %w", err)
	}

	return strings.TrimSpace(string(body)), nil
}
