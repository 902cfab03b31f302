package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the upstream login surface consumed by the orchestrator.
// Login returns ErrChallengeRequired when a one-time code is needed;
// the caller completes the exchange with ResumeLogin. ProfileName is a
// cheap authenticated call used to confirm a stored session is still
// accepted by the service.
type Client interface {
	Login(ctx context.Context, creds Credentials) (*Session, error)
	ResumeLogin(ctx context.Context, creds Credentials, code string) (*Session, error)
	ProfileName(ctx context.Context, sess *Session) (string, error)
}

// DefaultBaseURL is the production SSO endpoint.
const DefaultBaseURL = "https://sso.garmin.com"

// SSOClient performs logins against the Connect SSO service over HTTP.
// It implements the minimal signin / MFA-resume / profile-fetch shape;
// protocol details beyond that are out of scope and the orchestrator
// only depends on the Client interface.
type SSOClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSSOClient creates a client for the given base URL. An empty baseURL
// selects the production endpoint.
func NewSSOClient(baseURL string) *SSOClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &SSOClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Login submits the credentials. On success it returns the token bundle.
// When the service demands a verification code it returns
// ErrChallengeRequired; when throttled it returns a wrapped ErrRateLimited.
func (c *SSOClient) Login(ctx context.Context, creds Credentials) (*Session, error) {
	form := url.Values{
		"username": {creds.Email},
		"password": {creds.Password},
		"embed":    {"true"},
	}
	return c.signin(ctx, form)
}

// ResumeLogin completes a login that raised an MFA challenge by submitting
// the resolved one-time code alongside the credentials.
func (c *SSOClient) ResumeLogin(ctx context.Context, creds Credentials, code string) (*Session, error) {
	form := url.Values{
		"username": {creds.Email},
		"password": {creds.Password},
		"embed":    {"true"},
		"mfa-code": {code},
	}
	return c.signin(ctx, form)
}

func (c *SSOClient) signin(ctx context.Context, form url.Values) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/sso/signin", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build signin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signin request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read signin response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("signin returned status 429: %w", ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized && isMFAResponse(body):
		return nil, ErrChallengeRequired
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("signin returned status %d", resp.StatusCode)
	}

	var tokens struct {
		OAuth1 json.RawMessage `json:"oauth1_token"`
		OAuth2 json.RawMessage `json:"oauth2_token"`
	}
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token bundle: %w", err)
	}
	if len(tokens.OAuth2) == 0 {
		return nil, fmt.Errorf("signin response contained no oauth2 token")
	}

	slog.Debug("signin completed", "oauth1", len(tokens.OAuth1) > 0)

	return &Session{
		OAuth1:    tokens.OAuth1,
		OAuth2:    tokens.OAuth2,
		CreatedAt: time.Now(),
	}, nil
}

// ProfileName fetches the display name of the authenticated user.
// It is the cheapest authenticated call the service exposes and serves
// as the session validity probe.
func (c *SSOClient) ProfileName(ctx context.Context, sess *Session) (string, error) {
	token, err := accessToken(sess)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/userprofile-service/socialProfile", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("profile request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("profile request returned status %d", resp.StatusCode)
	}

	var profile struct {
		DisplayName string `json:"displayName"`
		FullName    string `json:"fullName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("failed to parse profile response: %w", err)
	}

	if profile.FullName != "" {
		return profile.FullName, nil
	}
	return profile.DisplayName, nil
}

// accessToken extracts the bearer token from the stored OAuth2 document.
func accessToken(sess *Session) (string, error) {
	if sess == nil || len(sess.OAuth2) == 0 {
		return "", fmt.Errorf("session has no oauth2 token")
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(sess.OAuth2, &tok); err != nil {
		return "", fmt.Errorf("failed to parse oauth2 token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("oauth2 token has no access_token")
	}
	return tok.AccessToken, nil
}

// isMFAResponse reports whether an unauthorized signin response is the
// MFA challenge rather than a credential rejection.
func isMFAResponse(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "mfa") ||
		strings.Contains(s, "verification") ||
		strings.Contains(s, "code")
}
