// Package notify sends best-effort authentication alerts to an ntfy server.
// Delivery failures are never surfaced to callers: a lost notification must
// not fail an authentication cycle.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Sink is the outbound alerting surface consumed by the orchestrator and
// the MFA resolver. All methods are fire-and-forget.
type Sink interface {
	AuthSuccess(method string)
	AuthFailure(reason string)
	MFARequired(configuredMethods []string)
	RateLimited(retryAfter time.Duration)
	TokensExpiring(daysOld int)
}

// fallbackServer is tried without authentication when the primary
// server rejects or cannot be reached.
const fallbackServer = "https://ntfy.sh"

const publishTimeout = 10 * time.Second

// Notifier publishes events over the ntfy HTTP protocol: the message is
// the POST body, metadata travels in Title/Priority/Tags headers.
type Notifier struct {
	server        string
	topic         string
	token         string
	fallbackTopic string
	enabled       bool
	httpClient    *http.Client
}

// New creates a notifier. When enabled is false every publish is a no-op,
// which keeps call sites free of conditionals.
func New(server, topic, token, fallbackTopic string, enabled bool) *Notifier {
	return &Notifier{
		server:        strings.TrimRight(server, "/"),
		topic:         topic,
		token:         token,
		fallbackTopic: fallbackTopic,
		enabled:       enabled,
		httpClient:    &http.Client{Timeout: publishTimeout},
	}
}

// AuthSuccess reports a completed authentication.
func (n *Notifier) AuthSuccess(method string) {
	n.publish("Garmin Auth Success",
		fmt.Sprintf("Authentication successful using %s.\nTokens refreshed and valid for roughly 3 months.", method),
		"low", "success,garmin")
}

// AuthFailure reports a failed authentication cycle.
func (n *Notifier) AuthFailure(reason string) {
	n.publish("Garmin Auth Failed",
		fmt.Sprintf("Authentication failed:\n%s\n\nAction needed: check credentials or provide an MFA code.", reason),
		"high", "error,garmin,alert")
}

// MFARequired reports that no strategy produced a code. Only the methods
// that are actually configured are listed; suggesting unconfigured levers
// wastes the operator's time.
func (n *Notifier) MFARequired(configuredMethods []string) {
	var b strings.Builder
	b.WriteString("A verification code is required to complete login.\n\n")
	if len(configuredMethods) > 0 {
		b.WriteString("Configured code sources (all were tried):\n")
		for _, m := range configuredMethods {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	} else {
		b.WriteString("No automated code sources are configured.\n")
		b.WriteString("Set GARMIN_MFA_CODE, drop a code file, or configure the mailbox or webhook source.\n")
	}
	n.publish("Garmin MFA Required", b.String(), "high", "mfa,garmin,auth")
}

// RateLimited reports upstream throttling with backoff guidance.
func (n *Notifier) RateLimited(retryAfter time.Duration) {
	n.publish("Garmin Rate Limited",
		fmt.Sprintf("Login attempts are being throttled by the service.\nRetry in roughly %s; retrying sooner extends the lockout.", retryAfter),
		"low", "ratelimit,garmin")
}

// TokensExpiring warns about aging tokens. Below the informational
// threshold it is a no-op.
func (n *Notifier) TokensExpiring(daysOld int) {
	switch {
	case daysOld > 90:
		n.publish("Garmin Tokens Critical",
			fmt.Sprintf("Stored tokens are %d days old and may expire at any moment.\nRe-authenticate now.", daysOld),
			"urgent", "critical,garmin,urgent")
	case daysOld > 60:
		n.publish("Garmin Tokens Aging",
			fmt.Sprintf("Stored tokens are %d days old.\nPlan to re-authenticate soon.", daysOld),
			"high", "warning,garmin")
	}
}

// Test sends a test notification so operators can verify their topic
// subscription. It reports delivery so the CLI can print the outcome;
// this is the only publish whose result callers see.
func (n *Notifier) Test() bool {
	return n.publish("Garmin Ntfy Test",
		fmt.Sprintf("Test notification.\nTime: %s", time.Now().Format("2006-01-02 15:04:05")),
		"low", "test,garmin")
}

// publish delivers one event: primary server first (with bearer auth when
// configured), then one unauthenticated attempt against the public
// fallback. Every failure is swallowed after logging.
func (n *Notifier) publish(title, message, priority, tags string) bool {
	if !n.enabled {
		return false
	}

	url := n.server + "/" + n.topic
	if n.send(url, title, message, priority, tags, true) {
		slog.Debug("notification sent", "title", title)
		return true
	}

	if n.fallbackTopic == "" {
		return false
	}

	fbURL := fallbackServer + "/" + n.fallbackTopic
	if n.send(fbURL, title, message, priority, tags, false) {
		slog.Info("notification sent via fallback server", "title", title, "url", fbURL)
		return true
	}

	slog.Warn("notification dropped", "title", title)
	return false
}

func (n *Notifier) send(url, title, message, priority, tags string, useAuth bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		slog.Debug("failed to build notification request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)
	if useAuth && n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		slog.Debug("notification delivery failed", "url", url, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		slog.Debug("notification rejected", "url", url, "status", resp.StatusCode)
		return false
	}
	return true
}
