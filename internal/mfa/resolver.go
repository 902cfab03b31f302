package mfa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rkozlov/garmin-headless-auth/internal/config"
	"github.com/rkozlov/garmin-headless-auth/internal/logsanitize"
	"github.com/rkozlov/garmin-headless-auth/internal/mailbox"
	"github.com/rkozlov/garmin-headless-auth/internal/notify"
)

// ErrUnavailable is returned when every configured strategy has been tried
// and no code was obtained. It is terminal for the authentication cycle.
var ErrUnavailable = errors.New("no MFA code available")

// minCodeLength rejects empty and malformed reads; provider codes are
// six digits, but four is the shortest code any source legitimately emits.
const minCodeLength = 4

// extraTimeout lets a strategy extend the per-strategy budget (the mailbox
// strategy needs room for its settle delay on top of the search).
type extraTimeout interface {
	ExtraTimeout() time.Duration
}

// Resolver walks the strategy chain in order and returns the first valid
// code. Strategy errors are logged and treated as "no code"; they never
// abort the chain.
type Resolver struct {
	strategies []Strategy
	timeout    time.Duration
	sink       notify.Sink
}

// NewResolver builds the standard chain from configuration, in the fixed
// order: pre-set code, code file, monitored mailbox, webhook.
func NewResolver(cfg *config.Config, sink notify.Sink) *Resolver {
	var mb *mailbox.Finder
	if cfg.MailboxConfigured() {
		mb = mailbox.NewFinder(&cfg.Mailbox)
	}

	strategies := []Strategy{
		&staticStrategy{code: cfg.MFA.Code},
		&fileStrategy{path: cfg.MFA.File},
		&mailboxStrategy{
			finder: mb,
			wait:   time.Duration(cfg.MFA.WaitSeconds) * time.Second,
		},
		newWebhookStrategy(cfg.MFA.WebhookURL),
	}

	return &Resolver{
		strategies: strategies,
		timeout:    time.Duration(cfg.MFA.StrategyTimeoutSeconds) * time.Second,
		sink:       sink,
	}
}

// NewResolverWithStrategies is the seam for tests.
func NewResolverWithStrategies(strategies []Strategy, timeout time.Duration, sink notify.Sink) *Resolver {
	return &Resolver{strategies: strategies, timeout: timeout, sink: sink}
}

// Resolve produces exactly one code for the pending challenge. The code is
// single-use and must be consumed by the caller before Resolve is called
// again. When the chain is exhausted it fires the mfa_required
// notification and returns ErrUnavailable with remediation text naming
// only the configured sources.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	for _, s := range r.strategies {
		if !s.Configured() {
			continue
		}

		timeout := r.timeout
		if et, ok := s.(extraTimeout); ok {
			timeout += et.ExtraTimeout()
		}

		sctx, cancel := context.WithTimeout(ctx, timeout)
		code, err := s.Resolve(sctx)
		cancel()

		if err != nil {
			slog.Warn("mfa strategy failed",
				"strategy", s.Name(),
				"error", logsanitize.Sanitize(err.Error()),
			)
			continue
		}

		code = strings.TrimSpace(code)
		if code == "" {
			slog.Debug("mfa strategy had no code", "strategy", s.Name())
			continue
		}
		if len(code) < minCodeLength {
			slog.Warn("rejecting malformed code", "strategy", s.Name(), "length", len(code))
			continue
		}

		slog.Info("mfa code resolved", "strategy", s.Name())
		return code, nil
	}

	configured := r.ConfiguredMethods()
	r.sink.MFARequired(configured)

	return "", fmt.Errorf("%s: %w", remediation(configured), ErrUnavailable)
}

// ConfiguredMethods lists the names of strategies that are actually
// configured, for notifications and the status surface.
func (r *Resolver) ConfiguredMethods() []string {
	var names []string
	for _, s := range r.strategies {
		if s.Configured() {
			names = append(names, s.Name())
		}
	}
	return names
}

// remediation builds the operator-facing message naming exactly the
// levers that exist in this deployment.
func remediation(configured []string) string {
	if len(configured) == 0 {
		return "no code sources configured; set GARMIN_MFA_CODE, drop a code file, " +
			"or configure the mailbox or webhook source, then re-run"
	}
	return fmt.Sprintf("all configured code sources were exhausted (%s); "+
		"supply a fresh code through one of them and re-run",
		strings.Join(configured, ", "))
}
