package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rkozlov/garmin-headless-auth/internal/auditlog"
	"github.com/rkozlov/garmin-headless-auth/internal/tokenstore"
)

// Token age thresholds for operator alerts, in days. The upstream service
// invalidates token bundles after roughly three months.
const (
	ageWarnDays     = 60
	ageCriticalDays = 90
)

// Status is the diagnostic view returned by CheckStatus.
type Status struct {
	// Valid reports whether the stored session is currently accepted
	// by the upstream service.
	Valid bool
	// HasSuccess reports whether any successful authentication is on
	// record; the age fields are meaningless without it.
	HasSuccess         bool
	LastSuccessAgeDays int
	// RecentFailures counts failed attempts within the last 24 hours.
	RecentFailures int
	// ConfiguredMFA names the code sources present in this deployment.
	ConfiguredMFA []string
}

// CheckStatus probes the stored session and summarizes the audit history.
// It fires the tokens_expiring notification when the last success is past
// the aging thresholds. The probe itself is recorded as a
// token_validation attempt, so scheduled status checks keep the history
// fresh.
func (o *Orchestrator) CheckStatus(ctx context.Context) (Status, error) {
	status := Status{
		ConfiguredMFA: o.resolver.ConfiguredMethods(),
	}

	sess, err := o.store.Load()
	switch {
	case err == nil:
		status.Valid = o.store.Validate(ctx, o.client, sess)
		o.audit.Append(auditlog.Entry{
			Success: status.Valid,
			Method:  auditlog.MethodTokenValidation,
		})
	case errors.Is(err, tokenstore.ErrNotFound):
		// No bundle, nothing to probe
	default:
		return status, err
	}

	sum, err := o.audit.Summarize(o.now())
	if err != nil {
		slog.Warn("failed to summarize audit log", "error", err)
		return status, nil
	}

	status.RecentFailures = sum.RecentFailures
	if days, ok := sum.LastSuccessAgeDays(o.now()); ok {
		status.HasSuccess = true
		status.LastSuccessAgeDays = days
		if days > ageWarnDays {
			o.sink.TokensExpiring(days)
		}
	}

	return status, nil
}
