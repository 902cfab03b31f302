// Package orchestrator coordinates the token store, the upstream login
// client, and the MFA resolver into one authentication cycle, and owns the
// retry and notification policy around it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rkozlov/garmin-headless-auth/internal/auditlog"
	"github.com/rkozlov/garmin-headless-auth/internal/connect"
	"github.com/rkozlov/garmin-headless-auth/internal/logsanitize"
	"github.com/rkozlov/garmin-headless-auth/internal/notify"
	"github.com/rkozlov/garmin-headless-auth/internal/tokenstore"
)

// ErrCredentialsMissing means the account credentials are not configured.
// This is a configuration problem: no retry will fix it.
var ErrCredentialsMissing = errors.New("credentials not configured (set GARMIN_EMAIL and GARMIN_PASSWORD)")

// ErrCycleInProgress means Authenticate was called while another cycle is
// mid-flight. Concurrent login attempts against the same account risk a
// lockout, so the second caller is rejected instead of queued.
var ErrCycleInProgress = errors.New("an authentication cycle is already in progress")

// CodeResolver produces one verification code for a pending challenge.
// Implemented by mfa.Resolver.
type CodeResolver interface {
	Resolve(ctx context.Context) (string, error)
	ConfiguredMethods() []string
}

// Orchestrator runs authentication cycles. It is safe for concurrent use;
// a cycle in progress causes ErrCycleInProgress rather than a second
// upstream login.
type Orchestrator struct {
	creds    connect.Credentials
	client   connect.Client
	store    *tokenstore.Store
	resolver CodeResolver
	sink     notify.Sink
	audit    *auditlog.Log
	limiter  *rate.Limiter
	now      func() time.Time

	mu       sync.Mutex
	inFlight bool
}

// New assembles an orchestrator. minLoginInterval spaces fresh login
// attempts; zero disables the spacing.
func New(creds connect.Credentials, client connect.Client, store *tokenstore.Store,
	resolver CodeResolver, sink notify.Sink, audit *auditlog.Log,
	minLoginInterval time.Duration) *Orchestrator {

	limit := rate.Inf
	if minLoginInterval > 0 {
		limit = rate.Every(minLoginInterval)
	}

	return &Orchestrator{
		creds:    creds,
		client:   client,
		store:    store,
		resolver: resolver,
		sink:     sink,
		audit:    audit,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

// Authenticate runs one cycle: reuse the stored session when the service
// still accepts it, otherwise perform a fresh login, resolving an MFA
// challenge if one is raised. On success the new session has been
// persisted before it is returned.
func (o *Orchestrator) Authenticate(ctx context.Context) (*connect.Session, error) {
	if !o.begin() {
		return nil, ErrCycleInProgress
	}
	defer o.end()

	if o.creds.Missing() {
		return nil, ErrCredentialsMissing
	}

	if sess := o.checkStoredSession(ctx); sess != nil {
		slog.Info("using stored session", "age_days", int(sess.Age(o.now()).Hours()/24))
		return sess, nil
	}

	slog.Info("stored session invalid or missing, performing fresh login")
	return o.freshLogin(ctx)
}

// checkStoredSession loads and validates the persisted bundle. Every
// failure here is expected, routes to a fresh login, and is never
// surfaced to the caller.
func (o *Orchestrator) checkStoredSession(ctx context.Context) *connect.Session {
	sess, err := o.store.Load()
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) {
			slog.Warn("failed to load stored session", "error", err)
		}
		return nil
	}

	if !o.store.Validate(ctx, o.client, sess) {
		o.audit.Append(auditlog.Entry{
			Success: false,
			Method:  auditlog.MethodTokenValidation,
			Error:   "stored session rejected by upstream",
		})
		return nil
	}

	o.audit.Append(auditlog.Entry{
		Success: true,
		Method:  auditlog.MethodTokenValidation,
	})
	return sess
}

// freshLogin performs the credential login, handling the challenge and
// rate-limit branches.
func (o *Orchestrator) freshLogin(ctx context.Context) (*connect.Session, error) {
	// Space fresh logins out; hammering the signin endpoint is how
	// accounts get locked.
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("login canceled while waiting for rate limiter: %w", err)
	}

	sess, err := o.client.Login(ctx, o.creds)
	switch {
	case err == nil:
		return o.completeLogin(sess, "fresh login")

	case connect.IsRateLimited(err):
		// Retrying now will not help and MFA resolution is pointless:
		// fail the cycle with backoff guidance.
		o.audit.Append(auditlog.Entry{
			Success: false,
			Method:  auditlog.MethodFreshLogin,
			Error:   err.Error(),
		})
		o.sink.RateLimited(time.Hour)
		return nil, fmt.Errorf("login throttled by upstream, wait before retrying: %w", err)

	case errors.Is(err, connect.ErrChallengeRequired):
		return o.resolveChallenge(ctx)

	default:
		o.failCycle(err)
		return nil, fmt.Errorf("fresh login failed: %w", err)
	}
}

// resolveChallenge obtains exactly one code and re-invokes the login with
// it. The code is single-use: it is passed straight through the call
// chain, never cached.
func (o *Orchestrator) resolveChallenge(ctx context.Context) (*connect.Session, error) {
	slog.Info("login raised an MFA challenge, resolving code")

	code, err := o.resolver.Resolve(ctx)
	if err != nil {
		o.failCycle(err)
		return nil, err
	}

	sess, err := o.client.ResumeLogin(ctx, o.creds, code)
	if err != nil {
		o.failCycle(err)
		return nil, fmt.Errorf("failed to complete login with MFA code: %w", err)
	}

	return o.completeLogin(sess, "fresh login with MFA")
}

// completeLogin persists the new session and records success. A session
// that cannot be persisted fails the cycle: the orchestrator's contract
// is a stored, reusable session, not a one-shot token.
func (o *Orchestrator) completeLogin(sess *connect.Session, method string) (*connect.Session, error) {
	if err := o.store.Save(sess); err != nil {
		o.failCycle(err)
		return nil, fmt.Errorf("login succeeded but session could not be persisted: %w", err)
	}

	o.audit.Append(auditlog.Entry{
		Success: true,
		Method:  auditlog.MethodFreshLogin,
	})
	o.sink.AuthSuccess(method)

	slog.Info("authentication cycle complete", "method", method)
	return sess, nil
}

// failCycle records a failed fresh login and fires the failure alert.
func (o *Orchestrator) failCycle(err error) {
	o.audit.Append(auditlog.Entry{
		Success: false,
		Method:  auditlog.MethodFreshLogin,
		Error:   err.Error(),
	})
	o.sink.AuthFailure(logsanitize.Sanitize(err.Error()))
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return false
	}
	o.inFlight = true
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
}
