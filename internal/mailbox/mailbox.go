// Package mailbox finds verification codes in a monitored inbox.
// It searches recent messages from the service's sender domain, extracts
// the code from the newest match, and deletes the message so the same
// code can never be handed out twice.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rkozlov/garmin-headless-auth/internal/config"
	"github.com/rkozlov/garmin-headless-auth/internal/logsanitize"
)

// ErrNoCode is returned when no recent message yields a verification code.
var ErrNoCode = errors.New("no verification code found in mailbox")

// narrowWindow is the first, tight recency window. Provider mail usually
// lands within a couple of minutes; when it lags, the search widens to the
// configured window.
const narrowWindow = 5 * time.Minute

// MessageRef identifies one message on the server.
type MessageRef struct {
	UID      uint32
	Received time.Time
}

// Searcher is one connected inbox session. Implementations are the IMAP
// client below and fakes in tests.
type Searcher interface {
	// Search returns messages from the sender domain received since the
	// given time, in server-assigned order (oldest first).
	Search(ctx context.Context, senderDomain string, since time.Time) ([]MessageRef, error)
	// FetchBody returns the message text: the plain-text part when one
	// exists, otherwise the HTML-stripped text.
	FetchBody(ctx context.Context, ref MessageRef) (string, error)
	// MarkConsumed removes the message so a later search cannot match it.
	MarkConsumed(ctx context.Context, ref MessageRef) error
	Close() error
}

// DialFunc opens a fresh inbox session.
type DialFunc func(ctx context.Context) (Searcher, error)

// Finder locates the newest verification code in the inbox.
type Finder struct {
	dial         DialFunc
	senderDomain string
	window       time.Duration
	now          func() time.Time
}

// NewFinder builds a finder over the given mailbox configuration using the
// real IMAP transport.
func NewFinder(cfg *config.MailboxConfig) *Finder {
	return &Finder{
		dial:         imapDialer(cfg),
		senderDomain: cfg.SenderDomain,
		window:       time.Duration(cfg.WindowMinutes) * time.Minute,
		now:          time.Now,
	}
}

// NewFinderWithDialer is the seam for tests and alternative transports.
func NewFinderWithDialer(dial DialFunc, senderDomain string, window time.Duration) *Finder {
	return &Finder{
		dial:         dial,
		senderDomain: senderDomain,
		window:       window,
		now:          time.Now,
	}
}

// FindCode searches the inbox and returns the code from the most recent
// matching message, deleting the message on success. The search runs twice
// when needed: a narrow pass first, then the full configured window,
// because provider email can lag behind the challenge.
func (f *Finder) FindCode(ctx context.Context) (string, error) {
	sess, err := f.dial(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open mailbox: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			slog.Debug("mailbox close failed", "error", cerr)
		}
	}()

	now := f.now()
	windows := []time.Duration{narrowWindow}
	if f.window > narrowWindow {
		windows = append(windows, f.window)
	}

	var refs []MessageRef
	for _, w := range windows {
		refs, err = sess.Search(ctx, f.senderDomain, now.Add(-w))
		if err != nil {
			return "", fmt.Errorf("mailbox search failed: %w", err)
		}
		if len(refs) > 0 {
			break
		}
		slog.Debug("no messages in window, widening", "window", w, "sender", f.senderDomain)
	}
	if len(refs) == 0 {
		return "", ErrNoCode
	}

	// Server ordering is oldest first; only the newest message counts.
	ref := refs[len(refs)-1]

	body, err := sess.FetchBody(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to fetch message body: %w", err)
	}

	code, ok := ExtractCode(body)
	if !ok {
		slog.Debug("newest message contained no code", "uid", ref.UID)
		return "", ErrNoCode
	}

	// Delete before returning: a code that was read must never be
	// matchable by a retry, even if the caller fails later.
	if err := sess.MarkConsumed(ctx, ref); err != nil {
		slog.Warn("failed to consume verification message",
			"uid", ref.UID,
			"error", logsanitize.Sanitize(err.Error()),
		)
	}

	slog.Info("verification code extracted from mailbox", "uid", ref.UID)
	return code, nil
}
