package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/rkozlov/garmin-headless-auth/internal/config"
)

// imapDialer connects to the configured IMAP server over TLS and
// authenticates. The stronger token-based flow is tried when its
// capability set is configured; otherwise the application-password flow
// is used. The choice is made from configuration, not probed at runtime.
func imapDialer(cfg *config.MailboxConfig) DialFunc {
	return func(ctx context.Context) (Searcher, error) {
		addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
		cli, err := imapclient.DialTLS(addr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
		}

		switch {
		case cfg.TokenFlowConfigured():
			token, err := mailboxAccessToken(ctx, cfg)
			if err != nil {
				_ = cli.Close()
				return nil, err
			}
			saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
				Username: cfg.User,
				Token:    token,
				Host:     cfg.Server,
				Port:     cfg.Port,
			})
			if err := cli.Authenticate(saslClient); err != nil {
				_ = cli.Close()
				return nil, fmt.Errorf("mailbox token auth failed: %w", err)
			}
			slog.Debug("mailbox authenticated", "method", "oauthbearer", "user", cfg.User)

		case cfg.PasswordFlowConfigured():
			if err := cli.Login(cfg.User, cfg.Password).Wait(); err != nil {
				_ = cli.Close()
				return nil, fmt.Errorf("mailbox password auth failed: %w", err)
			}
			slog.Debug("mailbox authenticated", "method", "password", "user", cfg.User)

		default:
			_ = cli.Close()
			return nil, fmt.Errorf("no mailbox credentials configured")
		}

		if _, err := cli.Select("INBOX", nil).Wait(); err != nil {
			_ = cli.Close()
			return nil, fmt.Errorf("failed to select inbox: %w", err)
		}

		return &imapSearcher{cli: cli}, nil
	}
}

// imapSearcher implements Searcher over one IMAP connection.
type imapSearcher struct {
	cli *imapclient.Client
}

func (s *imapSearcher) Search(ctx context.Context, senderDomain string, since time.Time) ([]MessageRef, error) {
	criteria := &imap.SearchCriteria{
		Since: since,
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: senderDomain},
		},
	}

	data, err := s.cli.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("uid search failed: %w", err)
	}

	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(uids...)

	msgs, err := s.cli.Fetch(uidSet, &imap.FetchOptions{
		UID:      true,
		Envelope: true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("envelope fetch failed: %w", err)
	}

	refs := make([]MessageRef, 0, len(msgs))
	for _, msg := range msgs {
		ref := MessageRef{UID: uint32(msg.UID)}
		if msg.Envelope != nil {
			ref.Received = msg.Envelope.Date
		}
		refs = append(refs, ref)
	}

	// Server-assigned order: UIDs are monotonically increasing.
	sort.Slice(refs, func(i, j int) bool { return refs[i].UID < refs[j].UID })
	return refs, nil
}

func (s *imapSearcher) FetchBody(ctx context.Context, ref MessageRef) (string, error) {
	section := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierText}
	uidSet := imap.UIDSetNum(imap.UID(ref.UID))

	msgs, err := s.cli.Fetch(uidSet, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return "", fmt.Errorf("body fetch failed: %w", err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("message %d not found", ref.UID)
	}

	body := string(msgs[0].FindBodySection(section))
	if looksLikeHTML(body) {
		body = StripHTML(body)
	}
	return body, nil
}

func (s *imapSearcher) MarkConsumed(ctx context.Context, ref MessageRef) error {
	uidSet := imap.UIDSetNum(imap.UID(ref.UID))

	storeFlags := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}
	if err := s.cli.Store(uidSet, storeFlags, nil).Close(); err != nil {
		return fmt.Errorf("failed to flag message deleted: %w", err)
	}

	if _, err := s.cli.Expunge().Collect(); err != nil {
		return fmt.Errorf("expunge failed: %w", err)
	}
	return nil
}

func (s *imapSearcher) Close() error {
	if err := s.cli.Logout().Wait(); err != nil {
		return s.cli.Close()
	}
	return nil
}

// looksLikeHTML reports whether a body has markup but no usable plain
// text preceding it.
func looksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div") || strings.Contains(lower, "<table")
}
