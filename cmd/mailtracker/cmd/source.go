package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/oauth2"

	"github.com/wesm/mailtracker/internal/config"
	"github.com/wesm/mailtracker/internal/gmail"
	"github.com/wesm/mailtracker/internal/graph"
	"github.com/wesm/mailtracker/internal/imap"
	"github.com/wesm/mailtracker/internal/mail"
	"github.com/wesm/mailtracker/internal/mbox"
	"github.com/wesm/mailtracker/internal/oauth"
)

// graphAccount names the stored Graph token. Tokens are per mailbox so
// switching user_id asks for a new sign-in.
func graphAccount() string {
	if cfg.Graph.UserID != "" {
		return "graph-" + cfg.Graph.UserID
	}
	return "graph-me"
}

// imapConfig converts the [imap] section.
func imapConfig() *imap.Config {
	return &imap.Config{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		TLS:      cfg.IMAP.TLS,
		STARTTLS: cfg.IMAP.STARTTLS,
		Username: cfg.IMAP.Username,
		Mailbox:  cfg.IMAP.Mailbox,
	}
}

// oauthManager returns the token manager for the configured OAuth source
// and the account its token is stored under.
func oauthManager() (*oauth.Manager, string, error) {
	switch cfg.Source.Type {
	case config.SourceGraph:
		return oauth.NewMicrosoftManager(cfg.Graph.TenantID, cfg.Graph.ClientID, cfg.TokensDir(), logger), graphAccount(), nil
	case config.SourceGmail:
		mgr, err := oauth.NewGoogleManager(cfg.Gmail.ClientSecrets, cfg.TokensDir(), logger)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return nil, "", configError(fmt.Errorf("gmail client secrets file %s is not accessible: %w", cfg.Gmail.ClientSecrets, err))
			}
			return nil, "", configError(err)
		}
		return mgr, cfg.Gmail.Account, nil
	default:
		return nil, "", configError(fmt.Errorf("source %q does not use OAuth", cfg.Source.Type))
	}
}

// openSource validates the configuration and builds the mail source it
// names. Validation happens before any network or file access. When
// interactive is set an expired token is replaced by signing in again.
func openSource(ctx context.Context, interactive bool) (mail.Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ensureHome(); err != nil {
		return nil, err
	}

	switch cfg.Source.Type {
	case config.SourceGraph:
		mgr, account, err := oauthManager()
		if err != nil {
			return nil, err
		}
		ts, err := tokenSource(ctx, mgr, account, interactive)
		if err != nil {
			return nil, err
		}
		client := graph.NewClient(ts,
			graph.WithLogger(logger),
			graph.WithUserID(cfg.Graph.UserID),
			graph.WithRateLimit(cfg.Sync.RateLimitQPS))
		return graph.NewSource(client, logger), nil

	case config.SourceGmail:
		mgr, account, err := oauthManager()
		if err != nil {
			return nil, err
		}
		ts, err := tokenSource(ctx, mgr, account, interactive)
		if err != nil {
			return nil, err
		}
		qps := cfg.Sync.RateLimitQPS
		if qps <= 0 {
			qps = 5
		}
		client := gmail.NewClient(ts,
			gmail.WithLogger(logger),
			gmail.WithRateLimiter(gmail.NewRateLimiter(qps)))
		return gmail.NewSource(client, account, logger), nil

	case config.SourceIMAP:
		icfg := imapConfig()
		password, err := imap.LoadCredentials(cfg.CredentialsDir(), icfg.Identifier())
		if err != nil {
			return nil, err
		}
		return imap.NewClient(icfg, password, imap.WithLogger(logger)), nil

	case config.SourceMbox:
		return mbox.NewSource(cfg.Mbox.Path, logger), nil
	}
	return nil, &config.ValidationError{Field: "source.type", Message: fmt.Sprintf("unknown source %q", cfg.Source.Type)}
}

// tokenSource returns a token source for account. If the stored token no
// longer refreshes and interactive is set, the token is deleted and the
// browser flow runs again.
func tokenSource(ctx context.Context, mgr *oauth.Manager, account string, interactive bool) (oauth2.TokenSource, error) {
	ts, err := mgr.TokenSource(ctx, account)
	if err != nil {
		if !mgr.HasToken(account) {
			return nil, fmt.Errorf("%w (run 'mailtracker add-account' first)", err)
		}
		return nil, err
	}
	_, err = ts.Token()
	if err == nil {
		return ts, nil
	}
	if !interactive {
		return nil, fmt.Errorf("refresh token for %s: %w (run 'mailtracker add-account' again)", account, err)
	}

	fmt.Fprintf(os.Stderr, "Token for %s is expired or revoked. Re-authorizing...\n", account)
	if err := mgr.DeleteToken(account); err != nil {
		return nil, fmt.Errorf("delete expired token: %w", err)
	}
	if err := mgr.Authorize(ctx, account, false); err != nil {
		return nil, fmt.Errorf("re-authorize %s: %w", account, err)
	}
	ts, err = mgr.TokenSource(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("get token source after re-authorization: %w", err)
	}
	return ts, nil
}
