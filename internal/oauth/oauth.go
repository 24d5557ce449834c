// Package oauth acquires and stores OAuth2 tokens for the Microsoft Graph
// and Gmail sources.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/wesm/mailtracker/internal/fileutil"
)

// MicrosoftScopes are the delegated Graph permissions the tracker needs.
// offline_access yields a refresh token.
var MicrosoftScopes = []string{"offline_access", "User.Read", "Mail.Read"}

// GoogleScopes is read-only Gmail access.
var GoogleScopes = []string{"https://www.googleapis.com/auth/gmail.readonly"}

const callbackPath = "/callback"

// Manager obtains tokens interactively and keeps them on disk, one file per
// account.
type Manager struct {
	config    *oauth2.Config
	tokensDir string
	logger    *slog.Logger
	out       io.Writer
	browse    func(url string) error
}

func newManager(cfg *oauth2.Config, tokensDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{config: cfg, tokensDir: tokensDir, logger: logger, out: os.Stdout, browse: openBrowser}
}

// NewMicrosoftManager returns a manager for an Entra ID (Azure AD) public
// client application in tenantID.
func NewMicrosoftManager(tenantID, clientID, tokensDir string, logger *slog.Logger) *Manager {
	return newManager(&oauth2.Config{
		ClientID: clientID,
		Endpoint: microsoft.AzureADEndpoint(tenantID),
		Scopes:   MicrosoftScopes,
	}, tokensDir, logger)
}

// NewGoogleManager returns a manager configured from a Google client
// secrets file.
func NewGoogleManager(clientSecretsPath, tokensDir string, logger *slog.Logger) (*Manager, error) {
	data, err := os.ReadFile(clientSecretsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, GoogleScopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	return newManager(cfg, tokensDir, logger), nil
}

// SetOutput redirects the instructions printed during authorization.
func (m *Manager) SetOutput(w io.Writer) {
	m.out = w
}

// TokenSource returns an auto-refreshing token source for account.
// Refreshed tokens are written back to disk.
func (m *Manager) TokenSource(ctx context.Context, account string) (oauth2.TokenSource, error) {
	token, err := m.loadToken(account)
	if err != nil {
		return nil, fmt.Errorf("no valid token for %s (run 'mailtracker add-account' first): %w", account, err)
	}
	src := &savingSource{
		base:    m.config.TokenSource(ctx, token),
		last:    token.AccessToken,
		save:    func(t *oauth2.Token) error { return m.saveToken(account, t) },
		logger:  m.logger,
		account: account,
	}
	return oauth2.ReuseTokenSource(token, src), nil
}

// savingSource persists every token that differs from the last one seen.
type savingSource struct {
	base    oauth2.TokenSource
	save    func(*oauth2.Token) error
	logger  *slog.Logger
	account string

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	t, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.AccessToken != s.last {
		s.last = t.AccessToken
		if err := s.save(t); err != nil {
			s.logger.Warn("failed to save refreshed token", "account", s.account, "error", err)
		}
	}
	return t, nil
}

// HasToken reports whether a token is stored for account.
func (m *Manager) HasToken(account string) bool {
	_, err := m.loadToken(account)
	return err == nil
}

// Authorize runs an interactive flow for account and stores the token.
// headless uses the device code flow; otherwise a browser is opened and
// the code is received on a loopback listener.
func (m *Manager) Authorize(ctx context.Context, account string, headless bool) error {
	var (
		token *oauth2.Token
		err   error
	)
	if headless {
		token, err = m.deviceFlow(ctx)
	} else {
		token, err = m.browserFlow(ctx)
	}
	if err != nil {
		return err
	}
	return m.saveToken(account, token)
}

// DeleteToken removes the stored token for account.
func (m *Manager) DeleteToken(account string) error {
	err := os.Remove(m.tokenPath(account))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// TokenPath returns where the token for account is stored.
func (m *Manager) TokenPath(account string) string {
	return m.tokenPath(account)
}

func (m *Manager) browserFlow(ctx context.Context) (*oauth2.Token, error) {
	state, err := randomState()
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.Handle(callbackPath, callbackHandler(state, codeCh, errCh))
	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer func() { _ = server.Close() }()

	cfg := *m.config
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d%s", ln.Addr().(*net.TCPAddr).Port, callbackPath)
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	fmt.Fprintf(m.out, "Opening browser for authorization...\n")
	fmt.Fprintf(m.out, "If the browser doesn't open, visit:\n%s\n\n", authURL)
	if err := m.browse(authURL); err != nil {
		m.logger.Warn("failed to open browser", "error", err)
	}

	select {
	case code := <-codeCh:
		return cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			errCh <- fmt.Errorf("authorization denied: %s %s", e, q.Get("error_description"))
			http.Error(w, "Authorization failed.", http.StatusBadRequest)
			return
		}
		if q.Get("state") != state {
			errCh <- errors.New("state mismatch in OAuth callback")
			http.Error(w, "State mismatch.", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			errCh <- errors.New("no code in OAuth callback")
			http.Error(w, "No authorization code received.", http.StatusBadRequest)
			return
		}
		codeCh <- code
		fmt.Fprint(w, "Authorization successful! You can close this window.")
	}
}

func (m *Manager) deviceFlow(ctx context.Context) (*oauth2.Token, error) {
	resp, err := m.config.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	uri := resp.VerificationURIComplete
	if uri == "" {
		uri = resp.VerificationURI
	}
	fmt.Fprintf(m.out, "\nTo authorize mailtracker, visit:\n  %s\n\nand enter code: %s\n\nWaiting for authorization...\n", uri, resp.UserCode)

	token, err := m.config.DeviceAccessToken(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("device authorization: %w", err)
	}
	fmt.Fprintln(m.out, "Authorization successful!")
	return token, nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// tokenFile stores the token with the scopes it was granted for.
type tokenFile struct {
	oauth2.Token
	Scopes []string `json:"scopes,omitempty"`
}

func (m *Manager) loadToken(account string) (*oauth2.Token, error) {
	data, err := os.ReadFile(m.tokenPath(account))
	if err != nil {
		return nil, err
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if tf.AccessToken == "" && tf.RefreshToken == "" {
		return nil, errors.New("token file is empty")
	}
	return &tf.Token, nil
}

// HasScope reports whether the stored token for account was granted scope.
func (m *Manager) HasScope(account, scope string) bool {
	data, err := os.ReadFile(m.tokenPath(account))
	if err != nil {
		return false
	}
	var tf tokenFile
	if json.Unmarshal(data, &tf) != nil {
		return false
	}
	for _, s := range tf.Scopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

func (m *Manager) saveToken(account string, token *oauth2.Token) error {
	if err := fileutil.MkdirAll(m.tokensDir, 0o700); err != nil {
		return fmt.Errorf("create tokens dir: %w", err)
	}
	data, err := json.MarshalIndent(tokenFile{Token: *token, Scopes: m.config.Scopes}, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(m.tokenPath(account), data, 0o600)
}

// tokenPath maps account to a file inside tokensDir. Names that would
// escape the directory fall back to a hash.
func (m *Manager) tokenPath(account string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(account)
	path := filepath.Clean(filepath.Join(m.tokensDir, safe+".json"))
	if rel, err := filepath.Rel(filepath.Clean(m.tokensDir), path); err != nil || strings.HasPrefix(rel, "..") || safe == "" {
		return filepath.Join(m.tokensDir, fmt.Sprintf("%x.json", sha256.Sum256([]byte(account))))
	}
	return path
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
