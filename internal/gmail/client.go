package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"
	maxAttempts    = 9
	backoffCap     = 2 * time.Minute
	listPageSize   = 500
)

// Client is a Gmail REST client with quota limiting and retries.
type Client struct {
	hc       *http.Client
	limiter  *RateLimiter
	logger   *slog.Logger
	endpoint string
	parallel int
	sleep    func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimiter replaces the default 5 QPS limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) { c.limiter = rl }
}

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.endpoint = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the OAuth HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// NewClient creates a client for the mailbox ts authenticates.
func NewClient(ts oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		logger:   slog.Default(),
		endpoint: defaultBaseURL,
		parallel: 10,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hc == nil {
		c.hc = oauth2.NewClient(context.Background(), ts)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(fullQPS)
	}
	return c
}

// Close implements API.
func (c *Client) Close() error { return nil }

// NotFoundError reports a 404 response.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.Path
}

// retryable marks a failed attempt worth repeating. pause, when set, is
// applied to the limiter before the next attempt.
type retryable struct {
	err   error
	pause time.Duration
}

func (r *retryable) Error() string { return r.err.Error() }

// get fetches path under /users/me and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, op Operation, path string, out any) error {
	if err := c.limiter.Acquire(ctx, op); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	var last error
	for attempt := range maxAttempts {
		if attempt > 0 {
			d := jitter(attempt)
			c.logger.Debug("gmail retry", "path", path, "attempt", attempt, "delay", d, "err", last)
			if err := c.sleep(ctx, d); err != nil {
				return err
			}
		}
		body, err := c.do(ctx, path)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			return nil
		}
		var r *retryable
		if !errors.As(err, &r) {
			return err
		}
		if r.pause > 0 {
			c.limiter.Throttle(r.pause)
		}
		last = r.err
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, last)
}

func (c *Client) do(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/users/me"+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryable{err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryable{err: fmt.Errorf("read response: %w", err)}
	}
	return body, checkStatus(resp.StatusCode, path, body)
}

// checkStatus maps a response to nil, a retryable failure or a final error.
// Gmail signals quota exhaustion with 403 as well as 429.
func checkStatus(code int, path string, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &retryable{err: errors.New("rate limited (429)"), pause: 30 * time.Second}
	case code == http.StatusForbidden && isRateLimitError(body):
		return &retryable{err: errors.New("quota exceeded (403)"), pause: time.Minute}
	case code == http.StatusForbidden:
		return fmt.Errorf("forbidden (403): %s", errorMessage(body))
	case code == http.StatusUnauthorized:
		return errors.New("unauthorized (401): token may be invalid, run add-account again")
	case code == http.StatusNotFound:
		return &NotFoundError{Path: path}
	case code >= 500:
		return &retryable{err: fmt.Errorf("server error (%d)", code)}
	default:
		return fmt.Errorf("request failed (%d): %s", code, errorMessage(body))
	}
}

// jitter returns a random delay below 2^attempt seconds, capped.
func jitter(attempt int) time.Duration {
	ceil := min(time.Duration(1<<attempt)*time.Second, backoffCap)
	return time.Duration(rand.Int64N(int64(ceil)))
}

var quotaMarkers = [][]byte{
	[]byte("rateLimitExceeded"),
	[]byte("userRateLimitExceeded"),
	[]byte("RATE_LIMIT_EXCEEDED"),
	[]byte("Quota exceeded"),
}

func isRateLimitError(body []byte) bool {
	for _, m := range quotaMarkers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

// errorMessage returns error.message of a Google error body, or the body.
func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// decodeBase64URL accepts base64url with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Profile implements API.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := c.get(ctx, OpProfile, "/profile", &p); err != nil {
		return nil, err
	}
	return &Profile{EmailAddress: p.EmailAddress}, nil
}

// ListIDs implements API.
func (c *Client) ListIDs(ctx context.Context, query, pageToken string) (*IDPage, error) {
	q := url.Values{"maxResults": {strconv.Itoa(listPageSize)}}
	if query != "" {
		q.Set("q", query)
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var resp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
		NextPageToken string `json:"nextPageToken"`
	}
	if err := c.get(ctx, OpMessagesList, "/messages?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	page := &IDPage{NextPageToken: resp.NextPageToken, IDs: make([]string, len(resp.Messages))}
	for i, m := range resp.Messages {
		page.IDs[i] = m.ID
	}
	return page, nil
}

// Raw implements API.
func (c *Client) Raw(ctx context.Context, id string) (*RawMessage, error) {
	var resp struct {
		ID           string   `json:"id"`
		LabelIDs     []string `json:"labelIds"`
		InternalDate string   `json:"internalDate"`
		Raw          string   `json:"raw"`
	}
	if err := c.get(ctx, OpMessagesGetRaw, "/messages/"+url.PathEscape(id)+"?format=raw", &resp); err != nil {
		return nil, err
	}
	mime, err := decodeBase64URL(resp.Raw)
	if err != nil {
		return nil, fmt.Errorf("message %s: decode raw: %w", id, err)
	}
	msg := &RawMessage{ID: resp.ID, Labels: resp.LabelIDs, MIME: mime}
	if ms, err := strconv.ParseInt(resp.InternalDate, 10, 64); err == nil && ms > 0 {
		msg.Received = time.UnixMilli(ms).UTC()
	}
	return msg, nil
}

// RawBatch implements API. Failures other than cancellation are logged and
// leave a nil entry.
func (c *Client) RawBatch(ctx context.Context, ids []string) ([]*RawMessage, error) {
	out := make([]*RawMessage, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for i, id := range ids {
		g.Go(func() error {
			msg, err := c.Raw(gctx, id)
			switch {
			case err == nil:
				out[i] = msg
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				c.logger.Warn("gmail fetch failed", "id", id, "err", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ API = (*Client)(nil)
