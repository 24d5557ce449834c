// Package graph reads a mailbox through the Microsoft Graph REST API.
package graph

import (
	"context"
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
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	maxRetries     = 6
	maxBackoff     = 60 * time.Second

	// DefaultQPS keeps well below the per-mailbox throttling limit.
	DefaultQPS = 5.0
)

// MessageFields is the $select list requested for every message.
var MessageFields = []string{
	"id", "subject", "from", "toRecipients", "ccRecipients",
	"receivedDateTime", "isRead", "hasAttachments", "bodyPreview",
}

// FileAttachmentType is the @odata.type of attachments that carry bytes.
const FileAttachmentType = "#microsoft.graph.fileAttachment"

// Client is a Graph client with client-side rate limiting and retries.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	baseURL    string
	userID     string
	sleep      func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the OAuth HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserID reads the mailbox of another user instead of the signed-in one.
func WithUserID(id string) ClientOption {
	return func(c *Client) { c.userID = strings.TrimSpace(id) }
}

// WithRateLimit sets the request rate. Zero or negative disables limiting.
func WithRateLimit(qps float64) ClientOption {
	return func(c *Client) {
		if qps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(qps), max(1, int(qps)))
	}
}

// NewClient creates a client authenticated by tokenSource.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: oauth2.NewClient(context.Background(), tokenSource),
		limiter:    rate.NewLimiter(rate.Limit(DefaultQPS), int(DefaultQPS)),
		logger:     slog.Default(),
		baseURL:    defaultBaseURL,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// mailbox is the path prefix of the mailbox being read.
func (c *Client) mailbox() string {
	if c.userID == "" {
		return "/me"
	}
	return "/users/" + url.PathEscape(c.userID)
}

// NotFoundError reports a 404 response.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.URL)
}

// APIError is a non-retryable Graph error response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph request failed (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("graph request failed (%d): %s", e.Status, e.Message)
}

// get fetches target and decodes the JSON body into v. target is either a
// path below the base URL or an absolute URL such as an @odata.nextLink.
// 429, 503 and other 5xx responses are retried, waiting for Retry-After
// when the server sends one.
func (c *Client) get(ctx context.Context, target string, v any) error {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + target
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			if err := c.sleep(ctx, backoffFor(attempt+1)); err != nil {
				return err
			}
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch code := resp.StatusCode; {
		case code >= 200 && code < 300:
			if err := json.Unmarshal(body, v); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			return nil
		case code == http.StatusTooManyRequests || code >= 500:
			wait, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now())
			if !ok {
				wait = backoffFor(attempt + 1)
			}
			c.logger.Debug("graph throttled, backing off", "status", code, "wait", wait, "attempt", attempt)
			lastErr = errorFrom(code, body)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		case code == http.StatusUnauthorized:
			return errors.New("unauthorized (401): token may be invalid, run add-account again")
		case code == http.StatusNotFound:
			return &NotFoundError{URL: target}
		default:
			return errorFrom(code, body)
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func retryAfter(h string, now time.Time) (time.Duration, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return min(time.Duration(secs)*time.Second, maxBackoff), true
	}
	if t, err := http.ParseTime(h); err == nil {
		return min(max(t.Sub(now), 0), maxBackoff), true
	}
	return 0, false
}

// backoffFor returns a full-jitter exponential delay for attempt.
func backoffFor(attempt int) time.Duration {
	base := min(time.Duration(1<<uint(attempt))*time.Second, maxBackoff)
	return time.Duration(rand.Float64() * float64(base))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errorFrom(status int, body []byte) *APIError {
	var e struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return &APIError{Status: status, Code: e.Error.Code, Message: e.Error.Message}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
}

// EmailAddress is a Graph emailAddress object.
type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Recipient wraps an EmailAddress as Graph does.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// Message is the subset of a Graph message the tracker selects.
// ReceivedDateTime is nil when Graph omits it.
type Message struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject"`
	From             *Recipient  `json:"from"`
	ToRecipients     []Recipient `json:"toRecipients"`
	CcRecipients     []Recipient `json:"ccRecipients"`
	ReceivedDateTime *time.Time  `json:"receivedDateTime"`
	IsRead           bool        `json:"isRead"`
	HasAttachments   bool        `json:"hasAttachments"`
	BodyPreview      string      `json:"bodyPreview"`
}

// MessagePage is one page of a message listing.
type MessagePage struct {
	Value    []Message `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

// Attachment is a Graph attachment. ContentBytes is only set for file
// attachments.
type Attachment struct {
	ODataType    string `json:"@odata.type"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	IsInline     bool   `json:"isInline"`
	ContentBytes []byte `json:"contentBytes"`
}

// User is the signed-in or selected user.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// MessageQuery selects messages received at or after Since, oldest first.
type MessageQuery struct {
	Since *time.Time
	Top   int
}

// Filter returns the $filter expression for since, or "" for none.
func Filter(since *time.Time) string {
	if since == nil {
		return ""
	}
	return "receivedDateTime ge " + since.UTC().Format(time.RFC3339)
}

// MessagesPath returns the first-page request for q.
func (c *Client) MessagesPath(q MessageQuery) string {
	params := url.Values{}
	if q.Top > 0 {
		params.Set("$top", strconv.Itoa(q.Top))
	}
	params.Set("$select", strings.Join(MessageFields, ","))
	params.Set("$orderby", "receivedDateTime asc")
	if f := Filter(q.Since); f != "" {
		params.Set("$filter", f)
	}
	// Graph expects %20 rather than + between words.
	return c.mailbox() + "/messages?" + strings.ReplaceAll(params.Encode(), "+", "%20")
}

// ListMessages fetches the first page for q.
func (c *Client) ListMessages(ctx context.Context, q MessageQuery) (*MessagePage, error) {
	return c.NextMessages(ctx, c.MessagesPath(q))
}

// NextMessages fetches the page at nextLink.
func (c *Client) NextMessages(ctx context.Context, nextLink string) (*MessagePage, error) {
	var page MessagePage
	if err := c.get(ctx, nextLink, &page); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &page, nil
}

// ListAttachments returns every attachment of a message, following
// @odata.nextLink.
func (c *Client) ListAttachments(ctx context.Context, messageID string) ([]Attachment, error) {
	var out []Attachment
	next := c.mailbox() + "/messages/" + url.PathEscape(messageID) + "/attachments"
	for next != "" {
		var page struct {
			Value    []Attachment `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := c.get(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("list attachments of %s: %w", messageID, err)
		}
		out = append(out, page.Value...)
		next = page.NextLink
	}
	return out, nil
}

// Me returns the user whose mailbox is read.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.get(ctx, c.mailbox(), &u); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
