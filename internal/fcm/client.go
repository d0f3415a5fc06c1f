// Package fcm is a minimal Firebase Cloud Messaging HTTP v1 client.
//
// A Client performs the OAuth2 service-account exchange on Authorize and
// returns a Session bound to the resulting bearer token. Sessions send one
// message per request and report the provider's status code and body
// verbatim; only transport failures are returned as errors.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
)

const (
	// Scope is the OAuth2 scope required by the messaging API.
	Scope = "https://www.googleapis.com/auth/firebase.messaging"

	DefaultEndpoint = "https://fcm.googleapis.com"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// ErrNoCredentials is returned by Authorize on a nil Client.
var ErrNoCredentials = errors.New("fcm: no service account credentials configured")

// Sender delivers a single message using an already-authorized session.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Response, error)
}

// TokenSourceFunc builds a fresh token source. Called once per Authorize so
// that every call performs its own exchange.
type TokenSourceFunc func(ctx context.Context) oauth2.TokenSource

// Options tunes the HTTP side of the client.
type Options struct {
	Endpoint   string
	Timeout    time.Duration
	SendRate   float64 // requests per second, 0 = unlimited
	HTTPClient *http.Client
}

// Client talks to the FCM v1 API for a single Firebase project.
type Client struct {
	projectID string
	endpoint  string
	tokens    TokenSourceFunc
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// serviceAccount holds the fields of a service-account key file that the
// jwt config does not expose.
type serviceAccount struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
}

// NewClientFromFile loads a service-account key file. Returns nil, nil when
// path is empty (push delivery disabled).
func NewClientFromFile(path string, opts Options, logger *slog.Logger) (*Client, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return NewClientFromJSON(data, opts, logger)
}

// NewClientFromJSON builds a client from service-account key JSON
// (client_email + private_key + project_id).
func NewClientFromJSON(data []byte, opts Options, logger *slog.Logger) (*Client, error) {
	var sa serviceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if sa.ProjectID == "" {
		return nil, fmt.Errorf("parse credentials: project_id is empty")
	}

	jwtCfg, err := google.JWTConfigFromJSON(data, Scope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	logger.Info("FCM client configured", "project_id", sa.ProjectID, "client_email", sa.ClientEmail)
	return NewClient(sa.ProjectID, jwtCfg.TokenSource, opts, logger), nil
}

// NewClient creates a client for projectID using the given token source factory.
func NewClient(projectID string, tokens TokenSourceFunc, opts Options, logger *slog.Logger) *Client {
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
	}

	return &Client{
		projectID: projectID,
		endpoint:  endpoint,
		tokens:    tokens,
		http:      httpClient,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger.With("component", "fcm"),
	}
}

// Authorize exchanges the service credential for a short-lived bearer token
// and returns a Sender bound to it.
func (c *Client) Authorize(ctx context.Context) (Sender, error) {
	if c == nil {
		return nil, ErrNoCredentials
	}

	// The token endpoint call honours oauth2.HTTPClient in ctx.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := c.tokens(ctx).Token()
	if err != nil {
		return nil, fmt.Errorf("fcm token exchange: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("fcm token exchange: empty access token")
	}

	c.logger.Debug("FCM access token acquired", "expiry", tok.Expiry)
	return &Session{client: c, bearer: tok.AccessToken}, nil
}

// Session sends messages with one bearer token.
type Session struct {
	client *Client
	bearer string
}

// Send posts a single message. A non-2xx reply is not an error: the status
// code and body are returned for the caller to record.
func (s *Session) Send(ctx context.Context, msg *Message) (*Response, error) {
	c := s.client
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fcm rate limit: %w", err)
	}

	payload, err := json.Marshal(sendRequest{Message: msg})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", c.endpoint, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fcm send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read fcm response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: asJSON(body)}, nil
}

// asJSON keeps valid JSON bodies as-is and wraps anything else in a JSON string.
func asJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(body))
	return json.RawMessage(quoted)
}
