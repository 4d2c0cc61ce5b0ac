// Package remote is the thin client for the backend-as-a-service: auth
// endpoints, table CRUD, object storage, and edge functions. Every method
// performs exactly one network call and classifies failures into the shared
// error taxonomy. Retry policy belongs to callers, never here.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tallyapp/tally-go/internal/errors"
	"github.com/tallyapp/tally-go/internal/ratelimit"
)

// Rate limiter keys per endpoint class.
const (
	limitAuth      = "auth"
	limitTables    = "tables"
	limitStorage   = "storage"
	limitFunctions = "functions"
)

// pgrstNoRows is PostgREST's code for "no rows returned".
const pgrstNoRows = "PGRST116"

// TokenHolder is the shared slot for the current access token. The session
// holder writes it; the client reads it on every request.
type TokenHolder struct {
	mu    sync.RWMutex
	token string
}

// Set replaces the current access token. Empty clears it.
func (t *TokenHolder) Set(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

// Get returns the current access token, or "" when anonymous.
func (t *TokenHolder) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// Config configures the client.
type Config struct {
	// BaseURL is the project base URL, without trailing slash.
	BaseURL string
	// AnonKey is sent as the apikey header on every request.
	AnonKey string
	// Timeout bounds each call. Defaults to 15s.
	Timeout time.Duration
	// RateRPS / RateBurst bound outbound request rate per endpoint class.
	RateRPS   float64
	RateBurst int
	// Tokens supplies the bearer token. Required.
	Tokens *TokenHolder
	// Logger for request outcomes. Discards if nil.
	Logger *slog.Logger
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the BaaS. Safe for concurrent use.
type Client struct {
	baseURL string
	anonKey string
	tokens  *TokenHolder
	http    *http.Client
	limiter *ratelimit.KeyedLimiter
	logger  *slog.Logger
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RateRPS <= 0 {
		cfg.RateRPS = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	if cfg.Tokens == nil {
		cfg.Tokens = &TokenHolder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		anonKey: cfg.AnonKey,
		tokens:  cfg.Tokens,
		http:    httpClient,
		limiter: ratelimit.New(cfg.RateRPS, cfg.RateBurst),
		logger:  cfg.Logger,
	}
}

// Tokens exposes the token holder so the session layer can share it.
func (c *Client) Tokens() *TokenHolder {
	return c.tokens
}

// request describes one backend call.
type request struct {
	method    string
	path      string
	query     url.Values
	headers   map[string]string
	body      []byte
	limitKey  string
	anonymous bool // skip the bearer token even if one is set
}

// do issues exactly one HTTP call and returns the raw body on 2xx.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	if err := c.limiter.Wait(ctx, req.limitKey); err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "rate limiter interrupted")
	}

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "build request")
	}

	httpReq.Header.Set("apikey", c.anonKey)
	token := c.anonKey
	if !req.anonymous {
		if t := c.tokens.Get(); t != "" {
			token = t
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		derr := classify(resp.StatusCode, data)
		c.logger.Debug("backend call failed",
			"method", req.method,
			"path", req.path,
			"status", resp.StatusCode,
			"code", derr.Code,
		)
		return nil, derr
	}

	return data, nil
}

// backendError is the error body shape used by the auth and table endpoints.
type backendError struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	ErrorField       string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e backendError) text() string {
	for _, s := range []string{e.Message, e.Msg, e.ErrorDescription, e.ErrorField} {
		if s != "" {
			return s
		}
	}
	return ""
}

// classify maps a failed response to the taxonomy.
func classify(status int, body []byte) *errors.Error {
	var be backendError
	_ = json.Unmarshal(body, &be)

	if be.Code == pgrstNoRows {
		return errors.NotFound("no rows returned")
	}
	return errors.FromStatus(status, be.text())
}

// decode unmarshals a response body into T.
func decode[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Wrap(err, errors.CodeRemote, "malformed response body")
	}
	return v, nil
}

// marshal encodes a request payload.
func marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("encode %T", v))
	}
	return data, nil
}
