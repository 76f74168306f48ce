// Package apiclient talks to the transform/validation service and the job service.
//
// Every request carries the current tenant in X-Entity-ID and, when configured,
// a bearer token. Identical requests issued while one is in flight share a
// single round trip.
package apiclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/metrics"
)

const (
	TenantHeader    = "X-Entity-ID"
	RequestIDHeader = "X-Request-ID"
)

const defaultTimeout = 30 * time.Second

// TenantSource yields the tenant id to scope a request to. *tenant.Context satisfies it.
type TenantSource interface {
	ID() string
}

type fixedTenant string

func (f fixedTenant) ID() string { return string(f) }

// Client is safe for concurrent use.
type Client struct {
	base     *url.URL
	http     *http.Client
	token    string
	tenant   TenantSource
	group    *singleflight.Group
	validate *validator.Validate
	log      *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client. Its Jar is kept as is.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithToken sets the bearer credential.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.http.Timeout = d } }

// New builds a client for baseURL scoped by tenant.
func New(baseURL string, tenant TenantSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	c := &Client{
		base:     u,
		http:     &http.Client{Timeout: defaultTimeout, Jar: jar},
		tenant:   tenant,
		group:    &singleflight.Group{},
		validate: validator.New(),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.tenant == nil {
		c.tenant = fixedTenant("")
	}
	return c, nil
}

// ForTenant returns a copy pinned to tenantID. The copy shares the transport and coalescing group.
func (c *Client) ForTenant(tenantID string) *Client {
	cp := *c
	cp.tenant = fixedTenant(tenantID)
	return &cp
}

// TenantID returns the tenant the next request would be scoped to.
func (c *Client) TenantID() string { return c.tenant.ID() }

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do performs a request whose body is fully known up front, coalescing identical in-flight calls.
// The shared round trip is detached from any one caller; each caller stops waiting on its own ctx.
func (c *Client) do(ctx context.Context, method, target string, body []byte) (*rawResponse, error) {
	tenantID := c.tenant.ID()
	if tenantID == "" {
		return nil, apperr.Validation("no tenant selected")
	}
	sum := sha256.Sum256(body)
	key := method + " " + target + " " + tenantID + " " + hex.EncodeToString(sum[:])

	ch := c.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.sharedTimeout())
		defer cancel()
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		return c.send(sctx, method, target, tenantID, "application/json", rdr)
	})
	select {
	case <-ctx.Done():
		return nil, apperr.Remote(0, "", ctx.Err())
	case res := <-ch:
		if res.Shared {
			metrics.CoalescedRequests.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rawResponse), nil
	}
}

// sharedTimeout bounds a coalesced round trip, which no caller's ctx can cancel.
func (c *Client) sharedTimeout() time.Duration {
	if c.http.Timeout > 0 {
		return c.http.Timeout
	}
	return defaultTimeout
}

func (c *Client) send(ctx context.Context, method, target, tenantID, contentType string, body io.Reader) (*rawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(TenantHeader, tenantID)
	req.Header.Set(RequestIDHeader, uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RequestDuration.WithLabelValues(method, "error").Observe(time.Since(start).Seconds())
		return nil, apperr.Remote(0, "", err)
	}
	defer resp.Body.Close()
	metrics.RequestDuration.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Remote(resp.StatusCode, "", fmt.Errorf("read body: %w", err))
	}
	c.log.Debug("api call", zap.String("method", method), zap.String("url", target),
		zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Remote(resp.StatusCode, serverMessage(data), nil)
	}
	return &rawResponse{status: resp.StatusCode, header: resp.Header.Clone(), body: data}, nil
}

// serverMessage extracts a human message from an error body, if it carries one.
func serverMessage(body []byte) string {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	for _, k := range []string{"error", "message", "detail"} {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// decode unmarshals a response body and checks the struct tags of out.
func (c *Client) decode(op string, raw *rawResponse, out any) error {
	if err := json.Unmarshal(raw.body, out); err != nil {
		return apperr.ServerContract("%s: malformed response: %v", op, err)
	}
	if err := c.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.ServerContract("%s: response field %s failed %q", op, verrs[0].Namespace(), verrs[0].Tag())
		}
		var inv *validator.InvalidValidationError
		if errors.As(err, &inv) {
			return nil
		}
		return apperr.ServerContract("%s: %v", op, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	raw, err := c.do(ctx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return err
	}
	return c.decode(op, raw, out)
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = b
	}
	raw, err := c.do(ctx, http.MethodPost, c.endpoint(path, nil), body)
	if err != nil {
		return err
	}
	return c.decode(op, raw, out)
}
