// Package remote is the HTTP client for the contract validation and
// submission service.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"pkt.systems/contractpad/internal/version"
	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

// ProbeAnswer is the body the service returns from its liveness route.
const ProbeAnswer = "indeed"

// Operation names reported to the Observer.
const (
	OpProbe    = "probe"
	OpFetch    = "fetch"
	OpValidate = "validate"
)

// Observer receives one call per completed request.
type Observer interface {
	ObserveRemote(op string, result string, elapsed time.Duration)
}

// Config tunes transport behaviour.
type Config struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimitRPS <= 0 disables rate limiting.
	RateLimitRPS float64
	Observer     Observer
	Logger       pslog.Logger
}

// Client talks to the remote service.
type Client struct {
	mu       sync.RWMutex
	resty    *resty.Client
	submit   *resty.Client
	limiter  *rate.Limiter
	baseURL  string
	observer Observer
	log      pslog.Logger
}

// New constructs a client pointed at the given endpoint. Probe and fetch
// requests are retried; submissions are sent exactly once.
func New(endpoint schema.ConnectionInfo, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retrying := newRestyClient(newRetryClient(cfg, cfg.RetryMax), timeout)

	once := newRetryClient(cfg, 0)
	once.ErrorHandler = retryablehttp.PassthroughErrorHandler
	submit := newRestyClient(once, timeout)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	c := &Client{
		resty:    retrying,
		submit:   submit,
		limiter:  limiter,
		observer: cfg.Observer,
		log:      cfg.Logger,
	}
	c.SetEndpoint(endpoint)
	return c
}

func newRetryClient(cfg Config, retryMax int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.Logger = nil
	return client
}

func newRestyClient(transport *retryablehttp.Client, timeout time.Duration) *resty.Client {
	return resty.NewWithClient(transport.StandardClient()).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", version.UserAgent("contractpad"))
}

// SetEndpoint rebuilds the base URL from hostname and port.
func (c *Client) SetEndpoint(info schema.ConnectionInfo) {
	base := BaseURL(info)
	c.mu.Lock()
	c.baseURL = base
	c.resty.SetBaseURL(base)
	c.submit.SetBaseURL(base)
	c.mu.Unlock()
	if c.log != nil {
		c.log.Debug("remote endpoint set", "base_url", base)
	}
}

// Endpoint returns the current base URL.
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// BaseURL joins hostname and port. A hostname without scheme gets http://.
// Backslashes, as typed into the original settings form, are read as slashes.
func BaseURL(info schema.ConnectionInfo) string {
	host := strings.TrimSpace(strings.ReplaceAll(info.Hostname, `\`, "/"))
	host = strings.TrimRight(host, "/")
	if host == "" {
		host = "localhost"
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	port := strings.TrimSpace(info.Port)
	if port == "" {
		return host
	}
	return host + ":" + port
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	return c.requestOn(ctx, func() *resty.Client { return c.resty })
}

func (c *Client) submitRequest(ctx context.Context) (*resty.Request, error) {
	return c.requestOn(ctx, func() *resty.Client { return c.submit })
}

func (c *Client) requestOn(ctx context.Context, pick func() *resty.Client) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return pick().R().SetContext(ctx), nil
}

// Probe checks that the service answers its liveness route.
func (c *Client) Probe(ctx context.Context) error {
	start := time.Now()
	err := c.probe(ctx)
	c.observe(OpProbe, err, start)
	return err
}

func (c *Client) probe(ctx context.Context) error {
	req, err := c.request(ctx)
	if err != nil {
		return &schema.ConnectivityError{Err: err}
	}
	resp, err := req.Get("/")
	if err != nil {
		return &schema.ConnectivityError{Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return &schema.ConnectivityError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}
	if answer := decodeProbeAnswer(resp.Body()); answer != ProbeAnswer {
		return &schema.ConnectivityError{Err: fmt.Errorf("unexpected probe answer %q", answer)}
	}
	return nil
}

func decodeProbeAnswer(body []byte) string {
	var answer string
	if err := json.Unmarshal(body, &answer); err == nil {
		return answer
	}
	return strings.TrimSpace(string(body))
}

type contractResponse struct {
	Name string  `json:"name"`
	Code *string `json:"code"`
}

// FetchDocument retrieves a contract's source text by name.
func (c *Client) FetchDocument(ctx context.Context, name schema.DocumentName) (string, error) {
	start := time.Now()
	text, err := c.fetch(ctx, name)
	c.observe(OpFetch, err, start)
	return text, err
}

func (c *Client) fetch(ctx context.Context, name schema.DocumentName) (string, error) {
	req, err := c.request(ctx)
	if err != nil {
		return "", fetchErr(schema.RemoteNetwork, OpFetch, name, err)
	}
	resp, err := req.SetPathParam("name", string(name)).Get("/contracts/{name}")
	if err != nil {
		return "", fetchErr(schema.RemoteNetwork, OpFetch, name, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return "", fetchErr(schema.RemoteNotFound, OpFetch, name, errors.New("not found"))
	case resp.StatusCode() != http.StatusOK:
		return "", fetchErr(schema.RemoteNetwork, OpFetch, name, fmt.Errorf("unexpected status %d", resp.StatusCode()))
	}
	var payload contractResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return "", fetchErr(schema.RemoteMalformed, OpFetch, name, err)
	}
	if payload.Code == nil {
		return "", fetchErr(schema.RemoteMalformed, OpFetch, name, errors.New("response has no code"))
	}
	return *payload.Code, nil
}

type submitRequest struct {
	Name    string `json:"name"`
	CodeStr string `json:"code_str"`
}

type submitResponse struct {
	Success    bool              `json:"success"`
	Violations []json.RawMessage `json:"violations"`
}

// ValidateAndSubmit sends text for checking and, when clean, submission.
func (c *Client) ValidateAndSubmit(ctx context.Context, name schema.DocumentName, text string) (schema.ValidationResult, error) {
	start := time.Now()
	result, err := c.validate(ctx, name, text)
	c.observe(OpValidate, err, start)
	return result, err
}

func (c *Client) validate(ctx context.Context, name schema.DocumentName, text string) (schema.ValidationResult, error) {
	req, err := c.submitRequest(ctx)
	if err != nil {
		return schema.ValidationResult{}, fetchErr(schema.RemoteNetwork, OpValidate, name, err)
	}
	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody(submitRequest{Name: string(name), CodeStr: text}).
		Post("/submit")
	if err != nil {
		return schema.ValidationResult{}, fetchErr(schema.RemoteNetwork, OpValidate, name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return schema.ValidationResult{}, fetchErr(schema.RemoteNetwork, OpValidate, name, fmt.Errorf("unexpected status %d", resp.StatusCode()))
	}
	var payload submitResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return schema.ValidationResult{}, fetchErr(schema.RemoteMalformed, OpValidate, name, err)
	}
	violations := make([]schema.Violation, 0, len(payload.Violations))
	for _, raw := range payload.Violations {
		violations = append(violations, DecodeViolation(raw))
	}
	return schema.ValidationResult{Accepted: payload.Success, Violations: violations}, nil
}

// DecodeViolation reads a violation given as a string or as an object with
// a message field. Anything else keeps its JSON text as the message.
func DecodeViolation(raw json.RawMessage) schema.Violation {
	v := schema.Violation{Raw: append(json.RawMessage(nil), raw...)}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		v.Message = text
		return v
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		v.Message = obj.Message
		return v
	}
	v.Message = strings.TrimSpace(string(raw))
	return v
}

func fetchErr(kind schema.RemoteFetchKind, op string, name schema.DocumentName, err error) error {
	return &schema.RemoteFetchError{Kind: kind, Op: op, Name: name, Err: err}
}

func (c *Client) observe(op string, err error, start time.Time) {
	elapsed := time.Since(start)
	result := "ok"
	if err != nil {
		result = "error"
	}
	if c.observer != nil {
		c.observer.ObserveRemote(op, result, elapsed)
	}
	if c.log == nil {
		return
	}
	if err != nil {
		c.log.Debug("remote request failed", "op", op, "elapsed", elapsed, "err", err)
		return
	}
	c.log.Trace("remote request ok", "op", op, "elapsed", elapsed)
}
