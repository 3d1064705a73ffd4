// Package quantum provides the Go client core for FusionEMS Quantum field
// devices (mobile data terminals, tablets).
//
// Beyond plain REST access to the dispatch, ePCR, billing and fleet portals,
// the package carries the resilience layer those devices depend on: a durable
// mutation queue that captures writes attempted while offline, a replay engine
// that drains the queue in order once connectivity returns, and a realtime
// channel manager that keeps an authenticated websocket session alive across
// cellular drops.
//
// Example:
//
//	store, _ := quantum.OpenStore(filepath.Join(dataDir, "queue.db"))
//	defer store.Close()
//
//	client := quantum.NewClient("https://quantum.example.com",
//		quantum.WithCredentials(quantum.NewFileCredentials(dataDir)),
//		quantum.WithQueue(quantum.NewQueue(store, nil)),
//	)
//
//	// Writes go through the offline interceptor automatically.
//	client.EPCR().AddVitals(ctx, "rec-42", &quantum.VitalsEntry{...})
//
//	// Later, when connectivity returns:
//	client.SetOnline(true) // triggers a background drain
package quantum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the FusionEMS Quantum API client. All portal sub-clients share one
// request path so the offline interceptor sees every outgoing write.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialSource
	queue      *Queue
	engine     *ReplayEngine
	classifier Classifier
	log        *slog.Logger
	online     atomic.Bool

	dispatch *DispatchClient
	epcr     *EPCRClient
	billing  *BillingClient
	fleet    *FleetClient
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithCredentials sets the durable credential source. The token is re-read
// from the source on every request, never cached by the client.
func WithCredentials(creds CredentialSource) ClientOption {
	return func(c *Client) { c.creds = creds }
}

// WithQueue enables the offline interceptor: non-GET requests that fail with
// a transport-level error are captured into q instead of being lost.
func WithQueue(q *Queue) ClientOption {
	return func(c *Client) { c.queue = q }
}

// WithClassifier overrides the network-error classification rule. Transport
// libraries differ in how they signal "no server reachable", so the exact
// matching rule is configurable.
func WithClassifier(fn Classifier) ClientOption {
	return func(c *Client) { c.classifier = fn }
}

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new Quantum client for the given server base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		classifier: DefaultClassifier,
		log:        slog.New(discardHandler{}),
	}
	c.online.Store(true)

	for _, opt := range opts {
		opt(c)
	}

	if c.queue != nil {
		c.engine = NewReplayEngine(c.queue, c.log)
	}

	c.dispatch = &DispatchClient{c: c}
	c.epcr = &EPCRClient{c: c}
	c.billing = &BillingClient{c: c}
	c.fleet = &FleetClient{c: c}
	return c
}

// Dispatch returns the CAD/dispatch sub-client.
func (c *Client) Dispatch() *DispatchClient { return c.dispatch }

// EPCR returns the patient-care record sub-client.
func (c *Client) EPCR() *EPCRClient { return c.epcr }

// Billing returns the billing sub-client.
func (c *Client) Billing() *BillingClient { return c.billing }

// Fleet returns the fleet sub-client.
func (c *Client) Fleet() *FleetClient { return c.fleet }

// Queue returns the mutation queue, or nil when offline capture is disabled.
func (c *Client) Queue() *Queue { return c.queue }

// Online reports the device's current reachability signal.
func (c *Client) Online() bool { return c.online.Load() }

// SetOnline updates the reachability signal. Transitioning to online starts a
// background drain of the mutation queue.
func (c *Client) SetOnline(online bool) {
	was := c.online.Swap(online)
	if was == online {
		return
	}
	if online && c.engine != nil {
		c.log.Info("connectivity restored, draining mutation queue")
		go func() {
			if _, err := c.Sync(context.Background()); err != nil {
				c.log.Error("background drain failed", "error", err)
			}
		}()
	}
}

// Sync drains the mutation queue against the server, replaying each captured
// write verbatim. Safe to call repeatedly; a drain already in progress makes
// this a no-op.
func (c *Client) Sync(ctx context.Context) (DrainStats, error) {
	if c.engine == nil {
		return DrainStats{}, fmt.Errorf("offline queue not configured")
	}
	return c.engine.Drain(ctx, c.applyMutation)
}

// ============================================================================
// Internal request path
// ============================================================================

// do routes every API call. Non-GET failures classified as offline divert
// into the mutation queue; application-level errors from a reachable server
// pass through unchanged.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyBytes = b
	}

	headers := map[string]string{}
	if bodyBytes != nil {
		headers["Content-Type"] = "application/json"
	}
	if c.creds != nil {
		token, err := c.creds.Token()
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		if token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	}

	resp, err := c.send(ctx, method, u, headers, bodyBytes)
	if err != nil {
		return nil, c.maybeQueue(ctx, method, u, headers, bodyBytes, err)
	}
	return resp, nil
}

// send performs one HTTP exchange and decodes the server envelope.
func (c *Client) send(ctx context.Context, method, fullURL string, headers map[string]string, body []byte) (*APIResult, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return decodeResult(resp.StatusCode, data), nil
}

// decodeResult maps an HTTP response onto the server envelope. A non-2xx
// status from a reachable server is an application rejection, surfaced via
// the result's Error field rather than a Go error.
func decodeResult(status int, data []byte) *APIResult {
	var result APIResult
	if len(data) > 0 && json.Unmarshal(data, &result) == nil && (result.OK || result.Error != nil) {
		return &result
	}
	if status >= 200 && status < 300 {
		return &APIResult{OK: true, Data: data}
	}
	msg := http.StatusText(status)
	if len(data) > 0 {
		msg = strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	return &APIResult{
		OK:    false,
		Error: &APIError{Code: fmt.Sprintf("HTTP_%d", status), Message: msg},
	}
}

// applyMutation replays one captured write. The tuple is re-issued exactly as
// originally attempted; idempotency of the replayed call is the server's
// responsibility.
func (c *Client) applyMutation(ctx context.Context, m QueuedMutation) (bool, error) {
	resp, err := c.send(ctx, m.Method, m.TargetURL, m.Headers, m.Body)
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

// discardHandler drops all log records. Used when no logger is injected.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
