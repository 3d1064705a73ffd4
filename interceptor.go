package quantum

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// ============================================================================
// Offline Interceptor
// ============================================================================

// ErrQueuedOffline marks an error returned for a write that was captured into
// the mutation queue. Callers detect it with errors.Is and can show a
// "saved, will sync" indicator instead of a failure.
var ErrQueuedOffline = errors.New("request queued for offline replay")

// OfflineQueuedError wraps the original transport error after its request was
// diverted into the mutation queue.
type OfflineQueuedError struct {
	Method string
	URL    string
	Err    error
}

func (e *OfflineQueuedError) Error() string {
	return "request queued for offline replay (" + e.Method + " " + e.URL + "): " + e.Err.Error()
}

// Unwrap exposes the original transport error.
func (e *OfflineQueuedError) Unwrap() error { return e.Err }

// Is reports ErrQueuedOffline so callers need no type assertion.
func (e *OfflineQueuedError) Is(target error) bool { return target == ErrQueuedOffline }

// Classifier decides whether an error from the HTTP transport means the
// server was unreachable. Only errors it accepts divert into the queue; an
// application rejection from a reachable server never reaches the classifier
// because the transport reports no error for non-2xx statuses.
type Classifier func(error) bool

// DefaultClassifier treats timeouts, connection failures and DNS errors as
// offline, and caller-initiated cancellation as not.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no such host",
		"network error",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// maybeQueue is the capture half of the interceptor. It runs only when the
// transport itself failed. Reads are never queued; stale reads are a UI
// concern, not a durability concern.
func (c *Client) maybeQueue(ctx context.Context, method, fullURL string, headers map[string]string, body []byte, cause error) error {
	if c.queue == nil || method == "GET" {
		return cause
	}
	if !c.online.Load() || c.classifier(cause) {
		// The capture must outlive the caller's context: an expired request
		// deadline is a common reason to be here and must not also kill the
		// enqueue.
		if err := c.queue.Enqueue(context.WithoutCancel(ctx), fullURL, method, headers, body); err != nil {
			c.log.Error("failed to queue offline mutation", "method", method, "url", fullURL, "error", err)
			return cause
		}
		return &OfflineQueuedError{Method: method, URL: fullURL, Err: cause}
	}
	return cause
}
