package admission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Upstream is one forwarding target.
type Upstream struct {
	Name    string
	BaseURL string
}

// UpstreamResponse is what a forwarded call produced, ready to relay.
type UpstreamResponse struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// maxRelayBytes caps how much of an upstream response the gateway buffers.
const maxRelayBytes = 8 << 20

// Forwarder relays admitted requests to their upstream with a bounded
// timeout. It never retries; retries are the caller's responsibility.
type Forwarder struct {
	client  *http.Client
	timeout time.Duration
}

func NewForwarder(timeout time.Duration) *Forwarder {
	return &Forwarder{
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Forward sends the sanitized body to the upstream resource and returns the
// relayed response. A deadline overrun maps to UpstreamTimeout, any other
// transport failure to UpstreamError.
func (f *Forwarder) Forward(
	ctx context.Context,
	upstream Upstream,
	resource string,
	body []byte,
	headers http.Header,
) (
	*UpstreamResponse,
	*Rejection,
) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	url := strings.TrimSuffix(upstream.BaseURL, "/") + "/" + strings.TrimPrefix(resource, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Rejection{
			Status:  http.StatusBadGateway,
			Kind:    KindUpstreamError,
			Message: fmt.Sprintf("couldn't build upstream request for '%s'", upstream.Name),
		}
	}
	req.Header.Set("Content-Type", "application/json")
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	res, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Rejection{
				Status:  http.StatusGatewayTimeout,
				Kind:    KindUpstreamTimeout,
				Message: fmt.Sprintf("upstream '%s' timed out", upstream.Name),
			}
		}
		return nil, &Rejection{
			Status:  http.StatusBadGateway,
			Kind:    KindUpstreamError,
			Message: fmt.Sprintf("upstream '%s' unreachable", upstream.Name),
		}
	}
	defer res.Body.Close()

	relayed, err := io.ReadAll(io.LimitReader(res.Body, maxRelayBytes))
	if err != nil {
		return nil, &Rejection{
			Status:  http.StatusBadGateway,
			Kind:    KindUpstreamError,
			Message: fmt.Sprintf("couldn't read response from upstream '%s'", upstream.Name),
		}
	}

	return &UpstreamResponse{
		StatusCode: res.StatusCode,
		Body:       relayed,
		Header:     res.Header,
	}, nil
}
