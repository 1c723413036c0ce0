package hitl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jobagent/orchestrator/internal/domain"
)

// HTTPGateway implements domain.SMSGateway against an HTTP-based SMS
// provider, grounded on the request-construction and transport-instrumentation
// pattern used by the AI client: an otelhttp-wrapped transport, a fixed
// per-call timeout, and a freshly built *http.Request per call rather than a
// reused buffer.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// NewHTTPGateway constructs an HTTPGateway posting to baseURL with apiKey as
// bearer auth.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("SMS %s %s", r.Method, r.URL.Host)
		}),
	)
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: 15 * time.Second, Transport: transport},
	}
}

// Send posts {to, body} to <baseURL>/messages. A non-2xx response is
// returned as a transient-infra error so callers can decide whether to
// retry the enclosing send_notification task.
func (g *HTTPGateway) Send(ctx domain.Context, toPhone, body string) error {
	payload, err := json.Marshal(map[string]string{"to": toPhone, "body": body})
	if err != nil {
		return fmt.Errorf("op=hitl.gateway.send.marshal: %w", err)
	}

	endpoint, err := url.JoinPath(g.baseURL, "messages")
	if err != nil {
		return fmt.Errorf("op=hitl.gateway.send.url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("op=hitl.gateway.send.new_request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: sms gateway request failed: %w", domain.ErrTransientInfra, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: sms gateway returned status %d: %s", domain.ErrTransientInfra, resp.StatusCode, snippet)
	}
	return nil
}

var _ domain.SMSGateway = (*HTTPGateway)(nil)
