// Package gateway carries every request to the remote service.
//
// Transport performs anonymous JSON exchanges (sign-in, sign-up). Gateway
// wraps Transport with the authenticated request contract: token precondition,
// bearer header, and a single response classification shared by all features.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"pkt.systems/pslog"

	"taskchat/internal/apperr"
)

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 4 << 20

// Options configures a Transport.
type Options struct {
	// BaseURL is the service root, without trailing slash.
	BaseURL string

	// HTTPClient is the underlying client. nil uses a client without timeout.
	HTTPClient *http.Client

	Logger pslog.Logger
}

// Transport sends JSON requests relative to a base URL.
type Transport struct {
	baseURL string
	client  *http.Client
	log     pslog.Logger
}

// NewTransport creates a Transport.
func NewTransport(opts Options) *Transport {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	return &Transport{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
		log:     log,
	}
}

// Request is one outbound call.
type Request struct {
	Method string
	Path   string

	// Body is JSON-encoded when non-nil.
	Body any

	Header http.Header
}

// Reply is a received response, whatever its status.
type Reply struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r *Reply) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// IsJSON reports whether the response declared a JSON media type.
func (r *Reply) IsJSON() bool {
	mediaType, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Decode unmarshals the body into out.
func (r *Reply) Decode(out any) error {
	return json.Unmarshal(r.Body, out)
}

// Detail returns the server-supplied reason from a JSON error body, or "".
// FastAPI-style validation lists are joined by "; ".
func (r *Reply) Detail() string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil || len(body.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &items); err == nil {
		var msgs []string
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// Text returns the raw body trimmed, or the status text when the body is empty.
func (r *Reply) Text() string {
	if text := strings.TrimSpace(string(r.Body)); text != "" {
		return text
	}
	return statusText(r.Status)
}

// Exchange sends an anonymous request. A nil error means a response was received,
// whatever its status; transport failures are NetworkUnavailable.
func (t *Transport) Exchange(ctx context.Context, req Request) (*Reply, error) {
	return t.send(ctx, t.client, req)
}

func (t *Transport) send(ctx context.Context, client *http.Client, req Request) (*Reply, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		t.log.Debug("request failed", "method", req.Method, "path", req.Path, "err", err)
		return nil, apperr.Wrap(apperr.NetworkUnavailable, err, "unable to reach the server")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		t.log.Debug("response read failed", "method", req.Method, "path", req.Path, "status", resp.StatusCode, "err", err)
		return nil, apperr.Wrap(apperr.NetworkUnavailable, err, "connection lost while reading the response")
	}
	t.log.Debug("request done",
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return &Reply{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP error %d", code)
}
