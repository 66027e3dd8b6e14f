package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charlsef23/Zymetrik-sub001/internal/infrastructure/rpc/port"
	"github.com/charlsef23/Zymetrik-sub001/internal/pkg/chat/session"
	apperrors "github.com/charlsef23/Zymetrik-sub001/pkg/errors"
)

const maxResponseBytes = 1 << 20 // 1MB payload cap, matching the socket read limit

// HTTPCaller satisfies port.Caller over the backend's HTTP RPC surface:
// POST <base>/rpc/<fn> with a JSON body of named arguments. The API key goes
// in a static header; the bearer token is resolved per call from the auth
// context so token refresh is picked up without rebuilding the caller.
type HTTPCaller struct {
	baseURL    string
	apiKey     string
	auth       session.Auth
	httpClient *http.Client
}

type Option func(*HTTPCaller)

func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPCaller) { h.httpClient = c }
}

// NewHTTPCaller constructs a caller for the given backend base URL.
func NewHTTPCaller(baseURL, apiKey string, auth session.Auth, opts ...Option) (*HTTPCaller, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("rpc: base URL must not be empty")
	}
	h := &HTTPCaller{
		baseURL:    baseURL,
		apiKey:     apiKey,
		auth:       auth,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Ensure interface compliance at compile time
var _ port.Caller = (*HTTPCaller)(nil)

func (h *HTTPCaller) Call(ctx context.Context, fn string, args map[string]any) (json.RawMessage, error) {
	if fn == "" {
		return nil, fmt.Errorf("rpc: function name is required")
	}
	if args == nil {
		args = map[string]any{}
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal args for %s: %w", fn, err)
	}

	url := h.baseURL + "/rpc/" + fn
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: create request for %s: %w", fn, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("apikey", h.apiKey)
	}
	if h.auth != nil {
		token, err := h.auth.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	res, err := h.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Network(fmt.Sprintf("rpc: %s", fn), err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.Network(fmt.Sprintf("rpc: %s: read response", fn), err)
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, apperrors.Unauthenticated(fmt.Sprintf("rpc: %s: status %d", fn, res.StatusCode))
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return nil, apperrors.Network(fmt.Sprintf("rpc: %s: status %d: %s", fn, res.StatusCode, truncate(raw, 256)), nil)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
