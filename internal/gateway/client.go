package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"CTPayments/internal/models"
)

const defaultTimeout = 15 * time.Second

type restClient struct {
	provider models.PaymentMethod
	baseURL  string
	client   *http.Client
}

func newRESTClient(provider models.PaymentMethod, baseURL string, timeout time.Duration) *restClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &restClient{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

type call struct {
	method string
	path   string
	header http.Header
	body   any
	out    any
}

// send performs one request and classifies the outcome: network errors and
// 5xx are ErrUnavailable, 401 is ErrAuth, any other non-2xx is ErrRejected.
func (c *restClient) send(ctx context.Context, cl call) (int, error) {
	var body io.Reader
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return 0, newError(ErrConfig, c.provider, 0, "build request: %v", err)
	}
	for k, vs := range cl.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, newError(ErrUnavailable, c.provider, 0, "%s %s: %v", cl.method, cl.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		switch {
		case resp.StatusCode >= 500:
			return resp.StatusCode, newError(ErrUnavailable, c.provider, resp.StatusCode, "%s", msg)
		case resp.StatusCode == http.StatusUnauthorized:
			return resp.StatusCode, newError(ErrAuth, c.provider, resp.StatusCode, "%s", msg)
		default:
			return resp.StatusCode, newError(ErrRejected, c.provider, resp.StatusCode, "%s", msg)
		}
	}

	if cl.out != nil {
		if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, newError(ErrUnavailable, c.provider, resp.StatusCode, "decode response: %v", err)
		}
	}
	return resp.StatusCode, nil
}

// sendAuthorized attaches the cached bearer token. A 401 is treated as an
// expired credential: the token is dropped and the call retried exactly once.
func (c *restClient) sendAuthorized(ctx context.Context, tokens *tokenCache, cl call) error {
	for attempt := 0; ; attempt++ {
		cred, err := tokens.Get(ctx)
		if err != nil {
			return err
		}
		h := cl.header.Clone()
		if h == nil {
			h = http.Header{}
		}
		h.Set("Authorization", "Bearer "+cred.Token)

		status, err := c.send(ctx, call{method: cl.method, path: cl.path, header: h, body: cl.body, out: cl.out})
		if status == http.StatusUnauthorized && attempt == 0 {
			tokens.Invalidate(cred.Token)
			continue
		}
		return err
	}
}
