package signalservice

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Transport handles low-level HTTP communication with the chat service.
// It sets auth headers, retries rate-limited requests and logs each call.
type Transport struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	maxRetries int
	maxWait    time.Duration
	baseWait   time.Duration
}

// NewTransport creates an HTTP transport for baseURL.
func NewTransport(baseURL string, tlsConf *tls.Config, logger zerolog.Logger) *Transport {
	client := &http.Client{Timeout: time.Minute}
	if tlsConf != nil {
		client.Transport = &http.Transport{TLSClientConfig: tlsConf}
	}
	return &Transport{
		baseURL:    baseURL,
		client:     client,
		log:        logger,
		maxRetries: 3,
		maxWait:    10 * time.Minute,
		baseWait:   5 * time.Second,
	}
}

// Do executes req, retrying on 429 Too Many Requests. Retry-After is
// honoured up to a cap; without it the wait doubles on each attempt.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, fmt.Errorf("transport: read request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt == t.maxRetries {
			t.log.Debug().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", resp.StatusCode).
				Msg("http")
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		wait := t.baseWait << attempt
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		wait = min(wait, t.maxWait)
		t.log.Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Dur("wait", wait).
			Int("attempt", attempt+1).
			Msg("rate limited, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		}
	}
}

// Get performs a GET request with optional basic auth.
func (t *Transport) Get(ctx context.Context, path string, auth *BasicAuth) ([]byte, int, error) {
	return t.send(ctx, http.MethodGet, path, nil, auth)
}

// Put performs a PUT request with a JSON body and optional basic auth.
func (t *Transport) Put(ctx context.Context, path string, body []byte, auth *BasicAuth) ([]byte, int, error) {
	return t.send(ctx, http.MethodPut, path, body, auth)
}

func (t *Transport) send(ctx context.Context, method, path string, body []byte, auth *BasicAuth) ([]byte, int, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, r)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != nil {
		req.SetBasicAuth(auth.Username, auth.Password)
	}

	resp, err := t.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("transport: read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// GetJSON performs a GET request and unmarshals the response into result.
func (t *Transport) GetJSON(ctx context.Context, path string, auth *BasicAuth, result any) (int, error) {
	body, status, err := t.Get(ctx, path, auth)
	if err != nil {
		return status, err
	}
	if result != nil && len(body) > 0 && status < 300 {
		if err := json.Unmarshal(body, result); err != nil {
			return status, fmt.Errorf("transport: unmarshal response: %w", err)
		}
	}
	return status, nil
}

// PutJSON marshals body and performs a PUT request.
func (t *Transport) PutJSON(ctx context.Context, path string, body any, auth *BasicAuth) ([]byte, int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: marshal request: %w", err)
	}
	return t.Put(ctx, path, data, auth)
}
