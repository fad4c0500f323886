package studysync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/studykit/studysync/internal/material"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// MaterialPatch is a partial update; nil fields are left untouched by
// the backend.
type MaterialPatch struct {
	FileName         *string          `json:"file_name,omitempty"`
	ProcessingStatus *material.Status `json:"processing_status,omitempty"`
}

// RemoteClient is the backend surface the sync core consumes. ListUpdates
// returns live rows only: the updates feed carries no tombstones, so
// deletions propagate exclusively over the push channel.
type RemoteClient interface {
	ListMaterials(ctx context.Context) ([]material.Material, error)
	ListUpdates(ctx context.Context, since time.Time) ([]material.Material, error)
	UpdateMaterial(ctx context.Context, id int64, patch MaterialPatch) (material.Material, error)
	UploadMaterial(ctx context.Context, fileName string, content []byte) (material.Material, error)
	DeleteMaterial(ctx context.Context, id int64) error
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

// EventsURL returns the websocket endpoint matching this client's base
// URL, with the auth token carried in the query (socket clients cannot
// set headers from a browser, so the server accepts both).
func (c *HTTPClient) EventsURL() string {
	wsBase := c.baseURL
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	return wsBase + "/ws/events?token=" + url.QueryEscape(c.token)
}

func (c *HTTPClient) ListMaterials(ctx context.Context) ([]material.Material, error) {
	var out []material.Material
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/study-materials", nil, &out)
	return out, err
}

func (c *HTTPClient) ListUpdates(ctx context.Context, since time.Time) ([]material.Material, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	var out []material.Material
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/study-materials/updates?"+q.Encode(), nil, &out)
	return out, err
}

func (c *HTTPClient) UpdateMaterial(ctx context.Context, id int64, patch MaterialPatch) (material.Material, error) {
	var out material.Material
	err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/api/v1/study-materials/%d", id), patch, &out)
	return out, err
}

func (c *HTTPClient) DeleteMaterial(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/study-materials/%d", id), nil, nil)
}

func (c *HTTPClient) UploadMaterial(ctx context.Context, fileName string, content []byte) (material.Material, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return material.Material{}, err
	}
	if _, err := part.Write(content); err != nil {
		return material.Material{}, err
	}
	if err := writer.Close(); err != nil {
		return material.Material{}, err
	}
	var out material.Material
	err = c.do(ctx, http.MethodPost, "/api/v1/study-materials", writer.FormDataContentType(), body.Bytes(), &out)
	return out, err
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	contentType := ""
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
		contentType = "application/json"
	}
	return c.do(ctx, method, requestPath, contentType, bodyBytes, out)
}

func (c *HTTPClient) do(ctx context.Context, method, requestPath, contentType string, bodyBytes []byte, out any) error {
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-Correlation-Id", correlationID())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		message := errPayload.Message
		if message == "" {
			message = errPayload.Detail
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    message,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func correlationID() string {
	return fmt.Sprintf("sync_%d", time.Now().UnixNano())
}
