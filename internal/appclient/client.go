package appclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/g960059/a2ui/internal/api"
)

type Client struct {
	baseURL      string
	client       *http.Client
	dialer       *websocket.Dialer
	unaryTimeout time.Duration
}

const defaultUnaryTimeout = 10 * time.Second

func New(socketPath string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
	c := NewWithClient("http://unix", &http.Client{Transport: &http.Transport{DialContext: dial}})
	c.dialer = &websocket.Dialer{NetDialContext: dial, HandshakeTimeout: defaultUnaryTimeout}
	return c
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		dialer:       websocket.DefaultDialer,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

var ErrStreamPayloadInvalid = errors.New("stream payload invalid")

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	if code != "" && message != "" {
		return fmt.Sprintf("%s: %s", code, message)
	}
	if code != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, code)
		}
		return code
	}
	if message != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, message)
		}
		return message
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	return getJSON[api.HealthResponse](ctx, c, "/v1/health", nil)
}

// SendMessages posts one server message object or a JSON array of them.
func (c *Client) SendMessages(ctx context.Context, raw []byte) (api.MessagesResponse, error) {
	return doJSON[api.MessagesResponse](ctx, c, http.MethodPost, "/v1/messages", nil, json.RawMessage(raw))
}

func (c *Client) ListSurfaces(ctx context.Context) (api.SurfacesEnvelope, error) {
	return getJSON[api.SurfacesEnvelope](ctx, c, "/v1/surfaces", nil)
}

func (c *Client) GetSurface(ctx context.Context, surfaceID string) (api.SurfaceEnvelope, error) {
	return getJSON[api.SurfaceEnvelope](ctx, c, surfacePath(surfaceID, ""), nil)
}

func (c *Client) Render(ctx context.Context, surfaceID string) (api.RenderEnvelope, error) {
	return getJSON[api.RenderEnvelope](ctx, c, surfacePath(surfaceID, "render"), nil)
}

func (c *Client) Data(ctx context.Context, surfaceID, path string) (api.DataEnvelope, error) {
	query := url.Values{}
	if p := strings.TrimSpace(path); p != "" {
		query.Set("path", p)
	}
	return getJSON[api.DataEnvelope](ctx, c, surfacePath(surfaceID, "data"), query)
}

func (c *Client) Optimistic(ctx context.Context, surfaceID string, req api.OptimisticRequest) (api.OptimisticResponse, error) {
	return doJSON[api.OptimisticResponse](ctx, c, http.MethodPost, surfacePath(surfaceID, "optimistic"), nil, req)
}

func (c *Client) Gather(ctx context.Context, elementIDs []string) (api.GatherResponse, error) {
	return doJSON[api.GatherResponse](ctx, c, http.MethodPost, "/v1/elements", nil, api.GatherRequest{ElementIDs: elementIDs})
}

func (c *Client) Action(ctx context.Context, req api.ActionRequest) (api.ActionResponse, error) {
	return doJSON[api.ActionResponse](ctx, c, http.MethodPost, "/v1/actions", nil, req)
}

func (c *Client) ListWidgets(ctx context.Context) (api.WidgetsEnvelope, error) {
	return getJSON[api.WidgetsEnvelope](ctx, c, "/v1/widgets", nil)
}

// GetWidget fetches the highest stored version of a widget that satisfies
// the semver constraint; an empty constraint picks the latest.
func (c *Client) GetWidget(ctx context.Context, widgetID, constraint string) (api.WidgetEnvelope, error) {
	query := url.Values{}
	if v := strings.TrimSpace(constraint); v != "" {
		query.Set("version", v)
	}
	return getJSON[api.WidgetEnvelope](ctx, c, "/v1/widgets/"+url.PathEscape(widgetID), query)
}

func (c *Client) PutWidget(ctx context.Context, raw []byte) (api.WidgetEnvelope, error) {
	return doJSON[api.WidgetEnvelope](ctx, c, http.MethodPut, "/v1/widgets", nil, json.RawMessage(raw))
}

func (c *Client) DeleteWidget(ctx context.Context, widgetID string) error {
	_, err := c.request(ctx, http.MethodDelete, "/v1/widgets/"+url.PathEscape(widgetID), nil, nil)
	return err
}

type JournalOptions struct {
	SurfaceID string
	Limit     int
}

func (c *Client) Journal(ctx context.Context, opts JournalOptions) (api.JournalEnvelope, error) {
	query := url.Values{}
	if s := strings.TrimSpace(opts.SurfaceID); s != "" {
		query.Set("surface", s)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	return getJSON[api.JournalEnvelope](ctx, c, "/v1/journal", query)
}

type StreamLoopOptions struct {
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
	Once            bool
}

// Stream opens one websocket session and calls onFrame for every frame the
// daemon pushes, hello included. It returns when ctx ends, the session
// drops, or onFrame fails.
func (c *Client) Stream(ctx context.Context, onFrame func(api.StreamFrame) error) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL(), nil)
	if err != nil {
		if resp != nil {
			return &RequestError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return err
	}
	defer conn.Close() //nolint:errcheck

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() //nolint:errcheck
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		var frame api.StreamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("%w: decode stream frame: %v", ErrStreamPayloadInvalid, err)
		}
		if onFrame == nil {
			continue
		}
		if err := onFrame(frame); err != nil {
			return err
		}
	}
}

// StreamLoop keeps a stream session open, reconnecting with exponential
// backoff after transient failures.
func (c *Client) StreamLoop(ctx context.Context, opts StreamLoopOptions, onFrame func(api.StreamFrame) error) error {
	minBackoff := opts.RetryMinBackoff
	if minBackoff <= 0 {
		minBackoff = 250 * time.Millisecond
	}
	maxBackoff := opts.RetryMaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 4 * time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	backoff := minBackoff

	// Errors from onFrame end the loop; only transport failures retry.
	var frameErr error
	handle := func(f api.StreamFrame) error {
		if onFrame == nil {
			return nil
		}
		if err := onFrame(f); err != nil {
			frameErr = err
			return err
		}
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		started := time.Now()
		err := c.Stream(ctx, handle)
		if frameErr != nil {
			return frameErr
		}
		if opts.Once || ctx.Err() != nil {
			return err
		}
		if errors.Is(err, ErrStreamPayloadInvalid) {
			return err
		}
		var reqErr *RequestError
		if errors.As(err, &reqErr) && !reqErr.Retryable() {
			return err
		}
		// A session that lived past one backoff period counts as healthy.
		if time.Since(started) > maxBackoff {
			backoff = minBackoff
		}
		if waitErr := sleepWithContext(ctx, backoff); waitErr != nil {
			return waitErr
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) streamURL() string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/stream"
}

func surfacePath(surfaceID, sub string) string {
	p := "/v1/surfaces/" + url.PathEscape(surfaceID)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func getJSON[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	return doJSON[T](ctx, c, http.MethodGet, path, query, nil)
}

func doJSON[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (T, error) {
	var out T
	payload, err := c.request(ctx, method, path, query, body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode %s response: %w", path, err)
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
