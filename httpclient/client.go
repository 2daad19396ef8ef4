// Package httpclient is a thin client for the admin REST API: the activity
// log endpoints polled by the feed and one endpoint family per entity kind.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"

	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/logger"
	"github.com/storefront/adminsync/pkg/models"
)

const (
	activityLogsPath       = "/admin/activity-logs"
	latestActivityLogsPath = "/admin/activity-logs/latest"
)

// StatusError is returned for every non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status code %d: %s", e.Code, e.Message)
}

// Is lets a 404 match constants.ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == constants.ErrNotFound && e.Code == http.StatusNotFound
}

// Client calls the admin API. The bearer token is supplied by the caller;
// storing and refreshing it is not this package's concern.
type Client struct {
	baseURL *url.URL
	token   string

	httpClient *http.Client
	logger     logger.Logger
}

func New(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, constants.ErrNoBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpclient: invalid base url: %w", err)
	}
	switch u.Scheme {
	case constants.HTTPScheme, constants.HTTPSecureScheme:
	default:
		return nil, fmt.Errorf("httpclient: unsupported scheme %q", u.Scheme)
	}

	return &Client{
		baseURL: u,
		token:   token,
		httpClient: &http.Client{
			Timeout: constants.DefaultRequestTimeout,
		},
		logger: logger.Nop(),
	}, nil
}

func (c *Client) SetTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

func (c *Client) SetHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

func (c *Client) SetLogger(log logger.Logger) *Client {
	if log != nil {
		c.logger = log
	}
	return c
}

func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// ActivityLogs returns the full log history, oldest first.
func (c *Client) ActivityLogs(ctx context.Context) ([]models.ActivityLog, error) {
	var logs []models.ActivityLog
	if err := c.Do(ctx, http.MethodGet, activityLogsPath, nil, nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// LatestActivityLogs returns the logs recorded after since. A zero since asks
// the server for its default window.
func (c *Client) LatestActivityLogs(ctx context.Context, since time.Time) ([]models.ActivityLog, error) {
	var query url.Values
	if !since.IsZero() {
		query = url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}
	}

	var logs []models.ActivityLog
	if err := c.Do(ctx, http.MethodGet, latestActivityLogsPath, query, nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// FetchSince implements poll.Fetcher over LatestActivityLogs.
func (c *Client) FetchSince(ctx context.Context, since time.Time) ([]models.FeedEvent, error) {
	logs, err := c.LatestActivityLogs(ctx, since)
	if err != nil {
		return nil, err
	}
	return toFeedEvents(logs), nil
}

// History returns ActivityLogs as poll-sourced feed events.
func (c *Client) History(ctx context.Context) ([]models.FeedEvent, error) {
	logs, err := c.ActivityLogs(ctx)
	if err != nil {
		return nil, err
	}
	return toFeedEvents(logs), nil
}

func toFeedEvents(logs []models.ActivityLog) []models.FeedEvent {
	events := make([]models.FeedEvent, 0, len(logs))
	for _, l := range logs {
		events = append(events, l.FeedEvent(models.SourcePoll))
	}
	return events
}

// Do sends body as JSON and decodes the response into dst. A response wrapped
// as {"data": ...} is unwrapped first. dst may be nil, and an empty response
// body leaves it untouched.
func (c *Client) Do(ctx context.Context, method, endpoint string, query url.Values, body, dst any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("httpclient: failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	u := c.baseURL.JoinPath(endpoint)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("httpclient: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpclient: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode, Message: errorMessage(resp.StatusCode, payload)}
		c.logger.Debug("httpclient request failed", "method", method, "endpoint", endpoint, "status", resp.StatusCode)
		return statusErr
	}

	if dst == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrap(payload), dst); err != nil {
		return fmt.Errorf("httpclient: failed to decode %s %s response: %w", method, endpoint, err)
	}
	return nil
}

func unwrap(payload []byte) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return payload
	}
	data, dataType, _, err := jsonparser.Get(trimmed, "data")
	if err != nil || dataType == jsonparser.NotExist {
		return payload
	}
	return data
}

// errorMessage extracts a human readable message from an error payload.
func errorMessage(code int, payload []byte) string {
	for _, key := range []string{"message", "error"} {
		if msg, err := jsonparser.GetString(payload, key); err == nil && msg != "" {
			return msg
		}
	}
	// {"error": {"message": "..."}}
	if msg, err := jsonparser.GetString(payload, "error", "message"); err == nil && msg != "" {
		return msg
	}

	text := strings.TrimSpace(string(payload))
	if text == "" || strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return http.StatusText(code)
	}
	return text
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}
