package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mastogone/pkg/config"
	errs "mastogone/pkg/errors"
	"mastogone/pkg/logger"
)

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 4 << 10

// Client talks to one Mastodon instance on behalf of one access token
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	token      string
	logger     logger.Logger
	now        func() time.Time
}

// NewClient creates a client for the configured instance. The access token
// is sent as a bearer token and never logged.
func NewClient(cfg *config.InstanceConfig, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	baseURL := NormalizeBaseURL(cfg.BaseURL)
	if baseURL == "" {
		return nil, errs.New(errs.ErrorTypeConfig, 0, "instance base URL is required")
	}
	if cfg.AccessToken == "" {
		return nil, errs.New(errs.ErrorTypeConfig, 0, "access token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "mastogone/" + config.Version
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		headers: map[string]string{
			"User-Agent": userAgent,
			"Accept":     "application/json",
		},
		baseURL: baseURL,
		token:   cfg.AccessToken,
		logger:  log,
		now:     time.Now,
	}, nil
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// BaseURL returns the normalised instance URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest sends req with the client headers and bearer token
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"path":     req.URL.Path,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
	}

	logger.LogRequest(c.logger, req.Method, req.URL.RequestURI(), resp.StatusCode, duration)
	return resp, nil
}

// newRequest builds a request bound to ctx
func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	return req, nil
}

// getJSON performs a GET, decodes the body into target and returns the headers
func (c *Client) getJSON(ctx context.Context, url string, target interface{}) (http.Header, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		c.logger.DebugWithFields("failed to parse JSON response", map[string]interface{}{
			"path":         req.URL.Path,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return nil, errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
	}

	return resp.Header, nil
}

// checkResponseStatus maps a non-2xx response onto a typed error
func (c *Client) checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	message := http.StatusText(resp.StatusCode)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		message = apiErr.Error
	}

	errType := errs.FromStatusCode(resp.StatusCode)
	if errType == errs.ErrorTypeUnknown && resp.StatusCode == http.StatusUnprocessableEntity {
		errType = errs.ErrorTypeForbidden
	}

	e := errs.New(errType, resp.StatusCode, "%s", message)
	if errType == errs.ErrorTypeRateLimit {
		e.RetryAfter = c.retryAfter(resp.Header)
	}

	fields := map[string]interface{}{
		"status": resp.StatusCode,
		"path":   resp.Request.URL.Path,
		"error":  message,
	}
	switch errType {
	case errs.ErrorTypeRateLimit:
		fields["retry_after"] = e.RetryAfter
		c.logger.WarnWithFields("rate limit exceeded", fields)
	case errs.ErrorTypeServerError:
		c.logger.WarnWithFields("server error", fields)
	default:
		c.logger.DebugWithFields("request rejected", fields)
	}

	return e
}

// retryAfter reads Retry-After (seconds or HTTP date) or Mastodon's
// X-RateLimit-Reset timestamp. Zero means no hint.
func (c *Client) retryAfter(h http.Header) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(c.now()); d > 0 {
				return d
			}
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			if d := t.Sub(c.now()); d > 0 {
				return d
			}
		}
	}
	return 0
}

// VerifyCredentials returns the account the token belongs to
func (c *Client) VerifyCredentials(ctx context.Context) (*Account, error) {
	var account Account
	if _, err := c.getJSON(ctx, GetVerifyCredentialsURL(c.baseURL), &account); err != nil {
		return nil, fmt.Errorf("verify credentials: %w", err)
	}
	if account.ID == "" {
		return nil, errs.New(errs.ErrorTypeParsing, http.StatusOK, "credentials response has no account id")
	}

	c.logger.DebugWithFields("credentials verified", map[string]interface{}{
		"account_id": account.ID,
		"acct":       account.Acct,
	})
	return &account, nil
}

// AccountStatuses fetches one page of the account's statuses older than
// maxID, newest first. An empty maxID starts from the most recent status.
func (c *Client) AccountStatuses(ctx context.Context, accountID, maxID string, limit int) (*Page, error) {
	url := GetAccountStatusesURL(c.baseURL, accountID, maxID, limit)

	var statuses []Status
	header, err := c.getJSON(ctx, url, &statuses)
	if err != nil {
		return nil, fmt.Errorf("list statuses (max_id=%q): %w", maxID, err)
	}

	page := &Page{Statuses: statuses}
	if link := header.Get("Link"); link != "" {
		page.NextMaxID = NextMaxIDFromLink(link)
	} else if len(statuses) > 0 {
		// No Link header at all, fall back to the oldest id on the page
		page.NextMaxID = statuses[len(statuses)-1].ID
	}

	c.logger.DebugWithFields("fetched statuses page", map[string]interface{}{
		"account_id": accountID,
		"max_id":     maxID,
		"count":      len(statuses),
		"next":       page.NextMaxID,
	})
	return page, nil
}

// DeleteStatus deletes one status. A 429 is returned as a rate_limit error
// so callers can tell throttling apart from other failures.
func (c *Client) DeleteStatus(ctx context.Context, statusID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, GetStatusURL(c.baseURL, statusID))
	if err != nil {
		return err
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
