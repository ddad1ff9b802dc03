package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// vendorEndpoints holds URL templates of one vendor. Tests point them at
// an httptest server.
type vendorEndpoints struct {
	Home         string
	Login        string
	BaseInfo     string // event id
	RegisterInfo string // event id
	Queue        string // event id, authenticity token
	QueueToken   string // queue token
	OrderPage    string // event id, order page id
	CookieURLs   []string
}

var kktixEndpoints = vendorEndpoints{
	Home:         "https://kktix.com/",
	Login:        "https://kktix.com/users/sign_in",
	BaseInfo:     "https://kktix.com/g/events/%s/base_info",
	RegisterInfo: "https://kktix.com/g/events/%s/register_info",
	Queue:        "https://queue.kktix.com/queue/%s?authenticity_token=%s",
	QueueToken:   "https://queue.kktix.com/queue/token/%s",
	OrderPage:    "https://kktix.com/events/%s/registrations/%s",
	CookieURLs:   []string{"https://kktix.com/", "https://queue.kktix.com/"},
}

var khamEndpoints = vendorEndpoints{
	Home:  "https://www.kham.com.tw/",
	Login: "https://kham.com.tw/application/utk13/utk1306_.aspx",
}

// apiClient issues vendor API calls on its own connection pool, outside
// the browser's event loop.
type apiClient struct {
	client    *http.Client
	userAgent string
}

func newAPIClient(client *http.Client) *apiClient {
	if client == nil {
		jar, _ := cookiejar.New(nil)
		client = &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		}
	}
	return &apiClient{client: client, userAgent: defaultUserAgent}
}

// do sends one request with the given browser cookies attached and returns
// the status code and full body. Only transport failures are errors.
// Cookies the vendor set on an earlier response take precedence over the
// browser copy of the same name.
func (c *apiClient) do(ctx context.Context, method, target string, payload []byte, cookies []*http.Cookie) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	held := c.jarCookieNames(req.URL)
	for _, cookie := range cookies {
		if cookie == nil || held[cookie.Name] {
			continue
		}
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// jarCookieNames lists the cookies the client's jar will attach to u.
func (c *apiClient) jarCookieNames(u *url.URL) map[string]bool {
	names := map[string]bool{}
	if c.client.Jar == nil {
		return names
	}
	for _, cookie := range c.client.Jar.Cookies(u) {
		names[cookie.Name] = true
	}
	return names
}

// getJSON decodes a 200 response into out; any other status becomes an
// *HTTPStatusError carrying the body.
func (c *apiClient) getJSON(ctx context.Context, url string, out interface{}) error {
	status, body, err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &HTTPStatusError{URL: url, StatusCode: status, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", url, err)
	}
	return nil
}

func findCookie(cookies []*http.Cookie, name string) (string, bool) {
	for _, cookie := range cookies {
		if cookie != nil && cookie.Name == name {
			return cookie.Value, true
		}
	}
	return "", false
}
