// Package httpapi talks to the task server over HTTP with a cookie session.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/swrcache/api"
	"github.com/unkn0wn-root/swrcache/model"
)

// Ensure Client implements api.Client at compile time.
var _ api.Client = (*Client)(nil)

// Client is an api.Client for the task server. The session cookie set by
// Login is kept in the client's jar and sent with every request.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

const (
	defaultBaseURL   = "http://localhost:8080"
	defaultUserAgent = "taskcache/0.1"
	requestTimeout   = 10 * time.Second
	maxErrorBody     = 4 << 10
)

// Config tunes a Client. Zero values select the defaults.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// HTTPClient replaces the default client; its Jar must be set for sessions to work.
	HTTPClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	hc := cfg.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = requestTimeout
		}
		hc = &http.Client{Timeout: timeout, Jar: jar}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{baseURL: base, http: hc, userAgent: ua}, nil
}

// Login starts a session.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return c.do(ctx, http.MethodPost, &url.URL{Path: "/login"}, body, nil)
}

func (c *Client) FetchCurrentUser(ctx context.Context) (model.UserProfile, error) {
	var p model.UserProfile
	if err := c.do(ctx, http.MethodGet, &url.URL{Path: "/me"}, nil, &p); err != nil {
		return model.UserProfile{}, err
	}
	return p, nil
}

func (c *Client) UpdateProfile(ctx context.Context, currentPassword string, patch model.ProfilePatch) error {
	body := model.ProfileUpdate{CurrentPassword: currentPassword, Patch: patch}
	return c.do(ctx, http.MethodPatch, &url.URL{Path: "/me"}, body, nil)
}

func (c *Client) DeleteProfile(ctx context.Context, currentPassword string) error {
	body := map[string]string{"current_password": currentPassword}
	return c.do(ctx, http.MethodDelete, &url.URL{Path: "/me"}, body, nil)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, &url.URL{Path: "/logout"}, nil, nil)
}

// FetchTaskPage sends the state filter as repeated state parameters. An empty,
// non-nil filter is sent as a single empty state value so it still filters.
func (c *Client) FetchTaskPage(ctx context.Context, q model.PageQuery, limit, offset int) (model.TaskListPage, error) {
	values := url.Values{}
	values.Set("limit", strconv.Itoa(limit))
	values.Set("offset", strconv.Itoa(offset))
	if phrase := strings.TrimSpace(q.Phrase); phrase != "" {
		values.Set("phrase", phrase)
	}
	if q.States != nil {
		if len(q.States) == 0 {
			values["state"] = []string{""}
		}
		for _, s := range q.States {
			values.Add("state", string(s))
		}
	}
	var page model.TaskListPage
	if err := c.do(ctx, http.MethodGet, &url.URL{Path: "/tasks/me", RawQuery: values.Encode()}, nil, &page); err != nil {
		return model.TaskListPage{}, err
	}
	if page.Items == nil {
		page.Items = []model.Task{}
	}
	return page, nil
}

// CreateTask returns the created task, or a zero Task when the server answers
// without a body.
func (c *Client) CreateTask(ctx context.Context, t model.NewTask) (model.Task, error) {
	var out model.Task
	if err := c.do(ctx, http.MethodPost, &url.URL{Path: "/tasks"}, t, &out); err != nil {
		return model.Task{}, err
	}
	return out, nil
}

func (c *Client) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	var out model.Task
	if err := c.do(ctx, http.MethodPatch, taskURL(id), patch, &out); err != nil {
		return model.Task{}, err
	}
	return out, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, taskURL(id), nil, nil)
}

func taskURL(id string) *url.URL {
	return &url.URL{Path: "/tasks/" + id, RawPath: "/tasks/" + url.PathEscape(id)}
}

func (c *Client) do(ctx context.Context, method string, rel *url.URL, body, dest any) error {
	op := method + " " + rel.Path
	reqURL := c.baseURL.ResolveReference(rel)

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &api.Error{Kind: api.KindValidation, Op: op, Msg: "encode request", Err: err}
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &api.Error{Kind: api.KindNetwork, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &api.Error{
			Kind:   api.KindForStatus(resp.StatusCode),
			Op:     op,
			Status: resp.StatusCode,
			Msg:    errorMessage(resp.Body),
		}
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &api.Error{Kind: api.KindNetwork, Op: op, Status: resp.StatusCode, Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return &api.Error{Kind: api.KindNetwork, Op: op, Status: resp.StatusCode, Msg: "decode response", Err: err}
	}
	return nil
}

// errorMessage extracts {"error": "..."} or falls back to the raw text.
func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Error != "":
			return body.Error
		case body.Message != "":
			return body.Message
		}
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base_url %q: %w", raw, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
