// Package github implements the repository gateway over the GitHub REST contents API.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/autocommitor/autocommitor/internal/automation"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL        = "https://api.github.com"
	defaultUserAgent      = "autocommitor-scheduler"
	defaultRequestTimeout = 20 * time.Second
	apiVersion            = "2022-11-28"
	maxErrorBodyBytes     = 512
	maxResponseBytes      = 8 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL           string
	UserAgent         string
	RequestTimeout    time.Duration
	RequestsPerSecond float64 // Zero disables pacing.
	Burst             int
	HTTPClient        *http.Client
}

// Client talks to the GitHub REST API. Requests from every rule share one limiter.
type Client struct {
	baseURL        string
	userAgent      string
	requestTimeout time.Duration
	limiter        *rate.Limiter
	httpClient     *http.Client
}

// NewClient constructs a Client from opts.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:        baseURL,
		userAgent:      userAgent,
		requestTimeout: timeout,
		limiter:        limiter,
		httpClient:     httpClient,
	}
}

type contentsResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	SHA      string `json:"sha"`
}

type writeContentsRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

type writeContentsResponse struct {
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type apiErrorResponse struct {
	Message string `json:"message"`
}

// ReadFile fetches a file. A 404 yields an empty, non-existent FileState.
func (c *Client) ReadFile(ctx context.Context, token, owner, repo, path string) (automation.FileState, error) {
	const op = "read file"
	target, errURL := c.contentsURL(owner, repo, path)
	if errURL != nil {
		return automation.FileState{}, &automation.ProviderError{Code: automation.CodeNotFound, Op: op, Err: errURL}
	}

	status, header, payload, errReq := c.do(ctx, token, http.MethodGet, target, nil)
	if errReq != nil {
		return automation.FileState{}, transportError(op, errReq)
	}
	if status == http.StatusNotFound {
		return automation.FileState{}, nil
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return automation.FileState{}, statusError(op, status, header, payload)
	}

	if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && trimmed[0] == '[' {
		return automation.FileState{}, &automation.ProviderError{
			Code: automation.CodeNotFound, StatusCode: status, Op: op,
			Err: fmt.Errorf("%s is a directory", path),
		}
	}
	var body contentsResponse
	if errDecode := json.Unmarshal(payload, &body); errDecode != nil {
		return automation.FileState{}, &automation.ProviderError{Code: automation.CodeUnknown, StatusCode: status, Op: op, Err: errDecode}
	}
	if body.Type != "" && body.Type != "file" {
		return automation.FileState{}, &automation.ProviderError{
			Code: automation.CodeNotFound, StatusCode: status, Op: op,
			Err: fmt.Errorf("%s is a %s, not a file", path, body.Type),
		}
	}

	decoded, errContent := decodeContent(body.Encoding, body.Content)
	if errContent != nil {
		return automation.FileState{}, &automation.ProviderError{Code: automation.CodeUnknown, StatusCode: status, Op: op, Err: errContent}
	}
	return automation.FileState{Content: decoded, Revision: body.SHA, Exists: true}, nil
}

// WriteFile creates or updates a file. A stale revision fails with CodeConflict.
func (c *Client) WriteFile(ctx context.Context, token string, req automation.WriteRequest) (string, error) {
	const op = "write file"
	target, errURL := c.contentsURL(req.Owner, req.Repo, req.Path)
	if errURL != nil {
		return "", &automation.ProviderError{Code: automation.CodeNotFound, Op: op, Err: errURL}
	}
	encoded, errMarshal := json.Marshal(writeContentsRequest{
		Message: req.Message,
		Content: base64.StdEncoding.EncodeToString([]byte(req.Content)),
		SHA:     req.Revision,
	})
	if errMarshal != nil {
		return "", &automation.ProviderError{Code: automation.CodeUnknown, Op: op, Err: errMarshal}
	}

	status, header, payload, errReq := c.do(ctx, token, http.MethodPut, target, encoded)
	if errReq != nil {
		return "", transportError(op, errReq)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return "", statusError(op, status, header, payload)
	}

	var body writeContentsResponse
	if errDecode := json.Unmarshal(payload, &body); errDecode != nil {
		return "", &automation.ProviderError{Code: automation.CodeUnknown, StatusCode: status, Op: op, Err: errDecode}
	}
	if strings.TrimSpace(body.Commit.SHA) == "" {
		return "", &automation.ProviderError{Code: automation.CodeUnknown, StatusCode: status, Op: op, Err: errors.New("response missing commit sha")}
	}
	return body.Commit.SHA, nil
}

// CheckToken verifies token against GET /user and returns the login it belongs to.
func (c *Client) CheckToken(ctx context.Context, token string) (string, error) {
	const op = "check token"
	status, header, payload, errReq := c.do(ctx, token, http.MethodGet, c.baseURL+"/user", nil)
	if errReq != nil {
		return "", transportError(op, errReq)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return "", statusError(op, status, header, payload)
	}
	var body struct {
		Login string `json:"login"`
	}
	if errDecode := json.Unmarshal(payload, &body); errDecode != nil {
		return "", &automation.ProviderError{Code: automation.CodeUnknown, StatusCode: status, Op: op, Err: errDecode}
	}
	return body.Login, nil
}

func (c *Client) contentsURL(owner, repo, path string) (string, error) {
	owner = strings.TrimSpace(owner)
	repo = strings.TrimSpace(repo)
	path = strings.Trim(strings.TrimSpace(path), "/")
	if owner == "" || repo == "" || path == "" {
		return "", errors.New("owner, repo and path are required")
	}
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("invalid path %q", path)
		}
		segments[i] = url.PathEscape(segment)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, url.PathEscape(owner), url.PathEscape(repo), strings.Join(segments, "/")), nil
}

func (c *Client) do(ctx context.Context, token, method, targetURL string, body []byte) (int, http.Header, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if c.limiter != nil {
		if errWait := c.limiter.Wait(reqCtx); errWait != nil {
			if reqCtx.Err() != nil {
				return 0, nil, nil, reqCtx.Err()
			}
			return 0, nil, nil, errWait
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, errReq := http.NewRequestWithContext(reqCtx, method, targetURL, reader)
	if errReq != nil {
		return 0, nil, nil, errReq
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", c.userAgent)
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, errResp := c.httpClient.Do(req)
	if errResp != nil {
		return 0, nil, nil, errResp
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("github client: close response body error: %v", errClose)
		}
	}()

	payload, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return resp.StatusCode, resp.Header, nil, errRead
	}
	return resp.StatusCode, resp.Header, payload, nil
}

func decodeContent(encoding, value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "none":
		return value, nil
	case "base64":
		// GitHub wraps base64 content at 60 columns.
		cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(value)
		decoded, errDecode := base64.StdEncoding.DecodeString(cleaned)
		if errDecode != nil {
			return "", fmt.Errorf("decode content: %w", errDecode)
		}
		return string(decoded), nil
	default:
		return "", fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

func transportError(op string, err error) error {
	code := automation.CodeUnknown
	if errors.Is(err, context.DeadlineExceeded) {
		code = automation.CodeTimeout
	}
	return &automation.ProviderError{Code: code, Op: op, Err: err}
}

func statusError(op string, status int, header http.Header, payload []byte) error {
	return &automation.ProviderError{
		Code:       classifyStatus(status, header, payload),
		StatusCode: status,
		Op:         op,
		Err:        errors.New(summarizePayload(payload)),
	}
}

func classifyStatus(status int, header http.Header, payload []byte) automation.Code {
	switch {
	case status == http.StatusTooManyRequests:
		return automation.CodeRateLimited
	case status == http.StatusForbidden && isRateLimited(header, payload):
		return automation.CodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return automation.CodeAuthExpired
	case status == http.StatusNotFound:
		return automation.CodeNotFound
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return automation.CodeConflict
	default:
		return automation.CodeUnknown
	}
}

func isRateLimited(header http.Header, payload []byte) bool {
	if header != nil {
		if remaining, errParse := strconv.Atoi(strings.TrimSpace(header.Get("X-RateLimit-Remaining"))); errParse == nil && remaining == 0 {
			return true
		}
		if strings.TrimSpace(header.Get("Retry-After")) != "" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiMessage(payload)), "rate limit")
}

func apiMessage(payload []byte) string {
	var body apiErrorResponse
	if errDecode := json.Unmarshal(payload, &body); errDecode != nil {
		return ""
	}
	return strings.TrimSpace(body.Message)
}

func summarizePayload(payload []byte) string {
	if message := apiMessage(payload); message != "" {
		return message
	}
	trimmed := strings.TrimSpace(string(payload))
	if len(trimmed) > maxErrorBodyBytes {
		trimmed = trimmed[:maxErrorBodyBytes] + "..."
	}
	if trimmed == "" {
		return "empty response body"
	}
	return trimmed
}
