// Package api is the typed client for the Persistence API: login, PDF parsing,
// container and child record creation, listings and the health check.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dharsanguruparan/PaperDrop/internal/apperror"
	"github.com/dharsanguruparan/PaperDrop/internal/metrics"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	// Timeout bounds every JSON call.
	Timeout time.Duration
	// UploadTimeout bounds the multipart parse call.
	UploadTimeout time.Duration
	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

// Client talks to the Persistence API.
type Client struct {
	baseURL       *url.URL
	http          *http.Client
	limiter       *rate.Limiter
	timeout       time.Duration
	uploadTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// New returns a Client for baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 2 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:       u,
		http:          opts.HTTPClient,
		limiter:       limiter,
		timeout:       opts.Timeout,
		uploadTimeout: opts.UploadTimeout,
		logger:        opts.Logger.With("component", "api"),
		metrics:       opts.Metrics,
	}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL.String() }

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Login exchanges credentials for a raw access token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var out loginResponse
	err := c.do(ctx, "login", c.timeout, http.MethodPost, c.endpoint("/auth/login", nil), "",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &out)
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", apperror.NewMalformedResponse("the server did not return an access token", nil)
	}
	return out.AccessToken, nil
}

// Health performs GET /health and returns the status code. Health checks are
// not throttled.
func (c *Client) Health(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health", nil), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, apperror.NewNetwork(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, nil
}

// ParsePaper uploads file to the parse service and maps its response.
func (c *Client) ParsePaper(ctx context.Context, credential string, file model.SourceFile) (*model.ParsedDocument, error) {
	body, contentType, err := multipartBody(file)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	var out parseResponse
	if err := c.do(ctx, "parse", c.uploadTimeout, http.MethodPost, c.endpoint("/papers/pdf", nil), credential,
		contentType, body, &out); err != nil {
		return nil, err
	}
	doc, err := out.document()
	if err != nil {
		return nil, apperror.NewMalformedResponse("the parse service returned an unexpected response", err)
	}
	return doc, nil
}

func multipartBody(file model.SourceFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	ct := file.ContentType
	if ct == "" {
		ct = "application/pdf"
	}
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write multipart part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// CreatePaper creates the container record.
func (c *Client) CreatePaper(ctx context.Context, credential string, meta model.PaperMeta) (*model.Paper, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	var out envelope[model.Paper]
	if err := c.do(ctx, "create_paper", c.timeout, http.MethodPost, c.endpoint("/papers", nil), credential,
		"application/json", bytes.NewReader(payload), &out); err != nil {
		return nil, err
	}
	if out.Data == nil || out.Data.ID == "" {
		return nil, apperror.NewMalformedResponse("the server did not return a paper id", nil)
	}
	return out.Data, nil
}

// CreateQuestions writes child records under paperID.
func (c *Client) CreateQuestions(ctx context.Context, credential, paperID string, items []model.ParsedItem) ([]model.Question, error) {
	req := CreateQuestionsRequest{PaperID: paperID, Questions: make([]QuestionPayload, 0, len(items))}
	for _, item := range items {
		req.Questions = append(req.Questions, PayloadFor(item))
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	var out envelope[[]model.Question]
	if err := c.do(ctx, "create_questions", c.timeout, http.MethodPost, c.endpoint("/questions", nil), credential,
		"application/json", bytes.NewReader(payload), &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, apperror.NewMalformedResponse("the server did not return the saved questions", nil)
	}
	return *out.Data, nil
}

// ListPapers returns every container record visible to the caller.
func (c *Client) ListPapers(ctx context.Context, credential string) ([]model.Paper, error) {
	var out envelope[[]model.Paper]
	if err := c.do(ctx, "list_papers", c.timeout, http.MethodGet, c.endpoint("/papers", nil), credential,
		"", nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return []model.Paper{}, nil
	}
	return *out.Data, nil
}

// ListQuestions returns the child records of paperID.
func (c *Client) ListQuestions(ctx context.Context, credential, paperID string) ([]model.Question, error) {
	q := url.Values{}
	q.Set("paperId", paperID)
	var out envelope[[]model.Question]
	if err := c.do(ctx, "list_questions", c.timeout, http.MethodGet, c.endpoint("/questions", q), credential,
		"", nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return []model.Question{}, nil
	}
	return *out.Data, nil
}

// do sends one request and decodes a 2xx JSON body into out. Non-2xx
// responses become *apperror.AppError carrying the server's message.
func (c *Client) do(ctx context.Context, op string, timeout time.Duration, method, endpoint, credential, contentType string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return apperror.NewNetwork(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return apperror.NewInternal(err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if credential != "" {
		req.Header.Set("Authorization", authorization(credential))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.ObserveRequest(op, time.Since(start).Seconds())
	if err != nil {
		c.logger.Debug("Request failed", "op", op, "error", err)
		return apperror.NewNetwork(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperror.NewNetwork(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		appErr := apperror.FromResponse(resp.StatusCode, data)
		c.logger.Debug("Request rejected", "op", op, "status", resp.StatusCode, "message", appErr.Message)
		return appErr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		if out != nil {
			return apperror.NewMalformedResponse("the server returned an empty response", nil)
		}
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperror.NewMalformedResponse("the server returned an unreadable response", err)
	}
	return nil
}

func authorization(credential string) string {
	if strings.HasPrefix(credential, "Bearer ") {
		return credential
	}
	return "Bearer " + credential
}
