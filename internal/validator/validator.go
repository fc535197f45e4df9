// internal/validator/validator.go
package validator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/config"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/network"
)

// CookieSource supplies the browser's cookies so the API call runs in the
// same session as the UI. *browser.Session satisfies it.
type CookieSource interface {
	Cookies(ctx context.Context) ([]*http.Cookie, error)
}

// Outcome is the result of a validated chat call.
type Outcome struct {
	StatusCode int
	// Body is the decoded JSON body, nil when the body is not JSON.
	Body    interface{}
	Text    string
	Elapsed time.Duration
}

// StatusError reports a response whose status differs from the expected one.
type StatusError struct {
	StatusCode int
	Expected   int
	Body       interface{}
	Text       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("Response code is %d", e.StatusCode)
	if e.Body != nil {
		rendered, err := json.MarshalToString(e.Body)
		if err == nil {
			return msg + " Response: " + rendered
		}
	}
	return msg + " Response text: " + e.Text
}

type chatRequest struct {
	Question string `json:"Question"`
}

// Validator posts chat questions to the backend and checks the response status.
type Validator struct {
	logger   *zap.Logger
	client   *http.Client
	endpoint string
	timeout  time.Duration
	settle   time.Duration
	cookies  CookieSource
}

// Option configures a Validator.
type Option func(*Validator)

// WithHTTPClient replaces the default client, which follows the browser's TLS policy.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) { v.client = c }
}

// WithCookieSource makes every request carry the cookies from src.
func WithCookieSource(src CookieSource) Option {
	return func(v *Validator) { v.cookies = src }
}

// New creates a validator for the application configured in cfg.
func New(cfg config.Interface, logger *zap.Logger, opts ...Option) *Validator {
	vc := cfg.Validator()
	v := &Validator{
		logger:   logger.Named("response_validator"),
		client:   network.NewClient(network.ClientConfigFor(cfg, logger)),
		endpoint: cfg.App().URL + vc.ChatPath,
		timeout:  vc.Timeout,
		settle:   vc.SettleTime,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Endpoint returns the URL questions are posted to.
func (v *Validator) Endpoint() string { return v.endpoint }

// Validate posts question and fails unless the response status equals
// expectedStatus (200 when zero). On success it waits the settle time so the
// UI can catch up with the backend before returning.
func (v *Validator) Validate(ctx context.Context, question string, expectedStatus int) (*Outcome, error) {
	if expectedStatus <= 0 {
		expectedStatus = http.StatusOK
	}

	payload, err := json.Marshal(chatRequest{Question: question})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, v.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	v.addCookies(ctx, req)

	v.logger.Debug("Validating chat response.", zap.String("url", v.endpoint), zap.Int("expected_status", expectedStatus))
	start := time.Now()

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Error("Request failed.", zap.String("url", v.endpoint), zap.Error(err))
		return nil, fmt.Errorf("chat request to %s failed: %w", v.endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		v.logger.Error("Request failed.", zap.String("url", v.endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to read chat response: %w", err)
	}

	out := &Outcome{
		StatusCode: resp.StatusCode,
		Text:       string(raw),
		Elapsed:    time.Since(start),
	}
	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		out.Body = parsed
	}

	if resp.StatusCode != expectedStatus {
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Expected:   expectedStatus,
			Body:       out.Body,
			Text:       out.Text,
		}
		v.logger.Error("Request failed.", zap.Error(statusErr))
		return out, statusErr
	}

	v.logger.Info("Chat response validated.", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", out.Elapsed))

	if err := sleep(ctx, v.settle); err != nil {
		return out, fmt.Errorf("interrupted while waiting for the UI to settle: %w", err)
	}
	return out, nil
}

func (v *Validator) addCookies(ctx context.Context, req *http.Request) {
	if v.cookies == nil {
		return
	}
	cookies, err := v.cookies.Cookies(ctx)
	if err != nil {
		v.logger.Warn("Could not read browser cookies, sending request without them.", zap.Error(err))
		return
	}
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
