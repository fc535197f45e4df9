// internal/validator/validator_test.go
package validator

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/config"
)

func newTestConfig(url string, settle time.Duration) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SetAppURL(url)
	cfg.ValidatorCfg.Timeout = 5 * time.Second
	cfg.ValidatorCfg.SettleTime = settle
	return cfg
}

type staticCookies struct {
	cookies []*http.Cookie
	err     error
}

func (s staticCookies) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	return s.cookies, s.err
}

func TestValidate_Success(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]string
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"Housing costs rose.","suggestingQuestions":["Why?"]}`))
	}))
	t.Cleanup(server.Close)

	v := New(newTestConfig(server.URL+"/", 50*time.Millisecond), zaptest.NewLogger(t))
	assert.Equal(t, server.URL+"/backend/chat", v.Endpoint())

	start := time.Now()
	out, err := v.Validate(context.Background(), "What are the main factors?", 0)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "success waits the settle time")
	assert.Equal(t, "/backend/chat", gotPath)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "*/*", gotHeaders.Get("Accept"))
	assert.Equal(t, map[string]string{"Question": "What are the main factors?"}, gotBody)

	assert.Equal(t, http.StatusOK, out.StatusCode)
	body, ok := out.Body.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Housing costs rose.", body["answer"])
}

func TestValidate_StatusMismatchNonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<html>Internal Server Error</html>"))
	}))
	t.Cleanup(server.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	v := New(newTestConfig(server.URL, time.Hour), zap.New(core))

	start := time.Now()
	out, err := v.Validate(context.Background(), "q", http.StatusOK)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Minute, "failures must not wait the settle time")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 500, statusErr.StatusCode)
	assert.Equal(t, 200, statusErr.Expected)
	assert.Equal(t, "Response code is 500 Response text: <html>Internal Server Error</html>", err.Error())

	require.NotNil(t, out)
	assert.Nil(t, out.Body)
	assert.Equal(t, 1, logs.FilterMessage("Request failed.").Len())
}

func TestValidate_StatusMismatchJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Question is required"}`))
	}))
	t.Cleanup(server.Close)

	v := New(newTestConfig(server.URL, 0), zaptest.NewLogger(t))
	_, err := v.Validate(context.Background(), "", 200)
	require.Error(t, err)
	assert.Equal(t, `Response code is 400 Response: {"error":"Question is required"}`, err.Error())
}

func TestValidate_ExpectedNonDefaultStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	v := New(newTestConfig(server.URL, 0), zaptest.NewLogger(t))
	out, err := v.Validate(context.Background(), "q", http.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, out.StatusCode)
	assert.Nil(t, out.Body, "an empty body is not JSON")
}

func TestValidate_TransportError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + l.Addr().String()
	require.NoError(t, l.Close())

	core, logs := observer.New(zapcore.DebugLevel)
	v := New(newTestConfig(url, 0), zap.New(core))

	out, err := v.Validate(context.Background(), "q", 200)
	require.Error(t, err)
	assert.Nil(t, out)
	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr), "transport failures are not status failures")
	assert.Contains(t, err.Error(), "chat request to "+url+"/backend/chat failed")
	assert.Equal(t, 1, logs.FilterMessage("Request failed.").Len())
}

func TestValidate_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	cfg := newTestConfig(server.URL, 0)
	cfg.ValidatorCfg.Timeout = 50 * time.Millisecond
	v := New(cfg, zaptest.NewLogger(t))

	_, err := v.Validate(context.Background(), "slow", 200)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidate_SettleRespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(server.Close)

	v := New(newTestConfig(server.URL, time.Hour), zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := v.Validate(ctx, "q", 200)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, out)
	assert.Equal(t, 200, out.StatusCode)
}

func TestValidate_SharesBrowserCookies(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("SessionID"); err == nil {
			got = c.Value
		}
	}))
	t.Cleanup(server.Close)

	src := staticCookies{cookies: []*http.Cookie{{Name: "SessionID", Value: "abc", HttpOnly: true}}}
	v := New(newTestConfig(server.URL, 0), zaptest.NewLogger(t), WithCookieSource(src))
	_, err := v.Validate(context.Background(), "q", 200)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	// A failing cookie source degrades to a cookieless request.
	got = ""
	v = New(newTestConfig(server.URL, 0), zaptest.NewLogger(t), WithCookieSource(staticCookies{err: errors.New("tab gone")}))
	_, err = v.Validate(context.Background(), "q", 200)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNew_DefaultClientFollowsBrowserTLSPolicy(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SetAppURL("https://dkm.example.com")
	cfg.BrowserCfg.IgnoreTLSErrors = true

	v := New(cfg, zap.NewNop())
	transport, ok := v.client.Transport.(*http.Transport)
	require.True(t, ok, "the default client must use the tuned transport, got %T", v.client.Transport)
	require.NotNil(t, transport.TLSClientConfig)
	assert.GreaterOrEqual(t, transport.TLSClientConfig.MinVersion, uint16(tls.VersionTLS12))
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)

	strict := New(config.NewDefaultConfig(), zap.NewNop())
	assert.False(t, strict.client.Transport.(*http.Transport).TLSClientConfig.InsecureSkipVerify)
}

func TestWithHTTPClient(t *testing.T) {
	client := &http.Client{Timeout: time.Second}
	v := New(newTestConfig("http://localhost:5900", 0), zap.NewNop(), WithHTTPClient(client))
	assert.Same(t, client, v.client)
}
