package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/giftlists/internal/output"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	data  []byte
	err   error
	delay time.Duration
	panic bool
}

func (f *fakeRunner) RunAndRead(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panic {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.data, f.err
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

func newTestServer(t *testing.T, runner Runner, ready ...ReadyCheck) *Server {
	t.Helper()
	s, err := NewServer(runner, &fakeIDGen{ids: []string{"req-1"}}, Config{}, zap.NewNop(), ready...)
	require.NoError(t, err)
	return s
}

func serve(s *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestListesReturnsDocumentBytes(t *testing.T) {
	t.Parallel()

	body := []byte("{\n    \"number_of_lists\": 0,\n    \"lists\": []\n}\n")
	runner := &fakeRunner{data: body}
	rec := serve(newTestServer(t, runner), http.MethodGet, "/api/listes", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, string(body), rec.Body.String())
	assert.Equal(t, 1, runner.calls)
}

func TestListesReportsFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"validation", &output.ValidationError{Problems: []string{"lists[0].owner is required"}}},
		{"missing file", output.ErrNotFound},
		{"anything else", errors.New("disk full")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(newTestServer(t, &fakeRunner{err: tc.err}), http.MethodGet, "/api/listes", nil)

			require.Equal(t, http.StatusInternalServerError, rec.Code)
			var payload map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.Equal(t, tc.err.Error(), payload["error"])
		})
	}
}

func TestListesRecoversFromPanics(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t, &fakeRunner{panic: true}), http.MethodGet, "/api/listes", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestListesRejectsOtherMethods(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	rec := serve(newTestServer(t, runner), http.MethodPost, "/api/listes", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeRunner{})
	rec := serve(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	failing := newTestServer(t, &fakeRunner{}, func(context.Context) error { return errors.New("cache unavailable") })
	rec = serve(failing, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"cache unavailable"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeRunner{})
	serve(s, http.MethodGet, "/healthz", nil)
	rec := serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeRunner{})
	rec := serve(s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	rec = serve(s, http.MethodGet, "/healthz", http.Header{"X-Request-Id": {"from-client"}})
	assert.Equal(t, "from-client", rec.Header().Get("X-Request-ID"))

	broken, err := NewServer(&fakeRunner{}, &fakeIDGen{err: errors.New("entropy")}, Config{}, nil)
	require.NoError(t, err)
	rec = serve(broken, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSHeaders(t *testing.T) {
	t.Parallel()

	s, err := NewServer(&fakeRunner{data: []byte("{}")}, &fakeIDGen{}, Config{CORSOrigins: []string{"https://front.example"}}, nil)
	require.NoError(t, err)

	rec := serve(s, http.MethodGet, "/api/listes", http.Header{"Origin": {"https://front.example"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://front.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(s, http.MethodGet, "/api/listes", http.Header{"Origin": {"https://evil.example"}})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()

	s, err := NewServer(&fakeRunner{delay: time.Second}, &fakeIDGen{}, Config{RequestTimeout: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	rec := serve(s, http.MethodGet, "/api/listes", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, context.DeadlineExceeded.Error(), body["error"])
}

func TestNewServerValidates(t *testing.T) {
	t.Parallel()

	_, err := NewServer(nil, &fakeIDGen{}, Config{}, nil)
	require.Error(t, err)
	_, err = NewServer(&fakeRunner{}, nil, Config{}, nil)
	require.Error(t, err)
}
