package httpcache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/giftlists/internal/httpcache/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingTransport struct {
	calls  atomic.Int32
	status int
	body   string
	err    error
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &http.Response{
		StatusCode: c.status,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       io.NopCloser(strings.NewReader(c.body)),
		Request:    req,
	}, nil
}

type mapStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	putErr  error
	deletes int
	lastTTL time.Duration
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (m *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.data[key] = value
	m.lastTTL = ttl
	return nil
}

func (m *mapStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.data, key)
	return nil
}

func (m *mapStore) Close() error { return nil }

func newTestTransport(t *testing.T, base http.RoundTripper, store Store, clk Clock) *Transport {
	t.Helper()
	tr, err := NewTransport(base, store, Config{
		TTL:            time.Hour,
		AllowableCodes: []int{http.StatusOK, http.StatusNotFound},
		Clock:          clk,
	}, nil)
	require.NoError(t, err)
	return tr
}

func get(t *testing.T, tr http.RoundTripper, rawURL string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(body)
}

func TestTransportServesRepeatRequestsFromCache(t *testing.T) {
	t.Parallel()

	store, err := memory.New(16, time.Hour)
	require.NoError(t, err)
	base := &countingTransport{status: http.StatusOK, body: "<html>liste</html>"}
	tr := newTestTransport(t, base, store, &fakeClock{now: time.Unix(1700000000, 0)})

	first, body := get(t, tr, "https://choisiroffrir.com/82254")
	assert.Equal(t, "<html>liste</html>", body)
	assert.Empty(t, first.Header.Get(HeaderFromCache))

	second, body := get(t, tr, "https://choisiroffrir.com/82254#top")
	assert.Equal(t, "<html>liste</html>", body)
	assert.Equal(t, "1", second.Header.Get(HeaderFromCache))
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, int32(1), base.calls.Load())
}

func TestTransportCachesAllowableCodesOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"not found is cached", http.StatusNotFound, 1},
		{"server error is not cached", http.StatusInternalServerError, 2},
		{"redirect is not cached", http.StatusFound, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			base := &countingTransport{status: tc.status, body: "x"}
			tr := newTestTransport(t, base, newMapStore(), &fakeClock{now: time.Unix(1700000000, 0)})

			for range 2 {
				resp, _ := get(t, tr, "https://choisiroffrir.com/61056")
				assert.Equal(t, tc.status, resp.StatusCode)
			}
			assert.Equal(t, tc.wantCalls, base.calls.Load())
		})
	}
}

func TestTransportRefetchesExpiredEntries(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	base := &countingTransport{status: http.StatusOK, body: "fresh"}
	tr := newTestTransport(t, base, newMapStore(), clk)

	get(t, tr, "https://choisiroffrir.com/70861")
	clk.Advance(59 * time.Minute)
	get(t, tr, "https://choisiroffrir.com/70861")
	require.Equal(t, int32(1), base.calls.Load())

	clk.Advance(time.Minute)
	resp, _ := get(t, tr, "https://choisiroffrir.com/70861")
	assert.Empty(t, resp.Header.Get(HeaderFromCache))
	assert.Equal(t, int32(2), base.calls.Load())
}

func TestTransportReportsCorruptEntries(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	base := &countingTransport{status: http.StatusOK, body: "ok"}
	tr := newTestTransport(t, base, store, &fakeClock{now: time.Unix(1700000000, 0)})

	u, err := url.Parse("https://choisiroffrir.com/75829")
	require.NoError(t, err)
	key, err := tr.Key(http.MethodGet, u, http.Header{"User-Agent": {"Mozilla/5.0"}})
	require.NoError(t, err)
	store.data[key] = []byte("{not json")

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, u.String(), nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	_, err = tr.RoundTrip(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptEntry)
	assert.Zero(t, base.calls.Load())

	require.NoError(t, tr.Invalidate(context.Background(), http.MethodGet, u, req.Header))
	assert.Equal(t, 1, store.deletes)
	resp, body := get(t, tr, u.String())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestTransportSurfacesStoreReadErrors(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	store.getErr = errors.New("disk on fire")
	tr := newTestTransport(t, &countingTransport{status: http.StatusOK}, store, nil)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://choisiroffrir.com/1", nil)
	require.NoError(t, err)
	_, err = tr.RoundTrip(req)
	require.ErrorContains(t, err, "disk on fire")
}

func TestTransportIgnoresStoreWriteErrors(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	store.putErr = errors.New("read-only")
	base := &countingTransport{status: http.StatusOK, body: "still served"}
	tr := newTestTransport(t, base, store, nil)

	_, body := get(t, tr, "https://choisiroffrir.com/71513")
	assert.Equal(t, "still served", body)
}

func TestTransportPassesThroughNonGetRequests(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	base := &countingTransport{status: http.StatusOK, body: "posted"}
	tr := newTestTransport(t, base, store, nil)

	for range 2 {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "https://choisiroffrir.com/form", strings.NewReader("a=1"))
		require.NoError(t, err)
		resp, err := tr.RoundTrip(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}
	assert.Equal(t, int32(2), base.calls.Load())
	assert.Empty(t, store.data)
}

func TestTransportWrapsNetworkErrors(t *testing.T) {
	t.Parallel()

	netErr := errors.New("connection refused")
	tr := newTestTransport(t, &countingTransport{err: netErr}, newMapStore(), nil)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://choisiroffrir.com/1", nil)
	require.NoError(t, err)
	_, err = tr.RoundTrip(req)
	require.ErrorIs(t, err, netErr)
}

func newStaleTransport(t *testing.T, base http.RoundTripper, store Store, clk Clock) *Transport {
	t.Helper()
	tr, err := NewTransport(base, store, Config{
		TTL:            time.Hour,
		AllowableCodes: []int{http.StatusOK, http.StatusNotFound},
		Clock:          clk,
		StaleIfError:   true,
		MaxStale:       24 * time.Hour,
	}, nil)
	require.NoError(t, err)
	return tr
}

func TestTransportServesStaleEntryWhenNetworkFails(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	base := &countingTransport{status: http.StatusOK, body: "<html>old</html>"}
	tr := newStaleTransport(t, base, store, clk)

	_, body := get(t, tr, "https://choisiroffrir.com/82254")
	require.Equal(t, "<html>old</html>", body)
	assert.Equal(t, 25*time.Hour, store.lastTTL)

	clk.Advance(2 * time.Hour)
	base.err = errors.New("connection refused")

	resp, body := get(t, tr, "https://choisiroffrir.com/82254")
	assert.Equal(t, "<html>old</html>", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(HeaderFromCache))
	assert.Equal(t, "1", resp.Header.Get(HeaderStale))
	assert.Equal(t, int32(2), base.calls.Load())
}

func TestTransportServesStaleEntryOnServerError(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	base := &countingTransport{status: http.StatusOK, body: "<html>old</html>"}
	tr := newStaleTransport(t, base, store, clk)

	get(t, tr, "https://choisiroffrir.com/82254")
	clk.Advance(2 * time.Hour)
	base.status = http.StatusBadGateway
	base.body = "bad gateway"

	resp, body := get(t, tr, "https://choisiroffrir.com/82254")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>old</html>", body)
	assert.Equal(t, "1", resp.Header.Get(HeaderStale))
}

func TestTransportWithoutStaleIfErrorFailsAfterExpiry(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	base := &countingTransport{status: http.StatusOK, body: "<html>old</html>"}
	tr := newTestTransport(t, base, store, clk)

	get(t, tr, "https://choisiroffrir.com/82254")
	assert.Equal(t, time.Hour, store.lastTTL)
	clk.Advance(2 * time.Hour)
	base.err = errors.New("connection refused")

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://choisiroffrir.com/82254", nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	_, err = tr.RoundTrip(req)
	require.ErrorIs(t, err, base.err)
}

func TestNewTransportValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewTransport(nil, nil, Config{TTL: time.Hour}, nil)
	require.Error(t, err)

	_, err = NewTransport(nil, newMapStore(), Config{}, nil)
	require.Error(t, err)

	_, err = NewTransport(nil, newMapStore(), Config{TTL: time.Hour, StaleIfError: true}, nil)
	require.Error(t, err)
}
