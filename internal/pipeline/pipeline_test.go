package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/giftlists/internal/aggregator"
	collyfetcher "github.com/JakeFAU/giftlists/internal/fetcher/colly"
	"github.com/JakeFAU/giftlists/internal/giftlist"
	"github.com/JakeFAU/giftlists/internal/httpcache"
	"github.com/JakeFAU/giftlists/internal/httpcache/sqlite"
	"github.com/JakeFAU/giftlists/internal/output"
)

const (
	baseURL = "https://choisiroffrir.com"
	pageA   = `<html><body>
<div class="description"><h3>Liste de A</h3><div class="row">Bienvenue</div></div>
<div class="container mb-4">
  <div class="card-cadeau">
    <div class="card-image">
      <a href="/1/cadeau/1"><img src="https://cdn.example.com/book.jpg"></a>
      <span class="prix">19,99 €</span>
    </div>
    <div class="card-body">
      <h5 class="card-title">Book</h5>
      <p class="description">A good one</p>
    </div>
    <a class="btn-offrir" href="#">Offrir</a>
  </div>
</div></body></html>`
)

func newEndToEnd(t *testing.T) (*Pipeline, *httpmock.MockTransport, string) {
	t.Helper()
	dir := t.TempDir()

	mock := httpmock.NewMockTransport()
	resp := httpmock.NewStringResponse(http.StatusOK, pageA)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	mock.RegisterResponder(http.MethodGet, baseURL+"/1", httpmock.ResponderFromResponse(resp))
	mock.RegisterResponder(http.MethodGet, baseURL+"/2", httpmock.NewErrorResponder(errors.New("connection reset by peer")))

	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "cache"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache, err := httpcache.NewTransport(mock, store, httpcache.Config{
		TTL:            time.Hour,
		AllowableCodes: []int{http.StatusOK, http.StatusNotFound},
	}, nil)
	require.NoError(t, err)
	fetcher, err := collyfetcher.New(collyfetcher.Config{UserAgent: "Mozilla/5.0", Timeout: time.Second}, cache, nil)
	require.NoError(t, err)
	parser, err := giftlist.NewParser(baseURL)
	require.NoError(t, err)
	agg, err := aggregator.New(aggregator.Config{BaseURL: baseURL, Workers: 5}, fetcher, parser, nil)
	require.NoError(t, err)

	outPath := filepath.Join(dir, "data", "listes_choisir_offrir.json")
	writer, err := output.NewWriter(outPath, nil)
	require.NoError(t, err)

	registry := giftlist.Registry{{Name: "A", ID: 1}, {Name: "B", ID: 2}}
	p, err := New(registry, agg, writer, nil)
	require.NoError(t, err)
	return p, mock, outPath
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	p, _, _ := newEndToEnd(t)
	data, err := p.RunAndRead(context.Background())
	require.NoError(t, err)

	var doc struct {
		NumberOfLists int `json:"number_of_lists"`
		Lists         []struct {
			Owner    string `json:"owner"`
			URL      string `json:"url"`
			Title    string `json:"title"`
			Presents []struct {
				Title          string  `json:"title"`
				Price          float64 `json:"price"`
				DetailsLink    string  `json:"details_link"`
				LinkSuggestion string  `json:"link_suggestion"`
			} `json:"presents"`
		} `json:"lists"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, 1, doc.NumberOfLists)
	require.Len(t, doc.Lists, 1)
	list := doc.Lists[0]
	assert.Equal(t, "A", list.Owner)
	assert.Equal(t, baseURL+"/1", list.URL)
	assert.Equal(t, "Liste de A", list.Title)
	require.Len(t, list.Presents, 1)
	assert.Equal(t, "Book", list.Presents[0].Title)
	assert.InDelta(t, 19.99, list.Presents[0].Price, 1e-9)
	assert.Equal(t, baseURL+"/1/cadeau/1", list.Presents[0].DetailsLink)
	assert.Equal(t, giftlist.NoSuggestion, list.Presents[0].LinkSuggestion)
}

func TestRerunServesUnchangedPagesFromCache(t *testing.T) {
	t.Parallel()

	p, mock, _ := newEndToEnd(t)
	first, err := p.RunAndRead(context.Background())
	require.NoError(t, err)
	callsA := mock.GetCallCountInfo()["GET "+baseURL+"/1"]
	require.Equal(t, 1, callsA)

	second, err := p.RunAndRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, callsA, mock.GetCallCountInfo()["GET "+baseURL+"/1"])
	assert.JSONEq(t, string(first), string(second))
}

type stubAggregator struct {
	doc giftlist.Document
}

func (s stubAggregator) Run(context.Context, giftlist.Registry) giftlist.Document {
	return s.doc
}

type stubPersister struct {
	persistErr error
	readErr    error
	data       []byte
}

func (s *stubPersister) Persist(context.Context, giftlist.Document) error {
	return s.persistErr
}

func (s *stubPersister) Read(context.Context) ([]byte, error) {
	return s.data, s.readErr
}

func TestRunSurfacesPersistFailures(t *testing.T) {
	t.Parallel()

	persister := &stubPersister{persistErr: &output.ValidationError{Problems: []string{"lists is required"}}}
	p, err := New(nil, stubAggregator{}, persister, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	var vErr *output.ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = p.RunAndRead(context.Background())
	require.Error(t, err)
}

func TestRunAndReadSurfacesReadFailures(t *testing.T) {
	t.Parallel()

	persister := &stubPersister{readErr: output.ErrNotFound}
	p, err := New(nil, stubAggregator{doc: giftlist.NewDocument(nil)}, persister, nil)
	require.NoError(t, err)

	_, err = p.RunAndRead(context.Background())
	require.ErrorIs(t, err, output.ErrNotFound)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, &stubPersister{}, nil)
	require.Error(t, err)
	_, err = New(nil, stubAggregator{}, nil, nil)
	require.Error(t, err)
}
