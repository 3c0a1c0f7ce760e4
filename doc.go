// Command giftlists scrapes the gift wish-lists of a fixed set of owners from
// a public gift-registry site and serves the aggregate as JSON.
//
// Architecture overview:
//   - Fetching: a colly collector whose transport is internal/httpcache, an
//     http.RoundTripper that replays fresh responses from a pluggable store
//     (sqlite by default, memory LRU, or Postgres). A failed fetch clears the
//     cached entry and retries once.
//   - Parsing: internal/giftlist turns a list page into a GiftList with
//     goquery selectors and normalizes prices.
//   - Aggregation: internal/aggregator fans the owner registry out to a fixed
//     worker pool over a bounded queue and keeps the lists that parsed.
//   - Output: internal/output validates the document and writes it as
//     indented JSON; GET /api/listes re-runs the pipeline and returns the file.
//
// Quick checklist:
//   - giftlists serve --config config.yaml starts the HTTP server.
//   - giftlists scrape runs the pipeline once and writes the file.
//   - Every key can be overridden with GIFTLISTS_<SECTION>_<KEY>, for example
//     GIFTLISTS_CACHE_BACKEND=memory or GIFTLISTS_SCRAPER_WORKERS=8.
package main
