// Package giftlist models gift wish-lists and extracts them from list pages.
//
// Extraction is a sequence of selector lookups against a goquery document,
// each with an explicit default. Cards whose offer button is missing or
// marked inactive are skipped, as are cards lacking an image or body block.
// A card that passes those checks but lacks a title, description, detail
// link or image makes the whole page fail with a *ParseError.
package giftlist
