package giftlist

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors describing the list page markup.
const (
	selCover       = ".cover-container img"
	selDescription = ".description"
	selTitle       = "h3"
	selWelcome     = ".row"
	selCards       = ".container.mb-4 .card-cadeau"
	selOffer       = "a.btn-offrir"
	classInactive  = "not-active"
	selImageBlock  = ".card-image"
	selBody        = ".card-body"
	selPrice       = ".prix"
	selCardTitle   = "h5.card-title"
	selCardDesc    = "p.description"
	selSuggestion  = "a.second-text"
	selPreference  = ".preference"
)

// ErrMissingField reports a required element or attribute absent from a card.
var ErrMissingField = errors.New("missing required field")

// ParseError describes a malformed list page.
type ParseError struct {
	Owner string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse list %q: %s: %v", e.Owner, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser turns raw list markup into a GiftList.
type Parser struct {
	base *url.URL
}

// NewParser builds a Parser resolving detail links against baseURL.
func NewParser(baseURL string) (*Parser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return &Parser{base: base}, nil
}

// Parse extracts the list owned by owner from raw page markup fetched at pageURL.
func (p *Parser) Parse(owner, pageURL string, raw []byte) (GiftList, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return GiftList{}, &ParseError{Owner: owner, Field: "document", Err: err}
	}

	list := GiftList{
		Owner:    owner,
		URL:      pageURL,
		Presents: []GiftEntry{},
	}
	if src, ok := doc.Find(selCover).First().Attr("src"); ok {
		list.CoverImageURL = strings.TrimSpace(src)
	}
	desc := doc.Find(selDescription).First()
	list.Title = text(desc.Find(selTitle).First())
	list.WelcomeMessage = text(desc.Find(selWelcome).First())

	var parseErr error
	doc.Find(selCards).EachWithBreak(func(i int, card *goquery.Selection) bool {
		entry, ok, err := p.parseCard(card)
		if err != nil {
			parseErr = &ParseError{Owner: owner, Field: fmt.Sprintf("card %d: %s", i, err.field), Err: err.err}
			return false
		}
		if ok {
			list.Presents = append(list.Presents, entry)
		}
		return true
	})
	if parseErr != nil {
		return GiftList{}, parseErr
	}
	return list, nil
}

type cardError struct {
	field string
	err   error
}

// parseCard returns ok=false for cards that are inactive or malformed.
func (p *Parser) parseCard(card *goquery.Selection) (GiftEntry, bool, *cardError) {
	offer := card.Find(selOffer).First()
	if offer.Length() == 0 || offer.HasClass(classInactive) {
		return GiftEntry{}, false, nil
	}
	image := card.Find(selImageBlock).First()
	body := card.Find(selBody).First()
	if image.Length() == 0 || body.Length() == 0 {
		return GiftEntry{}, false, nil
	}

	price := Text(NoPrice)
	if tag := image.Find(selPrice).First(); tag.Length() > 0 {
		price = NormalizePrice(tag.Text())
	}

	title, ok := requiredText(body, selCardTitle)
	if !ok {
		return GiftEntry{}, false, &cardError{field: "title", err: ErrMissingField}
	}
	description, ok := requiredText(body, selCardDesc)
	if !ok {
		return GiftEntry{}, false, &cardError{field: "description", err: ErrMissingField}
	}

	suggestion := NoSuggestion
	if link := body.Find(selSuggestion).First(); link.Length() > 0 {
		suggestion = text(link)
	}

	href, ok := image.Find("a").First().Attr("href")
	if !ok {
		return GiftEntry{}, false, &cardError{field: "details link", err: ErrMissingField}
	}
	details, err := p.resolve(href)
	if err != nil {
		return GiftEntry{}, false, &cardError{field: "details link", err: err}
	}

	src, ok := image.Find("img").First().Attr("src")
	if !ok {
		return GiftEntry{}, false, &cardError{field: "image", err: ErrMissingField}
	}

	preference := 0
	if tag := image.Find(selPreference).First(); tag.Length() > 0 {
		preference, err = strconv.Atoi(text(tag))
		if err != nil {
			return GiftEntry{}, false, &cardError{field: "preference", err: err}
		}
	}

	return GiftEntry{
		Title:          title,
		Description:    description,
		LinkSuggestion: suggestion,
		DetailsLink:    details,
		ImageURL:       src,
		Price:          price,
		Preference:     preference,
	}, true, nil
}

func (p *Parser) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	return p.base.ResolveReference(ref).String(), nil
}

func requiredText(s *goquery.Selection, selector string) (string, bool) {
	found := s.Find(selector).First()
	if found.Length() == 0 {
		return "", false
	}
	return text(found), true
}

// text trims every text node under s and concatenates them without a
// separator, so "<h3>Noël <b>de</b> Mathéo</h3>" reads "NoëldeMathéo".
// Comments are skipped.
func text(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, node *goquery.Selection) {
			switch goquery.NodeName(node) {
			case "#text":
				b.WriteString(strings.TrimSpace(node.Text()))
			case "#comment":
			default:
				walk(node)
			}
		})
	}
	walk(s)
	return b.String()
}
