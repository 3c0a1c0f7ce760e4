package giftlist

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Sentinel texts used when a card omits optional fields.
const (
	NoPrice      = "Pas de prix"
	NoSuggestion = "Pas de lien de suggestion"
)

// GiftEntry is one wished-for present on a list page.
type GiftEntry struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	LinkSuggestion string `json:"link_suggestion"`
	DetailsLink    string `json:"details_link"`
	ImageURL       string `json:"image_url"`
	Price          Price  `json:"price"`
	Preference     int    `json:"preference"`
}

// GiftList is the structured form of one owner's list page.
type GiftList struct {
	Owner          string      `json:"owner" validate:"required"`
	URL            string      `json:"url" validate:"required,url"`
	CoverImageURL  string      `json:"cover_image_url"`
	Title          string      `json:"title"`
	WelcomeMessage string      `json:"welcome_message"`
	Presents       []GiftEntry `json:"presents" validate:"required"`
}

// Document is the aggregate written to disk and served over HTTP.
type Document struct {
	NumberOfLists int        `json:"number_of_lists" validate:"gte=0"`
	Lists         []GiftList `json:"lists" validate:"required,dive"`
}

// NewDocument builds a Document whose count always matches its lists.
func NewDocument(lists []GiftList) Document {
	if lists == nil {
		lists = []GiftList{}
	}
	return Document{
		NumberOfLists: len(lists),
		Lists:         lists,
	}
}

// Price is either a parsed amount or the text shown on the page when no
// amount could be read. The zero value encodes as NoPrice.
type Price struct {
	amount  float64
	text    string
	numeric bool
}

// Amount returns a numeric price.
func Amount(v float64) Price {
	return Price{amount: v, numeric: true}
}

// Text returns a fallback textual price.
func Text(s string) Price {
	return Price{text: s}
}

// Float reports the numeric value and whether the price is numeric.
func (p Price) Float() (float64, bool) {
	return p.amount, p.numeric
}

func (p Price) String() string {
	if p.numeric {
		return fmt.Sprintf("%g", p.amount)
	}
	if p.text == "" {
		return NoPrice
	}
	return p.text
}

// MarshalJSON encodes numeric prices as JSON numbers and the rest as strings.
// Whole amounts keep a fractional part ("20.0") so they always read as floats.
func (p Price) MarshalJSON() ([]byte, error) {
	if p.numeric {
		data, err := json.Marshal(p.amount)
		if err != nil {
			return nil, fmt.Errorf("marshal price amount: %w", err)
		}
		if !bytes.ContainsAny(data, ".eE") {
			data = append(data, ".0"...)
		}
		return data, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p.String()); err != nil {
		return nil, fmt.Errorf("marshal price text: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON accepts either a number or a string.
func (p *Price) UnmarshalJSON(data []byte) error {
	var amount float64
	if err := json.Unmarshal(data, &amount); err == nil {
		*p = Amount(amount)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("price must be a number or a string: %w", err)
	}
	*p = Text(text)
	return nil
}
