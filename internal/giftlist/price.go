package giftlist

import (
	"strconv"
	"strings"
)

// NormalizePrice converts a localized price label such as "19,99 €" into a
// numeric Price. Labels that do not parse are kept as text.
func NormalizePrice(raw string) Price {
	trimmed := strings.TrimSpace(raw)
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.':
			return r
		case r == ',':
			return '.'
		default:
			return -1
		}
	}, trimmed)

	if value, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return Amount(value)
	}
	if trimmed == "" {
		return Text(NoPrice)
	}
	return Text(trimmed)
}
