// Package parser provides field-level normalizers and record validation.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shelfgrab/shelfgrab/models"
)

var (
	priceKeepRe  = regexp.MustCompile(`[^0-9.]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	imageURLRe   = regexp.MustCompile(`(?i)(https?://[^?"']+\.(?:jpg|jpeg|png|webp))`)
)

// ValidateRecord ensures a completed record carries at least one
// identifier; content fields may all be empty.
func ValidateRecord(r *models.Record) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.ItemID) == "" && strings.TrimSpace(r.ProductID) == "" {
		return fmt.Errorf("record missing identifier")
	}
	return nil
}

// CleanPrice strips everything but digits and the decimal point.
func CleanPrice(price string) string {
	return priceKeepRe.ReplaceAllString(strings.TrimSpace(price), "")
}

// CleanImageURL drops tracking query parameters, keeping the bare image
// URL. Unrecognized values are returned unchanged.
func CleanImageURL(raw string) string {
	if match := imageURLRe.FindString(raw); match != "" {
		return match
	}
	return raw
}

// CollapseWhitespace folds runs of whitespace into single spaces and
// trims the ends.
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// SplitList turns a comma-separated user input into trimmed, non-empty
// entries.
func SplitList(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
