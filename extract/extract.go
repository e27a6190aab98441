// Package extract pulls structured product fields out of a rendered
// detail page. Every lookup tolerates a missing target and yields an
// empty value; extraction never fails a record on its own.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shelfgrab/shelfgrab/models"
	"github.com/shelfgrab/shelfgrab/parser"
)

// Selectors names the extraction rule for each field. Site-markup
// changes localize here; orchestration code never sees a selector.
type Selectors struct {
	Title         string
	TitleFallback string

	Brand string
	Price string

	Images    string
	MaxImages int

	Summary         string
	SummaryFallback string

	KeyFeatures         string // structured list lookup
	KeyFeaturesFallback string // text block split on line breaks
	KeyFeatureSlots     int    // individually addressable feature fields

	ShippingTile string
	PickupTile   string
	DeliveryTile string

	// DetailNodes selects the flat header/value text node sequence of
	// the expanded details section.
	DetailNodes string
}

// DefaultSelectors matches the retail site markup the project targets.
func DefaultSelectors() *Selectors {
	return &Selectors{
		Title:               `h1[data-fs-element="name"]`,
		TitleFallback:       `span[data-automation-id="product-title"]`,
		Brand:               `a[data-seo-id="brand-name"]`,
		Price:               `.buy-box-container span[itemprop="price"]`,
		Images:              `.tc img`,
		MaxImages:           5,
		Summary:             `[data-testid="product-description-content"] .dangerous-html`,
		SummaryFallback:     `.product-description .dangerous-html`,
		KeyFeatures:         `div[data-testid="product-description-content"] div.dangerous-html ul li`,
		KeyFeaturesFallback: `div[data-testid="product-description-content"] div.dangerous-html`,
		KeyFeatureSlots:     2,
		ShippingTile:        `[data-testid="shipping-tile"]`,
		PickupTile:          `[data-testid="pickup-tile"]`,
		DeliveryTile:        `[data-testid="delivery-tile"]`,
		DetailNodes:         `.w_s1fw .pb2 h3, .w_s1fw .pb2 span`,
	}
}

// Extractor turns a detail page's DOM into a Record.
type Extractor struct {
	sel *Selectors
}

// New builds an extractor; a nil selector set falls back to defaults.
func New(sel *Selectors) *Extractor {
	if sel == nil {
		sel = DefaultSelectors()
	}
	if sel.MaxImages <= 0 {
		sel.MaxImages = 5
	}
	if sel.KeyFeatureSlots <= 0 {
		sel.KeyFeatureSlots = 2
	}
	return &Extractor{sel: sel}
}

// Extract reads all fields from the page rooted at doc. Missing
// elements produce empty values.
func (x *Extractor) Extract(doc *goquery.Selection) *models.Record {
	rec := &models.Record{}
	if doc == nil {
		return rec
	}

	rec.Title = firstNonEmpty(text(doc, x.sel.Title), text(doc, x.sel.TitleFallback))
	rec.Brand = text(doc, x.sel.Brand)
	rec.Price = parser.CleanPrice(text(doc, x.sel.Price))
	rec.Images = x.images(doc)

	rec.Summary = firstNonEmpty(text(doc, x.sel.Summary), text(doc, x.sel.SummaryFallback))
	if rec.Summary == "" {
		rec.Summary = rec.Title
	}

	x.keyFeatures(doc, rec)

	rec.ShippingStatus = text(doc, x.sel.ShippingTile)
	rec.PickupStatus = text(doc, x.sel.PickupTile)
	rec.DeliveryStatus = text(doc, x.sel.DeliveryTile)

	x.detailPairs(doc, rec)
	return rec
}

// images collects up to MaxImages candidate URLs in DOM order, strips
// tracking parameters, and back-fills empty slots 2..N from slot 1
// only. Downstream sees duplicate images rather than missing slots.
func (x *Extractor) images(doc *goquery.Selection) [5]string {
	var out [5]string
	limit := x.sel.MaxImages
	if limit > len(out) {
		limit = len(out)
	}

	i := 0
	doc.Find(x.sel.Images).EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if i >= limit {
			return false
		}
		src, _ := img.Attr("src")
		out[i] = parser.CleanImageURL(strings.TrimSpace(src))
		i++
		return true
	})

	for slot := 1; slot < limit; slot++ {
		if out[slot] == "" {
			out[slot] = out[0]
		}
	}
	return out
}

func (x *Extractor) keyFeatures(doc *goquery.Selection, rec *models.Record) {
	features := make([]string, 0, 8)
	doc.Find(x.sel.KeyFeatures).Each(func(_ int, li *goquery.Selection) {
		if entry := parser.CollapseWhitespace(li.Text()); entry != "" {
			features = append(features, entry)
		}
	})

	if len(features) == 0 {
		// No structured list; split the first text block that holds one.
		raw := doc.Find(x.sel.KeyFeaturesFallback).First().Text()
		for _, line := range strings.Split(raw, "\n") {
			if entry := parser.CollapseWhitespace(line); entry != "" {
				features = append(features, entry)
			}
		}
	}

	slots := x.sel.KeyFeatureSlots
	if len(features) > 0 {
		rec.KeyFeature1 = features[0]
	}
	if slots >= 2 && len(features) > 1 {
		rec.KeyFeature2 = features[1]
	}
	if slots > 2 {
		slots = 2 // only two fields are individually addressable
	}
	if len(features) > slots {
		rec.KeyFeature3 = strings.Join(features[slots:], "; ")
	}
}

// detailPairs chunks the expanded details section's flat text node
// sequence two at a time into (header, value) extras. A trailing
// unpaired header yields an empty value.
func (x *Extractor) detailPairs(doc *goquery.Selection, rec *models.Record) {
	texts := make([]string, 0, 16)
	doc.Find(x.sel.DetailNodes).Each(func(_ int, node *goquery.Selection) {
		if t := parser.CollapseWhitespace(node.Text()); t != "" {
			texts = append(texts, t)
		}
	})

	for i := 0; i < len(texts); i += 2 {
		header := texts[i]
		value := ""
		if i+1 < len(texts) {
			value = texts[i+1]
		}
		if header != "" {
			rec.SetExtra(header, value)
		}
	}
}

func text(doc *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
