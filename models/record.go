// Package models defines the data structures shared by the scraper,
// the result store, the CSV exporter, and the relay.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Well-known field names. Every Record exposes all of them, even when
// the scraped value was empty.
const (
	FieldItemID         = "item_id"
	FieldProductID      = "product_id"
	FieldTitle          = "title"
	FieldBrand          = "brand"
	FieldPrice          = "price"
	FieldImage1         = "image1"
	FieldImage2         = "image2"
	FieldImage3         = "image3"
	FieldImage4         = "image4"
	FieldImage5         = "image5"
	FieldSummary        = "summary"
	FieldKeyFeature1    = "key_feature_1"
	FieldKeyFeature2    = "key_feature_2"
	FieldKeyFeature3    = "key_feature_3"
	FieldShippingStatus = "shipping_status"
	FieldPickupStatus   = "pickup_status"
	FieldDeliveryStatus = "delivery_status"
)

// FieldScrapeError marks a partial record for an item whose detail page
// could not be loaded.
const FieldScrapeError = "scrape_error"

// WellKnownFields is the fixed field order used for JSON payloads and
// the leading CSV columns.
var WellKnownFields = []string{
	FieldItemID,
	FieldProductID,
	FieldTitle,
	FieldBrand,
	FieldPrice,
	FieldImage1,
	FieldImage2,
	FieldImage3,
	FieldImage4,
	FieldImage5,
	FieldSummary,
	FieldKeyFeature1,
	FieldKeyFeature2,
	FieldKeyFeature3,
	FieldShippingStatus,
	FieldPickupStatus,
	FieldDeliveryStatus,
}

// ListingEntry identifies one candidate found on a listing page. ItemID
// is the primary key; ProductID is an optional page-link identifier.
type ListingEntry struct {
	ItemID    string `json:"item_id"`
	ProductID string `json:"product_id,omitempty"`
}

// Extra is one dynamically-named field discovered on a detail page.
// Value is a string, a []string, or a map[string]string.
type Extra struct {
	Key   string
	Value any
}

// Record holds the extracted fields for one product. The fixed fields
// are always present; Extras keeps page-specific fields in the order
// they were discovered.
type Record struct {
	ItemID         string
	ProductID      string
	Title          string
	Brand          string
	Price          string
	Images         [5]string
	Summary        string
	KeyFeature1    string
	KeyFeature2    string
	KeyFeature3    string
	ShippingStatus string
	PickupStatus   string
	DeliveryStatus string
	Extras         []Extra
}

// Batch is one scrape run's completed records, in completion order.
type Batch []*Record

// SetExtra sets a dynamic field, replacing an existing value for the
// same key while keeping its original position.
func (r *Record) SetExtra(key string, value any) {
	for i := range r.Extras {
		if r.Extras[i].Key == key {
			r.Extras[i].Value = value
			return
		}
	}
	r.Extras = append(r.Extras, Extra{Key: key, Value: value})
}

// Extra returns the value of a dynamic field.
func (r *Record) Extra(key string) (any, bool) {
	for i := range r.Extras {
		if r.Extras[i].Key == key {
			return r.Extras[i].Value, true
		}
	}
	return nil, false
}

// Value looks up any field, well-known or dynamic, by name. Unknown
// names return nil.
func (r *Record) Value(name string) any {
	switch name {
	case FieldItemID:
		return r.ItemID
	case FieldProductID:
		return r.ProductID
	case FieldTitle:
		return r.Title
	case FieldBrand:
		return r.Brand
	case FieldPrice:
		return r.Price
	case FieldImage1:
		return r.Images[0]
	case FieldImage2:
		return r.Images[1]
	case FieldImage3:
		return r.Images[2]
	case FieldImage4:
		return r.Images[3]
	case FieldImage5:
		return r.Images[4]
	case FieldSummary:
		return r.Summary
	case FieldKeyFeature1:
		return r.KeyFeature1
	case FieldKeyFeature2:
		return r.KeyFeature2
	case FieldKeyFeature3:
		return r.KeyFeature3
	case FieldShippingStatus:
		return r.ShippingStatus
	case FieldPickupStatus:
		return r.PickupStatus
	case FieldDeliveryStatus:
		return r.DeliveryStatus
	}
	if v, ok := r.Extra(name); ok {
		return v
	}
	return nil
}

func (r *Record) setField(name, value string) bool {
	switch name {
	case FieldItemID:
		r.ItemID = value
	case FieldProductID:
		r.ProductID = value
	case FieldTitle:
		r.Title = value
	case FieldBrand:
		r.Brand = value
	case FieldPrice:
		r.Price = value
	case FieldImage1:
		r.Images[0] = value
	case FieldImage2:
		r.Images[1] = value
	case FieldImage3:
		r.Images[2] = value
	case FieldImage4:
		r.Images[3] = value
	case FieldImage5:
		r.Images[4] = value
	case FieldSummary:
		r.Summary = value
	case FieldKeyFeature1:
		r.KeyFeature1 = value
	case FieldKeyFeature2:
		r.KeyFeature2 = value
	case FieldKeyFeature3:
		r.KeyFeature3 = value
	case FieldShippingStatus:
		r.ShippingStatus = value
	case FieldPickupStatus:
		r.PickupStatus = value
	case FieldDeliveryStatus:
		r.DeliveryStatus = value
	default:
		return false
	}
	return true
}

// Merge folds the originating listing entry into a scraped record. A
// non-empty listing ItemID wins over the page-derived identifier, and
// the page-derived ProductID is dropped since it is redundant once the
// primary identifier is known. The result always carries at least one
// identifier when the entry had one.
func Merge(entry ListingEntry, rec *Record) *Record {
	if rec == nil {
		rec = &Record{}
	}
	if entry.ItemID != "" {
		rec.ItemID = entry.ItemID
		rec.ProductID = ""
		return rec
	}
	if rec.ItemID == "" && rec.ProductID == "" {
		rec.ProductID = entry.ProductID
	}
	return rec
}

// MarshalJSON renders the fixed fields first and the extras after them,
// preserving discovery order. encoding/json cannot do that for a map,
// so the object is assembled by hand.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range WellKnownFields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, name, r.Value(name)); err != nil {
			return nil, err
		}
	}
	for _, extra := range r.Extras {
		buf.WriteByte(',')
		if err := writeMember(&buf, extra.Key, extra.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key string, value any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal field %q: %w", key, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// UnmarshalJSON reads a flat object, mapping well-known keys onto the
// fixed fields and keeping everything else as ordered extras.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected object, got %v", tok)
	}

	*r = Record{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("record: expected key, got %v", keyTok)
		}

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("record: decode field %q: %w", key, err)
		}

		if s, ok := raw.(string); ok && r.setField(key, s) {
			continue
		}
		r.SetExtra(key, normalizeValue(raw))
	}

	_, err = dec.Token() // closing brace
	return err
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case map[string]any:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = fmt.Sprint(item)
		}
		return out
	default:
		return fmt.Sprint(val)
	}
}
