package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name          string
		entry         ListingEntry
		rec           *Record
		wantItemID    string
		wantProductID string
	}{
		{
			name:          "listing item id wins",
			entry:         ListingEntry{ItemID: "L1"},
			rec:           &Record{ItemID: "P1", ProductID: "pp"},
			wantItemID:    "L1",
			wantProductID: "",
		},
		{
			name:          "product id backfilled when record blank",
			entry:         ListingEntry{ProductID: "pp-2"},
			rec:           &Record{},
			wantItemID:    "",
			wantProductID: "pp-2",
		},
		{
			name:          "page identifiers kept when listing has none",
			entry:         ListingEntry{ProductID: "pp-3"},
			rec:           &Record{ProductID: "page-pp"},
			wantItemID:    "",
			wantProductID: "page-pp",
		},
		{
			name:          "nil record",
			entry:         ListingEntry{ItemID: "L4"},
			rec:           nil,
			wantItemID:    "L4",
			wantProductID: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.entry, tt.rec)
			if got == nil {
				t.Fatal("Merge() returned nil")
			}
			if got.ItemID != tt.wantItemID {
				t.Errorf("ItemID = %q, want %q", got.ItemID, tt.wantItemID)
			}
			if got.ProductID != tt.wantProductID {
				t.Errorf("ProductID = %q, want %q", got.ProductID, tt.wantProductID)
			}
		})
	}
}

func TestSetExtraKeepsPosition(t *testing.T) {
	rec := &Record{}
	rec.SetExtra("Material", "steel")
	rec.SetExtra("Color", "red")
	rec.SetExtra("Material", "aluminum")

	if len(rec.Extras) != 2 {
		t.Fatalf("len(Extras) = %d, want 2", len(rec.Extras))
	}
	if rec.Extras[0].Key != "Material" || rec.Extras[0].Value != "aluminum" {
		t.Errorf("Extras[0] = %+v, want Material=aluminum", rec.Extras[0])
	}
	if rec.Extras[1].Key != "Color" {
		t.Errorf("Extras[1].Key = %q, want Color", rec.Extras[1].Key)
	}
}

func TestValue(t *testing.T) {
	rec := &Record{ItemID: "A1", Title: "Widget"}
	rec.Images[0] = "https://img.example.test/a.jpg"
	rec.SetExtra("Material", "steel")

	tests := []struct {
		field string
		want  any
	}{
		{FieldItemID, "A1"},
		{FieldTitle, "Widget"},
		{FieldImage1, "https://img.example.test/a.jpg"},
		{FieldImage2, ""},
		{"Material", "steel"},
		{"no_such_field", nil},
	}

	for _, tt := range tests {
		if got := rec.Value(tt.field); got != tt.want {
			t.Errorf("Value(%q) = %v, want %v", tt.field, got, tt.want)
		}
	}
}

func TestMarshalJSONFieldOrder(t *testing.T) {
	rec := &Record{ItemID: "A1", Title: "Widget"}
	rec.SetExtra("Material", "steel")
	rec.SetExtra("Assembled Size", "10 x 4 in")

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(data)

	// Every well-known key is present even when empty.
	for _, name := range WellKnownFields {
		if !strings.Contains(s, `"`+name+`"`) {
			t.Errorf("marshaled object missing key %q", name)
		}
	}

	// Extras follow the fixed fields in discovery order.
	iFixed := strings.Index(s, `"delivery_status"`)
	iMat := strings.Index(s, `"Material"`)
	iSize := strings.Index(s, `"Assembled Size"`)
	if !(iFixed < iMat && iMat < iSize) {
		t.Errorf("key order wrong: delivery_status@%d Material@%d Assembled Size@%d", iFixed, iMat, iSize)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	rec := &Record{
		ItemID: "A1",
		Title:  "Widget",
		Price:  "19.99",
	}
	rec.Images[0] = "https://img.example.test/a.jpg"
	rec.SetExtra("Material", "steel")
	rec.SetExtra("Includes", []string{"bolts", "manual"})
	rec.SetExtra("Dimensions", map[string]string{"width": "4", "height": "10"})

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got Record
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got.ItemID != rec.ItemID || got.Title != rec.Title || got.Price != rec.Price {
		t.Errorf("fixed fields = %q/%q/%q, want %q/%q/%q",
			got.ItemID, got.Title, got.Price, rec.ItemID, rec.Title, rec.Price)
	}
	if got.Images[0] != rec.Images[0] {
		t.Errorf("Images[0] = %q, want %q", got.Images[0], rec.Images[0])
	}
	if !reflect.DeepEqual(got.Extras, rec.Extras) {
		t.Errorf("Extras = %+v, want %+v", got.Extras, rec.Extras)
	}
}

func TestUnmarshalJSONRejectsNonObject(t *testing.T) {
	var rec Record
	if err := json.Unmarshal([]byte(`[1,2]`), &rec); err == nil {
		t.Error("Unmarshal() of array succeeded, want error")
	}
}
