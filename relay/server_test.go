package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/shelfgrab/shelfgrab/config"
	"github.com/shelfgrab/shelfgrab/models"
	"github.com/shelfgrab/shelfgrab/store"
)

func testServerConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = gin.TestMode
	return cfg
}

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New("")
	rec := &models.Record{ItemID: "A1", Title: "Widget"}
	rec.SetExtra("Material", "steel")
	if err := st.Put("2026-01-01T10-00-00-000Z", models.Batch{rec}); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	if err := st.Put("2026-02-01T10-00-00-000Z", models.Batch{{ItemID: "B2"}}); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	return st
}

func TestHealthz(t *testing.T) {
	router := NewRouter(testServerConfig(), store.New(""))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestSheetProxyForwards(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("rows appended"))
	}))
	defer upstream.Close()

	cfg := testServerConfig()
	cfg.SheetsURL = upstream.URL
	router := NewRouter(cfg, store.New(""))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sheet-proxy", strings.NewReader(`[{"item_id":"A1"}]`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "Data forwarded successfully" || resp["sheetsResponse"] != "rows appended" {
		t.Errorf("response = %v", resp)
	}
}

func TestSheetProxyRejectsInvalidJSON(t *testing.T) {
	router := NewRouter(testServerConfig(), store.New(""))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sheet-proxy", strings.NewReader("not json"))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSheetProxyNoUpstreamConfigured(t *testing.T) {
	router := NewRouter(testServerConfig(), store.New(""))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sheet-proxy", strings.NewReader(`{}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestSheetProxyUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer upstream.Close()

	cfg := testServerConfig()
	cfg.SheetsURL = upstream.URL
	router := NewRouter(cfg, store.New(""))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sheet-proxy", strings.NewReader(`{}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want the upstream's 403", w.Code)
	}
	if !strings.Contains(w.Body.String(), "failed to forward") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListResults(t *testing.T) {
	router := NewRouter(testServerConfig(), seedStore(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/results", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Count      int      `json:"count"`
		Timestamps []string `json:"timestamps"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 2 || len(resp.Timestamps) != 2 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Timestamps[0] != "2026-01-01T10-00-00-000Z" {
		t.Errorf("timestamps not sorted oldest first: %v", resp.Timestamps)
	}
}

func TestDownloadCSV(t *testing.T) {
	router := NewRouter(testServerConfig(), seedStore(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/results/2026-01-01T10-00-00-000Z/csv", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "product_data_2026-01-01T10-00-00-000Z.csv") {
		t.Errorf("Content-Disposition = %q", got)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"item_id"`) || !strings.Contains(body, `"A1"`) {
		t.Errorf("csv body = %q", body)
	}
	if !strings.Contains(body, `"Material"`) {
		t.Errorf("dynamic column missing from %q", body)
	}
}

func TestDownloadCSVLegacy(t *testing.T) {
	router := NewRouter(testServerConfig(), seedStore(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/results/legacy/csv", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "product_data_legacy.csv") {
		t.Errorf("Content-Disposition = %q", got)
	}
	// The legacy download serves the newest batch.
	if !strings.Contains(w.Body.String(), `"B2"`) {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestDownloadCSVLatestRoute(t *testing.T) {
	router := NewRouter(testServerConfig(), seedStore(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/results/csv", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "product_data_legacy.csv") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !strings.Contains(w.Body.String(), `"B2"`) {
		t.Errorf("body = %q, want the newest batch", w.Body.String())
	}
}

func TestDownloadCSVUnknownTimestamp(t *testing.T) {
	router := NewRouter(testServerConfig(), seedStore(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/results/2031-01-01T00-00-00-000Z/csv", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no data found for timestamp") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestDownloadCSVLegacyEmptyStore(t *testing.T) {
	router := NewRouter(testServerConfig(), store.New(""))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/results/legacy/csv", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
