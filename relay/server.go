package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shelfgrab/shelfgrab/config"
	"github.com/shelfgrab/shelfgrab/export"
	"github.com/shelfgrab/shelfgrab/models"
	"github.com/shelfgrab/shelfgrab/store"
)

// LegacyTimestamp selects the newest stored batch and names the
// download with the legacy suffix.
const LegacyTimestamp = "legacy"

// NewRouter builds the relay server: the sheet pass-through proxy plus
// result browsing and CSV downloads backed by the result store.
func NewRouter(cfg *config.Config, st *store.Store) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	upstream := &http.Client{Timeout: cfg.RelayTimeout}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/sheet-proxy", sheetProxy(cfg, upstream))
	r.GET("/results", listResults(st))
	r.GET("/results/csv", downloadLatestCSV(cfg, st))
	r.GET("/results/:timestamp/csv", downloadCSV(cfg, st))

	return r
}

// sheetProxy forwards a JSON batch body to the spreadsheet endpoint.
// The only validation applied is "is valid JSON"; the payload schema is
// the upstream's problem.
func sheetProxy(cfg *config.Config, upstream *http.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}
		if !json.Valid(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be valid JSON"})
			return
		}
		if cfg.SheetsURL == "" {
			c.JSON(http.StatusBadGateway, gin.H{"error": "no spreadsheet endpoint configured"})
			return
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, cfg.SheetsURL, bytes.NewReader(body))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "error forwarding data"})
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := upstream.Do(req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "error forwarding data to spreadsheet backend"})
			return
		}
		defer resp.Body.Close()

		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.JSON(resp.StatusCode, gin.H{"error": "failed to forward data to spreadsheet backend"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":         "Data forwarded successfully",
			"sheetsResponse": string(text),
		})
	}
}

func listResults(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		timestamps := st.Timestamps()
		c.JSON(http.StatusOK, gin.H{
			"count":      len(timestamps),
			"timestamps": timestamps,
		})
	}
}

// downloadLatestCSV serves the newest stored batch under the legacy
// filename, for callers that do not track timestamps.
func downloadLatestCSV(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, latest, err := st.Latest()
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"status": "no stored results"})
			return
		}
		serveCSV(c, cfg.FilePrefix, "", latest)
	}
}

// downloadCSV renders a stored batch. The "legacy" timestamp refers to
// the most recent batch; an unknown timestamp yields a 404 and no file.
func downloadCSV(cfg *config.Config, st *store.Store) gin.HandlerFunc {
	latest := downloadLatestCSV(cfg, st)
	return func(c *gin.Context) {
		requested := c.Param("timestamp")

		if requested == LegacyTimestamp {
			latest(c)
			return
		}

		stored, err := st.Get(requested)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"status": fmt.Sprintf("no data found for timestamp: %s", requested),
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		serveCSV(c, cfg.FilePrefix, requested, stored)
	}
}

func serveCSV(c *gin.Context, prefix, timestamp string, batch models.Batch) {
	filename := export.Filename(prefix, timestamp)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", export.Render(batch))
}

// Serve serves the router until the listener fails.
func Serve(cfg *config.Config, st *store.Store) error {
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(cfg, st),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
