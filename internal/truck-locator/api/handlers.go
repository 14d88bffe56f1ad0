package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Aji945/shopee-taken/internal/annotate"
	"github.com/Aji945/shopee-taken/internal/database"
	"github.com/Aji945/shopee-taken/internal/manifest"
	"github.com/Aji945/shopee-taken/internal/models"
	"github.com/Aji945/shopee-taken/internal/sheetstore"
	"github.com/Aji945/shopee-taken/internal/truck-locator/events"
	"github.com/Aji945/shopee-taken/internal/truck-locator/scan"
)

type Handlers struct {
	store       *sheetstore.Client
	scans       *database.ScanRepository
	extractor   *manifest.Extractor
	placeholder string
	sheetID     string
	logger      *slog.Logger
}

func NewHandlers(store *sheetstore.Client, scans *database.ScanRepository, extractor *manifest.Extractor, placeholder, sheetID string, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:       store,
		scans:       scans,
		extractor:   extractor,
		placeholder: placeholder,
		sheetID:     sheetID,
		logger:      logger,
	}
}

// ScanRequest carries the manifest HTML to annotate
type ScanRequest struct {
	HTML    string `json:"html"`
	SheetID string `json:"sheet_id"`
}

// ScanItem is one resolved product row in the response
type ScanItem struct {
	ProductName string `json:"product_name"`
	OptionName  string `json:"option_name,omitempty"`
	Quantity    string `json:"quantity,omitempty"`
	Matched     bool   `json:"matched"`
	Location    string `json:"location,omitempty"`
}

// ScanResponse is the result of annotating a manifest
type ScanResponse struct {
	ScanID        string     `json:"scan_id"`
	Total         int        `json:"total"`
	Found         int        `json:"found"`
	NotFound      int        `json:"not_found"`
	ScannedAt     time.Time  `json:"scanned_at"`
	Items         []ScanItem `json:"items"`
	AnnotatedHTML string     `json:"annotated_html"`
}

// ScanManifest annotates a submitted manifest page with truck locations
func (h *Handlers) ScanManifest(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.HTML == "" {
		h.respondError(w, http.StatusBadRequest, "html is required")
		return
	}
	sheetID := req.SheetID
	if sheetID == "" {
		sheetID = h.sheetID
	}

	source, err := scan.NewStaticSource(req.HTML)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "could not parse html")
		return
	}

	annotator := annotate.New(h.placeholder, h.logger)
	session := scan.NewSession(scan.Config{SheetID: sheetID}, source, h.store, h.extractor, annotator, h.logger)
	defer session.Close()

	var items []ScanItem
	session.SetPassHook(func(_ models.ScanSummary, records []*models.ProductRecord) {
		for _, rec := range records {
			items = append(items, ScanItem{
				ProductName: rec.ProductName,
				OptionName:  rec.OptionName,
				Quantity:    rec.Quantity,
				Matched:     rec.State == models.MatchFound,
				Location:    rec.Location,
			})
		}
	})

	if err := session.ForceScan(r.Context()); err != nil {
		h.logger.Error("scan failed", "error", err, "sheet_id", sheetID)
		status := http.StatusBadGateway
		if errors.Is(err, manifest.ErrNoRows) {
			status = http.StatusUnprocessableEntity
		}
		h.respondError(w, status, err.Error())
		return
	}

	annotated, err := session.AnnotatedHTML()
	if err != nil {
		h.logger.Error("failed to render annotated html", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to render annotated html")
		return
	}

	summary := session.Summary()
	record := &database.ScanRecord{
		ID:        uuid.New(),
		SheetID:   sheetID,
		Total:     summary.Total,
		Found:     summary.Found,
		NotFound:  summary.NotFound,
		ScannedAt: summary.ScannedAt,
	}
	for _, item := range items {
		record.Items = append(record.Items, database.ScanItem{
			ProductName: item.ProductName,
			OptionName:  item.OptionName,
			Quantity:    item.Quantity,
			Matched:     item.Matched,
			Location:    item.Location,
		})
	}

	if h.scans != nil {
		event, err := events.ScanCompletedEvent(&events.ScanCompletedPayload{
			ScanID:   record.ID.String(),
			SheetID:  sheetID,
			Total:    summary.Total,
			Found:    summary.Found,
			NotFound: summary.NotFound,
		})
		if err != nil {
			h.logger.Error("failed to build scan event", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to record scan")
			return
		}
		if err := h.scans.SaveScan(r.Context(), record, event); err != nil {
			h.logger.Error("failed to save scan", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to record scan")
			return
		}
	}

	h.respondJSON(w, http.StatusOK, ScanResponse{
		ScanID:        record.ID.String(),
		Total:         summary.Total,
		Found:         summary.Found,
		NotFound:      summary.NotFound,
		ScannedAt:     summary.ScannedAt,
		Items:         items,
		AnnotatedHTML: annotated,
	})
}

// ListScans returns recent scan history
func (h *Handlers) ListScans(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		h.respondError(w, http.StatusServiceUnavailable, "scan history is not configured")
		return
	}

	scans, err := h.scans.RecentScans(r.Context())
	if err != nil {
		h.logger.Error("failed to list scans", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list scans")
		return
	}

	h.respondJSON(w, http.StatusOK, scans)
}

// GetScan returns a single scan with its items
func (h *Handlers) GetScan(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		h.respondError(w, http.StatusServiceUnavailable, "scan history is not configured")
		return
	}

	idParam := chi.URLParam(r, "scanID")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid scan ID")
		return
	}

	scanRecord, err := h.scans.GetScan(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get scan", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get scan")
		return
	}
	if scanRecord == nil {
		h.respondError(w, http.StatusNotFound, "scan not found")
		return
	}

	h.respondJSON(w, http.StatusOK, scanRecord)
}

// GetStats returns aggregate match statistics
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		h.respondError(w, http.StatusServiceUnavailable, "scan history is not configured")
		return
	}

	stats, err := h.scans.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// UpdateRequest targets a sheet row by its product/spec key
type UpdateRequest struct {
	SheetID     string `json:"sheet_id"`
	ProductName string `json:"product_name"`
	SpecName    string `json:"spec_name"`
	Column      string `json:"column"`
	Value       string `json:"value"`
}

// UpdateResponse reports which sheet row was written
type UpdateResponse struct {
	UpdatedRow int `json:"updated_row"`
}

// UpdateLocation writes a single cell on the sheet row matching the key
func (h *Handlers) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductName == "" {
		h.respondError(w, http.StatusBadRequest, "product_name is required")
		return
	}
	if req.Column == "" {
		h.respondError(w, http.StatusBadRequest, "column is required")
		return
	}

	row, err := h.store.UpdateCell(r.Context(), h.resolveSheet(req.SheetID), req.ProductName, req.SpecName, req.Column, req.Value)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, UpdateResponse{UpdatedRow: row})
}

// ClearRequest targets a sheet row whose tracked cells should be emptied
type ClearRequest struct {
	SheetID     string `json:"sheet_id"`
	ProductName string `json:"product_name"`
	SpecName    string `json:"spec_name"`
}

// ClearResponse reports which sheet row was cleared
type ClearResponse struct {
	ClearedRow int `json:"cleared_row"`
}

// ClearLocation empties the tracked cells on the sheet row matching the key
func (h *Handlers) ClearLocation(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductName == "" {
		h.respondError(w, http.StatusBadRequest, "product_name is required")
		return
	}

	row, err := h.store.ClearCells(r.Context(), h.resolveSheet(req.SheetID), req.ProductName, req.SpecName)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, ClearResponse{ClearedRow: row})
}

// BatchUpdateRequest writes several columns of one sheet row at once
type BatchUpdateRequest struct {
	SheetID     string            `json:"sheet_id"`
	ProductName string            `json:"product_name"`
	SpecName    string            `json:"spec_name"`
	Updates     map[string]string `json:"updates"`
}

// BatchUpdateResponse reports the sheet rows that were written
type BatchUpdateResponse struct {
	UpdatedRows []int `json:"updated_rows"`
}

// BatchUpdate writes multiple cells on the sheet row matching the key
func (h *Handlers) BatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req BatchUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductName == "" {
		h.respondError(w, http.StatusBadRequest, "product_name is required")
		return
	}
	if len(req.Updates) == 0 {
		h.respondError(w, http.StatusBadRequest, "updates is required")
		return
	}

	rows, err := h.store.BatchUpdate(r.Context(), h.resolveSheet(req.SheetID), req.ProductName, req.SpecName, req.Updates)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, BatchUpdateResponse{UpdatedRows: rows})
}

func (h *Handlers) resolveSheet(sheetID string) string {
	if sheetID != "" {
		return sheetID
	}
	return h.sheetID
}

func (h *Handlers) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sheetstore.ErrRowNotFound):
		h.respondError(w, http.StatusNotFound, "no sheet row matches the product/spec key")
	case errors.Is(err, sheetstore.ErrTimeout):
		h.respondError(w, http.StatusGatewayTimeout, "store request timed out")
	default:
		h.logger.Error("store request failed", "error", err)
		h.respondError(w, http.StatusBadGateway, "store request failed")
	}
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
