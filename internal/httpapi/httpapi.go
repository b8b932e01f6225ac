// Package httpapi implements the external query surface of spec §4.6
// (findSnapshot/findPrice/findPricesForSnapshot/findSnapshotsForPosition/
// findSnapshotHistory), the config CRUD collaborator of §6, a
// supplemented trade ingestion endpoint fronting the Ingestion
// Coordinator, and a supplemented live snapshot feed over WebSocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/positionledger/posengine/internal/ingest"
	"github.com/positionledger/posengine/internal/model"
	"github.com/positionledger/posengine/internal/store"
)

// DefaultMaxIngestBatch is the batch-size ceiling applied when no
// override is configured, matching spec §4.4's "up to a bounded
// maximum, e.g. 5,000".
const DefaultMaxIngestBatch = 5000

// Handlers holds the query surface's dependencies.
type Handlers struct {
	store          store.Store
	ingest         *ingest.Coordinator
	maxIngestBatch int
}

// NewHandlers creates the query-surface handlers. coordinator may be
// nil if this process only serves queries.
func NewHandlers(st store.Store, coordinator *ingest.Coordinator) *Handlers {
	return &Handlers{store: st, ingest: coordinator, maxIngestBatch: DefaultMaxIngestBatch}
}

// WithMaxIngestBatch overrides the batch-size ceiling enforced by
// IngestTrades. Values <= 0 are ignored.
func (h *Handlers) WithMaxIngestBatch(max int) *Handlers {
	if max > 0 {
		h.maxIngestBatch = max
	}
	return h
}

// IngestTrades handles POST /api/v1/trades: submits a batch of trades
// to the Ingestion Coordinator.
func (h *Handlers) IngestTrades(w http.ResponseWriter, r *http.Request) {
	if h.ingest == nil {
		writeError(w, "ingestion is not enabled on this process", http.StatusServiceUnavailable)
		return
	}
	var trades []model.Trade
	if err := json.NewDecoder(r.Body).Decode(&trades); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(trades) == 0 {
		writeError(w, "trades must be a non-empty array", http.StatusBadRequest)
		return
	}
	if len(trades) > h.maxIngestBatch {
		writeError(w, fmt.Sprintf("batch of %d trades exceeds the maximum of %d", len(trades), h.maxIngestBatch), http.StatusBadRequest)
		return
	}

	result, err := h.ingest.IngestBatch(r.Context(), trades)
	if err != nil {
		slog.Error("ingest batch failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// FindSnapshot handles GET /api/v1/positions/{positionKey}/snapshot.
func (h *Handlers) FindSnapshot(w http.ResponseWriter, r *http.Request) {
	positionKey := chi.URLParam(r, "positionKey")
	basis, err := parseBasis(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	businessDate, err := parseDate(r, "businessDate", true)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := h.store.FindSnapshot(r.Context(), positionKey, businessDate, basis)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if snap == nil {
		writeError(w, "snapshot not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// FindSnapshotsForPosition handles GET
// /api/v1/positions/{positionKey}/snapshots, with optional ?from=&to=
// bounds.
func (h *Handlers) FindSnapshotsForPosition(w http.ResponseWriter, r *http.Request) {
	positionKey := chi.URLParam(r, "positionKey")
	basis, err := parseBasis(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, err := parseOptionalDate(r, "from")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseOptionalDate(r, "to")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	snaps, err := h.store.FindSnapshotsForPosition(r.Context(), positionKey, basis, from, to)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if snaps == nil {
		snaps = []model.PositionSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// FindSnapshotHistory handles GET
// /api/v1/positions/{positionKey}/history.
func (h *Handlers) FindSnapshotHistory(w http.ResponseWriter, r *http.Request) {
	positionKey := chi.URLParam(r, "positionKey")
	basis, err := parseBasis(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	businessDate, err := parseDate(r, "businessDate", true)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	history, err := h.store.FindSnapshotHistory(r.Context(), positionKey, businessDate, basis)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if history == nil {
		history = []model.PositionSnapshotHistory{}
	}
	writeJSON(w, http.StatusOK, history)
}

// FindPrice handles GET /api/v1/positions/{positionKey}/price, with a
// required ?method= query parameter.
func (h *Handlers) FindPrice(w http.ResponseWriter, r *http.Request) {
	positionKey := chi.URLParam(r, "positionKey")
	basis, err := parseBasis(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	businessDate, err := parseDate(r, "businessDate", true)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	method := model.PriceMethod(r.URL.Query().Get("method"))
	if !method.Valid() {
		writeError(w, "method must be a valid priceMethod", http.StatusBadRequest)
		return
	}

	price, err := h.store.FindPrice(r.Context(), positionKey, businessDate, method, basis)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if price == nil {
		writeError(w, "price not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

// FindPricesForSnapshot handles GET
// /api/v1/positions/{positionKey}/prices.
func (h *Handlers) FindPricesForSnapshot(w http.ResponseWriter, r *http.Request) {
	positionKey := chi.URLParam(r, "positionKey")
	basis, err := parseBasis(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	businessDate, err := parseDate(r, "businessDate", true)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	prices, err := h.store.FindPricesForSnapshot(r.Context(), positionKey, businessDate, basis)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if prices == nil {
		prices = []model.PositionAveragePrice{}
	}
	writeJSON(w, http.StatusOK, prices)
}

// --- Config CRUD (§6) ---

// FindAllConfigs handles GET /api/v1/configs.
func (h *Handlers) FindAllConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.FindAllConfigs(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if configs == nil {
		configs = []model.PositionConfig{}
	}
	writeJSON(w, http.StatusOK, configs)
}

// FindActiveConfigs handles GET /api/v1/configs/active.
func (h *Handlers) FindActiveConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.FindActiveConfigs(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if configs == nil {
		configs = []model.PositionConfig{}
	}
	writeJSON(w, http.StatusOK, configs)
}

// FindConfigByID handles GET /api/v1/configs/{configID}.
func (h *Handlers) FindConfigByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseConfigID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	config, err := h.store.FindConfigByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if config == nil {
		writeError(w, "config not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, config)
}

// CreateConfig handles POST /api/v1/configs.
func (h *Handlers) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var config model.PositionConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !config.Type.Valid() || !config.KeyFormat.Valid() {
		writeError(w, "invalid configType or keyFormat", http.StatusBadRequest)
		return
	}
	for _, m := range config.PriceMethods {
		if !m.Valid() {
			writeError(w, "invalid priceMethod: "+string(m), http.StatusBadRequest)
			return
		}
	}
	config.CreatedAt = time.Now().UTC()
	config.UpdatedAt = config.CreatedAt

	if err := h.store.CreateConfig(r.Context(), &config); err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Info("config created", "config_id", config.ConfigID, "name", config.Name, "type", config.Type)
	writeJSON(w, http.StatusCreated, config)
}

// UpdateConfig handles PUT /api/v1/configs/{configID}.
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, err := parseConfigID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var config model.PositionConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	config.ConfigID = id
	config.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateConfig(r.Context(), &config); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, config)
}

// DeactivateConfig handles DELETE /api/v1/configs/{configID}.
func (h *Handlers) DeactivateConfig(w http.ResponseWriter, r *http.Request) {
	id, err := parseConfigID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.DeactivateConfig(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func parseBasis(r *http.Request) (model.DateBasis, error) {
	raw := r.URL.Query().Get("dateBasis")
	if raw == "" {
		return model.TradeDate, nil
	}
	basis := model.DateBasis(raw)
	if !basis.Valid() {
		return "", errors.New("dateBasis must be TRADE_DATE or SETTLEMENT_DATE")
	}
	return basis, nil
}

func parseDate(r *http.Request, param string, required bool) (time.Time, error) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		if required {
			return time.Time{}, errors.New(param + " is required")
		}
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.New(param + " must be an ISO date (YYYY-MM-DD)")
	}
	return t.UTC(), nil
}

func parseOptionalDate(r *http.Request, param string) (*time.Time, error) {
	t, err := parseDate(r, param, false)
	if err != nil {
		return nil, err
	}
	if t.IsZero() {
		return nil, nil
	}
	return &t, nil
}

func parseConfigID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "configID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New("configID must be an integer")
	}
	return id, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrConstraintViolation):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("query surface store error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
