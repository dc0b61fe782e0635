package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/cardvault/internal/backup"
	"github.com/hyperengineering/cardvault/internal/collection"
	"github.com/hyperengineering/cardvault/internal/types"
	"github.com/hyperengineering/cardvault/internal/validation"
)

// Opener yields the open collection handle.
type Opener interface {
	Open(ctx context.Context) (*collection.Handle, error)
}

// BackupLinker hands out download links for offsite backups.
type BackupLinker interface {
	LatestURL(ctx context.Context) (string, time.Time, error)
}

// Handler implements the API handlers
type Handler struct {
	catalog Opener
	backups BackupLinker
	apiKey  string
	version string
}

// NewHandler creates a new Handler. backups may be nil.
func NewHandler(catalog Opener, backups BackupLinker, apiKey, version string) *Handler {
	return &Handler{
		catalog: catalog,
		backups: backups,
		apiKey:  apiKey,
		version: version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Health reports the catalog state. A catalog that has never been imported
// is reported as unavailable with 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{Version: h.version}

	handle, err := h.catalog.Open(r.Context())
	if err != nil {
		if !collection.IsUnavailable(err) {
			MapStoreError(w, r, err)
			return
		}
		resp.Status = "unavailable"
		resp.NeedsImport = true
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	info, err := handle.Info(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	resp.Status = "healthy"
	resp.SchemaVersion = info.SchemaVersion
	resp.CatalogItems = info.CatalogItems
	resp.NeedsImport = info.NeedsImport
	writeJSON(w, http.StatusOK, resp)
}

// GlobalStats handles GET /api/v1/stats
func (h *Handler) GlobalStats(w http.ResponseWriter, r *http.Request) {
	handle := MustHandleFromContext(r.Context())

	body, err := handle.Stats.GlobalJSON(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int(handle.Stats.TTL().Seconds())))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

type setSummaryResponse struct {
	types.PartitionSummary
	Completion float64 `json:"completion"`
}

// ListSets handles GET /api/v1/sets
func (h *Handler) ListSets(w http.ResponseWriter, r *http.Request) {
	handle := MustHandleFromContext(r.Context())

	q := r.URL.Query()
	sort := types.ParsePartitionSort(q.Get("sort"))
	desc := strings.EqualFold(q.Get("order"), "desc")

	summaries, err := handle.Store.ListPartitions(r.Context(), sort, desc)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	resp := make([]setSummaryResponse, 0, len(summaries))
	for i := range summaries {
		resp = append(resp, setSummaryResponse{
			PartitionSummary: summaries[i],
			Completion:       summaries[i].Completion(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetStats handles GET /api/v1/sets/{set}/stats
func (h *Handler) SetStats(w http.ResponseWriter, r *http.Request) {
	handle := MustHandleFromContext(r.Context())
	set := chi.URLParam(r, "set")

	var v validation.Collector
	validation.ValidateText(&v, "set", set, validation.MaxPartitionLength)
	if v.HasErrors() {
		WriteProblemWithErrors(w, r, "Invalid set name", v.Errors())
		return
	}

	view, err := handle.Stats.Partition(r.Context(), set)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListSetCards handles GET /api/v1/sets/{set}/cards
func (h *Handler) ListSetCards(w http.ResponseWriter, r *http.Request) {
	handle := MustHandleFromContext(r.Context())
	set := chi.URLParam(r, "set")
	q := r.URL.Query()

	search, rarity, owned := q.Get("search"), strings.ToLower(q.Get("rarity")), strings.ToLower(q.Get("owned"))

	var v validation.Collector
	validation.ValidateText(&v, "set", set, validation.MaxPartitionLength)
	validation.ValidateListFilter(&v, search, rarity, owned)
	if v.HasErrors() {
		WriteProblemWithErrors(w, r, "Invalid listing filter", v.Errors())
		return
	}

	items, err := handle.Store.ListPartition(r.Context(), set, types.ListFilter{
		Search:    search,
		Rarity:    types.Rarity(rarity),
		Ownership: types.Ownership(owned),
	})
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	if items == nil {
		items = []types.CatalogItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// GetCard handles GET /api/v1/cards/{id}
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	handle := MustHandleFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var v validation.Collector
	validation.ValidateExternalID(&v, id)
	if v.HasErrors() {
		WriteProblemWithErrors(w, r, "Invalid card id", v.Errors())
		return
	}

	item, err := handle.Store.GetItem(r.Context(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateCard handles PUT /api/v1/cards/{id}. Absent quantities are written
// as zero.
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	handle := MustHandleFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req types.UpdateQuantitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	var v validation.Collector
	validation.ValidateExternalID(&v, id)
	validation.ValidateUpdateQuantities(&v, &req)
	if v.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", v.Errors())
		return
	}

	var normal, foil int
	if req.Quantity != nil {
		normal = *req.Quantity
	}
	if req.FoilQuantity != nil {
		foil = *req.FoilQuantity
	}

	item, err := handle.Store.UpdateQuantities(r.Context(), id, normal, foil)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	slog.Info("quantities updated",
		"component", "api",
		"action", "update_quantities",
		"card_id", id,
		"quantity", normal,
		"foil_quantity", foil,
	)
	writeJSON(w, http.StatusOK, item)
}

type backupLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LatestBackup handles GET /api/v1/backups/latest
func (h *Handler) LatestBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		WriteProblem(w, r, http.StatusNotFound, "Offsite backups are not configured")
		return
	}

	url, expires, err := h.backups.LatestURL(r.Context())
	if errors.Is(err, backup.ErrNotConfigured) {
		WriteProblem(w, r, http.StatusNotFound, "Offsite backups are not configured")
		return
	}
	if err != nil {
		slog.Error("presign backup url failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Backup storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, backupLinkResponse{URL: url, ExpiresAt: expires})
}
