package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fleetpulse/internal/auth"
	"fleetpulse/internal/metrics"
	"fleetpulse/internal/normalize"
)

type Handler struct {
	service *Service
	auth    *auth.Authenticator
	logger  *slog.Logger
	maxBody int64
}

func NewHandler(service *Service, authenticator *auth.Authenticator, maxBody int64, logger *slog.Logger) *Handler {
	if maxBody <= 0 {
		maxBody = 2 << 20
	}
	return &Handler{service: service, auth: authenticator, logger: logger, maxBody: maxBody}
}

// Routes mounts the device-facing endpoints. Every route runs behind the
// signature check.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth.Middleware)
		}
		r.Post("/api/telemetry", h.handleReading)
		r.Post("/api/telemetry/batch", h.handleBatch)
		r.Post("/api/telemetry/import", h.handleImport)
	})
}

type rowResult struct {
	Index   int    `json:"index"`
	Stored  bool   `json:"stored"`
	ID      string `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"error,omitempty"`
}

func (h *Handler) handleReading(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	fields, err := ParseJSONReading(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), start)
		return
	}
	reading, err := h.service.Ingest(r.Context(), fields, auth.EquipmentIDFromContext(r.Context()))
	observe("http", start)
	if err != nil {
		status, code := statusFor(err)
		var skip *FilterSkip
		if errors.As(err, &skip) {
			writeJSON(w, status, map[string]any{"stored": false, "code": code, "processingMs": elapsedMs(start)})
			return
		}
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "reading could not be stored"
		}
		writeError(w, status, code, msg, start)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"stored":       true,
		"reading":      reading,
		"processingMs": elapsedMs(start),
	})
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	rows, err := splitBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), start)
		return
	}
	authID := auth.EquipmentIDFromContext(r.Context())
	results := make([]rowResult, 0, len(rows))
	for i, raw := range rows {
		fields, err := ParseJSONReading(raw)
		if err != nil {
			results = append(results, rowResult{Index: i, Code: CodeValidation, Message: err.Error()})
			continue
		}
		results = append(results, h.ingestRow(r.Context(), i, fields, authID))
	}
	observe("http_batch", start)
	h.writeRows(w, results, start)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var req struct {
		CSVData string `json:"csvData"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.CSVData == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "csvData is required", start)
		return
	}
	rows, err := ParseCSV(req.CSVData)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), start)
		return
	}
	authID := auth.EquipmentIDFromContext(r.Context())
	results := make([]rowResult, 0, len(rows))
	for i, row := range rows {
		if row.Err != nil {
			results = append(results, rowResult{Index: i, Code: CodeValidation, Message: row.Err.Error()})
			continue
		}
		results = append(results, h.ingestRow(r.Context(), i, row.Fields, authID))
	}
	observe("http_import", start)
	h.writeRows(w, results, start)
}

func (h *Handler) ingestRow(ctx context.Context, i int, fields normalize.ReadingFields, authID string) rowResult {
	reading, err := h.service.Ingest(ctx, fields, authID)
	if err == nil {
		return rowResult{Index: i, Stored: true, ID: reading.ID, Status: string(reading.Status)}
	}
	_, code := statusFor(err)
	res := rowResult{Index: i, Code: code}
	var skip *FilterSkip
	if !errors.As(err, &skip) {
		res.Message = err.Error()
	}
	return res
}

func (h *Handler) writeRows(w http.ResponseWriter, results []rowResult, start time.Time) {
	accepted := 0
	for _, res := range results {
		if res.Stored {
			accepted++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":     accepted,
		"failed":       len(results) - accepted,
		"results":      results,
		"processingMs": elapsedMs(start),
	})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "request body could not be read", time.Now())
		return nil, false
	}
	if len(bytesTrim(body)) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidation, "request body is empty", time.Now())
		return nil, false
	}
	return body, true
}

func observe(source string, start time.Time) {
	metrics.IngestDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

func writeError(w http.ResponseWriter, status int, code, msg string, start time.Time) {
	writeJSON(w, status, map[string]any{"error": msg, "code": code, "processingMs": elapsedMs(start)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func bytesTrim(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\n' || b[start] == '\r' || b[start] == '\t') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\r' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}
