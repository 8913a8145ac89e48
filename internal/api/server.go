// Package api serves the HTTP surface: device ingest routes, the operator
// API, websocket events and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetpulse/internal/config"
	"fleetpulse/internal/metrics"
	"fleetpulse/internal/model"
	"fleetpulse/internal/realtime"
)

type AlertStore interface {
	ListAlertNotifications(ctx context.Context, limit int) ([]model.AlertNotification, error)
	AcknowledgeAlert(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
}

// QueueStats reports pending fan-out work per branch.
type QueueStats interface {
	Pending() map[string]int
}

type Server struct {
	cfg      *config.Manager
	store    AlertStore
	latest   *metrics.Store
	hub      *realtime.Hub
	queues   QueueStats
	onReload func(*config.Config)
	mounts   []func(chi.Router)
	logger   *slog.Logger
	version  string
	started  time.Time
}

// Options wires the server. Mounts add extra route groups, such as device
// ingest.
type Options struct {
	Config   *config.Manager
	Store    AlertStore
	Latest   *metrics.Store
	Hub      *realtime.Hub
	Queues   QueueStats
	OnReload func(*config.Config)
	Mounts   []func(chi.Router)
	Logger   *slog.Logger
	Version  string
}

func NewServer(opts Options) *Server {
	return &Server{
		cfg:      opts.Config,
		store:    opts.Store,
		latest:   opts.Latest,
		hub:      opts.Hub,
		queues:   opts.Queues,
		onReload: opts.OnReload,
		mounts:   opts.Mounts,
		logger:   opts.Logger,
		version:  opts.Version,
		started:  time.Now().UTC(),
	}
}

type statusResponse struct {
	Status     string         `json:"status"`
	Time       string         `json:"time"`
	Uptime     string         `json:"uptime"`
	Version    string         `json:"version"`
	ConfigPath string         `json:"config_path"`
	Settings   model.Settings `json:"settings"`
	Storage    string         `json:"storage"`
	Kafka      bool           `json:"kafka"`
	Redis      bool           `json:"redis"`
	Equipment  int            `json:"equipment_tracked"`
	Queues     map[string]int `json:"queues,omitempty"`
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		r.Get("/ws", realtime.ServeWS(s.hub, s.logger))
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/alerts", s.handleAlerts)
		r.Post("/alerts/{id}/acknowledge", s.handleAcknowledge)
		r.Get("/equipment/{id}/latest", s.handleLatest)
		r.Get("/events", s.handleEvents)
		r.Post("/admin/reload", s.handleReload)
		r.Post("/admin/clear", s.handleClear)
	})
	for _, mount := range s.mounts {
		mount(r)
	}
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) *http.Server {
	current := s.cfg.Get().HTTP
	httpServer := &http.Server{
		Addr:         current.Addr,
		Handler:      s.Router(),
		ReadTimeout:  current.ReadTimeout,
		WriteTimeout: current.WriteTimeout,
	}
	if s.logger != nil {
		s.logger.Info("http server listening", "addr", current.Addr)
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("http server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if s.logger != nil {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Settings:   cfg.Settings,
		Storage:    cfg.Storage.Driver,
		Kafka:      cfg.Kafka.Enabled,
		Redis:      cfg.Redis.Enabled,
	}
	if s.latest != nil {
		resp.Equipment = s.latest.Count()
	}
	if s.queues != nil {
		resp.Queues = s.queues.Pending()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Get().Alerts.RecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
			return
		}
		if n < limit || limit <= 0 {
			limit = n
		}
	}
	list, err := s.store.ListAlertNotifications(r.Context(), limit)
	if err != nil {
		s.internalError(w, "list alerts", err)
		return
	}
	if list == nil {
		list = []model.AlertNotification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.store.AcknowledgeAlert(r.Context(), id)
	if err != nil {
		s.internalError(w, "acknowledge alert", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "alert not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": id})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.latest == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	readings, updated, ok := s.latest.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no readings for equipment"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"equipment_id": id,
		"updated_at":   updated.Format(time.RFC3339Nano),
		"readings":     readings,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []realtime.Event{}, "count": 0})
		return
	}
	var list []realtime.Event
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.hub.History().Since(ts)
	} else {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list = s.hub.History().List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.cfg.Reload()
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("config reload failed", "err", err)
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if s.onReload != nil {
		s.onReload(cfg)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "settings": cfg.Settings})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.latest != nil {
		s.latest.Clear()
	}
	if s.hub != nil {
		s.hub.History().Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	if s.logger != nil {
		s.logger.Error(op, "err", err)
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
