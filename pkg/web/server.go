// Package web serves the dashboard API: live signal snapshots, closed
// signal history, per-source statistics and a server-sent event stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/igolaizola/zelatari/pkg/state"
	"github.com/igolaizola/zelatari/pkg/track"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// perPage is the history page size.
const perPage = 50

// statsWindow is how far back the stats endpoint aggregates.
const statsWindow = 7 * 24 * time.Hour

// Config tunes the server.
type Config struct {
	// Addr is the listen address.
	Addr string
	// Origins are the allowed CORS origins. Empty allows any.
	Origins []string
	// StaleAfter is how long a signal snapshot may go without updates
	// before the data endpoint stops reporting it.
	StaleAfter time.Duration
	// StreamInterval is the event stream snapshot cadence.
	StreamInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Hour
	}
	if c.StreamInterval <= 0 {
		c.StreamInterval = 5 * time.Second
	}
	return c
}

type Server struct {
	cfg     Config
	view    *state.Store
	history track.Store
	log     *logrus.Entry
}

func New(cfg Config, view *state.Store, history track.Store, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		cfg:     cfg.withDefaults(),
		view:    view,
		history: history,
		log:     log,
	}
}

// Handler builds the routed and CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/data", s.getData).Methods("GET")
	api.HandleFunc("/history", s.getHistory).Methods("GET")
	api.HandleFunc("/stats", s.getStats).Methods("GET")
	api.HandleFunc("/health", s.getHealth).Methods("GET")
	api.HandleFunc("/stream", s.streamData).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.Origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         3600,
	})
	return c.Handler(router)
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}
	errC := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()
	s.log.WithField("addr", s.cfg.Addr).Info("web: serving dashboard api")

	select {
	case err := <-errC:
		return fmt.Errorf("web: couldn't serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: couldn't shut down: %w", err)
	}
	return nil
}

type dataPayload struct {
	ActiveSignals map[string]state.SignalView `json:"active_signals"`
	PriceUpdates  map[string]state.PriceView  `json:"price_updates"`
	Count         int                         `json:"count"`
	LastUpdate    time.Time                   `json:"last_update"`
}

func (s *Server) data() dataPayload {
	signals := s.view.Signals()
	return dataPayload{
		ActiveSignals: signals,
		PriceUpdates:  s.view.Prices(),
		Count:         len(signals),
		LastUpdate:    s.view.LastUpdate(),
	}
}

func (s *Server) getData(w http.ResponseWriter, r *http.Request) {
	s.view.Sweep(s.cfg.StaleAfter)
	writeJSON(w, s.data())
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.history.List(time.Time{}, time.Now())
	if err != nil {
		s.log.WithError(err).Error("web: couldn't read history")
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	source := r.URL.Query().Get("source")
	status := r.URL.Query().Get("status")
	filtered := make([]*track.Record, 0, len(recs))
	for _, rec := range recs {
		if source != "" && rec.Source != source {
			continue
		}
		switch status {
		case "", "all":
		case "completed":
			if rec.CloseReason != track.ReasonAllTargets {
				continue
			}
		case "stopped":
			if rec.CloseReason != track.ReasonStopLoss {
				continue
			}
		default:
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
		filtered = append(filtered, rec)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CloseTime.After(filtered[j].CloseTime)
	})

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil || v < 1 {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		page = v
	}
	start := (page - 1) * perPage
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + perPage
	if end > len(filtered) {
		end = len(filtered)
	}

	writeJSON(w, struct {
		History    []*track.Record `json:"history"`
		TotalCount int             `json:"total_count"`
		Page       int             `json:"page"`
		PerPage    int             `json:"per_page"`
	}{filtered[start:end], len(filtered), page, perPage})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	recs, err := s.history.List(now.Add(-statsWindow), now)
	if err != nil {
		s.log.WithError(err).Error("web: couldn't read history")
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	reasons := map[string]int{}
	for _, rec := range recs {
		reasons[string(rec.CloseReason)]++
	}
	writeJSON(w, struct {
		Sources       map[string]*track.SourceStats `json:"sources"`
		CloseReasons  map[string]int                `json:"close_reasons"`
		TotalTrades   int                           `json:"total_trades"`
		ActiveSignals int                           `json:"active_signals"`
		LastUpdate    time.Time                     `json:"last_update"`
	}{track.Summarize(recs), reasons, len(recs), s.view.Len(), s.view.LastUpdate()})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Status        string    `json:"status"`
		ActiveSignals int       `json:"active_signals"`
		LastUpdate    time.Time `json:"last_update"`
		Timestamp     time.Time `json:"timestamp"`
	}{"ok", s.view.Len(), s.view.LastUpdate(), time.Now()})
}

func (s *Server) streamData(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(s.data())
			if err != nil {
				s.log.WithError(err).Error("web: couldn't encode snapshot")
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
