package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rotation/internal/charts"
	"rotation/internal/config"
	"rotation/internal/engine"
	"rotation/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChartReader serves published snapshots.
type ChartReader interface {
	Snapshot(ctx context.Context, chartType string, turnNumber int64) ([]game.ChartSnapshot, error)
	LatestSnapshotTurn(ctx context.Context, chartType string) (int64, error)
}

type Server struct {
	cfg     config.APIConfig
	log     *slog.Logger
	engine  *engine.Engine
	charts  ChartReader
	limiter *ipLimiter
	mux     *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, eng *engine.Engine, reader ChartReader) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		engine:  eng,
		charts:  reader,
		limiter: newIPLimiter(cfg.TriggerRPS, cfg.TriggerBurst),
		mux:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	// RealIP rewrites RemoteAddr from client-supplied headers, which would
	// let callers pick their own limiter bucket.
	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/turn", s.handleTurnStatus)
		r.Get("/charts", s.handleChartsList)
		r.Get("/charts/{type}", s.handleChart)
		r.Get("/charts/{type}/movement", s.handleMovement)

		r.Group(func(r chi.Router) {
			r.Use(s.tokenMiddleware)
			r.Use(s.limiter.middleware)
			r.Post("/turn/advance", s.handleAdvance)
		})
	})
}

// tokenMiddleware is a no-op when no API token is configured.
func (s *Server) tokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	out := s.engine.Advance(r.Context())
	if out.Status == engine.StatusError {
		s.log.Error("turn advance failed",
			"request_id", middleware.GetReqID(r.Context()),
			"err", out.Err,
		)
		writeJSON(w, http.StatusServiceUnavailable, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTurnStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleChartsList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"charts": s.engine.Catalog().Specs()})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	spec, turnNumber, err := s.resolveChart(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := s.charts.Snapshot(r.Context(), spec.Type, turnNumber)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if id, ok, err := subjectFilter(r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	} else if ok {
		rows = filterSnapshot(rows, id)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chart":       spec,
		"turn_number": turnNumber,
		"rows":        rows,
	})
}

func (s *Server) handleMovement(w http.ResponseWriter, r *http.Request) {
	spec, turnNumber, err := s.resolveChart(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	current, err := s.charts.Snapshot(r.Context(), spec.Type, turnNumber)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	previous := []game.ChartSnapshot{}
	if turnNumber > 0 {
		previous, err = s.charts.Snapshot(r.Context(), spec.Type, turnNumber-1)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}
	rows := charts.Movement(current, previous)
	if id, ok, err := subjectFilter(r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	} else if ok {
		filtered := rows[:0]
		for _, row := range rows {
			if row.SubjectID == id {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chart":         spec,
		"turn_number":   turnNumber,
		"previous_turn": turnNumber - 1,
		"rows":          rows,
	})
}

// resolveChart looks up the chart type and the requested turn, defaulting to
// the latest published turn.
func (s *Server) resolveChart(r *http.Request) (charts.Spec, int64, error) {
	spec, err := s.engine.Catalog().Lookup(chi.URLParam(r, "type"))
	if err != nil {
		return charts.Spec{}, 0, err
	}
	raw := strings.TrimSpace(r.URL.Query().Get("turn"))
	if raw == "" {
		latest, err := s.charts.LatestSnapshotTurn(r.Context(), spec.Type)
		if err != nil {
			return charts.Spec{}, 0, fmt.Errorf("chart %s has no snapshots yet: %w", spec.Type, err)
		}
		return spec, latest, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return charts.Spec{}, 0, fmt.Errorf("%w: turn must be a non-negative integer", errBadRequest)
	}
	return spec, n, nil
}

func subjectFilter(r *http.Request) (int64, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("subject"))
	if raw == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, fmt.Errorf("subject must be a positive id")
	}
	return id, true, nil
}

func filterSnapshot(rows []game.ChartSnapshot, subjectID int64) []game.ChartSnapshot {
	out := []game.ChartSnapshot{}
	for _, row := range rows {
		if row.SubjectID == subjectID {
			out = append(out, row)
		}
	}
	return out
}

var errBadRequest = errors.New("bad request")

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrInvalidChartType), errors.Is(err, game.ErrNotFound), errors.Is(err, game.ErrNoTurnRecord):
		writeError(w, http.StatusNotFound, err.Error())
	case game.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
