package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/abelzeko/station-reducer/internal/config"
	"github.com/abelzeko/station-reducer/internal/repository"
	"github.com/abelzeko/station-reducer/internal/usecases"
)

const maxDocumentBytes = 10 << 20

// HTTPServer exposes reductions and run history over HTTP
type HTTPServer struct {
	useCase *usecases.ReductionUseCase
	cfg     config.HTTPConfig
	logger  *zap.Logger
}

// NewHTTPServer creates the HTTP API
func NewHTTPServer(useCase *usecases.ReductionUseCase, cfg config.HTTPConfig, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{useCase: useCase, cfg: cfg, logger: logger}
}

// Routes wires middlewares and endpoints
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Run-ID", "X-Fields-Failed"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		if s.cfg.JWTSecret != "" {
			api.Use(authMiddleware(s.cfg.JWTSecret))
		}
		api.Post("/reductions", s.handleReduce)
		api.Get("/runs", s.handleListRuns)
		api.Get("/runs/{runID}/fields/{fieldID}/groups", s.handleFieldGroups)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *HTTPServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// handleReduce reduces an uploaded field document and answers with the reduced document.
func (s *HTTPServer) handleReduce(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "http upload"
	}
	if sub := subjectFrom(r.Context()); sub != "" {
		source += " by " + sub
	}

	body := http.MaxBytesReader(w, r.Body, maxDocumentBytes)
	out, report, err := s.useCase.ReduceDocument(r.Context(), body, source)
	switch {
	case err == nil:
	case errors.Is(err, usecases.ErrSaveRun):
		s.logger.Error("Failed to store reduction", zap.Error(err))
		http.Error(w, "failed to store reduction", http.StatusInternalServerError)
		return
	case report == nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("X-Run-ID", report.RunID)
	w.Header().Set("X-Fields-Failed", strconv.Itoa(len(report.Failed())))
	_, _ = w.Write(out)
}

type runResponse struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	Fields    int       `json:"fields"`
	Stations  int       `json:"stations"`
	Groups    int       `json:"groups"`
}

type totalResponse struct {
	Sensor   string `json:"sensor"`
	Category string `json:"category"`
	Value    int64  `json:"value"`
}

type groupResponse struct {
	Position       int             `json:"position"`
	Representative string          `json:"representative"`
	Label          string          `json:"label"`
	Members        int             `json:"members"`
	Totals         []totalResponse `json:"totals"`
}

func (s *HTTPServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.useCase.ListRuns(limit)
	if err != nil {
		s.historyError(w, err)
		return
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runResponse(run))
	}
	writeJSON(w, resp)
}

func (s *HTTPServer) handleFieldGroups(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	fieldID := chi.URLParam(r, "fieldID")

	groups, err := s.useCase.FieldGroups(runID, fieldID)
	if err != nil {
		s.historyError(w, err)
		return
	}
	if len(groups) == 0 {
		http.Error(w, "no groups stored for this run and field", http.StatusNotFound)
		return
	}
	writeJSON(w, groupResponses(groups))
}

func groupResponses(groups []repository.StoredGroup) []groupResponse {
	resp := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		gr := groupResponse{
			Position:       g.Position,
			Representative: g.RepresentativeID,
			Label:          g.Label,
			Members:        g.Members,
			Totals:         make([]totalResponse, 0, len(g.Totals)),
		}
		for _, t := range g.Totals {
			gr.Totals = append(gr.Totals, totalResponse{Sensor: t.SensorID, Category: string(t.Category), Value: t.Value})
		}
		resp = append(resp, gr)
	}
	return resp
}

func (s *HTTPServer) historyError(w http.ResponseWriter, err error) {
	if errors.Is(err, usecases.ErrNoRepository) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.logger.Error("Run history query failed", zap.Error(err))
	http.Error(w, "db error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
