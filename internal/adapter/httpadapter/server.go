package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/pipeline"
)

// Server exposes the import endpoint alongside health, readiness, and
// metrics endpoints.
type Server struct {
	httpServer *http.Server
	importer   pipeline.Importer
	maxPayload int64
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// POST /import/{kind}/{name} routes. Request bodies over maxPayload bytes are
// rejected with 413.
func NewServer(addr string, ready sharedobs.ReadinessChecker, importer pipeline.Importer, maxPayload int64, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		importer:   importer,
		maxPayload: maxPayload,
		logger:     logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /import/{kind}/{name}", s.handleImport)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type errorBody struct {
	Error string             `json:"error"`
	Kind  domain.FailureKind `json:"kind"`
}

// handleImport imports the request body as the import type named by the
// path. Query parameters become parser options.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	importType := domain.ImportType(r.PathValue("kind") + "/" + r.PathValue("name"))

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxPayload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sharedobs.WriteJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Error: fmt.Sprintf("payload exceeds %d bytes", tooLarge.Limit),
				Kind:  domain.KindFatal,
			})
			return
		}
		sharedobs.WriteJSON(w, http.StatusBadRequest, errorBody{Error: "read body: " + err.Error(), Kind: domain.KindFatal})
		return
	}

	meta := format.RequestMeta{Header: r.Header.Clone(), Options: map[string]string{}}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			meta.Options[k] = v[0]
		}
	}

	res, err := s.importer.Import(r.Context(), importType, payload, meta)
	if err != nil {
		s.writeImportError(w, importType, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) writeImportError(w http.ResponseWriter, importType domain.ImportType, err error) {
	var fatal *domain.FatalError
	switch {
	case errors.As(err, &fatal):
		sharedobs.WriteJSON(w, fatal.Status, errorBody{Error: fatal.Message, Kind: domain.KindFatal})
	case errors.Is(err, pipeline.ErrLoadScores):
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Kind: domain.KindInternal})
	default:
		s.logger.Error("import failed", "error", err, "import_type", importType)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Kind: domain.KindInternal})
	}
}
