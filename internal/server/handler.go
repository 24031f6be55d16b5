// Package server exposes the query engine over HTTP.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/kyleking/bb-biodiversity/internal/errors"
	"github.com/kyleking/bb-biodiversity/internal/logging"
	"github.com/kyleking/bb-biodiversity/internal/query"
)

//go:embed templates/index.html
var templateFS embed.FS

// Engine is the read side the handlers need. *query.Engine satisfies it.
type Engine interface {
	Ping(ctx context.Context) error
	SampleNames(ctx context.Context) ([]string, error)
	OTUDescriptions(ctx context.Context) ([]*string, error)
	Metadata(ctx context.Context, label string) (*query.SampleMetadata, error)
	WashingFrequency(ctx context.Context, label string) (*int64, error)
	SampleAbundance(ctx context.Context, column string) (*query.Abundance, error)
}

// Handler serves the dataset routes.
type Handler struct {
	engine Engine
	mux    *http.ServeMux
	index  *template.Template
	log    *logging.Logger
}

// New creates the HTTP handler for engine, wrapped in request-id, access log
// and panic recovery middleware.
func New(engine Engine, logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.GetLogger()
	}

	h := &Handler{
		engine: engine,
		mux:    http.NewServeMux(),
		index:  template.Must(template.ParseFS(templateFS, "templates/index.html")),
		log:    logger.WithField("component", "server"),
	}

	h.mux.HandleFunc("GET /{$}", h.home)
	h.mux.HandleFunc("GET /names", h.names)
	h.mux.HandleFunc("GET /otu", h.otu)
	h.mux.HandleFunc("GET /metadata/{sample}", h.metadata)
	h.mux.HandleFunc("GET /wfreq/{sample}", h.wfreq)
	h.mux.HandleFunc("GET /samples/{sample}", h.samples)
	h.mux.HandleFunc("GET /healthz", h.healthz)

	return withRequestID(withAccessLog(withRecovery(h.mux, h.log), h.log))
}

// home renders the dashboard page.
func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	names, err := h.engine.SampleNames(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.index.Execute(w, struct{ Names []string }{names}); err != nil {
		requestLogger(r.Context(), h.log).ErrorWithErr("failed to render index page", err)
	}
}

// names returns GET /names, the sample column names in schema order.
func (h *Handler) names(w http.ResponseWriter, r *http.Request) {
	names, err := h.engine.SampleNames(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	jsonResp(w, http.StatusOK, names)
}

// otu returns GET /otu, every OTU description in storage order.
func (h *Handler) otu(w http.ResponseWriter, r *http.Request) {
	descs, err := h.engine.OTUDescriptions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	jsonResp(w, http.StatusOK, descs)
}

// metadata returns GET /metadata/{sample}.
func (h *Handler) metadata(w http.ResponseWriter, r *http.Request) {
	md, err := h.engine.Metadata(r.Context(), r.PathValue("sample"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	jsonResp(w, http.StatusOK, md)
}

// wfreq returns GET /wfreq/{sample} as a bare JSON number, or null.
func (h *Handler) wfreq(w http.ResponseWriter, r *http.Request) {
	wfreq, err := h.engine.WashingFrequency(r.Context(), r.PathValue("sample"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	jsonResp(w, http.StatusOK, wfreq)
}

// samples returns GET /samples/{sample}. The abundance object is wrapped in a
// one-element list.
func (h *Handler) samples(w http.ResponseWriter, r *http.Request) {
	abundance, err := h.engine.SampleAbundance(r.Context(), r.PathValue("sample"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	jsonResp(w, http.StatusOK, []*query.Abundance{abundance})
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Samples int    `json:"samples"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		requestLogger(r.Context(), h.log).WithError(err).Warn("health check failed")
		jsonResp(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: string(errors.GetType(err))})
		return
	}

	names, err := h.engine.SampleNames(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	jsonResp(w, http.StatusOK, HealthResponse{Status: "ok", Samples: len(names)})
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeInvalidSampleLabel:
		return http.StatusBadRequest
	case errors.ErrTypeUnknownColumn, errors.ErrTypeSampleNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)

	message := "internal error"
	if se, ok := errors.AsError(err); ok {
		message = se.Message
	}

	log := requestLogger(r.Context(), h.log).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"status": status,
	})
	if errors.IsClientError(err) {
		log.WithError(err).Debug("request rejected")
	} else {
		log.ErrorWithErr("request failed", err)
	}

	jsonErr(w, status, errors.GetType(err), message)
}

func jsonResp(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, status int, errType errors.ErrorType, msg string) {
	jsonResp(w, status, ErrorResponse{Error: string(errType), Message: msg})
}
