package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/Trivonta/compress-classify/internal/config"
	"github.com/Trivonta/compress-classify/internal/core/domain"
	"github.com/Trivonta/compress-classify/internal/core/ports"
	"github.com/Trivonta/compress-classify/internal/observability/metrics"
)

const (
	serviceName     = "api"
	defaultDocument = "document.txt"
)

type Router struct {
	cfg        config.Config
	classifier ports.CatalogClassifier
	catalog    ports.CoreCatalog
	metrics    *metrics.HTTPServerMetrics
	logger     *slog.Logger
}

func NewRouter(
	cfg config.Config,
	classifier ports.CatalogClassifier,
	catalog ports.CoreCatalog,
	httpMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:        cfg,
		classifier: classifier,
		catalog:    catalog,
		metrics:    httpMetrics,
		logger:     logger,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/v1/cores", rt.listCores)
	api.HandleFunc("/v1/cores/refresh", rt.refreshCores)
	api.HandleFunc("/v1/classify", rt.classify)
	limited := rateLimitMiddleware(
		backpressureMiddleware(api, rt.cfg.APIMaxInFlight, rt.cfg.BackpressureWait()),
		rt.cfg.APIRateLimitRPS,
		rt.cfg.APIRateLimitBurst,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/v1/", limited)

	var handler http.Handler = mux
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listCores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	cores, err := rt.catalog.Cores(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if cores == nil {
		cores = []domain.Core{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cores": cores})
}

func (rt *Router) refreshCores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if err := rt.catalog.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	cores, err := rt.catalog.Cores(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refreshed": len(cores)})
}

// classify accepts a multipart "file" field or the raw document as the body.
func (rt *Router) classify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.cfg.APIMaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.APIMaxUploadBytes)
	}

	name, content, err := readDocument(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "document too large"})
			return
		}
		writeError(w, err)
		return
	}

	dir, err := os.MkdirTemp(rt.cfg.ScratchDir, "upload-*")
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrTemporary, "stage upload", err))
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		writeError(w, domain.WrapError(domain.ErrTemporary, "stage upload", err))
		return
	}

	verdict, err := rt.classifier.Classify(r.Context(), domain.NewDocument(path, ""))
	switch {
	case err == nil:
		rt.recordClassification("predicted", verdict.Category, len(content))
		writeJSON(w, http.StatusOK, verdict)
	case domain.IsKind(err, domain.ErrUndetermined):
		rt.recordClassification("undetermined", "", len(content))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   err.Error(),
			"verdict": verdict,
		})
	default:
		rt.recordClassification("error", "", len(content))
		writeError(w, err)
	}
}

func (rt *Router) recordClassification(outcome, category string, size int) {
	if rt.metrics != nil {
		rt.metrics.RecordClassification(serviceName, outcome, category, int64(size))
	}
}

func readDocument(r *http.Request) (string, []byte, error) {
	name := r.URL.Query().Get("name")
	var body io.Reader = r.Body

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", nil, err
			}
			return "", nil, domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("multipart field 'file' is required"))
		}
		defer file.Close()
		name = header.Filename
		body = file
	}

	content, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, err
		}
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "read upload", err)
	}
	if len(content) == 0 {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("document is empty"))
	}
	if !utf8.Valid(content) {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("document must be UTF-8 text"))
	}
	return uploadName(name), content, nil
}

// uploadName keeps only the base name so uploads cannot escape the staging dir.
func uploadName(name string) string {
	name = filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" || name == "" || name == ".." {
		return defaultDocument
	}
	return name
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
