// Package web provides the HTTP delivery layer: the host channel websocket,
// the assembled preview document, and the workspace file API.
package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/previewkit/kiln/adapters/metrics"
	"github.com/previewkit/kiln/app"
	"github.com/previewkit/kiln/domain/modpath"
	"github.com/previewkit/kiln/pkg/jsonapi"
	"github.com/previewkit/kiln/ports"
)

// maxFileBytes bounds a single workspace file upload.
const maxFileBytes = 16 << 20

// Handler provides the HTTP endpoints.
type Handler struct {
	builds      *app.BuildService
	store       ports.WorkspaceStore
	metrics     *metrics.Collector
	metricsPath string
	version     string
	logger      zerolog.Logger

	modMu   sync.RWMutex
	modules map[string]string // last module set submitted over any channel
}

// Deps contains dependencies for the web handler.
type Deps struct {
	Builds      *app.BuildService
	Store       ports.WorkspaceStore
	Metrics     *metrics.Collector // nil disables the endpoint and middleware
	MetricsPath string
	Version     string
	Logger      zerolog.Logger
}

// NewHandler creates a new web handler.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Builds == nil {
		return nil, errors.New("web: build service is required")
	}
	if deps.Store == nil {
		return nil, errors.New("web: workspace store is required")
	}

	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	return &Handler{
		builds:      deps.Builds,
		store:       deps.Store,
		metrics:     deps.Metrics,
		metricsPath: metricsPath,
		version:     version,
		logger:      deps.Logger.With().Str("service", "web").Logger(),
		modules:     make(map[string]string),
	}, nil
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(NewMetricsMiddleware(h.metrics, h.metricsPath))
	}

	// The channel outlives any request deadline, so it mounts outside the
	// timeout group.
	r.Get("/channel", h.Channel)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/", h.Index)
		r.Get("/healthz", h.Health)
		r.Get("/version", h.Version)
		r.Get("/preview", h.Preview)
		if h.metrics != nil {
			r.Handle(h.metricsPath, promhttp.Handler())
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.NotFound(func(w http.ResponseWriter, req *http.Request) {
				jsonapi.WriteNotFound(w, "resource")
			})
			r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
				jsonapi.WriteError(w, jsonapi.ErrMethodNotAllowed(req.Method))
			})

			r.Get("/modules", h.Modules)
			r.Get("/graph", h.Graph)
			r.Route("/files", func(r chi.Router) {
				r.Get("/", h.ListFiles)
				r.Get("/*", h.GetFile)
				r.Put("/*", h.PutFile)
				r.Delete("/*", h.DeleteFile)
			})
		})
	})

	return r
}

// Index redirects to the preview document.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/preview", http.StatusTemporaryRedirect)
}

// Health returns 200 if the process is alive.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Version returns build information.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"service": "kiln",
		"version": h.version,
	})
}

// Preview serves the last successfully assembled document. The fingerprint
// doubles as the ETag, so an unchanged build answers with 304.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	res := h.builds.LastResult()
	if res == nil {
		jsonapi.WriteError(w, jsonapi.ErrNotFound("preview"))
		return
	}

	etag := `"` + res.Fingerprint + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Etag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, res.HTML)
}

// Modules returns the module set last submitted over the channel, the same
// payload an all-modules channel message carries.
func (h *Handler) Modules(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"modules": h.modulesSnapshot()})
}

// Graph renders the last build's module graph in DOT form.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	res := h.builds.LastResult()
	if res == nil {
		jsonapi.WriteError(w, jsonapi.ErrNotFound("build"))
		return
	}

	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	if err := app.WriteDOT(res, w); err != nil {
		h.logger.Warn().Err(err).Msg("graph render failed")
	}
}

// ListFiles lists workspace files, optionally below a prefix.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	prefix := modpath.Root
	if q := r.URL.Query().Get("prefix"); q != "" {
		prefix = modpath.Normalize(q)
	}

	infos, err := h.store.List(r.Context(), prefix)
	if err != nil {
		h.logger.Error().Err(err).Str("prefix", prefix).Msg("list files failed")
		jsonapi.WriteInternalError(w, "listing workspace files failed")
		return
	}

	files := make([]fileJSON, 0, len(infos))
	for _, info := range infos {
		files = append(files, fileJSON{Path: info.Path, Size: info.Size, ModTime: info.ModTime})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// GetFile returns one workspace file's contents.
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	path, ok := h.filePath(w, r)
	if !ok {
		return
	}

	data, err := h.store.Read(r.Context(), path)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			jsonapi.WriteError(w, jsonapi.ErrNotFoundWithID("file", path))
			return
		}
		h.logger.Error().Err(err).Str("path", path).Msg("read file failed")
		jsonapi.WriteInternalError(w, "reading workspace file failed")
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(path))
	w.Write(data)
}

// PutFile creates or replaces one workspace file. The next compile observes
// the new contents; no build is triggered here.
func (h *Handler) PutFile(w http.ResponseWriter, r *http.Request) {
	path, ok := h.filePath(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFileBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonapi.WriteError(w, jsonapi.ErrPayloadTooLarge(maxFileBytes))
			return
		}
		jsonapi.WriteBadRequest(w, "reading request body failed")
		return
	}

	if err := h.store.Write(r.Context(), path, data); err != nil {
		h.logger.Error().Err(err).Str("path", path).Msg("write file failed")
		jsonapi.WriteInternalError(w, "writing workspace file failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"path": path, "size": len(data)})
}

// DeleteFile removes one workspace file.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	path, ok := h.filePath(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), path); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			jsonapi.WriteError(w, jsonapi.ErrNotFoundWithID("file", path))
			return
		}
		h.logger.Error().Err(err).Str("path", path).Msg("delete file failed")
		jsonapi.WriteInternalError(w, "deleting workspace file failed")
		return
	}
	jsonapi.WriteNoContent(w)
}

// filePath extracts and normalizes the wildcard file path. Requests naming
// the root are rejected.
func (h *Handler) filePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	path := modpath.Normalize("/" + chi.URLParam(r, "*"))
	if path == modpath.Root {
		jsonapi.WriteBadRequest(w, "a file path is required")
		return "", false
	}
	return path, true
}

// setModules replaces the module snapshot with the latest compile's set.
func (h *Handler) setModules(modules map[string]string) {
	h.modMu.Lock()
	defer h.modMu.Unlock()
	h.modules = modules
}

// modulesSnapshot copies the current module set.
func (h *Handler) modulesSnapshot() map[string]string {
	h.modMu.RLock()
	defer h.modMu.RUnlock()
	out := make(map[string]string, len(h.modules))
	for p, code := range h.modules {
		out[p] = code
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("encoding response failed")
	}
}

type fileJSON struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Workspace files are source text almost without exception, so unknown
// extensions serve as plain text. Notably .ts must not go through the
// stock MIME table, which maps it to MPEG transport stream.
var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".mjs":  "text/javascript; charset=utf-8",
	".cjs":  "text/javascript; charset=utf-8",
	".json": "application/json",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".ico":  "image/x-icon",
}

func contentTypeFor(path string) string {
	if ct, ok := contentTypes[modpath.Ext(path)]; ok {
		return ct
	}
	return "text/plain; charset=utf-8"
}
