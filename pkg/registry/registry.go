// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/yeetrun/mpkg/pkg/compress"
)

// DefaultMaxUploadBytes bounds an upload body when Config leaves it unset.
const DefaultMaxUploadBytes int64 = 512 << 20

// DigestHeader carries the stored archive digest on downloads.
const DigestHeader = "Mpkg-Digest"

// Config holds the optional parts of a Registry.
type Config struct {
	// Loaders serves /loader/{version}/{slot}. Nil disables the route.
	Loaders *LoaderStore
	// Accounts backs /signup and the upload gate. Nil disables signup.
	Accounts Accounts
	// RequireAuth demands Basic credentials on /upload.
	RequireAuth bool
	// UploadRate is the per-client sustained upload rate in requests per
	// second. Zero disables limiting.
	UploadRate  float64
	UploadBurst int
	// MaxUploadBytes bounds an upload body. Zero means
	// DefaultMaxUploadBytes; negative means unlimited.
	MaxUploadBytes int64
	// Verbose enables per-request debug logging.
	Verbose bool
}

// Registry serves packages from a Storage over HTTP.
type Registry struct {
	storage Storage
	cfg     Config
	mux     *http.ServeMux
	metrics *Metrics
	limiter *ipLimiter
}

// New creates a registry serving storage.
func New(storage Storage, cfg Config) *Registry {
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	r := &Registry{
		storage: storage,
		cfg:     cfg,
		mux:     http.NewServeMux(),
		metrics: newMetrics(),
		limiter: newIPLimiter(cfg.UploadRate, cfg.UploadBurst),
	}
	r.setupRoutes()
	return r
}

// Metrics returns the registry's collectors.
func (r *Registry) Metrics() *Metrics { return r.metrics }

// setupRoutes configures all routes. Listing, metadata and loader responses
// are compressed on request; archive downloads never are.
func (r *Registry) setupRoutes() {
	r.handle("POST /upload", r.handleUpload, false)
	r.handle("GET /download/{id}", r.handleDownload, false)
	r.handle("GET /packages", r.handleList, true)
	r.handle("GET /packages/{id}", r.handleInfo, true)
	r.handle("GET /search", r.handleSearch, true)
	r.handle("GET /loader/{version}/{slot}", r.handleLoader, true)
	r.handle("POST /signup", r.handleSignup, false)
	r.handle("GET /{$}", r.handleIndex, true)
	r.mux.Handle("GET /metrics", r.metrics.Handler())
}

func (r *Registry) handle(pattern string, h http.HandlerFunc, compressed bool) {
	var hh http.Handler = r.metrics.instrument(pattern, h)
	if compressed {
		hh = compress.Handler(hh)
	}
	r.mux.Handle(pattern, hh)
}

// ServeHTTP implements http.Handler for the registry.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.vlog("%s %s from %s", req.Method, req.URL.Path, req.RemoteAddr)
	r.mux.ServeHTTP(w, req)
}

func (r *Registry) vlog(format string, args ...any) {
	if r.cfg.Verbose {
		log.Printf(format, args...)
	}
}

// internalError logs err and answers with a generic message so storage
// paths never reach the client.
func (r *Registry) internalError(w http.ResponseWriter, what string, err error) {
	log.Printf("%s: %v", what, err)
	WriteError(w, http.StatusInternalServerError, ErrCodeInternal, "internal error", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// handleUpload stores a multipart upload of an archive and its manifest.
func (r *Registry) handleUpload(w http.ResponseWriter, req *http.Request) {
	if !r.limiter.allow(req) {
		r.metrics.RateLimited.Inc()
		w.Header().Set("Retry-After", "1")
		WriteError(w, http.StatusTooManyRequests, ErrCodeTooManyRequests, "too many uploads", nil)
		return
	}
	if !r.authorized(req) {
		w.Header().Set("WWW-Authenticate", `Basic realm="mpkg"`)
		WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required", nil)
		return
	}
	if r.cfg.MaxUploadBytes > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxUploadBytes)
	}
	if err := compress.DecompressRequest(req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, "failed to decompress request body", nil)
		return
	}
	mr, err := req.MultipartReader()
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, "expected a multipart/form-data body", nil)
		return
	}

	u := &upload{storage: r.storage}
	info, err := u.receive(req.Context(), mr)
	switch {
	case err == nil:
	case errors.Is(err, ErrUploadTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, err.Error(), nil)
		return
	case errors.Is(err, ErrBadRequest):
		r.vlog("upload rejected: %v", err)
		WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	default:
		r.internalError(w, "store upload", err)
		return
	}

	r.metrics.Uploads.Inc()
	r.metrics.BytesIn.Add(float64(info.Size))
	log.Printf("uploaded package %s v%s (%s)", info.Name, info.Version, info.ID)
	writeJSON(w, http.StatusOK, info)
}

// handleDownload streams a stored archive.
func (r *Registry) handleDownload(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	pkg, err := r.storage.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrCodeNotFound, "package not found", nil)
			return
		}
		r.internalError(w, "open package "+id, err)
		return
	}
	defer pkg.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(pkg.Size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+pkg.ID+`.zip"`)
	if pkg.Digest != "" {
		w.Header().Set(DigestHeader, pkg.Digest.String())
	}
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, pkg.File)
	r.metrics.BytesOut.Add(float64(n))
	if err != nil {
		r.vlog("download %s: %v", id, err)
		return
	}
	r.metrics.Downloads.Inc()
}

// handleList returns the ids of all stored packages.
func (r *Registry) handleList(w http.ResponseWriter, req *http.Request) {
	ids, err := r.storage.List(req.Context())
	if err != nil {
		r.internalError(w, "list packages", err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// handleInfo returns the recorded metadata of one package.
func (r *Registry) handleInfo(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	info, err := r.storage.Info(req.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrCodeNotFound, "package not found", nil)
			return
		}
		r.internalError(w, "package info "+id, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleSearch matches ?q= against package names and descriptions.
func (r *Registry) handleSearch(w http.ResponseWriter, req *http.Request) {
	results, err := r.storage.Search(req.Context(), req.URL.Query().Get("q"))
	if err != nil {
		r.internalError(w, "search packages", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleLoader serves the bootstrap (slot 1) and loader (slot 2) scripts.
func (r *Registry) handleLoader(w http.ResponseWriter, req *http.Request) {
	if r.cfg.Loaders == nil {
		WriteError(w, http.StatusNotFound, ErrCodeNotFound, "loader not found", nil)
		return
	}
	version, slot := req.PathValue("version"), req.PathValue("slot")
	f, size, err := r.cfg.Loaders.Open(version, slot)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrCodeNotFound, "loader not found", nil)
			return
		}
		r.internalError(w, "open loader", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		r.vlog("loader %s/%s: %v", version, slot, err)
	}
}

// NewHandler creates a registry handler with the default configuration.
func NewHandler(storage Storage) http.Handler {
	return New(storage, Config{})
}

// ListenAndServe starts the registry HTTP server.
func ListenAndServe(addr string, storage Storage, cfg Config) error {
	return http.ListenAndServe(addr, New(storage, cfg))
}
