// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compress

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Supported content codings, in order of preference.
const (
	Zstd    = "zstd"
	Gzip    = "gzip"
	Deflate = "deflate"
)

var preference = []string{Zstd, Gzip, Deflate}

// AcceptEncoding is the Accept-Encoding value clients send to ask for any
// supported coding.
const AcceptEncoding = "zstd, gzip, deflate"

// ResponseWriter wraps an http.ResponseWriter to provide transparent compression.
// It sets Content-Encoding and Vary, and drops Content-Length since the
// compressed size differs from the original.
type ResponseWriter struct {
	http.ResponseWriter
	writer      io.WriteCloser
	encoding    string
	wroteHeader bool
}

// Write compresses data and writes it to the underlying response writer.
func (cw *ResponseWriter) Write(data []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	return cw.writer.Write(data)
}

// WriteHeader writes the status code and compression headers.
func (cw *ResponseWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	h := cw.ResponseWriter.Header()
	h.Set("Content-Encoding", cw.encoding)
	h.Del("Content-Length")
	h.Add("Vary", "Accept-Encoding")
	cw.ResponseWriter.WriteHeader(code)
}

// Close flushes and closes the compression writer. It does not close the
// underlying response.
func (cw *ResponseWriter) Close() error {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	return cw.writer.Close()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (cw *ResponseWriter) Unwrap() http.ResponseWriter { return cw.ResponseWriter }

// SelectEncoding chooses the best coding for an Accept-Encoding header value.
// Higher quality wins; ties go to zstd, then gzip, then deflate. It returns
// "" when no supported coding is acceptable.
func SelectEncoding(acceptEncoding string) string {
	if acceptEncoding == "" {
		return ""
	}

	quality := make(map[string]float64)
	wildcard := -1.0
	for _, enc := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(enc), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		q := 1.0
		for _, p := range strings.Split(params, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || strings.TrimSpace(k) != "q" {
				continue
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				q = f
			}
		}
		if name == "*" {
			wildcard = q
			continue
		}
		quality[name] = q
	}

	best, bestQ := "", 0.0
	for _, name := range preference {
		q, ok := quality[name]
		if !ok {
			if wildcard < 0 {
				continue
			}
			q = wildcard
		}
		if q > bestQ {
			best, bestQ = name, q
		}
	}
	return best
}

// NewResponseWriter creates a compressing writer for encoding.
func NewResponseWriter(w http.ResponseWriter, encoding string) (*ResponseWriter, error) {
	cw := &ResponseWriter{
		ResponseWriter: w,
		encoding:       encoding,
	}

	var err error
	switch encoding {
	case Zstd:
		cw.writer, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	case Gzip:
		cw.writer = gzip.NewWriter(w)
	case Deflate:
		cw.writer, err = flate.NewWriter(w, flate.DefaultCompression)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}

	if err != nil {
		return nil, err
	}

	return cw, nil
}

// Handler compresses the responses of h for clients that accept a supported
// coding. HEAD requests pass through untouched.
func Handler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding := SelectEncoding(r.Header.Get("Accept-Encoding"))
		if encoding == "" || r.Method == http.MethodHead {
			h.ServeHTTP(w, r)
			return
		}
		cw, err := NewResponseWriter(w, encoding)
		if err != nil {
			h.ServeHTTP(w, r)
			return
		}
		defer cw.Close()
		h.ServeHTTP(cw, r)
	})
}

// newReader returns a decoding reader for encoding. ok is false for
// identity and unknown codings, in which case r should be read as is.
func newReader(encoding string, r io.Reader) (rc io.ReadCloser, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, false, err
		}
		return zr, true, nil
	case Deflate:
		return flate.NewReader(r), true, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, false, err
		}
		return zr.IOReadCloser(), true, nil
	default:
		return nil, false, nil
	}
}

// DecompressRequest wraps the request body with a decompressing reader
// if the Content-Encoding header is set.
func DecompressRequest(r *http.Request) error {
	contentEncoding := r.Header.Get("Content-Encoding")
	if contentEncoding == "" {
		return nil
	}
	reader, ok, err := newReader(contentEncoding, r.Body)
	if err != nil {
		return fmt.Errorf("failed to create decompressor for %s: %w", contentEncoding, err)
	}
	if !ok {
		return nil
	}

	r.Body = &closeWrapper{
		ReadCloser: reader,
		onClose:    r.Body.Close,
	}
	r.Header.Del("Content-Encoding")
	r.Header.Del("Content-Length")
	r.ContentLength = -1
	return nil
}

// DecompressResponse is the client side of Handler: it replaces resp.Body
// with a decoding reader according to the response's Content-Encoding.
func DecompressResponse(resp *http.Response) error {
	contentEncoding := resp.Header.Get("Content-Encoding")
	if contentEncoding == "" {
		return nil
	}
	reader, ok, err := newReader(contentEncoding, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to create decompressor for %s: %w", contentEncoding, err)
	}
	if !ok {
		return nil
	}

	resp.Body = &closeWrapper{
		ReadCloser: reader,
		onClose:    resp.Body.Close,
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// closeWrapper wraps an io.ReadCloser and calls an additional function on Close.
type closeWrapper struct {
	io.ReadCloser
	onClose func() error
}

func (cw *closeWrapper) Close() error {
	err1 := cw.ReadCloser.Close()
	err2 := cw.onClose()
	return errors.Join(err1, err2)
}
