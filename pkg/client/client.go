// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client talks to an mpkg registry over HTTP.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/mpkg/pkg/compress"
	"github.com/yeetrun/mpkg/pkg/fileutil"
)

// DefaultTimeout is how long a request may go without progress: waiting
// to connect, for response headers, or between body reads.
const DefaultTimeout = 30 * time.Second

const digestHeader = "Mpkg-Digest"

// PackageManifest is the metadata sent along with an uploaded archive.
type PackageManifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// PackageInfo is the registry's record of a stored package.
type PackageInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name,omitempty"`
	Version     string        `json:"version,omitempty"`
	Description string        `json:"description,omitempty"`
	Size        int64         `json:"size"`
	Digest      digest.Digest `json:"digest"`
	Uploaded    time.Time     `json:"uploaded"`
}

// Client is a registry client. It is safe for concurrent use.
type Client struct {
	baseURL   string
	hc        *http.Client
	timeout   time.Duration
	userAgent string
	user      string
	pass      string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets how long a request may stall. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithBasicAuth sends credentials with uploads.
func WithBasicAuth(user, pass string) Option {
	return func(c *Client) { c.user, c.pass = user, pass }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New returns a client for the registry at baseURL, for example
// "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		hc:        &http.Client{},
		timeout:   DefaultTimeout,
		userAgent: "mpkg",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the registry address.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// do sends req and returns the response for a 2xx status. Other statuses
// become an *APIError and the body is closed.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	req, wd := watch(req, c.timeout)
	resp, err := c.hc.Do(req)
	if err != nil {
		if wd != nil {
			wd.stop()
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if wd != nil {
		resp.Body = &idleBody{ReadCloser: resp.Body, w: wd}
	}
	if err := compress.DecompressResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, newAPIError(resp)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", compress.AcceptEncoding)
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// List returns the ids of all packages in the registry.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.getJSON(ctx, "/packages", &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Info returns the registry's record for id.
func (c *Client) Info(ctx context.Context, id string) (*PackageInfo, error) {
	var info PackageInfo
	if err := c.getJSON(ctx, "/packages/"+url.PathEscape(id), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Search returns packages matching query.
func (c *Client) Search(ctx context.Context, query string) ([]PackageInfo, error) {
	var results []PackageInfo
	if err := c.getJSON(ctx, "/search?q="+url.QueryEscape(query), &results); err != nil {
		return nil, err
	}
	return results, nil
}

// open starts a download of id. The returned reader fails with
// ErrDigestMismatch at EOF if the bytes do not match the digest the
// registry advertised.
func (c *Client) open(ctx context.Context, id string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/download/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	h := resp.Header.Get(digestHeader)
	if h == "" {
		return resp.Body, nil
	}
	d, err := digest.Parse(h)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("bad %s header %q: %w", digestHeader, h, err)
	}
	return &verifyingReader{rc: resp.Body, want: d, verifier: d.Verifier()}, nil
}

// Download streams the archive for id into w.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	rc, err := c.open(ctx, id)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.Copy(w, rc)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", id, err)
	}
	return n, nil
}

// DownloadFile downloads the archive for id to path. The file only appears
// once the download completed and verified.
func (c *Client) DownloadFile(ctx context.Context, id, path string) (int64, error) {
	rc, err := c.open(ctx, id)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := fileutil.WriteFrom(path, rc, 0o644)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", id, err)
	}
	return n, nil
}

// Loader streams a loader asset. Slot 1 is the bootstrap script, slot 2
// the loader.
func (c *Client) Loader(ctx context.Context, version string, slot int, w io.Writer) error {
	path := "/loader/" + url.PathEscape(version) + "/" + strconv.Itoa(slot)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept-Encoding", compress.AcceptEncoding)
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download loader %s/%d: %w", version, slot, err)
	}
	return nil
}

// Upload publishes archive under m and returns the stored record. The body
// is streamed; archive is never held in memory.
func (c *Client) Upload(ctx context.Context, m PackageManifest, archive io.Reader) (*PackageInfo, error) {
	mb, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUpload(mw, mb, archive))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	resp, err := c.do(req)
	pr.Close()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info PackageInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &info, nil
}

func writeUpload(mw *multipart.Writer, manifest []byte, archive io.Reader) error {
	fw, err := mw.CreateFormField("manifest")
	if err != nil {
		return err
	}
	if _, err := fw.Write(manifest); err != nil {
		return err
	}
	fw, err = mw.CreateFormFile("file", "package.zip")
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, archive); err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	return mw.Close()
}

// Signup registers a publisher account.
func (c *Client) Signup(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/signup", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// verifyingReader checks the digest of everything read through it.
type verifyingReader struct {
	rc       io.ReadCloser
	want     digest.Digest
	verifier digest.Verifier
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	v.verifier.Write(p[:n])
	if errors.Is(err, io.EOF) && !v.verifier.Verified() {
		return n, fmt.Errorf("%w: want %s", ErrDigestMismatch, v.want)
	}
	return n, err
}

func (v *verifyingReader) Close() error { return v.rc.Close() }
