// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/mpkg/pkg/accounts"
	"golang.org/x/crypto/bcrypt"
)

type testRegistry struct {
	*Registry
	storage *FilesystemStorage
	server  *httptest.Server
}

func newTestRegistry(t *testing.T, cfg Config) *testRegistry {
	t.Helper()
	storage := newTestStorage(t)
	r := New(storage, cfg)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testRegistry{Registry: r, storage: storage, server: srv}
}

type formPart struct {
	field    string
	filename string
	data     []byte
}

func manifestPart(m PackageManifest) formPart {
	b, _ := json.Marshal(m)
	return formPart{field: FieldManifest, data: b}
}

func filePart(data []byte) formPart {
	return formPart{field: FieldFile, filename: "package.zip", data: data}
}

func multipartBody(t *testing.T, parts ...formPart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		var (
			w   io.Writer
			err error
		)
		if p.filename != "" {
			w, err = mw.CreateFormFile(p.field, p.filename)
		} else {
			w, err = mw.CreateFormField(p.field)
		}
		if err != nil {
			t.Fatal(err)
		}
		w.Write(p.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (tr *testRegistry) upload(t *testing.T, header http.Header, parts ...formPart) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	req, err := http.NewRequest(http.MethodPost, tr.server.URL+"/upload", body)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", ct)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (tr *testRegistry) get(t *testing.T, path string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, tr.server.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func wantError(t *testing.T, resp *http.Response, status int, code, message string) {
	t.Helper()
	if resp.StatusCode != status {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d; body %s", resp.StatusCode, status, b)
	}
	er := decodeJSON[ErrorResponse](t, resp)
	if len(er.Errors) != 1 || er.Errors[0].Code != code {
		t.Fatalf("errors = %+v, want one %s", er.Errors, code)
	}
	if message != "" && er.Errors[0].Message != message {
		t.Fatalf("message = %q, want %q", er.Errors[0].Message, message)
	}
}

func (tr *testRegistry) storedIDs(t *testing.T) []string {
	t.Helper()
	ids, err := tr.storage.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return ids
}

func TestUploadListDownload(t *testing.T) {
	tr := newTestRegistry(t, Config{})
	data := []byte("0123456789")
	m := PackageManifest{Name: "demo", Version: "1.0.0"}

	resp := tr.upload(t, nil, manifestPart(m), filePart(data))
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status = %d: %s", resp.StatusCode, b)
	}
	info := decodeJSON[PackageInfo](t, resp)
	if diff := cmp.Diff(m, info.Manifest()); diff != "" {
		t.Fatalf("echoed manifest mismatch (-want +got):\n%s", diff)
	}

	resp = tr.get(t, "/packages", nil)
	ids := decodeJSON[[]string](t, resp)
	if diff := cmp.Diff([]string{info.ID}, ids); diff != "" {
		t.Fatalf("/packages mismatch (-want +got):\n%s", diff)
	}

	resp = tr.get(t, "/download/"+info.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Length"); got != "10" {
		t.Errorf("Content-Length = %q, want 10", got)
	}
	if got := resp.Header.Get(DigestHeader); got != digest.FromBytes(data).String() {
		t.Errorf("%s = %q, want %s", DigestHeader, got, digest.FromBytes(data))
	}
	got, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(got, data) {
		t.Fatalf("download = %q, want %q", got, data)
	}

	resp = tr.get(t, "/packages/"+info.ID, nil)
	if diff := cmp.Diff(info, decodeJSON[PackageInfo](t, resp)); diff != "" {
		t.Fatalf("/packages/{id} mismatch (-upload +info):\n%s", diff)
	}
}

func TestUploadFileBeforeManifest(t *testing.T) {
	tr := newTestRegistry(t, Config{})
	m := PackageManifest{Name: "late", Version: "0.1.0", Description: "manifest second"}
	resp := tr.upload(t, nil, filePart([]byte("zip")), formPart{field: "note", data: []byte("ignored")}, manifestPart(m))
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status = %d: %s", resp.StatusCode, b)
	}
	info := decodeJSON[PackageInfo](t, resp)
	stored, err := tr.storage.Info(context.Background(), info.ID)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if diff := cmp.Diff(m, stored.Manifest()); diff != "" {
		t.Fatalf("stored manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadRejected(t *testing.T) {
	m := manifestPart(PackageManifest{Name: "demo", Version: "1.0.0"})
	f := filePart([]byte("zip"))
	tests := []struct {
		name    string
		parts   []formPart
		message string
	}{
		{"missing manifest", []formPart{f}, "missing manifest"},
		{"missing file", []formPart{m}, "missing file"},
		{"duplicate file", []formPart{m, f, f}, "duplicate part: file"},
		{"duplicate manifest", []formPart{f, m, m}, "duplicate part: manifest"},
		{"manifest without name", []formPart{manifestPart(PackageManifest{Version: "1"}), f}, "invalid manifest: name is required"},
		{"manifest not json", []formPart{{field: FieldManifest, data: []byte("{")}, f}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestRegistry(t, Config{})
			resp := tr.upload(t, nil, tt.parts...)
			wantError(t, resp, http.StatusBadRequest, ErrCodeBadRequest, tt.message)
			if ids := tr.storedIDs(t); len(ids) != 0 {
				t.Fatalf("rejected upload left packages %v", ids)
			}
			entries, _ := os.ReadDir(tr.storage.Root())
			if len(entries) != 0 {
				t.Fatalf("rejected upload left directories %v", entries)
			}
		})
	}
}

func TestUploadTruncatedBody(t *testing.T) {
	tr := newTestRegistry(t, Config{})
	body, ct := multipartBody(t, manifestPart(PackageManifest{Name: "cut", Version: "1.0.0"}), filePart(bytes.Repeat([]byte("z"), 100)))
	cut := body.Bytes()[:body.Len()-60]
	resp, err := http.Post(tr.server.URL+"/upload", ct, bytes.NewReader(cut))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	wantError(t, resp, http.StatusBadRequest, ErrCodeBadRequest, "")
	if ids := tr.storedIDs(t); len(ids) != 0 {
		t.Fatalf("truncated upload stored %v", ids)
	}
	entries, _ := os.ReadDir(tr.storage.Root())
	if len(entries) != 0 {
		t.Fatalf("truncated upload left directories %v", entries)
	}
}

func TestUploadNotMultipart(t *testing.T) {
	tr := newTestRegistry(t, Config{})
	resp, err := http.Post(tr.server.URL+"/upload", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	wantError(t, resp, http.StatusBadRequest, ErrCodeBadRequest, "")
}

func TestUploadTooLarge(t *testing.T) {
	tr := newTestRegistry(t, Config{MaxUploadBytes: 512})
	resp := tr.upload(t, nil, manifestPart(PackageManifest{Name: "big"}), filePart(bytes.Repeat([]byte("x"), 4096)))
	wantError(t, resp, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "upload too large")
	if ids := tr.storedIDs(t); len(ids) != 0 {
		t.Fatalf("oversized upload stored %v", ids)
	}
}

func TestUploadCompressedBody(t *testing.T) {
	tr := newTestRegistry(t, Config{})
	body, ct := multipartBody(t, manifestPart(PackageManifest{Name: "gz"}), filePart([]byte("zipdata")))
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write(body.Bytes())
	zw.Close()

	req, _ := http.NewRequest(http.MethodPost, tr.server.URL+"/upload", &gz)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Content-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	info := decodeJSON[PackageInfo](t, resp)
	if got := readPackage(t, tr.storage, info.ID); string(got) != "zipdata" {
		t.Fatalf("stored %q, want zipdata", got)
	}
}

func TestDownloadNotFound(t *testing.T) {
	tr := newTestRegistry(t, Config{})
	for _, id := range []string{uuid.New().String(), "not-a-uuid", url.PathEscape("../../etc")} {
		resp := tr.get(t, "/download/"+id, nil)
		wantError(t, resp, http.StatusNotFound, ErrCodeNotFound, "package not found")
	}
	resp := tr.get(t, "/packages/"+uuid.New().String(), nil)
	wantError(t, resp, http.StatusNotFound, ErrCodeNotFound, "")
}

func TestLoaderRoute(t *testing.T) {
	loaderRoot := t.TempDir()
	writeLoaders(t, loaderRoot, "latest")
	tr := newTestRegistry(t, Config{Loaders: NewLoaderStore(loaderRoot)})

	resp := tr.get(t, "/loader/latest/1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("slot 1 status = %d", resp.StatusCode)
	}
	if b, _ := io.ReadAll(resp.Body); string(b) != "// bootstrap latest" {
		t.Fatalf("slot 1 = %q", b)
	}
	resp = tr.get(t, "/loader/latest/2", nil)
	if b, _ := io.ReadAll(resp.Body); string(b) != "// loader latest" {
		t.Fatalf("slot 2 = %q", b)
	}

	for _, p := range []string{
		"/loader/latest/3",
		"/loader/v9/1",
		"/loader/%2e%2e/1",
		"/loader/..%2F..%2Fetc/1",
		"/loader/%5C/1",
	} {
		resp := tr.get(t, p, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", p, resp.StatusCode)
		}
	}
}

func TestLoaderRouteDisabled(t *testing.T) {
	tr := newTestRegistry(t, Config{})
	resp := tr.get(t, "/loader/latest/1", nil)
	wantError(t, resp, http.StatusNotFound, ErrCodeNotFound, "")
}

func TestCompression(t *testing.T) {
	tr := newTestRegistry(t, Config{})
	data := bytes.Repeat([]byte("archive"), 100)
	resp := tr.upload(t, nil, manifestPart(PackageManifest{Name: "c"}), filePart(data))
	info := decodeJSON[PackageInfo](t, resp)

	gzipOnly := http.Header{"Accept-Encoding": {"gzip"}}
	resp = tr.get(t, "/packages", gzipOnly)
	if got := resp.Header.Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("/packages Content-Encoding = %q, want gzip", got)
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	var ids []string
	if err := json.NewDecoder(zr).Decode(&ids); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 1 || ids[0] != info.ID {
		t.Fatalf("ids = %v", ids)
	}

	resp = tr.get(t, "/download/"+info.ID, gzipOnly)
	if got := resp.Header.Get("Content-Encoding"); got != "" {
		t.Fatalf("download Content-Encoding = %q, want none", got)
	}
	if got := resp.Header.Get("Content-Length"); got != strconv.Itoa(len(data)) {
		t.Fatalf("download Content-Length = %q, want %d", got, len(data))
	}
}

func TestUploadRequiresAuth(t *testing.T) {
	accts, err := accounts.Open(filepath.Join(t.TempDir(), "accounts.json"), accounts.WithCost(bcrypt.MinCost))
	if err != nil {
		t.Fatal(err)
	}
	if err := accts.Create("alice", "s3cret"); err != nil {
		t.Fatal(err)
	}
	tr := newTestRegistry(t, Config{Accounts: accts, RequireAuth: true})
	parts := []formPart{manifestPart(PackageManifest{Name: "p"}), filePart([]byte("zip"))}

	resp := tr.upload(t, nil, parts...)
	if got := resp.Header.Get("WWW-Authenticate"); got == "" {
		t.Errorf("missing WWW-Authenticate header")
	}
	wantError(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized, "")

	bad := http.Header{}
	bad.Set("Authorization", basicAuth("alice", "wrong"))
	resp = tr.upload(t, bad, parts...)
	wantError(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized, "")

	good := http.Header{}
	good.Set("Authorization", basicAuth("alice", "s3cret"))
	resp = tr.upload(t, good, parts...)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated upload status = %d", resp.StatusCode)
	}
	if ids := tr.storedIDs(t); len(ids) != 1 {
		t.Fatalf("stored %v, want one package", ids)
	}
}

func basicAuth(user, pass string) string {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(user, pass)
	return req.Header.Get("Authorization")
}

func TestUploadRateLimited(t *testing.T) {
	tr := newTestRegistry(t, Config{UploadRate: 0.001, UploadBurst: 1})
	parts := []formPart{manifestPart(PackageManifest{Name: "p"}), filePart([]byte("zip"))}
	if resp := tr.upload(t, nil, parts...); resp.StatusCode != http.StatusOK {
		t.Fatalf("first upload status = %d", resp.StatusCode)
	}
	resp := tr.upload(t, nil, parts...)
	wantError(t, resp, http.StatusTooManyRequests, ErrCodeTooManyRequests, "")
	if resp.Header.Get("Retry-After") == "" {
		t.Errorf("missing Retry-After")
	}
}

func TestSignup(t *testing.T) {
	accts, err := accounts.Open(filepath.Join(t.TempDir(), "accounts.json"), accounts.WithCost(bcrypt.MinCost))
	if err != nil {
		t.Fatal(err)
	}
	tr := newTestRegistry(t, Config{Accounts: accts})

	resp, err := http.PostForm(tr.server.URL+"/signup", url.Values{"username": {"bob"}, "password": {"pw"}})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}
	if got := decodeJSON[signupResponse](t, resp); got.Username != "bob" {
		t.Fatalf("username = %q", got.Username)
	}

	resp2, err := http.Post(tr.server.URL+"/signup", "application/json", strings.NewReader(`{"username":"bob","password":"other"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	wantError(t, resp2, http.StatusConflict, ErrCodeConflict, "username already exists")

	resp3, err := http.PostForm(tr.server.URL+"/signup", url.Values{"username": {"carol"}})
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()
	wantError(t, resp3, http.StatusBadRequest, ErrCodeBadRequest, "")

	if err := accts.Authenticate("bob", "pw"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
}

func TestSignupDisabled(t *testing.T) {
	tr := newTestRegistry(t, Config{})
	resp, err := http.PostForm(tr.server.URL+"/signup", url.Values{"username": {"bob"}, "password": {"pw"}})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	wantError(t, resp, http.StatusNotFound, ErrCodeNotFound, "")
}

func TestIndexAndSearch(t *testing.T) {
	tr := newTestRegistry(t, Config{})
	tr.upload(t, nil, manifestPart(PackageManifest{Name: "left-pad", Version: "1.0.0", Description: "<pads>"}), filePart([]byte("a")))
	tr.upload(t, nil, manifestPart(PackageManifest{Name: "colors", Version: "0.1.0"}), filePart([]byte("b")))

	resp := tr.get(t, "/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"left-pad", "colors", "&lt;pads&gt;"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("index missing %q", want)
		}
	}

	resp = tr.get(t, "/search?q=pad", nil)
	results := decodeJSON[[]PackageInfo](t, resp)
	if len(results) != 1 || results[0].Name != "left-pad" {
		t.Fatalf("search results = %+v", results)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	tr := newTestRegistry(t, Config{})
	resp := tr.upload(t, nil, manifestPart(PackageManifest{Name: "m"}), filePart([]byte("12345")))
	info := decodeJSON[PackageInfo](t, resp)
	resp = tr.get(t, "/download/"+info.ID, nil)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp = tr.get(t, "/metrics", nil)
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"mpkg_registry_uploads_total 1",
		"mpkg_registry_downloads_total 1",
		"mpkg_registry_upload_bytes_total 5",
		`mpkg_registry_http_requests_total{method="POST",route="POST /upload",status="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
