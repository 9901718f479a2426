// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/mpkg/pkg/accounts"
	"github.com/yeetrun/mpkg/pkg/registry"
	"golang.org/x/crypto/bcrypt"
)

func newRegistry(t *testing.T, cfg registry.Config) *httptest.Server {
	t.Helper()
	storage, err := registry.NewFilesystemStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStorage: %v", err)
	}
	srv := httptest.NewServer(registry.New(storage, cfg))
	t.Cleanup(srv.Close)
	return srv
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	srv := newRegistry(t, registry.Config{})
	c := New(srv.URL + "/")
	ctx := context.Background()
	data := bytes.Repeat([]byte("PK\x03\x04 archive "), 512)
	m := PackageManifest{Name: "demo", Version: "1.0.0", Description: "a demo"}

	info, err := c.Upload(ctx, m, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if info.ID == "" || info.Name != "demo" || info.Size != int64(len(data)) {
		t.Fatalf("Upload returned %+v", info)
	}
	if info.Digest != digest.FromBytes(data) {
		t.Fatalf("Digest = %s, want %s", info.Digest, digest.FromBytes(data))
	}

	ids, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]string{info.ID}, ids); diff != "" {
		t.Fatalf("List mismatch (-want +got):\n%s", diff)
	}

	got, err := c.Info(ctx, info.ID)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if diff := cmp.Diff(info, got); diff != "" {
		t.Fatalf("Info mismatch (-upload +info):\n%s", diff)
	}

	var buf bytes.Buffer
	n, err := c.Download(ctx, info.ID, &buf)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != int64(len(data)) || !bytes.Equal(buf.Bytes(), data) {
		t.Fatalf("Download returned %d bytes, content match %v", n, bytes.Equal(buf.Bytes(), data))
	}

	path := filepath.Join(t.TempDir(), "sub", "pkg.zip")
	if _, err := c.DownloadFile(ctx, info.ID, path); err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, data) {
		t.Fatalf("DownloadFile content mismatch")
	}

	results, err := c.Search(ctx, "DEMO")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != info.ID {
		t.Fatalf("Search = %+v", results)
	}
}

func TestErrorMapping(t *testing.T) {
	accts, err := accounts.Open(filepath.Join(t.TempDir(), "accounts.json"), accounts.WithCost(bcrypt.MinCost))
	if err != nil {
		t.Fatal(err)
	}
	srv := newRegistry(t, registry.Config{Accounts: accts, RequireAuth: true})
	ctx := context.Background()
	c := New(srv.URL)

	_, err = c.Download(ctx, "00000000-0000-0000-0000-000000000000", new(bytes.Buffer))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Download missing = %v, want ErrNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "NOT_FOUND" {
		t.Fatalf("Download missing error = %#v, want APIError NOT_FOUND", err)
	}

	if _, err := c.Info(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Info missing = %v, want ErrNotFound", err)
	}

	if _, err := c.Upload(ctx, PackageManifest{Name: "p"}, bytes.NewReader([]byte("zip"))); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("anonymous Upload = %v, want ErrUnauthorized", err)
	}

	if err := c.Signup(ctx, "alice", "pw"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if err := c.Signup(ctx, "alice", "pw2"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate Signup = %v, want ErrConflict", err)
	}

	authed := New(srv.URL, WithBasicAuth("alice", "pw"))
	if _, err := authed.Upload(ctx, PackageManifest{Name: "p"}, bytes.NewReader([]byte("zip"))); err != nil {
		t.Fatalf("authenticated Upload: %v", err)
	}
}

func TestDigestMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Mpkg-Digest", digest.FromString("something else").String())
		w.Write([]byte("tampered archive"))
	}))
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	if _, err := c.Download(ctx, "id", new(bytes.Buffer)); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("Download = %v, want ErrDigestMismatch", err)
	}
	path := filepath.Join(t.TempDir(), "pkg.zip")
	if _, err := c.DownloadFile(ctx, "id", path); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("DownloadFile = %v, want ErrDigestMismatch", err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("DownloadFile left %s behind", path)
	}
}

func TestLoader(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "latest"), 0o755); err != nil {
		t.Fatal(err)
	}
	script := bytes.Repeat([]byte("export const x = 1;\n"), 200)
	if err := os.WriteFile(filepath.Join(root, "latest", "bootstrap.mjs"), script, 0o644); err != nil {
		t.Fatal(err)
	}
	srv := newRegistry(t, registry.Config{Loaders: registry.NewLoaderStore(root)})
	c := New(srv.URL)

	var buf bytes.Buffer
	if err := c.Loader(context.Background(), "latest", 1, &buf); err != nil {
		t.Fatalf("Loader: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), script) {
		t.Fatalf("Loader content mismatch (%d bytes)", buf.Len())
	}
	if err := c.Loader(context.Background(), "latest", 2, new(bytes.Buffer)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing slot = %v, want ErrNotFound", err)
	}
}

func TestUserAgentAndTimeout(t *testing.T) {
	uas := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case uas <- r.Header.Get("User-Agent"):
		default:
		}
		if r.URL.Path == "/slow" {
			time.Sleep(500 * time.Millisecond)
		}
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := New(srv.URL, WithUserAgent("mpkg/test"), WithTimeout(100*time.Millisecond))
	if _, err := c.List(context.Background()); err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotUA := <-uas; gotUA != "mpkg/test" {
		t.Fatalf("User-Agent = %q, want mpkg/test", gotUA)
	}

	var out []string
	if err := c.getJSON(context.Background(), "/slow", &out); err == nil {
		t.Fatal("slow request did not time out")
	}
}

func TestTimeoutAllowsSteadyTransfer(t *testing.T) {
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		for range 6 {
			w.Write([]byte("chunk"))
			fl.Flush()
			time.Sleep(40 * time.Millisecond)
		}
		if r.URL.Path == "/download/stalled" {
			<-stall
		}
	}))
	defer srv.Close()
	defer close(stall)

	c := New(srv.URL, WithTimeout(150*time.Millisecond))
	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "steady", &buf)
	if err != nil {
		t.Fatalf("Download of a steady body longer than the timeout: %v", err)
	}
	if n != 30 {
		t.Fatalf("Download = %d bytes, want 30", n)
	}

	buf.Reset()
	if _, err := c.Download(context.Background(), "stalled", &buf); err == nil {
		t.Fatal("stalled download did not time out")
	}
}
