// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestNewerThan(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"v1.2.0", "1.1.9", true},
		{"1.2.0", "v1.2.0", false},
		{"v1.0.0", "v1.2.0", false},
		{"v2.0.0-rc.1", "v1.9.0", true},
		{"nightly", "dev", true},
		{"v1.0.0", "v1.0.0", false},
	}
	for _, tt := range tests {
		if got := NewerThan(tt.latest, tt.current); got != tt.want {
			t.Errorf("NewerThan(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}

func TestFindAsset(t *testing.T) {
	assets := []Asset{
		{Name: "mpkg-darwin-arm64", BrowserDownloadURL: "https://example.com/darwin"},
		{Name: "mpkg-linux-x86_64", BrowserDownloadURL: "https://example.com/linux-x86_64"},
		{Name: "mpkg-windows-amd64.exe", BrowserDownloadURL: "https://example.com/windows"},
	}
	tests := []struct {
		goos, goarch string
		want         string
	}{
		{"darwin", "arm64", "mpkg-darwin-arm64"},
		{"linux", "amd64", "mpkg-linux-x86_64"},
		{"windows", "amd64", "mpkg-windows-amd64.exe"},
	}
	for _, tt := range tests {
		got, err := FindAsset(assets, tt.goos, tt.goarch)
		if err != nil {
			t.Errorf("FindAsset(%s, %s): %v", tt.goos, tt.goarch, err)
			continue
		}
		if got.Name != tt.want {
			t.Errorf("FindAsset(%s, %s) = %s, want %s", tt.goos, tt.goarch, got.Name, tt.want)
		}
	}

	_, err := FindAsset(assets, "freebsd", "riscv64")
	if !errors.Is(err, ErrNoAsset) {
		t.Fatalf("missing platform = %v, want ErrNoAsset", err)
	}
	if !strings.Contains(err.Error(), "freebsd-riscv64") {
		t.Fatalf("error %q does not name the platform", err)
	}
}

type fakeGitHub struct {
	*httptest.Server
	tag    string
	binary string
	auth   chan string
}

func newFakeGitHub(t *testing.T, tag, binary string) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{tag: tag, binary: binary, auth: make(chan string, 4)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/idiotstudios/mpkg/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "mpkg-updater" {
			http.Error(w, "bad user agent", http.StatusForbidden)
			return
		}
		select {
		case f.auth <- r.Header.Get("Authorization"):
		default:
		}
		json.NewEncoder(w).Encode(Release{
			TagName: f.tag,
			Assets: []Asset{{
				Name:               "mpkg-testos-testarch",
				BrowserDownloadURL: f.URL + "/assets/mpkg-testos-testarch",
			}},
		})
	})
	mux.HandleFunc("GET /assets/mpkg-testos-testarch", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, f.binary)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newTestUpdater(t *testing.T, gh *fakeGitHub) (*Updater, string, *[]string) {
	t.Helper()
	exe := filepath.Join(t.TempDir(), "mpkg")
	if err := os.WriteFile(exe, []byte("old binary"), 0o755); err != nil {
		t.Fatal(err)
	}
	var lines []string
	u := &Updater{
		APIBase:    gh.URL,
		Token:      "secret",
		GOOS:       "testos",
		GOARCH:     "testarch",
		Executable: exe,
		Logf: func(format string, args ...any) {
			lines = append(lines, fmt.Sprintf(format, args...))
		},
	}
	return u, exe, &lines
}

func TestUpdateReplacesExecutable(t *testing.T) {
	gh := newFakeGitHub(t, "v1.3.0", "new binary")
	u, exe, lines := newTestUpdater(t, gh)

	res, err := u.Update(context.Background(), "v1.2.0")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := <-gh.auth; got != "Bearer secret" {
		t.Fatalf("Authorization = %q, want bearer token", got)
	}
	if res.Latest != "v1.3.0" {
		t.Fatalf("Latest = %q, want v1.3.0", res.Latest)
	}
	// The test host may be windows, where the move is deferred.
	b, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "new binary" {
		t.Fatalf("%s = %q, want new binary", res.Path, b)
	}
	if !res.Pending && res.Path != exe {
		t.Fatalf("Path = %s, want %s", res.Path, exe)
	}
	if !res.Pending {
		if _, err := os.Stat(exe + ".update"); !os.IsNotExist(err) {
			t.Fatalf("update file left behind: %v", err)
		}
	}
	if runtime.GOOS != "windows" {
		if st, err := os.Stat(res.Path); err != nil || st.Mode().Perm()&0o100 == 0 {
			t.Fatalf("updated binary is not executable: %v %v", st, err)
		}
	}
	want := []string{"Checking for updates...", "Found new version: v1.3.0", "Downloading binary for testos/testarch..."}
	for i, w := range want {
		if i >= len(*lines) || (*lines)[i] != w {
			t.Fatalf("log lines = %q, want prefix %q", *lines, want)
		}
	}
}

func TestUpdateAlreadyCurrent(t *testing.T) {
	gh := newFakeGitHub(t, "v1.2.0", "new binary")
	u, exe, lines := newTestUpdater(t, gh)

	res, err := u.Update(context.Background(), "1.2.0")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Updated || res.Pending {
		t.Fatalf("Update = %+v, want no change", res)
	}
	b, _ := os.ReadFile(exe)
	if string(b) != "old binary" {
		t.Fatalf("executable changed to %q", b)
	}
	if last := (*lines)[len(*lines)-1]; last != "Already up to date (1.2.0)" {
		t.Fatalf("last log line = %q", last)
	}
}

func TestUpdateNoAsset(t *testing.T) {
	gh := newFakeGitHub(t, "v9.0.0", "new binary")
	u, _, _ := newTestUpdater(t, gh)
	u.GOOS = "plan9"

	if _, err := u.Update(context.Background(), "v1.0.0"); !errors.Is(err, ErrNoAsset) {
		t.Fatalf("Update = %v, want ErrNoAsset", err)
	}
}

func TestLatestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	u := &Updater{APIBase: srv.URL}
	_, err := u.Latest(context.Background())
	if err == nil || !strings.Contains(err.Error(), "github api error: 403 Forbidden: rate limit exceeded") {
		t.Fatalf("Latest = %v, want github api error", err)
	}
}

func TestReplaceDeferred(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "mpkg.exe")
	if err := os.WriteFile(exe, []byte("old"), 0o755); err != nil {
		t.Fatal(err)
	}
	path, pending, err := replace(exe, strings.NewReader("new"), true)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if !pending || path != exe+".update" {
		t.Fatalf("replace = %s, %v; want pending %s.update", path, pending, exe)
	}
	if b, _ := os.ReadFile(exe); string(b) != "old" {
		t.Fatalf("executable replaced despite deferral: %q", b)
	}
}
