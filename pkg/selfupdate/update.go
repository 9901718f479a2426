// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfupdate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"

	"github.com/yeetrun/mpkg/pkg/fileutil"
)

// Updater checks GitHub for a newer release and installs it. The zero
// value updates the running executable from idiotstudios/mpkg.
type Updater struct {
	Owner string
	Repo  string

	// APIBase overrides https://api.github.com.
	APIBase string
	// HTTPClient defaults to a client with a 15 second timeout.
	HTTPClient *http.Client
	// Token is sent as a bearer token. Empty means $GITHUB_TOKEN.
	Token string

	// GOOS and GOARCH select the asset. Empty means the running platform.
	GOOS   string
	GOARCH string

	// Executable is the file to replace. Empty means os.Executable.
	Executable string

	// Logf receives progress lines. Nil discards them.
	Logf func(format string, args ...any)
}

// Result describes what Update did.
type Result struct {
	Current string
	Latest  string
	Updated bool
	// Pending is set when the new binary was written next to the old one
	// but could not replace it. Path names that file.
	Pending bool
	Path    string
}

func (u *Updater) owner() string {
	if u.Owner == "" {
		return DefaultOwner
	}
	return u.Owner
}

func (u *Updater) repo() string {
	if u.Repo == "" {
		return DefaultRepo
	}
	return u.Repo
}

func (u *Updater) apiBase() string {
	if u.APIBase == "" {
		return githubAPIBase
	}
	return strings.TrimRight(u.APIBase, "/")
}

func (u *Updater) httpClient() *http.Client {
	if u.HTTPClient == nil {
		return &http.Client{Timeout: defaultTimeout}
	}
	return u.HTTPClient
}

func (u *Updater) platform() (string, string) {
	goos, goarch := u.GOOS, u.GOARCH
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return goos, goarch
}

func (u *Updater) logf(format string, args ...any) {
	if u.Logf != nil {
		u.Logf(format, args...)
	}
}

// Update installs the latest release if it is newer than current.
func (u *Updater) Update(ctx context.Context, current string) (*Result, error) {
	u.logf("Checking for updates...")
	rel, err := u.Latest(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Current: current, Latest: rel.TagName}
	if !NewerThan(rel.TagName, current) {
		u.logf("Already up to date (%s)", current)
		return res, nil
	}
	u.logf("Found new version: %s", rel.TagName)

	goos, goarch := u.platform()
	asset, err := FindAsset(rel.Assets, goos, goarch)
	if err != nil {
		return nil, err
	}

	exe := u.Executable
	if exe == "" {
		exe, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}

	u.logf("Downloading binary for %s/%s...", goos, goarch)
	resp, err := u.do(ctx, asset.BrowserDownloadURL, "application/octet-stream")
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", asset.Name, err)
	}
	defer resp.Body.Close()

	path, pending, err := replace(exe, resp.Body, runtime.GOOS == "windows")
	if err != nil {
		return nil, err
	}
	res.Path = path
	res.Pending = pending
	res.Updated = !pending
	if pending {
		u.logf("Downloaded %s to %s; replace %s after exiting", rel.TagName, path, exe)
	} else {
		u.logf("Updated to %s", rel.TagName)
	}
	return res, nil
}

// replace writes r to exe+".update" and moves it over exe. When deferMove
// is set the new file is left in place because the running binary is locked.
func replace(exe string, r io.Reader, deferMove bool) (string, bool, error) {
	tmp := exe + ".update"
	if _, err := fileutil.WriteFrom(tmp, r, 0o755); err != nil {
		return "", false, fmt.Errorf("write update: %w", err)
	}
	if deferMove {
		return tmp, true, nil
	}
	if err := os.Rename(tmp, exe); err != nil {
		os.Remove(tmp)
		return "", false, fmt.Errorf("replace %s: %w", exe, err)
	}
	return exe, false, nil
}
