// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package selfupdate replaces the running binary with the latest GitHub
// release asset for the current platform.
package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const (
	githubAPIBase = "https://api.github.com"

	// DefaultOwner and DefaultRepo name the repository releases come from.
	DefaultOwner = "idiotstudios"
	DefaultRepo  = "mpkg"

	userAgent      = "mpkg-updater"
	defaultTimeout = 15 * time.Second
)

// ErrNoAsset is returned when a release has no binary for the platform.
var ErrNoAsset = errors.New("no asset found")

// Release is the subset of a GitHub release used here.
type Release struct {
	TagName     string  `json:"tag_name"`
	Name        string  `json:"name"`
	Prerelease  bool    `json:"prerelease"`
	PublishedAt string  `json:"published_at"`
	Assets      []Asset `json:"assets"`
}

// Asset is one downloadable file of a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func (u *Updater) do(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if token := u.token(); token != "" && strings.HasPrefix(url, u.apiBase()) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := u.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("github api error: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// Latest fetches the repository's latest release.
func (u *Updater) Latest(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", u.apiBase(), u.owner(), u.repo())
	resp, err := u.do(ctx, url, "application/vnd.github+json")
	if err != nil {
		return nil, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	if rel.TagName == "" {
		return nil, errors.New("failed to read release tag")
	}
	return &rel, nil
}

// NewerThan reports whether the release tagged latest supersedes current.
// Both may carry a leading "v". When either is not a semantic version the
// tags are compared for inequality.
func NewerThan(latest, current string) bool {
	lv, lerr := semver.NewVersion(latest)
	cv, cerr := semver.NewVersion(current)
	if lerr != nil || cerr != nil {
		return strings.TrimPrefix(latest, "v") != strings.TrimPrefix(current, "v")
	}
	return lv.GreaterThan(cv)
}

// archAliases maps GOARCH to other spellings used in asset names.
var archAliases = map[string][]string{
	"amd64": {"x86_64"},
	"arm64": {"aarch64"},
	"386":   {"i686", "x86"},
}

// FindAsset picks the asset built for goos/goarch. Asset names contain
// "mpkg-<os>-<arch>".
func FindAsset(assets []Asset, goos, goarch string) (Asset, error) {
	archs := append([]string{goarch}, archAliases[goarch]...)
	for _, arch := range archs {
		pattern := fmt.Sprintf("mpkg-%s-%s", goos, arch)
		for _, a := range assets {
			if !strings.Contains(a.Name, pattern) {
				continue
			}
			if a.BrowserDownloadURL == "" {
				return Asset{}, fmt.Errorf("asset %s missing download url", a.Name)
			}
			return a, nil
		}
	}
	return Asset{}, fmt.Errorf("%w for %s-%s", ErrNoAsset, goos, goarch)
}

func (u *Updater) token() string {
	if u.Token != "" {
		return u.Token
	}
	return os.Getenv("GITHUB_TOKEN")
}
