// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpkg

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/yeetrun/mpkg/pkg/client"
	"github.com/yeetrun/mpkg/pkg/manifest"
)

// PublishOptions override the manifest fields sent with an upload.
type PublishOptions struct {
	Name        string
	Version     string
	Description string
}

// Publish uploads the archive at path. Name and version default to the
// project's pkg.jsonc.
func (a *App) Publish(ctx context.Context, path string, opts PublishOptions) (*client.PackageInfo, error) {
	m, err := a.publishManifest(opts)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(a.abs(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	sp := a.spinner()
	sp.Start(fmt.Sprintf("Uploading %s v%s to %s...", m.Name, m.Version, a.Client.BaseURL()))
	info, err := a.Client.Upload(ctx, m, f)
	sp.Stop(true)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return nil, fmt.Errorf("registry requires an account; pass --user or set MPKG_USER: %w", err)
		}
		return nil, fmt.Errorf("failed to publish: %w", err)
	}
	a.success("Published %s v%s", info.Name, info.Version)
	a.printf("%s", info.ID)
	return info, nil
}

func (a *App) publishManifest(opts PublishOptions) (client.PackageManifest, error) {
	pm := client.PackageManifest{Name: opts.Name, Version: opts.Version, Description: opts.Description}
	if pm.Name == "" || pm.Version == "" {
		m, err := manifest.Load(a.manifestPath(), "")
		if err != nil {
			return pm, err
		}
		if pm.Name == "" {
			pm.Name = m.Name
		}
		if pm.Version == "" {
			pm.Version = m.Version
		}
	}
	if pm.Name == "" {
		return pm, fmt.Errorf("package name is required; run mpkg init or pass --name")
	}
	if pm.Version == "" {
		pm.Version = manifest.DefaultVersion
	}
	if _, err := semver.NewVersion(pm.Version); err != nil {
		return pm, fmt.Errorf("invalid version %q: %w", pm.Version, err)
	}
	return pm, nil
}
