// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpkg

import (
	"context"
	"fmt"
	"os"

	"github.com/yeetrun/mpkg/pkg/archive"
)

// Install downloads package id from the registry, installs it under
// packages/<id> and records it in pkg.jsonc.
func (a *App) Install(ctx context.Context, id string) error {
	if err := checkPackageName(id); err != nil {
		return err
	}
	pkgs := a.path(PackagesDir)
	if err := os.MkdirAll(pkgs, 0o755); err != nil {
		return err
	}

	// Stage the download next to its destination so a failed transfer
	// never touches packages/<id>.
	tmp, err := os.CreateTemp(pkgs, ".download-*.zip")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	sp := a.spinner()
	sp.Start(fmt.Sprintf("Downloading %s from %s/download/%s...", id, a.Client.BaseURL(), id))
	n, err := a.Client.Download(ctx, id, tmp)
	if err != nil {
		sp.Stop(true)
		return fmt.Errorf("failed to download package: %w", err)
	}
	sp.Update(fmt.Sprintf("Extracting %s...", id))
	dst := a.path(PackagesDir + "/" + id)
	err = archive.Install(tmp, n, dst)
	sp.Stop(true)
	if err != nil {
		return fmt.Errorf("failed to install %s: %w", id, err)
	}
	a.success("Package extracted to %s", a.rel(dst))
	return a.addDependency(id)
}

// InstallNpm installs an npm package into packages/node_modules and records
// it as npm/<name>.
func (a *App) InstallNpm(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("package name is required")
	}
	a.printf("Installing %s via npm...", name)
	if err := os.MkdirAll(a.path(PackagesDir+"/node_modules"), 0o755); err != nil {
		return err
	}
	if err := a.Runner.Run(ctx, a.Dir, "npm", "install", name, "--prefix", PackagesDir+"/"); err != nil {
		return fmt.Errorf("npm install failed: %w", err)
	}
	if err := a.addDependency("npm/" + name); err != nil {
		return err
	}
	a.success("Installed %s via npm", name)
	return nil
}

func (a *App) addDependency(key string) error {
	if _, err := a.store().AddDependency(key); err != nil {
		return fmt.Errorf("failed to update pkg.jsonc: %w", err)
	}
	a.printf("Updated pkg.jsonc with dependency: %s", key)
	return nil
}
