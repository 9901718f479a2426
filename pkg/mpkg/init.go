// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpkg

import (
	"bytes"
	"context"
	"fmt"

	"github.com/yeetrun/mpkg/pkg/fileutil"
	"github.com/yeetrun/mpkg/pkg/manifest"
	"golang.org/x/sync/errgroup"
)

// Init prepares the project: .gitignore, pkg.jsonc and the two loader
// scripts. Existing files are left alone. loaderVersion defaults to the
// configured loader version.
func (a *App) Init(ctx context.Context, name, loaderVersion string) error {
	if name == "" {
		return fmt.Errorf("project name is required")
	}
	if loaderVersion == "" {
		loaderVersion = a.Config.LoaderVersion
	}

	gitignore := a.path(gitignoreName)
	exists, err := fileutil.Exists(gitignore)
	if err != nil {
		return err
	}
	if exists {
		a.printf(".gitignore already exists, skipping creation...")
	} else {
		if err := fileutil.WriteFile(gitignore, []byte(gitignoreContent), 0o644); err != nil {
			return fmt.Errorf("failed to write .gitignore: %w", err)
		}
		a.printf("Created .gitignore")
	}

	created, err := manifest.Create(manifest.Default(name), a.manifestPath())
	if err != nil {
		return err
	}
	if created {
		a.printf("Created %s", manifest.FileName)
	} else {
		a.printf("%s already exists, skipping creation...", manifest.FileName)
	}

	if err := a.fetchLoaders(ctx, loaderVersion); err != nil {
		return err
	}
	a.success("Initialized new project: %s", name)
	return nil
}

// fetchLoaders downloads both loader scripts concurrently and writes them
// only when both downloads succeeded.
func (a *App) fetchLoaders(ctx context.Context, version string) error {
	files := []struct {
		slot int
		name string
		buf  bytes.Buffer
	}{
		{slot: 1, name: BootstrapName},
		{slot: 2, name: LoaderName},
	}

	sp := a.spinner()
	sp.Start(fmt.Sprintf("Downloading loader %s...", version))
	g, gctx := errgroup.WithContext(ctx)
	for i := range files {
		f := &files[i]
		g.Go(func() error {
			if err := a.Client.Loader(gctx, version, f.slot, &f.buf); err != nil {
				return fmt.Errorf("failed to download %s: %w", f.name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	sp.Stop(true)
	if err != nil {
		return err
	}

	for i := range files {
		f := &files[i]
		path := a.path(LoaderDir + "/" + f.name)
		if err := fileutil.WriteFile(path, f.buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
		a.printf("Downloaded %s to %s", f.name, a.rel(path))
	}
	return nil
}
