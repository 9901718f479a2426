// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mpkg implements the mpkg client commands against a project
// directory and a registry.
package mpkg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yeetrun/mpkg/pkg/client"
	"github.com/yeetrun/mpkg/pkg/manifest"
	"github.com/yeetrun/mpkg/pkg/tui"
)

const (
	// PackagesDir holds installed packages, relative to the project.
	PackagesDir = "packages"
	// LoaderDir holds the loader scripts, relative to the project.
	LoaderDir = "packages/loader"

	BootstrapName = "bootstrap.mjs"
	LoaderName    = "mpkg-loader.mjs"

	gitignoreName    = ".gitignore"
	gitignoreContent = "/packages\n"
)

// App runs mpkg commands for the project rooted at Dir.
type App struct {
	Dir    string
	Config Config
	Client *client.Client
	Runner Runner

	Out   io.Writer
	Err   io.Writer
	Color tui.Colorizer
	// Verbose enables progress detail on Err.
	Verbose bool

	// ConfigPath is where Signup records the account name. Empty skips it.
	ConfigPath string
}

// New returns an App for dir using cfg. Zero fields of the result may be
// replaced before use.
func New(dir string, cfg Config) (*App, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	opts := []client.Option{
		client.WithTimeout(cfg.Timeout.Duration),
		client.WithUserAgent("mpkg/" + Version()),
	}
	if cfg.User != "" {
		opts = append(opts, client.WithBasicAuth(cfg.User, cfg.Password))
	}
	return &App{
		Dir:    abs,
		Config: cfg,
		Client: client.New(cfg.Registry, opts...),
		Runner: ExecRunner{},
		Out:    os.Stdout,
		Err:    os.Stderr,
		Color:  tui.NewColorizer(os.Stdout, true),
	}, nil
}

func (a *App) path(rel string) string {
	return filepath.Join(a.Dir, filepath.FromSlash(rel))
}

func (a *App) manifestPath() string {
	return a.path(manifest.FileName)
}

func (a *App) store() *manifest.Store {
	return manifest.NewStore(a.manifestPath(), manifest.DefaultProjectName)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.Out, format+"\n", args...)
}

func (a *App) success(format string, args ...any) {
	fmt.Fprintf(a.Out, "%s %s\n", a.Color.Green("✓"), fmt.Sprintf(format, args...))
}

func (a *App) vlogf(format string, args ...any) {
	if a.Verbose {
		fmt.Fprintf(a.Err, format+"\n", args...)
	}
}

func (a *App) spinner() *tui.Spinner {
	return tui.NewSpinner(a.Out, tui.WithColor(a.Color, tui.ColorCyan), tui.WithHideCursor(true))
}

// rel renders p relative to the project for messages.
func (a *App) rel(p string) string {
	r, err := filepath.Rel(a.Dir, p)
	if err != nil || strings.HasPrefix(r, "..") {
		return p
	}
	return filepath.ToSlash(r)
}

// checkPackageName rejects names that cannot be used as a directory under
// packages/.
func checkPackageName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) {
		return fmt.Errorf("invalid package name %q", name)
	}
	return nil
}
