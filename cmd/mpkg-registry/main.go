// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// mpkg-registry serves mpkg packages and loader scripts over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shayne/yargs"
	"github.com/yeetrun/mpkg/pkg/accounts"
	"github.com/yeetrun/mpkg/pkg/registry"
	"tailscale.com/util/must"
)

const (
	defaultAddr       = "127.0.0.1:8080"
	defaultStorageDir = "./storage"
	shutdownTimeout   = 10 * time.Second
)

// flags are the command line options. Set flags win over the config file;
// zero values fall back to it and then to the defaults.
type flags struct {
	Addr           string  `flag:"addr" help:"Listen address (default 127.0.0.1:8080)"`
	StorageDir     string  `flag:"storage-dir" help:"Package storage directory (default ./storage)"`
	LoaderDir      string  `flag:"loader-dir" help:"Loader scripts directory (default <storage-dir>/loader)"`
	AccountsFile   string  `flag:"accounts-file" help:"Accounts database; empty disables signup"`
	RequireAuth    bool    `flag:"require-auth" help:"Require an account to upload"`
	UploadRate     float64 `flag:"upload-rate" help:"Uploads per second per client; 0 disables limiting"`
	UploadBurst    int     `flag:"upload-burst" help:"Upload burst size per client"`
	MaxUploadBytes int64   `flag:"max-upload-bytes" help:"Largest accepted upload (default 512 MiB)"`
	Config         string  `flag:"config" help:"TOML config file with the same keys as the flags"`
	Verbose        bool    `flag:"verbose" short:"v" help:"Log every request"`
}

// serverConfig is the resolved configuration, also the shape of the
// --config file.
type serverConfig struct {
	Addr           string  `toml:"addr"`
	StorageDir     string  `toml:"storage_dir"`
	LoaderDir      string  `toml:"loader_dir"`
	AccountsFile   string  `toml:"accounts_file"`
	RequireAuth    bool    `toml:"require_auth"`
	UploadRate     float64 `toml:"upload_rate"`
	UploadBurst    int     `toml:"upload_burst"`
	MaxUploadBytes int64   `toml:"max_upload_bytes"`
	Verbose        bool    `toml:"verbose"`
}

var helpConfig = yargs.HelpConfig{
	Command: yargs.CommandInfo{
		Name:        "mpkg-registry",
		Description: "Serve mpkg packages and loader scripts over HTTP.",
		Examples: []string{
			"mpkg-registry --addr :8080 --storage-dir /var/lib/mpkg",
			"mpkg-registry --config /etc/mpkg/registry.toml",
		},
	},
}

func loadConfig(args []string) (serverConfig, error) {
	res, err := yargs.ParseFlags[flags](args)
	if err != nil {
		return serverConfig{}, err
	}
	if len(res.Args) > 0 {
		return serverConfig{}, fmt.Errorf("unexpected argument %q", res.Args[0])
	}
	f := res.Flags

	var cfg serverConfig
	if f.Config != "" {
		if _, err := toml.DecodeFile(f.Config, &cfg); err != nil {
			return serverConfig{}, fmt.Errorf("failed to parse %s: %w", f.Config, err)
		}
	}
	set(&cfg.Addr, f.Addr)
	set(&cfg.StorageDir, f.StorageDir)
	set(&cfg.LoaderDir, f.LoaderDir)
	set(&cfg.AccountsFile, f.AccountsFile)
	set(&cfg.RequireAuth, f.RequireAuth)
	set(&cfg.UploadRate, f.UploadRate)
	set(&cfg.UploadBurst, f.UploadBurst)
	set(&cfg.MaxUploadBytes, f.MaxUploadBytes)
	set(&cfg.Verbose, f.Verbose)

	override(&cfg.Addr, defaultAddr)
	override(&cfg.StorageDir, defaultStorageDir)
	override(&cfg.LoaderDir, filepath.Join(cfg.StorageDir, "loader"))
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = registry.DefaultMaxUploadBytes
	}
	if cfg.RequireAuth && cfg.AccountsFile == "" {
		return serverConfig{}, errors.New("--require-auth needs --accounts-file")
	}
	return cfg, nil
}

// set replaces *dst with v when v is not zero. Boolean flags can therefore
// only turn a setting on; a file's true cannot be turned off from the
// command line.
func set[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// override fills *dst with v when *dst is still zero.
func override[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

func newRegistry(cfg serverConfig) (*registry.Registry, error) {
	storage, err := registry.NewFilesystemStorage(cfg.StorageDir)
	if err != nil {
		return nil, err
	}
	rcfg := registry.Config{
		Loaders:        registry.NewLoaderStore(cfg.LoaderDir),
		RequireAuth:    cfg.RequireAuth,
		UploadRate:     cfg.UploadRate,
		UploadBurst:    cfg.UploadBurst,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Verbose:        cfg.Verbose,
	}
	if cfg.AccountsFile != "" {
		st, err := accounts.Open(cfg.AccountsFile)
		if err != nil {
			return nil, err
		}
		rcfg.Accounts = st
		log.Printf("accounts: %s (%d users)", cfg.AccountsFile, st.Len())
	}
	return registry.New(storage, rcfg), nil
}

func main() {
	args := os.Args[1:]
	if slices.Contains(args, "--help") || slices.Contains(args, "-h") {
		fmt.Print(yargs.GenerateGlobalHelp(helpConfig, flags{}))
		return
	}
	cfg, err := loadConfig(args)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("storage dir: %v", must.Get(filepath.Abs(cfg.StorageDir)))
	log.Printf("loader dir: %v", cfg.LoaderDir)
	reg := must.Get(newRegistry(cfg))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           reg,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on http://%s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("registry server error: %v", err)
	}
}
