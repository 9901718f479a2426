// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fatih/color"
	"github.com/shayne/yargs"
	"github.com/yeetrun/mpkg/pkg/cli"
	"github.com/yeetrun/mpkg/pkg/mpkg"
	"github.com/yeetrun/mpkg/pkg/tui"
	"golang.org/x/term"
)

// env is the process-wide state every handler builds its App from.
type env struct {
	global  cli.GlobalFlags
	cfg     mpkg.Config
	cfgPath string
	stdout  io.Writer
	stderr  io.Writer
}

func newEnv(global cli.GlobalFlags) (*env, error) {
	cfgPath := global.Config
	if cfgPath == "" {
		cfgPath = mpkg.DefaultConfigPath()
	}
	cfg, err := mpkg.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if global.Registry != "" {
		cfg.Registry = global.Registry
	}
	if global.Timeout > 0 {
		cfg.Timeout.Duration = global.Timeout
	}
	if global.NoColor {
		color.NoColor = true
	}
	return &env{global: global, cfg: cfg, cfgPath: cfgPath, stdout: os.Stdout, stderr: os.Stderr}, nil
}

// app builds an App. edit, when set, adjusts the config first so flags such
// as --user reach the registry client.
func (e *env) app(edit func(*mpkg.Config)) (*mpkg.App, error) {
	cfg := e.cfg
	if edit != nil {
		edit(&cfg)
	}
	a, err := mpkg.New(e.global.Dir, cfg)
	if err != nil {
		return nil, err
	}
	a.Out = e.stdout
	a.Err = e.stderr
	a.Color = tui.NewColorizer(e.stdout, !e.global.NoColor)
	a.Verbose = e.global.Verbose
	a.ConfigPath = e.cfgPath
	return a, nil
}

func (e *env) handlers() map[string]yargs.SubcommandHandler {
	return map[string]yargs.SubcommandHandler{
		"init":        e.handleInit,
		"install":     e.handleInstall,
		"install-npm": e.handleInstallNpm,
		"package":     e.handlePackage,
		"publish":     e.handlePublish,
		"list":        e.handleList,
		"search":      e.handleSearch,
		"run":         e.handleRun,
		"signup":      e.handleSignup,
		"update":      e.handleUpdate,
		"version":     e.handleVersion,
	}
}

func (e *env) handleInit(ctx context.Context, args []string) error {
	flags, rest, err := cli.ParseInit(args)
	if err != nil {
		return err
	}
	if err := cli.RequireArgs("init", rest, 1, 1); err != nil {
		return err
	}
	a, err := e.app(nil)
	if err != nil {
		return err
	}
	version := flags.LoaderVersion
	if version == "" {
		version = a.Config.LoaderVersion
	}
	return a.Init(ctx, rest[0], version)
}

func (e *env) handleInstall(ctx context.Context, args []string) error {
	rest, err := cli.ParseArgs("install", args)
	if err != nil {
		return err
	}
	if err := cli.RequireArgs("install", rest, 1, 1); err != nil {
		return err
	}
	a, err := e.app(nil)
	if err != nil {
		return err
	}
	return a.Install(ctx, rest[0])
}

func (e *env) handleInstallNpm(ctx context.Context, args []string) error {
	rest, err := cli.ParseArgs("install-npm", args)
	if err != nil {
		return err
	}
	if err := cli.RequireArgs("install-npm", rest, 1, 1); err != nil {
		return err
	}
	a, err := e.app(nil)
	if err != nil {
		return err
	}
	return a.InstallNpm(ctx, rest[0])
}

func (e *env) handlePackage(_ context.Context, args []string) error {
	rest, err := cli.ParseArgs("package", args)
	if err != nil {
		return err
	}
	if err := cli.RequireArgs("package", rest, 1, 2); err != nil {
		return err
	}
	a, err := e.app(nil)
	if err != nil {
		return err
	}
	var out string
	if len(rest) == 2 {
		out = rest[1]
	}
	_, err = a.Package(rest[0], out)
	return err
}

func (e *env) handlePublish(ctx context.Context, args []string) error {
	flags, rest, err := cli.ParsePublish(args)
	if err != nil {
		return err
	}
	if err := cli.RequireArgs("publish", rest, 1, 1); err != nil {
		return err
	}
	a, err := e.app(withCredentials(flags))
	if err != nil {
		return err
	}
	_, err = a.Publish(ctx, rest[0], mpkg.PublishOptions{
		Name:        flags.Name,
		Version:     flags.Version,
		Description: flags.Description,
	})
	return err
}

func withCredentials(flags cli.PublishFlags) func(*mpkg.Config) {
	return func(cfg *mpkg.Config) {
		if flags.User != "" {
			cfg.User = flags.User
		}
		if flags.Password != "" {
			cfg.Password = flags.Password
		}
	}
}

func (e *env) handleList(ctx context.Context, args []string) error {
	flags, rest, err := cli.ParseList("list", args)
	if err != nil {
		return err
	}
	if err := cli.RequireArgs("list", rest, 0, 0); err != nil {
		return err
	}
	a, err := e.app(nil)
	if err != nil {
		return err
	}
	return a.List(ctx, flags.Format)
}

func (e *env) handleSearch(ctx context.Context, args []string) error {
	flags, rest, err := cli.ParseList("search", args)
	if err != nil {
		return err
	}
	if err := cli.RequireArgs("search", rest, 1, 1); err != nil {
		return err
	}
	a, err := e.app(nil)
	if err != nil {
		return err
	}
	return a.Search(ctx, rest[0], flags.Format)
}

func (e *env) handleRun(ctx context.Context, args []string) error {
	file, scriptArgs, err := cli.ParseRun(args)
	if err != nil {
		return err
	}
	a, err := e.app(nil)
	if err != nil {
		return err
	}
	return a.Run(ctx, file, scriptArgs)
}

func (e *env) handleSignup(ctx context.Context, args []string) error {
	flags, rest, err := cli.ParseSignup(args)
	if err != nil {
		return err
	}
	if err := cli.RequireArgs("signup", rest, 1, 1); err != nil {
		return err
	}
	password := flags.Password
	if password == "" {
		password = e.cfg.Password
	}
	if password == "" {
		if password, err = readPassword(e.stderr); err != nil {
			return err
		}
	}
	a, err := e.app(nil)
	if err != nil {
		return err
	}
	return a.Signup(ctx, rest[0], password)
}

// readPassword prompts on the terminal without echo.
func readPassword(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password given; pass --password or set MPKG_PASSWORD")
	}
	fmt.Fprint(prompt, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

func (e *env) handleUpdate(ctx context.Context, args []string) error {
	flags, rest, err := cli.ParseUpdate(args)
	if err != nil {
		return err
	}
	if err := cli.RequireArgs("update", rest, 0, 0); err != nil {
		return err
	}
	a, err := e.app(nil)
	if err != nil {
		return err
	}
	return a.Update(ctx, nil, flags.Check)
}

type versionInfo struct {
	Version string `json:"version"`
	Go      string `json:"go"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
}

func (e *env) handleVersion(_ context.Context, args []string) error {
	flags, rest, err := cli.ParseVersion(args)
	if err != nil {
		return err
	}
	if err := cli.RequireArgs("version", rest, 0, 0); err != nil {
		return err
	}
	if !flags.JSON {
		fmt.Fprintln(e.stdout, mpkg.Version())
		return nil
	}
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(versionInfo{
		Version: mpkg.Version(),
		Go:      runtime.Version(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	})
}

// printCLIError reports err and returns the process exit code.
func printCLIError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, yargs.ErrShown) {
		return 2
	}
	code := 1
	var exitErr *mpkg.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		code = exitErr.Code
	}
	c := tui.NewColorizer(w, true)
	fmt.Fprintf(w, "%s %v\n", c.Red("error:"), err)
	return code
}

func main() {
	globalFlags, remaining, err := cli.ParseGlobalFlags(os.Args[1:])
	if err != nil {
		os.Exit(printCLIError(os.Stderr, err))
	}
	e, err := newEnv(globalFlags)
	if err != nil {
		os.Exit(printCLIError(os.Stderr, err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	helpConfig := cli.HelpConfig()
	args := yargs.ApplyAliases(remaining, helpConfig)
	err = yargs.RunSubcommandsWithGroups(ctx, args, helpConfig, cli.GlobalFlags{}, e.handlers(), nil)
	if code := printCLIError(os.Stderr, err); code != 0 {
		stop()
		os.Exit(code)
	}
}
