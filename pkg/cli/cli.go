// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cli holds the mpkg command metadata and flag schemas.
package cli

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/shayne/yargs"
)

type FlagSpec struct {
	ConsumesValue bool
}

type CommandInfo struct {
	Name        string
	Description string
	Usage       string
	Examples    []string
	Hidden      bool
	Aliases     []string
}

// GlobalFlags are accepted anywhere before "--".
type GlobalFlags struct {
	Registry string        `flag:"registry" help:"Registry base URL (MPKG_REGISTRY)"`
	Timeout  time.Duration `flag:"timeout" help:"Request timeout, e.g. 30s (MPKG_TIMEOUT)"`
	Dir      string        `flag:"dir" short:"C" help:"Project directory (default: current directory)"`
	Config   string        `flag:"config" help:"Config file (MPKG_CONFIG, default ~/.mpkg/config.toml)"`
	NoColor  bool          `flag:"no-color" help:"Disable colored output"`
	Verbose  bool          `flag:"verbose" short:"v" help:"Log requests and progress to stderr"`
}

type InitFlags struct {
	LoaderVersion string
}

type PublishFlags struct {
	Name        string
	Version     string
	Description string
	User        string
	Password    string
}

type ListFlags struct {
	Format string
}

type UpdateFlags struct {
	Check bool
}

type VersionFlags struct {
	JSON bool
}

type initFlagsParsed struct {
	LoaderVersion string `flag:"loader-version" help:"Loader release to download (default: latest)"`
}

type publishFlagsParsed struct {
	Name        string `flag:"name" help:"Package name (default: pkg.jsonc name)"`
	Version     string `flag:"version" help:"Package version (default: pkg.jsonc version)"`
	Description string `flag:"description" short:"d" help:"Package description"`
	User        string `flag:"user" short:"u" help:"Registry account (MPKG_USER)"`
	Password    string `flag:"password" help:"Registry password (MPKG_PASSWORD)"`
}

type listFlagsParsed struct {
	Format string `flag:"format" default:"table" help:"Output format: table, json or yaml"`
}

type updateFlagsParsed struct {
	Check bool `flag:"check" help:"Only report whether an update is available"`
}

type versionFlagsParsed struct {
	JSON bool `flag:"json"`
}

// Formats accepted by --format.
var Formats = []string{"table", "json", "yaml"}

var commandInfos = map[string]CommandInfo{
	"init": {Name: "init", Description: "Create pkg.jsonc and .gitignore, and download the loaders", Usage: "NAME [--loader-version=latest]", Examples: []string{
		"mpkg init my_project",
		"mpkg init my_project --loader-version=v0.3.0",
	}},
	"install": {Name: "install", Description: "Download a package from the registry into packages/", Usage: "ID", Examples: []string{
		"mpkg install 3f2b8c1e-5a4d-4e1b-9c7a-2d6f0e8b1a93",
	}, Aliases: []string{"i"}},
	"install-npm": {Name: "install-npm", Description: "Install an npm package into packages/node_modules", Usage: "NAME", Examples: []string{
		"mpkg install-npm left-pad",
	}},
	"package": {Name: "package", Description: "Zip a directory into a package archive", Usage: "DIR [OUT]", Examples: []string{
		"mpkg package ./src",
		"mpkg package ./src dist/app.zip",
	}, Aliases: []string{"pack"}},
	"publish": {Name: "publish", Description: "Upload a package archive to the registry", Usage: "ARCHIVE [--name=...] [--version=...] [--description=...]", Examples: []string{
		"mpkg publish src.zip",
		"mpkg publish app.zip --name app --version 1.2.0 -u alice",
	}},
	"list": {Name: "list", Description: "List packages in the registry", Usage: "[--format=table|json|yaml]", Aliases: []string{"ls"}},
	"search": {Name: "search", Description: "Search registry packages by name or description", Usage: "QUERY [--format=table|json|yaml]", Examples: []string{
		"mpkg search http",
	}},
	"run": {Name: "run", Description: "Run a script with the mpkg loader under node", Usage: "FILE [ARGS...]", Examples: []string{
		"mpkg run main.js",
		"mpkg run main.js -- --port 8080",
	}},
	"signup": {Name: "signup", Description: "Create a registry account", Usage: "USERNAME [--password=...]"},
	"update": {Name: "update", Description: "Update mpkg to the latest release", Usage: "[--check]"},
	"version": {Name: "version", Description: "Show the mpkg version", Usage: "[--json]"},
}

var commandFlagSpecs = map[string]map[string]FlagSpec{
	"init":        flagSpecsFromStruct(initFlagsParsed{}),
	"publish":     flagSpecsFromStruct(publishFlagsParsed{}),
	"list":        flagSpecsFromStruct(listFlagsParsed{}),
	"search":      flagSpecsFromStruct(listFlagsParsed{}),
	"signup":      flagSpecsFromStruct(publishFlagsParsed{}),
	"update":      flagSpecsFromStruct(updateFlagsParsed{}),
	"version":     flagSpecsFromStruct(versionFlagsParsed{}),
	"install":     {},
	"install-npm": {},
	"package":     {},
	"run":         {},
}

func CommandNames() []string {
	names := make([]string, 0, len(commandInfos))
	for name := range commandInfos {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func CommandInfos() map[string]CommandInfo {
	return commandInfos
}

func FlagSpecs(command string) map[string]FlagSpec {
	return commandFlagSpecs[command]
}

// HelpConfig builds the yargs help metadata for the mpkg binary.
func HelpConfig() yargs.HelpConfig {
	subcommands := make(map[string]yargs.SubCommandInfo, len(commandInfos))
	for name, info := range commandInfos {
		subcommands[name] = toSubCommandInfo(name, info)
	}
	return yargs.HelpConfig{
		Command: yargs.CommandInfo{
			Name:        "mpkg",
			Description: "A minimal package manager for node projects.",
			Examples: []string{
				"mpkg init my_project",
				"mpkg install <id>",
				"mpkg package ./src && mpkg publish src.zip",
				"mpkg run main.js",
			},
		},
		SubCommands: subcommands,
	}
}

func toSubCommandInfo(name string, info CommandInfo) yargs.SubCommandInfo {
	return yargs.SubCommandInfo{
		Name:        name,
		Description: info.Description,
		Usage:       info.Usage,
		Examples:    info.Examples,
		Hidden:      info.Hidden,
		Aliases:     info.Aliases,
	}
}

// ParseGlobalFlags strips the global flags from args.
func ParseGlobalFlags(args []string) (GlobalFlags, []string, error) {
	result, err := yargs.ParseKnownFlags[GlobalFlags](args, yargs.KnownFlagsOptions{})
	if err != nil {
		return GlobalFlags{}, nil, err
	}
	return result.Flags, result.RemainingArgs, nil
}

func ParseInit(args []string) (InitFlags, []string, error) {
	parsed, err := parseFlags[initFlagsParsed](trimCommand("init", args))
	if err != nil {
		return InitFlags{}, nil, err
	}
	return InitFlags{LoaderVersion: parsed.Flags.LoaderVersion}, parsed.Args, nil
}

func ParsePublish(args []string) (PublishFlags, []string, error) {
	return parsePublishLike("publish", args)
}

// ParseSignup accepts --password and --user like publish.
func ParseSignup(args []string) (PublishFlags, []string, error) {
	return parsePublishLike("signup", args)
}

func parsePublishLike(command string, args []string) (PublishFlags, []string, error) {
	parsed, err := parseFlags[publishFlagsParsed](trimCommand(command, args))
	if err != nil {
		return PublishFlags{}, nil, err
	}
	flags := PublishFlags{
		Name:        parsed.Flags.Name,
		Version:     parsed.Flags.Version,
		Description: parsed.Flags.Description,
		User:        parsed.Flags.User,
		Password:    parsed.Flags.Password,
	}
	return flags, parsed.Args, nil
}

// ParseList handles both list and search.
func ParseList(command string, args []string) (ListFlags, []string, error) {
	parsed, err := parseFlags[listFlagsParsed](trimCommand(command, args))
	if err != nil {
		return ListFlags{}, nil, err
	}
	if !slices.Contains(Formats, parsed.Flags.Format) {
		return ListFlags{}, nil, fmt.Errorf("invalid --format %q (want %s)", parsed.Flags.Format, strings.Join(Formats, ", "))
	}
	return ListFlags{Format: parsed.Flags.Format}, parsed.Args, nil
}

func ParseUpdate(args []string) (UpdateFlags, []string, error) {
	parsed, err := parseFlags[updateFlagsParsed](trimCommand("update", args))
	if err != nil {
		return UpdateFlags{}, nil, err
	}
	return UpdateFlags{Check: parsed.Flags.Check}, parsed.Args, nil
}

func ParseVersion(args []string) (VersionFlags, []string, error) {
	parsed, err := parseFlags[versionFlagsParsed](trimCommand("version", args))
	if err != nil {
		return VersionFlags{}, nil, err
	}
	return VersionFlags{JSON: parsed.Flags.JSON}, parsed.Args, nil
}

// ParseArgs returns the positional arguments of a command without flags.
func ParseArgs(command string, args []string) ([]string, error) {
	parsed, err := parseFlags[struct{}](trimCommand(command, args))
	if err != nil {
		return nil, err
	}
	return parsed.Args, nil
}

// ParseRun returns the script and its arguments. Everything from the first
// flag on belongs to the script.
func ParseRun(args []string) (string, []string, error) {
	parseArgs, extraArgs := splitArgsForParsing(trimCommand("run", args), commandFlagSpecs["run"])
	parsed, err := parseFlags[struct{}](parseArgs)
	if err != nil {
		return "", nil, err
	}
	argsOut := append(parsed.Args, extraArgs...)
	if len(argsOut) == 0 {
		return "", nil, fmt.Errorf("'run' requires a script to run")
	}
	return argsOut[0], argsOut[1:], nil
}

// trimCommand drops the command name yargs leaves at args[0], accepting
// any of its aliases.
func trimCommand(command string, args []string) []string {
	if len(args) == 0 {
		return args
	}
	if args[0] == command || slices.Contains(commandInfos[command].Aliases, args[0]) {
		return args[1:]
	}
	return args
}

type parsedFlags[T any] struct {
	Flags  T
	Args   []string
	Parser *yargs.Parser
}

func parseFlags[T any](args []string) (parsedFlags[T], error) {
	result, err := yargs.ParseFlags[T](args)
	if err != nil {
		return parsedFlags[T]{}, err
	}
	argsOut := append([]string{}, result.Args...)
	if len(result.RemainingArgs) > 0 {
		argsOut = append(argsOut, result.RemainingArgs...)
	}
	return parsedFlags[T]{Flags: result.Flags, Args: argsOut, Parser: result.Parser}, nil
}

func splitArgsForParsing(args []string, specs map[string]FlagSpec) ([]string, []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			if i+1 < len(args) {
				return args[:i], args[i+1:]
			}
			return args[:i], nil
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			continue
		}
		name := arg
		if idx := strings.Index(name, "="); idx != -1 {
			name = name[:idx]
		}
		if !strings.HasPrefix(arg, "--") && len(name) > 2 {
			name = name[:2]
		}
		spec, ok := specs[name]
		if !ok {
			return args[:i], args[i:]
		}
		if spec.ConsumesValue && !strings.Contains(arg, "=") && len(arg) == len(name) {
			i++
		}
	}
	return args, nil
}

func flagSpecsFromStruct(v any) map[string]FlagSpec {
	specs := make(map[string]FlagSpec)
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return specs
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Tag.Get("flag")
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		spec := FlagSpec{ConsumesValue: consumesValue(field.Type)}
		specs["--"+name] = spec
		if short := field.Tag.Get("short"); short != "" {
			specs["-"+short] = spec
		}
	}
	return specs
}

func consumesValue(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() != reflect.Bool
}

func RequireArgs(subcmd string, args []string, min, max int) error {
	if len(args) < min {
		return fmt.Errorf("'%s' requires at least %d argument(s), got %d", subcmd, min, len(args))
	}
	if max >= 0 && len(args) > max {
		return fmt.Errorf("'%s' takes at most %d argument(s), got %d", subcmd, max, len(args))
	}
	return nil
}
