// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpkg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/yeetrun/mpkg/pkg/fileutil"
)

// Runner starts external programs such as node and npm.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ExitError reports a program that exited unsuccessfully.
type ExitError struct {
	Name string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
}

// ExecRunner runs programs with the process's stdio attached.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Name: name, Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("failed to run %s: %w", name, err)
	}
	return nil
}

// Run executes file under node with the project's bootstrap loader.
func (a *App) Run(ctx context.Context, file string, args []string) error {
	loader := a.path(LoaderDir + "/" + BootstrapName)
	ok, err := fileutil.Exists(loader)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("Loader not found at %s", loader)
	}
	a.vlogf("node %s %s %v", loader, file, args)
	return a.Runner.Run(ctx, a.Dir, "node", append([]string{loader, file}, args...)...)
}
