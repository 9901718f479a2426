// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpkg

import (
	"context"
	"errors"
	"fmt"

	"github.com/yeetrun/mpkg/pkg/client"
)

// Signup creates a registry account and remembers the username in the
// config file so later publishes only need the password.
func (a *App) Signup(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	if err := a.Client.Signup(ctx, username, password); err != nil {
		if errors.Is(err, client.ErrConflict) {
			return fmt.Errorf("username %q is taken", username)
		}
		return fmt.Errorf("signup failed: %w", err)
	}
	a.success("Created account %s", username)
	if a.ConfigPath == "" || a.Config.User == username {
		return nil
	}
	cfg, err := readConfigFile(a.ConfigPath)
	if err != nil {
		return err
	}
	cfg.User = username
	if err := SaveConfig(cfg, a.ConfigPath); err != nil {
		return fmt.Errorf("failed to save %s: %w", a.ConfigPath, err)
	}
	a.vlogf("saved user to %s", a.ConfigPath)
	return nil
}
