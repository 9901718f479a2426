// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpkg

import (
	"context"
	"fmt"

	"github.com/yeetrun/mpkg/pkg/selfupdate"
)

// Update replaces the mpkg binary with the latest release. With check set
// it only reports whether one is available. A nil updater uses the default
// GitHub repository.
func (a *App) Update(ctx context.Context, u *selfupdate.Updater, check bool) error {
	if u == nil {
		u = &selfupdate.Updater{}
	}
	current := Version()
	if check {
		rel, err := u.Latest(ctx)
		if err != nil {
			return err
		}
		if selfupdate.NewerThan(rel.TagName, current) {
			a.printf("Update available: %s (current %s)", rel.TagName, current)
		} else {
			a.printf("Already up to date (%s)", current)
		}
		return nil
	}

	if u.Logf == nil {
		u.Logf = a.printf
	}
	res, err := u.Update(ctx, current)
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	switch {
	case res.Pending:
		a.printf("Move %s over the mpkg executable to finish the update", res.Path)
	case res.Updated:
		a.success("Updated successfully to %s", res.Latest)
	}
	return nil
}
