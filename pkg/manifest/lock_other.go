// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package manifest

import "os"

// Advisory locks are unix only; elsewhere the in-process mutex is the only
// guard.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
