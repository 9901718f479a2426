// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tui renders mpkg's terminal output.
package tui

import (
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

const (
	ColorRed    = color.FgRed
	ColorGreen  = color.FgGreen
	ColorYellow = color.FgYellow
	ColorCyan   = color.FgCyan
	ColorDim    = color.FgHiBlack
)

type Colorizer struct {
	Enabled bool
}

// NewColorizer returns a Colorizer for w. Color is only used when enabled
// is set, NO_COLOR is unset, TERM is not dumb and w is a terminal.
func NewColorizer(w io.Writer, enabled bool) Colorizer {
	if !enabled || color.NoColor {
		return Colorizer{}
	}
	if os.Getenv("NO_COLOR") != "" {
		return Colorizer{}
	}
	if t := os.Getenv("TERM"); t == "dumb" {
		return Colorizer{}
	}
	return Colorizer{Enabled: IsTerminal(w)}
}

func (c Colorizer) Wrap(attr color.Attribute, text string) string {
	if !c.Enabled {
		return text
	}
	col := color.New(attr)
	col.EnableColor()
	return col.Sprint(text)
}

func (c Colorizer) Red(text string) string { return c.Wrap(ColorRed, text) }
func (c Colorizer) Green(text string) string { return c.Wrap(ColorGreen, text) }
func (c Colorizer) Yellow(text string) string { return c.Wrap(ColorYellow, text) }
func (c Colorizer) Dim(text string) string { return c.Wrap(ColorDim, text) }

var isTerminalFn = term.IsTerminal

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isTerminalFn(int(f.Fd()))
}
