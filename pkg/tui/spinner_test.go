// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tui

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinnerPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf)
	s.Start("Downloading abc...")
	s.Update("Extracting abc...")
	s.Done("Installed abc")

	want := "Downloading abc...\nExtracting abc...\n✓ Installed abc\n"
	if got := buf.String(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestSpinnerAnimates(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, WithAnimation(true), WithInterval(5*time.Millisecond), WithFrames([]string{"a", "b"}))
	s.Start("working")
	time.Sleep(30 * time.Millisecond)
	s.Stop(true)

	out := buf.String()
	if !strings.Contains(out, "\r\033[Ka working") || !strings.Contains(out, "\r\033[Kb working") {
		t.Fatalf("output %q is missing frames", out)
	}
	if !strings.HasSuffix(out, "\r\033[K") {
		t.Fatalf("output %q does not end with a cleared line", out)
	}
	// Stop is idempotent.
	s.Stop(true)
}

func TestColorizerDisabled(t *testing.T) {
	c := NewColorizer(new(bytes.Buffer), true)
	if c.Enabled {
		t.Fatal("colorizer enabled for a non-terminal writer")
	}
	if got := c.Red("error: "); got != "error: " {
		t.Fatalf("Red = %q, want plain text", got)
	}
	if got := (Colorizer{Enabled: true}).Green("ok"); got == "ok" || !strings.Contains(got, "ok") {
		t.Fatalf("enabled Green = %q, want escape-wrapped ok", got)
	}
}
