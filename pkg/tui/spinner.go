// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	clearLine  = "\r\033[K"
	hideCursor = "\x1b[?25l"
	showCursor = "\x1b[?25h"
)

var DefaultFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a status line while a download or upload runs. On
// writers that are not terminals it prints each message once instead.
type Spinner struct {
	out      io.Writer
	frames   []string
	interval time.Duration
	cursor   bool // hide the cursor while animating
	animate  bool
	color    Colorizer
	attr     color.Attribute

	mu    sync.Mutex
	msg   string
	frame int
	quit  chan struct{}
	wg    sync.WaitGroup
}

type SpinnerOption func(*Spinner)

func WithFrames(frames []string) SpinnerOption {
	return func(s *Spinner) {
		if len(frames) > 0 {
			s.frames = frames
		}
	}
}

func WithInterval(d time.Duration) SpinnerOption {
	return func(s *Spinner) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithHideCursor(hide bool) SpinnerOption {
	return func(s *Spinner) { s.cursor = hide }
}

// WithAnimation forces animation on or off regardless of the writer.
func WithAnimation(animate bool) SpinnerOption {
	return func(s *Spinner) { s.animate = animate }
}

// WithColor paints the spinner frame with attr.
func WithColor(c Colorizer, attr color.Attribute) SpinnerOption {
	return func(s *Spinner) {
		s.color = c
		s.attr = attr
	}
}

func NewSpinner(out io.Writer, opts ...SpinnerOption) *Spinner {
	s := &Spinner{
		out:      out,
		frames:   DefaultFrames,
		interval: 120 * time.Millisecond,
		animate:  IsTerminal(out),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start shows msg. Calling Start on a running spinner replaces the message.
func (s *Spinner) Start(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit != nil {
		s.msg = msg
		return
	}
	s.msg = msg
	s.quit = make(chan struct{})
	if !s.animate {
		fmt.Fprintln(s.out, msg)
		return
	}
	if s.cursor {
		fmt.Fprint(s.out, hideCursor)
	}
	s.drawLocked()
	s.wg.Add(1)
	go s.run(s.quit)
}

// Update replaces the message of a running spinner.
func (s *Spinner) Update(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit == nil {
		return
	}
	s.msg = msg
	if !s.animate {
		fmt.Fprintln(s.out, msg)
		return
	}
	s.drawLocked()
}

// Stop halts the animation. With clear set the status line is erased,
// otherwise it is left in place. Stop on a stopped spinner does nothing.
func (s *Spinner) Stop(clear bool) {
	s.mu.Lock()
	quit := s.quit
	s.quit = nil
	s.mu.Unlock()
	if quit == nil || !s.animate {
		return
	}
	close(quit)
	s.wg.Wait()

	if clear {
		fmt.Fprint(s.out, clearLine)
	} else {
		fmt.Fprintln(s.out)
	}
	if s.cursor {
		fmt.Fprint(s.out, showCursor)
	}
}

// Done stops the spinner and prints msg with a check mark.
func (s *Spinner) Done(msg string) {
	s.Stop(true)
	fmt.Fprintf(s.out, "%s %s\n", s.color.Green("✓"), msg)
}

func (s *Spinner) run(quit <-chan struct{}) {
	defer s.wg.Done()
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-quit:
			return
		case <-t.C:
			s.mu.Lock()
			s.frame = (s.frame + 1) % len(s.frames)
			s.drawLocked()
			s.mu.Unlock()
		}
	}
}

// drawLocked repaints the status line. s.mu must be held.
func (s *Spinner) drawLocked() {
	frame := s.frames[s.frame%len(s.frames)]
	if s.attr != 0 {
		frame = s.color.Wrap(s.attr, frame)
	}
	line := frame
	if s.msg != "" {
		line += " " + s.msg
	}
	fmt.Fprint(s.out, clearLine+line)
}
