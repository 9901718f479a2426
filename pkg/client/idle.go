// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// watchdog cancels a request after d passes without any bytes moving in
// either direction. A slow but steady transfer is never cut off.
type watchdog struct {
	d      time.Duration
	cancel context.CancelFunc

	mu    sync.Mutex
	timer *time.Timer
}

// watch attaches a watchdog to req. It returns req unchanged and a nil
// watchdog when d is not positive.
func watch(req *http.Request, d time.Duration) (*http.Request, *watchdog) {
	if d <= 0 {
		return req, nil
	}
	ctx, cancel := context.WithCancel(req.Context())
	w := &watchdog{d: d, cancel: cancel}
	w.timer = time.AfterFunc(d, cancel)
	req = req.WithContext(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		req.Body = &idleBody{ReadCloser: req.Body, w: w, keep: true}
	}
	return req, w
}

func (w *watchdog) kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.d)
	}
}

func (w *watchdog) stop() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	w.cancel()
}

// idleBody kicks the watchdog on every read. Closing a response body
// stops it; request bodies are closed by the transport and leave it
// running (keep).
type idleBody struct {
	io.ReadCloser
	w    *watchdog
	keep bool
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.w.kick()
	}
	return n, err
}

func (b *idleBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.keep {
		b.w.stop()
	}
	return err
}
