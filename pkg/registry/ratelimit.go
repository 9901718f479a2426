// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"net"
	"net/http"

	"golang.org/x/time/rate"
	"tailscale.com/syncs"
)

// ipLimiter hands out one token bucket per client address.
type ipLimiter struct {
	limit rate.Limit
	burst int

	buckets syncs.Map[string, *rate.Limiter]
}

// newIPLimiter returns nil when perSecond is not positive, which disables
// limiting.
func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{limit: rate.Limit(perSecond), burst: burst}
}

func (l *ipLimiter) allow(req *http.Request) bool {
	if l == nil {
		return true
	}
	lim, _ := l.buckets.LoadOrInit(clientIP(req), func() *rate.Limiter {
		return rate.NewLimiter(l.limit, l.burst)
	})
	return lim.Allow()
}

func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
