// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compress provides HTTP content-coding negotiation and the
// matching encoders and decoders for zstd, gzip and deflate.
//
// # Server side
//
// Wrap a handler to compress its responses for clients that ask for it:
//
//	mux.Handle("GET /packages", compress.Handler(listHandler))
//
// Handler picks a coding with SelectEncoding, sets Content-Encoding and
// Vary, and drops Content-Length. Responses that are already compressed
// (zip archives) should not be wrapped.
//
// Request bodies sent with a Content-Encoding header are unwrapped with
// DecompressRequest before they are read.
//
// # Client side
//
// A client that sets Accept-Encoding itself does not get automatic
// decoding from net/http, so it calls DecompressResponse:
//
//	req.Header.Set("Accept-Encoding", compress.AcceptEncoding)
//	resp, err := hc.Do(req)
//	...
//	if err := compress.DecompressResponse(resp); err != nil {
//	    // handle error
//	}
//
// # Content Negotiation
//
// SelectEncoding honors quality values and the "*" wildcard. When
// qualities are equal the preference order is zstd > gzip > deflate.
//
//	compress.SelectEncoding("zstd;q=0.5, gzip;q=0.9") // "gzip"
package compress
