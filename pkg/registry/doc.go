// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry implements the mpkg package registry: an id-keyed store
// of zip archives and the HTTP API that uploads, lists and downloads them.
//
// # Storage
//
// FilesystemStorage keeps one directory per package under its root:
//
//	<root>/<id>/package.zip
//	<root>/<id>/manifest.json
//
// Ids are random UUIDs assigned on upload. Archives are written to a
// temporary file in the package directory and renamed into place, so a
// reader never observes a partial archive. manifest.json records the
// publisher's manifest together with the archive size, its sha256 digest
// and the upload time.
//
// LoaderStore serves the runtime loader scripts from a separate root laid
// out as <root>/<version>/{bootstrap.mjs,mpkg-loader.mjs}.
//
// # HTTP API
//
//	POST /upload                    multipart: "manifest" JSON + "file" archive
//	GET  /download/{id}             archive bytes, Content-Length, Mpkg-Digest
//	GET  /packages                  JSON array of ids
//	GET  /packages/{id}             JSON package info
//	GET  /search?q=                 JSON array of package info
//	GET  /loader/{version}/{slot}   slot 1 bootstrap, slot 2 loader
//	POST /signup                    create a publisher account
//	GET  /                          HTML index
//	GET  /metrics                   Prometheus metrics
//
// Upload parts are read as a stream; the archive part is copied straight
// into storage. The parts may arrive in either order. An upload that ends
// without a manifest is removed and rejected.
//
// Errors are JSON:
//
//	{"errors":[{"code":"NOT_FOUND","message":"package not found"}]}
//
// # Compression
//
// JSON, HTML and loader responses honor Accept-Encoding (zstd, gzip,
// deflate). Archive downloads are sent as stored. Upload bodies may be sent
// with a Content-Encoding.
package registry
