// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package archive converts directory trees to zip archives and back.
//
// Archives hold file entries (forward-slash relative paths, deflate payload)
// and directory entries (relative path with a trailing slash). The source
// root itself is never an entry. Extraction refuses any entry that would land
// outside the destination directory.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/zip"
	"github.com/yeetrun/mpkg/pkg/fileutil"
)

var (
	// ErrNotFound is returned when the source directory does not exist.
	ErrNotFound = errors.New("source not found")
	// ErrCorruptArchive is returned when the input cannot be read as a zip archive.
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrPathTraversal is returned when an entry would resolve outside the
	// extraction root.
	ErrPathTraversal = errors.New("archive entry escapes destination")
	// ErrUnsupportedEntry is returned for symlinks and other special files.
	ErrUnsupportedEntry = errors.New("unsupported archive entry")
)

type entry struct {
	rel  string // slash separated, relative to the source root
	path string
	dir  bool
	info fs.FileInfo
}

// Create writes a zip archive of src into w.
func Create(w io.Writer, src string) error {
	entries, err := collect(src, "")
	if err != nil {
		return err
	}
	return writeArchive(w, entries)
}

// CreateFile writes a zip archive of src to out. The archive is written to a
// temporary file and renamed into place. When out lives inside src it is
// left out of the archive.
func CreateFile(src, out string) error {
	absOut, err := filepath.Abs(out)
	if err != nil {
		return err
	}
	// The tree is walked before the temporary output exists so the
	// in-progress archive is never picked up as an entry.
	entries, err := collect(src, absOut)
	if err != nil {
		return err
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeArchive(pw, entries))
	}()
	_, err = fileutil.WriteFrom(out, pr, 0o644)
	pr.CloseWithError(err)
	return err
}

func collect(src, skip string) ([]entry, error) {
	src, err := filepath.Abs(src)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("expected directory, got %q", src)
	}
	return walk(src, skip)
}

func writeArchive(w io.Writer, entries []entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := writeEntry(zw, e); err != nil {
			zw.Close()
			return fmt.Errorf("add %s: %w", e.rel, err)
		}
	}
	return zw.Close()
}

// walk collects every entry below src. fastwalk invokes the callback from
// several goroutines so results are gathered under a lock and sorted.
func walk(src, skip string) ([]entry, error) {
	var (
		mu      sync.Mutex
		entries []entry
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == src || p == skip {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: symlink %s", ErrUnsupportedEntry, p)
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return fmt.Errorf("%w: %s", ErrUnsupportedEntry, p)
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		e := entry{rel: filepath.ToSlash(rel), path: p, dir: d.IsDir(), info: info}
		if e.dir {
			e.rel += "/"
		}
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return strings.Compare(a.rel, b.rel)
	})
	return entries, nil
}

func writeEntry(zw *zip.Writer, e entry) error {
	hdr := &zip.FileHeader{
		Name:     e.rel,
		Modified: e.info.ModTime(),
	}
	if e.dir {
		hdr.Method = zip.Store
		hdr.SetMode(fs.ModeDir | 0o755)
		_, err := zw.CreateHeader(hdr)
		return err
	}
	hdr.Method = zip.Deflate
	hdr.SetMode(e.info.Mode().Perm())
	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(fw, f)
	return err
}

// Extract unpacks the zip archive held by r into dst, creating dst if
// needed. Entries are validated before anything is written for them.
func Extract(r io.ReaderAt, size int64, dst string) error {
	zr, err := zip.NewReader(r, size)
	if zr == nil {
		return fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}
	// A reader returned alongside an error flags insecure names only; every
	// entry is validated below.
	dst, err = filepath.Abs(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, f := range zr.File {
		if err := extractEntry(f, dst); err != nil {
			return err
		}
	}
	return nil
}

// ExtractFile unpacks the archive at archivePath into dst.
func ExtractFile(archivePath, dst string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	return Extract(f, st.Size(), dst)
}

func extractEntry(f *zip.File, dst string) error {
	name, err := cleanEntryName(f.Name)
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	target, err := securejoin.SecureJoin(dst, filepath.FromSlash(name))
	if err != nil {
		return fmt.Errorf("resolve %q: %w", f.Name, err)
	}
	if !isSubpath(dst, target) {
		return fmt.Errorf("%w: %q", ErrPathTraversal, f.Name)
	}

	mode := f.Mode()
	switch {
	case strings.HasSuffix(f.Name, "/") || mode.IsDir():
		return os.MkdirAll(target, 0o755)
	case mode&fs.ModeSymlink != 0, !mode.IsRegular():
		return fmt.Errorf("%w: %q", ErrUnsupportedEntry, f.Name)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %q: %w", ErrCorruptArchive, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	src := &readErrRecorder{r: rc}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		if src.err != nil {
			return fmt.Errorf("%w: read %q: %w", ErrCorruptArchive, f.Name, src.err)
		}
		return err
	}
	return out.Close()
}

// cleanEntryName normalizes an entry name and rejects absolute and parent
// traversal paths. It returns "" for entries naming the root.
func cleanEntryName(raw string) (string, error) {
	name := strings.ReplaceAll(raw, `\`, "/")
	if path.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, raw)
	}
	name = path.Clean(name)
	if name == "." || name == "" {
		return "", nil
	}
	if name == ".." || strings.HasPrefix(name, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, raw)
	}
	return name, nil
}

func isSubpath(root, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// readErrRecorder remembers read failures so decompression errors can be
// told apart from write failures on the destination.
type readErrRecorder struct {
	r   io.Reader
	err error
}

func (r *readErrRecorder) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}
