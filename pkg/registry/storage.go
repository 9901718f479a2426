// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/mpkg/pkg/fileutil"
)

const (
	// ArchiveName is the file holding a stored package's archive.
	ArchiveName = "package.zip"
	// InfoName is the sidecar holding a stored package's metadata.
	InfoName = "manifest.json"
)

var (
	// ErrNotFound indicates the package (or loader asset) does not exist.
	ErrNotFound = errors.New("not found")
)

// PackageManifest is the metadata a publisher submits with an archive.
type PackageManifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// PackageInfo describes a stored package.
type PackageInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name,omitempty"`
	Version     string        `json:"version,omitempty"`
	Description string        `json:"description,omitempty"`
	Size        int64         `json:"size"`
	Digest      digest.Digest `json:"digest"`
	Uploaded    time.Time     `json:"uploaded"`
}

// Manifest returns the publisher supplied part of the info.
func (pi *PackageInfo) Manifest() PackageManifest {
	return PackageManifest{Name: pi.Name, Version: pi.Version, Description: pi.Description}
}

// Package is an open stored archive. Callers must Close it.
type Package struct {
	ID     string
	Size   int64
	Digest digest.Digest // empty when no sidecar was recorded
	File   *os.File
}

// Close closes the underlying file.
func (p *Package) Close() error { return p.File.Close() }

// Storage is the registry's id-keyed package store.
type Storage interface {
	// Put streams r into a newly allocated package recorded under m.
	Put(ctx context.Context, r io.Reader, m PackageManifest) (*PackageInfo, error)
	// SetManifest replaces the publisher manifest recorded for id.
	SetManifest(ctx context.Context, id string, m PackageManifest) (*PackageInfo, error)
	// Get opens the archive for id for streaming.
	Get(ctx context.Context, id string) (*Package, error)
	// Info returns the recorded metadata for id.
	Info(ctx context.Context, id string) (*PackageInfo, error)
	// List returns the ids of all stored packages.
	List(ctx context.Context) ([]string, error)
	// Search returns packages whose name or description contains query.
	Search(ctx context.Context, query string) ([]PackageInfo, error)
	// Delete removes a package.
	Delete(ctx context.Context, id string) error
}

// FilesystemStorage implements Storage with one directory per package.
type FilesystemStorage struct {
	rootDir string
}

var _ Storage = (*FilesystemStorage)(nil)

// NewFilesystemStorage creates a filesystem-backed store rooted at rootDir.
func NewFilesystemStorage(rootDir string) (*FilesystemStorage, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}
	return &FilesystemStorage{rootDir: rootDir}, nil
}

// Root returns the storage root.
func (s *FilesystemStorage) Root() string { return s.rootDir }

// validID reports whether id is a canonical UUID string. Anything else is
// never joined onto a filesystem path.
func validID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

func (s *FilesystemStorage) packageDir(id string) string {
	return filepath.Join(s.rootDir, id)
}

func (s *FilesystemStorage) archivePath(id string) string {
	return filepath.Join(s.rootDir, id, ArchiveName)
}

func (s *FilesystemStorage) infoPath(id string) string {
	return filepath.Join(s.rootDir, id, InfoName)
}

// Put allocates a new id, streams r into <id>/package.zip through a
// temporary file in the same directory, and writes the sidecar. The id
// directory is removed on any failure.
func (s *FilesystemStorage) Put(ctx context.Context, r io.Reader, m PackageManifest) (_ *PackageInfo, err error) {
	id := uuid.New().String()
	dir := s.packageDir(id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create package directory: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	pf, err := renameio.TempFile(dir, s.archivePath(id))
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	defer pf.Cleanup()

	digester := digest.Canonical.Digester()
	n, err := io.Copy(io.MultiWriter(pf, digester.Hash()), &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := pf.Chmod(0o644); err != nil {
		return nil, fmt.Errorf("chmod upload: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("complete upload: %w", err)
	}

	info := &PackageInfo{
		ID:          id,
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Size:        n,
		Digest:      digester.Digest(),
		Uploaded:    time.Now().UTC().Truncate(time.Second),
	}
	if err := s.writeInfo(info); err != nil {
		return nil, err
	}
	return info, nil
}

// SetManifest merges m into the sidecar for id.
func (s *FilesystemStorage) SetManifest(ctx context.Context, id string, m PackageManifest) (*PackageInfo, error) {
	info, err := s.Info(ctx, id)
	if err != nil {
		return nil, err
	}
	info.Name = m.Name
	info.Version = m.Version
	info.Description = m.Description
	if err := s.writeInfo(info); err != nil {
		return nil, err
	}
	return info, nil
}

func (s *FilesystemStorage) writeInfo(info *PackageInfo) error {
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encode package info: %w", err)
	}
	if err := fileutil.WriteFile(s.infoPath(info.ID), append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write package info: %w", err)
	}
	return nil
}

// Get opens the archive for id.
func (s *FilesystemStorage) Get(ctx context.Context, id string) (*Package, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	f, err := os.Open(s.archivePath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open package: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat package: %w", err)
	}
	p := &Package{ID: id, Size: st.Size(), File: f}
	if info, err := s.Info(ctx, id); err == nil {
		p.Digest = info.Digest
	}
	return p, nil
}

// Info reads the sidecar for id.
func (s *FilesystemStorage) Info(ctx context.Context, id string) (*PackageInfo, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	b, err := os.ReadFile(s.infoPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read package info: %w", err)
	}
	var info PackageInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, fmt.Errorf("decode package info %s: %w", id, err)
	}
	info.ID = id
	return &info, nil
}

// List returns the ids of stored packages, sorted. Directories that are not
// package ids (such as a loader root sharing the storage directory) and
// packages whose archive has not been committed yet are skipped.
func (s *FilesystemStorage) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("read storage directory: %w", err)
	}
	ids := []string{}
	for _, e := range entries {
		if !e.IsDir() || !validID(e.Name()) {
			continue
		}
		if ok, _ := fileutil.Exists(s.archivePath(e.Name())); !ok {
			continue
		}
		ids = append(ids, e.Name())
	}
	slices.Sort(ids)
	return ids, nil
}

// Search matches query case-insensitively against name and description.
// An empty query matches every package with a recorded manifest. Results
// are ordered newest first.
func (s *FilesystemStorage) Search(ctx context.Context, query string) ([]PackageInfo, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	out := []PackageInfo{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := s.Info(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if info.Name == "" {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(info.Name), q) &&
			!strings.Contains(strings.ToLower(info.Description), q) {
			continue
		}
		out = append(out, *info)
	}
	slices.SortStableFunc(out, func(a, b PackageInfo) int {
		return b.Uploaded.Compare(a.Uploaded)
	})
	return out, nil
}

// Delete removes the package directory for id.
func (s *FilesystemStorage) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	if err := os.RemoveAll(s.packageDir(id)); err != nil {
		return fmt.Errorf("delete package: %w", err)
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Loader slots and the asset each one serves.
var loaderAssets = map[string]string{
	"1": "bootstrap.mjs",
	"2": "mpkg-loader.mjs",
}

// LoaderStore serves the versioned bootstrap and loader scripts from
// <root>/<version>/<asset>.
type LoaderStore struct {
	rootDir string
}

// NewLoaderStore returns a LoaderStore rooted at rootDir. The directory is
// not required to exist; missing assets are reported as ErrNotFound.
func NewLoaderStore(rootDir string) *LoaderStore {
	return &LoaderStore{rootDir: rootDir}
}

// Open returns the asset for version and slot along with its size.
func (l *LoaderStore) Open(version, slot string) (*os.File, int64, error) {
	asset, ok := loaderAssets[slot]
	if !ok {
		return nil, 0, ErrNotFound
	}
	if version == "" || version == "." || version == ".." || strings.ContainsAny(version, `/\`) {
		return nil, 0, ErrNotFound
	}
	p, err := securejoin.SecureJoin(l.rootDir, filepath.Join(version, asset))
	if err != nil {
		return nil, 0, ErrNotFound
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("open loader: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat loader: %w", err)
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, 0, ErrNotFound
	}
	return f, st.Size(), nil
}
