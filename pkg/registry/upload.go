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
	"mime/multipart"
	"net/http"
	"strings"
)

// Multipart field names of an upload.
const (
	FieldFile     = "file"
	FieldManifest = "manifest"
)

const maxManifestBytes = 64 << 10

// badRequestError is a client-caused upload failure. Its text is sent
// back in the response.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string        { return e.msg }
func (e *badRequestError) Is(target error) bool { return target == ErrBadRequest }

var (
	// ErrBadRequest matches every client-caused upload failure below.
	ErrBadRequest = errors.New("bad request")

	ErrMissingManifest = &badRequestError{"missing manifest"}
	ErrMissingFile     = &badRequestError{"missing file"}
	ErrDuplicatePart   = &badRequestError{"duplicate part"}
	ErrInvalidManifest = &badRequestError{"invalid manifest"}
	ErrMalformedUpload = &badRequestError{"malformed multipart body"}

	// ErrUploadTooLarge is returned when the body exceeds the upload limit.
	ErrUploadTooLarge = errors.New("upload too large")
)

// upload tracks one multipart upload as its parts arrive. Either the file
// or the manifest may come first; each may appear at most once.
type upload struct {
	storage Storage

	manifest *PackageManifest
	info     *PackageInfo // set once the file part is stored
}

// receive consumes every part of mr. On error any package it stored is
// removed again.
func (u *upload) receive(ctx context.Context, mr *multipart.Reader) (_ *PackageInfo, err error) {
	defer func() {
		if err != nil && u.info != nil {
			u.storage.Delete(context.WithoutCancel(ctx), u.info.ID)
			u.info = nil
		}
	}()
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if isTooLarge(err) {
				return nil, ErrUploadTooLarge
			}
			return nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
		}
		err = u.part(ctx, part)
		part.Close()
		if err != nil {
			return nil, err
		}
	}
	if u.manifest == nil {
		return nil, ErrMissingManifest
	}
	if u.info == nil {
		return nil, ErrMissingFile
	}
	return u.info, nil
}

func (u *upload) part(ctx context.Context, part *multipart.Part) error {
	switch part.FormName() {
	case FieldManifest:
		if u.manifest != nil {
			return fmt.Errorf("%w: %s", ErrDuplicatePart, FieldManifest)
		}
		m, err := decodeManifest(part)
		if err != nil {
			return err
		}
		u.manifest = m
		if u.info != nil {
			info, err := u.storage.SetManifest(ctx, u.info.ID, *m)
			if err != nil {
				return err
			}
			u.info = info
		}
		return nil
	case FieldFile:
		if u.info != nil {
			return fmt.Errorf("%w: %s", ErrDuplicatePart, FieldFile)
		}
		var m PackageManifest
		if u.manifest != nil {
			m = *u.manifest
		}
		src := &partReader{r: part}
		info, err := u.storage.Put(ctx, src, m)
		if err != nil {
			switch {
			case isTooLarge(err):
				return ErrUploadTooLarge
			case src.err != nil:
				return fmt.Errorf("%w: %v", ErrMalformedUpload, src.err)
			}
			return err
		}
		u.info = info
		return nil
	default:
		_, err := io.Copy(io.Discard, part)
		if isTooLarge(err) {
			return ErrUploadTooLarge
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedUpload, err)
		}
		return nil
	}
}

// partReader records read failures of a part so a truncated body can be
// told apart from a storage write failure.
type partReader struct {
	r   io.Reader
	err error
}

func (p *partReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if err != nil && err != io.EOF {
		p.err = err
	}
	return n, err
}

func decodeManifest(r io.Reader) (*PackageManifest, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxManifestBytes+1))
	if err != nil {
		if isTooLarge(err) {
			return nil, ErrUploadTooLarge
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
	}
	if len(b) > maxManifestBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrInvalidManifest, maxManifestBytes)
	}
	var m PackageManifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidManifest)
	}
	return &m, nil
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
