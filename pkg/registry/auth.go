// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"encoding/json"
	"errors"
	"log"
	"mime"
	"net/http"

	"github.com/yeetrun/mpkg/pkg/accounts"
)

// Accounts authenticates publishers and registers new ones.
// *accounts.Store implements it.
type Accounts interface {
	Create(username, password string) error
	Authenticate(username, password string) error
}

var _ Accounts = (*accounts.Store)(nil)

// authorized reports whether req may upload. Without RequireAuth every
// request is allowed.
func (r *Registry) authorized(req *http.Request) bool {
	if !r.cfg.RequireAuth {
		return true
	}
	if r.cfg.Accounts == nil {
		return false
	}
	user, pass, ok := req.BasicAuth()
	if !ok {
		return false
	}
	if err := r.cfg.Accounts.Authenticate(user, pass); err != nil {
		r.vlog("upload auth for %q rejected: %v", user, err)
		return false
	}
	return true
}

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type signupResponse struct {
	Username string `json:"username"`
}

// handleSignup registers an account from a JSON or form body.
func (r *Registry) handleSignup(w http.ResponseWriter, req *http.Request) {
	if r.cfg.Accounts == nil {
		WriteError(w, http.StatusNotFound, ErrCodeNotFound, "accounts are disabled", nil)
		return
	}
	req.Body = http.MaxBytesReader(w, req.Body, maxManifestBytes)

	var sr signupRequest
	ct, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(req.Body).Decode(&sr); err != nil {
			WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body", nil)
			return
		}
	} else {
		if err := req.ParseForm(); err != nil {
			WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid form body", nil)
			return
		}
		sr.Username = req.PostForm.Get("username")
		sr.Password = req.PostForm.Get("password")
	}
	if sr.Username == "" || sr.Password == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, "username and password are required", nil)
		return
	}

	err := r.cfg.Accounts.Create(sr.Username, sr.Password)
	switch {
	case err == nil:
	case errors.Is(err, accounts.ErrConflict):
		WriteError(w, http.StatusConflict, ErrCodeConflict, accounts.ErrConflict.Error(), nil)
		return
	case errors.Is(err, accounts.ErrInvalid):
		WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	default:
		r.internalError(w, "create account", err)
		return
	}
	log.Printf("registered account %q", sr.Username)
	writeJSON(w, http.StatusCreated, signupResponse{Username: sr.Username})
}
