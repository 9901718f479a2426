// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// Error codes carried in error responses.
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeTooManyRequests = "TOOMANYREQUESTS"
	ErrCodeTooLarge        = "TOO_LARGE"
	ErrCodeInternal        = "INTERNAL"
)

// ErrorDescriptor is one entry of an error response.
type ErrorDescriptor struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

func (e ErrorDescriptor) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Errors []ErrorDescriptor `json:"errors"`
}

// WriteError answers with a single-entry error response. Stale length and
// encoding headers are dropped first; on compressed routes the wrapping
// writer sets its own Content-Encoding again when the header is written.
func WriteError(w http.ResponseWriter, status int, code, message string, detail any) {
	h := w.Header()
	h.Del("Content-Length")
	h.Del("Content-Encoding")
	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := ErrorResponse{Errors: []ErrorDescriptor{{Code: code, Message: message, Detail: detail}}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("encode error response: %v", err)
	}
}
