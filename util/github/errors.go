// Copyright 2024 Finatext Ltd.
//
//    Licensed under the Apache License, Version 2.0 (the "License"); you may
//    not use this file except in compliance with the License. You may obtain
//    a copy of the License at
//
//         http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
//    WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
//    License for the specific language governing permissions and limitations
//    under the License.

package github

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v72/github"
)

type ErrorKind string

const (
	// KindNetwork covers transport failures before an HTTP status was
	// received, including timeouts.
	KindNetwork ErrorKind = "network"
	// KindHTTP covers non-2xx responses from the API.
	KindHTTP ErrorKind = "http"
	// KindDecode covers responses that could not be parsed.
	KindDecode ErrorKind = "decode"
)

// APIError is the typed failure of one GitHub API operation. Callers use
// Retriable to decide whether a retry could help.
type APIError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Retriable  bool
	Err        error
}

func (e *APIError) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("github %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("github %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func wrapAPIError(op string, err error, resp *github.Response) error {
	if err == nil {
		return nil
	}
	apiErr := &APIError{Op: op, Err: err}

	var ghErr *github.ErrorResponse
	switch {
	case errors.As(err, &ghErr):
		apiErr.Kind = KindHTTP
		apiErr.StatusCode = ghErr.Response.StatusCode
	case resp != nil && resp.StatusCode >= http.StatusBadRequest:
		apiErr.Kind = KindHTTP
		apiErr.StatusCode = resp.StatusCode
	default:
		apiErr.Kind = KindNetwork
	}

	switch apiErr.Kind {
	case KindNetwork:
		apiErr.Retriable = true
	case KindHTTP:
		apiErr.Retriable = apiErr.StatusCode >= http.StatusInternalServerError ||
			apiErr.StatusCode == http.StatusTooManyRequests
	}
	return apiErr
}
