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

package errors

import "fmt"

var (
	// ErrUnauthorized is returned when a request fails authentication.
	ErrUnauthorized = NewUnauthorizedError("Unauthorized")
	// ErrBadRequest is returned when a malformed request is received.
	ErrBadRequest = NewBadRequestError("invalid request")
)

type baseError struct {
	msg string
}

func (b *baseError) Error() string {
	return b.msg
}

// NewUnauthorizedError returns a new UnauthorizedError
func NewUnauthorizedError(msg string) error {
	return &UnauthorizedError{
		baseError{
			msg: msg,
		},
	}
}

// UnauthorizedError is returned when a request is unauthorized
type UnauthorizedError struct {
	baseError
}

// NewBadRequestError returns a new BadRequestError
func NewBadRequestError(msg string, a ...interface{}) error {
	return &BadRequestError{
		baseError{
			msg: fmt.Sprintf(msg, a...),
		},
	}
}

// BadRequestError is returned when a malformed request is received
type BadRequestError struct {
	baseError
}

// NewIgnoredError returns a new IgnoredError
func NewIgnoredError(reason string, a ...interface{}) error {
	return &IgnoredError{
		baseError: baseError{
			msg: fmt.Sprintf(reason, a...),
		},
	}
}

// IgnoredError signals that an event was dropped by the filter. It is not
// a failure; the front answers 200 with the reason.
type IgnoredError struct {
	baseError
}

// Reason returns the human readable ignore reason.
func (i *IgnoredError) Reason() string {
	return i.msg
}

// NewRelayError returns a new RelayError
func NewRelayError(msg string, a ...interface{}) error {
	return &RelayError{
		baseError{
			msg: fmt.Sprintf(msg, a...),
		},
	}
}

// RelayError is returned when publishing a check request to the event
// queue fails. The delivery is lost; GitHub may redeliver.
type RelayError struct {
	baseError
}
