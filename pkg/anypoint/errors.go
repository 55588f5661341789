// Copyright 2024 Netflexity, Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package anypoint

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrAuthFailed marks an authentication rejection by the upstream API.
	// It is never retried and clears the token cache.
	ErrAuthFailed = errors.New("anypoint: authentication failed")

	// ErrNotFound marks a destination that vanished between enumeration and
	// the stats fetch.
	ErrNotFound = errors.New("anypoint: not found")
)

// StatusError carries the HTTP status of a failed upstream call.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("anypoint: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("anypoint: unexpected status %d: %s", e.Code, e.Body)
}

// retryable reports whether an upstream failure is worth another attempt.
// All 5xx responses, 429 and transport-level failures qualify; every other
// 4xx is permanent.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429
	}
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// Deadline and connection errors surface as url.Error wrapping net errors,
	// which the check above unwraps. Anything else transport-shaped is treated
	// as transient too.
	return errors.Is(err, context.DeadlineExceeded)
}
