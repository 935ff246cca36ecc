// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package oai

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// MaxRetryTime bounds the total time spent retrying one request,
// measured from its first attempt.
const MaxRetryTime = 60 * time.Second

// StatusError reports a non-success HTTP response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %s", e.Status)
}

// streamError marks a failure after the response started streaming.
// The service accepted the request, so these are worth retrying.
type streamError struct {
	err error
}

func (e *streamError) Error() string {
	return fmt.Sprintf("stream interrupted: %v", e.err)
}

func (e *streamError) Unwrap() error {
	return e.err
}

// retryable reports whether a failed attempt may be tried again.
// Throttling and interrupted streams qualify; other HTTP statuses and
// connection failures are terminal.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 429
	}
	var se *streamError
	return errors.As(err, &se)
}

// backoffDelay returns the delay before retry number attempt, drawn
// uniformly from [0, 2^attempt) seconds. Full jitter spreads retries
// from clients that were throttled at the same moment.
func backoffDelay(attempt int) time.Duration {
	limit := math.Pow(2, float64(attempt))
	return time.Duration(rand.Float64() * limit * float64(time.Second))
}
