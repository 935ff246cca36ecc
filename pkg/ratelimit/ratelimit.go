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

// Package ratelimit paces request starts with a token bucket.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Limiter gates the start of new requests. Backoff returns zero when
// the caller may proceed immediately, otherwise the duration to wait
// before asking again.
type Limiter interface {
	Backoff() time.Duration
}

// Unlimited never delays a request.
type Unlimited struct{}

// Backoff always grants a slot.
func (Unlimited) Backoff() time.Duration { return 0 }

// TokenBucket enforces a sustained request rate. The bucket holds up to
// one period worth of tokens and starts empty, so a fresh run ramps up
// at the configured rate instead of bursting.
type TokenBucket struct {
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket creates a bucket that admits rate requests per period.
func NewTokenBucket(rate float64, period time.Duration) (*TokenBucket, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("rate must be greater than zero")
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be greater than zero")
	}
	return &TokenBucket{
		maxTokens:  rate,
		refillRate: rate / period.Seconds(),
		lastRefill: time.Now(),
	}, nil
}

// Backoff consumes a token when one is available and returns zero.
// Otherwise it returns the time until the next token accrues.
func (b *TokenBucket) Backoff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(b.maxTokens, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return 0
	}
	deficit := 1.0 - b.tokens
	return time.Duration(deficit / b.refillRate * float64(time.Second))
}
