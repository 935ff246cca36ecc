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
package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimitedNeverDelays(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 100; i++ {
		assert.Equal(t, time.Duration(0), l.Backoff())
	}
}

func TestNewTokenBucketValidation(t *testing.T) {
	tests := []struct {
		name   string
		rate   float64
		period time.Duration
		errMsg string
	}{
		{name: "zero rate", rate: 0, period: time.Minute, errMsg: "rate must be greater than zero"},
		{name: "negative rate", rate: -5, period: time.Minute, errMsg: "rate must be greater than zero"},
		{name: "zero period", rate: 10, period: 0, errMsg: "period must be greater than zero"},
		{name: "valid", rate: 60, period: time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, err := NewTokenBucket(tt.rate, tt.period)
			if tt.errMsg != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, bucket)
		})
	}
}

func TestTokenBucketStartsEmpty(t *testing.T) {
	bucket, err := NewTokenBucket(60, time.Minute)
	require.NoError(t, err)

	// One token per second refill; a fresh bucket makes callers wait.
	backoff := bucket.Backoff()
	assert.Greater(t, backoff, 900*time.Millisecond)
	assert.LessOrEqual(t, backoff, time.Second)
}

func TestTokenBucketAdmitsAtRate(t *testing.T) {
	bucket, err := NewTokenBucket(6000, time.Minute)
	require.NoError(t, err)

	// 100 tokens/second: a token accrues every 10ms.
	backoff := bucket.Backoff()
	require.Greater(t, backoff, time.Duration(0))
	time.Sleep(backoff + 5*time.Millisecond)
	assert.Equal(t, time.Duration(0), bucket.Backoff())
}

func TestTokenBucketCapsAccrual(t *testing.T) {
	bucket, err := NewTokenBucket(10, time.Minute)
	require.NoError(t, err)

	// Simulate a long idle period; tokens must cap at one period worth.
	bucket.mu.Lock()
	bucket.lastRefill = time.Now().Add(-time.Hour)
	bucket.mu.Unlock()

	granted := 0
	for i := 0; i < 30; i++ {
		if bucket.Backoff() == 0 {
			granted++
		}
	}
	assert.Equal(t, 10, granted)
}

func TestTokenBucketBackoffShrinksAsTokensAccrue(t *testing.T) {
	bucket, err := NewTokenBucket(60, time.Minute)
	require.NoError(t, err)

	first := bucket.Backoff()
	time.Sleep(50 * time.Millisecond)
	second := bucket.Backoff()
	assert.Less(t, second, first)
}
