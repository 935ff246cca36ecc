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

// Package runner drives load generation: a bounded pool of workers
// paced by a rate limiter and stopped by a composite end condition.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/surge/pkg/ratelimit"
)

const (
	// ModeOr ends the run when either bound is reached; ModeAnd only
	// once both are.
	ModeOr  = "or"
	ModeAnd = "and"

	// endCheckInterval is how often the end condition is evaluated.
	endCheckInterval = 50 * time.Millisecond
	// gracePeriod bounds the wait for in-flight requests on shutdown.
	gracePeriod = 5 * time.Second
)

// RunEndCondition decides when a run is over. Zero bounds are ignored;
// with neither bound set the run continues until cancelled.
type RunEndCondition struct {
	// Mode is ModeOr or ModeAnd. ModeAnd with a single bound behaves
	// like ModeOr.
	Mode string
	// MaxRequests ends the run after this many completed requests.
	MaxRequests int64
	// MaxDuration ends the run after this much elapsed time.
	MaxDuration time.Duration
}

// Reached reports whether the run should end.
func (c RunEndCondition) Reached(completed int64, elapsed time.Duration) bool {
	requestsSet := c.MaxRequests > 0
	durationSet := c.MaxDuration > 0
	if !requestsSet && !durationSet {
		return false
	}
	requestsMet := requestsSet && completed >= c.MaxRequests
	durationMet := durationSet && elapsed >= c.MaxDuration
	if c.Mode == ModeAnd && requestsSet && durationSet {
		return requestsMet && durationMet
	}
	return requestsMet || durationMet
}

// issueLimit returns how many requests may be started, or zero for no
// limit. Request-bounded runs cap issuance so completed counts land
// exactly on the bound; AND runs with a duration bound keep issuing
// until that bound is also met.
func (c RunEndCondition) issueLimit() int64 {
	if c.MaxRequests > 0 && (c.Mode != ModeAnd || c.MaxDuration <= 0) {
		return c.MaxRequests
	}
	return 0
}

// Config holds the settings for an Executor.
type Config struct {
	// Work performs one request. It must observe ctx cancellation.
	Work func(ctx context.Context)
	// Limiter paces request starts. Defaults to no limit.
	Limiter ratelimit.Limiter
	// Clients bounds the number of concurrent workers.
	Clients int
	// Finish runs once after the run ends and all workers drained.
	Finish func()
	// Logger for diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Executor issues Work calls from a bounded worker pool until an end
// condition is reached. An Executor runs once.
type Executor struct {
	cfg       Config
	sem       chan struct{}
	wg        sync.WaitGroup
	completed atomic.Int64
}

// NewExecutor creates an Executor from config.
func NewExecutor(config Config) (*Executor, error) {
	if config.Work == nil {
		return nil, fmt.Errorf("work function is required")
	}
	if config.Clients < 1 {
		return nil, fmt.Errorf("clients must be greater than zero")
	}
	if config.Limiter == nil {
		config.Limiter = ratelimit.Unlimited{}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Executor{
		cfg: config,
		sem: make(chan struct{}, config.Clients),
	}, nil
}

// Run issues work until cond is reached or ctx is cancelled, then
// cancels in-flight work, waits for it up to a grace period, invokes
// Finish and returns the number of completed requests.
func (e *Executor) Run(ctx context.Context, cond RunEndCondition) int64 {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	done := make(chan struct{})
	go e.watch(runCtx, cond, start, done)

	limit := cond.issueLimit()
	var issued int64
issue:
	for limit == 0 || issued < limit {
		select {
		case <-done:
			break issue
		case <-runCtx.Done():
			break issue
		case e.sem <- struct{}{}:
		}
		for {
			delay := e.cfg.Limiter.Backoff()
			if delay == 0 {
				break
			}
			select {
			case <-done:
				<-e.sem
				break issue
			case <-runCtx.Done():
				<-e.sem
				break issue
			case <-time.After(delay):
			}
		}
		issued++
		e.wg.Add(1)
		go e.work(runCtx)
	}

	select {
	case <-done:
	case <-runCtx.Done():
	}
	cancel()

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(gracePeriod):
		e.cfg.Logger.Warn("timed out waiting for in-flight requests",
			zap.Duration("grace_period", gracePeriod))
	}

	if e.cfg.Finish != nil {
		e.cfg.Finish()
	}
	return e.completed.Load()
}

func (e *Executor) work(ctx context.Context) {
	defer e.wg.Done()
	defer func() { <-e.sem }()
	e.cfg.Work(ctx)
	e.completed.Add(1)
}

// watch closes done once the end condition is reached.
func (e *Executor) watch(ctx context.Context, cond RunEndCondition, start time.Time, done chan struct{}) {
	ticker := time.NewTicker(endCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cond.Reached(e.completed.Load(), time.Since(start)) {
				close(done)
				return
			}
		}
	}
}
