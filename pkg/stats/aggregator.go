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

// Package stats aggregates per-request measurements into sliding-window
// statistics and emits them as periodic snapshots.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config holds the settings for an Aggregator.
type Config struct {
	// Clients caps the reported number of in-flight requests.
	Clients int
	// Window is the sliding aggregation window.
	Window time.Duration
	// DumpInterval is the time between periodic snapshots.
	DumpInterval time.Duration
	// ExpectedGenTokens is the number of tokens each response is asked
	// to generate, recorded for run context.
	ExpectedGenTokens int
	// JSONOutput selects JSON lines over the human-readable format.
	JSONOutput bool
	// IncludeContent carries request and response bodies into the raw
	// call stats.
	IncludeContent bool
	// LatencyAdjustment is subtracted from every latency measurement to
	// compensate for network distance to the endpoint.
	LatencyAdjustment time.Duration
	// Output receives snapshot lines and the raw stats dump.
	Output io.Writer
	// Logger for diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Clients:      1,
		Window:       time.Minute,
		DumpInterval: 5 * time.Second,
		Output:       os.Stdout,
	}
}

// Aggregator collects request stats from concurrent workers and
// periodically emits sliding-window snapshots. Raw per-call records are
// retained for the whole run.
type Aggregator struct {
	cfg Config

	mu                  sync.Mutex
	startTime           time.Time
	processingCount     int
	totalCount          int
	failedCount         int
	throttledCount      int
	requestTimestamps   series
	requestLatencies    series
	callTries           series
	responseLatencies   series
	firstTokenLatencies series
	tokenLatencies      series
	contextTextTokens   series
	contextImageTokens  series
	generatedTokens     series
	utilizations        series
	raw                 []rawRecord

	started atomic.Bool
	stopped atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewAggregator creates an Aggregator from config.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.Clients <= 0 {
		return nil, fmt.Errorf("clients must be greater than zero")
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.DumpInterval <= 0 {
		cfg.DumpInterval = 5 * time.Second
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Aggregator{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}, nil
}

// Start launches the periodic snapshot loop. It is a no-op if the
// aggregator was already started.
func (a *Aggregator) Start() {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	a.mu.Lock()
	a.startTime = time.Now()
	a.mu.Unlock()
	a.cfg.Logger.Info("aggregation started",
		zap.Int("clients", a.cfg.Clients),
		zap.Duration("window", a.cfg.Window),
		zap.Int("expected_gen_tokens", a.cfg.ExpectedGenTokens))
	a.wg.Add(1)
	go a.run()
}

func (a *Aggregator) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.DumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.dump()
			a.slideWindow()
		}
	}
}

// Stop terminates the snapshot loop and emits one final snapshot so the
// last requests are always reported. Safe to call more than once.
func (a *Aggregator) Stop() {
	if !a.stopped.CompareAndSwap(false, true) {
		return
	}
	close(a.stopCh)
	a.wg.Wait()
	a.dump()
}

// RecordNewRequest marks one request as in flight.
func (a *Aggregator) RecordNewRequest() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processingCount++
}

// AggregateRequest folds a finished request into the window. Failed
// requests count toward failure and throttle totals only; successful
// ones feed the latency and token series. The raw record is always
// retained.
func (a *Aggregator) AggregateRequest(st *RequestStats) {
	adjustment := a.cfg.LatencyAdjustment.Seconds()
	a.mu.Lock()
	defer a.mu.Unlock()

	a.processingCount--
	a.totalCount++
	if !st.RequestStartTime.IsZero() {
		a.callTries.add(st.RequestStartTime, float64(st.Calls))
	}
	if st.ResponseStatusCode != 200 {
		a.failedCount++
		if st.ResponseStatusCode == 429 {
			a.throttledCount++
		}
	} else {
		if !st.ResponseEndTime.IsZero() && !st.RequestStartTime.IsZero() {
			latency := st.ResponseEndTime.Sub(st.RequestStartTime).Seconds() - adjustment
			a.requestLatencies.add(st.RequestStartTime, latency)
			if latency > a.cfg.Window.Seconds() {
				a.cfg.Logger.Warn(fmt.Sprintf(
					"request completed in %.2f seconds, while aggregation-window is %.2f seconds, "+
						"consider increasing aggregation-window to at least 2x your typical request latency",
					latency, a.cfg.Window.Seconds()))
			}
		} else {
			a.cfg.Logger.Warn("skipping request latency calculation as response end time or request start time is unset")
		}

		a.requestTimestamps.add(st.RequestStartTime, float64(st.RequestStartTime.UnixNano())/1e9)

		if !st.ResponseTime.IsZero() && !st.RequestStartTime.IsZero() {
			a.responseLatencies.add(st.RequestStartTime, st.ResponseTime.Sub(st.RequestStartTime).Seconds()-adjustment)
		}
		if !st.FirstTokenTime.IsZero() && !st.RequestStartTime.IsZero() {
			a.firstTokenLatencies.add(st.RequestStartTime, st.FirstTokenTime.Sub(st.RequestStartTime).Seconds()-adjustment)
		}

		if st.GeneratedTokens != nil && *st.GeneratedTokens == 0 {
			a.cfg.Logger.Error("generated_tokens is zero")
		} else if st.GeneratedTokens != nil && !st.ResponseEndTime.IsZero() && !st.FirstTokenTime.IsZero() {
			perToken := (st.ResponseEndTime.Sub(st.FirstTokenTime).Seconds() - adjustment) / float64(*st.GeneratedTokens)
			a.tokenLatencies.add(st.RequestStartTime, perToken)
		}

		if !st.RequestStartTime.IsZero() {
			a.contextTextTokens.add(st.RequestStartTime, float64(st.ContextTextTokens))
			a.contextImageTokens.add(st.RequestStartTime, float64(st.ContextImageTokens))
			if st.GeneratedTokens != nil {
				a.generatedTokens.add(st.RequestStartTime, float64(*st.GeneratedTokens))
			}
		}
	}
	if st.DeploymentUtilization != nil && !st.RequestStartTime.IsZero() {
		a.utilizations.add(st.RequestStartTime, *st.DeploymentUtilization)
	}
	a.raw = append(a.raw, st.raw(a.cfg.IncludeContent))
}

// DumpRawStats emits every retained per-call record as one JSON line.
func (a *Aggregator) DumpRawStats() {
	a.mu.Lock()
	defer a.mu.Unlock()
	records := a.raw
	if records == nil {
		records = []rawRecord{}
	}
	data, err := json.Marshal(map[string][]rawRecord{"Raw call stats:": records})
	if err != nil {
		a.cfg.Logger.Error("failed to marshal raw call stats", zap.Error(err))
		return
	}
	if _, err := fmt.Fprintln(a.cfg.Output, string(data)); err != nil {
		a.cfg.Logger.Error("failed to write raw call stats", zap.Error(err))
	}
}

// Snapshot computes the current sliding-window view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	runSeconds := int(math.Round(time.Since(a.startTime).Seconds()))
	dynamicWindow := math.Min(float64(runSeconds), a.cfg.Window.Seconds())
	if dynamicWindow < 1 {
		dynamicWindow = 1
	}

	snap := Snapshot{
		RunSeconds: runSeconds,
		Timestamp:  time.Now().Format("2006-01-02 15:04:05"),
		RPM:        notAvailable,
		Processing: min(a.cfg.Clients, a.processingCount),
		Completed:  a.totalCount,
		Failures:   a.failedCount,
		Throttled:  a.throttledCount,
		Requests:   a.totalCount,
	}
	if n := a.requestTimestamps.count(); n > 0 {
		snap.RPM = roundTo(60.0*float64(n)/dynamicWindow, 1)
	}

	totalTPM := 0.0
	perMinute := func(s *series) any {
		if s.count() == 0 {
			return notAvailable
		}
		rate := math.Round(60.0 * s.sum() / dynamicWindow)
		totalTPM += rate
		return rate
	}
	snap.TPM.ContextText = perMinute(&a.contextTextTokens)
	snap.TPM.ContextImage = perMinute(&a.contextImageTokens)
	snap.TPM.Gen = perMinute(&a.generatedTokens)
	snap.TPM.Total = totalTPM

	e2eAvg, e2eOK := a.requestLatencies.avg()
	e2eP95, e2eP95OK := a.requestLatencies.percentile(95)
	snap.E2E = LatencyView{Avg: naRound(e2eAvg, e2eOK, 3), P95: naRound(e2eP95, e2eP95OK, 3)}

	ttftAvg, ttftOK := a.firstTokenLatencies.avg()
	ttftP95, ttftP95OK := a.firstTokenLatencies.percentile(95)
	snap.TTFT = LatencyView{Avg: naRound(ttftAvg, ttftOK, 3), P95: naRound(ttftP95, ttftP95OK, 3)}

	tbtAvg, tbtOK := a.tokenLatencies.avg()
	tbtP95, tbtP95OK := a.tokenLatencies.percentile(95)
	snap.TBT = LatencyView{Avg: naRound(tbtAvg, tbtOK, 3), P95: naRound(tbtP95, tbtP95OK, 3)}

	ctxAvg, ctxOK := a.contextTextTokens.avg()
	snap.ContextTPRAvg = naInt(ctxAvg, ctxOK)

	genP10, genP10OK := a.generatedTokens.percentile(10)
	genAvg, genAvgOK := a.generatedTokens.avg()
	genP90, genP90OK := a.generatedTokens.percentile(90)
	snap.GenTPR = GenTPRView{
		P10: naInt(genP10, genP10OK),
		Avg: naInt(genAvg, genAvgOK),
		P90: naInt(genP90, genP90OK),
	}

	utilAvg, utilOK := a.utilizations.avg()
	utilP95, utilP95OK := a.utilizations.percentile(95)
	snap.Util = UtilView{Avg: naPercent(roundTo(utilAvg, 1), utilOK), P95: naPercent(roundTo(utilP95, 1), utilP95OK)}

	return snap
}

func (a *Aggregator) dump() {
	a.mu.Lock()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	var line string
	if a.cfg.JSONOutput {
		var err error
		line, err = snap.JSON()
		if err != nil {
			a.cfg.Logger.Error("failed to render snapshot", zap.Error(err))
			return
		}
	} else {
		line = snap.Human()
	}
	if _, err := fmt.Fprintln(a.cfg.Output, line); err != nil {
		a.cfg.Logger.Error("failed to write snapshot", zap.Error(err))
	}
}

// slideWindow drops samples that fell out of the aggregation window.
func (a *Aggregator) slideWindow() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	a.callTries.trimOldest(now, a.cfg.Window)
	a.requestTimestamps.trimOldest(now, a.cfg.Window)
	a.requestLatencies.trimOldest(now, a.cfg.Window)
	a.responseLatencies.trimOldest(now, a.cfg.Window)
	a.firstTokenLatencies.trimOldest(now, a.cfg.Window)
	a.tokenLatencies.trimOldest(now, a.cfg.Window)
	a.contextTextTokens.trimOldest(now, a.cfg.Window)
	a.contextImageTokens.trimOldest(now, a.cfg.Window)
	a.generatedTokens.trimOldest(now, a.cfg.Window)
	a.utilizations.trimOldest(now, a.cfg.Window)
}
