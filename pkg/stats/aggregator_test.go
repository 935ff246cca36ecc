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
package stats

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAggregatorValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		errMsg  string
	}{
		{
			name:    "missing clients",
			config:  Config{},
			wantErr: true,
			errMsg:  "clients must be greater than zero",
		},
		{
			name:   "defaults applied",
			config: Config{Clients: 4},
		},
		{
			name:   "full config",
			config: Config{Clients: 20, Window: time.Minute, DumpInterval: time.Second, JSONOutput: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, err := NewAggregator(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, agg)
		})
	}
}

// successStats builds a completed 200 request starting at start with the
// given end-to-end latency and generated token count.
func successStats(start time.Time, e2e time.Duration, generated int) *RequestStats {
	gen := generated
	return &RequestStats{
		RequestStartTime:   start,
		ResponseStatusCode: 200,
		ResponseTime:       start.Add(e2e / 4),
		FirstTokenTime:     start.Add(e2e / 2),
		ResponseEndTime:    start.Add(e2e),
		ContextTextTokens:  500,
		GeneratedTokens:    &gen,
		Calls:              1,
	}
}

func TestAggregateRequestCounts(t *testing.T) {
	agg, err := NewAggregator(Config{Clients: 10, Output: &bytes.Buffer{}})
	require.NoError(t, err)

	now := time.Now()
	agg.RecordNewRequest()
	agg.RecordNewRequest()
	agg.RecordNewRequest()
	agg.AggregateRequest(successStats(now, 2*time.Second, 100))
	agg.AggregateRequest(&RequestStats{RequestStartTime: now, ResponseStatusCode: 429, Calls: 3})
	agg.AggregateRequest(&RequestStats{RequestStartTime: now, ResponseStatusCode: 500, Calls: 1})

	agg.startTime = now.Add(-30 * time.Second)
	snap := agg.Snapshot()

	assert.Equal(t, 0, snap.Processing)
	assert.Equal(t, 3, snap.Completed)
	assert.Equal(t, 3, snap.Requests)
	assert.Equal(t, 2, snap.Failures)
	assert.Equal(t, 1, snap.Throttled)
}

func TestProcessingCappedAtClients(t *testing.T) {
	agg, err := NewAggregator(Config{Clients: 2, Output: &bytes.Buffer{}})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		agg.RecordNewRequest()
	}
	agg.startTime = time.Now()
	snap := agg.Snapshot()
	assert.Equal(t, 2, snap.Processing)
}

func TestSnapshotRates(t *testing.T) {
	agg, err := NewAggregator(Config{Clients: 10, Window: time.Minute, Output: &bytes.Buffer{}})
	require.NoError(t, err)

	now := time.Now()
	agg.RecordNewRequest()
	agg.RecordNewRequest()
	agg.AggregateRequest(successStats(now, time.Second, 100))
	agg.AggregateRequest(successStats(now, 2*time.Second, 200))

	// 30 seconds into the run the dynamic window is 30s.
	agg.startTime = now.Add(-30 * time.Second)
	snap := agg.Snapshot()

	assert.Equal(t, 4.0, snap.RPM)
	assert.Equal(t, 2000.0, snap.TPM.ContextText)
	assert.Equal(t, 0.0, snap.TPM.ContextImage)
	assert.Equal(t, 600.0, snap.TPM.Gen)
	assert.Equal(t, 2600.0, snap.TPM.Total)
	assert.Equal(t, 1.5, snap.E2E.Avg)
	assert.Equal(t, 500, snap.ContextTPRAvg)
	assert.Equal(t, 150, snap.GenTPR.Avg)
}

func TestSnapshotNotAvailableRules(t *testing.T) {
	agg, err := NewAggregator(Config{Clients: 10, Output: &bytes.Buffer{}})
	require.NoError(t, err)
	agg.startTime = time.Now().Add(-10 * time.Second)

	snap := agg.Snapshot()
	assert.Equal(t, "n/a", snap.RPM)
	assert.Equal(t, "n/a", snap.E2E.Avg)
	assert.Equal(t, "n/a", snap.E2E.P95)
	assert.Equal(t, "n/a", snap.TPM.ContextText)
	assert.Equal(t, 0.0, snap.TPM.Total)
	assert.Equal(t, "n/a", snap.ContextTPRAvg)
	assert.Equal(t, "n/a", snap.Util.Avg)

	// A single sample yields averages but no percentiles.
	agg.RecordNewRequest()
	agg.AggregateRequest(successStats(time.Now(), time.Second, 50))
	snap = agg.Snapshot()
	assert.NotEqual(t, "n/a", snap.E2E.Avg)
	assert.Equal(t, "n/a", snap.E2E.P95)
	assert.NotEqual(t, "n/a", snap.GenTPR.Avg)
	assert.Equal(t, "n/a", snap.GenTPR.P10)
	assert.Equal(t, "n/a", snap.GenTPR.P90)
}

func TestSnapshotJSONFieldOrder(t *testing.T) {
	agg, err := NewAggregator(Config{Clients: 10, Output: &bytes.Buffer{}})
	require.NoError(t, err)
	agg.startTime = time.Now().Add(-5 * time.Second)
	agg.RecordNewRequest()
	util := 89.2
	st := successStats(time.Now(), time.Second, 100)
	st.DeploymentUtilization = &util
	agg.AggregateRequest(st)

	line, err := agg.Snapshot().JSON()
	require.NoError(t, err)

	keys := []string{
		"run_seconds", "timestamp", "rpm", "processing", "completed",
		"failures", "throttled", "requests", "tpm", "context_text",
		"context_image", "gen", "total", "e2e", "ttft", "tbt",
		"context_tpr_avg", "gen_tpr", "10th", "90th", "util",
	}
	last := -1
	for _, key := range keys {
		idx := strings.Index(line, `"`+key+`"`)
		assert.Greater(t, idx, last, "key %q out of order in %s", key, line)
		last = idx
	}
	assert.Contains(t, line, `"util":{"avg":"89.2%"`)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, float64(1), decoded["completed"])
}

func TestUtilizationTracksFailedRequests(t *testing.T) {
	agg, err := NewAggregator(Config{Clients: 10, Output: &bytes.Buffer{}})
	require.NoError(t, err)
	agg.startTime = time.Now().Add(-10 * time.Second)

	util := 97.0
	agg.RecordNewRequest()
	agg.AggregateRequest(&RequestStats{
		RequestStartTime:      time.Now(),
		ResponseStatusCode:    429,
		DeploymentUtilization: &util,
		Calls:                 1,
	})

	snap := agg.Snapshot()
	assert.Equal(t, "97.0%", snap.Util.Avg)
	assert.Equal(t, 1, snap.Throttled)
}

func TestLatencyAdjustmentSubtracted(t *testing.T) {
	agg, err := NewAggregator(Config{
		Clients:           1,
		LatencyAdjustment: 100 * time.Millisecond,
		Output:            &bytes.Buffer{},
	})
	require.NoError(t, err)
	agg.startTime = time.Now().Add(-10 * time.Second)

	agg.RecordNewRequest()
	agg.AggregateRequest(successStats(time.Now(), 2*time.Second, 100))

	snap := agg.Snapshot()
	assert.Equal(t, 1.9, snap.E2E.Avg)
}

func TestSlideWindowDropsOldSamples(t *testing.T) {
	agg, err := NewAggregator(Config{Clients: 10, Window: time.Minute, Output: &bytes.Buffer{}})
	require.NoError(t, err)
	agg.startTime = time.Now().Add(-5 * time.Minute)

	old := time.Now().Add(-2 * time.Minute)
	agg.RecordNewRequest()
	agg.AggregateRequest(successStats(old, time.Second, 100))
	agg.RecordNewRequest()
	agg.AggregateRequest(successStats(time.Now(), time.Second, 100))

	agg.slideWindow()
	snap := agg.Snapshot()

	// Only the recent request stays in the window; totals are unaffected.
	assert.Equal(t, 1.0, snap.RPM)
	assert.Equal(t, 2, snap.Completed)
}

func TestStopEmitsFinalSnapshot(t *testing.T) {
	var buf bytes.Buffer
	agg, err := NewAggregator(Config{Clients: 1, JSONOutput: true, Output: &buf})
	require.NoError(t, err)

	agg.Start()
	agg.RecordNewRequest()
	agg.AggregateRequest(successStats(time.Now(), time.Second, 10))
	agg.Stop()
	agg.Stop() // second stop is a no-op

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var snap map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &snap))
	assert.Equal(t, float64(1), snap["completed"])
}

func TestDumpRawStats(t *testing.T) {
	var buf bytes.Buffer
	agg, err := NewAggregator(Config{Clients: 1, JSONOutput: true, Output: &buf})
	require.NoError(t, err)

	agg.RecordNewRequest()
	agg.AggregateRequest(successStats(time.Now(), time.Second, 10))
	agg.DumpRawStats()

	var payload map[string][]map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	records, ok := payload["Raw call stats:"]
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, float64(200), records[0]["response_status_code"])
	assert.Equal(t, float64(1), records[0]["calls"])
	assert.NotContains(t, records[0], "input_messages")
}

func TestHumanSnapshotFormatting(t *testing.T) {
	snap := Snapshot{
		Timestamp:     "2024-01-01 12:00:30",
		RPM:           12.5,
		Processing:    18,
		Completed:     125,
		Requests:      125,
		TPM:           TokenRates{ContextText: 6250.0, ContextImage: 0.0, Gen: 1875.0, Total: 8125.0},
		E2E:           LatencyView{Avg: 2.147, P95: 3.204},
		TTFT:          LatencyView{Avg: 0.512, P95: "n/a"},
		TBT:           LatencyView{Avg: 0.021, P95: 0.034},
		ContextTPRAvg: 500,
		GenTPR:        GenTPRView{P10: 120, Avg: 150, P90: 180},
		Util:          UtilView{Avg: "89.2%", P95: "n/a"},
	}

	line := snap.Human()
	assert.True(t, strings.HasPrefix(line, "2024-01-01 12:00:30 rpm: 12.5"))
	assert.Contains(t, line, "total: 8,125")
	assert.Contains(t, line, "ttft_95th: n/a")
	assert.Contains(t, line, "util_avg: 89.2%")
	assert.NotContains(t, line, "\n")
}
