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
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// notAvailable fills any metric that cannot be computed from the
// current window, so readers can distinguish "no data" from zero.
const notAvailable = "n/a"

// Snapshot is one periodic view of the sliding-window statistics.
// Metric fields are either numbers or the string "n/a"; the JSON field
// order is part of the output contract.
type Snapshot struct {
	RunSeconds    int         `json:"run_seconds"`
	Timestamp     string      `json:"timestamp"`
	RPM           any         `json:"rpm"`
	Processing    int         `json:"processing"`
	Completed     int         `json:"completed"`
	Failures      int         `json:"failures"`
	Throttled     int         `json:"throttled"`
	Requests      int         `json:"requests"`
	TPM           TokenRates  `json:"tpm"`
	E2E           LatencyView `json:"e2e"`
	TTFT          LatencyView `json:"ttft"`
	TBT           LatencyView `json:"tbt"`
	ContextTPRAvg any         `json:"context_tpr_avg"`
	GenTPR        GenTPRView  `json:"gen_tpr"`
	Util          UtilView    `json:"util"`
}

// TokenRates breaks tokens-per-minute down by origin.
type TokenRates struct {
	ContextText  any `json:"context_text"`
	ContextImage any `json:"context_image"`
	Gen          any `json:"gen"`
	Total        any `json:"total"`
}

// LatencyView summarizes one latency series in seconds.
type LatencyView struct {
	Avg any `json:"avg"`
	P95 any `json:"95th"`
}

// GenTPRView summarizes generated tokens per response.
type GenTPRView struct {
	P10 any `json:"10th"`
	Avg any `json:"avg"`
	P90 any `json:"90th"`
}

// UtilView summarizes reported deployment utilization, formatted as
// percentage strings.
type UtilView struct {
	Avg any `json:"avg"`
	P95 any `json:"95th"`
}

// JSON renders the snapshot as a single JSON line.
func (s Snapshot) JSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return string(data), nil
}

// Human renders the snapshot as a single aligned line for terminals.
// Token rates carry thousands separators for readability.
func (s Snapshot) Human() string {
	printer := message.NewPrinter(language.English)
	var b strings.Builder
	b.WriteString(s.Timestamp)
	fmt.Fprintf(&b, " rpm: %-7v", s.RPM)
	fmt.Fprintf(&b, " processing: %-4d", s.Processing)
	fmt.Fprintf(&b, " completed: %-5d", s.Completed)
	fmt.Fprintf(&b, " failures: %-4d", s.Failures)
	fmt.Fprintf(&b, " throttled: %-4d", s.Throttled)
	fmt.Fprintf(&b, " requests: %-5d", s.Requests)
	fmt.Fprintf(&b, " tpm: context_text: %-8v context_image: %-6v gen: %-8v total: %-8v",
		groupedRate(printer, s.TPM.ContextText),
		groupedRate(printer, s.TPM.ContextImage),
		groupedRate(printer, s.TPM.Gen),
		groupedRate(printer, s.TPM.Total))
	fmt.Fprintf(&b, " ttft_avg: %-6v ttft_95th: %-6v", s.TTFT.Avg, s.TTFT.P95)
	fmt.Fprintf(&b, " tbt_avg: %-6v tbt_95th: %-6v", s.TBT.Avg, s.TBT.P95)
	fmt.Fprintf(&b, " e2e_avg: %-6v e2e_95th: %-6v", s.E2E.Avg, s.E2E.P95)
	fmt.Fprintf(&b, " context_tpr_avg: %-5v", s.ContextTPRAvg)
	fmt.Fprintf(&b, " gen_tpr_10th: %-4v gen_tpr_avg: %-4v gen_tpr_90th: %-4v", s.GenTPR.P10, s.GenTPR.Avg, s.GenTPR.P90)
	fmt.Fprintf(&b, " util_avg: %-6v util_95th: %-6v", s.Util.Avg, s.Util.P95)
	return b.String()
}

func groupedRate(printer *message.Printer, v any) string {
	if f, ok := v.(float64); ok {
		return printer.Sprintf("%.0f", f)
	}
	return fmt.Sprint(v)
}

// roundTo rounds to the given number of decimal places.
func roundTo(v float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(v*shift) / shift
}

// naRound returns v rounded when ok, otherwise "n/a".
func naRound(v float64, ok bool, places int) any {
	if !ok {
		return notAvailable
	}
	return roundTo(v, places)
}

// naInt truncates v toward zero when ok, otherwise "n/a".
func naInt(v float64, ok bool) any {
	if !ok {
		return notAvailable
	}
	return int(v)
}

// naPercent formats v as a one-decimal percentage when ok.
func naPercent(v float64, ok bool) any {
	if !ok {
		return notAvailable
	}
	return fmt.Sprintf("%.1f%%", v)
}
