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
	"math"
	"sort"
	"time"
)

// sample is a timestamped measurement inside a sliding window.
type sample struct {
	ts    time.Time
	value float64
}

// series holds timestamped samples ordered by insertion. Samples older
// than the aggregation window are dropped by trimOldest. Not safe for
// concurrent use; the aggregator serializes access.
type series struct {
	samples []sample
}

func (s *series) add(ts time.Time, value float64) {
	s.samples = append(s.samples, sample{ts: ts, value: value})
}

// trimOldest drops samples observed more than window ago.
func (s *series) trimOldest(now time.Time, window time.Duration) {
	for len(s.samples) > 0 && now.Sub(s.samples[0].ts) > window {
		s.samples = s.samples[1:]
	}
}

func (s *series) count() int {
	return len(s.samples)
}

func (s *series) values() []float64 {
	values := make([]float64, 0, len(s.samples))
	for _, entry := range s.samples {
		values = append(values, entry.value)
	}
	return values
}

func (s *series) sum() float64 {
	total := 0.0
	for _, entry := range s.samples {
		total += entry.value
	}
	return total
}

// avg returns the mean of all samples. ok is false when the series is
// empty.
func (s *series) avg() (float64, bool) {
	if len(s.samples) == 0 {
		return 0, false
	}
	return s.sum() / float64(len(s.samples)), true
}

// percentile returns the p-th percentile using linear interpolation
// between the two nearest ranks. ok is false unless the series holds at
// least two samples, below which a percentile is not meaningful.
func (s *series) percentile(p float64) (float64, bool) {
	if len(s.samples) < 2 {
		return 0, false
	}
	values := s.values()
	sort.Float64s(values)
	rank := p / 100.0 * float64(len(values)-1)
	lo := int(math.Floor(rank))
	if lo >= len(values)-1 {
		return values[len(values)-1], true
	}
	frac := rank - float64(lo)
	return values[lo] + frac*(values[lo+1]-values[lo]), true
}
