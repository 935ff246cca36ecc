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
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

const (
	latencySamples  = 5
	latencyBudget   = 5 * time.Second
	latencySpacing  = 500 * time.Millisecond
	latencyRounding = 10 * time.Millisecond
)

// MeasureLatency estimates the network round trip to the endpoint by
// timing TCP connects. Samples are spaced at least half a second apart
// within a fixed budget; the mean is returned rounded to 10ms. The
// result is meant to be subtracted from latency metrics when the test
// machine is far from the service.
func MeasureLatency(ctx context.Context, endpoint string) (time.Duration, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, fmt.Errorf("invalid endpoint url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	var dialer net.Dialer
	deadline := time.Now().Add(latencyBudget)
	var total time.Duration
	count := 0
	for count < latencySamples && time.Now().Before(deadline) {
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", host)
		if err != nil {
			return 0, fmt.Errorf("failed to reach %s: %w", host, err)
		}
		rtt := time.Since(start)
		_ = conn.Close()
		total += rtt
		count++

		if rtt < latencySpacing {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(latencySpacing - rtt):
			}
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("no latency samples collected for %s", host)
	}
	return (total / time.Duration(count)).Round(latencyRounding), nil
}
