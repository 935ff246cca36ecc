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

// Package messages produces the message lists sent on each request,
// either generated from random vocabulary to hit a context token target
// or replayed from a recorded conversation file.
package messages

import (
	"github.com/teradata-labs/surge/pkg/oai"
)

// anticachePrefixTokens is the token cost of the anti-cache prefix the
// client prepends to user messages. Timestamp prefixes like
// "ts=1704441942.868042 rand=0.52 " count as roughly 8 text tokens on
// OpenAI GPT models.
const anticachePrefixTokens = 8

// TokenCounts reports the token footprint of one message list.
type TokenCounts struct {
	Text  int
	Image int
}

// Source produces the message list for one request. Implementations
// must be safe for concurrent use and return messages the caller may
// mutate.
type Source interface {
	Next() ([]oai.Message, TokenCounts)
}

// cloneMessages returns a copy of msgs that callers can mutate without
// affecting the cached originals. Content values copy on write, so a
// shallow message copy is enough.
func cloneMessages(msgs []oai.Message) []oai.Message {
	out := make([]oai.Message, len(msgs))
	copy(out, msgs)
	return out
}
