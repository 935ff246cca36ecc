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
package tokenizer

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/surge/pkg/oai"
)

func TestNewCounter(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		wantErr bool
		errMsg  string
	}{
		{name: "gpt-4o", model: "gpt-4o"},
		{name: "gpt-4o snapshot", model: "gpt-4o-2024-05-13"},
		{name: "gpt-4 snapshot", model: "gpt-4-0613"},
		{name: "azure 3.5 naming", model: "gpt-35-turbo"},
		{name: "openai 3.5 naming", model: "gpt-3.5-turbo-0613"},
		{name: "gemini approximated", model: "gemini-1.5-pro"},
		{name: "unknown model", model: "davinci", wantErr: true, errMsg: "not implemented for model davinci"},
		{name: "empty model", model: "", wantErr: true, errMsg: "model is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter, err := NewCounter(tt.model, zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.model, counter.Model())
		})
	}
}

func TestMessageOverheads(t *testing.T) {
	tests := []struct {
		model      string
		perMessage int
		perName    int
	}{
		{model: "gpt-4-0613", perMessage: 3, perName: 1},
		{model: "gpt-4o-2024-05-13", perMessage: 3, perName: 1},
		{model: "gpt-35-turbo-0301", perMessage: 4, perName: -1},
		{model: "gpt-3.5-turbo-0301", perMessage: 4, perName: -1},
		// Unlisted variants fall back to current-generation overheads.
		{model: "gpt-35-turbo-1106", perMessage: 3, perName: 1},
		{model: "gpt-4-turbo-2024-04-09", perMessage: 3, perName: 1},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			perMessage, perName := messageOverheads(tt.model, zap.NewNop())
			assert.Equal(t, tt.perMessage, perMessage)
			assert.Equal(t, tt.perName, perName)
		})
	}
}

func TestCountMessagesOverhead(t *testing.T) {
	counter, err := NewCounter("gpt-4-0613", zap.NewNop())
	require.NoError(t, err)

	contentTokens := counter.CountText("hello world")
	require.Greater(t, contentTokens, 0)

	text, images, err := counter.CountMessages([]oai.Message{
		{Role: "user", Content: oai.TextContent("hello world")},
	})
	require.NoError(t, err)
	// 3 per message plus 3 reply priming tokens.
	assert.Equal(t, contentTokens+6, text)
	assert.Equal(t, 0, images)

	text, _, err = counter.CountMessages([]oai.Message{
		{Role: "user", Name: "alice", Content: oai.TextContent("hello world")},
	})
	require.NoError(t, err)
	assert.Equal(t, contentTokens+7, text, "a name costs one extra token")
}

func TestCountMessagesSkipsEmptyContent(t *testing.T) {
	counter, err := NewCounter("gpt-4-0613", zap.NewNop())
	require.NoError(t, err)

	text, images, err := counter.CountMessages([]oai.Message{
		{Role: "user", Content: oai.TextContent("   ")},
	})
	require.NoError(t, err)
	assert.Equal(t, 6, text, "only the message overhead and reply priming remain")
	assert.Equal(t, 0, images)
}

// pngDataURL encodes a blank PNG of the given size as a data URL.
func pngDataURL(t *testing.T, width, height int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestCountMessagesWithImages(t *testing.T) {
	counter, err := NewCounter("gpt-4o", zap.NewNop())
	require.NoError(t, err)

	tests := []struct {
		name      string
		image     oai.ImageURL
		wantImage int
	}{
		{
			name:      "low detail is a flat base cost",
			image:     oai.ImageURL{URL: pngDataURL(t, 1024, 1024), Detail: "low"},
			wantImage: 85,
		},
		{
			name:      "detail defaults to low",
			image:     oai.ImageURL{URL: pngDataURL(t, 1024, 1024)},
			wantImage: 85,
		},
		{
			name:      "invalid detail falls back to low",
			image:     oai.ImageURL{URL: pngDataURL(t, 1024, 1024), Detail: "medium"},
			wantImage: 85,
		},
		{
			name:      "high detail prices tiles",
			image:     oai.ImageURL{URL: pngDataURL(t, 100, 600), Detail: "high"},
			wantImage: 85 + 170*2,
		},
		{
			name:      "unreadable image counts nothing",
			image:     oai.ImageURL{URL: "data:image/png;base64,!!!", Detail: "high"},
			wantImage: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			describeTokens := counter.CountText("describe this image")
			text, images, err := counter.CountMessages([]oai.Message{
				{Role: "user", Content: oai.PartsContent(
					oai.ContentPart{Type: "text", Text: "describe this image"},
					oai.ContentPart{Type: "image_url", ImageURL: &tt.image},
				)},
			})
			require.NoError(t, err)
			assert.Equal(t, describeTokens+6, text, "image parts never count as text")
			assert.Equal(t, tt.wantImage, images)
		})
	}
}

func TestImagePatches(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
		want   int
	}{
		{name: "single tile", width: 512, height: 512, want: 1},
		{name: "one pixel over", width: 513, height: 512, want: 2},
		{name: "four tiles", width: 1024, height: 1024, want: 4},
		{name: "small image is not upscaled", width: 300, height: 400, want: 1},
		{name: "huge square scales to 768", width: 4096, height: 4096, want: 4},
		{name: "huge landscape", width: 4096, height: 2048, want: 6},
		{name: "exactly 768 square", width: 768, height: 768, want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, imagePatches(tt.width, tt.height))
		})
	}
}
