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
	"fmt"
	"image"
	"math"
	"strings"

	// Registered for image.DecodeConfig so data URL dimensions can be
	// read without a full decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/teradata-labs/surge/pkg/oai"
)

const (
	// DetailLow and DetailHigh are the accepted image detail modes.
	DetailLow  = "low"
	DetailHigh = "high"

	imageBaseTokens = 85
	imageTileTokens = 170
	imageTileSize   = 512
)

// imageTokens prices one image_url content part. Low-detail images cost
// a flat base; high-detail images add a per-tile cost derived from
// their dimensions.
func (c *Counter) imageTokens(img *oai.ImageURL) (int, error) {
	if img == nil {
		return 0, fmt.Errorf("image_url part has no image payload")
	}
	detail := img.Detail
	if detail == "" {
		detail = DetailLow
	}
	if detail != DetailLow && detail != DetailHigh {
		c.logger.Warn("invalid image detail mode, defaulting to low",
			zap.String("detail", detail))
		detail = DetailLow
	}
	width, height, err := imageDimensions(img.URL)
	if err != nil {
		return 0, err
	}
	if detail == DetailLow {
		return imageBaseTokens, nil
	}
	return imageBaseTokens + imageTileTokens*imagePatches(width, height), nil
}

// imageDimensions reads the pixel dimensions from a base64 data URL.
// Only the payload after the last comma is decoded.
func imageDimensions(dataURL string) (width, height int, err error) {
	payload := dataURL
	if i := strings.LastIndex(payload, ","); i >= 0 {
		payload = payload[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode base64 image data: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image dimensions: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// imagePatches counts the 512px tiles a high-detail image is billed
// for, per https://platform.openai.com/docs/guides/vision/calculating-costs.
func imagePatches(width, height int) int {
	// Images are first scaled to fit within a 2048x2048 square,
	// preserving aspect ratio.
	maxSide := max(width, height)
	scale := math.Min(1, 2048/float64(maxSide))
	scaledWidth := int(float64(width) * scale)
	scaledHeight := int(float64(height) * scale)

	// Then scaled again so the shortest side is no longer than 768px.
	minSide := min(scaledWidth, scaledHeight)
	scale = math.Min(1, 768/float64(minSide))
	scaledWidth = int(float64(scaledWidth) * scale)
	scaledHeight = int(float64(scaledHeight) * scale)

	widthTiles := (scaledWidth + imageTileSize - 1) / imageTileSize
	heightTiles := (scaledHeight + imageTileSize - 1) / imageTileSize
	return widthTiles * heightTiles
}
