// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/AleutianAI/incremental/services/incremental/analysis"
)

// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Encode serializes already-mapped Contents.
func Encode(c analysis.Contents) ([]byte, error) {
	if c.Version == 0 {
		c.Version = analysis.FormatVersion
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// Decode is the inverse of Encode. The returned Contents are still in
// portable form.
//
// Outputs:
//
//	analysis.Contents - The decoded contents.
//	error - ErrCorrupt for undecodable data, ErrIncompatibleFormat for a
//	        version other than analysis.FormatVersion.
func Decode(data []byte) (analysis.Contents, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return analysis.Contents{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return analysis.Contents{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if probe.Version != analysis.FormatVersion {
		return analysis.Contents{}, fmt.Errorf("%w: version %d, want %d",
			ErrIncompatibleFormat, probe.Version, analysis.FormatVersion)
	}

	var c analysis.Contents
	if err := json.Unmarshal(raw, &c); err != nil {
		return analysis.Contents{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if c.Analysis == nil {
		c.Analysis = analysis.New()
	}
	return c, nil
}
