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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/incremental/services/incremental/analysis"
	"github.com/AleutianAI/incremental/services/incremental/mapper"
)

// AnalysisStore reads and writes analysis Contents through the portability
// mapper.
//
// Thread Safety: as safe as the underlying Blobs; AnalysisStore adds no
// state of its own.
type AnalysisStore struct {
	blobs  Blobs
	mapper mapper.Mapper
	logger *slog.Logger
}

// NewAnalysisStore creates a store over blobs. A nil mapper means
// mapper.Identity(); a nil logger means slog.Default().
func NewAnalysisStore(blobs Blobs, m mapper.Mapper, logger *slog.Logger) *AnalysisStore {
	if m == nil {
		m = mapper.Identity()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisStore{
		blobs:  blobs,
		mapper: m,
		logger: logger.With("component", "store.AnalysisStore"),
	}
}

// Load returns the Contents stored under key, mapped to local form.
//
// Description:
//
//	A missing key, undecodable data and data written by another format
//	version all yield found=false. The last two are logged at warn level
//	so the operator can see why a full rebuild happened.
//
// Outputs:
//
//	analysis.Contents - Local-form contents when found.
//	bool - Whether usable contents were found.
//	error - Backend failures and context cancellation only.
func (s *AnalysisStore) Load(ctx context.Context, key string) (analysis.Contents, bool, error) {
	data, err := s.blobs.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("no previous analysis", slog.String("key", key))
		return analysis.Contents{}, false, nil
	}
	if err != nil {
		return analysis.Contents{}, false, err
	}

	portable, err := Decode(data)
	if err != nil {
		s.logger.Warn("discarding unusable analysis, full rebuild required",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return analysis.Contents{}, false, nil
	}
	return mapper.ReadContents(s.mapper, portable), true, nil
}

// Save maps c to portable form, encodes it and stores it under key.
func (s *AnalysisStore) Save(ctx context.Context, key string, c analysis.Contents) error {
	data, err := s.Export(c)
	if err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return err
	}
	s.logger.Debug("analysis saved",
		slog.String("key", key),
		slog.Int("sources", len(c.Analysis.SourcePaths())),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Export returns the encoded portable form of c without storing it.
func (s *AnalysisStore) Export(c analysis.Contents) ([]byte, error) {
	if c.Analysis == nil {
		c.Analysis = analysis.New()
	}
	portable, err := mapper.WriteContents(s.mapper, c)
	if err != nil {
		return nil, fmt.Errorf("map analysis for persistence: %w", err)
	}
	return Encode(portable)
}

// Import decodes data produced by Export into local form. Unlike Load it
// returns decode failures to the caller.
func (s *AnalysisStore) Import(data []byte) (analysis.Contents, error) {
	portable, err := Decode(data)
	if err != nil {
		return analysis.Contents{}, err
	}
	return mapper.ReadContents(s.mapper, portable), nil
}
