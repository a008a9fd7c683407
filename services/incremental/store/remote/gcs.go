// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/incremental/services/incremental/store"
)

// GCSConfig locates analyses in a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket string

	// Prefix is prepended to every object name.
	Prefix string

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
}

// GCSBlob stores analyses as objects in a GCS bucket.
type GCSBlob struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSBlob creates a client for cfg. Call Close when done.
func NewGCSBlob(ctx context.Context, cfg GCSConfig) (*GCSBlob, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return &GCSBlob{client: client, bucket: bucket, prefix: cfg.Prefix}, nil
}

// Get implements store.Blobs.
func (g *GCSBlob) Get(ctx context.Context, key string) ([]byte, error) {
	name := objectName(g.prefix, key)
	r, err := g.client.Bucket(g.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", store.ErrNotFound, g.bucket, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", g.bucket, name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", g.bucket, name, err)
	}
	return data, nil
}

// Put implements store.Blobs.
func (g *GCSBlob) Put(ctx context.Context, key string, data []byte) error {
	name := objectName(g.prefix, key)
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/zstd"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", g.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close GCS writer for gs://%s/%s: %w", g.bucket, name, err)
	}
	return nil
}

// Close releases the client.
func (g *GCSBlob) Close() error {
	return g.client.Close()
}

// objectName joins prefix and key into a slash-separated object name.
func objectName(prefix, key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}
