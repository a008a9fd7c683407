// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/incremental/pkg/validation"
	"github.com/AleutianAI/incremental/services/incremental/analysis"
	"github.com/AleutianAI/incremental/services/incremental/mapper"
	"github.com/AleutianAI/incremental/services/incremental/store"
	"github.com/AleutianAI/incremental/services/incremental/store/remote"
)

// analysisFlags locate the persisted analysis and the shared cache.
type analysisFlags struct {
	db  string
	key string

	gcsBucket      string
	gcsCredentials string
	s3Endpoint     string
	s3Region       string
	s3Bucket       string
	s3SSL          bool
	prefix         string
	timeout        time.Duration
}

func newAnalysisCmd(a *app) *cobra.Command {
	f := &analysisFlags{}
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "Export, import and share the persisted analysis",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.db, "db", filepath.Join(".inccore", "analysis"), "analysis database directory")
	pf.StringVar(&f.key, "key", "default", "analysis key within the database")
	pf.StringVar(&f.gcsBucket, "gcs-bucket", "", "GCS bucket of the shared cache")
	pf.StringVar(&f.gcsCredentials, "gcs-credentials", "", "service account key file (default: application credentials)")
	pf.StringVar(&f.s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint of the shared cache")
	pf.StringVar(&f.s3Region, "s3-region", "", "S3 region")
	pf.StringVar(&f.s3Bucket, "s3-bucket", "", "S3 bucket of the shared cache")
	pf.BoolVar(&f.s3SSL, "s3-ssl", true, "use TLS for the S3 endpoint")
	pf.StringVar(&f.prefix, "prefix", "inccore/", "object name prefix in the shared cache")
	pf.DurationVar(&f.timeout, "timeout", 2*time.Minute, "deadline for shared cache transfers")

	cmd.AddCommand(
		newAnalysisShowCmd(a, f),
		newAnalysisExportCmd(a, f),
		newAnalysisImportCmd(a, f),
		newAnalysisTransferCmd(a, f, "push"),
		newAnalysisTransferCmd(a, f, "pull"),
	)
	return cmd
}

// openStore opens the local database. Callers close the BadgerStore.
func (f *analysisFlags) openStore(a *app) (*store.BadgerStore, *store.AnalysisStore, error) {
	key, err := validation.SanitizeKey(f.key)
	if err != nil {
		return nil, nil, err
	}
	f.key = key

	cfg := store.DefaultBadgerConfig(f.db)
	cfg.Logger = a.logger
	db, err := store.OpenBadger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, store.NewAnalysisStore(db, mapper.ForOptions(a.opts, a.root), a.logger), nil
}

// openRemote builds the shared cache client from the flags.
func (f *analysisFlags) openRemote(ctx context.Context) (store.Blobs, io.Closer, error) {
	switch {
	case f.gcsBucket != "" && f.s3Bucket != "":
		return nil, nil, errors.New("--gcs-bucket and --s3-bucket are mutually exclusive")
	case f.gcsBucket != "":
		g, err := remote.NewGCSBlob(ctx, remote.GCSConfig{
			Bucket:          f.gcsBucket,
			Prefix:          f.prefix,
			CredentialsFile: f.gcsCredentials,
		})
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil
	case f.s3Bucket != "":
		s, err := remote.NewS3Blob(remote.S3Config{
			Endpoint:  f.s3Endpoint,
			Region:    f.s3Region,
			AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Bucket:    f.s3Bucket,
			Prefix:    f.prefix,
			UseSSL:    f.s3SSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, closerFunc(func() error { return nil }), nil
	default:
		return nil, nil, errors.New("no shared cache configured: set --gcs-bucket or --s3-bucket")
	}
}

func newAnalysisShowCmd(a *app, f *analysisFlags) *cobra.Command {
	var relations bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Summarise the stored analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, st, err := f.openStore(a)
			if err != nil {
				return err
			}
			defer db.Close()

			c, found, err := st.Load(cmd.Context(), f.key)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no analysis stored under %q", f.key)
			}
			printSummary(cmd.OutOrStdout(), c)
			if relations {
				fmt.Fprint(cmd.OutOrStdout(), c.Analysis.RelationsString())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&relations, "relations", false, "also print the dependency relations")
	return cmd
}

func printSummary(w io.Writer, c analysis.Contents) {
	srcs := c.Analysis.SourcePaths()
	fmt.Fprintf(w, "format version: %d\n", c.Version)
	fmt.Fprintf(w, "sources: %d\n", len(srcs))
	fmt.Fprintf(w, "products: %d\n", len(c.Analysis.Products(srcs)))
	fmt.Fprintf(w, "binaries: %d\n", len(c.Analysis.Binaries))
	fmt.Fprintf(w, "output dirs: %v\n", c.Setup.OutputDirs)
	fmt.Fprintf(w, "compile order: %s\n", c.Setup.Order)
	fmt.Fprintf(w, "store apis: %t\n", c.Setup.StoreAPIs)
}

func newAnalysisExportCmd(a *app, f *analysisFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored analysis in portable form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, st, err := f.openStore(a)
			if err != nil {
				return err
			}
			defer db.Close()

			c, found, err := st.Load(cmd.Context(), f.key)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no analysis stored under %q", f.key)
			}
			data, err := st.Export(c)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			a.logger.Info("analysis exported",
				"key", f.key, "path", out, "sources", len(c.Analysis.SourcePaths()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func newAnalysisImportCmd(a *app, f *analysisFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Store a portable analysis produced by export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			db, st, err := f.openStore(a)
			if err != nil {
				return err
			}
			defer db.Close()

			c, err := st.Import(data)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			if err := st.Save(cmd.Context(), f.key, c); err != nil {
				return err
			}
			a.logger.Info("analysis imported",
				"key", f.key, "path", args[0], "sources", len(c.Analysis.SourcePaths()))
			return nil
		},
	}
}

// newAnalysisTransferCmd copies the stored analysis between the local
// database and the shared cache.
func newAnalysisTransferCmd(a *app, f *analysisFlags, direction string) *cobra.Command {
	short := "Upload the stored analysis to the shared cache"
	if direction == "pull" {
		short = "Replace the stored analysis with the shared copy"
	}
	return &cobra.Command{
		Use:   direction,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()

			db, _, err := f.openStore(a)
			if err != nil {
				return err
			}
			defer db.Close()
			shared, closer, err := f.openRemote(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			tiered := remote.NewTiered(db, shared, a.logger)
			if direction == "pull" {
				err = tiered.Pull(ctx, f.key)
			} else {
				err = tiered.Push(ctx, f.key)
			}
			if err != nil {
				return err
			}
			a.logger.Info("analysis transferred", "direction", direction, "key", f.key)
			return nil
		},
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
