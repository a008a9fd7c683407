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
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/incremental/pkg/logging"
	"github.com/AleutianAI/incremental/services/incremental/options"
	"github.com/AleutianAI/incremental/services/incremental/telemetry"
)

// app is the state shared by every command of one invocation.
type app struct {
	// Global flags
	logLevel    string
	logDir      string
	logJSON     bool
	quiet       bool
	optionsPath string
	root        string
	metricsAddr string

	logger   *slog.Logger
	closeLog func() error
	opts     options.Options
	shutdown func(context.Context) error
	stop     context.CancelFunc
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "inccore",
		Short:        "Inspect and maintain incremental compilation state",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	flags.StringVar(&a.logDir, "log-dir", "", "directory for JSON log files")
	flags.BoolVar(&a.logJSON, "log-json", false, "write console logs as JSON")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "disable console logging")
	flags.StringVar(&a.optionsPath, "options", "", "incremental options YAML file")
	flags.StringVar(&a.root, "root", ".", "project root used for portable paths")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	root.AddCommand(
		newOptionsCmd(a),
		newPlanCmd(a),
		newAnalysisCmd(a),
	)
	return root
}

// setup configures logging, options and telemetry for the command.
func (a *app) setup(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  a.logDir,
		Service: "inccore",
		JSON:    a.logJSON,
		Quiet:   a.quiet,
		Console: cmd.ErrOrStderr(),
	})
	a.logger = logger.Slog()
	a.closeLog = logger.Close
	slog.SetDefault(a.logger)

	a.opts, err = options.Load(a.optionsPath)
	if err != nil {
		return err
	}
	if a.root, err = filepath.Abs(a.root); err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	ctx, stop := context.WithCancel(cmd.Context())
	a.stop = stop
	a.shutdown, err = telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if a.metricsAddr != "" {
		go func() {
			if err := telemetry.ServeMetrics(ctx, a.metricsAddr); err != nil {
				a.logger.Warn("metrics endpoint stopped", slog.String("error", err.Error()))
			}
		}()
	}
	cmd.SetContext(ctx)
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.stop != nil {
		a.stop()
	}
	var err error
	if a.shutdown != nil {
		err = a.shutdown(context.WithoutCancel(ctx))
	}
	if a.closeLog != nil {
		if cerr := a.closeLog(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
