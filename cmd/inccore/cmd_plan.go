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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/incremental/services/incremental/policy"
)

// newPlanCmd answers what the invalidation policy would do for a round
// with the given counts.
func newPlanCmd(a *app) *cobra.Command {
	var invalidated, total, step int

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the invalidation decision for a round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if invalidated < 0 || total < 0 || step < 0 {
				return fmt.Errorf("counts must not be negative")
			}
			p := policy.New(a.opts, a.logger)
			decision := p.Decide(invalidated, total)

			expansion := "direct"
			if p.Transitive(step) {
				expansion = "transitive"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "decision: %s\n", decision)
			fmt.Fprintf(out, "invalidated: %d/%d (threshold %.2f)\n",
				invalidated, total, a.opts.RecompileAllFraction())
			fmt.Fprintf(out, "expansion at round %d: %s\n", step+1, expansion)
			return nil
		},
	}
	cmd.Flags().IntVar(&invalidated, "invalidated", 0, "sources invalidated this round")
	cmd.Flags().IntVar(&total, "total", 0, "sources in the project")
	cmd.Flags().IntVar(&step, "step", 0, "zero-based round index")
	return cmd
}
