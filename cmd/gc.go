// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/zapreg/pkg/gc"
	"github.com/LeeDigitalWorks/zapreg/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	gcRepo  string
	gcMode  string
	gcWatch bool
)

func init() {
	gcCmd.Flags().StringVar(&gcRepo, "repo", "", "Repository to collect in a single pass (all repositories when empty; --watch always covers all)")
	gcCmd.Flags().StringVar(&gcMode, "mode", string(gc.ModeUnreferenced), "Collection mode: unreferenced or untagged")
	gcCmd.Flags().BoolVar(&gcWatch, "watch", false, "Keep running collection passes on the configured interval")
	rootCmd.AddCommand(gcCmd)
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run garbage collection against the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := gc.Mode(gcMode)
		switch mode {
		case gc.ModeUnreferenced, gc.ModeUntagged:
		default:
			return fmt.Errorf("unknown collection mode %q", gcMode)
		}

		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		eng.GC.SetMode(mode)

		ctx := cmd.Context()

		if gcWatch {
			eng.GC.Start(ctx)
			<-ctx.Done()
			return nil
		}

		if gcRepo != "" {
			ok, err := eng.Collector.Collect(ctx, gcRepo, mode)
			if err != nil {
				return err
			}
			if !ok {
				logger.Info().Str("repository", gcRepo).Msg("collection yielded to an in-flight push, run again")
			}
			return nil
		}

		return eng.GC.CollectOnce(ctx)
	},
}
