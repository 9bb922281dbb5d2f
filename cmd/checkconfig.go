package cmd

import (
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the engine configuration and print the effective values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("backend:             %s (bucket %s)\n", cfg.Backend.Type, cfg.Backend.Bucket)
		fmt.Printf("compatibility mode:  %s\n", cfg.PushCompatibilityMode)
		fmt.Printf("chunk bounds:        %s - %s\n",
			humanize.IBytes(uint64(types.MinChunkSize)),
			humanize.IBytes(uint64(types.MaxUploadChunkSize)))
		fmt.Printf("max parts:           %d\n", types.MaxParts)
		fmt.Printf("state TTL:           %s\n", time.Duration(cfg.StateTTL))
		fmt.Printf("scratch TTL:         %s\n", time.Duration(cfg.ScratchTTL))
		fmt.Printf("gc interval:         %s\n", time.Duration(cfg.GCInterval))
		return nil
	},
}
