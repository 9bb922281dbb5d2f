// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/zapreg/pkg/engine"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "zapreg",
	Short: "ZapReg - registry storage engine",
	Long: `ZapReg is the storage and upload engine of an OCI/Docker-v2 image
registry backed by an S3-compatible object store. It handles resumable
chunked blob uploads, manifest storage, cross-repository mounts, and
garbage collection.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "zapreg.json", "Path to the engine configuration file")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.SetEnvPrefix("ZAPREG")
	viper.AutomaticEnv()
}

// loadConfig reads the engine configuration named by the --config flag.
func loadConfig() (*types.Config, error) {
	return types.LoadConfigFromFile(viper.GetString("config"))
}

// newEngine assembles the engine from the configured backend. The caller
// owns Close.
func newEngine() (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return engine.New(cfg)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
