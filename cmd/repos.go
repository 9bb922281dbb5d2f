// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/zapreg/pkg/registry"

	"github.com/spf13/cobra"
)

var (
	reposLast  string
	reposLimit int
)

func init() {
	reposCmd.Flags().StringVar(&reposLast, "last", "", "List repositories after this name")
	reposCmd.Flags().IntVar(&reposLimit, "limit", 100, "Maximum repositories per page")
	rootCmd.AddCommand(reposCmd)
	rootCmd.AddCommand(tagsCmd)
}

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories in the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		res, err := eng.Registry.ListRepositories(cmd.Context(), &registry.ListRepositoriesRequest{
			Last:  reposLast,
			Limit: reposLimit,
		})
		if err != nil {
			return err
		}

		for _, name := range res.Repositories {
			fmt.Println(name)
		}
		if res.Cursor != "" {
			fmt.Printf("(more: --last %s)\n", res.Cursor)
		}
		return nil
	},
}

var tagsCmd = &cobra.Command{
	Use:   "tags <repository>",
	Short: "List the tags of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		res, err := eng.Registry.ListTags(cmd.Context(), &registry.ListTagsRequest{Name: args[0]})
		if err != nil {
			return err
		}

		for _, tag := range res.Tags {
			fmt.Println(tag)
		}
		return nil
	},
}
