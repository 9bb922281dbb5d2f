// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/LeeDigitalWorks/zapreg/pkg/engine"
	"github.com/LeeDigitalWorks/zapreg/pkg/registry"
	"github.com/LeeDigitalWorks/zapreg/pkg/streamutil"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"
	"github.com/LeeDigitalWorks/zapreg/pkg/upload"

	"github.com/dustin/go-humanize"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"
)

func init() {
	blobCmd.AddCommand(blobPushCmd)
	blobCmd.AddCommand(blobMountCmd)
	blobCmd.AddCommand(blobStatCmd)
	rootCmd.AddCommand(blobCmd)
}

var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "Operate on blobs in the configured store",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var blobPushCmd = &cobra.Command{
	Use:   "push <repository> <file>",
	Short: "Push a local file as a blob",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := args[0], args[1]

		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		stat, err := file.Stat()
		if err != nil {
			return err
		}
		size := stat.Size()

		// First pass computes the digest; the upload needs it up front.
		dr := streamutil.NewDigestReader(file)
		if _, err := streamutil.Copy(io.Discard, dr); err != nil {
			return err
		}
		dgst := dr.Digest()
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}

		res, err := eng.Upload.MonolithicUpload(cmd.Context(), &upload.MonolithicUploadRequest{
			Name:   name,
			Digest: dgst,
			Body:   file,
			Length: size,
		})
		if err != nil {
			// Objects past the store limit go through the chunked path.
			var upErr *upload.Error
			if errors.As(err, &upErr) && upErr.Code == upload.ErrCodeTooLarge {
				if _, err := file.Seek(0, io.SeekStart); err != nil {
					return err
				}
				res, err = chunkedPush(cmd.Context(), eng, name, dgst, file, size)
			}
			if err != nil {
				return err
			}
		}

		fmt.Printf("%s %s (%s)\n", res.Digest, res.Location, humanize.IBytes(uint64(size)))
		return nil
	},
}

// chunkedPush drives the resumable upload path: equal-size chunks within
// the store's part bounds, finished under the precomputed digest.
func chunkedPush(ctx context.Context, eng *engine.Engine, name string, dgst digest.Digest, body io.Reader, size int64) (*upload.FinishUploadResult, error) {
	start, err := eng.Upload.StartUpload(ctx, &upload.StartUploadRequest{Name: name})
	if err != nil {
		return nil, err
	}

	loc, err := url.Parse(start.Location)
	if err != nil {
		return nil, err
	}
	fingerprint := loc.Query().Get("_state")

	split := streamutil.Split(body, size, types.MaxUploadChunkSize)
	for {
		chunk, chunkLen, ok := split.Next()
		if !ok {
			break
		}
		res, err := eng.Upload.UploadChunk(ctx, &upload.UploadChunkRequest{
			Name:        name,
			UploadID:    start.UploadID,
			Fingerprint: fingerprint,
			Body:        chunk,
			Length:      chunkLen,
		})
		if err != nil {
			return nil, err
		}
		fingerprint = res.Fingerprint
	}

	return eng.Upload.FinishUpload(ctx, &upload.FinishUploadRequest{
		Name:        name,
		UploadID:    start.UploadID,
		Fingerprint: fingerprint,
		Digest:      dgst,
	})
}

var blobMountCmd = &cobra.Command{
	Use:   "mount <source-repository> <dest-repository> <digest>",
	Short: "Mount an existing blob into another repository",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		dgst, err := digest.Parse(args[2])
		if err != nil {
			return err
		}

		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		res, err := eng.Registry.MountLayer(cmd.Context(), &registry.MountLayerRequest{
			SourceName: args[0],
			DestName:   args[1],
			Digest:     dgst,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n", res.Digest, res.Location)
		return nil
	},
}

var blobStatCmd = &cobra.Command{
	Use:   "stat <repository> <digest>",
	Short: "Report whether a blob exists",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dgst, err := digest.Parse(args[1])
		if err != nil {
			return err
		}

		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		stat, err := eng.Registry.LayerExists(cmd.Context(), &registry.LayerExistsRequest{
			Name:   args[0],
			Digest: dgst,
		})
		if err != nil {
			return err
		}
		if !stat.Exists {
			return fmt.Errorf("blob %s not found in %s", dgst, args[0])
		}

		fmt.Printf("%s %s\n", stat.Digest, humanize.IBytes(uint64(stat.Size)))
		return nil
	},
}
