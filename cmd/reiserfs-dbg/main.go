// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command reiserfs-dbg inspects a reiserfs filesystem without modifying it:
// a human-readable summary via `info`, or a machine-readable one via `dump`.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dgroup"
	"github.com/spf13/cobra"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
	"github.com/reiserfs-ng/reiserfs-ng/internal/cliutil"
	"github.com/reiserfs-ng/reiserfs-ng/internal/profileutil"
	"github.com/reiserfs-ng/reiserfs-ng/internal/testutil"
	"github.com/reiserfs-ng/reiserfs-ng/reiserfs"
)

// summary is what both the `info` and `dump` views render; it exists
// because Filesystem.Superblock's return type can't be named outside
// package reiserfs, so the fields worth showing are copied out into a plain struct.
type summary struct {
	Device       string
	Format       string
	Hash         string
	BlockSize    uint32
	BlockCount   uint32
	FreeBlocks   uint32
	TreeHeight   int
	Label        string
	Consistent   bool
	JournalStart uint32
	JournalLen   uint32
}

func main() {
	var journalDevPath string

	root := &cobra.Command{
		Use:           "reiserfs-dbg",
		Short:         "Inspect a reiserfs filesystem",
		Args:          cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE:          cliutil.RunSubcommands,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&journalDevPath, "journal-device", "j", "", "the filesystem's separate journal device, if any")
	root.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	root.SetHelpTemplate(cliutil.HelpTemplate)

	root.AddCommand(&cobra.Command{
		Use:   "info device",
		Short: "Print a human-readable summary of the filesystem",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSummary(cmd.Context(), args[0], journalDevPath, func(s summary) error {
				fmt.Print(testutil.Dump(s))
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "dump device",
		Short: "Print the filesystem summary as JSON",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSummary(cmd.Context(), args[0], journalDevPath, func(s summary) error {
				return writeJSON(os.Stdout, s)
			})
		},
	})

	stopProfile := profileutil.AddProfileFlags(root.PersistentFlags(), "profile-")

	_, err := root.ExecuteC()
	if stopErr := stopProfile(); err == nil {
		err = stopErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reiserfs-dbg: error: %v\n", err)
	}
	os.Exit(cliutil.ExitCode(err))
}

func withSummary(ctx context.Context, devicePath, journalDevPath string, f func(summary) error) error {
	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: true})
	grp.Go("main", func(ctx context.Context) error {
		dev, err := diskio.OpenOSDevice(devicePath, 1024)
		if err != nil {
			return err
		}
		defer dev.Close()

		var journalDev diskio.Device
		if journalDevPath != "" {
			jdev, err := diskio.OpenOSDevice(journalDevPath, 1024)
			if err != nil {
				return err
			}
			defer jdev.Close()
			journalDev = jdev
		}

		fs, err := reiserfs.OpenFilesystem(ctx, reiserfs.OpenParams{
			Device:     dev,
			JournalDev: journalDev,
			WithBitmap: false,
		})
		if err != nil {
			return err
		}
		defer fs.Close(ctx)

		sb := fs.Superblock()
		s := summary{
			Device:       devicePath,
			Format:       sb.Format().String(),
			Hash:         sb.Hash().String(),
			BlockSize:    uint32(sb.BlockSize),
			BlockCount:   fs.Size(),
			FreeBlocks:   fs.FreeSize(),
			TreeHeight:   fs.TreeHeight(),
			Label:        string(trimNUL(sb.Label[:])),
			Consistent:   fs.IsConsistent(),
			JournalStart: uint32(sb.Journal.Start),
			JournalLen:   uint32(sb.Journal.Len),
		}
		return f(s)
	})
	return cliutil.Runtime(grp.Wait())
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

func writeJSON(w io.Writer, obj any) (err error) {
	buffer := bufio.NewWriter(w)
	defer func() {
		if ferr := buffer.Flush(); err == nil && ferr != nil {
			err = ferr
		}
	}()
	cfg := lowmemjson.ReEncoderConfig{
		Indent:                "\t",
		ForceTrailingNewlines: true,
	}
	cfg.Out = buffer
	return lowmemjson.Encode(&cfg, obj)
}
