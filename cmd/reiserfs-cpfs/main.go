// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
	"github.com/reiserfs-ng/reiserfs-ng/internal/cliutil"
	"github.com/reiserfs-ng/reiserfs-ng/internal/profileutil"
	"github.com/reiserfs-ng/reiserfs-ng/reiserfs"
)

func main() {
	var journalDevPath string
	var dryRun bool
	var quiet bool
	var label string

	cmd := &cobra.Command{
		Use:   "reiserfs-cpfs [flags] src dst",
		Short: "Copy a reiserfs filesystem onto a new device",

		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),

		SilenceErrors: true,
		SilenceUsage:  true,

		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			if quiet {
				logger.SetLevel(logrus.WarnLevel)
			}
			ctx := dlog.WithLogger(cmd.Context(), dlog.WrapLogrus(logger))

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: true})
			grp.Go("main", func(ctx context.Context) error {
				return run(ctx, runParams{
					srcPath:        args[0],
					dstPath:        args[1],
					journalDevPath: journalDevPath,
					dryRun:         dryRun,
					label:          label,
					haveLabel:      cmd.Flags().Changed("label"),
				})
			})
			return cliutil.Runtime(grp.Wait())
		},
	}
	cmd.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	cmd.SetHelpTemplate(cliutil.HelpTemplate)

	flags := cmd.Flags()
	flags.StringVarP(&journalDevPath, "journal-device", "j", "", "src's separate journal device, if any")
	flags.BoolVarP(&dryRun, "dry-run", "n", false, "validate the copy without writing dst")
	flags.StringVarP(&label, "label", "l", "", "set dst's volume label to this, normalized to NFC")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	stopProfile := profileutil.AddProfileFlags(flags, "profile-")

	_, err := cmd.ExecuteC()
	if stopErr := stopProfile(); err == nil {
		err = stopErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reiserfs-cpfs: error: %v\n", err)
	}
	os.Exit(cliutil.ExitCode(err))
}

type runParams struct {
	srcPath        string
	dstPath        string
	journalDevPath string
	dryRun         bool
	label          string
	haveLabel      bool
}

func run(ctx context.Context, p runParams) error {
	srcDev, err := diskio.OpenOSDevice(p.srcPath, 1024)
	if err != nil {
		return err
	}
	defer srcDev.Close()

	var journalDev diskio.Device
	if p.journalDevPath != "" {
		jdev, err := diskio.OpenOSDevice(p.journalDevPath, 1024)
		if err != nil {
			return err
		}
		defer jdev.Close()
		journalDev = jdev
	}

	srcFs, err := reiserfs.OpenFilesystem(ctx, reiserfs.OpenParams{
		Device:     srcDev,
		JournalDev: journalDev,
		WithBitmap: true,
	})
	if err != nil {
		return err
	}
	defer srcFs.Close(ctx)

	if p.dryRun {
		dlog.Infof(ctx, "dry run: %s is %d blocks, %d used", p.srcPath, srcFs.Size(), srcFs.Size()-srcFs.FreeSize())
		return nil
	}

	dstDev, err := diskio.CreateOSDevice(p.dstPath, srcDev.BlockSize(), diskio.BlockAddr(srcFs.Size()))
	if err != nil {
		return err
	}
	defer dstDev.Close()

	dstFs, err := reiserfs.CopyFilesystem(ctx, srcFs, dstDev)
	if err != nil {
		return err
	}
	defer dstFs.Close(ctx)

	if p.haveLabel {
		label := norm.NFC.String(p.label)
		dstFs.SetLabel(label)
		dlog.Infof(ctx, "set dst label to %q", label)
	}

	dlog.Infof(ctx, "copied %s to %s: %d blocks", p.srcPath, p.dstPath, dstFs.Size())
	return dstFs.Sync(ctx)
}
