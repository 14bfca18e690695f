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

	"github.com/reiserfs-ng/reiserfs-ng/diskio"
	"github.com/reiserfs-ng/reiserfs-ng/internal/cliutil"
	"github.com/reiserfs-ng/reiserfs-ng/internal/profileutil"
	"github.com/reiserfs-ng/reiserfs-ng/reiserfs"
)

func main() {
	var journalDevPath string
	var newJournalDevPath string
	var journalSize uint32
	var journalOffset uint32
	var maxTrans uint32
	var label string
	var uuidFlag string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "reiserfs-tunefs [flags] device",
		Short: "Adjust a reiserfs filesystem's label, UUID, and journal placement",

		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),

		SilenceErrors: true,
		SilenceUsage:  true,

		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			if quiet {
				logger.SetLevel(logrus.WarnLevel)
			}
			ctx := dlog.WithLogger(cmd.Context(), dlog.WrapLogrus(logger))

			var uuid [16]byte
			var haveUUID bool
			if uuidFlag != "" {
				var err error
				uuid, err = cliutil.ParseUUID(uuidFlag)
				if err != nil {
					return err
				}
				haveUUID = true
			}

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: true})
			grp.Go("main", func(ctx context.Context) error {
				return run(ctx, runParams{
					devicePath:        args[0],
					journalDevPath:    journalDevPath,
					newJournalDevPath: newJournalDevPath,
					journalSize:       journalSize,
					journalOffset:     journalOffset,
					maxTrans:          maxTrans,
					label:             label,
					haveLabel:         cmd.Flags().Changed("label"),
					uuid:              uuid,
					haveUUID:          haveUUID,
				})
			})
			return cliutil.Runtime(grp.Wait())
		},
	}
	cmd.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	cmd.SetHelpTemplate(cliutil.HelpTemplate)

	flags := cmd.Flags()
	flags.StringVarP(&journalDevPath, "journal-device", "j", "", "the filesystem's current separate journal device, if any")
	flags.StringVarP(&newJournalDevPath, "new-journal-device", "d", "", "relocate the journal to `device`")
	flags.Uint32VarP(&journalSize, "journal-size", "s", 0, "new journal length in blocks (with -d or -o)")
	flags.Uint32VarP(&journalOffset, "journal-offset", "o", 0, "new journal start offset in blocks (with -d or -s)")
	flags.Uint32VarP(&maxTrans, "max-trans", "t", 0, "new maximum journal transaction length in blocks")
	flags.StringVarP(&label, "label", "l", "", "new volume label")
	flags.StringVarP(&uuidFlag, "uuid", "i", "", "new volume UUID (32 hex digits, dashes optional)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	stopProfile := profileutil.AddProfileFlags(flags, "profile-")

	_, err := cmd.ExecuteC()
	if stopErr := stopProfile(); err == nil {
		err = stopErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reiserfs-tunefs: error: %v\n", err)
	}
	os.Exit(cliutil.ExitCode(err))
}

type runParams struct {
	devicePath        string
	journalDevPath    string
	newJournalDevPath string
	journalSize       uint32
	journalOffset     uint32
	maxTrans          uint32
	label             string
	haveLabel         bool
	uuid              [16]byte
	haveUUID          bool
}

func run(ctx context.Context, p runParams) error {
	dev, err := diskio.OpenOSDevice(p.devicePath, 1024)
	if err != nil {
		return err
	}
	defer dev.Close()

	var journalDev diskio.Device
	if p.journalDevPath != "" {
		jdev, err := diskio.OpenOSDevice(p.journalDevPath, 1024)
		if err != nil {
			return err
		}
		defer jdev.Close()
		journalDev = jdev
	}

	fs, err := reiserfs.OpenFilesystem(ctx, reiserfs.OpenParams{
		Device:     dev,
		JournalDev: journalDev,
		WithBitmap: true,
	})
	if err != nil {
		return err
	}
	defer fs.Close(ctx)

	if p.haveLabel {
		fs.SetLabel(p.label)
		dlog.Infof(ctx, "set label to %q", p.label)
	}
	if p.haveUUID {
		fs.SetUUID(p.uuid)
		dlog.Infof(ctx, "set uuid to %x", p.uuid)
	}

	if p.newJournalDevPath != "" || p.journalSize != 0 || p.journalOffset != 0 || p.maxTrans != 0 {
		newJournalDev := journalDev
		if newJournalDev == nil {
			newJournalDev = dev
		}
		if p.newJournalDevPath != "" {
			njdev, err := diskio.OpenOSDevice(p.newJournalDevPath, dev.BlockSize())
			if err != nil {
				return err
			}
			defer njdev.Close()
			newJournalDev = njdev
		}
		if err := fs.RelocateJournal(ctx, newJournalDev, p.journalOffset, p.journalSize, p.maxTrans); err != nil {
			return err
		}
		dlog.Infof(ctx, "relocated journal: start=%d len=%d max-trans=%d", p.journalOffset, p.journalSize, p.maxTrans)
	}

	return fs.Sync(ctx)
}
