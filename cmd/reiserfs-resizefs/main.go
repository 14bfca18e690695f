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
	var dryRun bool
	var force bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "reiserfs-resizefs [flags] device ([+|-]size[K|M|G] | start[K|M|G] end[K|M|G])",
		Short: "Grow or shrink a reiserfs filesystem",

		Args: cliutil.WrapPositionalArgs(cobra.RangeArgs(2, 3)),

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
					devicePath:     args[0],
					sizeArgs:       args[1:],
					journalDevPath: journalDevPath,
					dryRun:         dryRun,
					force:          force,
				})
			})
			return cliutil.Runtime(grp.Wait())
		},
	}
	cmd.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	cmd.SetHelpTemplate(cliutil.HelpTemplate)

	flags := cmd.Flags()
	flags.StringVarP(&journalDevPath, "journal-device", "j", "", "the filesystem's separate journal device, if any")
	flags.BoolVarP(&dryRun, "dry-run", "n", false, "compute and print the new size without writing anything")
	flags.BoolVarP(&force, "force", "f", false, "use the smart (relocating) resize even when a dumb tail resize would do")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	stopProfile := profileutil.AddProfileFlags(flags, "profile-")

	_, err := cmd.ExecuteC()
	if stopErr := stopProfile(); err == nil {
		err = stopErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reiserfs-resizefs: error: %v\n", err)
	}
	os.Exit(cliutil.ExitCode(err))
}

type runParams struct {
	devicePath     string
	sizeArgs       []string
	journalDevPath string
	dryRun         bool
	force          bool
}

func run(ctx context.Context, p runParams) error {
	dev, err := diskio.OpenOSDevice(p.devicePath, 4096)
	if err != nil {
		return err
	}
	defer dev.Close()

	var journalDev diskio.Device
	if p.journalDevPath != "" {
		jdev, err := diskio.OpenOSDevice(p.journalDevPath, 4096)
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

	oldLen := fs.Size()
	dir, newLen, err := resolveTarget(oldLen, dev.BlockSize(), p.sizeArgs)
	if err != nil {
		return err
	}

	dlog.Infof(ctx, "resizing %s: %d -> %d blocks (%v)", p.devicePath, oldLen, newLen, dir)
	if p.dryRun {
		return nil
	}

	if !p.force && dir == reiserfs.FromRight {
		if err := fs.ResizeDumb(ctx, dir, newLen); err != nil {
			return err
		}
	} else {
		if err := fs.ResizeSmart(ctx, dir, newLen); err != nil {
			return err
		}
	}
	return fs.Sync(ctx)
}

// resolveTarget turns the tool's size arguments into a Direction and target
// block count. A single [+|-]size grows or shrinks at the tail (relative) or
// sets an absolute tail size; two bare sizes give an explicit start/end
// block range, which this tool only supports anchored at the start of the
// device (shrinking or growing from the front is not a dumb-tail operation).
func resolveTarget(oldLen, blockSize uint32, sizeArgs []string) (reiserfs.Direction, uint32, error) {
	switch len(sizeArgs) {
	case 1:
		bytes, err := cliutil.ParseSize(sizeArgs[0])
		if err != nil {
			return 0, 0, err
		}
		arg := sizeArgs[0]
		switch {
		case len(arg) > 0 && arg[0] == '+':
			return reiserfs.FromRight, oldLen + uint32(bytes/int64(blockSize)), nil
		case len(arg) > 0 && arg[0] == '-':
			delta := uint32(-bytes / int64(blockSize))
			if delta > oldLen {
				return 0, 0, fmt.Errorf("reiserfs-resizefs: shrink of %d blocks exceeds current size %d", delta, oldLen)
			}
			return reiserfs.FromRight, oldLen - delta, nil
		default:
			return reiserfs.FromRight, uint32(bytes / int64(blockSize)), nil
		}
	case 2:
		startBytes, err := cliutil.ParseSize(sizeArgs[0])
		if err != nil {
			return 0, 0, err
		}
		endBytes, err := cliutil.ParseSize(sizeArgs[1])
		if err != nil {
			return 0, 0, err
		}
		start := uint32(startBytes / int64(blockSize))
		end := uint32(endBytes / int64(blockSize))
		if start != 0 {
			return 0, 0, fmt.Errorf("reiserfs-resizefs: explicit start/end form only supports a start of 0")
		}
		return reiserfs.FromRight, end, nil
	default:
		return 0, 0, fmt.Errorf("reiserfs-resizefs: expected one or two size arguments")
	}
}
