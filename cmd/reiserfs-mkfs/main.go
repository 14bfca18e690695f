// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"time"

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
	var blockSize uint32
	var formatFlag string
	var hashFlag string
	var journalDevPath string
	var journalLen uint32
	var journalOffset uint32
	var maxTrans uint32
	var label string
	var uuidFlag string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "reiserfs-mkfs [flags] device [size[K|M|G]]",
		Short: "Create a reiserfs filesystem",

		Args: cliutil.WrapPositionalArgs(cobra.RangeArgs(1, 2)),

		SilenceErrors: true,
		SilenceUsage:  true,

		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			if quiet {
				logger.SetLevel(logrus.WarnLevel)
			}
			ctx := dlog.WithLogger(cmd.Context(), dlog.WrapLogrus(logger))

			format, err := parseFormat(formatFlag)
			if err != nil {
				return err
			}
			hash, err := parseHash(hashFlag)
			if err != nil {
				return err
			}
			var uuid [16]byte
			if uuidFlag != "" {
				uuid, err = cliutil.ParseUUID(uuidFlag)
				if err != nil {
					return err
				}
			}

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: true})
			grp.Go("main", func(ctx context.Context) error {
				return run(ctx, runParams{
					devicePath:     args[0],
					sizeArg:        optionalArg(args, 1),
					blockSize:      blockSize,
					format:         format,
					hash:           hash,
					journalDevPath: journalDevPath,
					journalLen:     journalLen,
					journalOffset:  journalOffset,
					maxTrans:       maxTrans,
					label:          label,
					uuid:           uuid,
				})
			})
			return cliutil.Runtime(grp.Wait())
		},
	}
	cmd.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	cmd.SetHelpTemplate(cliutil.HelpTemplate)

	flags := cmd.Flags()
	flags.Uint32VarP(&blockSize, "blocksize", "b", 4096, "block size in bytes")
	flags.StringVarP(&formatFlag, "format", "f", "3.6", "on-disk format revision (3.5 or 3.6)")
	flags.StringVarP(&hashFlag, "hash", "h", "r5", "directory hash (tea, yura, or r5)")
	flags.StringVarP(&journalDevPath, "journal-device", "j", "", "put the journal on `device` instead of the filesystem's own device")
	flags.Uint32VarP(&journalLen, "journal-size", "s", reiserfs.JournalDefaultMaxTrans*2, "journal length in blocks")
	flags.Uint32VarP(&journalOffset, "journal-offset", "o", 0, "journal start offset in blocks (0: default placement)")
	flags.Uint32VarP(&maxTrans, "max-trans", "t", 0, "maximum journal transaction length in blocks (0: derive from journal size)")
	flags.StringVarP(&label, "label", "l", "", "volume label")
	flags.StringVarP(&uuidFlag, "uuid", "i", "", "volume UUID (32 hex digits, dashes optional)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	stopProfile := profileutil.AddProfileFlags(flags, "profile-")

	_, err := cmd.ExecuteC()
	if stopErr := stopProfile(); err == nil {
		err = stopErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reiserfs-mkfs: error: %v\n", err)
	}
	os.Exit(cliutil.ExitCode(err))
}

// openOrCreateDevice opens an existing device/file at path, or creates a
// fresh regular file of the requested size if nothing exists there yet, the
// way mkfs.reiserfs treats its device argument.
func openOrCreateDevice(path string, blockSize uint32, sizeArg string) (*diskio.OSDevice, uint32, error) {
	if _, statErr := os.Stat(path); statErr != nil {
		if !os.IsNotExist(statErr) {
			return nil, 0, statErr
		}
		if sizeArg == "" {
			return nil, 0, fmt.Errorf("%s does not exist: a size is required to create it", path)
		}
		bytes, err := cliutil.ParseSize(sizeArg)
		if err != nil {
			return nil, 0, err
		}
		lenBlocks := diskio.BlockAddr(bytes / int64(blockSize))
		dev, err := diskio.CreateOSDevice(path, blockSize, lenBlocks)
		if err != nil {
			return nil, 0, err
		}
		return dev, uint32(lenBlocks), nil
	}

	dev, err := diskio.OpenOSDevice(path, blockSize)
	if err != nil {
		return nil, 0, err
	}
	devLenBlocks, err := dev.Len()
	if err != nil {
		dev.Close()
		return nil, 0, err
	}
	fsLen := uint32(devLenBlocks)
	if sizeArg != "" {
		bytes, err := cliutil.ParseSize(sizeArg)
		if err != nil {
			dev.Close()
			return nil, 0, err
		}
		requested := uint32(bytes / int64(blockSize))
		if requested > fsLen {
			dev.Close()
			return nil, 0, fmt.Errorf("requested size %d blocks exceeds %s's %d blocks", requested, path, fsLen)
		}
		fsLen = requested
	}
	return dev, fsLen, nil
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func parseFormat(s string) (reiserfs.Format, error) {
	switch s {
	case "3.5":
		return reiserfs.Format3_5, nil
	case "3.6":
		return reiserfs.Format3_6, nil
	default:
		return 0, fmt.Errorf("invalid format %q, want 3.5 or 3.6", s)
	}
}

func parseHash(s string) (reiserfs.Hash, error) {
	switch s {
	case "tea":
		return reiserfs.HashTEA, nil
	case "yura":
		return reiserfs.HashYURA, nil
	case "r5":
		return reiserfs.HashR5, nil
	default:
		return 0, fmt.Errorf("invalid hash %q, want tea, yura, or r5", s)
	}
}

type runParams struct {
	devicePath string
	sizeArg    string

	blockSize uint32
	format    reiserfs.Format
	hash      reiserfs.Hash

	journalDevPath string
	journalLen     uint32
	journalOffset  uint32
	maxTrans       uint32

	label string
	uuid  [16]byte
}

func run(ctx context.Context, p runParams) error {
	dev, fsLen, err := openOrCreateDevice(p.devicePath, p.blockSize, p.sizeArg)
	if err != nil {
		return err
	}
	defer dev.Close()

	var journalDev diskio.Device = dev
	if p.journalDevPath != "" {
		jdev, err := diskio.OpenOSDevice(p.journalDevPath, p.blockSize)
		if err != nil {
			return err
		}
		defer jdev.Close()
		journalDev = jdev
	}

	journalStart := p.journalOffset
	if journalStart == 0 && p.journalDevPath == "" {
		journalStart = uint32(reiserfs.DefaultSuperOffset/p.blockSize) + 2
	}

	fs, err := reiserfs.CreateFilesystem(ctx, reiserfs.CreateParams{
		Device:          dev,
		JournalDev:      journalDev,
		Format:          p.format,
		BlockSize:       p.blockSize,
		FSLen:           fsLen,
		Hash:            p.hash,
		JournalStart:    journalStart,
		JournalLen:      p.journalLen,
		JournalMaxTrans: p.maxTrans,
		Label:           p.label,
		UUID:            p.uuid,
		Now:             time.Now(),
	})
	if err != nil {
		return err
	}

	dlog.Infof(ctx, "created %s %s filesystem on %s: %d blocks, %d free", p.format, p.hash, p.devicePath, fs.Size(), fs.FreeSize())
	return fs.Close(ctx)
}
