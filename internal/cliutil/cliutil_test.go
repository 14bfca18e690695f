package cliutil_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reiserfs-ng/reiserfs-ng/internal/cliutil"
)

func TestParseSize(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Input   string
		Want    int64
		WantErr bool
	}
	testcases := map[string]TestCase{
		"plain":     {Input: "1024", Want: 1024},
		"kilo":      {Input: "4K", Want: 4 * 1024},
		"mega":      {Input: "2m", Want: 2 * 1024 * 1024},
		"giga":      {Input: "1G", Want: 1024 * 1024 * 1024},
		"positive":  {Input: "+512", Want: 512},
		"negative":  {Input: "-512", Want: -512},
		"neg-kilo":  {Input: "-4K", Want: -4 * 1024},
		"empty":     {Input: "", WantErr: true},
		"sign-only": {Input: "+", WantErr: true},
		"garbage":   {Input: "abc", WantErr: true},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			got, err := cliutil.ParseSize(tc.Input)
			if tc.WantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.Want, got)
		})
	}
}

func TestParseUUID(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Input   string
		Want    [16]byte
		WantErr bool
	}
	testcases := map[string]TestCase{
		"dashed": {
			Input: "a0dd94ed-e60c-42e8-8632-64e8d4765a43",
			Want:  [16]byte{0xa0, 0xdd, 0x94, 0xed, 0xe6, 0x0c, 0x42, 0xe8, 0x86, 0x32, 0x64, 0xe8, 0xd4, 0x76, 0x5a, 0x43},
		},
		"undashed": {
			Input: "a0dd94ede60c42e8863264e8d4765a43",
			Want:  [16]byte{0xa0, 0xdd, 0x94, 0xed, 0xe6, 0x0c, 0x42, 0xe8, 0x86, 0x32, 0x64, 0xe8, 0xd4, 0x76, 0x5a, 0x43},
		},
		"too-short": {Input: "a0dd94ed", WantErr: true},
		"bad-char":  {Input: "zzdd94ed-e60c-42e8-8632-64e8d4765a43", WantErr: true},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			got, err := cliutil.ParseUUID(tc.Input)
			if tc.WantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.Want, got)
		})
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, cliutil.ExitSuccess, cliutil.ExitCode(nil))
	assert.Equal(t, cliutil.ExitUsageError, cliutil.ExitCode(errors.New("bad flag")))
	assert.Equal(t, cliutil.ExitRuntimeError, cliutil.ExitCode(cliutil.Runtime(errors.New("disk error"))))
}

func TestRuntimeWrapsAndUnwraps(t *testing.T) {
	t.Parallel()
	assert.Nil(t, cliutil.Runtime(nil))

	cause := errors.New("boom")
	wrapped := cliutil.Runtime(cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, cause.Error(), wrapped.Error())
}
