package rerr_test

import (
	"context"
	"errors"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"

	"github.com/reiserfs-ng/reiserfs-ng/internal/rerr"
)

func TestProblemError(t *testing.T) {
	t.Parallel()
	t.Run("with cause", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("boom")
		p := rerr.New(rerr.SeverityError, "open device", cause)
		assert.Equal(t, "error: open device: boom", p.Error())
		assert.ErrorIs(t, p, cause)
	})
	t.Run("without cause", func(t *testing.T) {
		t.Parallel()
		p := rerr.New(rerr.SeverityNoFeature, "repair logic is not implemented", nil)
		assert.Equal(t, "unimplemented: repair logic is not implemented", p.Error())
		assert.Nil(t, p.Unwrap())
	})
}

func TestSeverityString(t *testing.T) {
	t.Parallel()
	testcases := map[rerr.Severity]string{
		rerr.SeverityInfo:      "info",
		rerr.SeverityWarning:   "warning",
		rerr.SeverityError:     "error",
		rerr.SeverityFatal:     "fatal",
		rerr.SeverityBug:       "bug",
		rerr.SeverityNoFeature: "unimplemented",
	}
	for sev, want := range testcases {
		assert.Equal(t, want, sev.String())
	}
}

func TestReportDefaultReporterSwallowsNonFatal(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)

	for _, sev := range []rerr.Severity{rerr.SeverityInfo, rerr.SeverityWarning, rerr.SeverityError, rerr.SeverityNoFeature} {
		err := rerr.Report(ctx, rerr.New(sev, "just logged", nil))
		assert.NoError(t, err)
	}
}

func TestReportDefaultReporterUnwindsOnFatalOrBug(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)

	for _, sev := range []rerr.Severity{rerr.SeverityFatal, rerr.SeverityBug} {
		problem := rerr.New(sev, "must unwind", nil)
		err := rerr.Report(ctx, problem)
		assert.Same(t, problem, err)
	}
}

func TestWithReporterInstallsCustomReporter(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)

	rec := &installedReporter{}
	ctx = rerr.WithReporter(ctx, rec)

	p := rerr.New(rerr.SeverityFatal, "would normally unwind", nil)
	err := rerr.Report(ctx, p)

	assert.NoError(t, err, "installed reporter always swallows, overriding the default's fatal unwind")
	assert.Equal(t, []*rerr.Problem{p}, rec.reported)
}

type installedReporter struct {
	reported []*rerr.Problem
}

func (r *installedReporter) Report(_ context.Context, p *rerr.Problem) error {
	r.reported = append(r.reported, p)
	return nil
}
