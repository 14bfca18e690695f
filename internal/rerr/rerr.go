// Package rerr defines the severity-tagged problem type threaded through the
// engine's recoverable-error paths: the places that, instead of aborting a
// call, want to tell a caller "something is off" while still returning a
// usable result, or with enough context to decide whether to keep going.
package rerr

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"
)

// Severity classifies a Problem the way the engine's callers triage it:
// informational and warning problems are things a tool like reiserfs-fsck
// reports and moves past, Error/Fatal stop the current operation, Bug marks
// an invariant violation in this code (not the on-disk data), and NoFeature
// marks a deliberately unimplemented path.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
	SeverityBug
	SeverityNoFeature
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	case SeverityBug:
		return "bug"
	case SeverityNoFeature:
		return "unimplemented"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Problem is a severity-tagged error. It implements the error interface so
// it can be returned, wrapped, and matched with errors.As/errors.Is like any
// other error, while still carrying enough structure for a Reporter to
// decide how loudly to surface it.
type Problem struct {
	Severity Severity
	Message  string
	Err      error
}

func (p *Problem) Error() string {
	if p.Err != nil {
		return fmt.Sprintf("%s: %s: %v", p.Severity, p.Message, p.Err)
	}
	return fmt.Sprintf("%s: %s", p.Severity, p.Message)
}

func (p *Problem) Unwrap() error { return p.Err }

// New builds a Problem wrapping err (which may be nil).
func New(severity Severity, message string, err error) *Problem {
	return &Problem{Severity: severity, Message: message, Err: err}
}

// Reporter receives Problems as they occur. Report returns an error when the
// problem is severe enough that the caller should unwind instead of
// continuing (the default Reporter does this for SeverityFatal and
// SeverityBug; everything else is logged and swallowed).
type Reporter interface {
	Report(ctx context.Context, p *Problem) error
}

type reporterCtxKey struct{}

// WithReporter installs r as the Reporter subsequent Report calls on ctx (or
// a Context derived from it) will use, mirroring the donor's
// context.WithValue-keyed-by-private-struct pattern for request-scoped
// singletons.
func WithReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, reporterCtxKey{}, r)
}

// Report sends p to whatever Reporter is installed on ctx, falling back to
// logReporter{} (plain dlog output) if none was installed. It returns
// non-nil when the caller should treat the problem as fatal to the current
// operation.
func Report(ctx context.Context, p *Problem) error {
	r, ok := ctx.Value(reporterCtxKey{}).(Reporter)
	if !ok {
		r = logReporter{}
	}
	return r.Report(ctx, p)
}

type logReporter struct{}

func (logReporter) Report(ctx context.Context, p *Problem) error {
	switch p.Severity {
	case SeverityInfo:
		dlog.Info(ctx, p.Error())
	case SeverityWarning:
		dlog.Warn(ctx, p.Error())
	case SeverityError:
		dlog.Error(ctx, p.Error())
	case SeverityFatal, SeverityBug:
		dlog.Error(ctx, p.Error())
		return p
	case SeverityNoFeature:
		dlog.Warn(ctx, p.Error())
	default:
		dlog.Error(ctx, p.Error())
	}
	return nil
}
