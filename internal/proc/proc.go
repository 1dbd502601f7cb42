// Package proc runs external programs with captured output. Output text is
// normalised to \n line endings before anything else looks at it, because
// adb pipes CRLF through the container boundary.
package proc

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strings"

	"github.com/kyaraben/kyaraben/internal/logging"
)

var crlfRE = regexp.MustCompile("(\r\n|\r)")

// Result holds the outcome of one subprocess run.
type Result struct {
	Status   int
	OutBytes []byte
	ErrBytes []byte
	strip    bool
}

func (r *Result) decode(b []byte) string {
	s := crlfRE.ReplaceAllString(string(b), "\n")
	if r.strip {
		s = strings.TrimSpace(s)
	}
	return s
}

// Out returns stdout with line endings normalised.
func (r *Result) Out() string { return r.decode(r.OutBytes) }

// Err returns stderr with line endings normalised.
func (r *Result) Err() string { return r.decode(r.ErrBytes) }

// OutLines splits normalised stdout on newlines.
func (r *Result) OutLines() []string { return strings.Split(r.Out(), "\n") }

// ProcessError reports a non-zero exit. The captured Result stays available
// for callers that want the program's stderr.
type ProcessError struct {
	Args []string
	Proc *Result
}

func (e *ProcessError) Error() string {
	return e.Proc.Err()
}

// Options adjust a Run call.
type Options struct {
	StdinBytes []byte
	Env        []string // nil means inherit
	Dir        string
	// Strip trims surrounding whitespace from Out/Err. Defaults to true via Run.
	Strip bool
	// IgnoreErrors suppresses ProcessError on non-zero exit.
	IgnoreErrors bool
}

// Run executes a program and captures stdout/stderr. Non-zero exit returns a
// *ProcessError unless opts.IgnoreErrors is set. A nil opts means defaults
// (strip enabled, inherit environment).
func Run(ctx context.Context, args []string, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{Strip: true}
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if opts.StdinBytes != nil {
		cmd.Stdin = bytes.NewReader(opts.StdinBytes)
	}

	logging.Op().Debug("running process", "command", QuotedCmdline(args...))

	runErr := cmd.Run()

	status := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, runErr
		}
		status = exitErr.ExitCode()
	}

	ret := &Result{
		Status:   status,
		OutBytes: stdout.Bytes(),
		ErrBytes: stderr.Bytes(),
		strip:    opts.Strip,
	}

	logging.Op().Debug("process exited", "status", ret.Status)

	if status != 0 && !opts.IgnoreErrors {
		return nil, &ProcessError{Args: args, Proc: ret}
	}
	return ret, nil
}

// QuotedCmdline renders args as a single shell-safe command line, for the
// command text recorded on avm_commands rows.
func QuotedCmdline(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

var safeWordRE = regexp.MustCompile(`^[a-zA-Z0-9_@%+=:,./-]+$`)

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if safeWordRE.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
