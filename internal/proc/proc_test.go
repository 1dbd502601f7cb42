package proc

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func run(t *testing.T, args []string, opts *Options) *Result {
	t.Helper()
	res, err := Run(context.Background(), args, opts)
	if err != nil {
		t.Fatalf("Run(%v): %v", args, err)
	}
	return res
}

func TestRunEcho(t *testing.T) {
	res := run(t, []string{"echo", "hello world"}, nil)
	if res.Out() != "hello world" {
		t.Errorf("Out() = %q", res.Out())
	}
	if res.Status != 0 {
		t.Errorf("Status = %d", res.Status)
	}
}

func TestCRLFNormalisation(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a\rb", []string{"a", "b"}},
		{"a\r\nb", []string{"a", "b"}},
		{"a\n\rb", []string{"a", "", "b"}},
	}
	for _, tt := range tests {
		res := run(t, []string{"printf", "%s", tt.in}, nil)
		if got := res.OutLines(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("OutLines(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStripDisabled(t *testing.T) {
	res := run(t, []string{"printf", "%s", "  x  "}, &Options{Strip: false})
	if res.Out() != "  x  " {
		t.Errorf("Out() = %q, want untrimmed", res.Out())
	}
}

func TestStdinBytes(t *testing.T) {
	res := run(t, []string{"cat"}, &Options{StdinBytes: []byte("from stdin"), Strip: true})
	if res.Out() != "from stdin" {
		t.Errorf("Out() = %q", res.Out())
	}
}

func TestNonZeroExit(t *testing.T) {
	_, err := Run(context.Background(), []string{"false"}, nil)
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("want ProcessError, got %v", err)
	}
	if perr.Proc.Status == 0 {
		t.Error("ProcessError with zero status")
	}
}

func TestIgnoreErrors(t *testing.T) {
	res := run(t, []string{"false"}, &Options{Strip: true, IgnoreErrors: true})
	if res.Status == 0 {
		t.Error("expected non-zero status")
	}
}

func TestQuotedCmdline(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"adb", "install", "-r", "/data/x.apk"}, "adb install -r /data/x.apk"},
		{[]string{"echo", "two words"}, "echo 'two words'"},
		{[]string{"echo", ""}, "echo ''"},
		{[]string{"echo", "don't"}, `echo 'don'"'"'t'`},
	}
	for _, tt := range tests {
		if got := QuotedCmdline(tt.args...); got != tt.want {
			t.Errorf("QuotedCmdline(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}
