//go:build !windows

package main

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/omeyang/xrelay/pkg/debug/xadmin"
)

type call struct {
	command string
	args    []string
}

type fakeExecutor struct {
	calls []call
	resp  map[string]*xadmin.Response
	err   error
}

func (f *fakeExecutor) Do(_ context.Context, command string, args ...string) (*xadmin.Response, error) {
	f.calls = append(f.calls, call{command: command, args: args})
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.resp[command]; ok {
		return r, nil
	}
	return &xadmin.Response{Success: true, Output: "ok:" + command}, nil
}

func withFake(t *testing.T, f *fakeExecutor) {
	t.Helper()
	old := newExecutor
	newExecutor = func(string, time.Duration) executor { return f }
	t.Cleanup(func() { newExecutor = old })
}

func runArgs(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"xrelayctl"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want call
	}{
		{"metrics", []string{"metrics"}, call{"metrics", []string{}}},
		{"breakers", []string{"breakers"}, call{"breakers", nil}},
		{"breakers reset", []string{"breakers", "--reset"}, call{"breakers", []string{"reset"}}},
		{"cache default", []string{"cache"}, call{"cache", []string{"stats"}}},
		{"cache flush", []string{"cache", "flush"}, call{"cache", []string{"flush"}}},
		{"job", []string{"job", "j1"}, call{"job", []string{"j1"}}},
		{"cancel", []string{"cancel", "j1"}, call{"cancel", []string{"j1"}}},
		{"loglevel", []string{"loglevel", "debug"}, call{"loglevel", []string{"debug"}}},
		{"exec", []string{"exec", "help"}, call{"help", []string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeExecutor{}
			withFake(t, f)

			code, out, _ := runArgs(tt.args...)
			if code != 0 {
				t.Fatalf("exit code = %d, want 0", code)
			}
			if len(f.calls) != 1 {
				t.Fatalf("calls = %v, want 1", f.calls)
			}
			got := f.calls[0]
			if got.command != tt.want.command || len(got.args) != len(tt.want.args) {
				t.Errorf("call = %+v, want %+v", got, tt.want)
			} else if len(got.args) > 0 && !reflect.DeepEqual(got.args, tt.want.args) {
				t.Errorf("args = %v, want %v", got.args, tt.want.args)
			}
			if !strings.Contains(out, "ok:"+tt.want.command) {
				t.Errorf("stdout = %q", out)
			}
		})
	}
}

func TestRun_UsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"cache", "bogus"},
		{"job"},
		{"cancel", "a", "b"},
		{"exec"},
		{"metrics", "--nope"},
	} {
		f := &fakeExecutor{}
		withFake(t, f)
		if code, _, _ := runArgs(args...); code != 2 {
			t.Errorf("%v: exit code = %d, want 2", args, code)
		}
		if len(f.calls) != 0 {
			t.Errorf("%v: unexpected calls %v", args, f.calls)
		}
	}
}

func TestRun_CommandFailure(t *testing.T) {
	f := &fakeExecutor{resp: map[string]*xadmin.Response{
		"job": {Error: "job not found", Code: "job_not_found"},
	}}
	withFake(t, f)

	code, _, stderr := runArgs("job", "missing")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "[job_not_found]") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRun_Unreachable(t *testing.T) {
	withFake(t, &fakeExecutor{err: errors.New("dial unix /nope: connect: no such file")})
	code, _, stderr := runArgs("metrics")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "no such file") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestExec_Truncated(t *testing.T) {
	f := &fakeExecutor{resp: map[string]*xadmin.Response{
		"metrics": {Success: true, Output: "{...", Truncated: true, OriginalSize: 2 << 20},
	}}
	var stdout, stderr bytes.Buffer
	if err := exec(context.Background(), f, &stdout, &stderr, "metrics", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr.String(), "2097152") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestREPL(t *testing.T) {
	f := &fakeExecutor{resp: map[string]*xadmin.Response{
		"job": {Error: "job not found", Code: "job_not_found"},
	}}
	in := strings.NewReader("metrics\n\njob \"a b\"\nquit\nthrottle\n")
	var stdout, stderr bytes.Buffer

	if err := runREPL(context.Background(), f, in, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 2 {
		t.Fatalf("calls = %v, want metrics and job only", f.calls)
	}
	if f.calls[1].args[0] != "a b" {
		t.Errorf("quoted arg = %q", f.calls[1].args[0])
	}
	if !strings.Contains(stderr.String(), "job_not_found") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestREPL_EOF(t *testing.T) {
	f := &fakeExecutor{}
	var stdout, stderr bytes.Buffer
	if err := runREPL(context.Background(), f, strings.NewReader("help"), &stdout, &stderr); err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 1 || f.calls[0].command != "help" {
		t.Errorf("calls = %v", f.calls)
	}
}

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"metrics", []string{"metrics"}},
		{"  cache   flush ", []string{"cache", "flush"}},
		{`job "a b"`, []string{"job", "a b"}},
		{`job 'a "b"'`, []string{"job", `a "b"`}},
		{`job a\ b`, []string{"job", "a b"}},
		{"loglevel\tdebug", []string{"loglevel\tdebug"}},
	}
	for _, tt := range tests {
		if got := parseCommandLine(tt.input); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseCommandLine(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
