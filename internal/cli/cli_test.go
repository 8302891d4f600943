// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"strings"
	"testing"
)

func testEnv(args ...string) (*Env, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &Env{
		Args:   args,
		Getenv: func(string) string { return "" },
		Stdin:  strings.NewReader(""),
		Stdout: &stdout,
		Stderr: &stderr,
	}, &stdout, &stderr
}

func TestRunVersionFlag(t *testing.T) {
	t.Parallel()

	env, _, stderr := testEnv("-version")
	err := Run(WithEnv(context.Background(), env), AppFunc(func(ctx context.Context) error {
		t.Fatal("app must not run when -version is passed")
		return nil
	}))
	if !errors.Is(err, ErrExitVersion) {
		t.Fatalf("got error %v, want ErrExitVersion", err)
	}
	if stderr.Len() == 0 {
		t.Error("version information wasn't printed to stderr")
	}
}

func TestRunPassesRemainingArgs(t *testing.T) {
	t.Parallel()

	env, _, _ := testEnv("hello", "world")
	err := Run(WithEnv(context.Background(), env), AppFunc(func(ctx context.Context) error {
		got := GetEnv(ctx).Args
		if len(got) != 2 || got[0] != "hello" || got[1] != "world" {
			t.Errorf("got args %v, want [hello world]", got)
		}
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
}

type flagApp struct {
	verbose bool
	ran     bool
}

func (a *flagApp) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&a.verbose, "verbose", false, "Be verbose.")
}

func (a *flagApp) Run(ctx context.Context) error {
	a.ran = true
	return nil
}

func TestRunParsesAppFlags(t *testing.T) {
	t.Parallel()

	app := new(flagApp)
	env, _, _ := testEnv("-verbose")
	if err := Run(WithEnv(context.Background(), env), app); err != nil {
		t.Fatal(err)
	}
	if !app.ran {
		t.Error("app didn't run")
	}
	if !app.verbose {
		t.Error("-verbose flag wasn't parsed")
	}
}

func TestRunInvalidFlag(t *testing.T) {
	t.Parallel()

	env, _, stderr := testEnv("-no-such-flag")
	err := Run(WithEnv(context.Background(), env), AppFunc(func(ctx context.Context) error {
		t.Fatal("app must not run with invalid flags")
		return nil
	}))
	if err == nil {
		t.Fatal("expected an error")
	}
	if isPrintableError(err) {
		t.Errorf("flag parse errors must be unprintable, got %v", err)
	}
	if stderr.Len() == 0 {
		t.Error("flag package didn't print anything to stderr")
	}
}

func TestGetEnvFallsBackToOS(t *testing.T) {
	t.Parallel()

	env := GetEnv(context.Background())
	if env == nil {
		t.Fatal("GetEnv returned nil")
	}
	if env.Getenv == nil {
		t.Error("OS environment has nil Getenv")
	}
}
