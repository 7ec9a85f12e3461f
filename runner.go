// Copyright 2025 The Deploykit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package deploykit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

// RunResult holds the output and exit status from one tool invocation.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs external tools on behalf of backends.  The docker and
// compose backends sequence all of their work through a Runner, which
// keeps them trivially testable: tests substitute a recording fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*RunResult, error)
}

// LookTool verifies that the named tool is present on PATH.  Backends
// call this before their first invocation so that a missing runtime
// surfaces as ErrToolNotFound rather than a confusing exec failure.
func LookTool(name string) error {
	if _, e := exec.LookPath(name); e != nil {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return nil
}

// ExecRunner is the default Runner, running tools via os/exec.  It
// captures stdout and stderr, forwards the captured lines to the
// configured logger, honors context cancellation, and optionally retries
// failed invocations.
type ExecRunner struct {
	Dir        string            // working directory, if not empty
	Env        map[string]string // appended to the current environment
	Timeout    time.Duration     // per invocation limit, 0 = none
	Retries    int               // additional attempts after a failure
	RetryDelay time.Duration     // pause between attempts
	Logger     *log.Logger       // tool output destination, may be nil
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*RunResult, error) {
	attempts := r.Retries + 1
	var res *RunResult
	var err error
	for i := 0; i < attempts; i++ {
		res, err = r.runOnce(ctx, name, args...)
		if err == nil || i == attempts-1 {
			return res, err
		}
		delay := r.RetryDelay
		if delay == 0 {
			delay = time.Second
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(delay):
		}
	}
	return res, err
}

func (r *ExecRunner) runOnce(ctx context.Context, name string, args ...string) (*RunResult, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}
	if len(r.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range r.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.Logger != nil {
		r.Logger.Printf("run> %s %s", name, strings.Join(args, " "))
	}
	err := cmd.Run()

	res := &RunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	var xe *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &xe):
		res.ExitCode = xe.ExitCode()
	default:
		res.ExitCode = -1
	}

	if r.Logger != nil {
		r.logLines("stdout> ", res.Stdout)
		r.logLines("stderr> ", res.Stderr)
	}

	if err != nil {
		return res, fmt.Errorf("%s %s: %w", name,
			strings.Join(args, " "), err)
	}
	return res, nil
}

func (r *ExecRunner) logLines(prefix, text string) {
	text = strings.Trim(text, "\n")
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		r.Logger.Print(prefix, line)
	}
}
