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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	PropProcessFailOnExit PropertyName = "_ProcFailOnExit"
	PropProcessStopTime   PropertyName = "_ProcStopTime"
)

// ProcessBackend launches the application directly as an operating system
// process.  This implements the Backend interface.  The zero process
// backend is not useful; use NewProcessBackend.
//
// Stopping first runs the configured stop command if there is one (with
// the child's pid exported as $PID), otherwise sends SIGTERM, and kills
// the process outright if it has not exited within stopTime.
type ProcessBackend struct {
	name      string
	desc      string
	provides  []string
	depends   []string
	conflicts []string
	logger    *log.Logger // messages, stdout, and stderr
	reason    error       // why we failed
	failed    bool        // true if we are in failure state
	stopped   bool        // true if we were stopped

	stopTime   time.Duration // wait for clean shutdown, 0 = forever
	failOnExit bool          // mark failed if the process exits

	installCmd []string
	stopCmd    []string
	cleanupCmd []string
	dir        string
	env        map[string]string
	health     *HTTPCheck

	// startCmd is only a template; an exec.Cmd cannot be started
	// twice, so Start clones it into cmd for each child.
	startCmd exec.Cmd
	cmd      *exec.Cmd
	lock     sync.Mutex
	waiter   sync.WaitGroup
}

func (p *ProcessBackend) doLog(r io.ReadCloser, prefix string) {
	// Gather stdout/stderr in chunks of lines
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			p.logger.Print(prefix, strings.Trim(line, "\n"))
		}
		if err != nil {
			return
		}
	}
}

func (p *ProcessBackend) Name() string {
	return p.name
}

func (p *ProcessBackend) Description() string {
	return p.desc
}

func (p *ProcessBackend) Mode() Mode {
	return ModeProcess
}

func copyArray(src []string) []string {
	rv := make([]string, 0, len(src))
	rv = append(rv, src...)
	return rv
}

func (p *ProcessBackend) Provides() []string {
	return copyArray(p.provides)
}

func (p *ProcessBackend) Conflicts() []string {
	return copyArray(p.conflicts)
}

func (p *ProcessBackend) Depends() []string {
	return copyArray(p.depends)
}

// SetInstallCommand configures the dependency installation command run by
// Install, e.g. a package manager invocation.
func (p *ProcessBackend) SetInstallCommand(cmd []string) {
	p.installCmd = copyArray(cmd)
}

// SetStopCommand configures a command used to stop the process in place
// of SIGTERM.  The child's pid is exported to it as $PID.
func (p *ProcessBackend) SetStopCommand(cmd []string) {
	p.stopCmd = copyArray(cmd)
}

// SetCleanupCommand configures an optional command run by Cleanup, e.g.
// removing scratch files the application leaves behind.
func (p *ProcessBackend) SetCleanupCommand(cmd []string) {
	p.cleanupCmd = copyArray(cmd)
}

// SetDir sets the working directory for the process and its helper
// commands.
func (p *ProcessBackend) SetDir(dir string) {
	p.dir = dir
	p.startCmd.Dir = dir
}

// SetEnv adds environment variables for the process and its helper
// commands, on top of the current environment.
func (p *ProcessBackend) SetEnv(env map[string]string) {
	p.env = env
	if len(env) == 0 {
		return
	}
	p.startCmd.Env = os.Environ()
	for k, v := range env {
		p.startCmd.Env = append(p.startCmd.Env, k+"="+v)
	}
}

// SetHealth attaches an HTTP health check, probed on every Check.
func (p *ProcessBackend) SetHealth(h *HTTPCheck) {
	p.health = h
}

func (p *ProcessBackend) doWait(c *exec.Cmd) {
	e := c.Wait()
	p.lock.Lock()
	if !p.stopped {
		if e != nil {
			p.failed = true
			p.reason = e
			p.logger.Printf("Failed: %v", e)
		} else if p.failOnExit {
			e = errors.New("unexpected termination")
			p.reason = e
			p.failed = true
			p.logger.Printf("Failed: %v", e)
		}
	}
	p.lock.Unlock()
	p.waiter.Done()
}

// Install runs the configured install command, if any.  Output is
// streamed into the logger.
func (p *ProcessBackend) Install(ctx context.Context) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if len(p.installCmd) == 0 {
		return nil
	}
	return p.runHelper(ctx, "install", p.installCmd, 0)
}

func (p *ProcessBackend) Start(ctx context.Context) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.stopped = false
	p.failed = false
	p.reason = nil
	if p.health != nil {
		p.health.Reset()
	}

	c := &exec.Cmd{
		Path:   p.startCmd.Path,
		Args:   copyArray(p.startCmd.Args),
		Dir:    p.startCmd.Dir,
		Env:    p.startCmd.Env,
		Stdout: p.startCmd.Stdout,
		Stderr: p.startCmd.Stderr,
	}

	if c.Stdout == nil {
		stdout, e := c.StdoutPipe()
		if e != nil {
			p.logger.Printf("Failed to capture stdout: %v", e)
		} else {
			go p.doLog(stdout, "stdout> ")
		}
	}
	if c.Stderr == nil {
		stderr, e := c.StderrPipe()
		if e != nil {
			p.logger.Printf("Failed to capture stderr: %v", e)
		} else {
			go p.doLog(stderr, "stderr> ")
		}
	}

	if e := c.Start(); e != nil {
		p.failed = true
		p.reason = e
		return e
	}
	p.cmd = c
	p.waiter.Add(1)

	go p.doWait(c)

	return nil
}

// runHelper runs an auxiliary command (install, stop, cleanup) with the
// backend's directory and environment, streaming its output into the
// logger.  When the main process is alive its pid is exported as $PID.
// Call with the lock held.
func (p *ProcessBackend) runHelper(ctx context.Context, pfx string, args []string, d time.Duration) error {
	if d == 0 {
		d = time.Second * 10
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	c := exec.CommandContext(ctx, args[0], args[1:]...)
	c.Dir = p.dir
	c.Env = os.Environ()
	for k, v := range p.env {
		c.Env = append(c.Env, k+"="+v)
	}
	if p.cmd != nil && p.cmd.Process != nil {
		c.Env = append(c.Env,
			fmt.Sprintf("PID=%d", p.cmd.Process.Pid))
	}

	if stderr, e := c.StderrPipe(); e != nil {
		p.logger.Printf("Failed to capture stderr: %v", e)
	} else {
		go p.doLog(stderr, pfx+" stderr> ")
	}
	if stdout, e := c.StdoutPipe(); e != nil {
		p.logger.Printf("Failed to capture stdout: %v", e)
	} else {
		go p.doLog(stdout, pfx+" stdout> ")
	}

	if e := c.Start(); e != nil {
		return e
	}
	e := c.Wait()
	if ctx.Err() != nil {
		p.logger.Printf("Timeout waiting for %s command", pfx)
	}
	return e
}

func (p *ProcessBackend) shutdown(ctx context.Context) {
	if p.cmd == nil {
		return
	}
	if proc := p.cmd.Process; proc != nil && proc.Pid != -1 &&
		p.cmd.ProcessState == nil {
		if len(p.stopCmd) == 0 {
			e := proc.Signal(syscall.SIGTERM)
			if e != nil {
				p.logger.Printf("Failed sending SIGTERM: %v", e)
			}
		} else {
			e := p.runHelper(ctx, "stop", p.stopCmd, p.stopTime)
			if e != nil {
				p.logger.Printf("Failed stop cmd: %v", e)
			}
		}
	}
}

func (p *ProcessBackend) kill() {
	if p.cmd == nil {
		return
	}
	if proc := p.cmd.Process; proc != nil {
		e := proc.Kill()
		if e != nil {
			p.logger.Printf("Failed killing: %v", e)
		}
	}
}

func (p *ProcessBackend) Stop(ctx context.Context) {
	p.lock.Lock()
	p.stopped = true
	if p.cmd != nil && p.cmd.Process != nil {
		var timer *time.Timer
		p.shutdown(ctx)
		if p.stopTime > 0 {
			timer = time.AfterFunc(p.stopTime, func() {
				p.logger.Printf("Graceful shutdown timed out")
				p.lock.Lock()
				p.kill()
				p.lock.Unlock()
			})
		}
		p.lock.Unlock()
		p.waiter.Wait()
		p.lock.Lock()
		if timer != nil {
			timer.Stop()
		}
	}
	p.cmd = nil
	p.lock.Unlock()
}

func (p *ProcessBackend) Check(ctx context.Context) error {
	p.lock.Lock()
	if p.failed {
		e := p.reason
		p.lock.Unlock()
		return e
	}
	h := p.health
	p.lock.Unlock()

	if h != nil {
		return h.Check(ctx)
	}
	return nil
}

// Cleanup runs the configured cleanup command, if any.  The process
// itself is stopped via Stop; cleanup only deals with what it leaves
// behind.
func (p *ProcessBackend) Cleanup(ctx context.Context) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if len(p.cleanupCmd) == 0 {
		return nil
	}
	return p.runHelper(ctx, "cleanup", p.cleanupCmd, 0)
}

func (p *ProcessBackend) SetProperty(n PropertyName, v interface{}) error {
	switch n {
	case PropLogger:
		if v, ok := v.(*log.Logger); ok {
			p.logger = v
			return nil
		}
		return ErrBadPropType
	case PropProcessFailOnExit:
		if v, ok := v.(bool); ok {
			p.failOnExit = v
			return nil
		}
		return ErrBadPropType
	case PropProcessStopTime:
		if v, ok := v.(time.Duration); ok {
			p.stopTime = v
			return nil
		}
		return ErrBadPropType
	}
	return ErrBadPropName
}

func (p *ProcessBackend) Property(n PropertyName) (interface{}, error) {
	switch n {
	case PropLogger:
		return p.logger, nil
	case PropProcessFailOnExit:
		return p.failOnExit, nil
	case PropProcessStopTime:
		return p.stopTime, nil
	}
	return nil, ErrBadPropName
}

// NewProcessBackend allocates a process backend for the given command.
// The caller normally wraps it with NewDeployment.
func NewProcessBackend(name string, command []string) *ProcessBackend {
	p := &ProcessBackend{}
	p.logger = log.New(os.Stderr, "", log.LstdFlags)
	p.stopTime = time.Second * 10
	p.name = name
	if len(command) != 0 {
		p.startCmd.Path = command[0]
		p.startCmd.Args = command
		if !strings.Contains(command[0], string(os.PathSeparator)) {
			if path, e := exec.LookPath(command[0]); e == nil {
				p.startCmd.Path = path
			}
		}
		p.desc = name + " process: " + command[0]
	}
	return p
}

// NewProcess allocates a Deployment running cmd directly as a child
// process.
func NewProcess(name string, cmd *exec.Cmd) *Deployment {
	p := &ProcessBackend{}
	p.logger = log.New(os.Stderr, "", log.LstdFlags)
	p.stopTime = time.Second * 10
	p.startCmd = *cmd
	p.name = name
	p.desc = name + " process: " + cmd.Path
	return NewDeployment(p)
}
