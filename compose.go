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
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

// ComposeBackend runs the application as a compose project by sequencing
// calls to the compose CLI.  Like DockerBackend it reimplements nothing;
// orchestration stays entirely in the external tool.
//
// Install pulls (or builds) the project images.  Start brings the
// project up detached.  Stop takes it down.  Check lists the running
// services and matches them against the expected set, then optionally
// probes the application health endpoint.  Cleanup takes the project
// down along with its volumes and, when configured, locally built
// images.
type ComposeBackend struct {
	name      string
	desc      string
	provides  []string
	depends   []string
	conflicts []string
	logger    *log.Logger
	runner    Runner

	tool     string // runtime CLI, default "docker" ("compose" plugin)
	file     string // compose file, empty = tool default
	project  string // project name, empty = tool default
	services []string
	build    bool // Install builds instead of pulling
	rmImages bool // Cleanup removes locally built images
	health   *HTTPCheck
}

func (b *ComposeBackend) Name() string {
	return b.name
}

func (b *ComposeBackend) Description() string {
	return b.desc
}

func (b *ComposeBackend) Mode() Mode {
	return ModeCompose
}

func (b *ComposeBackend) Provides() []string {
	return copyArray(b.provides)
}

func (b *ComposeBackend) Depends() []string {
	return copyArray(b.depends)
}

func (b *ComposeBackend) Conflicts() []string {
	return copyArray(b.conflicts)
}

// SetRunner overrides the tool runner.  Mostly for tests.
func (b *ComposeBackend) SetRunner(r Runner) {
	b.runner = r
}

// SetTool overrides the runtime CLI name, e.g. "podman".
func (b *ComposeBackend) SetTool(tool string) {
	b.tool = tool
}

// SetProject sets the compose project name.
func (b *ComposeBackend) SetProject(project string) {
	b.project = project
}

// SetServices sets the services Check expects to be running.  When
// empty, any running service satisfies the check.
func (b *ComposeBackend) SetServices(services []string) {
	b.services = copyArray(services)
}

// SetBuild configures Install to build images instead of pulling them.
func (b *ComposeBackend) SetBuild(build bool) {
	b.build = build
}

// SetRemoveImages arranges for Cleanup to also remove locally built
// images.
func (b *ComposeBackend) SetRemoveImages(remove bool) {
	b.rmImages = remove
}

// SetHealth attaches an HTTP health check, probed on every Check.
func (b *ComposeBackend) SetHealth(h *HTTPCheck) {
	b.health = h
}

// compose prefixes the verb with the compose subcommand, file, and
// project arguments.
func (b *ComposeBackend) compose(verb ...string) []string {
	args := []string{"compose"}
	if b.file != "" {
		args = append(args, "-f", b.file)
	}
	if b.project != "" {
		args = append(args, "-p", b.project)
	}
	return append(args, verb...)
}

func (b *ComposeBackend) run(ctx context.Context, args ...string) (*RunResult, error) {
	r := b.runner
	if r == nil {
		r = &ExecRunner{Logger: b.logger}
	}
	return r.Run(ctx, b.tool, args...)
}

func (b *ComposeBackend) Install(ctx context.Context) error {
	if b.runner == nil {
		if e := LookTool(b.tool); e != nil {
			return e
		}
	}
	verb := "pull"
	if b.build {
		verb = "build"
	}
	_, e := b.run(ctx, b.compose(verb)...)
	return e
}

func (b *ComposeBackend) Start(ctx context.Context) error {
	if b.runner == nil {
		if e := LookTool(b.tool); e != nil {
			return e
		}
	}
	if b.health != nil {
		b.health.Reset()
	}
	_, e := b.run(ctx, b.compose("up", "-d")...)
	return e
}

func (b *ComposeBackend) Stop(ctx context.Context) {
	if _, e := b.run(ctx, b.compose("down")...); e != nil {
		b.logger.Printf("Failed taking down project: %v", e)
	}
}

func (b *ComposeBackend) Check(ctx context.Context) error {
	res, e := b.run(ctx, b.compose("ps", "--services",
		"--filter", "status=running")...)
	if e != nil {
		return e
	}
	running := make(map[string]bool)
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			running[line] = true
		}
	}
	if len(b.services) == 0 {
		if len(running) == 0 {
			return fmt.Errorf("no services running")
		}
	}
	for _, svc := range b.services {
		if !running[svc] {
			return fmt.Errorf("service %s is not running", svc)
		}
	}
	if b.health != nil {
		return b.health.Check(ctx)
	}
	return nil
}

func (b *ComposeBackend) Cleanup(ctx context.Context) error {
	args := b.compose("down", "--volumes")
	if b.rmImages {
		args = append(args, "--rmi", "local")
	}
	_, e := b.run(ctx, args...)
	return e
}

func (b *ComposeBackend) SetProperty(n PropertyName, v interface{}) error {
	switch n {
	case PropLogger:
		if v, ok := v.(*log.Logger); ok {
			b.logger = v
			return nil
		}
		return ErrBadPropType
	}
	return ErrBadPropName
}

func (b *ComposeBackend) Property(n PropertyName) (interface{}, error) {
	switch n {
	case PropLogger:
		return b.logger, nil
	}
	return nil, ErrBadPropName
}

// NewComposeBackend allocates a compose backend for the given compose
// file.  The caller normally wraps it with NewDeployment.
func NewComposeBackend(name, file string) *ComposeBackend {
	b := &ComposeBackend{}
	b.logger = log.New(os.Stderr, "", log.LstdFlags)
	b.tool = "docker"
	b.name = name
	b.file = file
	b.desc = name + " compose project"
	return b
}
