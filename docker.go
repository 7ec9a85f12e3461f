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

// DockerBackend runs the application inside a single container by
// sequencing calls to the container runtime CLI.  It never talks to the
// runtime API directly and reimplements nothing; every operation is a
// CLI invocation whose output it interprets.
//
// Install pulls the image, or builds it when a build context is set.
// Start removes any stale container and does a detached run.  Stop stops
// and removes the container.  Check inspects the container's running
// state and optionally probes the application's health endpoint.
// Cleanup force-removes the container and, when configured, the image.
type DockerBackend struct {
	name      string
	desc      string
	provides  []string
	depends   []string
	conflicts []string
	logger    *log.Logger
	runner    Runner

	tool        string // runtime CLI, default "docker"
	image       string
	build       string // build context directory, empty = pull
	dockerfile  string
	container   string
	ports       []string
	volumes     []string
	network     string
	env         map[string]string
	extraArgs   []string
	removeImage bool
	health      *HTTPCheck
}

func (b *DockerBackend) Name() string {
	return b.name
}

func (b *DockerBackend) Description() string {
	return b.desc
}

func (b *DockerBackend) Mode() Mode {
	return ModeDocker
}

func (b *DockerBackend) Provides() []string {
	return copyArray(b.provides)
}

func (b *DockerBackend) Depends() []string {
	return copyArray(b.depends)
}

func (b *DockerBackend) Conflicts() []string {
	return copyArray(b.conflicts)
}

// SetRunner overrides the tool runner.  Mostly for tests.
func (b *DockerBackend) SetRunner(r Runner) {
	b.runner = r
}

// SetTool overrides the runtime CLI name, e.g. "podman".
func (b *DockerBackend) SetTool(tool string) {
	b.tool = tool
}

// SetBuild configures Install to build the image from the given context
// directory instead of pulling it.  dockerfile may be empty for the
// default.
func (b *DockerBackend) SetBuild(dir, dockerfile string) {
	b.build = dir
	b.dockerfile = dockerfile
}

// SetContainerName overrides the derived container name.
func (b *DockerBackend) SetContainerName(name string) {
	b.container = name
}

// SetPorts sets host:container port publications.
func (b *DockerBackend) SetPorts(ports []string) {
	b.ports = copyArray(ports)
}

// SetVolumes sets host:container volume mounts.
func (b *DockerBackend) SetVolumes(volumes []string) {
	b.volumes = copyArray(volumes)
}

// SetNetwork sets the container network.
func (b *DockerBackend) SetNetwork(network string) {
	b.network = network
}

// SetEnv sets environment variables passed to the container.
func (b *DockerBackend) SetEnv(env map[string]string) {
	b.env = env
}

// SetExtraArgs appends additional arguments to the run invocation.
func (b *DockerBackend) SetExtraArgs(args []string) {
	b.extraArgs = copyArray(args)
}

// SetRemoveImage arranges for Cleanup to remove the image as well.
func (b *DockerBackend) SetRemoveImage(remove bool) {
	b.removeImage = remove
}

// SetHealth attaches an HTTP health check, probed on every Check.
func (b *DockerBackend) SetHealth(h *HTTPCheck) {
	b.health = h
}

func (b *DockerBackend) run(ctx context.Context, args ...string) (*RunResult, error) {
	r := b.runner
	if r == nil {
		r = &ExecRunner{Logger: b.logger}
	}
	return r.Run(ctx, b.tool, args...)
}

func (b *DockerBackend) Install(ctx context.Context) error {
	if b.runner == nil {
		if e := LookTool(b.tool); e != nil {
			return e
		}
	}
	if b.build != "" {
		args := []string{"build", "-t", b.image}
		if b.dockerfile != "" {
			args = append(args, "-f", b.dockerfile)
		}
		args = append(args, b.build)
		_, e := b.run(ctx, args...)
		return e
	}
	_, e := b.run(ctx, "pull", b.image)
	return e
}

func (b *DockerBackend) Start(ctx context.Context) error {
	if b.runner == nil {
		if e := LookTool(b.tool); e != nil {
			return e
		}
	}

	// A stale container with our name blocks the run; remove it.
	// Failure here is fine, it usually just means there wasn't one.
	b.run(ctx, "rm", "-f", b.container)

	args := []string{"run", "-d", "--name", b.container}
	for _, p := range b.ports {
		args = append(args, "-p", p)
	}
	for _, v := range b.volumes {
		args = append(args, "-v", v)
	}
	if b.network != "" {
		args = append(args, "--network", b.network)
	}
	for k, v := range b.env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, b.extraArgs...)
	args = append(args, b.image)

	if b.health != nil {
		b.health.Reset()
	}
	_, e := b.run(ctx, args...)
	return e
}

func (b *DockerBackend) Stop(ctx context.Context) {
	if _, e := b.run(ctx, "stop", b.container); e != nil {
		b.logger.Printf("Failed stopping container %s: %v",
			b.container, e)
	}
	if _, e := b.run(ctx, "rm", b.container); e != nil {
		b.logger.Printf("Failed removing container %s: %v",
			b.container, e)
	}
}

func (b *DockerBackend) Check(ctx context.Context) error {
	res, e := b.run(ctx, "inspect", "-f", "{{.State.Running}}",
		b.container)
	if e != nil {
		return fmt.Errorf("container %s not found: %w",
			b.container, e)
	}
	if strings.TrimSpace(res.Stdout) != "true" {
		return fmt.Errorf("container %s is not running", b.container)
	}
	if b.health != nil {
		return b.health.Check(ctx)
	}
	return nil
}

func (b *DockerBackend) Cleanup(ctx context.Context) error {
	if _, e := b.run(ctx, "rm", "-f", b.container); e != nil {
		b.logger.Printf("Failed removing container %s: %v",
			b.container, e)
	}
	if b.removeImage && b.image != "" {
		if _, e := b.run(ctx, "rmi", b.image); e != nil {
			return e
		}
	}
	return nil
}

func (b *DockerBackend) SetProperty(n PropertyName, v interface{}) error {
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

func (b *DockerBackend) Property(n PropertyName) (interface{}, error) {
	switch n {
	case PropLogger:
		return b.logger, nil
	}
	return nil, ErrBadPropName
}

// containerName derives a runtime safe container name from a deployment
// name; the colon separating base and variant is not allowed there.
func containerName(name string) string {
	return strings.ReplaceAll(name, ":", "-")
}

// NewDockerBackend allocates a docker backend running the given image.
// The caller normally wraps it with NewDeployment.
func NewDockerBackend(name, image string) *DockerBackend {
	b := &DockerBackend{}
	b.logger = log.New(os.Stderr, "", log.LstdFlags)
	b.tool = "docker"
	b.name = name
	b.image = image
	b.container = containerName(name)
	b.desc = name + " container: " + image
	return b
}
