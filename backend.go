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
)

// Mode identifies the deployment backend used to run an application.
type Mode string

const (
	// ModeProcess launches the application directly as a child process.
	ModeProcess Mode = "process"

	// ModeDocker runs the application inside a single container, by
	// sequencing calls to the container runtime CLI.
	ModeDocker Mode = "docker"

	// ModeCompose runs the application as a compose project, by
	// sequencing calls to the compose CLI.
	ModeCompose Mode = "compose"
)

// ParseMode converts a manifest string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeProcess, ModeDocker, ModeCompose:
		return Mode(s), nil
	}
	return "", ErrUnknownMode
}

// Backend is what deployment backends must implement.  Note that except
// for the Name and dependency accessors, the manager promises not to call
// these methods concurrently.  That is, implementers need not worry about
// locking.  Applications should not use this interface directly; they
// interact with Deployment instead.
//
// Backends wrap external tools (a process, the container runtime CLI, or
// the compose CLI).  They must never reimplement those tools; they only
// sequence calls to them and interpret their output.
type Backend interface {
	// Name returns the name of the backend instance.  For example, a
	// backend for a web application could return "webapp".  Variants
	// can be expressed with a colon, such as "webapp:docker".  Names
	// may include alphanumerics and underscores; no punctuation other
	// than the colon separating base name and variant.
	Name() string

	// Description returns a short human readable description.  Should
	// be 32 characters or less to avoid UI truncation.
	Description() string

	// Mode returns the deployment mode this backend implements.
	Mode() Mode

	// Provides returns additional names this deployment satisfies.
	// The Name is implicitly added.
	Provides() []string

	// Depends returns names that must be running before this
	// deployment can start.  These may be fully qualified, such as
	// "db:postgres", or just a base name such as "db".
	Depends() []string

	// Conflicts returns names that cannot be enabled together with
	// this one.  The backend itself is excluded from the check, so
	// the same application deployed in two different modes can list
	// its own base name to make the modes mutually exclusive.
	Conflicts() []string

	// Install prepares the deployment: installing dependencies,
	// pulling or building images, and so forth.  It blocks until the
	// preparation completes or the context is canceled.
	Install(ctx context.Context) error

	// Start attempts to start the deployment.  It blocks until the
	// deployment has either started successfully or definitively
	// failed.
	Start(ctx context.Context) error

	// Stop attempts to stop the deployment.  As with Start, it blocks
	// until the operation is complete.  It is never allowed to fail;
	// backends escalate (e.g. from SIGTERM to SIGKILL, or from stop to
	// kill) as needed.
	Stop(ctx context.Context)

	// Check performs a health check.  This can be just a check that a
	// process or container is up, or it can include probing the
	// application's health endpoints.  It returns nil if all is well.
	Check(ctx context.Context) error

	// Cleanup releases resources held by a stopped deployment:
	// containers, volumes, scratch files.  It is safe to call on a
	// deployment that was never started.
	Cleanup(ctx context.Context) error

	// Property returns the value of a property.
	Property(PropertyName) (interface{}, error)

	// SetProperty sets the value of a property.
	SetProperty(PropertyName, interface{}) error
}
