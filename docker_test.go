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
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeRunner records every invocation and replies with canned results,
// keyed by the CLI verb.  The verb is located by scanning the argument
// list, which lets the same fake serve both plain and compose commands.
type fakeRunner struct {
	calls   [][]string
	results map[string]*RunResult
	errs    map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, name string,
	args ...string) (*RunResult, error) {

	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	for _, a := range args {
		if e, ok := f.errs[a]; ok {
			return nil, e
		}
		if r, ok := f.results[a]; ok {
			return r, nil
		}
	}
	return &RunResult{}, nil
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: make(map[string]*RunResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeRunner) last() []string {
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func TestDockerInstall(t *testing.T) {
	Convey("Given a docker backend", t, func() {
		f := newFakeRunner()
		b := NewDockerBackend("web", "example/web:1.0")
		b.SetRunner(f)
		ctx := context.Background()

		Convey("Install pulls the image", func() {
			So(b.Install(ctx), ShouldBeNil)
			So(f.calls, ShouldHaveLength, 1)
			So(f.last(), ShouldResemble,
				[]string{"docker", "pull", "example/web:1.0"})
		})

		Convey("Install builds when a context is set", func() {
			b.SetBuild(".", "")
			So(b.Install(ctx), ShouldBeNil)
			So(f.last(), ShouldResemble, []string{"docker",
				"build", "-t", "example/web:1.0", "."})
		})

		Convey("Install passes an alternate dockerfile", func() {
			b.SetBuild(".", "build/Dockerfile")
			So(b.Install(ctx), ShouldBeNil)
			So(f.last(), ShouldResemble, []string{"docker",
				"build", "-t", "example/web:1.0",
				"-f", "build/Dockerfile", "."})
		})

		Convey("Install reports pull failures", func() {
			f.errs["pull"] = fmt.Errorf("no such image")
			So(b.Install(ctx), ShouldNotBeNil)
		})
	})
}

func TestDockerStart(t *testing.T) {
	Convey("Given a docker backend", t, func() {
		f := newFakeRunner()
		b := NewDockerBackend("web", "example/web:1.0")
		b.SetRunner(f)
		ctx := context.Background()

		Convey("Start removes any stale container first", func() {
			So(b.Start(ctx), ShouldBeNil)
			So(f.calls, ShouldHaveLength, 2)
			So(f.calls[0], ShouldResemble,
				[]string{"docker", "rm", "-f", "web"})
			So(f.calls[1], ShouldResemble, []string{"docker",
				"run", "-d", "--name", "web",
				"example/web:1.0"})
		})

		Convey("Start passes ports, volumes and network", func() {
			b.SetPorts([]string{"8000:8000"})
			b.SetVolumes([]string{"data:/var/lib/app"})
			b.SetNetwork("backend")
			So(b.Start(ctx), ShouldBeNil)
			So(f.last(), ShouldResemble, []string{"docker",
				"run", "-d", "--name", "web",
				"-p", "8000:8000",
				"-v", "data:/var/lib/app",
				"--network", "backend",
				"example/web:1.0"})
		})

		Convey("Start passes environment and extra args", func() {
			b.SetEnv(map[string]string{"DEBUG": "true"})
			b.SetExtraArgs([]string{"--restart", "no"})
			So(b.Start(ctx), ShouldBeNil)
			So(f.last(), ShouldResemble, []string{"docker",
				"run", "-d", "--name", "web",
				"-e", "DEBUG=true",
				"--restart", "no",
				"example/web:1.0"})
		})

		Convey("Start ignores a failed stale removal", func() {
			f.errs["rm"] = fmt.Errorf("no such container")
			So(b.Start(ctx), ShouldBeNil)
			So(f.calls, ShouldHaveLength, 2)
		})

		Convey("Start reports a failed run", func() {
			f.errs["run"] = fmt.Errorf("port in use")
			So(b.Start(ctx), ShouldNotBeNil)
		})
	})
}

func TestDockerStopCheck(t *testing.T) {
	Convey("Given a docker backend", t, func() {
		f := newFakeRunner()
		b := NewDockerBackend("web", "example/web:1.0")
		b.SetRunner(f)
		ctx := context.Background()

		Convey("Stop stops then removes the container", func() {
			b.Stop(ctx)
			So(f.calls, ShouldHaveLength, 2)
			So(f.calls[0], ShouldResemble,
				[]string{"docker", "stop", "web"})
			So(f.calls[1], ShouldResemble,
				[]string{"docker", "rm", "web"})
		})

		Convey("Check passes when the container runs", func() {
			f.results["inspect"] = &RunResult{Stdout: "true\n"}
			So(b.Check(ctx), ShouldBeNil)
			So(f.last(), ShouldResemble, []string{"docker",
				"inspect", "-f", "{{.State.Running}}", "web"})
		})

		Convey("Check fails on a stopped container", func() {
			f.results["inspect"] = &RunResult{Stdout: "false\n"}
			e := b.Check(ctx)
			So(e, ShouldNotBeNil)
			So(e.Error(), ShouldContainSubstring, "not running")
		})

		Convey("Check fails on a missing container", func() {
			f.errs["inspect"] = fmt.Errorf("no such object")
			e := b.Check(ctx)
			So(e, ShouldNotBeNil)
			So(e.Error(), ShouldContainSubstring, "not found")
		})
	})
}

func TestDockerCleanup(t *testing.T) {
	Convey("Given a docker backend", t, func() {
		f := newFakeRunner()
		b := NewDockerBackend("web", "example/web:1.0")
		b.SetRunner(f)
		ctx := context.Background()

		Convey("Cleanup force removes the container", func() {
			So(b.Cleanup(ctx), ShouldBeNil)
			So(f.calls, ShouldHaveLength, 1)
			So(f.last(), ShouldResemble,
				[]string{"docker", "rm", "-f", "web"})
		})

		Convey("Cleanup removes the image when asked", func() {
			b.SetRemoveImage(true)
			So(b.Cleanup(ctx), ShouldBeNil)
			So(f.calls, ShouldHaveLength, 2)
			So(f.last(), ShouldResemble,
				[]string{"docker", "rmi", "example/web:1.0"})
		})

		Convey("Cleanup reports image removal failures", func() {
			b.SetRemoveImage(true)
			f.errs["rmi"] = fmt.Errorf("image in use")
			So(b.Cleanup(ctx), ShouldNotBeNil)
		})
	})
}

func TestDockerNaming(t *testing.T) {
	Convey("Container names avoid tag separators", t, func() {
		b := NewDockerBackend("web:2", "example/web:2.0")
		So(strings.Contains(b.Name(), "web"), ShouldBeTrue)
		f := newFakeRunner()
		b.SetRunner(f)
		b.Stop(context.Background())
		So(strings.Contains(f.calls[0][2], ":"), ShouldBeFalse)
	})

	Convey("An alternate tool replaces the CLI", t, func() {
		f := newFakeRunner()
		b := NewDockerBackend("web", "example/web:1.0")
		b.SetRunner(f)
		b.SetTool("podman")
		So(b.Install(context.Background()), ShouldBeNil)
		So(f.last()[0], ShouldEqual, "podman")
	})
}
