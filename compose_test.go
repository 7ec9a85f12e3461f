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
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// The compose fake keys results on the verb that follows the file and
// project arguments, so it reuses fakeRunner with the verb extracted by
// hand in the assertions.
func composeVerb(call []string) string {
	for i := 1; i < len(call); i++ {
		switch call[i] {
		case "compose":
			continue
		case "-f", "-p":
			i++
			continue
		default:
			return call[i]
		}
	}
	return ""
}

func TestComposeLifecycle(t *testing.T) {
	Convey("Given a compose backend", t, func() {
		f := newFakeRunner()
		b := NewComposeBackend("webstack", "docker-compose.yaml")
		b.SetRunner(f)
		b.SetProject("webstack")
		ctx := context.Background()

		Convey("Install pulls the project images", func() {
			So(b.Install(ctx), ShouldBeNil)
			So(f.last(), ShouldResemble, []string{"docker",
				"compose", "-f", "docker-compose.yaml",
				"-p", "webstack", "pull"})
		})

		Convey("Install builds when configured", func() {
			b.SetBuild(true)
			So(b.Install(ctx), ShouldBeNil)
			So(composeVerb(f.last()), ShouldEqual, "build")
		})

		Convey("Start brings the project up detached", func() {
			So(b.Start(ctx), ShouldBeNil)
			So(f.last(), ShouldResemble, []string{"docker",
				"compose", "-f", "docker-compose.yaml",
				"-p", "webstack", "up", "-d"})
		})

		Convey("Stop takes the project down", func() {
			b.Stop(ctx)
			So(f.last(), ShouldResemble, []string{"docker",
				"compose", "-f", "docker-compose.yaml",
				"-p", "webstack", "down"})
		})

		Convey("Cleanup removes volumes", func() {
			So(b.Cleanup(ctx), ShouldBeNil)
			So(f.last(), ShouldResemble, []string{"docker",
				"compose", "-f", "docker-compose.yaml",
				"-p", "webstack", "down", "--volumes"})
		})

		Convey("Cleanup removes local images when asked", func() {
			b.SetRemoveImages(true)
			So(b.Cleanup(ctx), ShouldBeNil)
			So(f.last(), ShouldResemble, []string{"docker",
				"compose", "-f", "docker-compose.yaml",
				"-p", "webstack", "down", "--volumes",
				"--rmi", "local"})
		})
	})
}

func TestComposeCheck(t *testing.T) {
	Convey("Given a compose backend with expected services", t, func() {
		f := newFakeRunner()
		b := NewComposeBackend("webstack", "docker-compose.yaml")
		b.SetRunner(f)
		b.SetServices([]string{"web", "db"})
		ctx := context.Background()

		Convey("Check lists the running services", func() {
			f.results["ps"] = &RunResult{Stdout: "web\ndb\n"}
			So(b.Check(ctx), ShouldBeNil)
			So(composeVerb(f.last()), ShouldEqual, "ps")
			So(f.last(), ShouldContain, "--filter")
			So(f.last(), ShouldContain, "status=running")
		})

		Convey("Check fails when a service is down", func() {
			f.results["ps"] = &RunResult{Stdout: "web\n"}
			e := b.Check(ctx)
			So(e, ShouldNotBeNil)
			So(e.Error(), ShouldContainSubstring, "db")
		})

		Convey("Check fails when the tool fails", func() {
			f.errs["ps"] = fmt.Errorf("no configuration file")
			So(b.Check(ctx), ShouldNotBeNil)
		})
	})

	Convey("Without expected services any one will do", t, func() {
		f := newFakeRunner()
		b := NewComposeBackend("webstack", "docker-compose.yaml")
		b.SetRunner(f)
		ctx := context.Background()

		f.results["ps"] = &RunResult{Stdout: "worker\n"}
		So(b.Check(ctx), ShouldBeNil)

		f.results["ps"] = &RunResult{Stdout: "\n"}
		So(b.Check(ctx), ShouldNotBeNil)
	})
}
