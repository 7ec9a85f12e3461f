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
	"errors"
	"runtime"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell required")
	}
	Convey("ExecRunner", t, func() {
		r := &ExecRunner{}
		ctx := context.Background()

		Convey("Captures stdout", func() {
			res, e := r.Run(ctx, "sh", "-c", "echo hello")
			So(e, ShouldBeNil)
			So(res.Stdout, ShouldEqual, "hello\n")
			So(res.ExitCode, ShouldEqual, 0)
		})

		Convey("Captures stderr and exit code", func() {
			res, e := r.Run(ctx, "sh", "-c",
				"echo oops 1>&2; exit 3")
			So(e, ShouldNotBeNil)
			So(res.Stderr, ShouldEqual, "oops\n")
			So(res.ExitCode, ShouldEqual, 3)
		})

		Convey("Environment is appended", func() {
			r.Env = map[string]string{"DK_TEST": "42"}
			res, e := r.Run(ctx, "sh", "-c", "echo $DK_TEST")
			So(e, ShouldBeNil)
			So(res.Stdout, ShouldEqual, "42\n")
		})

		Convey("Honors cancellation", func() {
			cctx, cancel := context.WithTimeout(ctx,
				50*time.Millisecond)
			defer cancel()
			_, e := r.Run(cctx, "sh", "-c", "sleep 5")
			So(e, ShouldNotBeNil)
		})

		Convey("Retries failed invocations", func() {
			r.Retries = 2
			r.RetryDelay = time.Millisecond
			res, e := r.Run(ctx, "sh", "-c", "exit 1")
			So(e, ShouldNotBeNil)
			So(res.ExitCode, ShouldEqual, 1)
		})
	})
}

func TestLookTool(t *testing.T) {
	Convey("LookTool", t, func() {
		Convey("Finds a tool on PATH", func() {
			So(LookTool("sh"), ShouldBeNil)
		})
		Convey("Reports missing tools", func() {
			e := LookTool("no-such-tool-exists")
			So(e, ShouldNotBeNil)
			So(errors.Is(e, ErrToolNotFound), ShouldBeTrue)
		})
	})
}
