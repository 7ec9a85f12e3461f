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

//go:build unix

// These tests spawn real child processes through /bin/sh, so they are
// specific to POSIX systems.

package deploykit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func shell(script string) []string {
	return []string{"sh", "-c", script}
}

func TestProcessStartStop(t *testing.T) {
	Convey("Start/stop of a new process", t,
		WithManager(t, "ProcessStartStop", func(m *Manager) {
			p := NewProcessBackend("sleeper", shell("sleep 3600"))
			d := NewDeployment(p)
			So(d, ShouldNotBeNil)
			m.AddDeployment(d)

			So(d.Enabled(), ShouldBeFalse)
			So(d.Running(), ShouldBeFalse)
			So(d.Enable(), ShouldBeNil)
			So(d.Enabled(), ShouldBeTrue)
			So(d.Running(), ShouldBeTrue)

			time.Sleep(time.Millisecond * 10)

			So(d.Disable(), ShouldBeNil)
			So(d.Enabled(), ShouldBeFalse)
			So(d.Running(), ShouldBeFalse)
		}))
}

func TestProcessStopStartCycle(t *testing.T) {
	Convey("A process survives a stop/start cycle", t,
		WithManager(t, "ProcessStopStart", func(m *Manager) {
			p := NewProcessBackend("cycler",
				shell("echo starting up; sleep 3600"))
			d := NewDeployment(p)
			m.AddDeployment(d)
			m.StopMonitoring()

			So(d.Enable(), ShouldBeNil)
			time.Sleep(time.Millisecond * 10)
			So(d.Disable(), ShouldBeNil)
			So(d.Running(), ShouldBeFalse)

			So(d.Enable(), ShouldBeNil)
			time.Sleep(time.Millisecond * 50)
			So(d.Check(), ShouldBeNil)
			So(d.Running(), ShouldBeTrue)
			So(d.Failed(), ShouldBeFalse)

			So(d.Disable(), ShouldBeNil)
			So(d.Running(), ShouldBeFalse)
		}))
}

func TestProcessFail(t *testing.T) {
	Convey("A failing process is noticed", t,
		WithManager(t, "ProcessFail", func(m *Manager) {
			p := NewProcessBackend("crasher", shell("exit 1"))
			d := NewDeployment(p)
			m.AddDeployment(d)
			m.StopMonitoring()

			So(d.Enable(), ShouldBeNil)
			So(d.Enabled(), ShouldBeTrue)
			time.Sleep(time.Millisecond * 50)
			So(d.Check(), ShouldNotBeNil)
			So(d.Enabled(), ShouldBeTrue)
			So(d.Failed(), ShouldBeTrue)
			So(d.Running(), ShouldBeFalse)
		}))
}

func TestProcessFailOnExit(t *testing.T) {
	Convey("A clean exit can still be a failure", t,
		WithManager(t, "ProcessFailOnExit", func(m *Manager) {
			p := NewProcessBackend("oneshot", shell("exit 0"))
			d := NewDeployment(p)
			m.AddDeployment(d)
			m.StopMonitoring()

			e := d.SetProperty(PropProcessFailOnExit, true)
			So(e, ShouldBeNil)
			So(d.Enable(), ShouldBeNil)
			time.Sleep(time.Millisecond * 50)
			So(d.Check(), ShouldNotBeNil)
			So(d.Failed(), ShouldBeTrue)
		}))
}

func TestProcessHelperCommands(t *testing.T) {
	Convey("Install and cleanup commands run", t,
		WithManager(t, "ProcessHelpers", func(m *Manager) {
			dir := t.TempDir()
			p := NewProcessBackend("helper", shell("sleep 3600"))
			p.SetDir(dir)
			p.SetInstallCommand(shell("touch installed"))
			p.SetCleanupCommand(shell("touch cleaned"))
			d := NewDeployment(p)
			m.AddDeployment(d)

			So(d.Install(), ShouldBeNil)
			_, e := os.Stat(filepath.Join(dir, "installed"))
			So(e, ShouldBeNil)

			So(d.Cleanup(), ShouldBeNil)
			_, e = os.Stat(filepath.Join(dir, "cleaned"))
			So(e, ShouldBeNil)
		}))
}

func TestProcessStopCommand(t *testing.T) {
	Convey("A stop command replaces SIGTERM", t,
		WithManager(t, "ProcessStopCmd", func(m *Manager) {
			dir := t.TempDir()
			p := NewProcessBackend("stoppable", shell("sleep 3600"))
			p.SetDir(dir)
			p.SetStopCommand(shell("touch stopped; kill $PID"))
			d := NewDeployment(p)
			m.AddDeployment(d)

			So(d.Enable(), ShouldBeNil)
			time.Sleep(time.Millisecond * 10)
			So(d.Disable(), ShouldBeNil)
			So(d.Running(), ShouldBeFalse)

			_, e := os.Stat(filepath.Join(dir, "stopped"))
			So(e, ShouldBeNil)
		}))
}

func TestProcessEnvironment(t *testing.T) {
	Convey("Configured environment reaches the process", t,
		WithManager(t, "ProcessEnv", func(m *Manager) {
			dir := t.TempDir()
			p := NewProcessBackend("envcheck",
				shell("echo $GREETING > out; sleep 3600"))
			p.SetDir(dir)
			p.SetEnv(map[string]string{"GREETING": "hello"})
			d := NewDeployment(p)
			m.AddDeployment(d)

			So(d.Enable(), ShouldBeNil)
			time.Sleep(time.Millisecond * 100)
			b, e := os.ReadFile(filepath.Join(dir, "out"))
			So(e, ShouldBeNil)
			So(string(b), ShouldEqual, "hello\n")
			So(d.Disable(), ShouldBeNil)
		}))
}
