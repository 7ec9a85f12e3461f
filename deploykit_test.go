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
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	s := string(p)
	s = strings.Trim(s, "\n")
	tl.t.Log(s)
	return len(p), nil
}

type testB struct {
	name      string
	failed    bool
	started   bool
	installed bool
	cleaned   bool
	provides  []string
	depends   []string
	conflicts []string
	logger    *log.Logger
	notify    func()
	sync.Mutex
}

func (b *testB) Name() string {
	return b.name
}

func (b *testB) Description() string {
	return "Test Deployment"
}

func (b *testB) Mode() Mode {
	return ModeProcess
}

func (b *testB) Install(ctx context.Context) error {
	b.Lock()
	defer b.Unlock()
	if b.failed {
		return errors.New("Injected install failure")
	}
	b.installed = true
	return nil
}

func (b *testB) Start(ctx context.Context) error {
	b.Lock()
	defer b.Unlock()
	if b.failed {
		return errors.New("Injected failure")
	}
	b.started = true
	return nil
}

func (b *testB) Stop(ctx context.Context) {
	b.Lock()
	b.started = false
	b.Unlock()
}

func (b *testB) Check(ctx context.Context) error {
	b.Lock()
	defer b.Unlock()
	if b.failed {
		return errors.New("Test deployment failure")
	}
	return nil
}

func (b *testB) Cleanup(ctx context.Context) error {
	b.Lock()
	defer b.Unlock()
	if b.failed {
		return errors.New("Injected cleanup failure")
	}
	b.cleaned = true
	return nil
}

func (b *testB) Provides() []string {
	return b.provides
}

func (b *testB) Depends() []string {
	return b.depends
}

func (b *testB) Conflicts() []string {
	return b.conflicts
}

func (b *testB) SetProperty(n PropertyName, v interface{}) error {
	switch n {
	case PropLogger:
		if v, ok := v.(*log.Logger); ok {
			b.logger = v
			return nil
		}
		return ErrBadPropType
	case PropNotify:
		if v, ok := v.(func()); ok {
			b.notify = v
			return nil
		}
		return ErrBadPropType
	default:
		return ErrBadPropName
	}
}

func (b *testB) Property(n PropertyName) (interface{}, error) {
	switch n {
	case PropLogger:
		return b.logger, nil
	default:
		return nil, ErrBadPropName
	}
}

func (b *testB) inject() {
	b.Lock()
	b.logger.Printf("Injecting failure on %s", b.name)
	b.failed = true
	if b.notify != nil {
		b.notify()
	}
	b.Unlock()
}

func (b *testB) clear() {
	b.Lock()
	b.logger.Printf("Clearing failure on %s", b.name)
	b.failed = false
	if b.notify != nil {
		b.notify()
	}
	b.Unlock()
}

func WithManager(t *testing.T, name string, fn func(m *Manager)) func() {
	return func() {
		m := NewManager(name)
		So(m, ShouldNotBeNil)
		m.SetLogWriter(&testLog{t: t})
		Reset(func() {
			m.Shutdown()
		})
		fn(m)
	}
}

func TestBadPropertyName(t *testing.T) {
	Convey("Bogus property name", t,
		WithManager(t, "BadPropName", func(m *Manager) {
			d1 := NewDeployment(&testB{name: "test:BadName"})
			So(d1, ShouldNotBeNil)
			m.AddDeployment(d1)
			e := d1.SetProperty(PropertyName("Nosuch"), true)
			So(e, ShouldNotBeNil)
		}))
}

func TestBadPropertyType(t *testing.T) {
	Convey("Bad property type", t,
		WithManager(t, "BadPropType", func(m *Manager) {
			d1 := NewDeployment(&testB{name: "test:BadType"})
			So(d1, ShouldNotBeNil)
			m.AddDeployment(d1)
			e := d1.SetProperty(PropName, 42)
			So(e, ShouldNotBeNil)
		}))
}

func TestSetPropOK(t *testing.T) {
	Convey("Set Properties", t,
		WithManager(t, "SetProp", func(m *Manager) {
			d1 := NewDeployment(&testB{name: "test:Name"})
			So(d1, ShouldNotBeNil)
			e := d1.SetProperty(PropName, "test:NewName")
			So(e, ShouldBeNil)
			n, e := d1.GetProperty(PropName)
			So(e, ShouldBeNil)
			ns, ok := n.(string)
			So(ok, ShouldBeTrue)
			So(ns, ShouldEqual, "test:NewName")

			e = d1.SetProperty(PropDepends, []string{"d1:dep"})
			So(e, ShouldBeNil)

			e = d1.SetProperty(PropConflicts, []string{"conf"})
			So(e, ShouldBeNil)

			e = d1.SetProperty(PropProvides, []string{"abc:123"})
			So(e, ShouldBeNil)

			e = d1.SetProperty(PropOpTimeout, time.Minute)
			So(e, ShouldBeNil)
			v, e := d1.GetProperty(PropOpTimeout)
			So(e, ShouldBeNil)
			So(v, ShouldEqual, time.Minute)
		}))
}

func TestReadOnlyProps(t *testing.T) {
	Convey("Read only properties", t,
		WithManager(t, "ReadOnly", func(m *Manager) {
			d1 := NewDeployment(&testB{name: "test:ro"})
			m.AddDeployment(d1)
			e := d1.SetProperty(PropName, "test:shouldfail")
			So(e, ShouldNotBeNil)
		}))
}

func TestDependencies(t *testing.T) {
	Convey("Dependencies", t,
		WithManager(t, "Deps", func(m *Manager) {
			d1 := NewDeployment(&testB{name: "test:d1"})
			So(d1, ShouldNotBeNil)
			d2 := NewDeployment(&testB{name: "test:d2"})
			So(d2, ShouldNotBeNil)
			e := d2.SetProperty(PropDepends, []string{"test:d1"})
			So(e, ShouldBeNil)

			Convey("Both start disabled", func() {
				So(d1.Enabled(), ShouldBeFalse)
				So(d2.Enabled(), ShouldBeFalse)
			})

			Convey("Enabling D2 works", func() {
				m.AddDeployment(d1)
				m.AddDeployment(d2)
				So(d1.Enabled(), ShouldBeFalse)
				So(d2.Enabled(), ShouldBeFalse)
				e = d2.Enable()
				So(e, ShouldBeNil)

				Convey("But D2 isn't running yet", func() {
					So(d2.Running(), ShouldBeFalse)
				})

				Convey("Enabling D1 starts D2", func() {
					e = d1.Enable()
					So(e, ShouldBeNil)
					So(d1.Enabled(), ShouldBeTrue)
					So(d2.Enabled(), ShouldBeTrue)
					So(d1.Running(), ShouldBeTrue)
					So(d2.Running(), ShouldBeTrue)

					Convey("Disabling D1 stops both", func() {
						e = d1.Disable()
						So(e, ShouldBeNil)
						So(d1.Enabled(), ShouldBeFalse)
						So(d2.Enabled(), ShouldBeTrue)
						So(d1.Running(), ShouldBeFalse)
						So(d2.Running(), ShouldBeFalse)
					})
				})
			})
		}))
}

func TestConflicts(t *testing.T) {
	Convey("Conflicting modes", t,
		WithManager(t, "Conflicts", func(m *Manager) {
			// The same application in two modes; each conflicts
			// with the shared base name.
			d1 := NewDeployment(&testB{
				name:      "app:process",
				provides:  []string{"app"},
				conflicts: []string{"app"},
			})
			d2 := NewDeployment(&testB{
				name:      "app:docker",
				provides:  []string{"app"},
				conflicts: []string{"app"},
			})
			m.AddDeployment(d1)
			m.AddDeployment(d2)

			e := d1.Enable()
			So(e, ShouldBeNil)
			So(d1.Running(), ShouldBeTrue)

			Convey("Second mode cannot be enabled", func() {
				e = d2.Enable()
				So(e, ShouldEqual, ErrConflict)
				So(d2.Running(), ShouldBeFalse)
			})

			Convey("After disabling, the other mode starts", func() {
				e = d1.Disable()
				So(e, ShouldBeNil)
				e = d2.Enable()
				So(e, ShouldBeNil)
				So(d2.Running(), ShouldBeTrue)
			})
		}))
}

func TestInstallCleanup(t *testing.T) {
	Convey("Install and cleanup", t,
		WithManager(t, "Lifecycle", func(m *Manager) {
			b := &testB{name: "test:lc"}
			d := NewDeployment(b)
			m.AddDeployment(d)

			Convey("Install works when stopped", func() {
				e := d.Install()
				So(e, ShouldBeNil)
				So(b.installed, ShouldBeTrue)
			})

			Convey("Install is refused while running", func() {
				e := d.Enable()
				So(e, ShouldBeNil)
				So(d.Running(), ShouldBeTrue)
				e = d.Install()
				So(e, ShouldEqual, ErrIsRunning)
			})

			Convey("Cleanup is refused while enabled", func() {
				e := d.Enable()
				So(e, ShouldBeNil)
				e = d.Cleanup()
				So(e, ShouldEqual, ErrIsEnabled)
			})

			Convey("Cleanup works once disabled", func() {
				e := d.Enable()
				So(e, ShouldBeNil)
				e = d.Disable()
				So(e, ShouldBeNil)
				e = d.Cleanup()
				So(e, ShouldBeNil)
				So(b.cleaned, ShouldBeTrue)
			})
		}))
}

func TestDeploymentLog(t *testing.T) {
	Convey("Deployment log", t,
		WithManager(t, "Log", func(m *Manager) {
			d := NewDeployment(&testB{name: "test:log"})
			m.AddDeployment(d)
			recs, id := d.GetLog(0)
			last := id
			e := d.Enable()
			So(e, ShouldBeNil)
			recs, id = d.GetLog(last)
			So(id, ShouldBeGreaterThan, last)
			So(len(recs), ShouldBeGreaterThan, 0)

			// id doubles as an etag: unchanged log, nil records
			recs, id2 := d.GetLog(id)
			So(id2, ShouldEqual, id)
			So(recs, ShouldBeNil)
		}))
}

func TestSerialAdvance(t *testing.T) {
	Convey("State changes advance the serial", t,
		WithManager(t, "SerialAdvance", func(m *Manager) {
			b := &testB{name: "test:Serial"}
			d := NewDeployment(b)
			m.AddDeployment(d)
			m.StopMonitoring()

			s := m.Serial()
			So(d.Enable(), ShouldBeNil)
			s2 := m.Serial()
			So(s2, ShouldBeGreaterThan, s)

			Convey("waking parked watchers", func() {
				ch := make(chan int64, 1)
				go func() {
					ch <- m.WatchSerial(s2,
						time.Second*30)
				}()
				time.Sleep(time.Millisecond * 10)
				So(d.Disable(), ShouldBeNil)
				select {
				case v := <-ch:
					So(v, ShouldBeGreaterThan, s2)
				case <-time.After(time.Second * 5):
					So("watcher never woke",
						ShouldBeBlank)
				}
			})

			Convey("including faults", func() {
				b.inject()
				So(d.Check(), ShouldNotBeNil)
				So(m.Serial(), ShouldBeGreaterThan, s2)
			})

			Convey("including install and cleanup", func() {
				So(d.Disable(), ShouldBeNil)
				s3 := m.Serial()
				So(d.Install(), ShouldBeNil)
				s4 := m.Serial()
				So(s4, ShouldBeGreaterThan, s3)
				So(d.Cleanup(), ShouldBeNil)
				So(m.Serial(), ShouldBeGreaterThan, s4)
			})
		}))
}

func TestFailureHandling(t *testing.T) {
	t1 := &testB{
		name:      "test:D1",
		provides:  []string{"alias:D1", "dep:D2"},
		conflicts: []string{"conflict:D1"},
	}
	t2 := &testB{
		name:    "test:D2",
		depends: []string{"dep:D2"},
	}

	Convey("Given a new manager", t, func() {
		m := NewManager("TestFailures")
		So(m, ShouldNotBeNil)
		m.SetLogWriter(&testLog{t: t})
		Convey("And new deployments D1 and D2", func() {
			d1 := NewDeployment(t1)
			So(d1, ShouldNotBeNil)
			m.AddDeployment(d1)
			So(d1.Enabled(), ShouldBeFalse)
			So(d1.Running(), ShouldBeFalse)
			So(d1.Failed(), ShouldBeFalse)

			d2 := NewDeployment(t2)
			So(d2, ShouldNotBeNil)
			m.AddDeployment(d2)

			Convey("We can enable D2 (depends on D1)", func() {
				e := d2.Enable()
				So(e, ShouldBeNil)
				So(d2.Enabled(), ShouldBeTrue)
				Convey("But it isn't running yet", func() {
					So(d2.Running(), ShouldBeFalse)
				})
				Convey("We can enable D1", func() {
					e = d1.Enable()
					So(e, ShouldBeNil)
					So(d1.Running(), ShouldBeTrue)
					So(d2.Running(), ShouldBeTrue)
					Convey("We can restart them", func() {
						e := d2.Restart()
						So(e, ShouldBeNil)
						So(d1.Failed(), ShouldBeFalse)
						So(d2.Failed(), ShouldBeFalse)
						So(d1.Running(), ShouldBeTrue)
						So(d2.Running(), ShouldBeTrue)
					})
					Convey("Failure injection", func() {
						m.StopMonitoring()
						t1.inject()
						e := d1.Check()
						So(e, ShouldNotBeNil)
						So(d1.Failed(), ShouldBeTrue)
						So(d1.Running(), ShouldBeFalse)
						So(d2.Running(), ShouldBeFalse)
						t1.clear()
						d1.Clear()
						m.StartMonitoring()

						t1.inject()
						// wait for callbacks
						time.Sleep(time.Millisecond)
						So(d1.Failed(), ShouldBeTrue)
						So(d1.Running(), ShouldBeFalse)
						So(d2.Running(), ShouldBeFalse)
						t1.clear()
						d1.Clear()

						t.Logf("Check self healing")
						e = d1.SetProperty(PropRestart, true)
						So(e, ShouldBeNil)
						t1.inject()
						time.Sleep(time.Millisecond)
						So(d1.Failed(), ShouldBeTrue)
						So(d1.Running(), ShouldBeFalse)
						t1.clear()
						time.Sleep(time.Millisecond)
						So(d1.Failed(), ShouldBeFalse)
						So(d1.Running(), ShouldBeTrue)
					})
				})
			})
		})
	})
}
