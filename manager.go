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
	"io"
	"log"
	"os"
	"runtime"
	"sync"
	"time"
)

// Manager owns a set of deployments, tracking their state, running the
// background health monitor, and funneling their logs into a shared ring.
type Manager struct {
	deployments map[*Deployment]bool
	name        string
	baseDir     string
	logger      *log.Logger
	log         *Log
	mlog        *MultiLogger
	cleanup     bool
	monitoring  bool
	serial      int64
	listSerial  int64
	listStamp   time.Time
	createTime  time.Time
	updateTime  time.Time
	mx          sync.Mutex
	cvs         map[*sync.Cond]bool
}

type ManagerInfo struct {
	Name       string
	Serial     int64
	UpdateTime time.Time
	CreateTime time.Time
}

func (m *Manager) lock() {
	m.mx.Lock()
}

func (m *Manager) unlock() {
	m.mx.Unlock()
}

func (m *Manager) wakeUp() {
	// NB: If the lock is not held here, then there is a risk that the
	// woken goroutines won't see the updated serial number!
	for cv := range m.cvs {
		cv.Broadcast()
	}
}

// bumpSerial increments the serial and notifies watchers.  It returns the
// new serial number, so that it can be stored in deployments.  Call with
// lock held.
func (m *Manager) bumpSerial() int64 {
	m.updateTime = time.Now()
	m.serial++
	rv := m.serial
	m.wakeUp()
	return rv
}

// watchSerial monitors for a change in a specific serial number.  It
// returns the new serial number when it changes.  If the serial number
// has not changed within the given duration then the old value is
// returned.  A poll can be done by supplying 0 for the expiration.
func (m *Manager) watchSerial(old int64, src *int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&m.mx)
	var timer *time.Timer
	var rv int64

	// Schedule timeout
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			m.lock()
			expired = true
			cv.Broadcast()
			m.unlock()
		})
	} else {
		expired = true
	}

	m.lock()
	m.cvs[cv] = true
	for {
		rv = *src
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(m.cvs, cv)
	m.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// WatchSerial monitors for a change in the global serial number.
func (m *Manager) WatchSerial(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, &m.serial, expire)
}

// WatchDeployments monitors for a change in the list of deployments.
func (m *Manager) WatchDeployments(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, &m.listSerial, expire)
}

// Serial returns the global serial number.  This is incremented any time
// a deployment has a state change.
func (m *Manager) Serial() int64 {
	m.lock()
	rv := m.serial
	m.unlock()
	return rv
}

// Name returns the name the manager was allocated with.  This makes it
// possible to distinguish between separate manager instances.  The name
// can influence logged messages and file/directory names.
func (m *Manager) Name() string {
	return m.name
}

// GetInfo returns top-level information about the Manager, collected in a
// manner that ensures the info is consistent.
func (m *Manager) GetInfo() *ManagerInfo {
	m.lock()
	i := &ManagerInfo{
		Name:       m.name,
		Serial:     m.serial,
		CreateTime: m.createTime,
		UpdateTime: m.updateTime,
	}
	m.unlock()
	return i
}

// AddDeployment adds a deployment, registering it, to the manager.
func (m *Manager) AddDeployment(d *Deployment) {
	m.lock()
	d.setManager(m)
	m.listSerial = m.bumpSerial()
	d.serial = m.bumpSerial()
	m.listStamp = time.Now()
	m.unlock()
}

// DeleteDeployment deletes a deployment from the manager.  The deployment
// must be disabled first.
func (m *Manager) DeleteDeployment(d *Deployment) error {
	m.lock()
	if d.enabled {
		m.unlock()
		return ErrIsEnabled
	}
	d.delManager()
	m.listSerial = m.bumpSerial()
	d.serial = m.bumpSerial()
	m.listStamp = time.Now()
	m.unlock()
	return nil
}

// Deployments returns all of our deployments, along with the list serial
// and its timestamp.  Note that the order is arbitrary.
func (m *Manager) Deployments() ([]*Deployment, int64, time.Time) {
	m.lock()
	rv := make([]*Deployment, 0, len(m.deployments))
	for d := range m.deployments {
		rv = append(rv, d)
	}
	ts := m.listStamp
	sn := m.listSerial
	m.unlock()
	return rv, sn, ts
}

// FindDeployments finds the deployments that have either a matching Name
// or Provides.  That is, all deployments where Matches() returns true for
// the given string.
func (m *Manager) FindDeployments(match string) []*Deployment {
	rv := []*Deployment{}
	m.lock()
	for d := range m.deployments {
		if d.Matches(match) {
			rv = append(rv, d)
		}
	}
	m.unlock()
	return rv
}

func (m *Manager) setBaseDir() {
	m.baseDir = os.Getenv("DEPLOYKITDIR")
	switch runtime.GOOS {
	case "windows":
		if len(m.baseDir) == 0 {
			m.baseDir = os.Getenv("HOME")
		}
		if len(m.baseDir) == 0 {
			m.baseDir = "C:\\"
		}
	default:
		if len(m.baseDir) == 0 {
			if os.Geteuid() == 0 {
				m.baseDir = "/var"
			} else {
				m.baseDir = os.Getenv("HOME")
			}
		}
		if len(m.baseDir) == 0 {
			m.baseDir = "."
		}
	}
}

// BaseDir returns the directory under which deployments may keep scratch
// state (pid files, databases, work trees).
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// SetLogger is used to establish a logger.  It overrides the default, so
// it shouldn't be used unless you want to control all logging.
func (m *Manager) SetLogger(l *log.Logger) {
	if m.logger != nil {
		m.mlog.DelLogger(m.logger)
	}
	m.logger = l
	m.mlog.AddLogger(l)
}

// SetLogWriter arranges for manager logs to be written to w.  This is a
// convenience over SetLogger for callers (tests, mostly) that just have a
// Writer.
func (m *Manager) SetLogWriter(w io.Writer) {
	m.SetLogger(log.New(w, "", 0))
}

func (m *Manager) getLogger(d *Deployment) *log.Logger {
	return log.New(m.mlog, "", 0)
}

func (m *Manager) monitor() {
	finish := false
	for !finish {
		m.lock()
		if m.monitoring {
			for d := range m.deployments {
				if d.enabled {
					if e := d.checkDeployment(); e != nil {
						d.selfHeal()
					}
				}
			}
		}
		if m.cleanup {
			m.monitoring = false
			finish = true
		}
		m.unlock()

		// a "prime" number of milliseconds, to ensure a more or
		// less even distribution of clock events
		time.Sleep(time.Millisecond * 587)
	}
}

// notify is called asynchronously by deployments, when they detect a
// failure.  It MUST NOT be called as part of a synchronous call to the
// check routine.  We do add a check to prevent infinite recursion, but
// again, the caller should be careful not to do this.  Notification
// should only be done when a deployment transitions from succeeding to
// failing, or vice versa.
func (m *Manager) notify(d *Deployment) {
	if d.checking {
		// No need for notification, and lets not recurse!
		return
	}
	if d.enabled {
		if e := d.checkDeployment(); e != nil {
			d.selfHeal()
		}
	}
}

func (m *Manager) logf(format string, v ...interface{}) {
	if m.logger != nil {
		m.logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}

func (m *Manager) StopMonitoring() {
	m.lock()
	m.monitoring = false
	m.unlock()
	m.logf("*** Deploykit stopping monitoring: %s ***", m.name)
}

func (m *Manager) StartMonitoring() {
	m.logf("*** Deploykit starting monitoring: %s ***", m.name)
	m.lock()
	m.monitoring = true
	m.unlock()
}

// Shutdown stops all deployments, and stops monitoring too.  Finally, it
// removes them all from the manager.  Think of this as effectively
// tearing down the entire thing.
func (m *Manager) Shutdown() {
	m.lock()
	m.monitoring = false
	m.cleanup = true
	for d := range m.deployments {
		d.enabled = false
		d.stopRecurse("Shutting down")
		d.delManager()
	}
	m.unlock()
	m.logf("*** Deploykit shut down: %s ***", m.name)
}

func (m *Manager) GetLog(lastid int64) ([]LogRecord, int64) {
	m.lock()
	defer m.unlock()
	return m.log.GetRecords(lastid)
}

func (m *Manager) WatchLog(old int64, expire time.Duration) int64 {
	return m.log.Watch(old, expire)
}

func NewManager(name string) *Manager {
	if name == "" {
		name = "deploykit"
	}
	// We set the origin serial number to the current timestamp in nsec.
	// The assumption here is that we won't have changes to serial
	// number occur at frequency > 1GHz.  Hence, it should be safe for
	// us to use these as unique values, and this may help clients that
	// cache force an invalidation if the server restarts.
	m := &Manager{name: name, serial: time.Now().UnixNano()}
	m.deployments = make(map[*Deployment]bool)
	m.cvs = make(map[*sync.Cond]bool)
	m.createTime = time.Now()
	m.updateTime = m.createTime
	m.mlog = NewMultiLogger()
	m.log = NewLog()
	m.mlog.AddLogger(log.New(m.log, "", 0))
	m.logger = log.New(os.Stderr, "", 0)
	m.mlog.AddLogger(m.logger)
	m.setBaseDir()
	go m.monitor()
	return m
}
