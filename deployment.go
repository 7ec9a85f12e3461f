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
	"log"
	"strings"
	"time"
)

// Deployment describes one managed instance of an application -- a
// process, a container, or a compose project.  Applications are expected
// to use the Deployment structure to interact with all managed backends.
//
// Custom backends (which may be any kind of entity) can be provided by
// implementing the Backend interface.
//
// Deployment methods are not thread safe until the deployment is added to
// a Manager.  Once added, the Manager's lock protects concurrent access.
//
// Deployments go through a number of possible states as illustrated in
// the following diagram.  The states are logical; there is no formal
// state machine in the code.
//
//	          +------------+
//	          |            |
//	+--------->  Disabled  <-------+
//	|         |            |       |
//	|         +----+--A----+       |
//	|              |  |            |
//	+-----+----+   +--V--------+   |
//	|          |   |           |   |
//	|  Failed  +--->  DepWait  |   |
//	|          |   |           |   |
//	+-----A----+   +----+------+   |
//	      |             |          |
//	      |         +---V---+      |
//	      |         |       |      |
//	      +---------+  Run  +------+
//	                |       |
//	                +-------+
type Deployment struct {
	back       Backend
	mgr        *Manager
	name       string
	desc       string
	depends    []string
	conflicts  []string
	provides   []string
	enabled    bool
	running    bool
	stopping   bool
	failed     bool
	checking   bool
	restart    bool
	err        error
	serial     int64
	parents    map[string]map[*Deployment]bool
	children   map[*Deployment]bool
	incompat   map[*Deployment]bool
	logger     *log.Logger
	stamp      time.Time
	reason     string
	starts     int
	rateLog    bool
	rateLimit  int
	ratePeriod time.Duration
	opTime     time.Duration
	startTimes []time.Time
	notify     func()
	dlog       *Log
	mlog       *MultiLogger
}

// Name returns the deployment name.  This takes either the form <base> or
// <base>:<variant>.  Except for the colon used to separate the <base>
// from <variant>, no punctuation characters other than underscores are
// permitted.  When resolving dependencies, a dependency can list either
// the full <base>:<variant> name or just <base>.  In the former case, the
// full deployment name must match.  In the latter case, any deployment
// with the same <base> component matches.
func (d *Deployment) Name() string {
	return d.name
}

// Description returns a descriptive name for the deployment.  User
// interfaces should try to allocate at least 32 characters of horizontal
// space when displaying descriptions.
func (d *Deployment) Description() string {
	return d.desc
}

// Mode returns the deployment mode of the underlying backend.
func (d *Deployment) Mode() Mode {
	return d.back.Mode()
}

// Provides indicates other names that this deployment offers.  This
// permits one deployment to satisfy multiple capabilities, or to provide
// aliases.  For example, a compose project might offer "web" and "db"
// both.
func (d *Deployment) Provides() []string {
	return d.provides
}

// Depends returns a list of deployment names.  See the Name description
// for how these are used.
func (d *Deployment) Depends() []string {
	return d.depends
}

// Status returns the most recent status message, and the time when the
// status was recorded.
func (d *Deployment) Status() (string, time.Time) {
	if m := d.mgr; m != nil {
		m.lock()
		defer m.unlock()
	}
	return d.reason, d.stamp
}

// Conflicts returns a list of names that cannot be enabled together with
// this one.  The system rejects attempts to enable the deployment while a
// conflicting one is enabled.  This is how the same application deployed
// in different modes is kept mutually exclusive.  Note that the scope of
// conflict is limited to a single Manager.
func (d *Deployment) Conflicts() []string {
	return d.conflicts
}

// Enabled checks if a deployment is enabled.
func (d *Deployment) Enabled() bool {
	m := d.mgr
	if m == nil {
		return false
	}
	m.lock()
	rv := d.enabled
	m.unlock()
	return rv
}

// Running checks if a deployment is running.  This will be false if the
// deployment has failed for any reason, or is unable to run due to a
// missing dependency.
func (d *Deployment) Running() bool {
	m := d.mgr
	if m == nil {
		return false
	}
	m.lock()
	rv := d.running && !d.stopping
	m.unlock()
	return rv
}

// Failed returns true if the deployment is in a failure state.
func (d *Deployment) Failed() bool {
	m := d.mgr
	if m == nil {
		return false
	}
	m.lock()
	rv := d.failed
	m.unlock()
	return rv
}

// Enable enables the deployment, starting it.  This also starts any
// deployments that were not running due to unsatisfied dependencies, but
// which now are able to (and were otherwise enabled.)
func (d *Deployment) Enable() error {
	if d.mgr == nil {
		return ErrNoManager
	}
	d.mgr.lock()
	defer d.mgr.unlock()

	if d.enabled {
		return nil
	}

	for c := range d.incompat {
		if c.enabled {
			d.logf("Cannot enable %s: conflicts with %s",
				d.Name(), c.Name())
			return ErrConflict
		}
	}
	d.reason = "Waiting to start"
	d.stamp = time.Now()
	d.logf("Enabling deployment %s", d.Name())
	d.enabled = true
	d.starts = 0
	d.bump()
	d.startRecurse("Enabled deployment")
	return nil
}

// Disable disables the deployment, stopping it.  It also stops any
// deployments which no longer have satisfied dependencies as a result.
// It also clears the error state.
func (d *Deployment) Disable() error {
	if d.mgr == nil {
		return ErrNoManager
	}
	d.mgr.lock()
	defer d.mgr.unlock()

	if !d.enabled {
		return nil
	}

	d.logf("Disabling deployment %s", d.Name())
	d.stamp = time.Now()
	d.reason = "Disabled deployment"
	d.enabled = false
	d.failed = false
	d.err = nil
	d.bump()
	d.stopRecurse("Disabled deployment")
	return nil
}

// Restart restarts a deployment.  It also clears any failure condition
// that may have occurred.
func (d *Deployment) Restart() error {
	if d.mgr == nil {
		return ErrNoManager
	}

	d.mgr.lock()
	defer d.mgr.unlock()

	if !d.enabled {
		return nil
	}

	d.logf("Restarting deployment %s", d.Name())
	d.enabled = false
	d.stopRecurse("Restarted deployment")

	d.stamp = time.Now()
	d.reason = "Restarted deployment"
	d.starts = 0
	d.failed = false
	d.err = nil
	d.enabled = true
	d.bump()
	d.startRecurse("Restarted deployment")
	return nil
}

// Clear clears any error condition in the deployment, without actually
// enabling it.  It will attempt to start the deployment if it isn't
// already running, and is enabled.
func (d *Deployment) Clear() {
	if d.mgr == nil {
		return
	}
	d.mgr.lock()
	defer d.mgr.unlock()

	if d.failed {
		d.reason = "Cleared fault"
		d.stamp = time.Now()
		d.logf("Clearing fault on %s", d.Name())
	}
	d.starts = 0
	d.failed = false
	d.err = nil
	d.bump()
	d.startRecurse("Cleared fault")
}

// Install prepares the deployment: installing application dependencies,
// pulling or building container images, and so forth.  The deployment
// must not be running.
func (d *Deployment) Install() error {
	if d.mgr == nil {
		return ErrNoManager
	}
	d.mgr.lock()
	defer d.mgr.unlock()

	if d.running {
		return ErrIsRunning
	}

	d.logf("Installing deployment %s", d.Name())
	ctx, cancel := d.opCtx()
	defer cancel()
	if e := d.back.Install(ctx); e != nil {
		d.reason = "Install failed: " + e.Error()
		d.stamp = time.Now()
		d.bump()
		d.logf("Failed to install %s: %v", d.Name(), e)
		return e
	}
	d.reason = "Installed"
	d.stamp = time.Now()
	d.bump()
	d.logf("Installed %s", d.Name())
	return nil
}

// Cleanup releases resources held by the deployment: containers, volumes,
// scratch files.  The deployment must be disabled first.
func (d *Deployment) Cleanup() error {
	if d.mgr == nil {
		return ErrNoManager
	}
	d.mgr.lock()
	defer d.mgr.unlock()

	if d.enabled {
		return ErrIsEnabled
	}

	d.logf("Cleaning up deployment %s", d.Name())
	ctx, cancel := d.opCtx()
	defer cancel()
	if e := d.back.Cleanup(ctx); e != nil {
		d.reason = "Cleanup failed: " + e.Error()
		d.stamp = time.Now()
		d.bump()
		d.logf("Failed to clean up %s: %v", d.Name(), e)
		return e
	}
	d.reason = "Cleaned up"
	d.stamp = time.Now()
	d.bump()
	d.logf("Cleaned up %s", d.Name())
	return nil
}

// Check checks if a deployment is running, and performs any appropriate
// health checks.  It returns nil if the deployment is running and
// healthy.  Otherwise it stops the deployment, as well as dependent
// deployments, and puts the deployment into failed state.
func (d *Deployment) Check() error {
	if d.mgr == nil {
		return ErrNoManager
	}
	d.mgr.lock()
	defer d.mgr.unlock()
	return d.checkDeployment()
}

// deploymentMatches matches if the first (concrete) name matches the
// second.  This is true if either the variant of s1 is empty, or the two
// variants collide.
func deploymentMatches(s1, s2 string) bool {
	a1 := strings.SplitN(s1, ":", 2)
	a2 := strings.SplitN(s2, ":", 2)

	if a1[0] != a2[0] {
		return false
	}
	if len(a1) == 1 {
		return true
	}
	if len(a2) == 1 {
		return false
	}
	return a1[1] == a2[1]
}

// Matches returns true if the deployment name matches the check.  This is
// true if either the check is a complete match, or if the first part of
// our name (or Provides) is identical to the check.  For example, if our
// name is "x:y", this returns true for a check of "x" or "x:y", but not
// for "x:z", nor "z:y".
func (d *Deployment) Matches(check string) bool {
	if deploymentMatches(check, d.Name()) {
		return true
	}
	for _, p := range d.Provides() {
		if deploymentMatches(check, p) {
			return true
		}
	}
	return false
}

// SetProperty sets a property on the deployment.
func (d *Deployment) SetProperty(n PropertyName, v interface{}) error {
	if m := d.mgr; m != nil {
		m.lock()
		defer m.unlock()
	}
	if e := d.setProp(n, v); e != nil {
		d.logf("Failed to set property %s: %v", d.Name(), e)
		return e
	}
	return nil
}

func (d *Deployment) setProp(n PropertyName, v interface{}) error {
	// Some properties cannot be set once the deployment is added to a
	// manager.
	if m := d.mgr; m != nil {
		switch n {
		case PropName,
			PropDescription,
			PropConflicts,
			PropDepends,
			PropProvides:
			return ErrPropReadOnly
		}
	}
	switch n {
	case PropLogger:
		if v, ok := v.(*log.Logger); ok {
			if d.enabled {
				// Cannot change logger while enabled.
				return ErrPropReadOnly
			}
			if d.logger != nil {
				d.mlog.DelLogger(d.logger)
			}
			d.logger = v
			d.mlog.AddLogger(d.logger)
		} else {
			return ErrBadPropType
		}
	case PropRestart:
		if v, ok := v.(bool); ok {
			d.restart = v
		} else {
			return ErrBadPropType
		}
	case PropRateLimit:
		if v, ok := v.(int); ok {
			d.starts = 0
			if v > 0 {
				d.startTimes = make([]time.Time, v)
			} else {
				d.startTimes = nil
			}
			d.rateLimit = v
		} else {
			return ErrBadPropType
		}
	case PropRatePeriod:
		if v, ok := v.(time.Duration); ok {
			d.starts = 0
			d.ratePeriod = v
		} else {
			return ErrBadPropType
		}
	case PropOpTimeout:
		if v, ok := v.(time.Duration); ok {
			d.opTime = v
		} else {
			return ErrBadPropType
		}
	case PropName:
		if v, ok := v.(string); ok {
			d.name = v
		} else {
			return ErrBadPropType
		}
	case PropDescription:
		if v, ok := v.(string); ok {
			d.desc = v
		} else {
			return ErrBadPropType
		}
	case PropConflicts:
		if v, ok := v.([]string); ok {
			d.conflicts = append([]string{}, v...)
		} else {
			return ErrBadPropType
		}
	case PropDepends:
		if v, ok := v.([]string); ok {
			d.depends = append([]string{}, v...)
		} else {
			return ErrBadPropType
		}
	case PropProvides:
		if v, ok := v.([]string); ok {
			d.provides = append([]string{}, v...)
		} else {
			return ErrBadPropType
		}
	case PropNotify:
		if v, ok := v.(func()); ok {
			d.notify = v
			// We don't pass this one down, as we've registered
			// ourselves there.
			return nil
		} else {
			return ErrBadPropType
		}
	default:
		return d.back.SetProperty(n, v)
	}

	// Pass the new property to the backend.  The backend doesn't get a
	// chance to veto properties we've already dealt with though.
	d.back.SetProperty(n, v)
	return nil
}

func (d *Deployment) GetProperty(n PropertyName) (interface{}, error) {
	if m := d.mgr; m != nil {
		m.lock()
		defer m.unlock()
	}

	switch n {
	case PropLogger:
		return d.logger, nil
	case PropRestart:
		return d.restart, nil
	case PropRateLimit:
		return d.rateLimit, nil
	case PropRatePeriod:
		return d.ratePeriod, nil
	case PropOpTimeout:
		return d.opTime, nil
	case PropName:
		return d.name, nil
	case PropDescription:
		return d.desc, nil
	case PropConflicts:
		return append([]string{}, d.conflicts...), nil
	case PropDepends:
		return append([]string{}, d.depends...), nil
	case PropProvides:
		return append([]string{}, d.provides...), nil
	case PropNotify:
		return d.notify, nil
	}
	return d.back.Property(n)
}

// GetLog returns the retained log records for this deployment, oldest
// first, along with the current log id.  If last matches the current id
// then nil is returned, as the log has not changed.
func (d *Deployment) GetLog(last int64) ([]LogRecord, int64) {
	return d.dlog.GetRecords(last)
}

// WatchLog blocks until the deployment log is updated from last, or the
// expiration time has passed.  It returns the current log id.
func (d *Deployment) WatchLog(last int64, expire time.Duration) int64 {
	return d.dlog.Watch(last, expire)
}

// setManager is called by the framework when the deployment is added to
// the manager.  This calculates the various dependency graphs, updating
// links to other deployments in the manager.
func (d *Deployment) setManager(mgr *Manager) {
	if d.mgr != nil {
		// This is a serious programmer mistake
		panic("Already added to a manager")
	}
	d.mlog.AddLogger(mgr.getLogger(d))
	d.mgr = mgr

	d.incompat = make(map[*Deployment]bool)
	d.children = make(map[*Deployment]bool)
	d.parents = make(map[string]map[*Deployment]bool)
	for _, dep := range d.Depends() {
		d.parents[dep] = make(map[*Deployment]bool)
	}
	for t := range mgr.deployments {

		// do we satisfy a dependency of t?
		for _, dep := range t.Depends() {
			if d.Matches(dep) {
				t.parents[dep][d] = true
				d.children[t] = true
				break
			}
		}

		// does t satisfy a dependency of ours?
		for _, dep := range d.Depends() {
			if t.Matches(dep) {
				d.parents[dep][t] = true
				t.children[d] = true
				break
			}
		}

		// do we conflict with t?
		for _, c := range t.Conflicts() {
			if d.Matches(c) {
				d.incompat[t] = true
				t.incompat[d] = true
			}
		}
		for _, c := range d.Conflicts() {
			if t.Matches(c) {
				d.incompat[t] = true
				t.incompat[d] = true
			}
		}
	}
	d.stamp = time.Now()
	d.reason = "Added deployment"
	d.logf("Added deployment %s to %s: %s", d.Name(), mgr.Name(),
		d.Description())
	mgr.deployments[d] = true
}

func (d *Deployment) delManager() {
	if d.mgr == nil {
		return
	}

	// remove the item
	delete(d.mgr.deployments, d)

	// remove from each of our conflicts
	for c := range d.incompat {
		delete(c.incompat, d)
		delete(d.incompat, c)
	}

	// our children (things that may depend upon us)
	for c := range d.children {
		for p := range c.parents {
			delete(c.parents[p], d)
		}
		delete(d.children, c)
	}

	// our parents (things we depend upon)
	for dep, p := range d.parents {
		for t := range p {
			delete(p, t)
			delete(t.children, d)
		}
		delete(d.parents, dep)
	}

	d.reason = "Removed deployment"
	d.stamp = time.Now()
	d.mgr = nil
}

func (d *Deployment) logf(fmt string, v ...interface{}) {
	d.mlog.Logger().Printf(fmt, v...)
}

// bump records a state change so that serial watchers and etag caches
// see it.  Call with the manager lock held.
func (d *Deployment) bump() {
	if d.mgr != nil {
		d.serial = d.mgr.bumpSerial()
	}
}

func (d *Deployment) opCtx() (context.Context, context.CancelFunc) {
	t := d.opTime
	if t == 0 {
		t = time.Minute * 5
	}
	return context.WithTimeout(context.Background(), t)
}

func (d *Deployment) startRecurse(detail string) {
	if d.running {
		return
	}
	if !d.canRun() {
		return
	}
	if e := d.tooQuickly(); e != nil {
		return
	}
	if d.rateLimit > 0 {
		d.startTimes[d.starts%d.rateLimit] = time.Now()
	}
	d.starts++
	ctx, cancel := d.opCtx()
	e := d.back.Start(ctx)
	cancel()
	if e != nil {
		d.logf("Failed to start %s: %v", d.Name(), e)
		d.reason = "Failed to start: " + e.Error()
		d.stamp = time.Now()
		d.err = e
		d.failed = true
		d.bump()
		return
	}
	d.reason = "Started: " + detail
	d.stamp = time.Now()
	d.logf("Started %s: %s", d.Name(), detail)
	d.running = true
	d.failed = false
	d.bump()
	for child := range d.children {
		child.startRecurse("Dependency running")
	}
}

func (d *Deployment) stopRecurse(detail string) {
	if !d.running || d.stopping {
		return
	}
	d.stopping = true
	for child := range d.children {
		if child.canRun() {
			continue
		}
		child.stopRecurse("Dependency stopped")
	}
	ctx, cancel := d.opCtx()
	d.back.Stop(ctx)
	cancel()
	d.reason = "Stopped: " + detail
	d.stamp = time.Now()
	d.logf("Stopped %s: %s", d.Name(), detail)

	d.running = false
	d.stopping = false
	d.bump()
}

func (d *Deployment) canRun() bool {
	if d.stopping || !d.enabled {
		return false
	}
	for _, deps := range d.parents {
		sat := false
		for p := range deps {
			if p.enabled && p.running && !p.stopping && !p.failed {
				sat = true
				break
			}
		}
		if !sat {
			return false
		}
	}

	for c := range d.incompat {
		if c.enabled {
			return false
		}
	}
	return true
}

func (d *Deployment) checkDeployment() error {
	if d.failed {
		return d.err
	}
	if !d.running {
		return ErrNotRunning
	}
	d.checking = true
	ctx, cancel := d.opCtx()
	e := d.back.Check(ctx)
	cancel()
	if e != nil {
		d.logf("Deployment %s faulted: %v", d.Name(), e)
		d.failed = true
		d.stopRecurse("Faulted: " + e.Error())
		d.err = e
		d.checking = false
		d.bump()
		return e
	}
	d.checking = false
	return nil
}

// A deployment is restarting too quickly if it restarts more than a
// specified number of times in an interval.  Once we hit that threshold,
// we wait for a full interval count before we will restart.  Effectively,
// this means that if we hit the threshold, we actually won't restart for
// *another* interval, reducing our rate to 1/2 the configured rate,
// punishing us for bad behavior.
func (d *Deployment) tooQuickly() error {
	if d.rateLimit == 0 {
		return nil
	}
	if d.starts < d.rateLimit {
		return nil
	}

	// If we've restarted more than n times in the last period, then
	// rate limit us.
	idx := (d.starts - 1) % d.rateLimit
	end := d.startTimes[idx]
	if time.Now().Before(end.Add(d.ratePeriod)) {

		// Log it if not already done.
		if !d.rateLog {
			d.logf("Deployment %s restarting too quickly",
				d.Name())
		}
		// And we unconditionally mark this to note cool down.
		d.rateLog = true
		return ErrRateLimited
	}

	// If we haven't restarted recently too quickly, we're done.
	if !d.rateLog {
		// Not in cool down mode.
		return nil
	}

	// Check to see if cool down from prior rate limit is expired.
	idx = (d.starts - 2) % d.rateLimit
	end = d.startTimes[idx]
	if time.Now().Before(end.Add(d.ratePeriod)) {
		return ErrRateLimited
	}

	// All cool downs expired.
	d.rateLog = false
	return nil
}

func (d *Deployment) selfHeal() {
	if d.failed && d.restart {
		d.logf("Attempting self-healing")
		d.startRecurse("Self-healing attempt")
	}
}

func (d *Deployment) doNotify() {
	go func() {
		var cb func()
		if m := d.mgr; m != nil {
			m.lock()
			m.notify(d)
			cb = d.notify
			m.unlock()
		} else {
			cb = d.notify
		}
		if cb != nil {
			go cb()
		}
	}()
}

// NewDeployment allocates a deployment instance from a Backend.  The
// intention is that backends use this in their own constructors to
// present only a Deployment interface to applications.
func NewDeployment(b Backend) *Deployment {
	d := &Deployment{back: b}
	d.ratePeriod = time.Minute
	d.rateLimit = 10
	d.startTimes = make([]time.Time, d.rateLimit)

	d.name = b.Name()
	d.desc = b.Description()
	d.conflicts = append([]string{}, b.Conflicts()...)
	d.depends = append([]string{}, b.Depends()...)
	d.provides = append([]string{}, b.Provides()...)
	d.mlog = NewMultiLogger()
	d.mlog.Logger().SetPrefix("[" + d.Name() + "] ")
	d.back.SetProperty(PropLogger, d.mlog.Logger())
	d.dlog = NewLog()
	d.mlog.AddLogger(log.New(d.dlog, "", log.LstdFlags))
	b.SetProperty(PropNotify, d.doNotify)
	return d
}
