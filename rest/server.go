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

package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/deploykit/deploykit"
)

// Handler wraps a Manager, adding http.Handler functionality.
//
// GET handlers set an Etag, honor If-None-Match, and support long polls:
// a client that supplies the poll headers blocks until the resource
// changes from the given etag or the wait expires.
type Handler struct {
	m *deploykit.Manager
	r *mux.Router

	user string
	hash []byte // bcrypt hash of the password; nil disables auth
}

// SetAuth enables HTTP basic authentication.  The password is supplied
// as a bcrypt hash, so that plaintext never needs to live in config.
func (h *Handler) SetAuth(user string, hash []byte) {
	h.user = user
	h.hash = hash
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.hash == nil {
		return true
	}
	user, pass, got := r.BasicAuth()
	if !got || user != h.user {
		return false
	}
	return bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) == nil
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, etag string, v interface{}) {
	b, e := json.Marshal(v)
	if e != nil {
		h.internalError(w, e)
		return
	}
	if etag != "" {
		w.Header().Set("Etag", etag)
	}
	w.Header().Set("Content-Type", mimeJson)
	w.Write(b)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	b, err := json.Marshal(e)
	if err != nil {
		h.internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	w.WriteHeader(e.Code)
	w.Write(b)
}

// pollWait extracts the long poll duration the client asked for, capped
// at five minutes.  Zero means no blocking.
func pollWait(r *http.Request) (string, time.Duration) {
	etag := r.Header.Get(PollEtagHeader)
	if etag == "" {
		return "", 0
	}
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if e != nil || secs <= 0 {
		return etag, 0
	}
	if secs > 300 {
		secs = 300
	}
	return etag, time.Duration(secs) * time.Second
}

// notModified finishes the request with 304 when the client's cached
// etag is still current.
func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	if etag != "" && r.Header.Get("If-None-Match") == etag {
		w.Header().Set("Etag", etag)
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

func (h *Handler) getManager(w http.ResponseWriter, r *http.Request) {
	if etag, wait := pollWait(r); wait > 0 {
		if old, e := strconv.ParseInt(etag, 10, 64); e == nil {
			h.m.WatchSerial(old, wait)
		}
	}
	mi := h.m.GetInfo()
	info := &ManagerInfo{
		Name:       mi.Name,
		Serial:     mi.Serial,
		CreateTime: mi.CreateTime,
		UpdateTime: mi.UpdateTime,
	}
	etag := strconv.FormatInt(mi.Serial, 10)
	if notModified(w, r, etag) {
		return
	}
	h.writeJson(w, etag, info)
}

func (h *Handler) listDeployments(w http.ResponseWriter, r *http.Request) {
	if etag, wait := pollWait(r); wait > 0 {
		if old, e := strconv.ParseInt(etag, 10, 64); e == nil {
			h.m.WatchDeployments(old, wait)
		}
	}
	deps, sn, _ := h.m.Deployments()
	l := make([]string, 0, len(deps))
	for _, d := range deps {
		l = append(l, d.Name())
	}
	etag := strconv.FormatInt(sn, 10)
	if notModified(w, r, etag) {
		return
	}
	h.writeJson(w, etag, l)
}

func (h *Handler) findDeployment(name string) (*deploykit.Deployment, *Error) {
	deps, _, _ := h.m.Deployments()
	for _, d := range deps {
		if d.Name() == name {
			return d, nil
		}
	}
	return nil, &Error{http.StatusNotFound, "Deployment not found"}
}

func (h *Handler) getDeployment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if etag, wait := pollWait(r); wait > 0 {
		if old, e := strconv.ParseInt(etag, 10, 64); e == nil {
			h.m.WatchSerial(old, wait)
		}
	}
	d, e := h.findDeployment(name)
	if e != nil {
		h.writeError(w, e)
		return
	}
	info := &DeploymentInfo{
		Name:        d.Name(),
		Description: d.Description(),
		Mode:        string(d.Mode()),
		Enabled:     d.Enabled(),
		Running:     d.Running(),
		Failed:      d.Failed(),
		Provides:    d.Provides(),
		Depends:     d.Depends(),
		Conflicts:   d.Conflicts(),
	}
	info.Status, info.TimeStamp = d.Status()
	// Any state change bumps the manager serial, so it doubles as the
	// per-deployment etag.
	etag := strconv.FormatInt(h.m.Serial(), 10)
	if notModified(w, r, etag) {
		return
	}
	h.writeJson(w, etag, info)
}

// action wraps the POST verbs that all share lookup and error shaping.
func (h *Handler) action(fn func(*deploykit.Deployment) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		d, e := h.findDeployment(name)
		if e != nil {
			h.writeError(w, e)
			return
		}
		if err := fn(d); err != nil {
			h.writeError(w,
				&Error{http.StatusBadRequest, err.Error()})
			return
		}
		h.writeJson(w, "", ok)
	}
}

func (h *Handler) getDeploymentLog(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	d, e := h.findDeployment(name)
	if e != nil {
		h.writeError(w, e)
		return
	}
	if etag, wait := pollWait(r); wait > 0 {
		if old, err := strconv.ParseInt(etag, 10, 64); err == nil {
			d.WatchLog(old, wait)
		}
	}
	recs, id := d.GetLog(0)
	etag := strconv.FormatInt(id, 10)
	if notModified(w, r, etag) {
		return
	}
	h.writeJson(w, etag, recs)
}

func (h *Handler) checkDeployment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	d, e := h.findDeployment(name)
	if e != nil {
		h.writeError(w, e)
		return
	}
	if err := d.Check(); err != nil {
		h.writeError(w,
			&Error{http.StatusServiceUnavailable, err.Error()})
		return
	}
	h.writeJson(w, "", ok)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	if etag, wait := pollWait(r); wait > 0 {
		if old, e := strconv.ParseInt(etag, 10, 64); e == nil {
			h.m.WatchLog(old, wait)
		}
	}
	recs, id := h.m.GetLog(0)
	etag := strconv.FormatInt(id, 10)
	if notModified(w, r, etag) {
		return
	}
	h.writeJson(w, etag, recs)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !h.authorized(req) {
		w.Header().Set("WWW-Authenticate",
			`Basic realm="deploykit"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.r.ServeHTTP(w, req)
}

func NewHandler(m *deploykit.Manager) *Handler {
	r := mux.NewRouter()
	h := &Handler{m: m, r: r}
	r.HandleFunc("/", h.getManager).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/deployments", h.listDeployments).Methods("GET")
	r.HandleFunc("/deployments/{name}", h.getDeployment).Methods("GET")
	r.HandleFunc("/deployments/{name}/install",
		h.action(func(d *deploykit.Deployment) error {
			return d.Install()
		})).Methods("POST")
	r.HandleFunc("/deployments/{name}/start",
		h.action(func(d *deploykit.Deployment) error {
			return d.Enable()
		})).Methods("POST")
	r.HandleFunc("/deployments/{name}/stop",
		h.action(func(d *deploykit.Deployment) error {
			return d.Disable()
		})).Methods("POST")
	r.HandleFunc("/deployments/{name}/restart",
		h.action(func(d *deploykit.Deployment) error {
			return d.Restart()
		})).Methods("POST")
	r.HandleFunc("/deployments/{name}/clear",
		h.action(func(d *deploykit.Deployment) error {
			d.Clear()
			return nil
		})).Methods("POST")
	r.HandleFunc("/deployments/{name}/cleanup",
		h.action(func(d *deploykit.Deployment) error {
			return d.Cleanup()
		})).Methods("POST")
	r.HandleFunc("/deployments/{name}/health",
		h.checkDeployment).Methods("GET")
	r.HandleFunc("/deployments/{name}/log",
		h.getDeploymentLog).Methods("GET")
	return h
}
