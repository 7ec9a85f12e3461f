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
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogInfo carries a snapshot of log records together with the etag that
// identifies the snapshot for long polls.
type LogInfo struct {
	name    string
	etag    string
	Records []LogRecord
}

// Client speaks to a deploykit daemon over its REST interface.  Results
// are cached by etag, so repeat lookups and long polls avoid moving data
// that has not changed.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client

	// Cached data
	manager     *ManagerInfo
	deployments map[string]*DeploymentInfo
	names       []string // deployment names
	etag        string   // etag for list of deployments
	logs        map[string]*LogInfo
	lock        sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(name string) string {
	if name == "" {
		return c.base + "/deployments"
	}
	return c.base + "/deployments/" + url.QueryEscape(name)
}

// Watch blocks until the manager's state moves past the given etag, or
// until the server side wait expires.  It returns the latest etag.
func (c *Client) Watch(ctx context.Context, etag string) (string, error) {
	var e error
	c.lock.Lock()
	if c.manager != nil && etag == "" {
		etag = c.manager.etag
		c.lock.Unlock()
		return etag, nil
	}
	c.lock.Unlock()

	minfo := &ManagerInfo{}
	if minfo.etag, e = c.poll(ctx, c.base, etag, 300, minfo); e != nil {
		return "", e
	}
	if minfo.etag != "" {
		c.lock.Lock()
		if c.manager == nil || c.manager.etag != minfo.etag {
			c.manager = minfo
		}
		c.lock.Unlock()
		etag = minfo.etag
	}
	return etag, nil
}

func (c *Client) pollDeployments(ctx context.Context, secs int) ([]string, error) {

	var e error
	v := []string{}

	c.lock.Lock()
	otag := c.etag
	etag := ""
	onames := c.names
	c.lock.Unlock()

	if etag, e = c.poll(ctx, c.url(""), otag, secs, &v); e != nil {
		return nil, e
	}
	if etag == "" || etag == otag {
		return onames, nil
	}
	deployments := make(map[string]*DeploymentInfo)

	c.lock.Lock()
	c.etag = etag
	c.names = v
	// keep the entries that survived the change
	for _, n := range v {
		if d, ok := c.deployments[n]; ok {
			deployments[n] = d
			delete(c.deployments, n)
		}
	}
	c.deployments = deployments
	c.lock.Unlock()

	return v, nil
}

// Deployments returns the list of deployment names the daemon manages.
func (c *Client) Deployments() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.pollDeployments(ctx, 0)
}

func (c *Client) pollDeployment(ctx context.Context, name string, secs int, last *DeploymentInfo) (*DeploymentInfo, error) {

	v := &DeploymentInfo{}
	c.lock.Lock()
	odep, ok := c.deployments[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != odep.etag {
		// The cache already moved past the caller's copy, so just
		// hand the cached value back.
		return odep, nil
	} else {
		otag = last.etag
	}

	etag, e := c.poll(ctx, c.url(name), otag, secs, v)
	if e != nil {
		c.lock.Lock()
		delete(c.deployments, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		return odep, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.deployments[name] = v
	c.lock.Unlock()
	return v, nil
}

func (c *Client) GetDeployment(name string) (*DeploymentInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.pollDeployment(ctx, name, 0, nil)
}

func (c *Client) WatchDeployment(ctx context.Context, name string, last *DeploymentInfo) (*DeploymentInfo, error) {
	return c.pollDeployment(ctx, name, 300, last)
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error
// will be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {

	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", &Error{Code: res.StatusCode, Message: res.Status}
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func (c *Client) post(url string) error {
	req, e := http.NewRequest("POST", url, strings.NewReader(""))
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain") // we don't really care
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		msg := res.Status
		body, _ := io.ReadAll(res.Body)
		re := &Error{}
		if json.Unmarshal(body, re) == nil && re.Message != "" {
			msg = re.Message
		}
		return &Error{Code: res.StatusCode, Message: msg}
	}
	return nil
}

func (c *Client) postDeployment(name string, action string) error {
	return c.post(c.url(name) + "/" + action)
}

func (c *Client) InstallDeployment(name string) error {
	return c.postDeployment(name, "install")
}

func (c *Client) StartDeployment(name string) error {
	return c.postDeployment(name, "start")
}

func (c *Client) StopDeployment(name string) error {
	return c.postDeployment(name, "stop")
}

func (c *Client) ClearDeployment(name string) error {
	return c.postDeployment(name, "clear")
}

func (c *Client) RestartDeployment(name string) error {
	return c.postDeployment(name, "restart")
}

func (c *Client) CleanupDeployment(name string) error {
	return c.postDeployment(name, "cleanup")
}

// CheckDeployment asks the daemon to run the deployment's health check.
// A nil return means healthy.
func (c *Client) CheckDeployment(name string) error {
	req, e := http.NewRequest("GET", c.url(name)+"/health", nil)
	if e != nil {
		return e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		msg := res.Status
		body, _ := io.ReadAll(res.Body)
		re := &Error{}
		if json.Unmarshal(body, re) == nil && re.Message != "" {
			msg = re.Message
		}
		return &Error{Code: res.StatusCode, Message: msg}
	}
	return nil
}

func (c *Client) pollLog(ctx context.Context, name string, secs int, last *LogInfo) (*LogInfo, error) {

	v := &LogInfo{name: name}

	c.lock.Lock()
	cached, ok := c.logs[name]
	c.lock.Unlock()

	otag := ""

	if last == nil {
		secs = 0
	} else if ok && last.etag != cached.etag {
		secs = 0
		otag = cached.etag
	} else {
		otag = last.etag
	}

	url := c.url(name) + "/log"
	if name == "" {
		url = c.base + "/log"
	}

	etag, e := c.poll(ctx, url, otag, secs, &v.Records)
	if e != nil {
		c.lock.Lock()
		delete(c.logs, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.logs[name] = v
	c.lock.Unlock()

	return v, nil
}

func (c *Client) WatchLog(ctx context.Context, name string, last *LogInfo) (*LogInfo, error) {

	// Let the poll wait for up to 300 secs (5 minutes).
	return c.pollLog(ctx, name, 300, last)
}

func (c *Client) GetLog(name string) (*LogInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.pollLog(ctx, name, 0, nil)
}

// NewClient returns a Client handle.  The transport may be nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	c := &Client{
		base:        baseURI,
		client:      &http.Client{Transport: t},
		logs:        make(map[string]*LogInfo),
		deployments: make(map[string]*DeploymentInfo),
	}
	return c
}
