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
	"net/http"
	"sync"
	"time"
)

// HTTPCheck probes an application health endpoint (such as /health or
// /ready) over HTTP.  A probe succeeds when the endpoint answers with a
// 2xx status.  To avoid flapping on a single dropped request, the check
// only reports failure after Threshold consecutive probe failures.
type HTTPCheck struct {
	URL       string        // endpoint to probe
	Timeout   time.Duration // per probe, default 5s
	Threshold int           // consecutive failures before fault, default 3

	client      *http.Client
	mu          sync.Mutex
	failures    int
	lastErr     error
	lastSuccess time.Time
	lastFailure time.Time
}

// NewHTTPCheck returns an HTTPCheck for the given URL with defaults.
func NewHTTPCheck(url string) *HTTPCheck {
	return &HTTPCheck{URL: url}
}

func (c *HTTPCheck) probe(ctx context.Context) error {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = time.Second * 5
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, e := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if e != nil {
		return e
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%s: %s", c.URL, res.Status)
	}
	return nil
}

// Check runs one probe and folds the result into the consecutive failure
// count.  It returns nil while the count is below Threshold.
func (c *HTTPCheck) Check(ctx context.Context) error {
	e := c.probe(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e == nil {
		c.failures = 0
		c.lastErr = nil
		c.lastSuccess = time.Now()
		return nil
	}
	c.failures++
	c.lastErr = e
	c.lastFailure = time.Now()
	threshold := c.Threshold
	if threshold == 0 {
		threshold = 3
	}
	if c.failures < threshold {
		return nil
	}
	return fmt.Errorf("%w: %d consecutive failures, last: %v",
		ErrNotHealthy, c.failures, e)
}

// Failures returns the current consecutive failure count.
func (c *HTTPCheck) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Reset clears the failure history, e.g. after a restart.
func (c *HTTPCheck) Reset() {
	c.mu.Lock()
	c.failures = 0
	c.lastErr = nil
	c.mu.Unlock()
}
