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
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestHTTPCheck(t *testing.T) {
	Convey("HTTPCheck", t, func() {
		var healthy atomic.Bool
		healthy.Store(true)
		srv := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				if healthy.Load() {
					w.WriteHeader(http.StatusOK)
					return
				}
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
		Reset(srv.Close)

		ctx := context.Background()
		c := NewHTTPCheck(srv.URL + "/ready")
		c.Threshold = 3

		Convey("Healthy endpoint passes", func() {
			So(c.Check(ctx), ShouldBeNil)
			So(c.Failures(), ShouldEqual, 0)
		})

		Convey("Single failures are tolerated", func() {
			healthy.Store(false)
			So(c.Check(ctx), ShouldBeNil)
			So(c.Check(ctx), ShouldBeNil)
			So(c.Failures(), ShouldEqual, 2)

			Convey("Threshold trips the check", func() {
				e := c.Check(ctx)
				So(e, ShouldNotBeNil)
				So(errors.Is(e, ErrNotHealthy), ShouldBeTrue)
			})

			Convey("Recovery resets the count", func() {
				healthy.Store(true)
				So(c.Check(ctx), ShouldBeNil)
				So(c.Failures(), ShouldEqual, 0)
			})

			Convey("Reset clears the count", func() {
				c.Reset()
				So(c.Failures(), ShouldEqual, 0)
			})
		})

		Convey("Unreachable endpoint counts as failure", func() {
			u := NewHTTPCheck("http://127.0.0.1:1/health")
			u.Threshold = 1
			e := u.Check(ctx)
			So(e, ShouldNotBeNil)
			So(errors.Is(e, ErrNotHealthy), ShouldBeTrue)
		})
	})
}
