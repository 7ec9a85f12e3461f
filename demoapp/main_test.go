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

package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func newTestServer(t *testing.T, debug bool) *httptest.Server {
	db, e := sql.Open("sqlite3", ":memory:")
	if e != nil {
		t.Fatalf("open database: %v", e)
	}
	if _, e = db.Exec(schema); e != nil {
		t.Fatalf("create schema: %v", e)
	}
	s := &server{name: "Test App", debug: debug, db: db}
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { db.Close() })
	return srv
}

func getJson(t *testing.T, url string, v interface{}) int {
	res, e := http.Get(url)
	if e != nil {
		t.Fatalf("get %s: %v", url, e)
	}
	defer res.Body.Close()
	if v != nil {
		if e = json.NewDecoder(res.Body).Decode(v); e != nil {
			t.Fatalf("decode %s: %v", url, e)
		}
	}
	return res.StatusCode
}

func TestEndpoints(t *testing.T) {
	Convey("Given a running app", t, func() {
		srv := newTestServer(t, false)

		Convey("health reports healthy", func() {
			v := map[string]string{}
			So(getJson(t, srv.URL+"/health", &v),
				ShouldEqual, http.StatusOK)
			So(v["status"], ShouldEqual, "healthy")
			So(v["version"], ShouldEqual, version)
		})

		Convey("ready pings the database", func() {
			v := map[string]string{}
			So(getJson(t, srv.URL+"/ready", &v),
				ShouldEqual, http.StatusOK)
			So(v["database"], ShouldEqual, "connected")
		})

		Convey("root greets by name", func() {
			v := map[string]string{}
			So(getJson(t, srv.URL+"/", &v),
				ShouldEqual, http.StatusOK)
			So(v["message"], ShouldContainSubstring, "Test App")
		})

		Convey("env is debug gated", func() {
			So(getJson(t, srv.URL+"/env", nil),
				ShouldEqual, http.StatusForbidden)
		})

		Convey("info reports the version", func() {
			v := map[string]string{}
			So(getJson(t, srv.URL+"/info", &v),
				ShouldEqual, http.StatusOK)
			So(v["version"], ShouldEqual, version)
		})
	})

	Convey("With debug enabled env opens up", t, func() {
		srv := newTestServer(t, true)
		v := map[string]interface{}{}
		So(getJson(t, srv.URL+"/env", &v),
			ShouldEqual, http.StatusOK)
		So(v["debug"], ShouldEqual, true)
	})
}

func TestItemCRUD(t *testing.T) {
	Convey("Given a running app", t, func() {
		srv := newTestServer(t, false)

		create := func(body string) (*http.Response, error) {
			return http.Post(srv.URL+"/items",
				"application/json", bytes.NewBufferString(body))
		}

		Convey("items can be created and fetched", func() {
			res, e := create(`{"name": "widget",
				"price": 9.99, "category": "tools"}`)
			So(e, ShouldBeNil)
			defer res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusCreated)
			got := &item{}
			So(json.NewDecoder(res.Body).Decode(got), ShouldBeNil)
			So(got.Id, ShouldBeGreaterThan, 0)

			one := &item{}
			So(getJson(t, srv.URL+"/items/1", one),
				ShouldEqual, http.StatusOK)
			So(one.Name, ShouldEqual, "widget")
			So(one.Price, ShouldEqual, 9.99)
			So(one.Description, ShouldBeNil)

			list := []*item{}
			So(getJson(t, srv.URL+"/items", &list),
				ShouldEqual, http.StatusOK)
			So(list, ShouldHaveLength, 1)
		})

		Convey("missing fields are rejected", func() {
			res, e := create(`{"price": 1}`)
			So(e, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual,
				http.StatusUnprocessableEntity)
		})

		Convey("items can be updated and deleted", func() {
			res, e := create(`{"name": "widget",
				"price": 9.99, "category": "tools"}`)
			So(e, ShouldBeNil)
			res.Body.Close()

			body := bytes.NewBufferString(`{"name": "gadget",
				"price": 19.99, "category": "tools"}`)
			req, e := http.NewRequest("PUT",
				srv.URL+"/items/1", body)
			So(e, ShouldBeNil)
			res, e = http.DefaultClient.Do(req)
			So(e, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusOK)

			one := &item{}
			So(getJson(t, srv.URL+"/items/1", one),
				ShouldEqual, http.StatusOK)
			So(one.Name, ShouldEqual, "gadget")

			req, e = http.NewRequest("DELETE",
				srv.URL+"/items/1", nil)
			So(e, ShouldBeNil)
			res, e = http.DefaultClient.Do(req)
			So(e, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual,
				http.StatusNoContent)

			So(getJson(t, srv.URL+"/items/1", nil),
				ShouldEqual, http.StatusNotFound)
		})

		Convey("unknown items are not found", func() {
			So(getJson(t, srv.URL+"/items/99", nil),
				ShouldEqual, http.StatusNotFound)
			req, _ := http.NewRequest("DELETE",
				srv.URL+"/items/99", nil)
			res, e := http.DefaultClient.Do(req)
			So(e, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusNotFound)
		})

		Convey("pagination trims the listing", func() {
			for i := 0; i < 5; i++ {
				res, e := create(`{"name": "widget",
					"price": 1, "category": "tools"}`)
				So(e, ShouldBeNil)
				res.Body.Close()
			}
			list := []*item{}
			So(getJson(t, srv.URL+"/items?skip=1&limit=2", &list),
				ShouldEqual, http.StatusOK)
			So(list, ShouldHaveLength, 2)
		})
	})
}
