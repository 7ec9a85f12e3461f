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
	"time"

	"github.com/deploykit/deploykit"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader carries the etag a long poll should wait against.
	PollEtagHeader = "X-Deploykit-Etag"

	// PollTimeHeader carries the maximum seconds a long poll may block.
	PollTimeHeader = "X-Deploykit-Wait"
)

var ok struct{}

// DeploymentInfo is the wire representation of one deployment's state.
type DeploymentInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Mode        string    `json:"mode"`
	Enabled     bool      `json:"enabled"`
	Running     bool      `json:"running"`
	Failed      bool      `json:"failed"`
	Provides    []string  `json:"provides"`
	Depends     []string  `json:"depends"`
	Conflicts   []string  `json:"conflicts"`
	Status      string    `json:"status"`
	TimeStamp   time.Time `json:"tstamp"`

	etag string
}

// ManagerInfo is the wire representation of the manager itself.
type ManagerInfo struct {
	Name       string    `json:"name"`
	Serial     int64     `json:"serial,string"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`

	etag string
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// LogRecord is the wire form of a log entry; it is the same shape the
// manager stores, so it aliases that type directly.
type LogRecord = deploykit.LogRecord
