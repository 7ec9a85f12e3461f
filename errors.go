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
	"errors"
)

var (
	ErrNoManager    = errors.New("no manager for deployment")
	ErrConflict     = errors.New("conflicting deployment enabled")
	ErrIsEnabled    = errors.New("deployment is enabled")
	ErrNotRunning   = errors.New("deployment is not running")
	ErrIsRunning    = errors.New("deployment is running")
	ErrBadPropType  = errors.New("bad property type")
	ErrBadPropName  = errors.New("bad property name")
	ErrBadPropValue = errors.New("bad property value")
	ErrPropReadOnly = errors.New("property not changeable")
	ErrRateLimited  = errors.New("restarting too quickly")
	ErrUnknownMode  = errors.New("unknown deployment mode")
	ErrToolNotFound = errors.New("required tool not found in PATH")
	ErrNotHealthy   = errors.New("health check failed")
)
