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

// Package deploykit provides lifecycle management for web application
// deployments.  It is glue over existing tools: an application can be
// launched directly as a process, as a single container, or as a compose
// project, and in every case the heavy lifting stays with the external
// tool (the operating system, the container runtime CLI, or the compose
// CLI).  Deploykit only sequences calls to those tools, interprets their
// output, and layers uniform install/start/stop/restart/status/health/
// cleanup operations on top.
//
// A Manager owns a set of Deployments.  Each Deployment wraps a Backend
// (one of the three modes above, or anything else implementing the
// interface), tracks its state, monitors its health in the background,
// and optionally self-heals on failure.  Deployments can depend on and
// conflict with one another; the same application described in several
// modes conflicts with itself, keeping the modes mutually exclusive.
//
// The manager may be exposed over HTTP using Go's handler framework; see
// the rest subpackage and the deploykitd daemon.
package deploykit
