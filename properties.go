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

// Property names.  Internal names all start with an underscore.  Backends
// may define additional, backend specific names.  There is no provision
// for property discovery; consumers must know the property name and type.
type PropertyName string

const (
	PropLogger      PropertyName = "_Logger"      // Where logs get sent
	PropRestart     PropertyName = "_Restart"     // Auto-restart on failure
	PropRateLimit   PropertyName = "_RateLimit"   // Max starts per period
	PropRatePeriod  PropertyName = "_RatePeriod"  // Period for RateLimit
	PropName        PropertyName = "_Name"        // Deployment name
	PropDescription PropertyName = "_Description" // Deployment description
	PropDepends     PropertyName = "_Depends"     // Dependencies list
	PropConflicts   PropertyName = "_Conflicts"   // Conflicts list
	PropProvides    PropertyName = "_Provides"    // Provides list
	PropNotify      PropertyName = "_Notify"      // Notification callback
	PropOpTimeout   PropertyName = "_OpTimeout"   // Timeout for backend ops
)
