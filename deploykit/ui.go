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
	"github.com/deploykit/deploykit/deploykit/ui"
	"github.com/deploykit/deploykit/rest"
)

func doUI(client *rest.Client, url string) {
	app := ui.NewApp(client, url)
	app.Run()
}

/*
   Our screen has the following appearance:

    Server: http://localhost:8321/
    xxx Deployments  xxx Running  yyy Faulted  zzz Standby      Deploykit v1.0
   ____________________________________________________________________________
   ...
   demoapp:web          docker    faulted      4d10m32s    Failed: Terminated
   ...
   demoapp:db           compose   running            5s    Deployment started
   ...
   dontrunme:ever       process   disabled    132d10m5s    Deployment disabled
   ...
   ____________________________________________________________________________
   [Q]uit [I]Info [S]tart [X]Stop [R]estart [C]lear [L]og  [H]elp
*/
