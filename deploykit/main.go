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

// Command deploykit implements a client application that communicates
// with deploykitd.  It uses subcommands.
//
// The flags are
//
//	-a <address>	- select the daemon address, default is
//			  http://localhost:8321
//	-u <user:pass>	- user name & password for basic auth
//
// Subcommands are
//
//	deployments          - list all deployments
//	status [<name> ...]  - show status for the named deployments (or all)
//	info <name>          - show more detailed deployment info
//	install <name>       - install the named deployment
//	start <name>         - start the named deployment
//	stop <name>          - stop the named deployment
//	restart <name>       - restart the named deployment
//	clear <name>         - clear a fault on the named deployment
//	cleanup <name>       - remove the named deployment's resources
//	health <name>        - run the named deployment's health check
//	log [<name>]         - obtain the log for the named deployment
//
// With no subcommand, an interactive terminal UI is started.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/deploykit/deploykit/deploykit/util"
	"github.com/deploykit/deploykit/rest"
)

var addr string = "http://127.0.0.1:8321"
var auth string = ""

func usage() {
	log.Fatalf("Usage: %s [-a <address>] [-u <user:pass>] <subcommand>",
		os.Args[0])
}

func showStatus(d *rest.DeploymentInfo) {
	e := time.Since(d.TimeStamp)
	// for printing second resolution is sufficient
	e -= e % time.Second
	fmt.Printf("%12s %8s %10s %10s %s\n", d.Name,
		d.Mode, util.Status(d), e.String(), d.Status)
}

func showList(l []string) {
	for _, s := range l {
		fmt.Printf(" %s", s)
	}
	fmt.Printf("\n")
}

func main() {
	flag.StringVar(&addr, "a", addr, "deploykitd address")
	flag.StringVar(&auth, "u", auth, "user:pass authentication")
	flag.Parse()

	client := rest.NewClient(nil, addr)
	if auth != "" {
		a := strings.SplitN(auth, ":", 2)
		if len(a) != 2 {
			log.Fatalf("Bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"ui"}
	}

	switch args[0] {
	case "deployments":
		if len(args) != 1 {
			usage()
		}
		l, e := client.Deployments()
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		sort.Strings(l)
		for _, name := range l {
			fmt.Println(name)
		}
	case "install":
		if len(args) != 2 {
			usage()
		}
		if e := client.InstallDeployment(args[1]); e != nil {
			log.Fatalf("Failed: %v", e)
		}
	case "start":
		if len(args) != 2 {
			usage()
		}
		if e := client.StartDeployment(args[1]); e != nil {
			log.Fatalf("Failed: %v", e)
		}
	case "stop":
		if len(args) != 2 {
			usage()
		}
		if e := client.StopDeployment(args[1]); e != nil {
			log.Fatalf("Failed: %v", e)
		}
	case "restart":
		if len(args) != 2 {
			usage()
		}
		if e := client.RestartDeployment(args[1]); e != nil {
			log.Fatalf("Failed: %v", e)
		}
	case "clear":
		if len(args) != 2 {
			usage()
		}
		if e := client.ClearDeployment(args[1]); e != nil {
			log.Fatalf("Failed: %v", e)
		}
	case "cleanup":
		if len(args) != 2 {
			usage()
		}
		if e := client.CleanupDeployment(args[1]); e != nil {
			log.Fatalf("Failed: %v", e)
		}
	case "health":
		if len(args) != 2 {
			usage()
		}
		if e := client.CheckDeployment(args[1]); e != nil {
			fmt.Printf("unhealthy: %v\n", e)
			os.Exit(1)
		}
		fmt.Println("healthy")
	case "log":
		name := ""
		switch len(args) {
		case 1:
		case 2:
			name = args[1]
		default:
			usage()
		}
		l, e := client.GetLog(name)
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		for _, rec := range l.Records {
			fmt.Printf("%s %s\n",
				rec.Time.Format(time.StampMilli), rec.Text)
		}
	case "info":
		if len(args) != 2 {
			usage()
		}
		d, e := client.GetDeployment(args[1])
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		fmt.Printf("Name:      %s\n", d.Name)
		fmt.Printf("Desc:      %s\n", d.Description)
		fmt.Printf("Mode:      %s\n", d.Mode)
		fmt.Printf("Status:    %s\n", util.Status(d))
		fmt.Printf("Since:     %v\n", time.Since(d.TimeStamp))
		fmt.Printf("Detail:    %s\n", d.Status)
		fmt.Printf("Provides: ")
		showList(d.Provides)
		fmt.Printf("Depends:  ")
		showList(d.Depends)
		fmt.Printf("Conflicts:")
		showList(d.Conflicts)
	case "status":
		names := args[1:]
		var e error
		if len(names) == 0 {
			names, e = client.Deployments()
			if e != nil {
				log.Fatalf("Failed: %v", e)
			}
		}
		if len(names) == 0 {
			return
		}
		infos := []*rest.DeploymentInfo{}
		for _, n := range names {
			info, e := client.GetDeployment(n)
			if e == nil {
				infos = append(infos, info)
			} else {
				log.Printf("Failed: %v", e)
			}
		}
		util.SortDeployments(infos)
		for _, info := range infos {
			showStatus(info)
		}
	case "ui":
		doUI(client, addr)
	default:
		usage()
	}
}
