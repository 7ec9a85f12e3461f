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

// Command deploykitd is the deployment supervisor daemon.  It loads
// deployment manifests, keeps the described deployments alive, and
// exposes a REST control interface for the deploykit client.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/net/netutil"

	"github.com/deploykit/deploykit"
	"github.com/deploykit/deploykit/rest"
)

var (
	addr    = "127.0.0.1:8321"
	dir     = "."
	name    = "deploykitd"
	enable  = true
	passwd  = ""
	maxConn = 100
)

// loadDeployments reads every manifest under the deployments directory
// and registers the deployments it doesn't already know about.  It
// returns the names it added.
func loadDeployments(m *deploykit.Manager, dir string) []string {
	var added []string
	manifests, e := deploykit.LoadManifests(dir)
	if e != nil {
		log.Printf("Failed to scan deployments: %v", e)
		return nil
	}
	known := make(map[string]bool)
	deps, _, _ := m.Deployments()
	for _, d := range deps {
		known[d.Name()] = true
	}
	for _, mf := range manifests {
		if known[mf.Name] {
			continue
		}
		d, e := deploykit.NewDeploymentFromManifest(mf)
		if e != nil {
			log.Printf("Failed to load manifest %s: %v",
				mf.Name, e)
			continue
		}
		m.AddDeployment(d)
		added = append(added, d.Name())
	}
	return added
}

// watchManifests picks up manifests dropped into the directory while
// the daemon runs.  Removal or editing of an existing manifest does not
// touch a live deployment; that requires operator action.
func watchManifests(m *deploykit.Manager, dir string, enable bool) {
	w, e := fsnotify.NewWatcher()
	if e != nil {
		log.Printf("Manifest watching disabled: %v", e)
		return
	}
	if e = w.Add(dir); e != nil {
		log.Printf("Manifest watching disabled: %v", e)
		w.Close()
		return
	}
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) &&
					!ev.Has(fsnotify.Write) {
					continue
				}
				ext := filepath.Ext(ev.Name)
				if ext != ".yaml" && ext != ".yml" {
					continue
				}
				for _, n := range loadDeployments(m, dir) {
					log.Printf("Loaded deployment %s", n)
					if !enable {
						continue
					}
					for _, d := range m.FindDeployments(n) {
						d.Enable()
					}
				}
			case e, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("Manifest watcher: %v", e)
			}
		}
	}()
}

// loadAuth reads a "user:bcrypt-hash" credentials file.
func loadAuth(h *rest.Handler, path string) error {
	b, e := os.ReadFile(path)
	if e != nil {
		return e
	}
	line := strings.TrimSpace(string(b))
	user, hash, found := strings.Cut(line, ":")
	if !found || user == "" || hash == "" {
		return fmt.Errorf("%s: want user:bcrypt-hash", path)
	}
	h.SetAuth(user, []byte(hash))
	return nil
}

func main() {
	flag.StringVar(&addr, "a", addr, "listen address")
	flag.StringVar(&dir, "d", dir, "deployments directory")
	flag.StringVar(&name, "n", name, "manager name")
	flag.BoolVar(&enable, "e", enable, "enable all deployments")
	flag.StringVar(&passwd, "p", passwd, "credentials file (user:bcrypt-hash)")
	flag.IntVar(&maxConn, "m", maxConn, "max simultaneous connections")
	flag.Parse()

	m := deploykit.NewManager(name)

	depDir := filepath.Join(dir, "deployments")
	if _, e := os.Stat(depDir); e != nil {
		// flat layout: manifests directly in -d
		depDir = dir
	}
	loadDeployments(m, depDir)

	if enable {
		deps, _, _ := m.Deployments()
		for _, d := range deps {
			if e := d.Enable(); e != nil {
				log.Printf("Failed to enable %s: %v",
					d.Name(), e)
			}
		}
	}
	m.StartMonitoring()
	watchManifests(m, depDir, enable)

	h := rest.NewHandler(m)
	if passwd != "" {
		if e := loadAuth(h, passwd); e != nil {
			log.Fatalf("Failed to load credentials: %v", e)
		}
	}

	l, e := net.Listen("tcp", addr)
	if e != nil {
		log.Fatalf("Failed to listen on %s: %v", addr, e)
	}
	l = netutil.LimitListener(l, maxConn)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		log.Fatal(http.Serve(l, h))
	}()

	// Wait for a termination signal, and shutdown cleanly if we get it.
	<-sigs
	m.Shutdown()
	os.Exit(1)
}
