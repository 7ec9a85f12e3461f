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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so that manifests can say "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if e := node.Decode(&s); e != nil {
		return e
	}
	v, e := time.ParseDuration(s)
	if e != nil {
		return fmt.Errorf("bad duration %q: %w", s, e)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// HealthManifest describes the HTTP health probe for a deployment.
type HealthManifest struct {
	URL       string   `yaml:"url"`
	Timeout   Duration `yaml:"timeout"`
	Threshold int      `yaml:"threshold"`
}

// DockerManifest holds the container runtime settings for docker mode.
type DockerManifest struct {
	Image       string   `yaml:"image"`
	Build       string   `yaml:"build"` // build context dir, empty = pull
	Dockerfile  string   `yaml:"dockerfile"`
	Container   string   `yaml:"container"`
	Ports       []string `yaml:"ports"`
	Volumes     []string `yaml:"volumes"`
	Network     string   `yaml:"network"`
	Args        []string `yaml:"args"`
	RemoveImage bool     `yaml:"removeImage"`
	Tool        string   `yaml:"tool"`
}

// ComposeManifest holds the compose CLI settings for compose mode.
type ComposeManifest struct {
	File         string   `yaml:"file"`
	Project      string   `yaml:"project"`
	Services     []string `yaml:"services"`
	Build        bool     `yaml:"build"`
	RemoveImages bool     `yaml:"removeImages"`
	Tool         string   `yaml:"tool"`
}

// Manifest is the YAML description of one deployment.  A manifest file
// may contain several manifests as separate YAML documents.
type Manifest struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Mode        string            `yaml:"mode"`
	Command     []string          `yaml:"command"`
	Install     []string          `yaml:"install"`
	StopCmd     []string          `yaml:"stopCommand"`
	CleanupCmd  []string          `yaml:"cleanupCommand"`
	Directory   string            `yaml:"directory"`
	Env         map[string]string `yaml:"env"`
	Docker      DockerManifest    `yaml:"docker"`
	Compose     ComposeManifest   `yaml:"compose"`
	Health      HealthManifest    `yaml:"health"`
	StopTime    Duration          `yaml:"stopTime"`
	FailOnExit  bool              `yaml:"failOnExit"`
	Restart     bool              `yaml:"restart"`
	Provides    []string          `yaml:"provides"`
	Depends     []string          `yaml:"depends"`
	Conflicts   []string          `yaml:"conflicts"`
}

func (m *Manifest) health() *HTTPCheck {
	if m.Health.URL == "" {
		return nil
	}
	h := NewHTTPCheck(m.Health.URL)
	h.Timeout = m.Health.Timeout.Std()
	h.Threshold = m.Health.Threshold
	return h
}

// NewDeploymentFromManifest builds a Deployment from a manifest.
func NewDeploymentFromManifest(m *Manifest) (*Deployment, error) {
	if m.Name == "" {
		return nil, errors.New("manifest is missing a name")
	}
	mode, e := ParseMode(m.Mode)
	if e != nil {
		return nil, fmt.Errorf("%s: %w: %q", m.Name, e, m.Mode)
	}

	var back Backend
	switch mode {
	case ModeProcess:
		if len(m.Command) == 0 {
			return nil, fmt.Errorf(
				"%s: process mode needs a command", m.Name)
		}
		p := NewProcessBackend(m.Name, m.Command)
		p.SetInstallCommand(m.Install)
		p.SetStopCommand(m.StopCmd)
		p.SetCleanupCommand(m.CleanupCmd)
		p.SetDir(m.Directory)
		p.SetEnv(m.Env)
		p.SetHealth(m.health())
		p.failOnExit = m.FailOnExit
		if m.StopTime != 0 {
			p.stopTime = m.StopTime.Std()
		}
		p.provides = m.Provides
		p.depends = m.Depends
		p.conflicts = m.Conflicts
		back = p

	case ModeDocker:
		if m.Docker.Image == "" {
			return nil, fmt.Errorf(
				"%s: docker mode needs an image", m.Name)
		}
		b := NewDockerBackend(m.Name, m.Docker.Image)
		if m.Docker.Tool != "" {
			b.SetTool(m.Docker.Tool)
		}
		if m.Docker.Container != "" {
			b.SetContainerName(m.Docker.Container)
		}
		b.SetBuild(m.Docker.Build, m.Docker.Dockerfile)
		b.SetPorts(m.Docker.Ports)
		b.SetVolumes(m.Docker.Volumes)
		b.SetNetwork(m.Docker.Network)
		b.SetEnv(m.Env)
		b.SetExtraArgs(m.Docker.Args)
		b.SetRemoveImage(m.Docker.RemoveImage)
		b.SetHealth(m.health())
		b.provides = m.Provides
		b.depends = m.Depends
		b.conflicts = m.Conflicts
		back = b

	case ModeCompose:
		if m.Compose.File == "" {
			return nil, fmt.Errorf(
				"%s: compose mode needs a file", m.Name)
		}
		b := NewComposeBackend(m.Name, m.Compose.File)
		if m.Compose.Tool != "" {
			b.SetTool(m.Compose.Tool)
		}
		b.SetProject(m.Compose.Project)
		b.SetServices(m.Compose.Services)
		b.SetBuild(m.Compose.Build)
		b.SetRemoveImages(m.Compose.RemoveImages)
		b.SetHealth(m.health())
		b.provides = m.Provides
		b.depends = m.Depends
		b.conflicts = m.Conflicts
		back = b
	}

	d := NewDeployment(back)
	if m.Description != "" {
		d.desc = m.Description
	}
	d.restart = m.Restart
	return d, nil
}

// LoadManifest reads a single manifest from r.
func LoadManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	dec := yaml.NewDecoder(r)
	if e := dec.Decode(m); e != nil {
		return nil, e
	}
	return m, nil
}

// readManifestFile reads all YAML documents in one file.
func readManifestFile(path string) ([]*Manifest, error) {
	f, e := os.Open(path)
	if e != nil {
		return nil, e
	}
	defer f.Close()

	var ms []*Manifest
	dec := yaml.NewDecoder(f)
	for {
		m := &Manifest{}
		e := dec.Decode(m)
		if errors.Is(e, io.EOF) {
			break
		}
		if e != nil {
			return nil, fmt.Errorf("%s: %w", path, e)
		}
		ms = append(ms, m)
	}
	return ms, nil
}

// LoadManifests loads manifests from a file or from every .yaml/.yml
// file in a directory.  Files are processed in name order so that the
// result is deterministic.
func LoadManifests(path string) ([]*Manifest, error) {
	fi, e := os.Stat(path)
	if e != nil {
		return nil, e
	}
	if !fi.IsDir() {
		return readManifestFile(path)
	}

	entries, e := os.ReadDir(path)
	if e != nil {
		return nil, e
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(ent.Name())) {
		case ".yaml", ".yml":
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	var ms []*Manifest
	for _, name := range names {
		fms, e := readManifestFile(filepath.Join(path, name))
		if e != nil {
			return nil, e
		}
		ms = append(ms, fms...)
	}
	return ms, nil
}
